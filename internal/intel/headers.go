package intel

import (
	"net/http"
	"strconv"

	"siteintel/pkg/types"
)

// HeaderGroup inventories the security-relevant response headers.
type HeaderGroup struct {
	HSTS               bool `json:"hsts"`
	CSP                bool `json:"csp"`
	XFrameOptions      bool `json:"x_frame_options"`
	XContentTypeNosift bool `json:"x_content_type_options"`
	ReferrerPolicy     bool `json:"referrer_policy"`
	Present            int  `json:"present"`
}

var securityHeaders = []struct {
	header string
	set    func(*HeaderGroup)
}{
	{"Strict-Transport-Security", func(g *HeaderGroup) { g.HSTS = true }},
	{"Content-Security-Policy", func(g *HeaderGroup) { g.CSP = true }},
	{"X-Frame-Options", func(g *HeaderGroup) { g.XFrameOptions = true }},
	{"X-Content-Type-Options", func(g *HeaderGroup) { g.XContentTypeNosift = true }},
	{"Referrer-Policy", func(g *HeaderGroup) { g.ReferrerPolicy = true }},
}

func (c *Collector) collectHeaders(in Input, reach *ReachabilityGroup, rec *recorder) *HeaderGroup {
	var headers http.Header
	if reach != nil {
		headers = reach.headers
	}
	if headers == nil && in.Homepage != nil {
		headers = in.Homepage.Headers
	}
	if headers == nil {
		return nil
	}

	group := &HeaderGroup{}
	for _, h := range securityHeaders {
		present := headers.Get(h.header) != ""
		if present {
			h.set(group)
			group.Present++
		}
		rec.add("security_headers", h.header, strconv.FormatBool(present), boolSeverity(!present, types.SeverityWarning))
	}
	return group
}
