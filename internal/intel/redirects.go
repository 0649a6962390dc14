package intel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"siteintel/pkg/types"
)

// RedirectGroup describes the HTTP redirect chain plus client-side
// redirects embedded in the final page.
type RedirectGroup struct {
	Hops        []string `json:"hops"`
	CrossDomain bool     `json:"cross_domain"`
	MetaRefresh bool     `json:"meta_refresh"`
	JSRedirect  bool     `json:"js_redirect"`
	FinalURL    string   `json:"final_url"`
}

const maxRedirectHops = 10

var jsRedirectRe = regexp.MustCompile(`(?i)(?:window\.location|location\.href|location\.replace)\s*[=(]`)

func (c *Collector) collectRedirects(ctx context.Context, in Input, rec *recorder) *RedirectGroup {
	if in.Target == nil {
		return nil
	}
	group := &RedirectGroup{}

	var hops []string
	client := &http.Client{
		Transport: c.client.Transport,
		Timeout:   c.client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			hops = append(hops, req.URL.String())
			if len(via) >= maxRedirectHops {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.Target.String(), nil)
	if err != nil {
		return nil
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("redirect probe failed", "url", in.Target.String(), "error", err)
		return nil
	}
	defer resp.Body.Close()

	group.Hops = hops
	if resp.Request != nil && resp.Request.URL != nil {
		group.FinalURL = resp.Request.URL.String()
	}

	origin := types.NormalizeHostname(in.Target.Hostname())
	for _, hop := range hops {
		if h := hostnameOf(hop); h != "" && h != origin {
			group.CrossDomain = true
			break
		}
	}
	if final := hostnameOf(group.FinalURL); final != "" && final != origin {
		group.CrossDomain = true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err == nil && len(body) > 0 {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			if refresh, ok := doc.Find(`meta[http-equiv]`).Attr("content"); ok {
				group.MetaRefresh = strings.Contains(strings.ToLower(refresh), "url=")
			}
			doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if jsRedirectRe.MatchString(s.Text()) {
					group.JSRedirect = true
					return false
				}
				return true
			})
		}
	}

	rec.add("redirects", "hop_count", strconv.Itoa(len(hops)), types.SeverityInfo)
	rec.add("redirects", "cross_domain", strconv.FormatBool(group.CrossDomain), boolSeverity(group.CrossDomain, types.SeverityWarning))
	rec.add("redirects", "meta_refresh", strconv.FormatBool(group.MetaRefresh), boolSeverity(group.MetaRefresh, types.SeverityWarning))
	rec.add("redirects", "js_redirect", strconv.FormatBool(group.JSRedirect), boolSeverity(group.JSRedirect, types.SeverityWarning))

	return group
}

func hostnameOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return types.NormalizeHostname(u.Hostname())
}

func boolSeverity(flagged bool, when string) string {
	if flagged {
		return when
	}
	return types.SeverityInfo
}
