package intel

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"siteintel/pkg/types"
)

// ReachabilityGroup captures whether the target responds and how fast.
type ReachabilityGroup struct {
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency_ms"`
	headers    http.Header
}

func (c *Collector) collectReachability(ctx context.Context, in Input, rec *recorder) *ReachabilityGroup {
	group := &ReachabilityGroup{}

	// Reuse the scan's homepage fetch when available instead of hitting
	// the site again.
	if in.Homepage != nil {
		group.Reachable = in.Homepage.StatusCode > 0 && in.Homepage.StatusCode < 500
		group.StatusCode = in.Homepage.StatusCode
		group.Latency = in.Homepage.ResponseLatency
		group.headers = in.Homepage.Headers
	} else if in.Target != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.Target.String(), nil)
		if err == nil {
			if c.userAgent != "" {
				req.Header.Set("User-Agent", c.userAgent)
			}
			start := time.Now()
			resp, err := c.client.Do(req)
			if err == nil {
				group.Reachable = resp.StatusCode < 500
				group.StatusCode = resp.StatusCode
				group.Latency = time.Since(start)
				group.headers = resp.Header.Clone()
				resp.Body.Close()
			}
		}
	}

	severity := types.SeverityInfo
	if !group.Reachable {
		severity = types.SeverityWarning
	}
	rec.add("reachability", "reachable", strconv.FormatBool(group.Reachable), severity)
	rec.add("reachability", "status_code", itoa(group.StatusCode), types.SeverityInfo)
	rec.add("reachability", "latency_ms", itoa(int(group.Latency.Milliseconds())), types.SeverityInfo)

	return group
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
