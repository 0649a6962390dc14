package crawl

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out a scan's own requests to one site. It is a soft,
// self-imposed politeness limit, not a cross-scan lock.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer enforcing the given delay between fetches.
// A zero or negative delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next fetch is permitted.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
