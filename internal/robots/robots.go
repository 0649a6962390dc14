package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Agent evaluates robots.txt rules with per-host caching. A missing or
// unreadable robots.txt is treated as allow-all.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fetched  time.Time
	rules    *robotstxt.RobotsData
	sitemaps []string
}

// NewAgent constructs a robots agent.
func NewAgent(userAgent string, ttl time.Duration, client *http.Client) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Agent{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]cacheEntry),
	}
}

// Allowed reports whether the target URL is permitted.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}

	entry, err := a.entry(ctx, target)
	if err != nil {
		// Fail-open on robots errors (common industry practice).
		return true
	}

	group := entry.rules.FindGroup(a.userAgent)
	if group == nil {
		group = entry.rules.FindGroup("*")
		if group == nil {
			return true
		}
	}
	return group.Test(target.Path)
}

// Sitemaps returns the sitemap URLs declared in the host's robots.txt.
func (a *Agent) Sitemaps(ctx context.Context, target *url.URL) []string {
	if target == nil || !target.IsAbs() {
		return nil
	}
	entry, err := a.entry(ctx, target)
	if err != nil {
		return nil
	}
	return entry.sitemaps
}

func (a *Agent) entry(ctx context.Context, target *url.URL) (cacheEntry, error) {
	host := strings.ToLower(target.Host)

	a.mu.RLock()
	entry, ok := a.cache[host]
	if ok && time.Since(entry.fetched) < a.ttl {
		a.mu.RUnlock()
		return entry, nil
	}
	a.mu.RUnlock()

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return cacheEntry{}, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return cacheEntry{}, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return cacheEntry{}, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return cacheEntry{}, fmt.Errorf("parse robots.txt: %w", err)
	}

	entry = cacheEntry{
		fetched:  time.Now(),
		rules:    data,
		sitemaps: data.Sitemaps,
	}
	a.mu.Lock()
	a.cache[host] = entry
	a.mu.Unlock()

	return entry, nil
}

// Purge evicts cached robots rules for a host.
func (a *Agent) Purge(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	a.mu.Lock()
	delete(a.cache, host)
	a.mu.Unlock()
}
