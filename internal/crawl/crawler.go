// Package crawl enumerates and fetches a site's pages within the limits
// an authorization policy grants. Per-URL failures are logged and the
// crawl continues; only a failure to start discovery at all propagates
// to the orchestrator, which then falls back to single-page extraction.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"siteintel/internal/fetcher"
	"siteintel/internal/robots"
	"siteintel/pkg/types"
)

// FetchRecorder persists one log row per fetch attempt.
type FetchRecorder interface {
	RecordFetch(ctx context.Context, entry types.FetchLogEntry) error
}

// Options configures a Crawler.
type Options struct {
	HTTP            fetcher.Fetcher
	Browser         fetcher.Fetcher // optional fallback path
	Robots          *robots.Agent
	Recorder        FetchRecorder
	Logger          *slog.Logger
	CommonPaths     []string
	MaxSitemapURLs  int
	MaxPagesCeiling int
	MaxLinksPerPage int
}

// Crawler discovers and fetches pages for one authorized site.
type Crawler struct {
	opts Options
}

// Result is the bounded output of one discovery run.
type Result struct {
	Pages map[string]*types.Page
	Log   []types.FetchLogEntry
}

// candidate is a queued URL with the source tag its fetch will carry.
type candidate struct {
	url    *url.URL
	source string
}

// New builds a crawler. HTTP fetcher and recorder are required.
func New(opts Options) (*Crawler, error) {
	if opts.HTTP == nil {
		return nil, fmt.Errorf("crawler requires an HTTP fetcher")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("crawler requires a fetch recorder")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxSitemapURLs <= 0 {
		opts.MaxSitemapURLs = 500
	}
	if opts.MaxPagesCeiling <= 0 {
		opts.MaxPagesCeiling = 200
	}
	if opts.MaxLinksPerPage <= 0 {
		opts.MaxLinksPerPage = 200
	}
	return &Crawler{opts: opts}, nil
}

// Discover enumerates pages for the target under the given policy. The
// homepage page, when already fetched by the reachability probe, is
// reused rather than fetched again; pass nil to let the crawler attempt
// it (with browser fallback) itself.
func (c *Crawler) Discover(ctx context.Context, scanID string, target *url.URL, pol types.Policy, homepage *types.Page) (*Result, error) {
	if target == nil {
		return nil, fmt.Errorf("discovery target is nil")
	}

	budget := pol.MaxPagesPerScan
	if budget <= 0 || budget > c.opts.MaxPagesCeiling {
		budget = c.opts.MaxPagesCeiling
	}

	result := &Result{Pages: make(map[string]*types.Page, budget)}
	visited := make(map[string]struct{})
	pacer := NewPacer(pol.CrawlDelay)
	logger := c.opts.Logger.With("scan_id", scanID, "host", target.Hostname())

	var queue []candidate

	// The homepage is always page one of the crawl.
	homeKey := canonicalKey(target)
	visited[homeKey] = struct{}{}
	if homepage != nil && homepage.StatusCode > 0 && homepage.StatusCode < 400 {
		result.Pages[homeKey] = homepage
	} else {
		page := c.fetchLogged(ctx, scanID, result, candidate{url: target, source: types.SourceHomepage}, pacer)
		if page != nil {
			result.Pages[homeKey] = page
		}
	}

	if home := result.Pages[homeKey]; home != nil {
		queue = append(queue, c.extractLinks(target, home, pol)...)
	} else if len(result.Log) == 0 {
		// Nothing fetched and nothing logged means discovery never
		// started; let the orchestrator fall back.
		return nil, fmt.Errorf("discovery could not start for %s", target.Hostname())
	}

	for _, path := range c.opts.CommonPaths {
		u := *target
		u.Path = path
		u.RawQuery = ""
		u.Fragment = ""
		queue = append(queue, candidate{url: &u, source: commonPathSource(path)})
	}

	for _, loc := range c.sitemapURLs(ctx, scanID, target, pol, result, pacer) {
		if u, err := url.Parse(loc); err == nil {
			queue = append(queue, candidate{url: u, source: types.SourceSitemap})
		}
	}

	for len(queue) > 0 && len(result.Pages) < budget {
		if ctx.Err() != nil {
			break
		}
		cand := queue[0]
		queue = queue[1:]

		if cand.url == nil || !c.inScope(target, cand.url, pol) {
			continue
		}
		key := canonicalKey(cand.url)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		if pol.RespectRobots && c.opts.Robots != nil && !c.opts.Robots.Allowed(ctx, cand.url) {
			c.record(ctx, result, types.FetchLogEntry{
				ScanID:        scanID,
				URL:           cand.url.String(),
				RobotsAllowed: false,
				Source:        cand.source,
				FetchedAt:     time.Now(),
			})
			logger.Debug("blocked by robots", "url", cand.url.String())
			continue
		}

		page := c.fetchLogged(ctx, scanID, result, cand, pacer)
		if page == nil {
			continue
		}
		result.Pages[key] = page

		if len(result.Pages) < budget && isHTML(page) {
			queue = append(queue, c.extractLinks(target, page, pol)...)
		}
	}

	logger.Info("discovery complete",
		"pages", len(result.Pages),
		"attempts", len(result.Log),
		"budget", budget,
	)
	return result, nil
}

// fetchLogged performs one paced fetch with browser fallback, recording
// exactly one log entry per attempt. Returns nil when all attempts fail.
func (c *Crawler) fetchLogged(ctx context.Context, scanID string, result *Result, cand candidate, pacer *Pacer) *types.Page {
	if err := pacer.Wait(ctx); err != nil {
		return nil
	}

	page, err := c.opts.HTTP.Fetch(ctx, types.FetchRequest{URL: cand.url, Source: cand.source})
	c.record(ctx, result, fetchEntry(scanID, cand.url, cand.source, page, err))
	if err == nil && page != nil && page.StatusCode < 400 {
		return page
	}

	if c.opts.Browser == nil {
		return nil
	}
	page, err = c.opts.Browser.Fetch(ctx, types.FetchRequest{URL: cand.url, Source: types.SourceBrowserFallback, Render: true})
	c.record(ctx, result, fetchEntry(scanID, cand.url, types.SourceBrowserFallback, page, err))
	if err == nil && page != nil && page.StatusCode < 400 {
		return page
	}
	return nil
}

func fetchEntry(scanID string, u *url.URL, source string, page *types.Page, err error) types.FetchLogEntry {
	entry := types.FetchLogEntry{
		ScanID:        scanID,
		URL:           u.String(),
		RobotsAllowed: true,
		Source:        source,
		FetchedAt:     time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	if page != nil {
		entry.StatusCode = page.StatusCode
		entry.Duration = page.ResponseLatency
	}
	return entry
}

func (c *Crawler) record(ctx context.Context, result *Result, entry types.FetchLogEntry) {
	result.Log = append(result.Log, entry)
	if err := c.opts.Recorder.RecordFetch(ctx, entry); err != nil {
		c.opts.Logger.Error("record fetch failed", "url", entry.URL, "error", err)
	}
}

// sitemapURLs collects page URLs from the site's sitemaps: those the
// robots.txt declares plus the conventional /sitemap.xml, following one
// level of sitemap index nesting.
func (c *Crawler) sitemapURLs(ctx context.Context, scanID string, target *url.URL, pol types.Policy, result *Result, pacer *Pacer) []string {
	seen := map[string]struct{}{}
	var sitemaps []string
	if c.opts.Robots != nil {
		sitemaps = append(sitemaps, c.opts.Robots.Sitemaps(ctx, target)...)
	}
	defaultSitemap := target.Scheme + "://" + target.Host + "/sitemap.xml"
	sitemaps = append(sitemaps, defaultSitemap)

	var urls []string
	const maxSitemapFetches = 5
	fetched := 0

	for i := 0; i < len(sitemaps) && fetched < maxSitemapFetches && len(urls) < c.opts.MaxSitemapURLs; i++ {
		loc := strings.TrimSpace(sitemaps[i])
		if loc == "" {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}

		u, err := url.Parse(loc)
		if err != nil || !c.inScope(target, u, pol) {
			continue
		}
		fetched++

		if err := pacer.Wait(ctx); err != nil {
			break
		}
		page, err := c.opts.HTTP.Fetch(ctx, types.FetchRequest{URL: u, Source: types.SourceSitemap})
		c.record(ctx, result, fetchEntry(scanID, u, types.SourceSitemap, page, err))
		if err != nil || page == nil || page.StatusCode >= 400 {
			continue
		}

		entries, nested, err := parseSitemap(page.Body, c.opts.MaxSitemapURLs-len(urls))
		if err != nil {
			c.opts.Logger.Debug("sitemap parse failed", "url", loc, "error", err)
			continue
		}
		if nested {
			sitemaps = append(sitemaps, entries...)
			continue
		}
		urls = append(urls, entries...)
	}
	return urls
}

func (c *Crawler) extractLinks(target *url.URL, page *types.Page, pol types.Policy) []candidate {
	if page == nil || len(page.Body) == 0 {
		return nil
	}
	base := page.FinalURL
	if base == nil {
		base = page.URL
	}
	if base == nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		c.opts.Logger.Debug("link extraction failed", "error", err)
		return nil
	}

	seen := make(map[string]struct{})
	links := make([]candidate, 0, c.opts.MaxLinksPerPage)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return true
		}

		u, err := base.Parse(href)
		if err != nil {
			return true
		}
		u.Fragment = ""
		if !c.inScope(target, u, pol) {
			return true
		}
		key := u.String()
		if _, exists := seen[key]; exists {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, candidate{url: u, source: types.SourceCrawl})
		return len(links) < c.opts.MaxLinksPerPage
	})

	return links
}

// inScope restricts the crawl to the target's own host, extended to its
// subdomains when the policy allows them.
func (c *Crawler) inScope(target, u *url.URL, pol types.Policy) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := types.NormalizeHostname(u.Hostname())
	origin := types.NormalizeHostname(target.Hostname())
	if host == origin {
		return true
	}
	return pol.AllowSubdomains && strings.HasSuffix(host, "."+origin)
}

func commonPathSource(path string) string {
	if strings.Contains(path, "contact") {
		return types.SourceContactPage
	}
	return types.SourceCrawl
}

func isHTML(page *types.Page) bool {
	ct := strings.ToLower(page.ContentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "xhtml")
}

// canonicalKey normalises a URL for visited-set membership.
func canonicalKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
