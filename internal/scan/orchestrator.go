// Package scan drives the lifecycle of a scan run: reachability probe,
// policy resolution, bounded discovery, staged extraction, and risk
// intelligence, with every outcome persisted through the store. A scan
// only fails on orchestration errors (lifecycle writes, persistence);
// extraction gaps degrade the result instead.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"siteintel/internal/analyze"
	"siteintel/internal/config"
	"siteintel/internal/crawl"
	"siteintel/internal/fetcher"
	"siteintel/internal/intel"
	"siteintel/internal/policy"
	"siteintel/internal/robots"
	"siteintel/internal/store"
	"siteintel/pkg/types"
)

// Store is the persistence surface the orchestrator depends on.
type Store interface {
	UpsertDomain(ctx context.Context, d types.Domain) error
	UpdateDomainReachability(ctx context.Context, domainID string, active bool, statusCode int, checkedAt time.Time) error
	GetDomain(ctx context.Context, domainID string) (*types.Domain, error)
	CreateScan(ctx context.Context, sc types.Scan) error
	TransitionScan(ctx context.Context, scanID string, status types.ScanStatus, errMsg string) error
	UpdateScanReachability(ctx context.Context, scanID string, active bool, statusCode int, checkedAt time.Time) error
	GetScan(ctx context.Context, scanID string) (*types.Scan, error)
	RecordFetch(ctx context.Context, entry types.FetchLogEntry) error
	AppendSignals(ctx context.Context, entries []types.SignalLogEntry) error
	SaveDataPoints(ctx context.Context, scanID, domainID string, points []types.DataPoint) error
	LatestDomainDataPoint(ctx context.Context, domainID string, key types.DataPointKey) (*types.DataPoint, error)
	ListPolicies(ctx context.Context) ([]types.Policy, error)
}

var _ Store = (*store.Store)(nil)

// IntelRunner produces the risk-intelligence report for a target.
type IntelRunner interface {
	Run(ctx context.Context, in intel.Input) (*intel.Report, []types.SignalLogEntry)
}

// Options wires an orchestrator's collaborators.
type Options struct {
	Store   Store
	HTTP    fetcher.Fetcher
	Browser fetcher.Fetcher // optional
	Robots  *robots.Agent
	Intel   IntelRunner
	Config  config.Config
	Logger  *slog.Logger
}

// Orchestrator starts and runs scans. StartScan returns as soon as the
// scan row exists; the run itself proceeds on a detached goroutine.
type Orchestrator struct {
	store   Store
	http    fetcher.Fetcher
	browser fetcher.Fetcher
	robots  *robots.Agent
	intel   IntelRunner
	cfg     config.Config
	logger  *slog.Logger

	slots chan struct{}
	runs  sync.WaitGroup
}

// New builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a store")
	}
	if opts.HTTP == nil {
		return nil, fmt.Errorf("orchestrator requires an HTTP fetcher")
	}
	if opts.Intel == nil {
		return nil, fmt.Errorf("orchestrator requires an intel collector")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:   opts.Store,
		http:    opts.HTTP,
		browser: opts.Browser,
		robots:  opts.Robots,
		intel:   opts.Intel,
		cfg:     opts.Config,
		logger:  logger,
	}
	if n := opts.Config.API.MaxConcurrentScans; n > 0 {
		o.slots = make(chan struct{}, n)
	}
	return o, nil
}

// StartScan registers a new scan for the target URL and launches its run
// in the background. The returned scan ID is immediately pollable.
func (o *Orchestrator) StartScan(ctx context.Context, rawURL string) (string, error) {
	target, err := normalizeTarget(rawURL)
	if err != nil {
		return "", err
	}

	release := func() {}
	if o.slots != nil {
		select {
		case o.slots <- struct{}{}:
			release = func() { <-o.slots }
		default:
			return "", ErrTooManyScans
		}
	}

	host := types.NormalizeHostname(target.Hostname())
	domainID := types.DomainID(host)
	if err := o.store.UpsertDomain(ctx, types.Domain{ID: domainID, Hostname: host}); err != nil {
		release()
		return "", err
	}

	sc := types.Scan{
		ID:        uuid.NewString(),
		DomainID:  domainID,
		TargetURL: target.String(),
		Status:    types.ScanPending,
		CreatedAt: time.Now(),
	}
	if err := o.store.CreateScan(ctx, sc); err != nil {
		release()
		return "", err
	}

	// The run outlives the triggering request, so it must not inherit
	// its cancelation.
	runCtx := context.WithoutCancel(ctx)
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer release()
		o.run(runCtx, sc, target)
	}()

	return sc.ID, nil
}

// Rescan starts a fresh scan against a previously seen domain. It never
// reuses an old scan row.
func (o *Orchestrator) Rescan(ctx context.Context, domainID string) (string, error) {
	d, err := o.store.GetDomain(ctx, domainID)
	if err != nil {
		return "", err
	}
	return o.StartScan(ctx, "https://"+d.Hostname)
}

// Wait blocks until all in-flight scan runs finish.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

func (o *Orchestrator) run(ctx context.Context, sc types.Scan, target *url.URL) {
	logger := o.logger.With("scan_id", sc.ID, "host", target.Hostname())

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, logger, sc.ID, fmt.Errorf("scan panicked: %v", r))
		}
	}()

	if err := o.store.TransitionScan(ctx, sc.ID, types.ScanProcessing, ""); err != nil {
		o.fail(ctx, logger, sc.ID, fmt.Errorf("start processing: %w", err))
		return
	}
	logger.Info("scan started", "target", sc.TargetURL)

	homepage, probeStatus := o.probe(ctx, sc.ID, target)
	active := homepage != nil
	if active {
		probeStatus = homepage.StatusCode
	}
	now := time.Now()
	if err := o.store.UpdateScanReachability(ctx, sc.ID, active, probeStatus, now); err != nil {
		o.fail(ctx, logger, sc.ID, err)
		return
	}
	if err := o.store.UpdateDomainReachability(ctx, sc.DomainID, active, probeStatus, now); err != nil {
		o.fail(ctx, logger, sc.ID, err)
		return
	}

	entries, err := o.store.ListPolicies(ctx)
	if err != nil {
		o.fail(ctx, logger, sc.ID, fmt.Errorf("load authorization policies: %w", err))
		return
	}
	decision := policy.NewResolver(entries).Resolve(target.Hostname())
	logger.Info("authorization resolved", "authorized", decision.Authorized)

	pages := map[string]*types.Page{}
	if homepage != nil {
		pages[target.String()] = homepage
	}

	if decision.Authorized {
		pol := decision.Policy
		if pol.CrawlDelay <= 0 {
			pol.CrawlDelay = o.cfg.Crawl.DefaultDelay.Duration
		}
		crawler, err := crawl.New(crawl.Options{
			HTTP:            o.http,
			Browser:         o.browser,
			Robots:          o.robots,
			Recorder:        o.store,
			Logger:          o.logger,
			CommonPaths:     o.cfg.Crawl.CommonPaths,
			MaxSitemapURLs:  o.cfg.Crawl.MaxSitemapURLs,
			MaxPagesCeiling: o.cfg.Crawl.MaxPagesCeiling,
		})
		if err != nil {
			o.fail(ctx, logger, sc.ID, err)
			return
		}
		res, derr := crawler.Discover(ctx, sc.ID, target, pol, homepage)
		if derr != nil {
			logger.Warn("discovery failed, continuing single-page", "error", derr)
		} else {
			pages = res.Pages
			if !active {
				if rerr := o.recoverReachability(ctx, logger, sc, res.Log); rerr != nil {
					o.fail(ctx, logger, sc.ID, rerr)
					return
				}
			}
		}
	}

	homePg := homepagePage(pages, homepage, target)

	stageA := []task{
		{key: types.KeyContactDetails, run: func(ctx context.Context) (*types.DataPoint, error) {
			set := pages
			if len(set) == 0 {
				page := o.fetchLogged(ctx, sc.ID, target, types.SourceContactPage)
				if page == nil {
					return nil, fmt.Errorf("no reachable page for contact extraction")
				}
				set = map[string]*types.Page{target.String(): page}
			}
			return analyze.ExtractContacts(set)
		}},
	}
	if decision.Authorized {
		stageA = append(stageA,
			task{key: types.KeyHomepageSKUs, run: func(ctx context.Context) (*types.DataPoint, error) {
				return analyze.ExtractHomepageSKUs(homePg)
			}},
			task{key: types.KeyPolicyLinks, run: func(ctx context.Context) (*types.DataPoint, error) {
				return analyze.ExtractPolicyLinks(pages)
			}},
		)
	}

	pointsA, failuresA := runStage(ctx, stageA)
	for _, f := range failuresA {
		logger.Warn("extraction task failed", "task", string(f.Key), "error", f.Err)
	}
	if len(pointsA) > 0 {
		if err := o.store.SaveDataPoints(ctx, sc.ID, sc.DomainID, pointsA); err != nil {
			o.fail(ctx, logger, sc.ID, err)
			return
		}
	}

	// Risk intelligence reads the persisted policy-links view rather
	// than the in-memory stage result: a rescan keeps earlier findings
	// even when this run's extraction came up empty.
	links := o.latestPolicyLinks(ctx, logger, sc.DomainID)

	var (
		intelPoints  []types.DataPoint
		intelSignals []types.SignalLogEntry
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := raceDeadline(ctx, o.cfg.Intel.Deadline.Duration, logger, func(ctx context.Context) intelOutcome {
			return o.collectIntel(ctx, sc, target, homePg, links)
		})
		if err != nil {
			if !errors.Is(err, ErrRiskIntelTimeout) {
				logger.Warn("risk intelligence failed", "error", err)
			}
			return
		}
		intelPoints, intelSignals = out.points, out.signals
	}()

	pointsB, failuresB := runStage(ctx, []task{
		{key: types.KeyAILikelihood, run: func(ctx context.Context) (*types.DataPoint, error) {
			return analyze.ScoreAILikelihood(homePg)
		}},
	})
	wg.Wait()
	for _, f := range failuresB {
		logger.Warn("extraction task failed", "task", string(f.Key), "error", f.Err)
	}
	pointsB = append(pointsB, intelPoints...)

	if len(pointsB) > 0 {
		if err := o.store.SaveDataPoints(ctx, sc.ID, sc.DomainID, pointsB); err != nil {
			o.fail(ctx, logger, sc.ID, err)
			return
		}
	}
	if len(intelSignals) > 0 {
		if err := o.store.AppendSignals(ctx, intelSignals); err != nil {
			o.fail(ctx, logger, sc.ID, err)
			return
		}
	}

	if err := o.store.TransitionScan(ctx, sc.ID, types.ScanCompleted, ""); err != nil {
		logger.Error("could not mark completed", "error", err)
		return
	}
	logger.Info("scan completed",
		"pages", len(pages),
		"data_points", len(pointsA)+len(pointsB),
		"signals", len(intelSignals),
	)
}

// probe fetches the homepage once, with browser fallback, logging each
// attempt. Returns nil when neither path yields a usable page, along
// with the last observed status code.
func (o *Orchestrator) probe(ctx context.Context, scanID string, target *url.URL) (*types.Page, int) {
	page, err := o.http.Fetch(ctx, types.FetchRequest{URL: target, Source: types.SourceHomepage})
	o.recordFetch(ctx, scanID, target, types.SourceHomepage, page, err)

	statusCode := 0
	if err == nil && page != nil {
		statusCode = page.StatusCode
		if page.StatusCode < 400 {
			return page, statusCode
		}
	}
	if o.browser == nil {
		return nil, statusCode
	}

	page, err = o.browser.Fetch(ctx, types.FetchRequest{URL: target, Source: types.SourceBrowserFallback, Render: true})
	o.recordFetch(ctx, scanID, target, types.SourceBrowserFallback, page, err)
	if err == nil && page != nil && page.StatusCode < 400 {
		return page, page.StatusCode
	}
	return nil, statusCode
}

// fetchLogged is the single-page fallback path for unauthorized or
// unreachable targets.
func (o *Orchestrator) fetchLogged(ctx context.Context, scanID string, target *url.URL, source string) *types.Page {
	page, err := o.http.Fetch(ctx, types.FetchRequest{URL: target, Source: source})
	o.recordFetch(ctx, scanID, target, source, page, err)
	if err == nil && page != nil && page.StatusCode < 400 {
		return page
	}
	if o.browser == nil {
		return nil
	}
	page, err = o.browser.Fetch(ctx, types.FetchRequest{URL: target, Source: types.SourceBrowserFallback, Render: true})
	o.recordFetch(ctx, scanID, target, types.SourceBrowserFallback, page, err)
	if err == nil && page != nil && page.StatusCode < 400 {
		return page
	}
	return nil
}

func (o *Orchestrator) recordFetch(ctx context.Context, scanID string, u *url.URL, source string, page *types.Page, fetchErr error) {
	entry := types.FetchLogEntry{
		ScanID:        scanID,
		URL:           u.String(),
		RobotsAllowed: true,
		Source:        source,
		FetchedAt:     time.Now(),
	}
	if fetchErr != nil {
		entry.Error = fetchErr.Error()
	} else if page != nil {
		entry.StatusCode = page.StatusCode
		entry.Duration = page.ResponseLatency
	}
	if err := o.store.RecordFetch(ctx, entry); err != nil {
		o.logger.Error("record fetch failed", "url", entry.URL, "error", err)
	}
}

// Sources a crawl may recover reachability from, most direct first.
var recoverySourceOrder = []string{
	types.SourceHomepage,
	types.SourceContactPage,
	types.SourceSitemap,
	types.SourceCrawl,
	types.SourceBrowserFallback,
}

// recoverReachability flips an initially-inactive domain back to active
// when any later crawl fetch succeeded, preferring the most direct
// evidence available.
func (o *Orchestrator) recoverReachability(ctx context.Context, logger *slog.Logger, sc types.Scan, log []types.FetchLogEntry) error {
	rank := func(source string) int {
		for i, s := range recoverySourceOrder {
			if s == source {
				return i
			}
		}
		return len(recoverySourceOrder)
	}

	best := -1
	var bestEntry types.FetchLogEntry
	for _, e := range log {
		if e.Error != "" || e.StatusCode <= 0 || e.StatusCode >= 400 {
			continue
		}
		if r := rank(e.Source); best == -1 || r < best {
			best = r
			bestEntry = e
		}
	}
	if best == -1 {
		return nil
	}

	logger.Info("reachability recovered by crawl", "source", bestEntry.Source, "url", bestEntry.URL)
	now := time.Now()
	if err := o.store.UpdateScanReachability(ctx, sc.ID, true, bestEntry.StatusCode, now); err != nil {
		return err
	}
	return o.store.UpdateDomainReachability(ctx, sc.DomainID, true, bestEntry.StatusCode, now)
}

func (o *Orchestrator) latestPolicyLinks(ctx context.Context, logger *slog.Logger, domainID string) *analyze.PolicyLinks {
	dp, err := o.store.LatestDomainDataPoint(ctx, domainID, types.KeyPolicyLinks)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("load policy links", "error", err)
		}
		return nil
	}
	var links analyze.PolicyLinks
	if err := json.Unmarshal(dp.Payload, &links); err != nil {
		logger.Warn("decode policy links", "error", err)
		return nil
	}
	return &links
}

func (o *Orchestrator) collectIntel(ctx context.Context, sc types.Scan, target *url.URL, homepage *types.Page, links *analyze.PolicyLinks) intelOutcome {
	report, signals := o.intel.Run(ctx, intel.Input{
		ScanID:      sc.ID,
		Target:      target,
		Homepage:    homepage,
		PolicyLinks: links,
	})

	assessment, err := json.Marshal(report.Assessment)
	if err != nil {
		return intelOutcome{err: fmt.Errorf("encode assessment: %w", err)}
	}
	full, err := json.Marshal(report)
	if err != nil {
		return intelOutcome{err: fmt.Errorf("encode intel report: %w", err)}
	}

	now := time.Now()
	return intelOutcome{
		points: []types.DataPoint{
			{
				Key:         types.KeyRiskAssessment,
				Label:       "Domain risk assessment",
				Payload:     assessment,
				Sources:     []string{target.String()},
				ExtractedAt: now,
			},
			{
				Key:         types.KeyIntelSignals,
				Label:       "Domain intelligence signals",
				Payload:     full,
				Sources:     []string{target.String()},
				ExtractedAt: now,
			},
		},
		signals: signals,
	}
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, scanID string, cause error) {
	logger.Error("scan failed", "error", cause)
	if err := o.store.TransitionScan(ctx, scanID, types.ScanFailed, cause.Error()); err != nil {
		if errors.Is(err, store.ErrTerminalScan) {
			logger.Warn("scan already terminal, failure not recorded", "error", cause)
			return
		}
		logger.Error("could not mark failed", "error", err)
	}
}

// homepagePage picks the best homepage representation available: the
// probe result when it succeeded, otherwise whatever the crawl fetched
// for the site root.
func homepagePage(pages map[string]*types.Page, probe *types.Page, target *url.URL) *types.Page {
	if probe != nil && probe.StatusCode > 0 && probe.StatusCode < 400 {
		return probe
	}
	origin := types.NormalizeHostname(target.Hostname())
	for key, page := range pages {
		u, err := url.Parse(key)
		if err != nil {
			continue
		}
		if types.NormalizeHostname(u.Hostname()) != origin {
			continue
		}
		if p := u.EscapedPath(); p == "" || p == "/" {
			return page
		}
	}
	return nil
}

func normalizeTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty target URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("target URL has no host")
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}
