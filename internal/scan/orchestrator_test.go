package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteintel/internal/analyze"
	"siteintel/internal/config"
	"siteintel/internal/intel"
	"siteintel/internal/store"
	"siteintel/pkg/types"
)

// fakeStore is an in-memory Store that mirrors the persistence
// semantics the orchestrator relies on: terminal transition guard,
// append-only logs, per-domain upsert.
type fakeStore struct {
	mu           sync.Mutex
	domains      map[string]types.Domain
	scans        map[string]*types.Scan
	transitions  map[string][]types.ScanStatus
	fetchLog     []types.FetchLogEntry
	signals      []types.SignalLogEntry
	scanPoints   map[string][]types.DataPoint
	domainPoints map[string]map[types.DataPointKey]types.DataPoint
	policies     []types.Policy

	savePointsErr  error
	transitionErrs map[types.ScanStatus]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		domains:      map[string]types.Domain{},
		scans:        map[string]*types.Scan{},
		transitions:  map[string][]types.ScanStatus{},
		scanPoints:   map[string][]types.DataPoint{},
		domainPoints: map[string]map[types.DataPointKey]types.DataPoint{},
	}
}

func (f *fakeStore) UpsertDomain(_ context.Context, d types.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.domains[d.ID]; ok {
		existing.Hostname = d.Hostname
		f.domains[d.ID] = existing
		return nil
	}
	f.domains[d.ID] = d
	return nil
}

func (f *fakeStore) UpdateDomainReachability(_ context.Context, domainID string, active bool, statusCode int, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.domains[domainID]
	d.IsActive = active
	d.StatusCode = statusCode
	d.CheckedAt = checkedAt
	f.domains[domainID] = d
	return nil
}

func (f *fakeStore) GetDomain(_ context.Context, domainID string) (*types.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[domainID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) CreateScan(_ context.Context, sc types.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := sc
	f.scans[sc.ID] = &copied
	return nil
}

func (f *fakeStore) TransitionScan(_ context.Context, scanID string, status types.ScanStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scans[scanID]
	if !ok {
		return store.ErrNotFound
	}
	if err := f.transitionErrs[status]; err != nil {
		return err
	}
	if sc.Status.Terminal() {
		return fmt.Errorf("transition scan %s to %s: %w", scanID, status, store.ErrTerminalScan)
	}
	sc.Status = status
	sc.Error = errMsg
	f.transitions[scanID] = append(f.transitions[scanID], status)
	return nil
}

func (f *fakeStore) UpdateScanReachability(_ context.Context, scanID string, active bool, statusCode int, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sc, ok := f.scans[scanID]; ok {
		sc.IsActive = active
		sc.StatusCode = statusCode
		sc.CheckedAt = checkedAt
	}
	return nil
}

func (f *fakeStore) GetScan(_ context.Context, scanID string) (*types.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scans[scanID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *sc
	return &copied, nil
}

func (f *fakeStore) RecordFetch(_ context.Context, entry types.FetchLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchLog = append(f.fetchLog, entry)
	return nil
}

func (f *fakeStore) AppendSignals(_ context.Context, entries []types.SignalLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, entries...)
	return nil
}

func (f *fakeStore) SaveDataPoints(_ context.Context, scanID, domainID string, points []types.DataPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.savePointsErr != nil {
		return f.savePointsErr
	}
	f.scanPoints[scanID] = append(f.scanPoints[scanID], points...)
	if f.domainPoints[domainID] == nil {
		f.domainPoints[domainID] = map[types.DataPointKey]types.DataPoint{}
	}
	for _, p := range points {
		f.domainPoints[domainID][p.Key] = p
	}
	return nil
}

func (f *fakeStore) LatestDomainDataPoint(_ context.Context, domainID string, key types.DataPointKey) (*types.DataPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if points, ok := f.domainPoints[domainID]; ok {
		if p, ok := points[key]; ok {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListPolicies(_ context.Context) ([]types.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Policy(nil), f.policies...), nil
}

func (f *fakeStore) scanPointKeys(scanID string) map[types.DataPointKey]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := map[types.DataPointKey]bool{}
	for _, p := range f.scanPoints[scanID] {
		keys[p.Key] = true
	}
	return keys
}

// fakeFetcher serves canned pages keyed by URL string.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*types.Page
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req types.FetchRequest) (*types.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.URL.String()
	f.fetched = append(f.fetched, key)
	page, ok := f.pages[key]
	if !ok {
		return nil, fmt.Errorf("connection refused: %s", key)
	}
	return page, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// fakeIntel returns a fixed report, optionally blocking first. It keeps
// the last Input it was handed for inspection.
type fakeIntel struct {
	delay   time.Duration
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu        sync.Mutex
	lastInput intel.Input
}

func (f *fakeIntel) Run(ctx context.Context, in intel.Input) (*intel.Report, []types.SignalLogEntry) {
	f.mu.Lock()
	f.lastInput = in
	f.mu.Unlock()
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	report := &intel.Report{
		Reachability: &intel.ReachabilityGroup{Reachable: true, StatusCode: 200},
	}
	signals := []types.SignalLogEntry{
		{ScanID: in.ScanID, Category: "reachability", Name: "reachable", Value: "true", Severity: types.SeverityInfo},
	}
	return report, signals
}

func (f *fakeIntel) input() intel.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Crawl.CommonPaths = nil
	cfg.Crawl.DefaultDelay = config.DurationFrom(0)
	cfg.Intel.Deadline = config.DurationFrom(5 * time.Second)
	return cfg
}

func testPage(t *testing.T, rawURL, body string) *types.Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &types.Page{
		URL:         u,
		Body:        []byte(body),
		ContentType: "text/html",
		StatusCode:  200,
		FetchedAt:   time.Now(),
	}
}

func newTestOrchestrator(t *testing.T, st Store, http *fakeFetcher, runner IntelRunner, cfg config.Config) *Orchestrator {
	t.Helper()
	if runner == nil {
		runner = &fakeIntel{}
	}
	o, err := New(Options{
		Store:  st,
		HTTP:   http,
		Intel:  runner,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return o
}

func TestStartScanAuthorizedCompletes(t *testing.T) {
	st := newFakeStore()
	st.policies = []types.Policy{{Hostname: "example.com", MaxPagesPerScan: 10}}

	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", `<html><body>
			<a href="mailto:info@example.com">Mail</a>
			<a href="/privacy">Privacy Policy</a>
			<div class="product-card"><h3>Widget</h3><span>$9.99</span></div>
		</body></html>`),
		"https://example.com/privacy": testPage(t, "https://example.com/privacy", "<html><body>privacy</body></html>"),
	}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, sc.Status)
	assert.Empty(t, sc.Error)
	assert.True(t, sc.IsActive)
	assert.Equal(t, 200, sc.StatusCode)

	assert.Equal(t, []types.ScanStatus{types.ScanProcessing, types.ScanCompleted}, st.transitions[scanID])

	keys := st.scanPointKeys(scanID)
	assert.True(t, keys[types.KeyContactDetails])
	assert.True(t, keys[types.KeyHomepageSKUs])
	assert.True(t, keys[types.KeyPolicyLinks])
	assert.True(t, keys[types.KeyAILikelihood])
	assert.True(t, keys[types.KeyRiskAssessment])
	assert.True(t, keys[types.KeyIntelSignals])

	assert.NotEmpty(t, st.fetchLog)
	assert.NotEmpty(t, st.signals)

	d, err := st.GetDomain(context.Background(), sc.DomainID)
	require.NoError(t, err)
	assert.True(t, d.IsActive)
}

func TestStartScanUnauthorizedStaysSinglePage(t *testing.T) {
	st := newFakeStore()

	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", `<html><body>
			<a href="/a">A</a> <a href="/b">B</a>
			<a href="mailto:hello@example.com">Mail</a>
		</body></html>`),
	}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	scanID, err := o.StartScan(context.Background(), "example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, sc.Status)

	// Only the homepage probe went out; the linked pages were never crawled.
	assert.Equal(t, 1, fetcherFake.fetchCount())

	keys := st.scanPointKeys(scanID)
	assert.True(t, keys[types.KeyContactDetails])
	assert.False(t, keys[types.KeyHomepageSKUs])
	assert.False(t, keys[types.KeyPolicyLinks])
}

func TestStartScanUnreachableTargetStillCompletes(t *testing.T) {
	st := newFakeStore()
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	scanID, err := o.StartScan(context.Background(), "https://down.example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, sc.Status, "unreachable is a finding, not a failure")
	assert.False(t, sc.IsActive)

	keys := st.scanPointKeys(scanID)
	assert.False(t, keys[types.KeyContactDetails], "nothing to extract from")
	assert.True(t, keys[types.KeyRiskAssessment], "intel still runs against the bare target")
}

func TestStartScanFailsOnPersistenceError(t *testing.T) {
	st := newFakeStore()
	st.savePointsErr = fmt.Errorf("disk full")

	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", `<html><body>
			<a href="mailto:info@example.com">Mail</a>
		</body></html>`),
	}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanFailed, sc.Status)
	assert.Contains(t, sc.Error, "disk full")
}

func TestProcessingTransitionFailureMarksScanFailed(t *testing.T) {
	st := newFakeStore()
	st.transitionErrs = map[types.ScanStatus]error{
		types.ScanProcessing: fmt.Errorf("connection reset"),
	}
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", "<html><body><p>hi</p></body></html>"),
	}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanFailed, sc.Status, "a scan never stays pending")
	assert.True(t, sc.Status.Terminal())
	assert.Contains(t, sc.Error, "connection reset")
	assert.Equal(t, []types.ScanStatus{types.ScanFailed}, st.transitions[scanID])
}

func TestCrawlRecoversReachability(t *testing.T) {
	st := newFakeStore()
	st.policies = []types.Policy{{Hostname: "example.com", MaxPagesPerScan: 10}}

	contact := testPage(t, "https://example.com/contact", `<html><body>
		<a href="mailto:team@example.com">Mail</a>
	</body></html>`)
	about := testPage(t, "https://example.com/about", "<html><body>about</body></html>")
	about.StatusCode = 203

	// The homepage itself never answers; only the crawled paths do.
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/contact": contact,
		"https://example.com/about":   about,
	}}

	cfg := testConfig()
	cfg.Crawl.CommonPaths = []string{"/contact", "/about"}
	o := newTestOrchestrator(t, st, fetcherFake, nil, cfg)

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, sc.Status)
	assert.True(t, sc.IsActive, "crawl success upgrades the failed probe")
	assert.Equal(t, 200, sc.StatusCode, "contact-page evidence outranks plain crawl")

	d, err := st.GetDomain(context.Background(), sc.DomainID)
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.Equal(t, 200, d.StatusCode)
}

func TestIntelReceivesPersistedPolicyLinks(t *testing.T) {
	st := newFakeStore()
	st.policies = []types.Policy{{Hostname: "example.com", MaxPagesPerScan: 10}}

	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", `<html><body>
			<a href="/privacy">Privacy Policy</a>
		</body></html>`),
		"https://example.com/privacy": testPage(t, "https://example.com/privacy", "<html><body>privacy</body></html>"),
	}}

	runner := &fakeIntel{}
	o := newTestOrchestrator(t, st, fetcherFake, runner, testConfig())

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	require.Equal(t, types.ScanCompleted, sc.Status)

	in := runner.input()
	require.NotNil(t, in.PolicyLinks, "intel consumes the persisted policy links")
	assert.Equal(t, "https://example.com/privacy", in.PolicyLinks.Privacy)

	dp, err := st.LatestDomainDataPoint(context.Background(), sc.DomainID, types.KeyPolicyLinks)
	require.NoError(t, err)
	var persisted analyze.PolicyLinks
	require.NoError(t, json.Unmarshal(dp.Payload, &persisted))
	assert.Equal(t, &persisted, in.PolicyLinks)
}

func TestIntelTimeoutCompletesWithoutAssessment(t *testing.T) {
	st := newFakeStore()
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", "<html><body><p>hi</p></body></html>"),
	}}

	cfg := testConfig()
	cfg.Intel.Deadline = config.DurationFrom(20 * time.Millisecond)
	o := newTestOrchestrator(t, st, fetcherFake, &fakeIntel{delay: 500 * time.Millisecond}, cfg)

	scanID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	sc, err := st.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, sc.Status, "intel timeout never fails the scan")

	keys := st.scanPointKeys(scanID)
	assert.False(t, keys[types.KeyRiskAssessment])
	assert.False(t, keys[types.KeyIntelSignals])
	assert.Empty(t, st.signals)
}

func TestRescanCreatesFreshScan(t *testing.T) {
	st := newFakeStore()
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", "<html><body><p>hi</p></body></html>"),
	}}

	o := newTestOrchestrator(t, st, fetcherFake, nil, testConfig())

	firstID, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	o.Wait()

	first, err := st.GetScan(context.Background(), firstID)
	require.NoError(t, err)

	secondID, err := o.Rescan(context.Background(), first.DomainID)
	require.NoError(t, err)
	o.Wait()

	assert.NotEqual(t, firstID, secondID)
	second, err := st.GetScan(context.Background(), secondID)
	require.NoError(t, err)
	assert.Equal(t, first.DomainID, second.DomainID)
	assert.Equal(t, types.ScanCompleted, second.Status)
}

func TestRescanUnknownDomain(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(t, st, &fakeFetcher{pages: map[string]*types.Page{}}, nil, testConfig())

	_, err := o.Rescan(context.Background(), "no-such-domain")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentScanLimit(t *testing.T) {
	st := newFakeStore()
	fetcherFake := &fakeFetcher{pages: map[string]*types.Page{
		"https://example.com/": testPage(t, "https://example.com/", "<html><body><p>hi</p></body></html>"),
	}}

	runner := &fakeIntel{started: make(chan struct{}), release: make(chan struct{})}
	cfg := testConfig()
	cfg.API.MaxConcurrentScans = 1
	o := newTestOrchestrator(t, st, fetcherFake, runner, cfg)

	_, err := o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err)
	<-runner.started

	_, err = o.StartScan(context.Background(), "https://other.example.com")
	assert.ErrorIs(t, err, ErrTooManyScans)

	close(runner.release)
	o.Wait()

	_, err = o.StartScan(context.Background(), "https://example.com")
	require.NoError(t, err, "slot frees up once the first scan finishes")
	o.Wait()
}

func TestNormalizeTarget(t *testing.T) {
	u, err := normalizeTarget("example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", u.String())

	u, err = normalizeTarget("http://example.com/shop?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/shop?x=1", u.String())

	_, err = normalizeTarget("ftp://example.com")
	assert.Error(t, err)
	_, err = normalizeTarget("   ")
	assert.Error(t, err)
}
