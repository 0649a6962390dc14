// Package intel collects raw risk signals for a domain (DNS, TLS,
// headers, forms, redirects, registration age) and aggregates them into
// weighted risk scores. Every signal group is independently tolerant of
// its own sub-failures: an unresolved group lowers the report's
// confidence instead of failing the run.
package intel

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"siteintel/internal/analyze"
	"siteintel/pkg/types"
)

// Options configures a Collector.
type Options struct {
	Client       *http.Client
	Resolver     *net.Resolver
	RDAPEndpoint string
	UserAgent    string
	Logger       *slog.Logger
}

// Collector runs the risk-intelligence signal groups.
type Collector struct {
	client       *http.Client
	resolver     *net.Resolver
	rdapEndpoint string
	userAgent    string
	logger       *slog.Logger

	// dialTLS is swappable in tests.
	dialTLS func(ctx context.Context, addr string) (*CertInfo, error)
}

// NewCollector builds a collector from options, applying defaults for
// anything unset.
func NewCollector(opts Options) *Collector {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	endpoint := opts.RDAPEndpoint
	if endpoint == "" {
		endpoint = "https://rdap.org"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		client:       client,
		resolver:     resolver,
		rdapEndpoint: endpoint,
		userAgent:    opts.UserAgent,
		logger:       logger,
	}
	c.dialTLS = c.fetchCert
	return c
}

// Input is everything a collection run consumes. Homepage and
// PolicyLinks are optional: they come from earlier scan phases and may
// be absent for unreachable or unauthorized targets.
type Input struct {
	ScanID      string
	Target      *url.URL
	Homepage    *types.Page
	PolicyLinks *analyze.PolicyLinks
}

// Report is the aggregate of all signal groups plus the computed
// assessment.
type Report struct {
	Reachability *ReachabilityGroup  `json:"reachability,omitempty"`
	Redirects    *RedirectGroup      `json:"redirects,omitempty"`
	DNS          *DNSGroup           `json:"dns,omitempty"`
	TLS          *TLSGroup           `json:"tls,omitempty"`
	Headers      *HeaderGroup        `json:"security_headers,omitempty"`
	Forms        *FormGroup          `json:"forms,omitempty"`
	Policies     *PolicyGroup        `json:"policies,omitempty"`
	Registration *RegistrationGroup  `json:"registration,omitempty"`
	Assessment   Assessment          `json:"assessment"`
}

// Run executes all signal groups and aggregates them. It never returns
// an error: failed groups are simply absent from the report, reflected
// in the assessment's confidence.
func (c *Collector) Run(ctx context.Context, in Input) (*Report, []types.SignalLogEntry) {
	rec := &recorder{scanID: in.ScanID}
	report := &Report{}

	// Reachability first: the headers group reads its response headers.
	report.Reachability = c.collectReachability(ctx, in, rec)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { report.Redirects = c.collectRedirects(ctx, in, rec) })
	run(func() { report.DNS = c.collectDNS(ctx, in, rec) })
	run(func() { report.TLS = c.collectTLS(ctx, in, rec) })
	run(func() { report.Headers = c.collectHeaders(in, report.Reachability, rec) })
	run(func() { report.Forms = c.collectForms(in, rec) })
	run(func() { report.Policies = c.collectPolicies(in, rec) })
	run(func() { report.Registration = c.collectRegistration(ctx, in, rec) })
	wg.Wait()

	report.Assessment = score(report)
	rec.add("assessment", "overall_score", itoa(report.Assessment.Overall), severityForScore(report.Assessment.Overall))
	rec.add("assessment", "primary_risk", report.Assessment.PrimaryRisk, types.SeverityInfo)

	return report, rec.entries
}

// recorder accumulates one SignalLogEntry per atomic signal.
type recorder struct {
	mu      sync.Mutex
	scanID  string
	entries []types.SignalLogEntry
}

func (r *recorder) add(category, name, value, severity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, types.SignalLogEntry{
		ScanID:   r.scanID,
		Category: category,
		Name:     name,
		Value:    value,
		Severity: severity,
	})
}
