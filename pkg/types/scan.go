package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// ScanStatus is the lifecycle state of a scan run.
type ScanStatus string

const (
	ScanPending    ScanStatus = "pending"
	ScanProcessing ScanStatus = "processing"
	ScanCompleted  ScanStatus = "completed"
	ScanFailed     ScanStatus = "failed"
)

// Terminal reports whether a scan in this status can no longer advance.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// Domain is the per-hostname record scans attach to. The ID is derived
// from the normalised hostname so repeated scans of the same site upsert
// a single row.
type Domain struct {
	ID         string
	Hostname   string
	IsActive   bool
	StatusCode int
	ManualRisk string
	CheckedAt  time.Time
	CreatedAt  time.Time
}

// DomainID returns the stable identifier for a hostname.
func DomainID(hostname string) string {
	sum := sha256.Sum256([]byte(NormalizeHostname(hostname)))
	return hex.EncodeToString(sum[:])
}

// NormalizeHostname lowercases a hostname and strips surrounding
// whitespace, a trailing dot, and a leading "www." label.
func NormalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "www.")
	return h
}

// Scan is a single run against a domain. Status only ever advances
// pending -> processing -> completed|failed; rescans create new rows.
type Scan struct {
	ID         string
	DomainID   string
	TargetURL  string
	IsActive   bool
	StatusCode int
	Status     ScanStatus
	Error      string
	CheckedAt  time.Time
	CreatedAt  time.Time
}

// Policy holds the crawl limits granted to an authorized hostname. Its
// absence for a host means deep crawling is not permitted there.
type Policy struct {
	Hostname        string
	AllowSubdomains bool
	RespectRobots   bool
	MaxPagesPerScan int
	CrawlDelay      time.Duration
}

// Matches reports whether the policy entry covers the given normalised
// hostname, including subdomains when permitted.
func (p Policy) Matches(hostname string) bool {
	entry := NormalizeHostname(p.Hostname)
	if hostname == entry {
		return true
	}
	return p.AllowSubdomains && strings.HasSuffix(hostname, "."+entry)
}

// DataPointKey labels a single extraction result.
type DataPointKey string

const (
	KeyContactDetails  DataPointKey = "contact_details"
	KeyHomepageSKUs    DataPointKey = "homepage_skus_summary"
	KeyPolicyLinks     DataPointKey = "policy_links"
	KeyAILikelihood    DataPointKey = "ai_generated_likelihood"
	KeyRiskAssessment  DataPointKey = "domain_risk_assessment"
	KeyIntelSignals    DataPointKey = "domain_intel_signals"
)

// DataPoint is one labeled extraction result. It is stored twice: as an
// immutable scan-scoped snapshot, and upserted into the per-domain
// "latest" view keyed by (domain, key).
type DataPoint struct {
	Key         DataPointKey
	Label       string
	Payload     json.RawMessage
	Sources     []string
	Raw         string
	ExtractedAt time.Time
}

// Fetch source tags recorded on every log entry.
const (
	SourceHomepage        = "homepage"
	SourceContactPage     = "contact-page"
	SourceSitemap         = "sitemap"
	SourceCrawl           = "crawl"
	SourceBrowserFallback = "browser-fallback"
)

// FetchLogEntry records exactly one fetch attempt during a scan.
// Entries are append-only and never mutated after insert.
type FetchLogEntry struct {
	ScanID        string
	URL           string
	StatusCode    int
	Error         string
	Duration      time.Duration
	RobotsAllowed bool
	Source        string
	FetchedAt     time.Time
}

// SignalLogEntry records one atomic signal computed during risk
// intelligence collection. Append-only, scan-scoped.
type SignalLogEntry struct {
	ScanID   string
	Category string
	Name     string
	Value    string
	Severity string
}

// Signal severity tags.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
