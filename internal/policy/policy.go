// Package policy decides how aggressively a hostname may be crawled.
// The decision is a pure lookup over a snapshot of the authorized-domain
// table: absence of a matching entry is a valid "not authorized" result,
// never an error.
package policy

import (
	"siteintel/pkg/types"
)

// Decision is the outcome of resolving a hostname against the
// authorized-domain list.
type Decision struct {
	Authorized bool
	Policy     types.Policy
}

// Resolver matches hostnames against a fixed policy snapshot.
type Resolver struct {
	entries []types.Policy
}

// NewResolver builds a resolver over a snapshot of policy entries.
func NewResolver(entries []types.Policy) *Resolver {
	return &Resolver{entries: entries}
}

// Resolve returns the crawl policy for a hostname. An exact-host entry
// wins over a subdomain match so a narrower grant can tighten limits for
// one host under a broad wildcard entry.
func (r *Resolver) Resolve(hostname string) Decision {
	host := types.NormalizeHostname(hostname)
	if host == "" {
		return Decision{}
	}

	var subdomainMatch *types.Policy
	for i := range r.entries {
		entry := r.entries[i]
		if types.NormalizeHostname(entry.Hostname) == host {
			return Decision{Authorized: true, Policy: clamp(entry)}
		}
		if subdomainMatch == nil && entry.Matches(host) {
			subdomainMatch = &entry
		}
	}
	if subdomainMatch != nil {
		return Decision{Authorized: true, Policy: clamp(*subdomainMatch)}
	}
	return Decision{}
}

func clamp(p types.Policy) types.Policy {
	if p.MaxPagesPerScan <= 0 {
		p.MaxPagesPerScan = 25
	}
	if p.CrawlDelay < 0 {
		p.CrawlDelay = 0
	}
	return p
}
