package store

import (
	"context"
	"fmt"
	"time"

	"siteintel/pkg/types"
)

// ListPolicies loads the full authorized-domain table. The orchestrator
// snapshots it once per scan; the pipeline never reads it live.
func (s *Store) ListPolicies(ctx context.Context) ([]types.Policy, error) {
	query := `
        SELECT hostname, allow_subdomains, respect_robots, max_pages_per_scan, crawl_delay_ms
        FROM authorized_domains
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []types.Policy
	for rows.Next() {
		var p types.Policy
		var delayMs int
		if err := rows.Scan(&p.Hostname, &p.AllowSubdomains, &p.RespectRobots, &p.MaxPagesPerScan, &delayMs); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		p.CrawlDelay = time.Duration(delayMs) * time.Millisecond
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return policies, nil
}
