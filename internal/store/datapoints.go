package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pq "github.com/lib/pq"

	"siteintel/pkg/types"
)

// SaveDataPoints persists extraction results in one transaction: an
// immutable scan-scoped snapshot per point, plus the per-domain "latest"
// upsert keyed by (domain_id, key). The upsert is what serializes
// concurrent writers for the same key; no application-level locking.
func (s *Store) SaveDataPoints(ctx context.Context, scanID, domainID string, points []types.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin data points tx: %w", err)
	}
	defer tx.Rollback()

	scanInsert := `
        INSERT INTO data_points (scan_id, key, label, payload, sources, raw, extracted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `
	domainUpsert := `
        INSERT INTO domain_data_points (domain_id, key, label, payload, sources, raw, extracted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (domain_id, key) DO UPDATE SET
            label = EXCLUDED.label,
            payload = EXCLUDED.payload,
            sources = EXCLUDED.sources,
            raw = EXCLUDED.raw,
            extracted_at = EXCLUDED.extracted_at
    `

	for _, p := range points {
		payload := []byte(p.Payload)
		if len(payload) == 0 {
			payload = []byte("null")
		}
		if _, err := tx.ExecContext(ctx, scanInsert,
			scanID, string(p.Key), p.Label, payload, pq.Array(p.Sources), p.Raw, p.ExtractedAt,
		); err != nil {
			return fmt.Errorf("insert data point %s: %w", p.Key, err)
		}
		if _, err := tx.ExecContext(ctx, domainUpsert,
			domainID, string(p.Key), p.Label, payload, pq.Array(p.Sources), p.Raw, p.ExtractedAt,
		); err != nil {
			return fmt.Errorf("upsert domain data point %s: %w", p.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit data points: %w", err)
	}
	return nil
}

// LatestDomainDataPoint reads the current per-domain result for a key.
// Absence is reported as ErrNotFound, which readers treat as "no data
// yet", not a fault.
func (s *Store) LatestDomainDataPoint(ctx context.Context, domainID string, key types.DataPointKey) (*types.DataPoint, error) {
	query := `
        SELECT key, label, payload, sources, raw, extracted_at
        FROM domain_data_points
        WHERE domain_id = $1 AND key = $2
    `
	var p types.DataPoint
	var keyStr string
	var payload []byte
	var sources pq.StringArray
	err := s.db.QueryRowContext(ctx, query, domainID, string(key)).Scan(
		&keyStr, &p.Label, &payload, &sources, &p.Raw, &p.ExtractedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest domain data point: %w", err)
	}
	p.Key = types.DataPointKey(keyStr)
	p.Payload = payload
	p.Sources = []string(sources)
	return &p, nil
}
