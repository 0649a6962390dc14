package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"siteintel/pkg/types"
)

// UpsertDomain ensures the domain row for a hostname exists. Reachability
// columns are written by UpdateDomainReachability once a probe has run,
// and the manual-risk override is owned by admin tooling, so neither is
// touched here.
func (s *Store) UpsertDomain(ctx context.Context, d types.Domain) error {
	query := `
        INSERT INTO domains (id, hostname, is_active, status_code, checked_at, created_at)
        VALUES ($1,$2,$3,$4,$5,NOW())
        ON CONFLICT (id) DO UPDATE SET hostname = EXCLUDED.hostname
    `
	if err := s.execWithSchemaRetry(ctx, query,
		d.ID, d.Hostname, d.IsActive, d.StatusCode, nullTime(d.CheckedAt),
	); err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

// UpdateDomainReachability records the latest probe outcome for a domain.
func (s *Store) UpdateDomainReachability(ctx context.Context, domainID string, active bool, statusCode int, checkedAt time.Time) error {
	query := `UPDATE domains SET is_active = $2, status_code = $3, checked_at = $4 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, domainID, active, statusCode, checkedAt); err != nil {
		return fmt.Errorf("update domain reachability: %w", err)
	}
	return nil
}

// GetDomain loads a domain row by id.
func (s *Store) GetDomain(ctx context.Context, domainID string) (*types.Domain, error) {
	query := `
        SELECT id, hostname, is_active, status_code, manual_risk, checked_at, created_at
        FROM domains WHERE id = $1
    `
	var d types.Domain
	var checkedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, domainID).Scan(
		&d.ID, &d.Hostname, &d.IsActive, &d.StatusCode, &d.ManualRisk, &checkedAt, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	if checkedAt.Valid {
		d.CheckedAt = checkedAt.Time
	}
	return &d, nil
}

// ErrNotFound is returned for keyed reads with no matching row.
var ErrNotFound = errors.New("store: not found")

func (s *Store) execWithSchemaRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		_, retryErr := s.db.ExecContext(ctx, query, args...)
		return retryErr
	}
	return err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
