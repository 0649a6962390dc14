package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"siteintel/pkg/types"
)

// CreateScan inserts a new scan row in the pending state.
func (s *Store) CreateScan(ctx context.Context, sc types.Scan) error {
	query := `
        INSERT INTO scans (id, domain_id, target_url, is_active, status_code, status, error, checked_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
    `
	if _, err := s.db.ExecContext(ctx, query,
		sc.ID, sc.DomainID, sc.TargetURL, sc.IsActive, sc.StatusCode,
		string(sc.Status), sc.Error, nullTime(sc.CheckedAt),
	); err != nil {
		return fmt.Errorf("create scan: %w", err)
	}
	return nil
}

// TransitionScan advances a scan's lifecycle status. The guard in the
// WHERE clause refuses to move a scan that already reached a terminal
// state, keeping transitions monotone even under a racing writer.
func (s *Store) TransitionScan(ctx context.Context, scanID string, status types.ScanStatus, errMsg string) error {
	query := `
        UPDATE scans SET status = $2, error = $3
        WHERE id = $1 AND status NOT IN ('completed', 'failed')
    `
	res, err := s.db.ExecContext(ctx, query, scanID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("transition scan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transition scan %s to %s: %w", scanID, status, ErrTerminalScan)
	}
	return nil
}

// ErrTerminalScan signals an attempted transition on a finished scan.
var ErrTerminalScan = errors.New("store: scan already terminal")

// UpdateScanReachability records the probe snapshot on the scan row.
func (s *Store) UpdateScanReachability(ctx context.Context, scanID string, active bool, statusCode int, checkedAt time.Time) error {
	query := `UPDATE scans SET is_active = $2, status_code = $3, checked_at = $4 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, scanID, active, statusCode, checkedAt); err != nil {
		return fmt.Errorf("update scan reachability: %w", err)
	}
	return nil
}

// GetScan loads a scan row by id.
func (s *Store) GetScan(ctx context.Context, scanID string) (*types.Scan, error) {
	query := `
        SELECT id, domain_id, target_url, is_active, status_code, status, error, checked_at, created_at
        FROM scans WHERE id = $1
    `
	var sc types.Scan
	var status string
	var checkedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, scanID).Scan(
		&sc.ID, &sc.DomainID, &sc.TargetURL, &sc.IsActive, &sc.StatusCode,
		&status, &sc.Error, &checkedAt, &sc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	sc.Status = types.ScanStatus(status)
	if checkedAt.Valid {
		sc.CheckedAt = checkedAt.Time
	}
	return &sc, nil
}
