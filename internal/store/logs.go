package store

import (
	"context"
	"fmt"

	"siteintel/pkg/types"
)

// RecordFetch appends one fetch-log row. Entries are append-only, so
// concurrent writers need no coordination beyond the insert itself.
func (s *Store) RecordFetch(ctx context.Context, entry types.FetchLogEntry) error {
	query := `
        INSERT INTO fetch_log (scan_id, url, status_code, error, duration_ms, robots_allowed, source, fetched_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `
	if _, err := s.db.ExecContext(ctx, query,
		entry.ScanID, entry.URL, entry.StatusCode, entry.Error,
		entry.Duration.Milliseconds(), entry.RobotsAllowed, entry.Source, entry.FetchedAt,
	); err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// AppendSignals inserts the signal-log rows produced by one intel run.
func (s *Store) AppendSignals(ctx context.Context, entries []types.SignalLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signals tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO signal_log (scan_id, category, name, value, severity)
        VALUES ($1,$2,$3,$4,$5)
    `)
	if err != nil {
		return fmt.Errorf("prepare signal insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx,
			entry.ScanID, entry.Category, entry.Name, entry.Value, entry.Severity,
		); err != nil {
			return fmt.Errorf("insert signal %s/%s: %w", entry.Category, entry.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signals: %w", err)
	}
	return nil
}

// CountFetches returns the number of fetch-log rows for a scan.
func (s *Store) CountFetches(ctx context.Context, scanID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetch_log WHERE scan_id = $1`, scanID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fetches: %w", err)
	}
	return n, nil
}
