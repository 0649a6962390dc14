// Package store is the persistence gateway for scans. Scan-scoped tables
// (scans, fetch_log, data_points, signal_log) are append-only aside from
// the owning scan's status transitions; the domain-scoped tables
// (domains, domain_data_points) are upserted so exactly one row per key
// survives rescans.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"siteintel/internal/config"
)

// Store wraps the SQL database used for all scan persistence.
type Store struct {
	db          *sql.DB
	autoMigrate bool
}

// New opens the database connection and optionally applies the schema.
func New(cfg config.SQLConfig) (*Store, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	s := &Store{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domains (
		    id TEXT PRIMARY KEY,
		    hostname TEXT NOT NULL,
		    is_active BOOLEAN NOT NULL DEFAULT FALSE,
		    status_code INT NOT NULL DEFAULT 0,
		    manual_risk TEXT NOT NULL DEFAULT '',
		    checked_at TIMESTAMPTZ,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS authorized_domains (
		    hostname TEXT PRIMARY KEY,
		    allow_subdomains BOOLEAN NOT NULL DEFAULT FALSE,
		    respect_robots BOOLEAN NOT NULL DEFAULT TRUE,
		    max_pages_per_scan INT NOT NULL DEFAULT 25,
		    crawl_delay_ms INT NOT NULL DEFAULT 500
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
		    id TEXT PRIMARY KEY,
		    domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
		    target_url TEXT NOT NULL,
		    is_active BOOLEAN NOT NULL DEFAULT FALSE,
		    status_code INT NOT NULL DEFAULT 0,
		    status TEXT NOT NULL,
		    error TEXT NOT NULL DEFAULT '',
		    checked_at TIMESTAMPTZ,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_domain ON scans (domain_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS fetch_log (
		    id BIGSERIAL PRIMARY KEY,
		    scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		    url TEXT NOT NULL,
		    status_code INT NOT NULL DEFAULT 0,
		    error TEXT NOT NULL DEFAULT '',
		    duration_ms BIGINT NOT NULL DEFAULT 0,
		    robots_allowed BOOLEAN NOT NULL DEFAULT TRUE,
		    source TEXT NOT NULL,
		    fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_log_scan ON fetch_log (scan_id)`,
		`CREATE TABLE IF NOT EXISTS data_points (
		    id BIGSERIAL PRIMARY KEY,
		    scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		    key TEXT NOT NULL,
		    label TEXT NOT NULL DEFAULT '',
		    payload JSONB,
		    sources TEXT[],
		    raw TEXT NOT NULL DEFAULT '',
		    extracted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_data_points_scan ON data_points (scan_id, key)`,
		`CREATE TABLE IF NOT EXISTS domain_data_points (
		    domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
		    key TEXT NOT NULL,
		    label TEXT NOT NULL DEFAULT '',
		    payload JSONB,
		    sources TEXT[],
		    raw TEXT NOT NULL DEFAULT '',
		    extracted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (domain_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS signal_log (
		    id BIGSERIAL PRIMARY KEY,
		    scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		    category TEXT NOT NULL,
		    name TEXT NOT NULL,
		    value TEXT NOT NULL DEFAULT '',
		    severity TEXT NOT NULL DEFAULT 'info'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_log_scan ON signal_log (scan_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
