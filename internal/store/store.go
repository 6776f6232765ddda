// Package store persists glossary terms, import checkpoints, cost
// records, budgets, and status reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrRetryable marks transactional failures that are safe to retry:
// the whole batch rolled back and no checkpoint moved.
var ErrRetryable = errors.New("retryable storage error")

// Store manages glossary persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	// database/sql pools connections, so per-connection pragmas must go
	// through the DSN for the driver to apply them to every connection.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) applyMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS terms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		definition TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		row_hash   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS term_sections (
		term_id  TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
		section  TEXT NOT NULL,
		content  TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (term_id, section)
	)`,
	`CREATE TABLE IF NOT EXISTS import_checkpoints (
		document_id TEXT PRIMARY KEY,
		row         INTEGER NOT NULL,
		inserted    INTEGER NOT NULL DEFAULT 0,
		updated     INTEGER NOT NULL DEFAULT 0,
		errored     INTEGER NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cost_records (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id  TEXT NOT NULL,
		term_id       TEXT NOT NULL,
		model         TEXT NOT NULL,
		category      TEXT NOT NULL DEFAULT '',
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd      REAL NOT NULL,
		created_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_records_operation ON cost_records(operation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_records_created ON cost_records(created_at)`,
	`CREATE TABLE IF NOT EXISTS budgets (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL UNIQUE,
		total_usd    REAL NOT NULL,
		period_start TEXT NOT NULL,
		period_end   TEXT NOT NULL,
		categories   TEXT NOT NULL DEFAULT '[]',
		warn_pct     INTEGER NOT NULL DEFAULT 80,
		critical_pct INTEGER NOT NULL DEFAULT 95,
		created_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS status_reports (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		section      TEXT NOT NULL,
		milestone    INTEGER NOT NULL,
		processed    INTEGER NOT NULL,
		succeeded    INTEGER NOT NULL,
		failed       INTEGER NOT NULL,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_reports_operation ON status_reports(operation_id)`,
}
