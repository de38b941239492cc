// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger persists what has been fetched from each source and the
// audit trail of fetch runs, and decides whether a record needs fetching.
//
// The store is single-writer: two runs against the same source may both
// decide to fetch a record and both commit it. That is harmless because
// commits overwrite, but it is not a supported mode of operation.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrEventClosed is returned when closing a FetchEvent that is already closed
// or does not exist.
var ErrEventClosed = errors.New("fetch event already closed or missing")

// Store reads and writes the ledger database. The *sql.DB and its pool are
// owned by whoever created the Store; Close releases them.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite ledger at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// One writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS fetch_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_key TEXT NOT NULL UNIQUE,
			source_id INTEGER NOT NULL,
			type_id INTEGER NOT NULL,
			time_started TEXT NOT NULL,
			time_ended TEXT,
			num_checked INTEGER NOT NULL DEFAULT 0,
			num_downloaded INTEGER NOT NULL DEFAULT 0,
			num_added INTEGER NOT NULL DEFAULT 0,
			num_failed INTEGER NOT NULL DEFAULT 0,
			cutoff_date TEXT,
			end_date TEXT,
			skip_recent_days INTEGER NOT NULL DEFAULT 0,
			force_all INTEGER NOT NULL DEFAULT 0,
			id_file TEXT NOT NULL DEFAULT '',
			filter TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_events_source ON fetch_events(source_id, id)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			source_id INTEGER NOT NULL,
			natural_id TEXT NOT NULL,
			remote_url TEXT NOT NULL DEFAULT '',
			last_revised TEXT,
			download_status TEXT NOT NULL DEFAULT 'pending',
			assume_complete INTEGER NOT NULL DEFAULT 0,
			local_path TEXT NOT NULL DEFAULT '',
			last_downloaded TEXT,
			last_fetch_event_id INTEGER REFERENCES fetch_events(id),
			PRIMARY KEY (source_id, natural_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_last_downloaded ON ledger_entries(source_id, last_downloaded)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// timeLayout is fixed-width UTC so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing stored time %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
