// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/ctmirror/pkg/types"
)

const entryColumns = `source_id, natural_id, remote_url, last_revised, download_status,
	assume_complete, local_path, last_downloaded, last_fetch_event_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.LedgerEntry, error) {
	var (
		e                   types.LedgerEntry
		status              string
		revised, downloaded sql.NullString
		eventID             sql.NullInt64
	)
	if err := row.Scan(&e.SourceID, &e.NaturalID, &e.RemoteURL, &revised, &status,
		&e.AssumeComplete, &e.LocalPath, &downloaded, &eventID); err != nil {
		return nil, err
	}
	e.DownloadStatus = types.DownloadStatus(status)
	e.LastFetchEventID = eventID.Int64

	var err error
	if e.LastRevised, err = parseTime(revised); err != nil {
		return nil, err
	}
	if e.LastDownloaded, err = parseTime(downloaded); err != nil {
		return nil, err
	}
	return &e, nil
}

// Lookup returns the entry for naturalID, or nil when the record has never
// been seen.
func (s *Store) Lookup(ctx context.Context, sourceID int, naturalID string) (*types.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE source_id = ? AND natural_id = ?`,
		sourceID, naturalID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %d/%s: %w", sourceID, naturalID, err)
	}
	return e, nil
}

// Upsert inserts or replaces the entry for e's (SourceID, NaturalID).
func (s *Store) Upsert(ctx context.Context, e types.LedgerEntry) error {
	status := e.DownloadStatus
	if status == "" {
		status = types.StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, natural_id) DO UPDATE SET
			remote_url=excluded.remote_url, last_revised=excluded.last_revised,
			download_status=excluded.download_status, assume_complete=excluded.assume_complete,
			local_path=excluded.local_path, last_downloaded=excluded.last_downloaded,
			last_fetch_event_id=excluded.last_fetch_event_id`,
		e.SourceID, e.NaturalID, e.RemoteURL, formatTime(e.LastRevised), string(status),
		e.AssumeComplete, e.LocalPath, formatTime(e.LastDownloaded), nullID(e.LastFetchEventID),
	)
	if err != nil {
		return fmt.Errorf("upserting %d/%s: %w", e.SourceID, e.NaturalID, err)
	}
	return nil
}

// EnsurePending records the first sighting of a record that could not be
// downloaded. Existing entries are left alone.
func (s *Store) EnsurePending(ctx context.Context, sourceID int, naturalID, remoteURL string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_entries (source_id, natural_id, remote_url, download_status)
		 VALUES (?, ?, ?, ?)`,
		sourceID, naturalID, remoteURL, string(types.StatusPending))
	if err != nil {
		return fmt.Errorf("recording pending %d/%s: %w", sourceID, naturalID, err)
	}
	return nil
}

// ListIDs returns every natural id known for a source, in id order.
func (s *Store) ListIDs(ctx context.Context, sourceID int) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT natural_id FROM ledger_entries WHERE source_id = ? ORDER BY natural_id`, sourceID)
}

// DownloadedWithin returns the ids of records downloaded in the last days
// days, measured from now.
func (s *Store) DownloadedWithin(ctx context.Context, sourceID, days int, now time.Time) ([]string, error) {
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	return s.queryIDs(ctx,
		`SELECT natural_id FROM ledger_entries
		 WHERE source_id = ? AND last_downloaded IS NOT NULL AND last_downloaded >= ?
		 ORDER BY natural_id`,
		sourceID, since.UTC().Format(timeLayout))
}

// CountByStatus returns the number of entries per download status.
func (s *Store) CountByStatus(ctx context.Context, sourceID int) (map[types.DownloadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT download_status, count(*) FROM ledger_entries WHERE source_id = ? GROUP BY download_status`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.DownloadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[types.DownloadStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
