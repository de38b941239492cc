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

// CreateEvent inserts ev as an open FetchEvent and sets ev.ID from the
// store's sequence. TimeStarted defaults to now.
func (s *Store) CreateEvent(ctx context.Context, ev *types.FetchEvent) error {
	if ev.RunKey == "" {
		return fmt.Errorf("creating fetch event: missing run key")
	}
	if ev.TimeStarted.IsZero() {
		ev.TimeStarted = s.now()
	}
	p := ev.Policy
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_events (run_key, source_id, type_id, time_started,
			cutoff_date, end_date, skip_recent_days, force_all, id_file, filter)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunKey, ev.SourceID, ev.TypeID, formatTime(&ev.TimeStarted),
		formatTime(p.CutoffDate), formatTime(p.EndDate), p.SkipRecentDays, p.ForceAll, p.IDFile, p.Filter,
	)
	if err != nil {
		return fmt.Errorf("creating fetch event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading fetch event id: %w", err)
	}
	ev.ID = id
	return nil
}

// CloseEvent writes the final counters and end time. An event can be
// closed once; later attempts return ErrEventClosed.
func (s *Store) CloseEvent(ctx context.Context, ev types.FetchEvent) error {
	ended := ev.TimeEnded
	if ended == nil {
		now := s.now()
		ended = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE fetch_events SET time_ended = ?, num_checked = ?, num_downloaded = ?,
			num_added = ?, num_failed = ?
		 WHERE id = ? AND time_ended IS NULL`,
		formatTime(ended), ev.NumChecked, ev.NumDownloaded, ev.NumAdded, ev.NumFailed, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("closing fetch event %d: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing fetch event %d: %w", ev.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("closing fetch event %d: %w", ev.ID, ErrEventClosed)
	}
	return nil
}

const eventColumns = `id, run_key, source_id, type_id, time_started, time_ended,
	num_checked, num_downloaded, num_added, num_failed,
	cutoff_date, end_date, skip_recent_days, force_all, id_file, filter`

func scanEvent(row rowScanner) (*types.FetchEvent, error) {
	var (
		ev             types.FetchEvent
		started, ended sql.NullString
		cutoff, end    sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.RunKey, &ev.SourceID, &ev.TypeID, &started, &ended,
		&ev.NumChecked, &ev.NumDownloaded, &ev.NumAdded, &ev.NumFailed,
		&cutoff, &end, &ev.Policy.SkipRecentDays, &ev.Policy.ForceAll,
		&ev.Policy.IDFile, &ev.Policy.Filter); err != nil {
		return nil, err
	}
	ev.Policy.SourceID = ev.SourceID
	ev.Policy.TypeID = ev.TypeID

	t, err := parseTime(started)
	if err != nil {
		return nil, err
	}
	if t != nil {
		ev.TimeStarted = *t
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{{&ev.TimeEnded, ended}, {&ev.Policy.CutoffDate, cutoff}, {&ev.Policy.EndDate, end}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &ev, nil
}

// GetEvent returns one FetchEvent by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*types.FetchEvent, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM fetch_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch event %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading fetch event %d: %w", id, err)
	}
	return ev, nil
}

// RecentEvents returns up to limit events, newest first. A sourceID of 0
// returns events for every source.
func (s *Store) RecentEvents(ctx context.Context, sourceID, limit int) ([]types.FetchEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + eventColumns + ` FROM fetch_events`
	args := []any{}
	if sourceID > 0 {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fetch events: %w", err)
	}
	defer rows.Close()

	var events []types.FetchEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fetch event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}
