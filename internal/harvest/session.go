// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"log/slog"
	"time"

	"github.com/pdiddy/ctmirror/internal/commit"
	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// Session is a source's view of one run. It is not safe for concurrent
// use.
type Session struct {
	ledger  Ledger
	writer  *commit.Writer
	breaker *Breaker
	policy  types.RunPolicy
	event   *types.FetchEvent
	logger  *slog.Logger
	metrics *runMetrics
	every   int
	now     func() time.Time

	pages int
}

// Policy returns the run's policy.
func (s *Session) Policy() types.RunPolicy { return s.policy }

// EventID returns the id of the run's FetchEvent.
func (s *Session) EventID() int64 { return s.event.ID }

// Logger returns the run-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Now returns the run's clock.
func (s *Session) Now() time.Time { return s.now() }

// KnownIDs returns every natural id the ledger holds for the source.
func (s *Session) KnownIDs(ctx context.Context) ([]string, error) {
	return s.ledger.ListIDs(ctx, s.event.SourceID)
}

// Consider counts naturalID as checked and reports whether it must be
// fetched. A ledger read failure is logged and the record skipped.
func (s *Session) Consider(ctx context.Context, naturalID string) bool {
	s.event.NumChecked++
	s.metrics.inc(ctx, s.metrics.checked)
	if s.every > 0 && s.event.NumChecked%s.every == 0 {
		s.progress(ctx)
	}

	entry, err := s.ledger.Lookup(ctx, s.event.SourceID, naturalID)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger lookup failed, skipping", "id", naturalID, "error", err)
		return false
	}
	d := ledger.ShouldFetch(entry, s.policy, s.now())
	s.logger.DebugContext(ctx, "decision", "id", naturalID, "fetch", d.Fetch, "reason", d.Reason)
	return d.Fetch
}

// Commit writes rec and records it in the ledger. Failures are logged and
// counted; the returned error lets the source decide whether to go on.
func (s *Session) Commit(ctx context.Context, rec types.Record) error {
	res, err := s.writer.Commit(ctx, s.event.ID, rec)
	if err != nil {
		s.event.NumFailed++
		s.metrics.inc(ctx, s.metrics.failed)
		s.logger.ErrorContext(ctx, "commit failed", "id", rec.NaturalID, "error", err)
		return err
	}
	s.event.NumDownloaded++
	s.metrics.inc(ctx, s.metrics.downloaded)
	if res.Added {
		s.event.NumAdded++
		s.metrics.inc(ctx, s.metrics.added)
	}
	s.logger.DebugContext(ctx, "committed", "id", rec.NaturalID, "path", res.Path,
		"added", res.Added, "complete", rec.Complete)
	return nil
}

// Fail records that naturalID could not be fetched or extracted. A record
// seen for the first time is entered in the ledger as pending.
func (s *Session) Fail(ctx context.Context, naturalID, remoteURL string, err error) {
	s.event.NumFailed++
	s.metrics.inc(ctx, s.metrics.failed)
	s.logger.WarnContext(ctx, "record skipped", "id", naturalID, "url", remoteURL, "error", err)
	if naturalID == "" {
		return
	}
	if perr := s.ledger.EnsurePending(ctx, s.event.SourceID, naturalID, remoteURL); perr != nil {
		s.logger.ErrorContext(ctx, "recording pending entry failed", "id", naturalID, "error", perr)
	}
}

// Navigate runs one unit of page navigation behind the breaker. After
// too many consecutive failures the breaker opens and the next Navigate
// waits out the cooldown. Only cancellation of ctx is returned as an
// error from the wait; fn's error is returned as is.
func (s *Session) Navigate(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.breaker.State() == BreakerOpen {
		s.logger.WarnContext(ctx, "pausing after repeated failures", "until", s.breaker.Until())
	}
	if err := s.breaker.Wait(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	s.pages++
	if err != nil {
		if s.breaker.Failure() {
			s.logger.WarnContext(ctx, "navigation breaker opened", "until", s.breaker.Until(), "error", err)
		}
	} else {
		s.breaker.Success()
	}
	if s.every > 0 && s.pages%s.every == 0 {
		s.progress(ctx)
	}
	return err
}

func (s *Session) progress(ctx context.Context) {
	s.logger.InfoContext(ctx, "progress", "pages", s.pages,
		"checked", s.event.NumChecked, "downloaded", s.event.NumDownloaded,
		"added", s.event.NumAdded, "failed", s.event.NumFailed)
}
