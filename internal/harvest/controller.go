// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest runs one fetch of one source: it opens a FetchEvent,
// lets the source adapter enumerate candidates through a Session, and
// closes the event with the run's counters.
//
// Runs are sequential and assume a single writer per source. Two
// concurrent runs against the same source may fetch a record twice; both
// commits overwrite the same artifact, so the result is still consistent,
// but nothing prevents or detects the overlap.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/ctmirror/internal/commit"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// Ledger is the persistence the controller needs. *ledger.Store
// satisfies it.
type Ledger interface {
	commit.Ledger
	CreateEvent(ctx context.Context, ev *types.FetchEvent) error
	CloseEvent(ctx context.Context, ev types.FetchEvent) error
	EnsurePending(ctx context.Context, sourceID int, naturalID, remoteURL string) error
	ListIDs(ctx context.Context, sourceID int) ([]string, error)
}

// Source is a registry adapter. Harvest enumerates candidate records,
// asks the session whether each needs fetching, and commits the ones
// that do.
type Source interface {
	Name() string
	ID() int
	Harvest(ctx context.Context, s *Session) error
}

// ProgressReporter is implemented by sources that want progress logged at
// a specific interval. Page-driven sources use 10, API sources 100.
type ProgressReporter interface {
	ProgressEvery() int
}

const defaultProgressEvery = 100

// Controller runs sources against a ledger and a data directory.
type Controller struct {
	Ledger  Ledger
	DataDir string
	Logger  *slog.Logger

	// Out receives the human-readable run summary. Nil discards it.
	Out io.Writer

	// BreakerOptions configure the navigation breaker of each run.
	BreakerOptions []BreakerOption

	now    func() time.Time
	runKey func() string
}

// NewController returns a Controller with the default clock and UUIDv7
// run keys.
func NewController(l Ledger, dataDir string, logger *slog.Logger, out io.Writer) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Controller{
		Ledger:  l,
		DataDir: dataDir,
		Logger:  logger,
		Out:     out,
		now:     time.Now,
		runKey:  newRunKey,
	}
}

func newRunKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run validates policy, then performs one run of src and returns its
// closed FetchEvent. A configuration error is returned before anything is
// fetched or recorded. Once the event is open it is always closed, even
// when the source fails; the source's error is returned with the event.
func (c *Controller) Run(ctx context.Context, src Source, policy types.RunPolicy) (types.FetchEvent, error) {
	if policy.SourceID == 0 {
		policy.SourceID = src.ID()
	}
	if policy.SourceID != src.ID() {
		return types.FetchEvent{}, fmt.Errorf("%w: policy source %d does not match %s (%d)",
			types.ErrConfig, policy.SourceID, src.Name(), src.ID())
	}
	if err := policy.Validate(); err != nil {
		return types.FetchEvent{}, err
	}
	if v, ok := src.(interface{ Validate(types.RunPolicy) error }); ok {
		if err := v.Validate(policy); err != nil {
			return types.FetchEvent{}, err
		}
	}

	ev := types.FetchEvent{
		RunKey:      c.runKey(),
		SourceID:    src.ID(),
		TypeID:      policy.TypeID,
		TimeStarted: c.now().UTC(),
		Policy:      policy,
	}
	if err := c.Ledger.CreateEvent(ctx, &ev); err != nil {
		return ev, fmt.Errorf("opening fetch event: %w", err)
	}

	logger := c.Logger.With("source", src.Name(), "event", ev.ID, "run", ev.RunKey)
	logger.InfoContext(ctx, "run started", "type", types.TypeName(policy.TypeID),
		"skip_recent_days", policy.SkipRecentDays, "force_all", policy.ForceAll)

	every := defaultProgressEvery
	if p, ok := src.(ProgressReporter); ok && p.ProgressEvery() > 0 {
		every = p.ProgressEvery()
	}
	s := &Session{
		ledger:  c.Ledger,
		writer:  commit.NewWriter(c.DataDir, src.ID(), src.Name(), c.Ledger),
		breaker: NewBreaker(c.BreakerOptions...),
		policy:  policy,
		event:   &ev,
		logger:  logger,
		metrics: newRunMetrics(src.Name()),
		every:   every,
		now:     c.now,
	}

	runErr := src.Harvest(ctx, s)
	if runErr != nil {
		logger.ErrorContext(ctx, "source failed", "error", runErr)
	}

	ended := c.now().UTC()
	ev.TimeEnded = &ended
	// The event must be closed even when ctx was cancelled mid-run.
	closeCtx := context.WithoutCancel(ctx)
	if err := c.Ledger.CloseEvent(closeCtx, ev); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("closing fetch event: %w", err))
	}

	logger.InfoContext(ctx, "run finished",
		"checked", ev.NumChecked, "downloaded", ev.NumDownloaded,
		"added", ev.NumAdded, "failed", ev.NumFailed,
		"duration", ended.Sub(ev.TimeStarted).Round(time.Millisecond))
	fmt.Fprintf(c.Out, "%s run %d: %d checked, %d downloaded, %d added, %d failed\n",
		src.Name(), ev.ID, ev.NumChecked, ev.NumDownloaded, ev.NumAdded, ev.NumFailed)

	return ev, runErr
}
