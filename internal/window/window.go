// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package window splits a date range into query windows that each stay
// under a server-side result cap. Sources whose search API silently
// truncates large result sets use it to enumerate every record.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCap is the largest result set a capped API returns for one query.
const DefaultCap = 10000

const day = 24 * time.Hour

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// Span returns the length of the range.
func (r Range) Span() time.Duration { return r.End.Sub(r.Start) }

// Empty reports whether the range contains no instant.
func (r Range) Empty() bool { return !r.End.After(r.Start) }

// Window is a planned query range with its probed result count. Overflow
// means the count still exceeds the cap at the finest granularity; records
// beyond the cap in that window will not be enumerated.
type Window struct {
	Range
	Count    int
	Overflow bool
}

// Counter is a count-only probe of a range.
type Counter interface {
	Count(ctx context.Context, r Range) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context, r Range) (int, error)

func (f CounterFunc) Count(ctx context.Context, r Range) (int, error) { return f(ctx, r) }

// Planner finds windows by probing counts. The zero value is usable.
type Planner struct {
	// Cap is the per-query result cap (DefaultCap when zero).
	Cap int

	// MinSpan is the smallest window the planner will split (one day when
	// zero).
	MinSpan time.Duration

	Logger *slog.Logger
}

func (p *Planner) cap() int {
	if p.Cap <= 0 {
		return DefaultCap
	}
	return p.Cap
}

func (p *Planner) minSpan() time.Duration {
	if p.MinSpan <= 0 {
		return day
	}
	return p.MinSpan
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Plan returns windows that cover r exactly, in ascending order, without
// overlap. A range whose count exceeds the cap is bisected at a
// day-aligned midpoint until each half fits or reaches MinSpan.
func (p *Planner) Plan(ctx context.Context, c Counter, r Range) ([]Window, error) {
	if r.Empty() {
		return nil, fmt.Errorf("planning %s: empty range", r)
	}
	var out []Window
	if err := p.plan(ctx, c, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Planner) plan(ctx context.Context, c Counter, r Range, out *[]Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := c.Count(ctx, r)
	if err != nil {
		return fmt.Errorf("counting %s: %w", r, err)
	}
	if n <= p.cap() {
		*out = append(*out, Window{Range: r, Count: n})
		return nil
	}
	if r.Span() <= p.minSpan() {
		p.logger().WarnContext(ctx, "window exceeds result cap at finest granularity",
			"window", r.String(), "count", n, "cap", p.cap())
		*out = append(*out, Window{Range: r, Count: n, Overflow: true})
		return nil
	}

	mid := midpoint(r)
	p.logger().DebugContext(ctx, "splitting window", "window", r.String(), "count", n,
		"mid", mid.Format(time.DateOnly))
	if err := p.plan(ctx, c, Range{Start: r.Start, End: mid}, out); err != nil {
		return err
	}
	return p.plan(ctx, c, Range{Start: mid, End: r.End}, out)
}

// midpoint splits r on a whole-day boundary from r.Start when the range
// is at least two days long, and at the exact middle otherwise.
func midpoint(r Range) time.Time {
	half := (r.Span() / 2).Truncate(day)
	if half <= 0 {
		half = r.Span() / 2
	}
	return r.Start.Add(half)
}

// Verify probes each range and flags the ones whose count exceeds the cap.
// It is used with fixed plans such as Cascade, where the split points are
// chosen in advance.
func (p *Planner) Verify(ctx context.Context, c Counter, ranges []Range) ([]Window, error) {
	out := make([]Window, 0, len(ranges))
	for _, r := range ranges {
		n, err := c.Count(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", r, err)
		}
		w := Window{Range: r, Count: n}
		if n > p.cap() {
			w.Overflow = true
			p.logger().WarnContext(ctx, "fixed window exceeds result cap",
				"window", r.String(), "count", n, "cap", p.cap())
		}
		out = append(out, w)
	}
	return out, nil
}

// Overflowed returns the windows marked Overflow.
func Overflowed(ws []Window) []Window {
	var out []Window
	for _, w := range ws {
		if w.Overflow {
			out = append(out, w)
		}
	}
	return out
}
