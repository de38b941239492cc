// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package window

import "time"

// Step advances a cursor by one window of a band.
type Step func(time.Time) time.Time

// Steps used by the default cascade.
var (
	Decade Step = func(t time.Time) time.Time { return t.AddDate(10, 0, 0) }
	Year   Step = func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	Month  Step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	Week   Step = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
)

// Band applies Step to every window that starts before Until. A zero Until
// extends the band to the end of the range.
type Band struct {
	Until time.Time
	Step  Step
}

// DefaultBands returns the registry cascade: decades before 2000, years
// until 2015, months until a year before end, then weeks.
func DefaultBands(end time.Time) []Band {
	return []Band{
		{Until: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Step: Decade},
		{Until: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), Step: Year},
		{Until: end.AddDate(-1, 0, 0), Step: Month},
		{Step: Week},
	}
}

// Cascade splits r into fixed windows, coarse for old ranges and fine for
// recent ones. Windows never cross a band boundary, cover r exactly, and
// are returned in ascending order. Counts are not probed; pass the result
// to Planner.Verify to detect windows that still overflow.
func Cascade(r Range, bands []Band) []Range {
	if r.Empty() {
		return nil
	}
	if len(bands) == 0 {
		return []Range{r}
	}

	var out []Range
	cur := r.Start
	for i := 0; cur.Before(r.End); {
		b := bands[i]
		limit := r.End
		if !b.Until.IsZero() && b.Until.Before(limit) {
			limit = b.Until
		}
		if !cur.Before(limit) {
			if i == len(bands)-1 {
				limit = r.End
			} else {
				i++
				continue
			}
		}
		next := b.Step(cur)
		if !next.After(cur) {
			// A non-advancing step would never terminate.
			next = limit
		}
		if next.After(limit) {
			next = limit
		}
		out = append(out, Range{Start: cur, End: next})
		cur = next
	}
	return out
}
