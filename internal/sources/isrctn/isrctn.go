// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package isrctn mirrors the ISRCTN registry through its XML query API.
// The API returns at most a fixed number of trials per query, so the
// revision range is split into windows that each stay under that cap.
package isrctn

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/sources/scrape"
	"github.com/pdiddy/ctmirror/internal/window"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// SourceID is the ledger id of the ISRCTN source.
const SourceID = 100126

// Name is the source's CLI and directory name.
const Name = "isrctn"

// apiBase and trialBase are declared as vars so tests can substitute an
// httptest server.
var (
	apiBase   = "https://www.isrctn.com/api/query/format/default"
	trialBase = "https://www.isrctn.com/"
)

// Earliest is where an unbounded run starts; the registry opened in 2000.
var Earliest = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Planner names accepted by the --planner flag.
const (
	PlannerBisect  = "bisect"
	PlannerCascade = "cascade"
)

// Source implements harvest.Source for ISRCTN.
type Source struct {
	http      *httputil.Client
	planner   string
	resultCap int
	delay     time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New returns the ISRCTN source. planner is PlannerBisect (default) or
// PlannerCascade.
func New(hc *httputil.Client, cfg types.SourceConfig, planner string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if planner == "" {
		planner = PlannerBisect
	}
	return &Source{
		http:      hc,
		planner:   planner,
		resultCap: cfg.ResultCap,
		delay:     cfg.PageDelay,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Source) Name() string       { return Name }
func (s *Source) ID() int            { return SourceID }
func (s *Source) ProgressEvery() int { return 100 }

// Validate rejects run types the query API cannot serve.
func (s *Source) Validate(p types.RunPolicy) error {
	if p.TypeID == types.TypeIDList {
		return fmt.Errorf("%w: %s does not support id-list runs", types.ErrConfig, Name)
	}
	if s.planner != PlannerBisect && s.planner != PlannerCascade {
		return fmt.Errorf("%w: unknown planner %q (want %s or %s)", types.ErrConfig, s.planner, PlannerBisect, PlannerCascade)
	}
	return nil
}

// Range returns the revision range a policy covers.
func (s *Source) Range(p types.RunPolicy) window.Range {
	r := window.Range{Start: Earliest, End: s.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)}
	if p.CutoffDate != nil {
		r.Start = *p.CutoffDate
	}
	if p.EndDate != nil {
		r.End = *p.EndDate
	}
	return r
}

// Windows plans the query windows for r with the configured planner.
func (s *Source) Windows(ctx context.Context, r window.Range) ([]window.Window, error) {
	pl := &window.Planner{Cap: s.resultCap, Logger: s.logger}
	counter := window.CounterFunc(s.Count)
	if s.planner == PlannerCascade {
		return pl.Verify(ctx, counter, window.Cascade(r, window.DefaultBands(r.End)))
	}
	return pl.Plan(ctx, counter, r)
}

// Harvest plans windows over the policy's range and commits every trial
// the ledger says needs fetching.
func (s *Source) Harvest(ctx context.Context, sess *harvest.Session) error {
	s.now = sess.Now
	windows, err := s.Windows(ctx, s.Range(sess.Policy()))
	if err != nil {
		return fmt.Errorf("planning windows: %w", err)
	}
	if over := window.Overflowed(windows); len(over) > 0 {
		sess.Logger().WarnContext(ctx, "some windows exceed the result cap; trials beyond it will be missed",
			"windows", len(over))
	}

	for i, w := range windows {
		if i > 0 {
			if err := scrape.Pause(ctx, s.delay); err != nil {
				return err
			}
		}
		if w.Count == 0 {
			continue
		}
		var trials []FullTrial
		err := sess.Navigate(ctx, func(ctx context.Context) error {
			var err error
			trials, err = s.query(ctx, w.Range, max(w.Count, 1))
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sess.Logger().WarnContext(ctx, "window query failed", "window", w.Range.String(), "error", err)
			continue
		}

		for _, ft := range trials {
			rec, err := Extract(ft)
			if err != nil {
				sess.Fail(ctx, "", "", err)
				continue
			}
			if !sess.Consider(ctx, rec.NaturalID) {
				continue
			}
			_ = sess.Commit(ctx, rec)
		}
	}
	return nil
}

func windowQuery(r window.Range) string {
	const layout = "2006-01-02T15:04:05"
	return fmt.Sprintf("lastEdited GE %s AND lastEdited LT %s", r.Start.UTC().Format(layout), r.End.UTC().Format(layout))
}

// Count probes how many trials were revised in r.
func (s *Source) Count(ctx context.Context, r window.Range) (int, error) {
	body, err := s.http.Do(ctx, http.MethodGet, apiBase, url.Values{"q": {windowQuery(r)}, "limit": {"0"}})
	if err != nil {
		return 0, err
	}
	var res allTrials
	if err := xml.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("parsing count response: %w (%s)", err, httputil.Excerpt(body, 200))
	}
	return res.TotalCount, nil
}

func (s *Source) query(ctx context.Context, r window.Range, limit int) ([]FullTrial, error) {
	body, err := s.http.Do(ctx, http.MethodGet, apiBase, url.Values{
		"q":     {windowQuery(r)},
		"limit": {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}
	var res allTrials
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing trials: %w (%s)", err, httputil.Excerpt(body, 200))
	}
	return res.Trials, nil
}

// --- XML shape of the query API ---

type allTrials struct {
	XMLName    xml.Name    `xml:"allTrials"`
	TotalCount int         `xml:"totalCount,attr"`
	Trials     []FullTrial `xml:"fullTrial"`
}

// FullTrial is one <fullTrial> element of a query response.
type FullTrial struct {
	Trial struct {
		LastUpdated string `xml:"lastUpdated,attr"`
		ISRCTN      struct {
			Value string `xml:",chardata"`
			Date  string `xml:"date,attr"`
		} `xml:"isrctn"`
		Description struct {
			Acronym         string `xml:"acronym"`
			Title           string `xml:"title"`
			ScientificTitle string `xml:"scientificTitle"`
			PlainEnglish    string `xml:"plainEnglishSummary"`
		} `xml:"trialDescription"`
		Design struct {
			StudyType string `xml:"primaryStudyDesign"`
		} `xml:"trialDesign"`
		Conditions []string `xml:"conditions>condition>description"`
		Status     struct {
			Overall string `xml:"overallStatus"`
		} `xml:"trialStatus"`
		Countries []string `xml:"participants>recruitmentCountries>country"`
		Outputs   []struct {
			Type string `xml:"outputType,attr"`
			URL  string `xml:"externalLinkURL"`
		} `xml:"outputs>output"`
	} `xml:"trial"`
	Sponsors []string `xml:"sponsor>organisation"`
}

// Extract converts one trial element into a Record.
func Extract(ft FullTrial) (types.Record, error) {
	t := ft.Trial
	id := strings.TrimSpace(t.ISRCTN.Value)
	if id == "" {
		return types.Record{}, fmt.Errorf("trial without ISRCTN number")
	}
	if !strings.HasPrefix(id, "ISRCTN") {
		id = "ISRCTN" + id
	}

	trial := types.Trial{
		ID:           id,
		Source:       Name,
		URL:          trialBase + id,
		Title:        scrape.Clean(t.Description.Title),
		Acronym:      scrape.Clean(t.Description.Acronym),
		Status:       scrape.Clean(t.Status.Overall),
		StudyType:    scrape.Clean(t.Design.StudyType),
		Conditions:   cleanAll(t.Conditions),
		Countries:    cleanAll(t.Countries),
		Description:  scrape.Clean(t.Description.PlainEnglish),
		RegisteredAt: scrape.DatePtr(t.ISRCTN.Date),
		LastRevised:  scrape.DatePtr(t.LastUpdated),
	}
	if len(ft.Sponsors) > 0 {
		trial.Sponsor = scrape.Clean(ft.Sponsors[0])
	}
	if st := scrape.Clean(t.Description.ScientificTitle); st != "" {
		trial.Fields = map[string]string{"scientific_title": st}
	}
	for _, o := range t.Outputs {
		if u := strings.TrimSpace(o.URL); u != "" {
			trial.ResultsURL = u
			break
		}
	}

	return types.Record{
		NaturalID:   id,
		RemoteURL:   trial.URL,
		LastRevised: trial.LastRevised,
		Format:      types.FormatJSON,
		Body:        trial,
		Complete:    IsComplete(trial),
	}, nil
}

// IsComplete reports whether an ISRCTN trial is finished and has
// published results, after which it is not refreshed.
func IsComplete(t types.Trial) bool {
	return strings.EqualFold(t.Status, "Completed") && t.ResultsURL != ""
}

func cleanAll(in []string) []string {
	var out []string
	for _, s := range in {
		if c := scrape.Clean(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}
