// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package euctr mirrors the EU Clinical Trials Register by walking its
// paged search results and reading each trial's protocol page.
package euctr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/sources/scrape"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// SourceID is the ledger id of the EUCTR source.
const SourceID = 100123

// Name is the source's CLI and directory name.
const Name = "euctr"

// siteBase is declared as a var so tests can substitute an httptest server.
var siteBase = "https://www.clinicaltrialsregister.eu"

const searchPath = "/ctr-search/search"

// maxPages stops a listing that never runs dry.
const maxPages = 5000

// maxFailedPages consecutive failed results pages end the walk.
const maxFailedPages = 10

var eudractNumber = regexp.MustCompile(`\d{4}-\d{6}-\d{2}`)

// Candidate is one trial found on a search results page.
type Candidate struct {
	ID         string
	DetailURL  string
	ResultsURL string
}

// Source implements harvest.Source for EUCTR.
type Source struct {
	http   *httputil.Client
	delay  time.Duration
	logger *slog.Logger
}

// New returns the EUCTR source.
func New(hc *httputil.Client, cfg types.SourceConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{http: hc, delay: cfg.PageDelay, logger: logger}
}

func (s *Source) Name() string       { return Name }
func (s *Source) ID() int            { return SourceID }
func (s *Source) ProgressEvery() int { return 10 }

// Harvest pages through the search results and fetches every candidate
// the ledger says needs fetching. An id-list run searches for each id.
func (s *Source) Harvest(ctx context.Context, sess *harvest.Session) error {
	p := sess.Policy()
	if p.TypeID == types.TypeIDList {
		ids, err := scrape.ReadIDs(p.IDFile)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.walk(ctx, sess, url.Values{"query": {id}}, 1); err != nil {
				return err
			}
		}
		return nil
	}

	q := url.Values{"query": {""}}
	if p.CutoffDate != nil {
		q.Set("dateFrom", p.CutoffDate.Format(time.DateOnly))
	}
	if p.EndDate != nil {
		q.Set("dateTo", p.EndDate.Format(time.DateOnly))
	}
	return s.walk(ctx, sess, q, maxPages)
}

// walk visits result pages 1..limit until one comes back empty.
func (s *Source) walk(ctx context.Context, sess *harvest.Session, q url.Values, limit int) error {
	failed := 0
	for page := 1; page <= limit; page++ {
		if page > 1 {
			if err := scrape.Pause(ctx, s.delay); err != nil {
				return err
			}
		}
		q.Set("page", strconv.Itoa(page))

		var cands []Candidate
		err := sess.Navigate(ctx, func(ctx context.Context) error {
			body, err := s.http.Do(ctx, http.MethodGet, siteBase+searchPath, q)
			if err != nil {
				return err
			}
			cands, err = ParseResults(body)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sess.Logger().WarnContext(ctx, "results page failed", "page", page, "error", err)
			if failed++; failed >= maxFailedPages {
				return fmt.Errorf("giving up after %d failed results pages: %w", failed, err)
			}
			continue
		}
		failed = 0
		if len(cands) == 0 {
			return nil
		}

		for _, c := range cands {
			if !sess.Consider(ctx, c.ID) {
				continue
			}
			if err := scrape.Pause(ctx, s.delay); err != nil {
				return err
			}
			s.fetch(ctx, sess, c)
		}
	}
	return nil
}

func (s *Source) fetch(ctx context.Context, sess *harvest.Session, c Candidate) {
	var rec types.Record
	err := sess.Navigate(ctx, func(ctx context.Context) error {
		body, err := s.http.Fetch(ctx, c.DetailURL)
		if err != nil {
			return err
		}
		rec, err = Extract(c, body)
		return err
	})
	if err != nil {
		sess.Fail(ctx, c.ID, c.DetailURL, err)
		return
	}
	_ = sess.Commit(ctx, rec)
}

// ParseResults reads the candidates on one search results page.
func ParseResults(body []byte) ([]Candidate, error) {
	doc, err := scrape.Doc(body)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	doc.Find("table.result").Each(func(_ int, tbl *goquery.Selection) {
		id := eudractNumber.FindString(scrape.Text(tbl))
		if id == "" {
			return
		}
		c := Candidate{ID: id}
		tbl.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if strings.Contains(href, "/ctr-search/trial/") && c.DetailURL == "" {
				c.DetailURL = scrape.Resolve(siteBase+searchPath, href)
			}
			if strings.Contains(href, "/results") && c.ResultsURL == "" {
				c.ResultsURL = scrape.Resolve(siteBase+searchPath, href)
			}
			return c.DetailURL == "" || c.ResultsURL == ""
		})
		if c.DetailURL == "" {
			return
		}
		out = append(out, c)
	})
	return out, nil
}

// Extract reads a protocol page into a Record.
func Extract(c Candidate, body []byte) (types.Record, error) {
	doc, err := scrape.Doc(body)
	if err != nil {
		return types.Record{}, err
	}

	fields := make(map[string]string)
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSuffix(scrape.Text(cells.Eq(cells.Length()-2)), ":")
		value := scrape.Text(cells.Last())
		if label != "" && value != "" {
			if _, dup := fields[label]; !dup {
				fields[label] = value
			}
		}
	})
	if len(fields) == 0 {
		return types.Record{}, fmt.Errorf("%s: no protocol fields on page", c.ID)
	}

	trial := types.Trial{
		ID:           c.ID,
		Source:       Name,
		URL:          c.DetailURL,
		Title:        lookup(fields, "Full title of the trial"),
		Sponsor:      lookup(fields, "Name of Sponsor"),
		Status:       lookup(fields, "Trial status"),
		ResultsURL:   c.ResultsURL,
		Description:  lookup(fields, "Main objective of the trial"),
		RegisteredAt: scrape.DatePtr(lookup(fields, "Date on which this record was first entered in the EudraCT database")),
		Fields:       fields,
	}
	if cond := lookup(fields, "Medical condition(s) being investigated"); cond != "" {
		trial.Conditions = []string{cond}
	}

	return types.Record{
		NaturalID: c.ID,
		RemoteURL: c.DetailURL,
		Format:    types.FormatJSON,
		Body:      trial,
		Complete:  IsComplete(trial),
	}, nil
}

// lookup finds a field whose label contains name, ignoring case.
func lookup(fields map[string]string, name string) string {
	if v, ok := fields[name]; ok {
		return v
	}
	name = strings.ToLower(name)
	for k, v := range fields {
		if strings.Contains(strings.ToLower(k), name) {
			return v
		}
	}
	return ""
}

// IsComplete reports whether a EUCTR trial is completed and has posted
// results.
func IsComplete(t types.Trial) bool {
	return strings.EqualFold(t.Status, "Completed") && t.ResultsURL != ""
}
