// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package biolincc mirrors the NHLBI BioLINCC study catalogue. The whole
// catalogue is one list page; each row links to a study page.
package biolincc

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/sources/scrape"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// SourceID is the ledger id of the BioLINCC source.
const SourceID = 100900

// Name is the source's CLI and directory name.
const Name = "biolincc"

// listURL is declared as a var so tests can substitute an httptest server.
var listURL = "https://biolincc.nhlbi.nih.gov/studies/"

// Study is one row of the catalogue list.
type Study struct {
	ID      string
	Acronym string
	Title   string
	URL     string
}

// Source implements harvest.Source for BioLINCC.
type Source struct {
	http   *httputil.Client
	delay  time.Duration
	logger *slog.Logger
}

// New returns the BioLINCC source.
func New(hc *httputil.Client, cfg types.SourceConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{http: hc, delay: cfg.PageDelay, logger: logger}
}

func (s *Source) Name() string       { return Name }
func (s *Source) ID() int            { return SourceID }
func (s *Source) ProgressEvery() int { return 10 }

// Harvest reads the list page and fetches each study the ledger says
// needs fetching. An id-list run restricts the list to the given ids.
func (s *Source) Harvest(ctx context.Context, sess *harvest.Session) error {
	var only map[string]bool
	if p := sess.Policy(); p.TypeID == types.TypeIDList {
		ids, err := scrape.ReadIDs(p.IDFile)
		if err != nil {
			return err
		}
		only = make(map[string]bool, len(ids))
		for _, id := range ids {
			only[strings.ToLower(id)] = true
		}
	}

	var studies []Study
	err := sess.Navigate(ctx, func(ctx context.Context) error {
		body, err := s.http.Fetch(ctx, listURL)
		if err != nil {
			return err
		}
		studies, err = ParseList(body)
		return err
	})
	if err != nil {
		return fmt.Errorf("reading study list: %w", err)
	}
	sess.Logger().InfoContext(ctx, "study list read", "studies", len(studies))

	for _, st := range studies {
		if only != nil && !only[st.ID] {
			continue
		}
		if !sess.Consider(ctx, st.ID) {
			continue
		}
		if err := scrape.Pause(ctx, s.delay); err != nil {
			return err
		}

		var rec types.Record
		err := sess.Navigate(ctx, func(ctx context.Context) error {
			body, err := s.http.Fetch(ctx, st.URL)
			if err != nil {
				return err
			}
			rec, err = Extract(st, body)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sess.Fail(ctx, st.ID, st.URL, err)
			continue
		}
		_ = sess.Commit(ctx, rec)
	}
	return nil
}

// ParseList reads the studies on the catalogue list page. A study's id is
// the last path segment of its link, lower-cased.
func ParseList(body []byte) ([]Study, error) {
	doc, err := scrape.Doc(body)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Study
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		a := tr.Find("td a[href]").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := scrape.Resolve(listURL, href)
		u, err := url.Parse(link)
		if err != nil {
			return
		}
		id := strings.ToLower(path.Base(strings.TrimRight(u.Path, "/")))
		if id == "" || id == "." || id == "/" || id == "studies" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, Study{
			ID:      id,
			Acronym: scrape.Text(a),
			Title:   scrape.Text(tr.Find("td").Eq(1)),
			URL:     link,
		})
	})
	return out, nil
}

// Extract reads a study page into a Record. Labelled values come from
// table rows (th/td) and definition lists (dt/dd).
func Extract(st Study, body []byte) (types.Record, error) {
	doc, err := scrape.Doc(body)
	if err != nil {
		return types.Record{}, err
	}

	fields := make(map[string]string)
	add := func(label, value string) {
		label = strings.TrimSuffix(label, ":")
		if label == "" || value == "" {
			return
		}
		if _, dup := fields[label]; !dup {
			fields[label] = value
		}
	}
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		add(scrape.Text(tr.ChildrenFiltered("th").First()), scrape.Text(tr.ChildrenFiltered("td").First()))
	})
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		add(scrape.Text(dt), scrape.Text(dt.NextFiltered("dd")))
	})

	title := scrape.Text(doc.Find("h1").First())
	if title == "" && len(fields) == 0 {
		return types.Record{}, fmt.Errorf("%s: no study details on page", st.ID)
	}
	if title == "" {
		title = st.Title
	}

	trial := types.Trial{
		ID:          st.ID,
		Source:      Name,
		URL:         st.URL,
		Title:       title,
		Acronym:     st.Acronym,
		StudyType:   fields["Study Type"],
		Description: fields["Objectives"],
		Fields:      fields,
	}
	if c := fields["Condition"]; c != "" {
		trial.Conditions = []string{c}
	}

	return types.Record{
		NaturalID: st.ID,
		RemoteURL: st.URL,
		Format:    types.FormatJSON,
		Body:      trial,
		Complete:  IsComplete(trial),
	}, nil
}

// IsComplete reports whether a study's resources are available and no
// longer being prepared.
func IsComplete(t types.Trial) bool {
	res := t.Fields["Resources Available"]
	return res != "" && !strings.Contains(strings.ToLower(res), "in preparation")
}
