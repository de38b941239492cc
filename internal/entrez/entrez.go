// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package entrez implements the NCBI E-utilities two-phase batch protocol:
// ids are POSTed to obtain a server-side result handle, optionally narrowed
// by a search against that handle, then fetched page by page.
package entrez

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

	"golang.org/x/time/rate"

	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// eutilsBase is the E-utilities root. Declared as a var so tests can
// substitute an httptest server.
var eutilsBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	// ChunkSize is the most ids posted in one request.
	ChunkSize = 100

	// PageSize is the most records fetched in one request.
	PageSize = 100

	// ExcerptLen bounds how much of a bad payload is logged.
	ExcerptLen = 200

	defaultRate    = 3
	defaultKeyRate = 10
	database       = "pubmed"
	toolName       = "ctmirror"
)

// Handle names a server-side result set.
type Handle struct {
	WebEnv   string
	QueryKey string
}

// DateFilter restricts a handle to records modified in [From, To]. A zero
// To leaves the range open.
type DateFilter struct {
	From time.Time
	To   time.Time
}

func (f DateFilter) term(queryKey string) string {
	to := "3000"
	if !f.To.IsZero() {
		to = f.To.Format("2006/01/02")
	}
	return fmt.Sprintf(`#%s AND ("%s"[MDAT] : "%s"[MDAT])`, queryKey, f.From.Format("2006/01/02"), to)
}

// RawRecord is one fetched article: its id, revision date when present, and
// the article's XML element verbatim.
type RawRecord struct {
	ID          string
	LastRevised *time.Time
	XML         []byte
}

// Stats counts the work done by ResolveAndFetch.
type Stats struct {
	Chunks  int // chunks attempted
	Posted  int // ids accepted by POST
	Matched int // records left after filtering
	Fetched int // records handed to the callback
	Skipped int // chunks abandoned after an error
}

// Client talks to E-utilities. Every request waits on a shared limiter.
type Client struct {
	http    *httputil.Client
	base    string
	limiter *rate.Limiter
	apiKey  string
	logger  *slog.Logger
}

// NewClient builds a Client. The request rate is cfg.RequestsPerSecond,
// or 3/s without an API key and 10/s with one.
func NewClient(hc *httputil.Client, cfg types.SourceConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
		if cfg.APIKey != "" {
			rps = defaultKeyRate
		}
	}
	return &Client{
		http:    hc,
		base:    eutilsBase,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// SetBaseURL points the client at another E-utilities root, such as a
// mirror or a test server.
func (c *Client) SetBaseURL(u string) *Client {
	c.base = strings.TrimRight(u, "/")
	return c
}

func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("db", database)
	params.Set("tool", toolName)
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	return c.http.Do(ctx, method, c.base+"/"+endpoint, params)
}

// --- phase 1: post ---

type postResult struct {
	XMLName  xml.Name `xml:"ePostResult"`
	QueryKey string   `xml:"QueryKey"`
	WebEnv   string   `xml:"WebEnv"`
	Error    string   `xml:"ERROR"`
}

// Post uploads ids and returns the handle of the resulting set.
func (c *Client) Post(ctx context.Context, ids []string) (Handle, error) {
	body, err := c.call(ctx, http.MethodPost, "epost.fcgi", url.Values{"id": {strings.Join(ids, ",")}})
	if err != nil {
		return Handle{}, err
	}
	var res postResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return Handle{}, &PayloadError{Op: "epost", Body: body, Err: err}
	}
	if res.Error != "" || res.WebEnv == "" || res.QueryKey == "" {
		return Handle{}, &PayloadError{Op: "epost", Body: body, Err: fmt.Errorf("no result handle: %s", res.Error)}
	}
	return Handle{WebEnv: res.WebEnv, QueryKey: res.QueryKey}, nil
}

// --- phase 2 (optional): search ---

type searchResult struct {
	XMLName  xml.Name `xml:"eSearchResult"`
	Count    string   `xml:"Count"`
	QueryKey string   `xml:"QueryKey"`
	WebEnv   string   `xml:"WebEnv"`
	Error    string   `xml:"ERROR"`
}

// Search narrows h to records modified within f and returns the new handle
// with its count.
func (c *Client) Search(ctx context.Context, h Handle, f DateFilter) (Handle, int, error) {
	body, err := c.call(ctx, http.MethodGet, "esearch.fcgi", url.Values{
		"WebEnv":     {h.WebEnv},
		"query_key":  {h.QueryKey},
		"term":       {f.term(h.QueryKey)},
		"usehistory": {"y"},
		"retmax":     {"0"},
	})
	if err != nil {
		return Handle{}, 0, err
	}
	var res searchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return Handle{}, 0, &PayloadError{Op: "esearch", Body: body, Err: err}
	}
	if res.Error != "" {
		return Handle{}, 0, &PayloadError{Op: "esearch", Body: body, Err: fmt.Errorf("%s", res.Error)}
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Count))
	if err != nil {
		return Handle{}, 0, &PayloadError{Op: "esearch", Body: body, Err: fmt.Errorf("bad count: %w", err)}
	}
	if n == 0 {
		return Handle{}, 0, nil
	}
	next := Handle{WebEnv: res.WebEnv, QueryKey: res.QueryKey}
	if next.WebEnv == "" {
		next.WebEnv = h.WebEnv
	}
	return next, n, nil
}

// --- phase 3: fetch ---

type articleSet struct {
	XMLName  xml.Name     `xml:"PubmedArticleSet"`
	Articles []rawArticle `xml:"PubmedArticle"`
}

type rawArticle struct {
	Inner   []byte `xml:",innerxml"`
	PMID    string `xml:"MedlineCitation>PMID"`
	Revised struct {
		Year  int `xml:"Year"`
		Month int `xml:"Month"`
		Day   int `xml:"Day"`
	} `xml:"MedlineCitation>DateRevised"`
}

// Fetch returns one page of records from h, starting at retstart.
func (c *Client) Fetch(ctx context.Context, h Handle, retstart, retmax int) ([]RawRecord, error) {
	body, err := c.call(ctx, http.MethodGet, "efetch.fcgi", url.Values{
		"WebEnv":    {h.WebEnv},
		"query_key": {h.QueryKey},
		"retstart":  {strconv.Itoa(retstart)},
		"retmax":    {strconv.Itoa(retmax)},
		"retmode":   {"xml"},
	})
	if err != nil {
		return nil, err
	}
	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, &PayloadError{Op: "efetch", Body: body, Err: err}
	}

	recs := make([]RawRecord, 0, len(set.Articles))
	for _, a := range set.Articles {
		id := strings.TrimSpace(a.PMID)
		if id == "" {
			continue
		}
		rec := RawRecord{
			ID:  id,
			XML: append(append([]byte("<PubmedArticle>"), a.Inner...), "</PubmedArticle>"...),
		}
		if r := a.Revised; r.Year > 0 {
			t := time.Date(r.Year, time.Month(max(r.Month, 1)), max(r.Day, 1), 0, 0, 0, 0, time.UTC)
			rec.LastRevised = &t
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// PayloadError reports a response body that could not be understood.
type PayloadError struct {
	Op   string
	Body []byte
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: unreadable response (%v): %s", e.Op, e.Err, httputil.Excerpt(e.Body, ExcerptLen))
}

func (e *PayloadError) Unwrap() error { return e.Err }
