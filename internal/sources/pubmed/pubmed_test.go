// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/ctmirror/internal/entrez"
	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// eutils is a minimal E-utilities stand-in that remembers posted id sets
// and records every id it was asked to post.
type eutils struct {
	mu     sync.Mutex
	sets   map[string][]string
	posted []string
}

func (e *eutils) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = r.ParseForm()
	switch {
	case strings.HasSuffix(r.URL.Path, "epost.fcgi"):
		ids := strings.Split(r.PostForm.Get("id"), ",")
		e.posted = append(e.posted, ids...)
		key := fmt.Sprint(len(e.sets) + 1)
		e.sets[key] = ids
		fmt.Fprintf(w, `<ePostResult><QueryKey>%s</QueryKey><WebEnv>W</WebEnv></ePostResult>`, key)
	case strings.HasSuffix(r.URL.Path, "efetch.fcgi"):
		fmt.Fprint(w, `<?xml version="1.0"?><PubmedArticleSet>`)
		for _, id := range e.sets[r.Form.Get("query_key")] {
			fmt.Fprintf(w, `<PubmedArticle><MedlineCitation Status="MEDLINE"><PMID Version="1">%s</PMID>`+
				`<DateRevised><Year>2024</Year><Month>05</Month><Day>01</Day></DateRevised>`+
				`<Article><ArticleTitle>Study %s</ArticleTitle></Article></MedlineCitation></PubmedArticle>`, id, id)
		}
		fmt.Fprint(w, `</PubmedArticleSet>`)
	default:
		http.NotFound(w, r)
	}
}

func TestHarvest_IDFileAndKnownIDs(t *testing.T) {
	httputil.RetryBaseDelay = time.Millisecond
	fake := &eutils{sets: map[string][]string{}}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	// 111 was downloaded long ago and is refreshed; 222 is new.
	old := time.Now().AddDate(0, -2, 0)
	require.NoError(t, store.Upsert(context.Background(), types.LedgerEntry{
		SourceID: SourceID, NaturalID: "111", DownloadStatus: types.StatusDownloaded,
		LocalPath: "111.xml", LastDownloaded: &old,
	}))
	idFile := filepath.Join(dir, "pmids.txt")
	require.NoError(t, os.WriteFile(idFile, []byte("222\n111\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := entrez.NewClient(httputil.NewClient(types.HTTPConfig{}, logger),
		types.SourceConfig{RequestsPerSecond: 1000}, logger).SetBaseURL(ts.URL)
	ctrl := harvest.NewController(store, filepath.Join(dir, "data"), logger, nil)

	ev, err := ctrl.Run(context.Background(), New(client),
		types.RunPolicy{TypeID: types.TypeIDList, IDFile: idFile, SkipRecentDays: 7})
	require.NoError(t, err)

	assert.Equal(t, 2, ev.NumChecked)
	assert.Equal(t, 2, ev.NumDownloaded)
	assert.Equal(t, 1, ev.NumAdded)
	assert.ElementsMatch(t, []string{"222", "111"}, fake.posted)

	data, err := os.ReadFile(filepath.Join(dir, "data", Name, "222.xml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<PubmedArticle>"))
	assert.Contains(t, string(data), "Study 222")

	e, err := store.Lookup(context.Background(), SourceID, "222")
	require.NoError(t, err)
	require.NotNil(t, e.LastRevised)
	assert.Equal(t, time.May, e.LastRevised.Month())
	assert.False(t, e.AssumeComplete)

	// Immediately re-running skips both under the 7-day policy.
	fake.posted = nil
	ev, err = ctrl.Run(context.Background(), New(client), types.RunPolicy{TypeID: types.TypeAll, SkipRecentDays: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, ev.NumChecked)
	assert.Zero(t, ev.NumDownloaded)
	assert.Empty(t, fake.posted)
}

func TestHarvest_MissingIDFile(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := harvest.NewController(store, dir, logger, nil)
	client := entrez.NewClient(httputil.NewClient(types.HTTPConfig{}, logger), types.SourceConfig{}, logger)

	ev, err := ctrl.Run(context.Background(), New(client),
		types.RunPolicy{TypeID: types.TypeIDList, IDFile: filepath.Join(dir, "nope.txt")})
	assert.Error(t, err)
	assert.True(t, ev.Closed())
}

func TestExtract(t *testing.T) {
	rev := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := Extract(entrez.RawRecord{ID: "42", LastRevised: &rev, XML: []byte("<PubmedArticle/>")})
	assert.Equal(t, "42", rec.NaturalID)
	assert.Equal(t, types.FormatXML, rec.Format)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/42/", rec.RemoteURL)
	assert.False(t, rec.Complete)
}
