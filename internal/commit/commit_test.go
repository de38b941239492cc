// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package commit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// flakyLedger wraps a real store and fails Upsert while failing is set.
type flakyLedger struct {
	*ledger.Store
	failing bool
}

func (f *flakyLedger) Upsert(ctx context.Context, e types.LedgerEntry) error {
	if f.failing {
		return errors.New("database is locked")
	}
	return f.Store.Upsert(ctx, e)
}

func setup(t *testing.T) (*Writer, *flakyLedger, int64) {
	t.Helper()
	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ev := &types.FetchEvent{RunKey: "run-" + t.Name(), SourceID: 100126, TypeID: types.TypeAll}
	require.NoError(t, store.CreateEvent(context.Background(), ev))

	fl := &flakyLedger{Store: store}
	w := NewWriter(filepath.Join(dir, "data"), 100126, "isrctn", fl)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return w, fl, ev.ID
}

func trialRecord(id, title string) types.Record {
	return types.Record{
		NaturalID: id,
		RemoteURL: "https://example.org/" + id,
		Format:    types.FormatJSON,
		Body:      map[string]string{"id": id, "title": title},
	}
}

func TestCommit_WritesArtifactThenLedger(t *testing.T) {
	w, fl, eventID := setup(t)
	ctx := context.Background()

	res, err := w.Commit(ctx, eventID, trialRecord("ISRCTN123", "first"))
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, filepath.Join(w.Root, "isrctn", "ISRCTN123.json"), res.Path)

	var body map[string]string
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "first", body["title"])

	e, err := fl.Lookup(ctx, 100126, "ISRCTN123")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, types.StatusDownloaded, e.DownloadStatus)
	assert.Equal(t, res.Path, e.LocalPath)
	assert.Equal(t, eventID, e.LastFetchEventID)
	assert.True(t, w.now().Equal(*e.LastDownloaded))
}

func TestCommit_OverwriteIsNotAdded(t *testing.T) {
	w, _, eventID := setup(t)
	ctx := context.Background()

	_, err := w.Commit(ctx, eventID, trialRecord("ISRCTN123", "first"))
	require.NoError(t, err)
	res, err := w.Commit(ctx, eventID, trialRecord("ISRCTN123", "second"))
	require.NoError(t, err)
	assert.False(t, res.Added)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "second")
	assert.NotContains(t, string(data), "first")

	// No temp files left behind.
	entries, err := os.ReadDir(w.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommit_LedgerFailureKeepsArtifactAndRerunRecovers(t *testing.T) {
	w, fl, eventID := setup(t)
	ctx := context.Background()

	fl.failing = true
	res, err := w.Commit(ctx, eventID, trialRecord("ISRCTN999", "v1"))
	require.Error(t, err)
	assert.FileExists(t, res.Path)

	// The ledger does not know the record, so the next run fetches it again.
	e, err := fl.Lookup(ctx, 100126, "ISRCTN999")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.True(t, ledger.ShouldFetch(e, types.RunPolicy{}, w.now()).Fetch)

	fl.failing = false
	res, err = w.Commit(ctx, eventID, trialRecord("ISRCTN999", "v2"))
	require.NoError(t, err)
	assert.True(t, res.Added)

	e, err = fl.Lookup(ctx, 100126, "ISRCTN999")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, res.Path, e.LocalPath)
}

func TestCommit_WriteFailureLeavesLedgerUntouched(t *testing.T) {
	w, fl, eventID := setup(t)
	ctx := context.Background()

	// A regular file where the source directory should be.
	require.NoError(t, os.MkdirAll(w.Root, 0o755))
	require.NoError(t, os.WriteFile(w.Dir(), []byte("x"), 0o644))

	_, err := w.Commit(ctx, eventID, trialRecord("ISRCTN1", "t"))
	require.Error(t, err)

	e, err := fl.Lookup(ctx, 100126, "ISRCTN1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCommit_XMLIsWrittenVerbatim(t *testing.T) {
	w, _, eventID := setup(t)
	raw := []byte("<PubmedArticle><PMID>1</PMID></PubmedArticle>")

	res, err := w.Commit(context.Background(), eventID, types.Record{
		NaturalID: "1", Format: types.FormatXML, Raw: raw, Complete: false,
	})
	require.NoError(t, err)
	assert.Equal(t, ".xml", filepath.Ext(res.Path))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestCommit_CompleteFlagIsStored(t *testing.T) {
	w, fl, eventID := setup(t)
	rec := trialRecord("ISRCTN5", "done")
	rec.Complete = true

	_, err := w.Commit(context.Background(), eventID, rec)
	require.NoError(t, err)

	e, err := fl.Lookup(context.Background(), 100126, "ISRCTN5")
	require.NoError(t, err)
	assert.True(t, e.AssumeComplete)
}

func TestCommit_EmptyBodyIsRejected(t *testing.T) {
	w, _, eventID := setup(t)
	_, err := w.Commit(context.Background(), eventID, types.Record{NaturalID: "x", Format: types.FormatXML})
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"ISRCTN12345678": "ISRCTN12345678",
		"2004-000012-13": "2004-000012-13",
		"HLB/01 2":       "HLB_01_2",
		"../etc":         "_etc",
		"":               "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), "Slug(%q)", in)
	}
}
