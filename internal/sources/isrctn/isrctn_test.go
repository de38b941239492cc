// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package isrctn

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/internal/window"
	"github.com/pdiddy/ctmirror/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
	httputil.RetryMaxDelay = 2 * time.Millisecond
}

type fakeTrial struct {
	id     string
	edited time.Time
	status string
	output string
}

const trialXML = `<fullTrial><trial lastUpdated="%s">` +
	`<isrctn date="2019-05-01T00:00:00">%s</isrctn>` +
	`<trialDescription><acronym>ACR</acronym><title>Trial %s</title></trialDescription>` +
	`<trialStatus><overallStatus>%s</overallStatus></trialStatus>` +
	`<outputs><output outputType="results"><externalLinkURL>%s</externalLinkURL></output></outputs>` +
	`</trial><sponsor><organisation>Uni</organisation></sponsor></fullTrial>`

// registry serves the query API over a fixed trial list, honouring the
// lastEdited range and the limit.
func registry(t *testing.T, trials []fakeTrial, queries *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(queries, 1)
		var from, to string
		_, err := fmt.Sscanf(r.URL.Query().Get("q"), "lastEdited GE %s AND lastEdited LT %s", &from, &to)
		require.NoError(t, err)
		start, _ := time.Parse("2006-01-02T15:04:05", from)
		end, _ := time.Parse("2006-01-02T15:04:05", to)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var hits []fakeTrial
		for _, tr := range trials {
			if !tr.edited.Before(start) && tr.edited.Before(end) {
				hits = append(hits, tr)
			}
		}
		fmt.Fprintf(w, `<allTrials xmlns="http://www.67bricks.com/isrctn" totalCount="%d">`, len(hits))
		for i, tr := range hits {
			if i >= limit {
				break
			}
			fmt.Fprintf(w, trialXML, tr.edited.Format("2006-01-02T15:04:05"), strings.TrimPrefix(tr.id, "ISRCTN"), tr.id, tr.status, tr.output)
		}
		fmt.Fprint(w, `</allTrials>`)
	}))
}

func useServer(t *testing.T, ts *httptest.Server) {
	t.Helper()
	oldAPI, oldTrial := apiBase, trialBase
	apiBase, trialBase = ts.URL+"/api/query/format/default", ts.URL+"/"
	t.Cleanup(func() {
		apiBase, trialBase = oldAPI, oldTrial
		ts.Close()
	})
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTrials() []fakeTrial {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC) }
	return []fakeTrial{
		{"ISRCTN10000001", day(2), "Ongoing", ""},
		{"ISRCTN10000002", day(3), "Completed", "https://doi.org/10.1/x"},
		{"ISRCTN10000003", day(3), "Completed", ""},
		{"ISRCTN10000004", day(5), "Ongoing", ""},
		{"ISRCTN10000005", day(9), "Ongoing", ""},
	}
}

func TestExtract(t *testing.T) {
	raw := fmt.Sprintf(`<allTrials totalCount="1">`+trialXML+`</allTrials>`,
		"2024-01-03T10:00:00", "10000002", "ISRCTN10000002", "Completed", "https://doi.org/10.1/x")
	var res allTrials
	require.NoError(t, xml.Unmarshal([]byte(raw), &res))
	require.Len(t, res.Trials, 1)

	rec, err := Extract(res.Trials[0])
	require.NoError(t, err)
	assert.Equal(t, "ISRCTN10000002", rec.NaturalID)
	assert.True(t, rec.Complete)
	require.NotNil(t, rec.LastRevised)
	assert.Equal(t, 3, rec.LastRevised.Day())

	trial := rec.Body.(types.Trial)
	assert.Equal(t, "Trial ISRCTN10000002", trial.Title)
	assert.Equal(t, "Uni", trial.Sponsor)
	assert.Equal(t, "ACR", trial.Acronym)
	require.NotNil(t, trial.RegisteredAt)
}

func TestExtract_MissingID(t *testing.T) {
	_, err := Extract(FullTrial{})
	assert.Error(t, err)
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete(types.Trial{Status: "Completed", ResultsURL: "u"}))
	assert.False(t, IsComplete(types.Trial{Status: "Completed"}))
	assert.False(t, IsComplete(types.Trial{Status: "Ongoing", ResultsURL: "u"}))
}

func TestWindows_BisectStaysUnderCap(t *testing.T) {
	var queries int32
	useServer(t, registry(t, testTrials(), &queries))

	src := New(httputil.NewClient(types.HTTPConfig{}, quiet()), types.SourceConfig{ResultCap: 2}, PlannerBisect, quiet())
	r := window.Range{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)}
	ws, err := src.Windows(context.Background(), r)
	require.NoError(t, err)

	total := 0
	for _, w := range ws {
		assert.LessOrEqual(t, w.Count, 2)
		total += w.Count
	}
	assert.Equal(t, 5, total)
	assert.Empty(t, window.Overflowed(ws))
}

func TestValidate(t *testing.T) {
	src := New(nil, types.SourceConfig{}, "", quiet())
	assert.ErrorIs(t, src.Validate(types.RunPolicy{TypeID: types.TypeIDList}), types.ErrConfig)
	assert.NoError(t, src.Validate(types.RunPolicy{TypeID: types.TypeAll}))

	bad := New(nil, types.SourceConfig{}, "weekly", quiet())
	assert.ErrorIs(t, bad.Validate(types.RunPolicy{TypeID: types.TypeAll}), types.ErrConfig)
}

func TestHarvest_EndToEnd(t *testing.T) {
	var queries int32
	useServer(t, registry(t, testTrials(), &queries))

	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	ctrl := harvest.NewController(store, filepath.Join(dir, "data"), quiet(), nil)
	src := New(httputil.NewClient(types.HTTPConfig{}, quiet()), types.SourceConfig{ResultCap: 4}, PlannerCascade, quiet())

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	policy := types.RunPolicy{TypeID: types.TypeCutoff, CutoffDate: &cutoff, EndDate: &end}

	ev, err := ctrl.Run(context.Background(), src, policy)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.NumChecked)
	assert.Equal(t, 5, ev.NumAdded)

	data, err := os.ReadFile(filepath.Join(dir, "data", Name, "ISRCTN10000002.json"))
	require.NoError(t, err)
	var trial types.Trial
	require.NoError(t, json.Unmarshal(data, &trial))
	assert.Equal(t, "Completed", trial.Status)

	e, err := store.Lookup(context.Background(), SourceID, "ISRCTN10000002")
	require.NoError(t, err)
	assert.True(t, e.AssumeComplete)

	// Forcing a refresh refetches everything; nothing is new.
	policy.ForceAll = true
	ev, err = ctrl.Run(context.Background(), src, policy)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.NumDownloaded)
	assert.Zero(t, ev.NumAdded)

	// Without force, the complete trial is skipped.
	policy.ForceAll = false
	ev, err = ctrl.Run(context.Background(), src, policy)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.NumChecked)
	assert.Equal(t, 4, ev.NumDownloaded)
}
