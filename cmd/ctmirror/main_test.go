// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/internal/sources/isrctn"
	"github.com/pdiddy/ctmirror/internal/window"
	"github.com/pdiddy/ctmirror/pkg/types"
)

func TestBuildPolicy(t *testing.T) {
	tests := []struct {
		name    string
		opts    fetchOptions
		wantErr bool
		check   func(t *testing.T, p types.RunPolicy)
	}{
		{
			name: "all run",
			opts: fetchOptions{Source: "isrctn", Type: "all", SkipRecent: 7},
			check: func(t *testing.T, p types.RunPolicy) {
				assert.Equal(t, isrctn.SourceID, p.SourceID)
				assert.Equal(t, types.TypeAll, p.TypeID)
				assert.Equal(t, 7, p.SkipRecentDays)
				assert.Nil(t, p.CutoffDate)
			},
		},
		{
			name: "cutoff run parses dates as UTC midnight",
			opts: fetchOptions{Source: "pubmed", Type: "cutoff", Cutoff: "2024-01-15", End: "2024-02-01"},
			check: func(t *testing.T, p types.RunPolicy) {
				require.NotNil(t, p.CutoffDate)
				assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *p.CutoffDate)
				assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *p.EndDate)
			},
		},
		{name: "cutoff run without cutoff", opts: fetchOptions{Source: "pubmed", Type: "cutoff"}, wantErr: true},
		{name: "ids run without file", opts: fetchOptions{Source: "euctr", Type: "ids"}, wantErr: true},
		{name: "unknown source", opts: fetchOptions{Source: "nope", Type: "all"}, wantErr: true},
		{name: "unknown type", opts: fetchOptions{Source: "who", Type: "some"}, wantErr: true},
		{name: "bad date", opts: fetchOptions{Source: "who", Type: "cutoff", Cutoff: "15/01/2024"}, wantErr: true},
		{name: "end before cutoff", opts: fetchOptions{Source: "who", Cutoff: "2024-02-01", End: "2024-01-01"}, wantErr: true},
		{name: "negative skip-recent", opts: fetchOptions{Source: "who", SkipRecent: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := buildPolicy(tt.opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrConfig)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", true)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "source", "isrctn")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"source":"isrctn"`)

	_, err = newLogger(&buf, "loud", false)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestWriteYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "last.yaml")
	ev := types.FetchEvent{ID: 3, RunKey: "k", SourceID: isrctn.SourceID, NumChecked: 5}
	require.NoError(t, writeYAMLFile(path, ev))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got types.FetchEvent
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, 5, got.NumChecked)
	assert.NoFileExists(t, path+".tmp")
}

func TestPrintWindows(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	var buf bytes.Buffer
	planCmd.SetOut(&buf)
	t.Cleanup(func() { planCmd.SetOut(nil) })

	require.NoError(t, printWindows(planCmd, []window.Window{
		{Range: window.Range{Start: day(1), End: day(2)}, Count: 3},
		{Range: window.Range{Start: day(2), End: day(3)}, Count: 12, Overflow: true},
	}))
	assert.Contains(t, buf.String(), "OVERFLOW")
	assert.Contains(t, buf.String(), "2 windows, 15 records")
}

func TestEventsAndLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	store, err := ledger.Open(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	ev := types.FetchEvent{RunKey: "run-1", SourceID: isrctn.SourceID, TypeID: types.TypeAll, TimeStarted: time.Now().UTC()}
	require.NoError(t, store.CreateEvent(ctx, &ev))
	ev.NumChecked = 2
	require.NoError(t, store.CloseEvent(ctx, ev))
	require.NoError(t, store.Upsert(ctx, types.LedgerEntry{
		SourceID: isrctn.SourceID, NaturalID: "ISRCTN1", DownloadStatus: types.StatusDownloaded, LocalPath: "x.json",
	}))
	require.NoError(t, store.Close())

	run := func(args ...string) string {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append(args, "--ledger", dbPath, "--data-dir", dir))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	out := run("events", "--source", "isrctn")
	assert.Contains(t, out, "run_key: run-1")
	assert.Contains(t, out, "num_checked: 2")

	out = run("events", "--table")
	assert.Contains(t, out, "isrctn")
	assert.Contains(t, out, "DOWNLOADED")

	out = run("ledger", "show", "isrctn", "ISRCTN1")
	assert.Contains(t, out, "download_status: downloaded")

	out = run("ledger", "stats", "isrctn")
	assert.Contains(t, out, "downloaded: 1")

	out = run("version")
	assert.Contains(t, out, "ctmirror dev")
}
