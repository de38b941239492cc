// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_CollapsesWhitespace(t *testing.T) {
	doc, err := Doc([]byte(`<div><p>  Trial
		status: <b>Completed</b>&nbsp;</p></div>`))
	require.NoError(t, err)
	assert.Equal(t, "Trial status: Completed", Text(doc.Find("p")))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "https://example.org/studies/ABC/", Resolve("https://example.org/studies/", "ABC/"))
	assert.Equal(t, "https://example.org/x", Resolve("https://example.org/studies/", "/x"))
	assert.Equal(t, "https://other.org/y", Resolve("https://example.org/", "https://other.org/y"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-02-01", "01/02/2024", "1 February 2024", "February 1, 2024", "2024-02-01T00:00:00"} {
		got, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}
	_, err := ParseDate("soon")
	assert.Error(t, err)
	assert.Nil(t, DatePtr(""))
}

func TestReadIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pmids\n123\n\n 456 \n"), 0o644))

	ids, err := ReadIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "456"}, ids)

	_, err = ReadIDs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestPause_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pause(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Pause(context.Background(), 0))
}
