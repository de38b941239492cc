// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package commit writes fetched records to the local file store and then
// records them in the ledger. The artifact is always written first: a
// crash between the two steps leaves an artifact the ledger does not know
// about, which the next run fetches again and overwrites.
package commit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/ctmirror/pkg/types"
)

// Ledger is the part of the ledger store the writer needs.
type Ledger interface {
	Lookup(ctx context.Context, sourceID int, naturalID string) (*types.LedgerEntry, error)
	Upsert(ctx context.Context, e types.LedgerEntry) error
}

// Result describes one committed record.
type Result struct {
	Path string

	// Added is true when the record had never been downloaded before.
	Added bool
}

// Writer commits records of one source under Root/<source name>/.
type Writer struct {
	Root     string
	SourceID int
	Source   string
	Ledger   Ledger

	now func() time.Time
}

// NewWriter returns a Writer for one source.
func NewWriter(root string, sourceID int, source string, ledger Ledger) *Writer {
	return &Writer{Root: root, SourceID: sourceID, Source: source, Ledger: ledger, now: time.Now}
}

// Dir returns the directory holding the source's artifacts.
func (w *Writer) Dir() string { return filepath.Join(w.Root, w.Source) }

// PathFor returns the artifact path for a natural id.
func (w *Writer) PathFor(naturalID string, format types.ArtifactFormat) string {
	return filepath.Join(w.Dir(), Slug(naturalID)+"."+string(format))
}

// Commit serialises rec, replaces its artifact atomically, and only then
// upserts the ledger entry. If writing fails the ledger is not touched. If
// the ledger update fails the artifact stays and the error is returned.
func (w *Writer) Commit(ctx context.Context, eventID int64, rec types.Record) (Result, error) {
	if rec.NaturalID == "" {
		return Result{}, fmt.Errorf("committing record: missing natural id")
	}
	prior, err := w.Ledger.Lookup(ctx, w.SourceID, rec.NaturalID)
	if err != nil {
		return Result{}, fmt.Errorf("committing %s: %w", rec.NaturalID, err)
	}

	data, err := encode(rec)
	if err != nil {
		return Result{}, fmt.Errorf("encoding %s: %w", rec.NaturalID, err)
	}
	path := w.PathFor(rec.NaturalID, format(rec))
	if err := writeAtomic(path, data); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", rec.NaturalID, err)
	}

	now := w.now().UTC()
	entry := types.LedgerEntry{
		SourceID:         w.SourceID,
		NaturalID:        rec.NaturalID,
		RemoteURL:        rec.RemoteURL,
		LastRevised:      rec.LastRevised,
		DownloadStatus:   types.StatusDownloaded,
		AssumeComplete:   rec.Complete,
		LocalPath:        path,
		LastDownloaded:   &now,
		LastFetchEventID: eventID,
	}
	res := Result{Path: path, Added: prior == nil || prior.DownloadStatus != types.StatusDownloaded}
	if err := w.Ledger.Upsert(ctx, entry); err != nil {
		return res, fmt.Errorf("recording %s in ledger (artifact kept at %s): %w", rec.NaturalID, path, err)
	}
	return res, nil
}

func format(rec types.Record) types.ArtifactFormat {
	if rec.Format == "" {
		return types.FormatJSON
	}
	return rec.Format
}

func encode(rec types.Record) ([]byte, error) {
	switch format(rec) {
	case types.FormatJSON:
		if rec.Body == nil {
			return nil, fmt.Errorf("empty record body")
		}
		data, err := json.MarshalIndent(rec.Body, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case types.FormatXML:
		if len(rec.Raw) == 0 {
			return nil, fmt.Errorf("empty record body")
		}
		return rec.Raw, nil
	default:
		return nil, fmt.Errorf("unknown artifact format %q", rec.Format)
	}
}

// writeAtomic replaces path with data through a synced temp file in the
// same directory, so readers see the old or the new file, never a mix.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".commit-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Slug turns a natural id into a safe file name: letters, digits, dot,
// dash and underscore are kept, anything else becomes an underscore.
func Slug(naturalID string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(naturalID))
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
