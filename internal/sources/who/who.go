// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package who mirrors trials from WHO ICTRP CSV exports on local disk.
// Nothing is fetched over the network; each row of each export is a
// candidate record.
package who

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/sources/scrape"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// SourceID is the ledger id of the WHO source.
const SourceID = 100115

// Name is the source's CLI and directory name.
const Name = "who"

// Column headers of the ICTRP export.
const (
	colID          = "TrialID"
	colRefreshed   = "Last Refreshed on"
	colTitle       = "Public title"
	colAcronym     = "Acronym"
	colSponsor     = "Primary sponsor"
	colRegistered  = "Date registration"
	colStatus      = "Recruitment Status"
	colURL         = "web address"
	colCondition   = "Condition"
	colCountries   = "Countries"
	colStudyType   = "Study type"
	colResultsLink = "results url link"
)

// Row is one export row keyed by column header.
type Row map[string]string

// Source implements harvest.Source for ICTRP exports.
type Source struct {
	patterns []string
	logger   *slog.Logger
}

// New returns the WHO source reading the files matched by patterns.
func New(patterns []string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{patterns: patterns, logger: logger}
}

func (s *Source) Name() string       { return Name }
func (s *Source) ID() int            { return SourceID }
func (s *Source) ProgressEvery() int { return 1000 }

// Validate requires at least one export file.
func (s *Source) Validate(types.RunPolicy) error {
	files, err := s.Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s needs export files (--files)", types.ErrConfig, Name)
	}
	return nil
}

// Files expands the configured patterns into sorted, de-duplicated paths.
func (s *Source) Files() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad file pattern %q: %v", types.ErrConfig, p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Harvest reads every export and commits the rows the ledger says need
// fetching. A cutoff run keeps rows refreshed within [cutoff, end); an
// id-list run keeps only the listed trials.
func (s *Source) Harvest(ctx context.Context, sess *harvest.Session) error {
	p := sess.Policy()
	var only map[string]bool
	if p.TypeID == types.TypeIDList {
		ids, err := scrape.ReadIDs(p.IDFile)
		if err != nil {
			return err
		}
		only = make(map[string]bool, len(ids))
		for _, id := range ids {
			only[id] = true
		}
	}

	files, err := s.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		s.logger.InfoContext(ctx, "reading export", "file", f)
		err := s.readFile(f, func(row Row) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := row[colID]
			if id == "" || (only != nil && !only[id]) || !inRange(row, p) {
				return nil
			}
			if !sess.Consider(ctx, id) {
				return nil
			}
			rec, err := Extract(row)
			if err != nil {
				sess.Fail(ctx, id, row[colURL], err)
				return nil
			}
			_ = sess.Commit(ctx, rec)
			return nil
		})
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}
	}
	return nil
}

func inRange(row Row, p types.RunPolicy) bool {
	if p.CutoffDate == nil && p.EndDate == nil {
		return true
	}
	t := scrape.DatePtr(row[colRefreshed])
	if t == nil {
		return false
	}
	if p.CutoffDate != nil && t.Before(*p.CutoffDate) {
		return false
	}
	if p.EndDate != nil && !t.Before(*p.EndDate) {
		return false
	}
	return true
}

func (s *Source) readFile(path string, fn func(Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReadRows(f, fn)
}

// ReadRows calls fn for every row of an export read from r. The first
// record is the header.
func ReadRows(r io.Reader, fn func(Row) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("reading header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		row := make(Row, len(header))
		for i, v := range rec {
			if i < len(header) && header[i] != "" {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Extract converts an export row into a Record.
func Extract(row Row) (types.Record, error) {
	id := row[colID]
	if id == "" {
		return types.Record{}, fmt.Errorf("row without %s", colID)
	}
	fields := make(map[string]string, len(row))
	for k, v := range row {
		if v != "" {
			fields[k] = v
		}
	}

	trial := types.Trial{
		ID:           id,
		Source:       Name,
		URL:          row[colURL],
		Title:        scrape.Clean(row[colTitle]),
		Acronym:      scrape.Clean(row[colAcronym]),
		Sponsor:      scrape.Clean(row[colSponsor]),
		Status:       row[colStatus],
		StudyType:    row[colStudyType],
		Conditions:   split(row[colCondition]),
		Countries:    split(row[colCountries]),
		ResultsURL:   row[colResultsLink],
		RegisteredAt: scrape.DatePtr(row[colRegistered]),
		LastRevised:  scrape.DatePtr(row[colRefreshed]),
		Fields:       fields,
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

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if c := scrape.Clean(part); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// IsComplete is always false: exports are re-issued with revised rows.
func IsComplete(types.Trial) bool { return false }

