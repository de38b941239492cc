// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pubmed mirrors PubMed citations by id through the E-utilities
// batch protocol. Candidate ids come from an id file and from every id the
// ledger already holds, so known citations are refreshed as they are
// revised.
package pubmed

import (
	"context"
	"fmt"

	"github.com/pdiddy/ctmirror/internal/entrez"
	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/sources/scrape"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// SourceID is the ledger id of the PubMed source.
const SourceID = 100135

// Name is the source's CLI and directory name.
const Name = "pubmed"

var articleBase = "https://pubmed.ncbi.nlm.nih.gov/"

// Source implements harvest.Source for PubMed.
type Source struct {
	client *entrez.Client
}

// New returns the PubMed source.
func New(client *entrez.Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() string       { return Name }
func (s *Source) ID() int            { return SourceID }
func (s *Source) ProgressEvery() int { return 100 }

// Candidates returns the ids a run considers: the policy's id file, if
// any, followed by every id already in the ledger.
func (s *Source) Candidates(ctx context.Context, sess *harvest.Session) ([]string, error) {
	var ids []string
	if f := sess.Policy().IDFile; f != "" {
		fromFile, err := scrape.ReadIDs(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}
	known, err := sess.KnownIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing known ids: %w", err)
	}
	return append(ids, known...), nil
}

// Harvest considers every candidate id, then fetches the ones that need
// it in batches. With a cutoff date only citations revised within
// [cutoff, end] are fetched.
func (s *Source) Harvest(ctx context.Context, sess *harvest.Session) error {
	ids, err := s.Candidates(ctx, sess)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(ids))
	var wanted []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if sess.Consider(ctx, id) {
			wanted = append(wanted, id)
		}
	}
	if len(wanted) == 0 {
		sess.Logger().InfoContext(ctx, "nothing to fetch", "candidates", len(seen))
		return nil
	}

	var filter *entrez.DateFilter
	if p := sess.Policy(); p.CutoffDate != nil {
		filter = &entrez.DateFilter{From: *p.CutoffDate}
		if p.EndDate != nil {
			filter.To = *p.EndDate
		}
	}

	st, err := s.client.ResolveAndFetch(ctx, wanted, filter, func(raw entrez.RawRecord) error {
		_ = sess.Commit(ctx, Extract(raw))
		return nil
	})
	sess.Logger().InfoContext(ctx, "batch fetch finished", "chunks", st.Chunks, "posted", st.Posted,
		"matched", st.Matched, "fetched", st.Fetched, "skipped_chunks", st.Skipped)
	return err
}

// Extract wraps a fetched article as an XML record.
func Extract(raw entrez.RawRecord) types.Record {
	return types.Record{
		NaturalID:   raw.ID,
		RemoteURL:   articleBase + raw.ID + "/",
		LastRevised: raw.LastRevised,
		Format:      types.FormatXML,
		Raw:         raw.XML,
		Complete:    IsComplete(raw),
	}
}

// IsComplete is always false: citations keep being revised.
func IsComplete(entrez.RawRecord) bool { return false }
