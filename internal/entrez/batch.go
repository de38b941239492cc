// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package entrez

import (
	"context"
	"errors"
	"fmt"
)

// Chunk removes duplicate ids, keeping the first occurrence, and splits the
// rest into consecutive chunks of at most size ids.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = ChunkSize
	}
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	var chunks [][]string
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		chunks = append(chunks, unique[start:end])
	}
	return chunks
}

// ResolveAndFetch posts ids in chunks, narrows each chunk by filter when
// one is given, and passes every fetched record to fn.
//
// Transport and payload failures abandon the current chunk and move on;
// they are counted in Stats.Skipped. An error returned by fn, or a
// cancelled context, stops the whole operation.
func (c *Client) ResolveAndFetch(ctx context.Context, ids []string, filter *DateFilter, fn func(RawRecord) error) (Stats, error) {
	var st Stats
	for i, chunk := range Chunk(ids, ChunkSize) {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Chunks++
		log := c.logger.With("chunk", i+1, "ids", len(chunk))

		h, err := c.Post(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			log.WarnContext(ctx, "post failed, skipping chunk", "error", err)
			st.Skipped++
			continue
		}
		st.Posted += len(chunk)

		count := len(chunk)
		if filter != nil {
			h, count, err = c.Search(ctx, h, *filter)
			if err != nil {
				if ctx.Err() != nil {
					return st, ctx.Err()
				}
				log.WarnContext(ctx, "search failed, skipping chunk", "error", err)
				st.Skipped++
				continue
			}
		}
		st.Matched += count
		if count == 0 {
			log.DebugContext(ctx, "no matches in chunk")
			continue
		}

		if err := c.fetchAll(ctx, h, count, &st, fn); err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			var cbErr callbackError
			if errors.As(err, &cbErr) {
				return st, cbErr.err
			}
			log.WarnContext(ctx, "fetch failed, skipping rest of chunk", "error", err)
			st.Skipped++
		}
	}
	return st, nil
}

type callbackError struct{ err error }

func (e callbackError) Error() string { return fmt.Sprintf("record callback: %v", e.err) }

func (c *Client) fetchAll(ctx context.Context, h Handle, count int, st *Stats, fn func(RawRecord) error) error {
	for start := 0; start < count; start += PageSize {
		recs, err := c.Fetch(ctx, h, start, min(PageSize, count-start))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return callbackError{err}
			}
			st.Fetched++
		}
	}
	return nil
}
