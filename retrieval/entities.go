package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/brunobiangulo/labelgraph/store"
)

// Scores of the two entity-anchored match kinds.
const (
	MentionScore = 1.0
	TextScore    = 0.5
)

// DefaultEntityLimit is the result cap of FindChunksForWeed and
// FindChunksForCrop when none is given.
const DefaultEntityLimit = 10

// FindChunksForWeed returns chunks that mention a weed, either through a
// MENTIONS edge or, with a lower score, through their raw text.
func (e *Engine) FindChunksForWeed(ctx context.Context, name string, limit int) ([]store.SearchResult, error) {
	return e.findChunks(ctx, "weed", name, limit)
}

// FindChunksForCrop is FindChunksForWeed for crops.
func (e *Engine) FindChunksForCrop(ctx context.Context, name string, limit int) ([]store.SearchResult, error) {
	return e.findChunks(ctx, "crop", name, limit)
}

func (e *Engine) findChunks(ctx context.Context, entityType, name string, limit int) ([]store.SearchResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []store.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultEntityLimit
	}

	linked, err := e.store.ChunksMentioning(ctx, entityType, name, limit)
	if err != nil {
		return nil, fmt.Errorf("chunks mentioning %s %q: %w", entityType, name, err)
	}
	text, err := e.store.ChunksContaining(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("chunks containing %q: %w", name, err)
	}

	out := mergeBest(limit,
		scored(linked, MentionScore),
		scored(text, TextScore),
	)
	slog.Debug("retrieval: entity chunks",
		"type", entityType,
		"name", name,
		"mentions", len(linked),
		"text", len(text),
		"results", len(out))
	return out, nil
}

func scored(results []store.SearchResult, score float64) []store.SearchResult {
	for i := range results {
		results[i].Score = score
	}
	return results
}

// mergeBest unions result lists by chunk id, keeping the best score of
// each chunk, and orders them by score, product and sequence.
func mergeBest(limit int, lists ...[]store.SearchResult) []store.SearchResult {
	best := make(map[string]int)
	out := []store.SearchResult{}
	for _, list := range lists {
		for _, r := range list {
			if i, ok := best[r.ChunkID]; ok {
				if r.Score > out[i].Score {
					out[i].Score = r.Score
				}
				continue
			}
			best[r.ChunkID] = len(out)
			out = append(out, r)
		}
	}

	slices.SortStableFunc(out, func(a, b store.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := strings.Compare(a.ProductNumber, b.ProductNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.SequenceOrder, b.SequenceOrder)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
