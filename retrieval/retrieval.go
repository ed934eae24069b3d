// Package retrieval answers label questions by combining vector search
// over chunk embeddings with traversal of the label graph.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/labelgraph/store"
)

// DefaultK is the number of chunks returned when no k is given.
const DefaultK = 5

// DefaultHerbicideLimit caps the CONTROLS records attached by ExpandGraph.
const DefaultHerbicideLimit = 10

// Store is the read side of the graph store used for retrieval.
type Store interface {
	VectorSearch(ctx context.Context, queryEmbedding []float32, k int, filter store.VectorFilter) ([]store.SearchResult, error)
	Neighbours(ctx context.Context, chunkIDs []string) ([]store.ChunkNeighbours, error)
	Mentions(ctx context.Context, chunkIDs []string) ([]store.Mention, error)
	HerbicideControls(ctx context.Context, chunkIDs []string, limit int) ([]store.HerbicideControl, error)
	Window(ctx context.Context, chunkID string, hops int) ([]store.Chunk, *store.Chunk, []store.Chunk, error)
	ChunksMentioning(ctx context.Context, entityType, name string, limit int) ([]store.SearchResult, error)
	ChunksContaining(ctx context.Context, term string, limit int) ([]store.SearchResult, error)
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine runs vector, graph and hybrid searches. It holds no per-query
// state and is safe for concurrent use.
type Engine struct {
	store          Store
	embedder       Embedder
	herbicideLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHerbicideLimit sets how many CONTROLS records ExpandGraph returns.
func WithHerbicideLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.herbicideLimit = n
		}
	}
}

// New creates a retrieval engine.
func New(s Store, embedder Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		embedder:       embedder,
		herbicideLimit: DefaultHerbicideLimit,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// VectorOptions controls a vector search.
type VectorOptions struct {
	K         int    `json:"k"`
	ChunkType string `json:"chunk_type,omitempty"`
	Product   string `json:"product,omitempty"`
}

// HybridOptions controls a hybrid search.
type HybridOptions struct {
	K           int    `json:"k"`
	ExpandGraph bool   `json:"expand_graph"`
	ChunkType   string `json:"chunk_type,omitempty"`
	Product     string `json:"product,omitempty"`
}

// ChunkContext is a retrieved chunk with its NEXT neighbours.
type ChunkContext struct {
	Chunk    store.Chunk  `json:"chunk"`
	Previous *store.Chunk `json:"previous,omitempty"`
	Next     *store.Chunk `json:"next,omitempty"`
}

// GraphContext is what graph expansion found around a set of chunks. The
// three parts are independent and are never merged into the ranking.
type GraphContext struct {
	Neighbours []ChunkContext           `json:"neighbours"`
	Mentions   []store.Mention          `json:"mentions"`
	Herbicides []store.HerbicideControl `json:"herbicides"`
}

// HybridResult is the outcome of a hybrid search.
type HybridResult struct {
	Chunks []store.SearchResult `json:"chunks"`
	Graph  *GraphContext        `json:"graph,omitempty"`
}

// VectorSearch embeds the query and returns the nearest chunks, best
// first. An embedding failure is returned as an error.
func (e *Engine) VectorSearch(ctx context.Context, query string, opts VectorOptions) ([]store.SearchResult, error) {
	start := time.Now()
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	if k > store.MaxK {
		k = store.MaxK
	}

	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := e.store.VectorSearch(ctx, emb, k, store.VectorFilter{
		ChunkType: opts.ChunkType,
		Product:   opts.Product,
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []store.SearchResult{}
	}

	slog.Debug("retrieval: vector search",
		"k", k,
		"chunk_type", opts.ChunkType,
		"results", len(results),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return results, nil
}

// ExpandGraph collects the NEXT neighbours, the entity mentions and the
// herbicide controls around the given chunks. The three lookups run
// concurrently.
func (e *Engine) ExpandGraph(ctx context.Context, chunks []store.SearchResult) (*GraphContext, error) {
	start := time.Now()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}

	type neighbourResult struct {
		results []store.ChunkNeighbours
		err     error
	}
	type mentionResult struct {
		results []store.Mention
		err     error
	}
	type controlResult struct {
		results []store.HerbicideControl
		err     error
	}

	nbCh := make(chan neighbourResult, 1)
	mnCh := make(chan mentionResult, 1)
	hcCh := make(chan controlResult, 1)

	go func() {
		r, err := e.store.Neighbours(ctx, ids)
		nbCh <- neighbourResult{r, err}
	}()
	go func() {
		r, err := e.store.Mentions(ctx, ids)
		mnCh <- mentionResult{r, err}
	}()
	go func() {
		r, err := e.store.HerbicideControls(ctx, ids, e.herbicideLimit)
		hcCh <- controlResult{r, err}
	}()

	nb, mn, hc := <-nbCh, <-mnCh, <-hcCh
	if nb.err != nil {
		return nil, fmt.Errorf("neighbours: %w", nb.err)
	}
	if mn.err != nil {
		return nil, fmt.Errorf("mentions: %w", mn.err)
	}
	if hc.err != nil {
		return nil, fmt.Errorf("herbicide controls: %w", hc.err)
	}

	byID := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c.Chunk
	}
	gc := &GraphContext{
		Neighbours: make([]ChunkContext, 0, len(nb.results)),
		Mentions:   mn.results,
		Herbicides: hc.results,
	}
	for _, n := range nb.results {
		gc.Neighbours = append(gc.Neighbours, ChunkContext{
			Chunk:    byID[n.ChunkID],
			Previous: n.Previous,
			Next:     n.Next,
		})
	}
	if gc.Mentions == nil {
		gc.Mentions = []store.Mention{}
	}
	if gc.Herbicides == nil {
		gc.Herbicides = []store.HerbicideControl{}
	}

	slog.Debug("retrieval: graph expanded",
		"chunks", len(ids),
		"mentions", len(gc.Mentions),
		"herbicides", len(gc.Herbicides),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return gc, nil
}

// HybridSearch runs a vector search and, when asked and something was
// found, attaches the graph context of the results. The vector ranking is
// returned unchanged.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts HybridOptions) (*HybridResult, error) {
	chunks, err := e.VectorSearch(ctx, query, VectorOptions{
		K:         opts.K,
		ChunkType: opts.ChunkType,
		Product:   opts.Product,
	})
	if err != nil {
		return nil, err
	}
	res := &HybridResult{Chunks: chunks}
	if !opts.ExpandGraph || len(chunks) == 0 {
		return res, nil
	}
	res.Graph, err = e.ExpandGraph(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return res, nil
}
