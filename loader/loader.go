// Package loader writes chunked label documents into the graph store.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/labelgraph/chunker"
	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/store"
)

// ErrEmbeddingFailed is returned when chunk embeddings cannot be produced.
// Nothing is written for the document in that case.
var ErrEmbeddingFailed = errors.New("labelgraph: embedding failed")

// ReasonNoChunks is the Stats.Reason of a document that yields no chunks.
const ReasonNoChunks = "no chunks generated"

// Store is the subset of the graph store the loader writes to.
type Store interface {
	UpsertDocument(ctx context.Context, doc store.Document) error
	LinkLabel(ctx context.Context, productNumber string) (bool, error)
	UpsertChunk(ctx context.Context, c store.Chunk, embedding []float32) error
	LinkNext(ctx context.Context, fromChunk, toChunk string) error
	LinkWeedMentions(ctx context.Context, chunkID, key string) (int, error)
	LinkCropMentions(ctx context.Context, chunkID, key string) (int, error)
	PruneChunks(ctx context.Context, productNumber string, keep []string) (int, error)
}

// Embedder produces one vector per text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Stats reports what loading one document wrote.
type Stats struct {
	ProductNumber string `json:"product_number"`
	SourceFile    string `json:"source_file"`
	Chunks        int    `json:"chunks"`
	NextRels      int    `json:"next_rels"`
	MentionsWeeds int    `json:"mentions_weeds"`
	MentionsCrops int    `json:"mentions_crops"`
	Pruned        int    `json:"pruned"`
	Empty         bool   `json:"empty,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option { return func(l *Loader) { l.chunker = c } }

// WithLinker replaces the default entity linker.
func WithLinker(lk *graph.Linker) Option { return func(l *Loader) { l.linker = lk } }

// WithRegistry replaces the parser registry used by LoadFile.
func WithRegistry(r *parser.Registry) Option { return func(l *Loader) { l.parsers = r } }

// WithBatchSize sets how many texts go to the embedder per call.
func WithBatchSize(n int) Option { return func(l *Loader) { l.batchSize = n } }

// Loader chunks, embeds and links label documents.
type Loader struct {
	store     Store
	embedder  Embedder
	chunker   *chunker.Chunker
	linker    *graph.Linker
	parsers   *parser.Registry
	batchSize int
}

// New creates a loader. Plain .json files are read as docling output.
func New(s Store, e Embedder, opts ...Option) *Loader {
	l := &Loader{
		store:     s,
		embedder:  e,
		batchSize: 50,
	}
	for _, o := range opts {
		o(l)
	}
	if l.chunker == nil {
		l.chunker = chunker.New(chunker.Config{})
	}
	if l.linker == nil {
		l.linker = graph.DefaultLinker()
	}
	if l.parsers == nil {
		l.parsers = parser.NewRegistry()
		l.parsers.Register("json", &parser.DoclingParser{})
	}
	return l
}

// LoadDocument writes one document: its node, HAS_LABEL, every chunk
// with its embedding, the NEXT chain and MENTIONS edges. Chunks of the
// same product that this run did not produce are pruned afterwards.
// Re-loading the same document leaves the graph unchanged.
func (l *Loader) LoadDocument(ctx context.Context, doc *parser.Document) (*Stats, error) {
	start := time.Now()
	stats := &Stats{ProductNumber: doc.ProductNumber, SourceFile: doc.SourceFile()}
	if doc.ProductNumber == "" {
		return nil, fmt.Errorf("%w: %s has no product number", parser.ErrMalformed, stats.SourceFile)
	}

	chunks := l.chunker.All(doc)
	if len(chunks) == 0 {
		stats.Empty = true
		stats.Reason = ReasonNoChunks
		slog.Info("ingest: document produced no chunks", "product", doc.ProductNumber, "file", stats.SourceFile)
		return stats, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = chunker.Contextualize(c)
	}
	embeddings, err := l.embedder.EmbedBatch(ctx, texts, l.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingFailed, doc.ProductNumber, err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrEmbeddingFailed, len(embeddings), len(chunks))
	}

	if err := l.store.UpsertDocument(ctx, store.Document{
		ProductNumber: doc.ProductNumber,
		SourceFile:    stats.SourceFile,
		ChunkCount:    len(chunks),
	}); err != nil {
		return nil, fmt.Errorf("upserting document %s: %w", doc.ProductNumber, err)
	}

	linked, err := l.store.LinkLabel(ctx, doc.ProductNumber)
	if err != nil {
		return nil, err
	}
	slog.Debug("ingest: herbicide label link", "product", doc.ProductNumber, "linked", linked)

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		if err := l.store.UpsertChunk(ctx, c, embeddings[i]); err != nil {
			return nil, fmt.Errorf("upserting chunk %s: %w", c.ChunkID, err)
		}
		ids[i] = c.ChunkID
		stats.Chunks++

		if i > 0 {
			if err := l.store.LinkNext(ctx, ids[i-1], c.ChunkID); err != nil {
				return nil, fmt.Errorf("linking %s -> %s: %w", ids[i-1], c.ChunkID, err)
			}
			stats.NextRels++
		}

		m := l.linker.Link(c.Text)
		for _, key := range m.Weeds {
			n, err := l.store.LinkWeedMentions(ctx, c.ChunkID, key)
			if err != nil {
				return nil, fmt.Errorf("linking weed mention %q: %w", key, err)
			}
			stats.MentionsWeeds += n
		}
		for _, key := range m.Crops {
			n, err := l.store.LinkCropMentions(ctx, c.ChunkID, key)
			if err != nil {
				return nil, fmt.Errorf("linking crop mention %q: %w", key, err)
			}
			stats.MentionsCrops += n
		}
	}

	stats.Pruned, err = l.store.PruneChunks(ctx, doc.ProductNumber, ids)
	if err != nil {
		return nil, fmt.Errorf("pruning stale chunks: %w", err)
	}

	slog.Info("ingest: document loaded",
		"product", doc.ProductNumber,
		"chunks", stats.Chunks,
		"next", stats.NextRels,
		"mentions", stats.MentionsWeeds+stats.MentionsCrops,
		"pruned", stats.Pruned,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// LoadFile parses a file with the normalizer for its extension and loads
// the result. The product number comes from the file name when the
// document does not carry one.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Stats, error) {
	p, err := l.parsers.ForPath(path)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if doc.ProductNumber == "" {
		doc.ProductNumber = parser.ProductNumberFromFilename(path)
	}
	return l.LoadDocument(ctx, doc)
}

// DirectoryOptions bounds a directory load.
type DirectoryOptions struct {
	Limit       int // maximum files; zero loads all
	Concurrency int // documents loaded at once; values below 2 run serially
}

// FileError records a file that failed to load.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// DirectoryStats aggregates a directory load.
type DirectoryStats struct {
	RunID          string      `json:"run_id"`
	FilesProcessed int         `json:"files_processed"`
	TotalChunks    int         `json:"total_chunks"`
	TotalNextRels  int         `json:"total_next_rels"`
	TotalMentions  int         `json:"total_mentions"`
	Empty          []string    `json:"empty,omitempty"`
	Superseded     []string    `json:"superseded,omitempty"` // other renditions of a loaded product
	Errors         []FileError `json:"errors,omitempty"`
}

// LoadDirectory loads every supported file of dir in name order, one
// rendition per product. A file that fails is logged and recorded, and the
// run continues.
func (l *Loader) LoadDirectory(ctx context.Context, dir string, opts DirectoryOptions) (*DirectoryStats, error) {
	files, superseded, err := l.sourceFiles(dir)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	run := &DirectoryStats{RunID: uuid.NewString()}
	for _, f := range superseded {
		run.Superseded = append(run.Superseded, filepath.Base(f))
	}
	if len(superseded) > 0 {
		slog.Info("ingest: skipping duplicate renditions", "run", run.RunID, "files", run.Superseded)
	}
	start := time.Now()
	slog.Info("ingest: loading directory", "run", run.RunID, "dir", dir, "files", len(files),
		"concurrency", max(1, opts.Concurrency))

	var mu sync.Mutex
	record := func(path string, stats *Stats, err error) {
		mu.Lock()
		defer mu.Unlock()
		name := filepath.Base(path)
		switch {
		case err != nil:
			slog.Warn("ingest: file failed", "run", run.RunID, "file", name, "error", err)
			run.Errors = append(run.Errors, FileError{File: name, Error: err.Error()})
		case stats.Empty:
			run.Empty = append(run.Empty, name)
		default:
			run.FilesProcessed++
			run.TotalChunks += stats.Chunks
			run.TotalNextRels += stats.NextRels
			run.TotalMentions += stats.MentionsWeeds + stats.MentionsCrops
		}
	}

	if opts.Concurrency < 2 {
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return run, err
			}
			stats, err := l.LoadFile(ctx, f)
			record(f, stats, err)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, opts.Concurrency)
		for _, f := range files {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return run, ctx.Err()
			}
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				defer func() { <-sem }()
				stats, err := l.LoadFile(ctx, path)
				record(path, stats, err)
			}(f)
		}
		wg.Wait()
		slices.SortFunc(run.Errors, func(a, b FileError) int { return strings.Compare(a.File, b.File) })
		slices.Sort(run.Empty)
	}

	slog.Info("ingest: directory loaded",
		"run", run.RunID,
		"files", run.FilesProcessed,
		"chunks", run.TotalChunks,
		"empty", len(run.Empty),
		"errors", len(run.Errors),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return run, nil
}

// SourceFiles lists the loadable files of dir in name order. Names
// starting with an underscore are skipped. When several renditions of one
// product are present only the preferred one is listed.
func (l *Loader) SourceFiles(dir string) ([]string, error) {
	files, _, err := l.sourceFiles(dir)
	return files, err
}

// renditionRank orders formats of the same label, lowest first.
var renditionRank = map[string]int{
	"docling.json": 0,
	"json":         1,
	"pdf":          2,
	"xlsx":         3,
	"md":           4,
	"txt":          5,
}

func rank(path string) int {
	if r, ok := renditionRank[parser.FormatOf(path)]; ok {
		return r
	}
	return len(renditionRank)
}

// sourceFiles returns the files to load and the renditions they supersede.
func (l *Loader) sourceFiles(dir string) (files, superseded []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	best := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !l.parsers.Supports(path) {
			continue
		}
		pn := parser.ProductNumberFromFilename(path)
		cur, ok := best[pn]
		switch {
		case !ok:
			best[pn] = path
		case rank(path) < rank(cur) || (rank(path) == rank(cur) && path < cur):
			best[pn] = path
			superseded = append(superseded, cur)
		default:
			superseded = append(superseded, path)
		}
	}
	for _, path := range best {
		files = append(files, path)
	}
	slices.Sort(files)
	slices.Sort(superseded)
	return files, superseded, nil
}
