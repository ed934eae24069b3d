// Package labelgraph wires the herbicide label graph: a SQLite graph
// store with a vector index, the label loaders, the hybrid retrieval
// engine, structured extraction and the agent tool surface.
package labelgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brunobiangulo/labelgraph/chunker"
	"github.com/brunobiangulo/labelgraph/extract"
	"github.com/brunobiangulo/labelgraph/graph"
	"github.com/brunobiangulo/labelgraph/llm"
	"github.com/brunobiangulo/labelgraph/loader"
	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/retrieval"
	"github.com/brunobiangulo/labelgraph/store"
	"github.com/brunobiangulo/labelgraph/tools"
)

// ledgerTTL is how long extraction run records stay in Redis.
const ledgerTTL = 30 * 24 * time.Hour

// Engine is the main entry point: it owns the store and every component
// built on it.
type Engine struct {
	cfg       Config
	store     *store.Store
	redis     *redis.Client
	embedder  *llm.Embedder
	parsers   *parser.Registry
	loader    *loader.Loader
	entities  *graph.EntityLoader
	retriever *retrieval.Engine
	tools     *tools.Toolset
	mcp       *tools.MCPServer
	pool      *extract.Pool
}

// New creates an engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.resolveDBPath()
	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e := &Engine{cfg: cfg, store: s}

	if err := e.init(); err != nil {
		e.Close()
		return nil, err
	}
	slog.Info("labelgraph: engine ready",
		"db", dbPath, "embedding_model", cfg.Embedding.Model, "dim", cfg.EmbeddingDim,
		"redis", cfg.Redis.Addr != "", "extraction", e.pool != nil)
	return e, nil
}

func (e *Engine) init() error {
	cfg := e.cfg

	if cfg.Redis.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	var embedOpts []llm.EmbedderOption
	if e.redis != nil {
		embedOpts = append(embedOpts, llm.WithCache(llm.NewCache(e.redis, cfg.Embedding.Model, cfg.EmbeddingDim, cfg.Redis.CacheTTL)))
	}
	e.embedder = llm.NewEmbedder(embedLLM, cfg.EmbeddingDim, embedOpts...)

	linker, err := e.newLinker()
	if err != nil {
		return err
	}

	e.parsers = parser.NewRegistry()
	e.parsers.Register("json", &parser.DoclingParser{})

	chunkr := chunker.New(chunker.Config{
		MaxTokens: cfg.MaxChunkTokens,
		MinChars:  cfg.MinChunkChars,
	})
	batch := cfg.EmbedBatchSize
	if batch <= 0 {
		batch = llm.DefaultBatchSize
	}
	e.loader = loader.New(e.store, e.embedder,
		loader.WithChunker(chunkr),
		loader.WithLinker(linker),
		loader.WithRegistry(e.parsers),
		loader.WithBatchSize(batch),
	)
	e.entities = graph.NewEntityLoader(e.store)

	e.retriever = retrieval.New(e.store, e.embedder, retrieval.WithHerbicideLimit(cfg.HerbicideLimit))
	e.tools = tools.New(e.retriever, e.store)
	e.mcp = tools.NewMCPServer(e.tools)

	if cfg.Chat.Provider != "" {
		chatLLM, err := llm.NewProvider(llm.Config{
			Provider: cfg.Chat.Provider,
			Model:    cfg.Chat.Model,
			BaseURL:  cfg.Chat.BaseURL,
			APIKey:   cfg.Chat.APIKey,
		})
		if err != nil {
			return fmt.Errorf("creating chat provider: %w", err)
		}
		opts := []extract.PoolOption{extract.WithRegistry(e.parsers)}
		if e.redis != nil {
			opts = append(opts, extract.WithLedger(extract.NewRedisLedger(e.redis, ledgerTTL)))
		}
		ex := extract.NewExtractor(chatLLM, cfg.Chat.Model, cfg.Extraction.Timeout)
		e.pool = extract.NewPool(ex, cfg.Extraction.PoolConfig, opts...)
	}
	return nil
}

// newLinker builds the entity linker from the patterns file, extended
// with the graph's weed and crop catalog when enabled.
func (e *Engine) newLinker() (*graph.Linker, error) {
	var patterns graph.Patterns
	if e.cfg.PatternsFile != "" {
		p, err := graph.LoadPatterns(e.cfg.PatternsFile)
		if err != nil {
			return nil, err
		}
		patterns = p
	}
	linker, err := graph.NewLinker(patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if e.cfg.ExtendCatalog {
		weeds, crops, err := e.store.EntityNames(context.Background())
		if err != nil {
			return nil, fmt.Errorf("reading entity catalog: %w", err)
		}
		linker.Extend(weeds, crops)
		slog.Debug("labelgraph: linker extended", "weeds", len(weeds), "crops", len(crops))
	}
	return linker, nil
}

// Ingest chunks, embeds and links one label document.
func (e *Engine) Ingest(ctx context.Context, path string) (*loader.Stats, error) {
	return e.loader.LoadFile(ctx, path)
}

// IngestDirectory loads every supported document in dir.
func (e *Engine) IngestDirectory(ctx context.Context, dir string, limit int) (*loader.DirectoryStats, error) {
	return e.loader.LoadDirectory(ctx, dir, loader.DirectoryOptions{
		Limit:       limit,
		Concurrency: e.cfg.IngestConcurrency,
	})
}

// Watch ingests documents written to dir until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, dir string, fn loader.WatchFunc) error {
	return e.loader.Watch(ctx, dir, fn)
}

// LoadEntities merges one extracted label JSON file into the graph.
func (e *Engine) LoadEntities(ctx context.Context, path string) (*graph.LoadStats, error) {
	return e.entities.LoadFile(ctx, path)
}

// LoadEntitiesDirectory merges every extracted label in dir.
func (e *Engine) LoadEntitiesDirectory(ctx context.Context, dir string, limit int) (*graph.DirectoryStats, error) {
	return e.entities.LoadDirectory(ctx, dir, limit)
}

// Extract runs structured extraction over inDir, writing one JSON file
// per label to outDir. A positive limit caps the files processed.
func (e *Engine) Extract(ctx context.Context, inDir, outDir string, limit int) (*extract.Summary, error) {
	if e.pool == nil {
		return nil, ErrExtractionDisabled
	}
	return e.pool.WithLimit(limit).Run(ctx, inDir, outDir)
}

// ExtractFile extracts a single file with the pool's retry policy.
func (e *Engine) ExtractFile(ctx context.Context, input, output string) (extract.Result, error) {
	if e.pool == nil {
		return extract.Result{}, ErrExtractionDisabled
	}
	return e.pool.ExtractOne(ctx, input, output), nil
}

// Retriever returns the hybrid retrieval engine.
func (e *Engine) Retriever() *retrieval.Engine { return e.retriever }

// Tools returns the agent toolset.
func (e *Engine) Tools() *tools.Toolset { return e.tools }

// MCP returns the MCP server exposing the toolset.
func (e *Engine) MCP() *tools.MCPServer { return e.mcp }

// Store returns the underlying store for diagnostic access (e.g. eval checks).
func (e *Engine) Store() *store.Store { return e.store }

// Stats counts nodes and relationships in the graph.
func (e *Engine) Stats(ctx context.Context) (*store.GraphStats, error) {
	return e.store.Stats(ctx)
}

// Summary returns graph totals and the most connected weeds and crops.
func (e *Engine) Summary(ctx context.Context) (*store.GraphSummary, error) {
	return e.store.GraphSummary(ctx)
}

// Close releases the store and the Redis connection.
func (e *Engine) Close() error {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			slog.Warn("labelgraph: closing redis", "error", err)
		}
	}
	return e.store.Close()
}
