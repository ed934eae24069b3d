package labelgraph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/labelgraph/extract"
)

// Config holds all configuration for the labelgraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.labelgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "labelgraph".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.labelgraph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`           // structured extraction
	Embedding LLMConfig `json:"embedding" yaml:"embedding"` // chunk and query embeddings

	// Embedding dimensions (must match model)
	EmbeddingDim   int `json:"embedding_dim" yaml:"embedding_dim"`
	EmbedBatchSize int `json:"embed_batch_size" yaml:"embed_batch_size"`

	// Optional Redis for the embedding cache and the extraction ledger.
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	MinChunkChars  int `json:"min_chunk_chars" yaml:"min_chunk_chars"`

	// Entity linking. PatternsFile is a YAML file of weed and crop regexes
	// replacing the built-in lists. ExtendCatalog adds every weed and crop
	// name already in the graph as a literal pattern.
	PatternsFile  string `json:"patterns_file,omitempty" yaml:"patterns_file,omitempty"`
	ExtendCatalog bool   `json:"extend_catalog" yaml:"extend_catalog"`

	// Ingestion
	IngestConcurrency int `json:"ingest_concurrency" yaml:"ingest_concurrency"`

	// Retrieval
	HerbicideLimit int `json:"herbicide_limit" yaml:"herbicide_limit"`

	// Structured extraction
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// RedisConfig points at the Redis instance. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int           `json:"db" yaml:"db"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// ExtractionConfig paces structured extraction.
type ExtractionConfig struct {
	extract.PoolConfig `yaml:",inline"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.labelgraph/labelgraph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "labelgraph",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:      768,
		EmbedBatchSize:    50,
		Redis:             RedisConfig{CacheTTL: 7 * 24 * time.Hour},
		MaxChunkTokens:    512,
		MinChunkChars:     20,
		IngestConcurrency: 4,
		HerbicideLimit:    10,
		Extraction: ExtractionConfig{
			PoolConfig: extract.DefaultPoolConfig(),
			Timeout:    extract.DefaultTimeout,
		},
	}
}

// LoadConfig reads a YAML config over the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	case c.Embedding.Provider == "":
		return fmt.Errorf("%w: embedding provider not set", ErrInvalidConfig)
	case c.IngestConcurrency < 0 || c.Extraction.MaxConcurrent < 0:
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides fields from LABELGRAPH_* environment variables.
// Provider API keys also fall back to OPENAI_API_KEY and GEMINI_API_KEY.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LABELGRAPH_DB_PATH", &c.DBPath)
	str("LABELGRAPH_CHAT_PROVIDER", &c.Chat.Provider)
	str("LABELGRAPH_CHAT_MODEL", &c.Chat.Model)
	str("LABELGRAPH_CHAT_BASE_URL", &c.Chat.BaseURL)
	str("LABELGRAPH_CHAT_API_KEY", &c.Chat.APIKey)
	str("LABELGRAPH_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("LABELGRAPH_EMBEDDING_MODEL", &c.Embedding.Model)
	str("LABELGRAPH_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	str("LABELGRAPH_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	num("LABELGRAPH_EMBEDDING_DIM", &c.EmbeddingDim)
	str("LABELGRAPH_REDIS_ADDR", &c.Redis.Addr)
	str("LABELGRAPH_REDIS_PASSWORD", &c.Redis.Password)
	str("LABELGRAPH_PATTERNS_FILE", &c.PatternsFile)
	num("LABELGRAPH_INGEST_CONCURRENCY", &c.IngestConcurrency)
	num("LABELGRAPH_EXTRACT_CONCURRENCY", &c.Extraction.MaxConcurrent)

	for _, llm := range []*LLMConfig{&c.Chat, &c.Embedding} {
		if llm.APIKey != "" {
			continue
		}
		switch llm.Provider {
		case "openai":
			llm.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			llm.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "labelgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".labelgraph", name+".db")
	}
}
