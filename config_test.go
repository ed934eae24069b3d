package labelgraph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.EmbeddingDim != 768 {
		t.Errorf("EmbeddingDim = %d, want 768", cfg.EmbeddingDim)
	}
	if cfg.Extraction.MaxConcurrent != 1 || cfg.Extraction.StartDelay != 2500*time.Millisecond {
		t.Errorf("extraction pacing = %+v", cfg.Extraction.PoolConfig)
	}
	if cfg.Extraction.Timeout != 90*time.Second {
		t.Errorf("extraction timeout = %v", cfg.Extraction.Timeout)
	}
	if cfg.ExtendCatalog {
		t.Error("catalog extension should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBName != "labelgraph" || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("missing file should give defaults, got %+v", cfg)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelgraph.yaml")
	data := `
db_path: /tmp/labels.db
embedding:
  provider: openai
  model: text-embedding-3-small
embedding_dim: 1536
redis:
  addr: localhost:6379
  cache_ttl: 1h
extend_catalog: true
extraction:
  max_concurrent: 3
  start_delay: 1s
  timeout: 2m
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/labels.db" || cfg.EmbeddingDim != 1536 {
		t.Errorf("db/dim not read: %+v", cfg)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.BaseURL != "http://localhost:11434" {
		t.Errorf("embedding = %+v (unset keys should keep defaults)", cfg.Embedding)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.CacheTTL != time.Hour {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.ExtendCatalog {
		t.Error("extend_catalog not read")
	}
	if cfg.Extraction.MaxConcurrent != 3 || cfg.Extraction.StartDelay != time.Second || cfg.Extraction.Timeout != 2*time.Minute {
		t.Errorf("extraction = %+v", cfg.Extraction)
	}
	if cfg.Extraction.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5", cfg.Extraction.MaxRetries)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "embedding_dim: [1, 2"},
		{"negative dim", "embedding_dim: -1"},
		{"no embedding provider", "embedding:\n  provider: \"\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LABELGRAPH_DB_PATH", "/data/graph.db")
	t.Setenv("LABELGRAPH_EMBEDDING_PROVIDER", "openai")
	t.Setenv("LABELGRAPH_EMBEDDING_DIM", "1536")
	t.Setenv("LABELGRAPH_EXTRACT_CONCURRENCY", "4")
	t.Setenv("LABELGRAPH_INGEST_CONCURRENCY", "not-a-number")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.DBPath != "/data/graph.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.APIKey != "sk-env" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.EmbeddingDim != 1536 || cfg.Extraction.MaxConcurrent != 4 {
		t.Errorf("dim = %d, extract concurrency = %d", cfg.EmbeddingDim, cfg.Extraction.MaxConcurrent)
	}
	if cfg.IngestConcurrency != 4 {
		t.Errorf("unparseable override should be ignored, got %d", cfg.IngestConcurrency)
	}
	if cfg.Chat.APIKey != "" {
		t.Errorf("ollama chat should not pick up OPENAI_API_KEY, got %q", cfg.Chat.APIKey)
	}
}

func TestResolveDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit path", Config{DBPath: "/x/y.db", DBName: "ignored"}, "/x/y.db"},
		{"local", Config{DBName: "labels", StorageDir: "local"}, "labels.db"},
		{"home default name", Config{}, filepath.Join(home, ".labelgraph", "labelgraph.db")},
		{"home named", Config{DBName: "au", StorageDir: "home"}, filepath.Join(home, ".labelgraph", "au.db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.resolveDBPath(); got != tt.want {
				t.Errorf("resolveDBPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
