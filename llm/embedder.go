package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrDimensionMismatch is returned when a provider answers with vectors of
// a different size than the deployment's configured dimension.
var ErrDimensionMismatch = errors.New("labelgraph: embedding dimension mismatch")

// DefaultBatchSize is the number of texts sent per provider call.
const DefaultBatchSize = 50

// Embedder turns text into fixed-dimension vectors. It batches provider
// calls, validates the dimension and consults an optional cache.
type Embedder struct {
	provider Provider
	dim      int
	cache    *Cache
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithCache stores and reuses vectors in Redis.
func WithCache(c *Cache) EmbedderOption {
	return func(e *Embedder) { e.cache = c }
}

// NewEmbedder wraps a provider. A dim of zero disables the dimension check.
func NewEmbedder(p Provider, dim int, opts ...EmbedderOption) *Embedder {
	e := &Embedder{provider: p, dim: dim}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Dimension returns the configured vector size.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts are sent
// to the provider batchSize at a time; cached vectors are not re-sent.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()

	out := make([][]float32, len(texts))
	if e.cache != nil {
		cached, err := e.cache.Get(ctx, texts)
		if err != nil {
			slog.Warn("embed: cache read failed", "error", err)
		} else {
			for i, v := range cached {
				if v == nil {
					continue
				}
				if err := e.check(v); err != nil {
					slog.Warn("embed: discarding cached vector", "error", err)
					continue
				}
				out[i] = v
			}
		}
	}

	var missing []int
	for i, v := range out {
		if v == nil {
			missing = append(missing, i)
		}
	}

	for lo := 0; lo < len(missing); lo += batchSize {
		idx := missing[lo:min(lo+batchSize, len(missing))]
		batch := make([]string, len(idx))
		for i, j := range idx {
			batch[i] = texts[j]
		}

		vecs, err := e.provider.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d: %w", lo/batchSize, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding batch %d: got %d vectors for %d texts", lo/batchSize, len(vecs), len(batch))
		}
		for i, v := range vecs {
			if err := e.check(v); err != nil {
				return nil, err
			}
			out[idx[i]] = v
		}

		if e.cache != nil {
			if err := e.cache.Set(ctx, batch, vecs); err != nil {
				slog.Warn("embed: cache write failed", "error", err)
			}
		}
	}

	slog.Debug("embed: batch complete",
		"texts", len(texts),
		"cached", len(texts)-len(missing),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (e *Embedder) check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("embedding: provider returned an empty vector")
	}
	if e.dim > 0 && len(v) != e.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), e.dim)
	}
	return nil
}
