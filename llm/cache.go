package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps embeddings in Redis, keyed by model, dimension and a hash of
// the text.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewCache returns a cache whose keys are namespaced by model and vector
// dimension. A zero ttl keeps entries until evicted.
func NewCache(client redis.UniversalClient, model string, dim int, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: fmt.Sprintf("labelgraph:emb:%s:%d:", model, dim),
		ttl:    ttl,
	}
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns one entry per text; misses are nil.
func (c *Cache) Get(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget: %w", err)
	}

	out := make([][]float32, len(texts))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out, nil
}

// Set stores vectors for texts in a single pipeline.
func (c *Cache) Set(ctx context.Context, texts []string, vecs [][]float32) error {
	if len(texts) != len(vecs) {
		return fmt.Errorf("cache set: %d texts, %d vectors", len(texts), len(vecs))
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, t := range texts {
			p.Set(ctx, c.key(t), encodeVector(vecs[i]), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.New("invalid vector encoding")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
