package llm

import (
	"context"
	"fmt"
)

// geminiMaxBatch is the most inputs Gemini accepts in one embeddings call.
const geminiMaxBatch = 100

// geminiProvider talks to Gemini's OpenAI-compatible endpoint, which has
// no /v1 path prefix.
//
// Useful models:
//
//	gemini-2.5-flash       extraction
//	gemini-embedding-001   embeddings (3072 native, set embedding_dim 768)
//
// API key: set via config or GEMINI_API_KEY env var.
type geminiProvider struct {
	base openAICompatClient
}

// NewGemini creates a provider for Google Gemini.
func NewGemini(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return &geminiProvider{base: newOpenAICompatClientPrefix(cfg, "")}
}

func (p *geminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

// Embed splits texts into calls of at most geminiMaxBatch inputs. A
// response that leaves a slot empty fails the batch so no chunk is
// stored without a vector.
func (p *geminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		vecs, err := p.base.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("gemini embed: no vector for input %d", start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
