package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// ollamaKeepAlive keeps the embedding model resident between the
// batches of an ingestion run.
const ollamaKeepAlive = "30m"

// ollamaProvider is the default local deployment: nomic-embed-text
// (768 dimensions) for chunk and query vectors, with chat going through
// the OpenAI-compatible endpoint for extraction. Embeddings use the
// native /api/embed endpoint, which batches and can truncate inputs that
// exceed the model context instead of failing the whole batch.
type ollamaProvider struct {
	base openAICompatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{base: newOpenAICompatClient(cfg)}
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := ollamaEmbedRequest{
		Model:      p.base.cfg.Model,
		Input:      texts,
		Truncate:   true,
		Dimensions: p.base.cfg.Dimensions,
		KeepAlive:  ollamaKeepAlive,
	}

	respBody, err := p.base.doPost(ctx, "/api/embed", body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("decoding ollama embed response: %w", err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: %d vectors for %d texts", len(embedResp.Embeddings), len(texts))
	}

	result := make([][]float32, len(embedResp.Embeddings))
	for i, emb := range embedResp.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Truncate   bool     `json:"truncate"`
	Dimensions int      `json:"dimensions,omitempty"`
	KeepAlive  string   `json:"keep_alive,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
