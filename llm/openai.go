package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIProvider implements Provider on the official client library.
//
// Embedding models:
//
//	text-embedding-3-small  (1536 dim, supports Dimensions)  default
//	text-embedding-3-large  (3072 dim, supports Dimensions)
//
// API key: set via config or OPENAI_API_KEY env var.
type openAIProvider struct {
	cfg    Config
	client *openai.Client
}

// NewOpenAI creates a provider for OpenAI. BaseURL, when set, is the
// server root without the /v1 suffix.
func NewOpenAI(cfg Config) Provider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"
	}
	return &openAIProvider{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.cfg.Model),
		Dimensions: p.cfg.Dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}

// classifyOpenAIError maps 429 responses onto ErrRateLimited.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("openai: %w", err)
}
