// Package gemini implements ports.Generator and text embeddings on the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"google.golang.org/genai"
)

const (
	// DefaultModel is used when the config leaves the model empty.
	DefaultModel = "gemini-2.5-flash-lite"
	// DefaultEmbeddingModel produces vectors for knowledge retrieval.
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Client wraps a genai client.
type Client struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// New creates a client against the Gemini API backend.
func New(ctx context.Context, cfg llm.Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.Messages))
	for _, m := range p.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(llm.MaxTokensFor(p.MaxTokens, c.maxTokens)),
	}
	if p.Temperature > 0 {
		t := float32(p.Temperature)
		cfg.Temperature = &t
	}
	if p.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.System}}}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", classifyError(err)
	}
	return result.Text(), nil
}

// Embed returns one vector per text.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	resp, err := c.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, llm.NewError(llm.ErrorTypeEmptyResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.Code, fmt.Errorf("gemini: %w", err))
	}
	return llm.Classify(fmt.Errorf("gemini: %w", err))
}
