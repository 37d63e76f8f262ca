// Package anthropic implements ports.Generator on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
)

// DefaultModel is used when the config leaves the model empty.
const DefaultModel = "claude-3-5-haiku-latest"

// Client wraps the official SDK.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int
}

// New creates a client.
func New(cfg llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: cfg.MaxTokens,
	}
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(p.Messages))
	for _, m := range p.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: int64(llm.MaxTokensFor(p.MaxTokens, c.maxTokens)),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature > 0 {
		params.Temperature = anthropic.Float(p.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", llm.FromStatus(apiErr.StatusCode, fmt.Errorf("anthropic: %w", err))
		}
		return "", llm.Classify(fmt.Errorf("anthropic: %w", err))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
