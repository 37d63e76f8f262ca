// Package openai implements ports.Generator on the OpenAI chat completions API.
// It also serves OpenAI-compatible gateways such as OpenRouter through a base URL.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the official SDK.
type Client struct {
	client    openai.Client
	model     string
	maxTokens int
}

// New creates a client. BaseURL is optional.
func New(cfg llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries are handled by llm.Retry
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.Messages)+1)
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	for _, m := range p.Messages {
		switch m.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(llm.MaxTokensFor(p.MaxTokens, c.maxTokens))),
	}
	if p.Temperature > 0 {
		params.Temperature = openai.Float(p.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.NewError(llm.ErrorTypeEmptyResponse, "no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.StatusCode, fmt.Errorf("openai: %w", err))
	}
	return llm.Classify(fmt.Errorf("openai: %w", err))
}
