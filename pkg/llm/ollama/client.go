// Package ollama implements ports.Generator on a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/ollama/ollama/api"
)

// DefaultHost is the address of a local Ollama server.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client    *api.Client
	model     string
	maxTokens int
}

// New creates a client. An empty or invalid BaseURL falls back to DefaultHost.
func New(cfg llm.Config) *Client {
	host := cfg.BaseURL
	if host == "" {
		host = DefaultHost
	}
	parsedURL, err := url.Parse(host)
	if err != nil {
		parsedURL, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client:    api.NewClient(parsedURL, http.DefaultClient),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	messages := make([]api.Message, 0, len(p.Messages)+1)
	if p.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: p.System})
	}
	for _, m := range p.Messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, api.Message{Role: role, Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": p.Temperature,
			"num_predict": llm.MaxTokensFor(p.MaxTokens, c.maxTokens),
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", classifyError(err)
	}
	return response.Message.Content, nil
}

func classifyError(err error) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llm.WrapError(llm.ErrorTypeTransient, 0, fmt.Errorf("ollama server not reachable: %w", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llm.WrapError(llm.ErrorTypeBadPrompt, 0, fmt.Errorf("ollama model not found: %w", err))
	}
	return llm.Classify(fmt.Errorf("ollama: %w", err))
}
