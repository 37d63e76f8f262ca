// Package provider builds a ports.Generator from configuration.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/llm/anthropic"
	"github.com/aretw0/threadline/pkg/llm/gemini"
	"github.com/aretw0/threadline/pkg/llm/ollama"
	"github.com/aretw0/threadline/pkg/llm/openai"
	"github.com/aretw0/threadline/pkg/ports"
)

// New returns the raw backend selected by cfg.Provider.
func New(ctx context.Context, cfg llm.Config) (ports.Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case llm.ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		return openai.New(cfg), nil
	case "", llm.ProviderOpenRouter:
		if cfg.BaseURL == "" {
			cfg.BaseURL = llm.OpenRouterBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "google/gemini-2.5-flash-lite"
		}
		return openai.New(cfg), nil
	case llm.ProviderAnthropic:
		return anthropic.New(cfg), nil
	case llm.ProviderGemini:
		return gemini.New(ctx, cfg)
	case llm.ProviderOllama:
		if cfg.Model == "" {
			cfg.Model = "llama3.2"
		}
		return ollama.New(cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// Build wraps the backend with the standard middleware stack:
// logging, then retries, then a per-attempt timeout, then empty-output detection.
// Extra middlewares run outermost.
func Build(ctx context.Context, cfg llm.Config, logger *slog.Logger, extra ...llm.Middleware) (ports.Generator, error) {
	base, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	retry := llm.DefaultRetryConfig
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	stack := append(append([]llm.Middleware(nil), extra...),
		llm.Logging(logger),
		llm.Retry(retry),
		llm.Timeout(cfg.Timeout),
		llm.RequireContent(),
	)
	return llm.Chain(base, stack...), nil
}
