package ports

import (
	"context"

	"github.com/aretw0/threadline/pkg/domain"
)

// Generator is a text generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt domain.Prompt) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	return f(ctx, prompt)
}
