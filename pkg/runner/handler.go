package runner

import (
	"context"

	"github.com/aretw0/threadline/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (terminal) and JSON (structured) modes.
type IOHandler interface {
	// Input reads the next query. It returns io.EOF when the source is exhausted.
	Input(ctx context.Context) (string, error)

	// Event presents a stream event while a turn runs.
	Event(ctx context.Context, ev domain.Event) error

	// Answer presents the outcome of a completed turn.
	Answer(ctx context.Context, resp *domain.ChatResponse) error

	// Suggestions presents follow-up questions.
	Suggestions(ctx context.Context, suggestions []string) error

	// SystemOutput presents a meta-message (errors, status updates).
	// This is distinct from content rendering.
	SystemOutput(ctx context.Context, msg string) error
}

// ContentRenderer transforms answer text before it is written,
// e.g. markdown to ANSI.
type ContentRenderer func(string) (string, error)
