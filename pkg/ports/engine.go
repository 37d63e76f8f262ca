package ports

import (
	"context"

	"github.com/aretw0/threadline/pkg/domain"
)

// Orchestrator is the request surface consumed by transports (HTTP, MCP, CLI).
type Orchestrator interface {
	// Chat runs one turn to completion and returns the answer.
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

	// Stream runs one turn and publishes an event after every stage.
	// The channel is closed after the final done or failed event.
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.Event, error)

	// Suggest produces follow-up questions. It never fails; errors yield an empty list.
	Suggest(ctx context.Context, req domain.SuggestRequest) domain.SuggestResponse

	// Capabilities describes the registered capabilities.
	Capabilities() []domain.CapabilityInfo
}
