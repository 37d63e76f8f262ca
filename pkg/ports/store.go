package ports

import (
	"context"

	"github.com/aretw0/threadline/pkg/domain"
)

// StateStore defines the interface for persisting conversation state.
// A store holds at most one state per thread ID.
type StateStore interface {
	// Save persists the state for a given thread ID, replacing any previous value.
	Save(ctx context.Context, threadID string, state *domain.ConversationState) error

	// Load retrieves the state for a given thread ID.
	// Returns domain.ErrThreadNotFound if the thread does not exist.
	Load(ctx context.Context, threadID string) (*domain.ConversationState, error)

	// Delete removes the state for a given thread ID.
	Delete(ctx context.Context, threadID string) error

	// List returns the IDs of all stored threads.
	List(ctx context.Context) ([]string, error)
}
