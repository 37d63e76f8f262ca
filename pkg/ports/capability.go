package ports

import (
	"context"

	"github.com/aretw0/threadline/pkg/domain"
)

// Capability is an external operation invoked through the uniform contract.
// Implementations return the textual payload or an error; classification into
// timeout, invocation_error and invalid_response is done by the registry.
type Capability interface {
	Invoke(ctx context.Context, req domain.Request) (string, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, req domain.Request) (string, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, req domain.Request) (string, error) {
	return f(ctx, req)
}
