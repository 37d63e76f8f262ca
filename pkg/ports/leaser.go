package ports

import (
	"context"
	"time"
)

// Lease is a held, expiring lease on a key.
type Lease interface {
	// Extend resets the expiry to ttl from now.
	// Returns domain.ErrLeaseLost once the lease expired or changed hands.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release gives the key back. Releasing a lost lease leaves the new holder alone.
	// It must be safe to call with a context that outlives the request.
	Release(ctx context.Context) error
}

// Leaser grants exclusive, expiring leases on keys (thread IDs) across replicas.
type Leaser interface {
	// Acquire takes the lease for key without waiting.
	// Returns domain.ErrBusy when another holder owns it.
	// The lease expires after ttl unless extended or released.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
