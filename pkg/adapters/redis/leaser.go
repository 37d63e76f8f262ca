package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it is still owned by the caller's token.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript resets the expiry only if the lease is still owned by the caller's token.
var extendScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Leaser implements ports.Leaser using Redis SET NX PX.
// Acquisition is a single attempt: a held key yields domain.ErrBusy.
type Leaser struct {
	client *backend.Client
	prefix string
}

// NewLeaser creates a new Redis leaser.
func NewLeaser(client *backend.Client, prefix string) *Leaser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Leaser{
		client: client,
		prefix: prefix,
	}
}

func (l *Leaser) key(key string) string {
	return l.prefix + "lease:" + key
}

// Acquire takes the lease for key.
func (l *Leaser) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	leaseKey := l.key(key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lease: %w", err)
	}
	if !ok {
		return nil, domain.ErrBusy
	}
	return &heldLease{client: l.client, key: leaseKey, token: token}, nil
}

type heldLease struct {
	client *backend.Client
	key    string
	token  string
}

func (h *heldLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis error extending lease: %w", err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (h *heldLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
}
