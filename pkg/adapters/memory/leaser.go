package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// Leaser implements ports.Leaser within a single process.
// Expired leases are reclaimed lazily on the next Acquire.
type Leaser struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
	seq    uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLeaser creates an in-process leaser.
func NewLeaser() *Leaser {
	return &Leaser{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lease for key or returns domain.ErrBusy.
func (l *Leaser) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrBusy
	}
	l.seq++
	l.leases[key] = lease{token: l.seq, expires: now.Add(ttl)}
	return &heldLease{leaser: l, key: key, token: l.seq}, nil
}

type heldLease struct {
	leaser *Leaser
	key    string
	token  uint64
}

func (h *heldLease) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := h.leaser
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.leases[h.key]
	if !ok || cur.token != h.token || !now.Before(cur.expires) {
		return domain.ErrLeaseLost
	}
	l.leases[h.key] = lease{token: h.token, expires: now.Add(ttl)}
	return nil
}

func (h *heldLease) Release(context.Context) error {
	l := h.leaser
	l.mu.Lock()
	defer l.mu.Unlock()
	// only the holder may delete; an expired and re-acquired lease is left alone
	if cur, ok := l.leases[h.key]; ok && cur.token == h.token {
		delete(l.leases, h.key)
	}
	return nil
}
