package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

const (
	// DefaultLeaseTTL bounds how long a crashed replica can keep a thread busy.
	DefaultLeaseTTL = 2 * time.Minute
	// MinLeaseTTL leaves room for a late heartbeat and the checkpoint write.
	MinLeaseTTL = time.Second
)

// Manager orchestrates thread access and checkpointing.
type Manager struct {
	store ports.StateStore

	mu   sync.Mutex          // guards held
	held map[string]struct{} // threads leased by this process

	leaser ports.Leaser // optional distributed leaser
	ttl    time.Duration
	renew  time.Duration // heartbeat interval; negative disables renewal
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLeaser enables distributed leasing across replicas.
func WithLeaser(leaser ports.Leaser) Option {
	return func(m *Manager) {
		m.leaser = leaser
	}
}

// WithLeaseTTL sets the expiry of distributed leases.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLeaseRenewal sets how often a held distributed lease is extended while
// a turn runs. The default is a third of the lease TTL. A negative interval
// disables renewal; the lease is still checked at Commit.
func WithLeaseRenewal(every time.Duration) Option {
	return func(m *Manager) {
		m.renew = every
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given persistence store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		held:   make(map[string]struct{}),
		ttl:    DefaultLeaseTTL,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.renew == 0 {
		m.renew = m.ttl / 3
	}
	return m
}

// Lease is the exclusive right to run a turn on a thread.
// A distributed lease is renewed in the background until released.
type Lease struct {
	ThreadID string

	remote ports.Lease
	lost   atomic.Bool
	stop   context.CancelFunc
	done   chan struct{}

	once    sync.Once
	release func(context.Context) error
	err     error
}

// Release gives the thread back. It is idempotent; only the first call has effect.
// Callers should pass a context that is not cancelled together with the request.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if l.stop != nil {
			l.stop()
			<-l.done
		}
		l.err = l.release(ctx)
	})
	return l.err
}

// Lost reports whether the distributed lease expired or changed hands.
func (l *Lease) Lost() bool {
	return l.lost.Load()
}

// Acquire takes the lease on threadID or fails fast with domain.ErrBusy.
func (m *Manager) Acquire(ctx context.Context, threadID string) (*Lease, error) {
	m.mu.Lock()
	if _, busy := m.held[threadID]; busy {
		m.mu.Unlock()
		m.logger.Debug("Thread lease rejected", "thread_id", threadID, "scope", "local")
		return nil, domain.ErrBusy
	}
	m.held[threadID] = struct{}{}
	m.mu.Unlock()

	var remote ports.Lease
	if m.leaser != nil {
		var err error
		remote, err = m.leaser.Acquire(ctx, threadID, m.ttl)
		if err != nil {
			m.forget(threadID)
			if errors.Is(err, domain.ErrBusy) {
				m.logger.Debug("Thread lease rejected", "thread_id", threadID, "scope", "distributed")
				return nil, domain.ErrBusy
			}
			return nil, fmt.Errorf("%w: acquire lease: %w", domain.ErrStoreUnavailable, err)
		}
	}

	lease := &Lease{
		ThreadID: threadID,
		remote:   remote,
		release: func(ctx context.Context) error {
			defer m.forget(threadID)
			if remote == nil {
				return nil
			}
			if err := remote.Release(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lease (will expire via TTL)",
					"thread_id", threadID,
					"err", err,
				)
				return err
			}
			return nil
		},
	}
	if remote != nil && m.renew > 0 {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		lease.stop = cancel
		lease.done = make(chan struct{})
		go m.keepAlive(rctx, lease)
	}
	return lease, nil
}

// keepAlive extends the distributed lease until ctx ends or the lease is lost.
func (m *Manager) keepAlive(ctx context.Context, l *Lease) {
	defer close(l.done)
	ticker := time.NewTicker(m.renew)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := l.remote.Extend(ctx, m.ttl)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrLeaseLost):
			l.lost.Store(true)
			m.logger.Warn("Thread lease lost", "thread_id", l.ThreadID)
			return
		case ctx.Err() != nil:
			return
		default:
			m.logger.Warn("Lease renewal failed", "thread_id", l.ThreadID, "err", err)
		}
	}
}

func (m *Manager) forget(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, threadID)
}

// Held reports the number of threads leased by this process.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Load retrieves the thread state, or a fresh one when the thread is new.
// Store failures are reported as domain.ErrStoreUnavailable.
func (m *Manager) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	state, err := m.store.Load(ctx, threadID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, domain.ErrThreadNotFound) {
		return domain.NewConversation(threadID), nil
	}
	return nil, fmt.Errorf("%w: load %s: %w", domain.ErrStoreUnavailable, threadID, err)
}

// Get retrieves an existing thread state.
func (m *Manager) Get(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	state, err := m.store.Load(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrThreadNotFound) {
		return nil, fmt.Errorf("%w: load %s: %w", domain.ErrStoreUnavailable, threadID, err)
	}
	return state, err
}

// Commit writes the checkpoint for the leased thread.
// A distributed lease is extended first; when it was lost the write is
// refused with domain.ErrLeaseLost so a newer turn is never overwritten.
func (m *Manager) Commit(ctx context.Context, lease *Lease, state *domain.ConversationState) error {
	if lease == nil || lease.ThreadID != state.ThreadID {
		return fmt.Errorf("commit %s: lease not held", state.ThreadID)
	}
	if lease.remote != nil {
		if lease.Lost() {
			return fmt.Errorf("commit %s: %w", state.ThreadID, domain.ErrLeaseLost)
		}
		if err := lease.remote.Extend(ctx, m.ttl); err != nil {
			if errors.Is(err, domain.ErrLeaseLost) {
				lease.lost.Store(true)
				m.logger.Warn("Checkpoint refused, thread lease lost", "thread_id", state.ThreadID)
				return fmt.Errorf("commit %s: %w", state.ThreadID, err)
			}
			return fmt.Errorf("%w: renew lease %s: %w", domain.ErrStoreUnavailable, state.ThreadID, err)
		}
	}
	if err := m.store.Save(ctx, state.ThreadID, state); err != nil {
		return fmt.Errorf("%w: save %s: %w", domain.ErrStoreUnavailable, state.ThreadID, err)
	}
	return nil
}

// WithLease runs fn while holding the lease on threadID.
// The lease is released even if ctx is cancelled.
func (m *Manager) WithLease(ctx context.Context, threadID string, fn func(context.Context, *Lease) error) error {
	lease, err := m.Acquire(ctx, threadID)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx, lease)
}

// Delete removes the thread from the store.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	return m.WithLease(ctx, threadID, func(ctx context.Context, _ *Lease) error {
		return m.store.Delete(ctx, threadID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}
