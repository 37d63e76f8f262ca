package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// DefaultTimeout bounds a capability call when neither the caller nor the contract sets one.
const DefaultTimeout = 10 * time.Second

// RetryPolicy controls re-invocation of a capability after an invocation error.
// Timeouts and invalid responses are never retried.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

// Contract is the static description of a capability.
type Contract struct {
	Name        domain.CapabilityName
	Domain      domain.CapabilityDomain
	Description string
	Timeout     time.Duration
	Retry       RetryPolicy

	// Supplementary capabilities let the tool router keep collecting context
	// after they succeed, up to the invocation cap.
	Supplementary bool
}

// Entry pairs a contract with its implementation.
type Entry struct {
	Contract
	Capability ports.Capability
}

// Registry is the immutable name to capability mapping.
// It is built once at startup and safe for concurrent use.
type Registry struct {
	handles map[domain.CapabilityName]*Handle
	order   []domain.CapabilityName
}

// New validates the entries and builds the registry.
// Any problem is reported as domain.ErrRegistryMisconfigured.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{handles: make(map[domain.CapabilityName]*Handle, len(entries))}
	var errs []error
	for _, e := range entries {
		switch {
		case !e.Name.Valid():
			errs = append(errs, fmt.Errorf("capability %q is not part of the capability set", e.Name))
			continue
		case e.Capability == nil:
			errs = append(errs, fmt.Errorf("capability %q has no implementation", e.Name))
			continue
		case r.handles[e.Name] != nil:
			errs = append(errs, fmt.Errorf("capability %q registered twice", e.Name))
			continue
		case e.Timeout < 0:
			errs = append(errs, fmt.Errorf("capability %q has a negative timeout", e.Name))
			continue
		}
		r.handles[e.Name] = &Handle{contract: e.Contract, capability: e.Capability}
		r.order = append(r.order, e.Name)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistryMisconfigured, errors.Join(errs...))
	}
	return r, nil
}

// MustNew is like New but panics on misconfiguration.
func MustNew(entries ...Entry) *Registry {
	r, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the handle registered under name.
func (r *Registry) Lookup(name domain.CapabilityName) (*Handle, error) {
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCapability, name)
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name domain.CapabilityName) bool {
	_, ok := r.handles[name]
	return ok
}

// Contracts returns the registered contracts in registration order.
func (r *Registry) Contracts() []Contract {
	out := make([]Contract, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.handles[n].contract)
	}
	return out
}

// Info describes the registered capabilities for catalogues.
func (r *Registry) Info() []domain.CapabilityInfo {
	out := make([]domain.CapabilityInfo, 0, len(r.order))
	for _, c := range r.Contracts() {
		out = append(out, domain.CapabilityInfo{
			Name:        c.Name,
			Domain:      c.Domain,
			Description: c.Description,
			Type:        domain.ToolType([]domain.CapabilityName{c.Name}),
		})
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int { return len(r.order) }

// Handle is the invocation handle of one registered capability.
type Handle struct {
	contract   Contract
	capability ports.Capability
}

// Contract returns the static description of the capability.
func (h *Handle) Contract() Contract { return h.contract }

// Invoke calls the capability with a bounded timeout and classifies the outcome.
// A non-positive timeout falls back to the contract timeout, then DefaultTimeout.
// Failures are returned as *domain.CapabilityError.
func (h *Handle) Invoke(ctx context.Context, req domain.Request, timeout time.Duration) (domain.Result, error) {
	if timeout <= 0 {
		timeout = h.contract.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := h.contract.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	var lastErr *domain.CapabilityError
	for i := 1; i <= attempts; i++ {
		payload, err := h.call(ctx, req, timeout)
		if err == nil {
			return domain.Result{
				Capability: h.contract.Name,
				Payload:    payload,
				Attempts:   i,
				Duration:   time.Since(start),
			}, nil
		}
		lastErr = err
		if err.Status != domain.StatusInvocationError || ctx.Err() != nil || i == attempts {
			break
		}
		if h.contract.Retry.Backoff > 0 {
			select {
			case <-ctx.Done():
				return domain.Result{}, lastErr
			case <-time.After(h.contract.Retry.Backoff * time.Duration(i)):
			}
		}
	}
	return domain.Result{}, lastErr
}

type outcome struct {
	payload string
	err     error
}

// call runs one attempt. The attempt is abandoned when the deadline passes,
// even if the capability ignores its context.
func (h *Handle) call(ctx context.Context, req domain.Request, timeout time.Duration) (string, *domain.CapabilityError) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		payload, err := h.capability.Invoke(actx, req)
		done <- outcome{payload: payload, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-actx.Done():
		out = outcome{err: actx.Err()}
	}

	switch {
	case out.err == nil:
	case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil:
		return "", h.fail(domain.StatusTimeout, fmt.Errorf("no response within %s", timeout))
	default:
		return "", h.fail(domain.StatusInvocationError, out.err)
	}

	if strings.TrimSpace(out.payload) == "" {
		return "", h.fail(domain.StatusInvalidResponse, errors.New("empty payload"))
	}
	if !utf8.ValidString(out.payload) {
		return "", h.fail(domain.StatusInvalidResponse, errors.New("payload is not valid UTF-8"))
	}
	return out.payload, nil
}

func (h *Handle) fail(status domain.Status, err error) *domain.CapabilityError {
	return &domain.CapabilityError{Capability: h.contract.Name, Status: status, Err: err}
}
