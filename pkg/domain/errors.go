package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrThreadNotFound is returned when a thread ID cannot be found in the store.
var ErrThreadNotFound = errors.New("thread not found")

// ErrBusy is returned when another turn already holds the thread lease.
var ErrBusy = errors.New("thread busy")

// ErrLeaseLost is returned when a thread lease expired or changed hands before
// the checkpoint. It wraps ErrBusy.
var ErrLeaseLost = fmt.Errorf("%w: lease lost", ErrBusy)

// ErrUnknownCapability is returned when a name is not registered.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrRegistryMisconfigured signals an invalid capability registry. It is fatal for the process.
var ErrRegistryMisconfigured = errors.New("capability registry misconfigured")

// ErrGenerationFailed is returned when the answer cannot be generated.
var ErrGenerationFailed = errors.New("answer generation failed")

// ErrStoreUnavailable is returned when the checkpoint cannot be read or written.
var ErrStoreUnavailable = errors.New("state store unavailable")

// ErrInvalidQuery is returned when a query is rejected before the turn starts.
var ErrInvalidQuery = errors.New("invalid query")

// ErrEmptyQuery is returned for a blank query. It wraps ErrInvalidQuery.
var ErrEmptyQuery = fmt.Errorf("%w: empty query", ErrInvalidQuery)

// ErrAnswerAlreadySet is returned when a delta would set the final answer twice in a turn.
var ErrAnswerAlreadySet = errors.New("final answer already set")

// ErrStageRevisited is returned when routing would re-enter a stage within a turn.
var ErrStageRevisited = errors.New("stage revisited")

// CapabilityError is the classified failure of a capability invocation.
type CapabilityError struct {
	Capability CapabilityName
	Status     Status
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %s: %v", e.Capability, e.Status, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// TurnError is a fatal-per-turn failure. Nothing is persisted for the turn.
type TurnError struct {
	ThreadID string
	Stage    Stage
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Kind classifies the failure for transports and metrics.
func (e *TurnError) Kind() string {
	return ErrorKind(e.Err)
}

// ErrorKind maps an error to a short, stable classification.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_input"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRegistryMisconfigured), errors.Is(err, ErrUnknownCapability):
		return "misconfigured"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
