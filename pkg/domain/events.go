package domain

import (
	"context"
	"time"
)

// Stage identifies a node of the execution graph.
type Stage string

const (
	StageStart   Stage = "start"
	StageRewrite Stage = "rewrite"
	StageGrade   Stage = "grade"
	StageTools   Stage = "tools"
	StageAnswer  Stage = "answer"
	StageDone    Stage = "done"
)

// EventType defines the category of a stream event.
type EventType string

const (
	EventStage  EventType = "stage"
	EventDone   EventType = "done"
	EventFailed EventType = "failed"
)

// Event is published after each stage of a turn.
// A stream ends with exactly one EventDone or EventFailed.
type Event struct {
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
	Turn      int       `json:"turn"`
	Seq       int       `json:"seq"`
	Stage     Stage     `json:"stage"`
	Delta     *Delta    `json:"delta,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Answer is set on EventDone.
	Answer string `json:"answer,omitempty"`

	// Error and Kind are set on EventFailed.
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// StageEvent describes entry into or exit from a stage.
type StageEvent struct {
	ThreadID string
	Turn     int
	Stage    Stage
	Duration time.Duration // zero on enter
	Err      error
}

// CapabilityEvent describes a single capability call.
type CapabilityEvent struct {
	ThreadID   string
	Capability CapabilityName
	Attempt    int
	Status     Status // empty on call
	Duration   time.Duration
	Err        error
}

// TurnEvent describes the outcome of a whole turn.
type TurnEvent struct {
	ThreadID string
	Turn     int
	Outcome  string // "ok" or a TurnError kind
	Duration time.Duration
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStageEnter       func(context.Context, *StageEvent)
	OnStageLeave       func(context.Context, *StageEvent)
	OnCapabilityCall   func(context.Context, *CapabilityEvent)
	OnCapabilityReturn func(context.Context, *CapabilityEvent)
	OnTurnEnd          func(context.Context, *TurnEvent)
}

// ComposeHooks fans every callback out to each of the given hook sets in order.
func ComposeHooks(sets ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range sets {
		out.OnStageEnter = chain(out.OnStageEnter, h.OnStageEnter)
		out.OnStageLeave = chain(out.OnStageLeave, h.OnStageLeave)
		out.OnCapabilityCall = chain(out.OnCapabilityCall, h.OnCapabilityCall)
		out.OnCapabilityReturn = chain(out.OnCapabilityReturn, h.OnCapabilityReturn)
		out.OnTurnEnd = chain(out.OnTurnEnd, h.OnTurnEnd)
	}
	return out
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
