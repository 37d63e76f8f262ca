package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
)

// Node is one unit of work in the turn graph.
// It reads the state and returns an additive delta; it must not mutate the state.
type Node interface {
	Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, s *domain.ConversationState) (domain.Delta, error)

// Run calls f.
func (f NodeFunc) Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error) {
	return f(ctx, s)
}

// Emitter receives a stage event after the stage's delta is applied.
// It may block; the engine does not advance until it returns.
// A non-nil error aborts the turn.
type Emitter func(ctx context.Context, ev domain.Event) error

// Engine drives a conversation state through the turn graph.
type Engine struct {
	nodes  map[domain.Stage]Node
	table  []Transition
	hooks  domain.LifecycleHooks
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithTransitions replaces the default turn graph.
func WithTransitions(table []Transition) EngineOption {
	return func(e *Engine) {
		e.table = table
	}
}

// WithHooks registers stage hooks.
func WithHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine. Every stage reachable in the transition table,
// other than start and done, must have a node.
func NewEngine(nodes map[domain.Stage]Node, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		nodes:  nodes,
		table:  DefaultTransitions(),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	var errs []error
	for _, t := range e.table {
		if t.To == domain.StageStart || t.To == domain.StageDone {
			continue
		}
		if e.nodes[t.To] == nil {
			errs = append(errs, fmt.Errorf("stage %q has no node", t.To))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return e, nil
}

// Run processes one turn on s, which is mutated in place by stage deltas.
// It returns when the done stage is reached. Any failure is a *domain.TurnError;
// the caller must then discard s.
func (e *Engine) Run(ctx context.Context, s *domain.ConversationState, emit Emitter) error {
	visited := make(map[domain.Stage]bool, len(e.nodes))
	stage := domain.StageStart

	for {
		next, err := Next(e.table, stage, s)
		if err != nil {
			return e.fail(s, stage, err)
		}
		if next == domain.StageDone {
			if s.FinalAnswer == "" {
				return e.fail(s, stage, fmt.Errorf("%w: turn ended without an answer", domain.ErrGenerationFailed))
			}
			return nil
		}
		if visited[next] {
			return e.fail(s, next, domain.ErrStageRevisited)
		}
		visited[next] = true

		if err := ctx.Err(); err != nil {
			return e.fail(s, next, err)
		}
		if err := e.step(ctx, s, next, emit); err != nil {
			return e.fail(s, next, err)
		}
		stage = next
	}
}

func (e *Engine) step(ctx context.Context, s *domain.ConversationState, stage domain.Stage, emit Emitter) error {
	e.emitStageEnter(ctx, s, stage)
	start := time.Now()

	delta, err := e.nodes[stage].Run(ctx, s)
	if err == nil {
		err = s.Apply(delta)
	}
	e.emitStageLeave(ctx, s, stage, time.Since(start), err)
	if err != nil {
		return err
	}

	for _, note := range delta.Degraded {
		e.logger.Warn("Stage degraded", "thread_id", s.ThreadID, "stage", stage, "note", note)
	}
	e.logger.Debug("Stage completed", "thread_id", s.ThreadID, "stage", stage, "duration", time.Since(start))

	if emit == nil {
		return nil
	}
	return emit(ctx, domain.Event{
		Type:      domain.EventStage,
		Stage:     stage,
		Delta:     &delta,
		Timestamp: e.now(),
	})
}

func (e *Engine) fail(s *domain.ConversationState, stage domain.Stage, err error) error {
	var te *domain.TurnError
	if errors.As(err, &te) {
		return te
	}
	return &domain.TurnError{ThreadID: s.ThreadID, Stage: stage, Err: err}
}

func (e *Engine) emitStageEnter(ctx context.Context, s *domain.ConversationState, stage domain.Stage) {
	if e.hooks.OnStageEnter != nil {
		e.hooks.OnStageEnter(ctx, &domain.StageEvent{ThreadID: s.ThreadID, Turn: s.Turn, Stage: stage})
	}
}

func (e *Engine) emitStageLeave(ctx context.Context, s *domain.ConversationState, stage domain.Stage, d time.Duration, err error) {
	if e.hooks.OnStageLeave != nil {
		e.hooks.OnStageLeave(ctx, &domain.StageEvent{
			ThreadID: s.ThreadID,
			Turn:     s.Turn,
			Stage:    stage,
			Duration: d,
			Err:      err,
		})
	}
}
