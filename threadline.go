package threadline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/internal/runtime"
	"github.com/aretw0/threadline/pkg/adapters/memory"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/aretw0/threadline/pkg/registry"
	"github.com/aretw0/threadline/pkg/session"
	"github.com/aretw0/threadline/pkg/stages"
	"github.com/google/uuid"
)

// Engine is the high-level entry point of the library.
// It owns thread leasing and checkpointing around the turn graph.
type Engine struct {
	gen      ports.Generator
	registry *registry.Registry
	sessions *session.Manager
	graph    *runtime.Engine

	suggester *stages.Suggester

	store     ports.StateStore
	leaser    ports.Leaser
	leaseTTL  time.Duration
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	stageOpts []stages.Option
	maxInput  int
	now       func() time.Time
	newID     func() string
}

var _ ports.Orchestrator = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store. The default is an in-memory store.
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLeaser enables thread leasing across replicas.
func WithLeaser(leaser ports.Leaser) Option {
	return func(e *Engine) {
		e.leaser = leaser
	}
}

// WithLeaseTTL sets the expiry of distributed thread leases.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.leaseTTL = ttl
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStageOptions passes options to every stage.
func WithStageOptions(opts ...stages.Option) Option {
	return func(e *Engine) {
		e.stageOpts = append(e.stageOpts, opts...)
	}
}

// WithHistoryWindow sets how many prior messages the rewriter sees.
func WithHistoryWindow(n int) Option {
	return WithStageOptions(stages.WithHistoryWindow(n))
}

// WithInvocationCap bounds capability calls once a supplementary capability has succeeded.
func WithInvocationCap(n int) Option {
	return WithStageOptions(stages.WithInvocationCap(n))
}

// WithToolTimeout overrides every capability's own timeout.
func WithToolTimeout(d time.Duration) Option {
	return WithStageOptions(stages.WithToolTimeout(d))
}

// WithToolTranscript records one tool message per retrieved fragment in the thread.
func WithToolTranscript(enabled bool) Option {
	return WithStageOptions(stages.WithToolTranscript(enabled))
}

// WithMaxInputSize bounds the query size in bytes.
func WithMaxInputSize(n int) Option {
	return func(e *Engine) {
		e.maxInput = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithThreadIDGenerator replaces the UUID generator for new threads.
func WithThreadIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New builds an engine over a generator and an immutable capability registry.
func New(gen ports.Generator, reg *registry.Registry, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("threadline: generator is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", domain.ErrRegistryMisconfigured)
	}

	e := &Engine{
		gen:      gen,
		registry: reg,
		logger:   logging.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	sessOpts := []session.Option{session.WithLogger(e.logger), session.WithLeaseTTL(e.leaseTTL)}
	if e.leaser != nil {
		sessOpts = append(sessOpts, session.WithLeaser(e.leaser))
	}
	e.sessions = session.NewManager(e.store, sessOpts...)

	stageOpts := append([]stages.Option{
		stages.WithLogger(e.logger),
		stages.WithHooks(e.hooks),
		stages.WithClock(e.now),
	}, e.stageOpts...)

	graph, err := runtime.NewEngine(map[domain.Stage]runtime.Node{
		domain.StageRewrite: stages.NewRewriter(gen, stageOpts...),
		domain.StageGrade:   stages.NewGrader(gen, stageOpts...),
		domain.StageTools:   stages.NewToolRouter(gen, reg, stageOpts...),
		domain.StageAnswer:  stages.NewAnswerer(gen, stageOpts...),
	},
		runtime.WithHooks(e.hooks),
		runtime.WithLogger(e.logger),
		runtime.WithClock(e.now),
	)
	if err != nil {
		return nil, fmt.Errorf("threadline: build graph: %w", err)
	}
	e.graph = graph
	e.suggester = stages.NewSuggester(gen, stageOpts...)
	return e, nil
}

// Chat runs one turn to completion. Stage events are discarded.
func (e *Engine) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	t, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, t, nil)
}

// Stream runs one turn in the background and publishes an event after every
// stage. Input and lease errors are returned synchronously; later failures
// arrive as a final EventFailed. The channel is unbuffered: the turn does not
// advance until the previous event has been received. It is closed after the
// final event, or when ctx is cancelled.
func (e *Engine) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.Event, error) {
	t, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.Event)
	go func() {
		defer close(ch)
		seq := 0
		send := func(ctx context.Context, ev domain.Event) error {
			seq++
			ev.Seq = seq
			select {
			case ch <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := e.execute(ctx, t, send)
		if err != nil {
			ev := domain.Event{
				Type:      domain.EventFailed,
				ThreadID:  t.threadID,
				Turn:      t.number,
				Timestamp: e.now(),
				Error:     err.Error(),
				Kind:      domain.ErrorKind(err),
			}
			var te *domain.TurnError
			if errors.As(err, &te) {
				ev.Stage = te.Stage
			}
			_ = send(ctx, ev)
			return
		}
		_ = send(ctx, domain.Event{
			Type:      domain.EventDone,
			ThreadID:  resp.ThreadID,
			Turn:      resp.Turn,
			Stage:     domain.StageDone,
			Timestamp: e.now(),
			Answer:    resp.Answer,
		})
	}()
	return ch, nil
}

// Suggest produces follow-up questions for an explicit answer or for the last
// answer of a thread. It never fails. Suggestions derived from a thread are
// stored on it when the thread is not busy.
func (e *Engine) Suggest(ctx context.Context, req domain.SuggestRequest) domain.SuggestResponse {
	resp := domain.SuggestResponse{Suggestions: []string{}, ThreadID: req.ThreadID}

	answer := strings.TrimSpace(req.FinalAnswer)
	fromThread := false
	if answer == "" && req.ThreadID != "" {
		state, err := e.sessions.Get(ctx, req.ThreadID)
		if err != nil {
			e.logger.Debug("No thread to suggest from", "thread_id", req.ThreadID, "err", err)
			return resp
		}
		answer, fromThread = state.LastAssistant()
	}
	if answer == "" {
		return resp
	}

	resp.Suggestions = e.suggester.Suggest(ctx, answer)
	if fromThread && len(resp.Suggestions) > 0 {
		e.storeSuggestions(ctx, req.ThreadID, answer, resp.Suggestions)
	}
	return resp
}

func (e *Engine) storeSuggestions(ctx context.Context, threadID, answer string, suggestions []string) {
	err := e.sessions.WithLease(ctx, threadID, func(ctx context.Context, lease *session.Lease) error {
		state, err := e.sessions.Get(ctx, threadID)
		if err != nil {
			return err
		}
		// A turn may have completed since the answer was read.
		if last, _ := state.LastAssistant(); last != answer {
			return nil
		}
		state.Suggestions = append([]string(nil), suggestions...)
		return e.sessions.Commit(ctx, lease, state)
	})
	if err != nil {
		e.logger.Debug("Suggestions not stored", "thread_id", threadID, "err", err)
	}
}

// Capabilities describes the registered capabilities.
func (e *Engine) Capabilities() []domain.CapabilityInfo {
	return e.registry.Info()
}

// Thread returns the stored state of a thread.
func (e *Engine) Thread(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	return e.sessions.Get(ctx, threadID)
}

// Sessions exposes the thread manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// turn is a leased, validated request waiting to run.
type turn struct {
	threadID string
	query    string
	number   int
	lease    *session.Lease
	started  time.Time
}

func (e *Engine) begin(ctx context.Context, req domain.ChatRequest) (*turn, error) {
	query, err := SanitizeQuery(req.Query, e.maxInput)
	if err != nil {
		return nil, &domain.TurnError{ThreadID: req.ThreadID, Stage: domain.StageStart, Err: err}
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = e.newID()
	}

	lease, err := e.sessions.Acquire(ctx, threadID)
	if err != nil {
		return nil, &domain.TurnError{ThreadID: threadID, Stage: domain.StageStart, Err: err}
	}
	return &turn{threadID: threadID, query: query, lease: lease, started: e.now()}, nil
}

// execute runs a begun turn and releases its lease. The checkpoint is the
// only write and happens after the answer stage; any failure before it
// leaves the stored thread untouched.
func (e *Engine) execute(ctx context.Context, t *turn, emit runtime.Emitter) (resp *domain.ChatResponse, err error) {
	defer func() {
		if rerr := t.lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.Warn("Lease release failed", "thread_id", t.threadID, "err", rerr)
		}
		e.emitTurnEnd(ctx, t, err)
	}()

	loaded, err := e.sessions.Load(ctx, t.threadID)
	if err != nil {
		return nil, &domain.TurnError{ThreadID: t.threadID, Stage: domain.StageStart, Err: err}
	}

	state := loaded.Clone()
	state.BeginTurn(t.query, e.now())
	t.number = state.Turn

	var visited []domain.Stage
	sink := func(ctx context.Context, ev domain.Event) error {
		visited = append(visited, ev.Stage)
		if emit == nil {
			return nil
		}
		ev.ThreadID = t.threadID
		ev.Turn = t.number
		return emit(ctx, ev)
	}

	if err := e.graph.Run(ctx, state, sink); err != nil {
		e.logger.Warn("Turn failed", "thread_id", t.threadID, "turn", t.number, "err", err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &domain.TurnError{ThreadID: t.threadID, Stage: domain.StageDone, Err: err}
	}
	state.UpdatedAt = e.now()
	if err := e.sessions.Commit(ctx, t.lease, state); err != nil {
		return nil, &domain.TurnError{ThreadID: t.threadID, Stage: domain.StageDone, Err: err}
	}

	resp = &domain.ChatResponse{
		ThreadID:             t.threadID,
		Turn:                 state.Turn,
		Answer:               state.FinalAnswer,
		SelectedCapabilities: append([]domain.CapabilityName{}, state.SelectedCapabilities...),
		NoContext:            state.NoContext,
		Stages:               visited,
		ToolType:             domain.ToolType(state.SelectedCapabilities),
	}
	if len(state.SelectedCapabilities) > 0 {
		resp.ToolName = string(state.SelectedCapabilities[0])
	}
	e.logger.Info("Turn completed",
		"thread_id", t.threadID,
		"turn", state.Turn,
		"capabilities", state.SelectedCapabilities,
		"no_context", state.NoContext,
		"duration", e.now().Sub(t.started),
	)
	return resp, nil
}

func (e *Engine) emitTurnEnd(ctx context.Context, t *turn, err error) {
	if e.hooks.OnTurnEnd == nil {
		return
	}
	e.hooks.OnTurnEnd(ctx, &domain.TurnEvent{
		ThreadID: t.threadID,
		Turn:     t.number,
		Outcome:  domain.ErrorKind(err),
		Duration: e.now().Sub(t.started),
	})
}
