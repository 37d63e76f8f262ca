// Package cli assembles threadline components from configuration for the
// command-line entry points.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/internal/config"
	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/capabilities"
	"github.com/aretw0/threadline/pkg/capabilities/knowledge"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/llm/gemini"
	"github.com/aretw0/threadline/pkg/llm/provider"
	"github.com/aretw0/threadline/pkg/observability"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App bundles the assembled components.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Engine  *threadline.Engine
	Metrics *observability.Metrics

	closers []io.Closer
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	generator ports.Generator
	embedder  knowledge.Embedder
	logOutput io.Writer
	debug     bool
}

// WithGenerator replaces the configured generation backend.
func WithGenerator(g ports.Generator) Option {
	return func(o *buildOptions) { o.generator = g }
}

// WithEmbedder replaces the configured embedding backend.
func WithEmbedder(e knowledge.Embedder) Option {
	return func(o *buildOptions) { o.embedder = e }
}

// WithLogOutput redirects logs, which go to stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *buildOptions) { o.logOutput = w }
}

// WithDebug logs every stage transition and capability call.
func WithDebug(debug bool) Option {
	return func(o *buildOptions) { o.debug = debug }
}

// Build wires the engine described by cfg.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := buildOptions{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if app.Logger, err = NewLogger(cfg.Log, o.logOutput, o.debug); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = observability.NewMetrics(reg)
	tracing := observability.NewTracing(nil)

	gen := o.generator
	if gen == nil {
		gen, err = provider.Build(ctx, cfg.LLM, app.Logger, app.Metrics.Middleware(), tracing.Middleware())
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
	} else {
		gen = llm.Chain(gen, app.Metrics.Middleware(), tracing.Middleware())
	}

	embedder := o.embedder
	if embedder == nil && cfg.Embeddings.APIKey != "" {
		ge, err := newEmbedder(ctx, cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		embedder = ge
	}

	registry, err := capabilities.Build(cfg.Capabilities, capabilities.Deps{
		Embedder: embedder,
		Logger:   app.Logger,
	})
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store)

	hooks := []domain.LifecycleHooks{app.Metrics.Hooks(), tracing.Hooks()}
	if o.debug {
		hooks = append(hooks, debugHooks(app.Logger))
	}

	engineOpts := []threadline.Option{
		threadline.WithStore(store.StateStore),
		threadline.WithLogger(app.Logger),
		threadline.WithLifecycleHooks(domain.ComposeHooks(hooks...)),
		threadline.WithLeaseTTL(cfg.Engine.LeaseTTL),
		threadline.WithHistoryWindow(cfg.Engine.HistoryWindow),
		threadline.WithInvocationCap(cfg.Engine.InvocationCap),
		threadline.WithToolTimeout(cfg.Engine.ToolTimeout),
		threadline.WithToolTranscript(cfg.Engine.ToolTranscript),
		threadline.WithMaxInputSize(cfg.Engine.MaxInputSize),
	}
	if store.Leaser != nil {
		engineOpts = append(engineOpts, threadline.WithLeaser(store.Leaser))
	}

	app.Engine, err = threadline.New(gen, registry, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}

	app.Logger.Debug("engine ready",
		"provider", cfg.LLM.Provider,
		"store", cfg.Store.Driver,
		"capabilities", registry.Len(),
	)
	return app, nil
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the application logger. debug forces the debug level.
func NewLogger(cfg config.LogConfig, w io.Writer, debug bool) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	if strings.EqualFold(cfg.Format, config.FormatJSON) {
		return logging.NewJSON(w, level), nil
	}
	return logging.NewText(w, level), nil
}

func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageEnter: func(ctx context.Context, e *domain.StageEvent) {
			logger.Debug("enter stage", "thread_id", e.ThreadID, "turn", e.Turn, "stage", e.Stage)
		},
		OnStageLeave: func(ctx context.Context, e *domain.StageEvent) {
			if e.Err != nil {
				logger.Debug("leave stage (error)", "thread_id", e.ThreadID, "stage", e.Stage, "err", e.Err)
				return
			}
			logger.Debug("leave stage", "thread_id", e.ThreadID, "stage", e.Stage, "duration", e.Duration)
		},
		OnCapabilityCall: func(ctx context.Context, e *domain.CapabilityEvent) {
			logger.Debug("capability call", "thread_id", e.ThreadID, "capability", e.Capability, "attempt", e.Attempt)
		},
		OnCapabilityReturn: func(ctx context.Context, e *domain.CapabilityEvent) {
			logger.Debug("capability return", "thread_id", e.ThreadID, "capability", e.Capability, "status", e.Status, "duration", e.Duration)
		},
		OnTurnEnd: func(ctx context.Context, e *domain.TurnEvent) {
			logger.Debug("turn end", "thread_id", e.ThreadID, "turn", e.Turn, "outcome", e.Outcome, "duration", e.Duration)
		},
	}
}

// geminiEmbedder applies the configured model when the retriever asks for none.
type geminiEmbedder struct {
	client *gemini.Client
	model  string
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (*geminiEmbedder, error) {
	c, err := gemini.New(ctx, llm.Config{Provider: llm.ProviderGemini, APIKey: cfg.APIKey})
	if err != nil {
		return nil, err
	}
	return &geminiEmbedder{client: c, model: cfg.Model}, nil
}

func (e *geminiEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = e.model
	}
	return e.client.Embed(ctx, model, texts)
}
