package observability

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the instrumentation scope.
const TracerName = "github.com/aretw0/threadline"

// Tracing opens one span per stage and per generation request.
// Without a configured provider the global no-op tracer is used.
type Tracing struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracing uses tp, or the global provider when tp is nil.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{
		tracer: tp.Tracer(TracerName),
		spans:  make(map[string]trace.Span),
	}
}

func spanKey(thread string, turn int, stage domain.Stage) string {
	return fmt.Sprintf("%s/%d/%s", thread, turn, stage)
}

// Hooks returns lifecycle hooks that open a span on stage entry and end it on exit.
func (t *Tracing) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageEnter: func(ctx context.Context, e *domain.StageEvent) {
			_, span := t.tracer.Start(ctx, "stage."+string(e.Stage),
				trace.WithAttributes(
					attribute.String("threadline.thread_id", e.ThreadID),
					attribute.Int("threadline.turn", e.Turn),
					attribute.String("threadline.stage", string(e.Stage)),
				),
			)
			t.mu.Lock()
			t.spans[spanKey(e.ThreadID, e.Turn, e.Stage)] = span
			t.mu.Unlock()
		},
		OnStageLeave: func(_ context.Context, e *domain.StageEvent) {
			key := spanKey(e.ThreadID, e.Turn, e.Stage)
			t.mu.Lock()
			span, ok := t.spans[key]
			delete(t.spans, key)
			t.mu.Unlock()
			if !ok {
				return
			}
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, domain.ErrorKind(e.Err))
			}
			span.End()
		},
		OnCapabilityReturn: func(ctx context.Context, e *domain.CapabilityEvent) {
			span := trace.SpanFromContext(ctx)
			span.AddEvent("capability", trace.WithAttributes(
				attribute.String("threadline.capability", string(e.Capability)),
				attribute.String("threadline.status", string(e.Status)),
				attribute.Int64("threadline.duration_ms", e.Duration.Milliseconds()),
			))
		},
	}
}

// Open reports the number of stage spans not yet ended.
func (t *Tracing) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Middleware wraps each generation request in a span.
func (t *Tracing) Middleware() llm.Middleware {
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			ctx, span := t.tracer.Start(ctx, "llm."+string(p.Purpose),
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attribute.String("threadline.purpose", string(p.Purpose))),
			)
			defer span.End()

			out, err := next.Generate(ctx, p)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, llm.Classify(err).Type.String())
			}
			return out, err
		})
	}
}
