package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threadline"

// Metrics records turn, stage, capability and generation metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	stageVisits     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	capabilityCalls *prometheus.CounterVec
	capabilityTime  *prometheus.HistogramVec
	turns           *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	generations     *prometheus.CounterVec
	generationTime  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		stageVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_visits_total",
			Help:      "Stage executions by stage and result.",
		}, []string{"stage", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Capability invocations by capability and uniform status.",
		}, []string{"capability", "status"}),
		capabilityTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_duration_seconds",
			Help:      "Duration of capability invocations, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of whole turns.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Generation requests by purpose, status and error type.",
		}, []string{"purpose", "status", "error_type"}),
		generationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of generation requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purpose"}),
	}
	reg.MustRegister(
		m.stageVisits, m.stageDuration,
		m.capabilityCalls, m.capabilityTime,
		m.turns, m.turnDuration,
		m.generations, m.generationTime,
	)
	return m
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageLeave: func(_ context.Context, e *domain.StageEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.stageVisits.WithLabelValues(string(e.Stage), result).Inc()
			m.stageDuration.WithLabelValues(string(e.Stage)).Observe(e.Duration.Seconds())
		},
		OnCapabilityReturn: func(_ context.Context, e *domain.CapabilityEvent) {
			m.capabilityCalls.WithLabelValues(string(e.Capability), string(e.Status)).Inc()
			m.capabilityTime.WithLabelValues(string(e.Capability)).Observe(e.Duration.Seconds())
		},
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			m.turns.WithLabelValues(e.Outcome).Inc()
			m.turnDuration.Observe(e.Duration.Seconds())
		},
	}
}

// Middleware records every generation request.
func (m *Metrics) Middleware() llm.Middleware {
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			start := time.Now()
			out, err := next.Generate(ctx, p)

			status, errType := "success", ""
			if err != nil {
				status, errType = "error", llm.Classify(err).Type.String()
			}
			m.generations.WithLabelValues(string(p.Purpose), status, errType).Inc()
			m.generationTime.WithLabelValues(string(p.Purpose)).Observe(time.Since(start).Seconds())
			return out, err
		})
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
