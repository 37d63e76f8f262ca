/*
Package observability exports orchestrator activity as Prometheus metrics and
OpenTelemetry spans.

Both are driven by domain.LifecycleHooks, so they can be combined with each
other and with application hooks:

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracing := observability.NewTracing(nil)

	eng, err := threadline.New(gen, reg,
		threadline.WithLifecycleHooks(domain.ComposeHooks(metrics.Hooks(), tracing.Hooks())),
	)

Generation requests are observed by wrapping the generator with the
Middleware of each, for example as extra middlewares of provider.Build.
*/
package observability
