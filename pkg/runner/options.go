package runner

import (
	"log/slog"
	"os"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithHandler configures the IOHandler.
func WithHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithThreadID resumes an existing thread.
func WithThreadID(id string) Option {
	return func(r *Runner) {
		r.threadID = id
	}
}

// WithStreaming runs turns through Stream so stage events reach the handler.
func WithStreaming(enabled bool) Option {
	return func(r *Runner) {
		r.Streaming = enabled
	}
}

// WithSignals overrides the signals that interrupt a turn.
func WithSignals(sigs ...os.Signal) Option {
	return func(r *Runner) {
		r.signals = sigs
	}
}
