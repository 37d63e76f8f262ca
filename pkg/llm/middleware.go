package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 30 * time.Second

// Timeout gives each request its own deadline.
func Timeout(d time.Duration) Middleware {
	if d <= 0 {
		d = DefaultTimeout
	}
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Generate(tctx, p)
		})
	}
}

// RequireContent turns blank output into an ErrorTypeEmptyResponse error.
func RequireContent() Middleware {
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			out, err := next.Generate(ctx, p)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "", NewError(ErrorTypeEmptyResponse, "generator returned no content")
			}
			return out, nil
		})
	}
}

// RetryConfig defines exponential backoff.
type RetryConfig struct {
	MaxAttempts   int           // including the initial attempt
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration // cap between retries
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig provides reasonable defaults for interactive turns.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  250 * time.Millisecond,
	MaxDelay:      4 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Delay returns the wait before retry number attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 || c.InitialDelay <= 0 {
		return 0
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter && d > 0 {
		// +/- 25%
		d = d*3/4 + time.Duration(rand.Int64N(int64(d/2)+1))
	}
	return d
}

// Retry re-invokes the generator on retryable errors.
func Retry(cfg RetryConfig) Middleware {
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			var lastErr error
			for i := 1; i <= attempts; i++ {
				out, err := next.Generate(ctx, p)
				if err == nil {
					return out, nil
				}
				lastErr = err
				if i == attempts || !IsRetryable(err) || ctx.Err() != nil {
					break
				}
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(cfg.Delay(i)):
				}
			}
			return "", lastErr
		})
	}
}

// Logging records every call at debug level and failures at warn level.
func Logging(logger *slog.Logger) Middleware {
	return func(next ports.Generator) ports.Generator {
		return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
			start := time.Now()
			out, err := next.Generate(ctx, p)
			if err != nil {
				logger.Warn("Generation failed",
					"purpose", p.Purpose,
					"duration", time.Since(start),
					"kind", Classify(err).Type.String(),
					"err", err,
				)
				return "", err
			}
			logger.Debug("Generation completed",
				"purpose", p.Purpose,
				"duration", time.Since(start),
				"chars", len(out),
			)
			return out, nil
		})
	}
}
