package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) llm.Middleware {
		return func(next ports.Generator) ports.Generator {
			return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
				order = append(order, name)
				return next.Generate(ctx, p)
			})
		}
	}
	base := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) {
		order = append(order, "base")
		return "ok", nil
	})

	g := llm.Chain(base, mark("a"), nil, mark("b"))
	_, err := g.Generate(context.Background(), domain.Prompt{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, order)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want llm.ErrorType
	}{
		{errors.New("POST /v1: 429 Too Many Requests"), llm.ErrorTypeRateLimit},
		{errors.New("invalid api key"), llm.ErrorTypeAuth},
		{errors.New("dial tcp: connection refused"), llm.ErrorTypeTransient},
		{context.DeadlineExceeded, llm.ErrorTypeTransient},
		{errors.New("model not found"), llm.ErrorTypeBadPrompt},
		{errors.New("weird"), llm.ErrorTypeUnknown},
		{fmt.Errorf("wrapped: %w", llm.NewError(llm.ErrorTypeEmptyResponse, "x")), llm.ErrorTypeEmptyResponse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, llm.Classify(tt.err).Type, tt.err.Error())
	}
	assert.Nil(t, llm.Classify(nil))

	assert.Equal(t, llm.ErrorTypeRateLimit, llm.FromStatus(http.StatusTooManyRequests, nil).Type)
	assert.Equal(t, llm.ErrorTypeAuth, llm.FromStatus(http.StatusUnauthorized, nil).Type)
	assert.Equal(t, llm.ErrorTypeTransient, llm.FromStatus(http.StatusBadGateway, nil).Type)
	assert.Equal(t, llm.ErrorTypeBadPrompt, llm.FromStatus(http.StatusBadRequest, nil).Type)

	assert.False(t, llm.IsRetryable(context.Canceled))
	assert.False(t, llm.IsRetryable(llm.NewError(llm.ErrorTypeAuth, "no")))
}

func TestRetry(t *testing.T) {
	cfg := llm.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}

	t.Run("recovers from transient errors", func(t *testing.T) {
		var calls atomic.Int32
		base := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) {
			if calls.Add(1) < 3 {
				return "", llm.NewError(llm.ErrorTypeTransient, "503")
			}
			return "done", nil
		})
		out, err := llm.Chain(base, llm.Retry(cfg)).Generate(context.Background(), domain.Prompt{})
		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		var calls atomic.Int32
		base := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) {
			calls.Add(1)
			return "", llm.NewError(llm.ErrorTypeAuth, "bad key")
		})
		_, err := llm.Chain(base, llm.Retry(cfg)).Generate(context.Background(), domain.Prompt{})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := llm.RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.Delay(5))

	cfg.Jitter = true
	d := cfg.Delay(1)
	assert.GreaterOrEqual(t, d, 75*time.Millisecond)
	assert.LessOrEqual(t, d, 125*time.Millisecond)
}

func TestTimeout(t *testing.T) {
	base := ports.GeneratorFunc(func(ctx context.Context, _ domain.Prompt) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	})
	_, err := llm.Chain(base, llm.Timeout(10*time.Millisecond)).Generate(context.Background(), domain.Prompt{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequireContent(t *testing.T) {
	base := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) { return " \n ", nil })
	_, err := llm.Chain(base, llm.Logging(logging.NewNop()), llm.RequireContent()).Generate(context.Background(), domain.Prompt{Purpose: domain.PurposeAnswer})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeEmptyResponse, llm.Classify(err).Type)
}

func TestTokens(t *testing.T) {
	assert.Greater(t, llm.CountTokens("What's the weather in Pune tomorrow?"), 3)
	assert.Equal(t, 0, llm.CountTokens(""))

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "an old and rather long question about the history of the city"},
		{Role: domain.RoleAssistant, Content: "an old and rather long answer about the history of the city"},
		{Role: domain.RoleUser, Content: "weather?"},
	}
	assert.Len(t, llm.TrimToBudget(msgs, 0), 3)
	kept := llm.TrimToBudget(msgs, llm.CountTokens("weather?")+1)
	require.Len(t, kept, 1)
	assert.Equal(t, "weather?", kept[0].Content)
	assert.Empty(t, llm.TrimToBudget(msgs, 1))
}
