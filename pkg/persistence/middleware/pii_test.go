package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/threadline/pkg/adapters/memory"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	state := conversation("t1", "mail me at jane.doe@example.com or call +91 98765 43210")
	state.RetrievedContext = []domain.Fragment{{Source: domain.CapabilityRetrieveMembers, Text: "Contact: lead@ccc.example"}}
	require.NoError(t, store.Save(ctx, "t1", state))

	assert.Contains(t, state.Messages[0].Content, "jane.doe@example.com", "caller state must not change")

	stored, err := underlying.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "mail me at *** or call ***", stored.Messages[0].Content)
	assert.Equal(t, "mail me at *** or call ***", stored.CurrentQuery)
	assert.Equal(t, "Contact: ***", stored.RetrievedContext[0].Text)
	assert.Equal(t, "noted", stored.Messages[1].Content)
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	require.Error(t, err)
}

func TestWrap_Order(t *testing.T) {
	underlying := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{`secret`})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Wrap(underlying, pii, enc)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "t1", conversation("t1", "a secret plan")))

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a *** plan", loaded.CurrentQuery)
}
