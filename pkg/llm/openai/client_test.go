package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "It is sunny in Pune."}}]
		}`))
	}))
	defer srv.Close()

	c := New(llm.Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-model"})
	out, err := c.Generate(context.Background(), domain.Prompt{
		System: "be brief",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "weather?"},
			{Role: domain.RoleAssistant, Content: "where?"},
			{Role: domain.RoleUser, Content: "Pune"},
		},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Pune.", out)

	assert.Equal(t, "test-model", got["model"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	assert.EqualValues(t, 64, got["max_tokens"])
}

func TestClient_ClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	c := New(llm.Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := c.Generate(context.Background(), domain.Prompt{Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeRateLimit, llm.Classify(err).Type)
	assert.True(t, llm.IsRetryable(err))
}
