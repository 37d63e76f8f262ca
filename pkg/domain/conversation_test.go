package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTurn_ResetsPerTurnFields(t *testing.T) {
	s := domain.NewConversation("t-1")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s.BeginTurn("What's the weather in Pune?", now)
	require.NoError(t, s.Apply(domain.Delta{
		RewrittenQuery:       domain.Ptr("weather Pune"),
		Verdict:              domain.Ptr(domain.VerdictInsufficient),
		SelectedCapabilities: []domain.CapabilityName{domain.CapabilityWeather},
		RetrievedContext:     []domain.Fragment{{Source: domain.CapabilityWeather, Text: "31C"}},
		FinalAnswer:          domain.Ptr("It is 31C."),
		Messages:             []domain.Message{{Role: domain.RoleAssistant, Content: "It is 31C."}},
	}))

	s.BeginTurn("And tomorrow?", now.Add(time.Minute))

	assert.Equal(t, 2, s.Turn)
	assert.Equal(t, "And tomorrow?", s.CurrentQuery)
	assert.Empty(t, s.RewrittenQuery)
	assert.Empty(t, s.RetrievedContext)
	assert.Empty(t, s.SelectedCapabilities)
	assert.Empty(t, s.FinalAnswer)
	assert.Equal(t, domain.Verdict(""), s.Verdict)
	assert.Len(t, s.Messages, 3)
	assert.Equal(t, domain.RoleUser, s.Messages[2].Role)
}

func TestApply_IsAdditive(t *testing.T) {
	s := domain.NewConversation("t-1")
	s.BeginTurn("q", time.Now())

	require.NoError(t, s.Apply(domain.Delta{
		SelectedCapabilities: []domain.CapabilityName{domain.CapabilityWebSearch},
		RetrievedContext:     []domain.Fragment{{Source: domain.CapabilityWebSearch, Text: "a"}},
	}))
	require.NoError(t, s.Apply(domain.Delta{
		SelectedCapabilities: []domain.CapabilityName{domain.CapabilityTavilySearch},
		RetrievedContext:     []domain.Fragment{{Source: domain.CapabilityTavilySearch, Text: "b"}},
	}))

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch, domain.CapabilityTavilySearch}, s.SelectedCapabilities)
	assert.Len(t, s.RetrievedContext, 2)
}

func TestApply_FinalAnswerOncePerTurn(t *testing.T) {
	s := domain.NewConversation("t-1")
	s.BeginTurn("q", time.Now())

	require.NoError(t, s.Apply(domain.Delta{FinalAnswer: domain.Ptr("first")}))
	err := s.Apply(domain.Delta{FinalAnswer: domain.Ptr("second")})

	assert.ErrorIs(t, err, domain.ErrAnswerAlreadySet)
	assert.Equal(t, "first", s.FinalAnswer)

	s.BeginTurn("next", time.Now())
	assert.NoError(t, s.Apply(domain.Delta{FinalAnswer: domain.Ptr("third")}))
}

func TestEffectiveQuery(t *testing.T) {
	s := domain.NewConversation("t-1")
	s.BeginTurn("And tomorrow?", time.Now())
	assert.Equal(t, "And tomorrow?", s.EffectiveQuery())

	s.RewrittenQuery = "   "
	assert.Equal(t, "And tomorrow?", s.EffectiveQuery())

	s.RewrittenQuery = "What's the weather in Pune tomorrow?"
	assert.Equal(t, "What's the weather in Pune tomorrow?", s.EffectiveQuery())
}

func TestHistory(t *testing.T) {
	s := domain.NewConversation("t-1")
	for i := 0; i < 4; i++ {
		s.Messages = append(s.Messages,
			domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
			domain.Message{Role: domain.RoleTool, Content: "payload", Capability: domain.CapabilityWeather},
			domain.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
	}
	s.BeginTurn("current", time.Now())

	h := s.History(3)
	require.Len(t, h, 3)
	assert.Equal(t, "a2", h[0].Content)
	assert.Equal(t, "q3", h[1].Content)
	assert.Equal(t, "a3", h[2].Content)

	assert.Nil(t, s.History(0))
	assert.Len(t, s.History(100), 8)
}

func TestLastAssistant(t *testing.T) {
	s := domain.NewConversation("t-1")
	_, ok := s.LastAssistant()
	assert.False(t, ok)

	s.Messages = append(s.Messages,
		domain.Message{Role: domain.RoleAssistant, Content: "old"},
		domain.Message{Role: domain.RoleUser, Content: "q"},
		domain.Message{Role: domain.RoleAssistant, Content: "new"},
		domain.Message{Role: domain.RoleUser, Content: "q2"},
	)
	got, ok := s.LastAssistant()
	assert.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestClone_IsIndependent(t *testing.T) {
	s := domain.NewConversation("t-1")
	s.BeginTurn("q", time.Now())
	s.Suggestions = []string{"x"}

	c := s.Clone()
	c.Messages[0].Content = "mutated"
	c.Suggestions[0] = "y"
	c.Messages = append(c.Messages, domain.Message{Role: domain.RoleAssistant})

	assert.Equal(t, "q", s.Messages[0].Content)
	assert.Equal(t, "x", s.Suggestions[0])
	assert.Len(t, s.Messages, 1)
}

func TestDelta_IsEmpty(t *testing.T) {
	assert.True(t, domain.Delta{}.IsEmpty())
	assert.False(t, domain.Delta{}.Degrade("rewrite: generator unavailable").IsEmpty())
	assert.False(t, domain.Delta{NoContext: domain.Ptr(false)}.IsEmpty())
}

func TestCapabilityName(t *testing.T) {
	assert.True(t, domain.CapabilityWeather.Valid())
	assert.False(t, domain.CapabilityName("rm_rf").Valid())
	assert.True(t, domain.CapabilityRetrieveFAQs.IsRetrieval())
	assert.False(t, domain.CapabilityWebSearch.IsRetrieval())
	assert.Len(t, domain.KnownCapabilities(), 10)
}

func TestComposeHooks_CallsInOrder(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnStageEnter: func(context.Context, *domain.StageEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{
		OnStageEnter: func(context.Context, *domain.StageEvent) { calls = append(calls, "b") },
		OnTurnEnd:    func(context.Context, *domain.TurnEvent) { calls = append(calls, "end") },
	}

	h := domain.ComposeHooks(a, domain.LifecycleHooks{}, b)
	h.OnStageEnter(context.Background(), &domain.StageEvent{})
	h.OnTurnEnd(context.Background(), &domain.TurnEvent{})

	assert.Equal(t, []string{"a", "b", "end"}, calls)
	assert.Nil(t, h.OnCapabilityCall)
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"ok":                nil,
		"busy":              fmt.Errorf("acquire: %w", domain.ErrBusy),
		"generation_failed": domain.ErrGenerationFailed,
		"store_unavailable": domain.ErrStoreUnavailable,
		"misconfigured":     domain.ErrRegistryMisconfigured,
		"canceled":          context.Canceled,
		"invalid_input":     domain.ErrEmptyQuery,
		"internal":          errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, domain.ErrorKind(err), want)
	}

	te := &domain.TurnError{Stage: domain.StageAnswer, Err: domain.ErrGenerationFailed}
	assert.Equal(t, "generation_failed", te.Kind())
	assert.ErrorIs(t, te, domain.ErrGenerationFailed)
}
