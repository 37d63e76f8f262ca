package runtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/threadline/internal/runtime"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_GradeDependsOnlyOnVerdict(t *testing.T) {
	table := runtime.DefaultTransitions()
	tests := []struct {
		verdict domain.Verdict
		want    domain.Stage
	}{
		{domain.VerdictSufficient, domain.StageAnswer},
		{domain.VerdictInsufficient, domain.StageTools},
		{domain.VerdictUnknown, domain.StageTools},
	}
	noise := []*domain.ConversationState{
		{},
		{NoContext: true, RewrittenQuery: "x", RetrievedContext: []domain.Fragment{{Text: "a"}}},
		{SelectedCapabilities: []domain.CapabilityName{domain.CapabilityWeather}, Turn: 9},
	}
	for _, tt := range tests {
		for _, s := range noise {
			s.Verdict = tt.verdict
			got, err := runtime.Next(table, domain.StageGrade, s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "verdict %s", tt.verdict)
		}
	}
}

func TestNext_UnconditionalEdges(t *testing.T) {
	table := runtime.DefaultTransitions()
	s := &domain.ConversationState{}
	for from, want := range map[domain.Stage]domain.Stage{
		domain.StageStart:   domain.StageRewrite,
		domain.StageRewrite: domain.StageGrade,
		domain.StageTools:   domain.StageAnswer,
		domain.StageAnswer:  domain.StageDone,
	} {
		got, err := runtime.Next(table, from, s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := runtime.Next(table, domain.StageDone, s)
	assert.Error(t, err)
}

type recorder struct {
	ran []domain.Stage
}

func (r *recorder) node(stage domain.Stage, delta domain.Delta) runtime.Node {
	return runtime.NodeFunc(func(context.Context, *domain.ConversationState) (domain.Delta, error) {
		r.ran = append(r.ran, stage)
		return delta, nil
	})
}

func nodes(r *recorder, verdict domain.Verdict) map[domain.Stage]runtime.Node {
	return map[domain.Stage]runtime.Node{
		domain.StageRewrite: r.node(domain.StageRewrite, domain.Delta{}),
		domain.StageGrade:   r.node(domain.StageGrade, domain.Delta{Verdict: domain.Ptr(verdict)}),
		domain.StageTools: r.node(domain.StageTools, domain.Delta{
			SelectedCapabilities: []domain.CapabilityName{domain.CapabilityWeather},
			RetrievedContext:     []domain.Fragment{{Source: domain.CapabilityWeather, Text: "31°C"}},
		}),
		domain.StageAnswer: r.node(domain.StageAnswer, domain.Delta{
			FinalAnswer: domain.Ptr("sunny"),
			Messages:    []domain.Message{{Role: domain.RoleAssistant, Content: "sunny"}},
		}),
	}
}

func newState() *domain.ConversationState {
	s := domain.NewConversation("t")
	s.BeginTurn("weather?", time.Now())
	return s
}

func TestEngine_Paths(t *testing.T) {
	t.Run("insufficient goes through tools", func(t *testing.T) {
		r := &recorder{}
		eng, err := runtime.NewEngine(nodes(r, domain.VerdictInsufficient))
		require.NoError(t, err)

		var events []domain.Event
		s := newState()
		err = eng.Run(context.Background(), s, func(_ context.Context, ev domain.Event) error {
			events = append(events, ev)
			return nil
		})
		require.NoError(t, err)

		want := []domain.Stage{domain.StageRewrite, domain.StageGrade, domain.StageTools, domain.StageAnswer}
		assert.Equal(t, want, r.ran)
		require.Len(t, events, 4)
		for i, ev := range events {
			assert.Equal(t, domain.EventStage, ev.Type)
			assert.Equal(t, want[i], ev.Stage)
			assert.NotNil(t, ev.Delta)
		}
		assert.Equal(t, "sunny", s.FinalAnswer)
		assert.Equal(t, []domain.CapabilityName{domain.CapabilityWeather}, s.SelectedCapabilities)
		assert.Len(t, s.Messages, 2)
	})

	t.Run("sufficient skips tools", func(t *testing.T) {
		r := &recorder{}
		eng, err := runtime.NewEngine(nodes(r, domain.VerdictSufficient))
		require.NoError(t, err)
		require.NoError(t, eng.Run(context.Background(), newState(), nil))
		assert.Equal(t, []domain.Stage{domain.StageRewrite, domain.StageGrade, domain.StageAnswer}, r.ran)
	})
}

func TestEngine_RejectsRevisit(t *testing.T) {
	r := &recorder{}
	cyclic := []runtime.Transition{
		{From: domain.StageStart, To: domain.StageRewrite},
		{From: domain.StageRewrite, To: domain.StageGrade},
		{From: domain.StageGrade, To: domain.StageRewrite},
	}
	eng, err := runtime.NewEngine(nodes(r, domain.VerdictUnknown), runtime.WithTransitions(cyclic))
	require.NoError(t, err)

	err = eng.Run(context.Background(), newState(), nil)
	var te *domain.TurnError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, domain.ErrStageRevisited)
	assert.Equal(t, domain.StageRewrite, te.Stage)
	assert.Equal(t, []domain.Stage{domain.StageRewrite, domain.StageGrade}, r.ran)
}

func TestEngine_MissingNode(t *testing.T) {
	_, err := runtime.NewEngine(map[domain.Stage]runtime.Node{})
	assert.Error(t, err)
}

func TestEngine_StageErrorIsTurnError(t *testing.T) {
	r := &recorder{}
	ns := nodes(r, domain.VerdictInsufficient)
	ns[domain.StageAnswer] = runtime.NodeFunc(func(context.Context, *domain.ConversationState) (domain.Delta, error) {
		return domain.Delta{}, domain.ErrGenerationFailed
	})
	var left []domain.StageEvent
	eng, err := runtime.NewEngine(ns, runtime.WithHooks(domain.LifecycleHooks{
		OnStageLeave: func(_ context.Context, e *domain.StageEvent) { left = append(left, *e) },
	}))
	require.NoError(t, err)

	err = eng.Run(context.Background(), newState(), nil)
	var te *domain.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StageAnswer, te.Stage)
	assert.Equal(t, "generation_failed", te.Kind())
	require.Len(t, left, 4)
	assert.ErrorIs(t, left[3].Err, domain.ErrGenerationFailed)
}

func TestEngine_AnswerSetOnce(t *testing.T) {
	r := &recorder{}
	ns := nodes(r, domain.VerdictInsufficient)
	ns[domain.StageTools] = r.node(domain.StageTools, domain.Delta{FinalAnswer: domain.Ptr("early")})
	eng, err := runtime.NewEngine(ns)
	require.NoError(t, err)

	err = eng.Run(context.Background(), newState(), nil)
	assert.ErrorIs(t, err, domain.ErrAnswerAlreadySet)
}

func TestEngine_EmitterErrorAborts(t *testing.T) {
	r := &recorder{}
	eng, err := runtime.NewEngine(nodes(r, domain.VerdictInsufficient))
	require.NoError(t, err)

	boom := errors.New("client gone")
	err = eng.Run(context.Background(), newState(), func(_ context.Context, ev domain.Event) error {
		if ev.Stage == domain.StageGrade {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []domain.Stage{domain.StageRewrite, domain.StageGrade}, r.ran)
}

func TestEngine_Cancellation(t *testing.T) {
	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	ns := nodes(r, domain.VerdictInsufficient)
	ns[domain.StageRewrite] = runtime.NodeFunc(func(context.Context, *domain.ConversationState) (domain.Delta, error) {
		cancel()
		return domain.Delta{}, nil
	})
	eng, err := runtime.NewEngine(ns)
	require.NoError(t, err)

	err = eng.Run(ctx, newState(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.ran)
}
