package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
)

// Answerer synthesizes the final answer for the turn.
type Answerer struct {
	gen ports.Generator
	cfg config
}

// NewAnswerer creates an answer generator.
func NewAnswerer(gen ports.Generator, opts ...Option) *Answerer {
	return &Answerer{gen: gen, cfg: newConfig(opts)}
}

// Run sets FinalAnswer and appends the assistant message.
//
// The prompt carries the whole conversation, trimmed only by the token
// budget unless WithAnswerWindow narrows it.
//
// When NoContext is set the fixed DeclineAnswer is used and the generator is
// not called. A generator failure or blank output returns an error wrapping
// domain.ErrGenerationFailed and no delta.
func (a *Answerer) Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error) {
	if s.NoContext {
		return a.finish(s, DeclineAnswer), nil
	}

	window := a.cfg.answerWindow
	if window == 0 {
		window = len(s.Messages)
	}
	history := llm.TrimToBudget(s.History(window), a.cfg.tokenBudget)
	data := struct {
		Context []domain.Fragment
		Query   string
	}{s.RetrievedContext, s.EffectiveQuery()}

	msgs := make([]domain.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, userMessage(render(answerTmpl, data, s.EffectiveQuery())))

	out, err := a.gen.Generate(ctx, domain.Prompt{
		Purpose:     domain.PurposeAnswer,
		System:      answerSystem,
		Messages:    msgs,
		Temperature: 0.3,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Delta{}, ctx.Err()
		}
		return domain.Delta{}, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}
	answer := strings.TrimSpace(out)
	if answer == "" {
		return domain.Delta{}, fmt.Errorf("%w: empty output", domain.ErrGenerationFailed)
	}
	return a.finish(s, answer), nil
}

func (a *Answerer) finish(s *domain.ConversationState, answer string) domain.Delta {
	now := a.cfg.now()
	d := domain.Delta{FinalAnswer: domain.Ptr(answer)}
	if a.cfg.toolTranscript {
		for _, f := range s.RetrievedContext {
			d.Messages = append(d.Messages, domain.Message{
				Role:       domain.RoleTool,
				Content:    f.Text,
				Capability: f.Source,
				Timestamp:  now,
			})
		}
	}
	d.Messages = append(d.Messages, domain.Message{Role: domain.RoleAssistant, Content: answer, Timestamp: now})
	return d
}
