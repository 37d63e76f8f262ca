package stages

import (
	"context"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
)

// Grader judges whether the retrieved context can answer the effective query.
type Grader struct {
	gen ports.Generator
	cfg config
}

// NewGrader creates a relevance grader.
func NewGrader(gen ports.Generator, opts ...Option) *Grader {
	return &Grader{gen: gen, cfg: newConfig(opts)}
}

// Run sets the verdict. Empty context is insufficient without a generator call;
// a failed or unreadable judgment is unknown.
func (g *Grader) Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error) {
	if len(s.RetrievedContext) == 0 {
		return domain.Delta{Verdict: domain.Ptr(domain.VerdictInsufficient)}, nil
	}

	data := struct {
		Query   string
		Context []domain.Fragment
	}{s.EffectiveQuery(), s.RetrievedContext}

	out, err := g.gen.Generate(ctx, domain.Prompt{
		Purpose:   domain.PurposeGrade,
		System:    gradeSystem,
		Messages:  []domain.Message{userMessage(render(gradeTmpl, data, s.EffectiveQuery()))},
		MaxTokens: 8,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Delta{}, ctx.Err()
		}
		g.cfg.logger.Warn("Grading failed", "thread_id", s.ThreadID, "err", err)
		return domain.Delta{Verdict: domain.Ptr(domain.VerdictUnknown)}.
			Degrade("grade: " + llm.Classify(err).Type.String()), nil
	}

	v := parseVerdict(out)
	if v == domain.VerdictUnknown {
		return domain.Delta{Verdict: domain.Ptr(v)}.Degrade("grade: unreadable judgment"), nil
	}
	return domain.Delta{Verdict: domain.Ptr(v)}, nil
}

func parseVerdict(s string) domain.Verdict {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return domain.VerdictUnknown
	}
	switch strings.Trim(fields[0], "\"'`*.,!:") {
	case "yes", "sufficient":
		return domain.VerdictSufficient
	case "no", "insufficient":
		return domain.VerdictInsufficient
	}
	return domain.VerdictUnknown
}
