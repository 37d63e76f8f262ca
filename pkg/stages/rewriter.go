package stages

import (
	"context"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
)

// Rewriter turns a follow-up question into a standalone one using recent history.
type Rewriter struct {
	gen ports.Generator
	cfg config
}

// NewRewriter creates a rewriter.
func NewRewriter(gen ports.Generator, opts ...Option) *Rewriter {
	return &Rewriter{gen: gen, cfg: newConfig(opts)}
}

// Run sets RewrittenQuery when the generator returns a different question.
// Without prior history there is nothing to resolve and no call is made.
func (r *Rewriter) Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error) {
	history := llm.TrimToBudget(s.History(r.cfg.historyWindow), r.cfg.tokenBudget)
	if len(history) == 0 {
		return domain.Delta{}, nil
	}

	data := struct {
		History []domain.Message
		Query   string
	}{history, s.CurrentQuery}

	out, err := r.gen.Generate(ctx, domain.Prompt{
		Purpose:   domain.PurposeRewrite,
		System:    rewriteSystem,
		Messages:  []domain.Message{userMessage(render(rewriteTmpl, data, s.CurrentQuery))},
		MaxTokens: 128,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Delta{}, ctx.Err()
		}
		r.cfg.logger.Warn("Rewrite failed, keeping original query",
			"thread_id", s.ThreadID,
			"err", err,
		)
		return domain.Delta{}.Degrade("rewrite: " + llm.Classify(err).Type.String()), nil
	}

	rewritten := cleanLine(out)
	if rewritten == "" || sameQuestion(rewritten, s.CurrentQuery) {
		return domain.Delta{}, nil
	}
	r.cfg.logger.Debug("Query rewritten",
		"thread_id", s.ThreadID,
		"from", s.CurrentQuery,
		"to", rewritten,
	)
	return domain.Delta{RewrittenQuery: domain.Ptr(rewritten)}, nil
}

// cleanLine keeps the first non-empty line and strips quoting and labels.
func cleanLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i > 0 && strings.HasPrefix(strings.ToLower(line), "standalone question") {
			line = strings.TrimSpace(line[i+1:])
		}
		return strings.TrimSpace(strings.Trim(line, "\"'`"))
	}
	return ""
}

// sameQuestion compares ignoring case, spacing and trailing punctuation.
func sameQuestion(a, b string) bool {
	norm := func(s string) string {
		s = strings.Join(strings.Fields(s), " ")
		return strings.TrimRight(s, "?.! ")
	}
	return strings.EqualFold(norm(a), norm(b))
}
