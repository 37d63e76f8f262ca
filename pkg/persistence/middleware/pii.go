package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// Mask replaces every redacted match.
const Mask = "***"

// DefaultPIIPatterns match e-mail addresses and phone numbers.
var DefaultPIIPatterns = []string{
	`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	`\+?\d(?:[ \-]?\d){9,}`,
}

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware masks text matching any of the patterns before it is
// written. The in-memory state of the caller is left untouched, so the
// current turn still sees the original text.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %d: %w", i, err)
		}
		patterns[i] = re
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, threadID string, state *domain.ConversationState) error {
	cloned := state.Clone()

	for i := range cloned.Messages {
		cloned.Messages[i].Content = m.mask(cloned.Messages[i].Content)
	}
	for i := range cloned.RetrievedContext {
		cloned.RetrievedContext[i].Text = m.mask(cloned.RetrievedContext[i].Text)
	}
	for i := range cloned.Suggestions {
		cloned.Suggestions[i] = m.mask(cloned.Suggestions[i])
	}
	cloned.CurrentQuery = m.mask(cloned.CurrentQuery)
	cloned.RewrittenQuery = m.mask(cloned.RewrittenQuery)
	cloned.FinalAnswer = m.mask(cloned.FinalAnswer)

	return m.next.Save(ctx, threadID, cloned)
}

func (m *piiMiddleware) mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, Mask)
	}
	return s
}

func (m *piiMiddleware) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	return m.next.Load(ctx, threadID)
}

func (m *piiMiddleware) Delete(ctx context.Context, threadID string) error {
	return m.next.Delete(ctx, threadID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
