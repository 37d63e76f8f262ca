package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// Suggester proposes follow-up questions for an answer. It has no tool access.
type Suggester struct {
	gen ports.Generator
	cfg config
}

// NewSuggester creates a suggestion generator.
func NewSuggester(gen ports.Generator, opts ...Option) *Suggester {
	return &Suggester{gen: gen, cfg: newConfig(opts)}
}

// Suggest returns at most the configured number of suggestions.
// Any failure yields an empty, non-nil list.
func (s *Suggester) Suggest(ctx context.Context, answer string) []string {
	if strings.TrimSpace(answer) == "" {
		return []string{}
	}
	data := struct {
		Count  int
		Answer string
	}{s.cfg.suggestionCount, answer}

	out, err := s.gen.Generate(ctx, domain.Prompt{
		Purpose:     domain.PurposeSuggest,
		System:      suggestSystem,
		Messages:    []domain.Message{userMessage(render(suggestTmpl, data, answer))},
		MaxTokens:   128,
		Temperature: 0.7,
	})
	if err != nil {
		s.cfg.logger.Warn("Suggestion generation failed", "err", err)
		return []string{}
	}
	return parseSuggestions(out, s.cfg.suggestionCount)
}

var numbering = regexp.MustCompile(`^\d+[.)]\s*`)

// parseSuggestions takes one suggestion per line, stripping bullets and numbering.
func parseSuggestions(s string, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•* ")
		line = numbering.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), "\"")
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}
