package runtime

import (
	"fmt"

	"github.com/aretw0/threadline/pkg/domain"
)

// Condition guards a transition. A nil condition always matches.
type Condition func(*domain.ConversationState) bool

// Transition is one edge of the turn graph.
type Transition struct {
	From domain.Stage
	To   domain.Stage
	When Condition
	// Label describes When for rendering. It is empty for unconditional edges.
	Label string
}

// VerdictIs matches when the grader's verdict equals v.
func VerdictIs(v domain.Verdict) Condition {
	return func(s *domain.ConversationState) bool {
		return s.Verdict == v
	}
}

// DefaultTransitions returns the turn graph:
//
//	start -> rewrite -> grade -> answer            (sufficient)
//	                          -> tools -> answer   (insufficient, unknown)
//	answer -> done
//
// Edges are evaluated in order; the first match wins.
func DefaultTransitions() []Transition {
	return []Transition{
		{From: domain.StageStart, To: domain.StageRewrite},
		{From: domain.StageRewrite, To: domain.StageGrade},
		{From: domain.StageGrade, To: domain.StageAnswer, When: VerdictIs(domain.VerdictSufficient), Label: "sufficient"},
		{From: domain.StageGrade, To: domain.StageTools, Label: "insufficient / unknown"},
		{From: domain.StageTools, To: domain.StageAnswer},
		{From: domain.StageAnswer, To: domain.StageDone},
	}
}

// Next returns the stage that follows from for the given state.
func Next(table []Transition, from domain.Stage, s *domain.ConversationState) (domain.Stage, error) {
	for _, t := range table {
		if t.From != from {
			continue
		}
		if t.When == nil || t.When(s) {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("no transition from stage %q", from)
}
