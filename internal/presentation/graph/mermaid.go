// Package graph renders the turn graph as a Mermaid flowchart.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/threadline/internal/runtime"
	"github.com/aretw0/threadline/pkg/domain"
)

// Overlay highlights the stages a turn went through.
type Overlay struct {
	Visited []domain.Stage
	Current domain.Stage
}

// GenerateMermaid produces a Mermaid flowchart from a transition table.
// Shapes follow the role of each stage:
// - start and done: ((Circle))
// - tools: [[Subroutine]]
// - everything else: [Rectangle]
func GenerateMermaid(table []runtime.Transition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	declared := make(map[domain.Stage]bool)
	declare := func(st domain.Stage) {
		if declared[st] {
			return
		}
		declared[st] = true
		opener, closer := "[", "]"
		switch st {
		case domain.StageStart, domain.StageDone:
			opener, closer = "((", "))"
		case domain.StageTools:
			opener, closer = "[[", "]]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeID(st), opener, st, closer)
	}

	for _, t := range table {
		declare(t.From)
		declare(t.To)
	}
	for _, t := range table {
		arrow := "-->"
		if t.Label != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(t.Label, "\"", "'"))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeID(t.From), arrow, sanitizeID(t.To))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[domain.Stage]bool)
		for _, st := range overlay.Visited {
			if seen[st] || !declared[st] {
				continue
			}
			seen[st] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeID(st))
		}
		if overlay.Current != "" && declared[overlay.Current] {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeID(overlay.Current))
		}
	}

	return sb.String()
}

// TurnOverlay reconstructs the path of the last checkpointed turn.
// It returns nil for a thread that has not completed a turn.
func TurnOverlay(s *domain.ConversationState) *Overlay {
	if s == nil || s.Turn == 0 {
		return nil
	}
	visited := []domain.Stage{domain.StageStart, domain.StageRewrite, domain.StageGrade}
	if s.Verdict != domain.VerdictSufficient {
		visited = append(visited, domain.StageTools)
	}
	visited = append(visited, domain.StageAnswer, domain.StageDone)
	return &Overlay{Visited: visited, Current: domain.StageDone}
}

func sanitizeID(st domain.Stage) string {
	s := strings.ReplaceAll(string(st), ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	// "end" is reserved in Mermaid flowcharts.
	if s == "end" {
		s = "end_"
	}
	return s
}
