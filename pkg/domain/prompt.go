package domain

// Purpose labels what a generation call is for. It is used for logging and metrics.
type Purpose string

const (
	PurposeRewrite Purpose = "rewrite"
	PurposeGrade   Purpose = "grade"
	PurposeRoute   Purpose = "route"
	PurposeAnswer  Purpose = "answer"
	PurposeSuggest Purpose = "suggest"
)

// Prompt is a provider-neutral generation request.
// Messages only carry user and assistant roles.
type Prompt struct {
	Purpose     Purpose
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}
