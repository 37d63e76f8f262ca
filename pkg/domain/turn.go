package domain

// ChatRequest is the input of a single conversational turn.
type ChatRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChatResponse is the outcome of a completed turn.
type ChatResponse struct {
	ThreadID             string           `json:"thread_id"`
	Turn                 int              `json:"turn"`
	Answer               string           `json:"answer"`
	SelectedCapabilities []CapabilityName `json:"selected_capabilities"`
	NoContext            bool             `json:"no_context"`
	Stages               []Stage          `json:"stages"`

	// ToolName is the first capability used, ToolType its kind ("rag", "custom" or "none").
	ToolName string `json:"tool_name,omitempty"`
	ToolType string `json:"tool_type"`
}

// SuggestRequest asks for follow-up questions.
// FinalAnswer wins over ThreadID when both are set.
type SuggestRequest struct {
	FinalAnswer string `json:"final_answer,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
}

// SuggestResponse carries at most the configured number of suggestions.
type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
	ThreadID    string   `json:"thread_id,omitempty"`
}
