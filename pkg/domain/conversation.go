package domain

import (
	"strings"
	"time"
)

// Role tags the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the thread transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Capability names the producer of a tool message.
	Capability CapabilityName `json:"capability,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Fragment is a unit of retrieved context attributed to the capability that produced it.
type Fragment struct {
	Source CapabilityName `json:"source"`
	Text   string         `json:"text"`
}

// Verdict is the relevance grader's judgment of the retrieved context.
type Verdict string

const (
	VerdictSufficient   Verdict = "sufficient"
	VerdictInsufficient Verdict = "insufficient"
	VerdictUnknown      Verdict = "unknown"
)

// ConversationState is the per-thread record threaded through the execution graph.
//
// Messages is append-only across turns. The remaining per-turn fields are
// reset by BeginTurn and filled by stage deltas.
type ConversationState struct {
	ThreadID string `json:"thread_id"`

	// Turn counts completed and in-flight turns, starting at 1.
	Turn int `json:"turn"`

	Messages []Message `json:"messages"`

	CurrentQuery         string           `json:"current_query"`
	RewrittenQuery       string           `json:"rewritten_query,omitempty"`
	RetrievedContext     []Fragment       `json:"retrieved_context,omitempty"`
	Verdict              Verdict          `json:"verdict,omitempty"`
	SelectedCapabilities []CapabilityName `json:"selected_capabilities,omitempty"`
	NoContext            bool             `json:"no_context,omitempty"`
	FinalAnswer          string           `json:"final_answer,omitempty"`

	Suggestions []string `json:"suggestions,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Sealed carries the encrypted record when the state was written
	// through an encrypting store. All other content fields are then empty.
	Sealed string `json:"sealed,omitempty"`
}

// NewConversation creates an empty state for a thread.
func NewConversation(threadID string) *ConversationState {
	return &ConversationState{
		ThreadID: threadID,
		Messages: []Message{},
	}
}

// EffectiveQuery returns the rewritten query when present, otherwise the current query.
func (s *ConversationState) EffectiveQuery() string {
	if strings.TrimSpace(s.RewrittenQuery) != "" {
		return s.RewrittenQuery
	}
	return s.CurrentQuery
}

// LastAssistant returns the content of the most recent assistant message.
func (s *ConversationState) LastAssistant() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// History returns the last n messages that precede the current user query.
// Tool messages are skipped. A non-positive n yields nil.
func (s *ConversationState) History(n int) []Message {
	if n <= 0 {
		return nil
	}
	end := len(s.Messages)
	if end > 0 && s.Messages[end-1].Role == RoleUser && s.Messages[end-1].Content == s.CurrentQuery {
		end--
	}
	var out []Message
	for i := end - 1; i >= 0 && len(out) < n; i-- {
		if s.Messages[i].Role == RoleTool {
			continue
		}
		out = append(out, s.Messages[i])
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// BeginTurn resets the per-turn fields and records the user query.
func (s *ConversationState) BeginTurn(query string, now time.Time) {
	s.Turn++
	s.CurrentQuery = query
	s.RewrittenQuery = ""
	s.RetrievedContext = nil
	s.Verdict = ""
	s.SelectedCapabilities = nil
	s.NoContext = false
	s.FinalAnswer = ""
	s.Suggestions = nil
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: query, Timestamp: now})
	s.UpdatedAt = now
}

// Apply merges a stage delta into the state.
// It returns ErrAnswerAlreadySet when the delta would overwrite the final answer.
func (s *ConversationState) Apply(d Delta) error {
	if d.FinalAnswer != nil && s.FinalAnswer != "" {
		return ErrAnswerAlreadySet
	}
	if d.RewrittenQuery != nil {
		s.RewrittenQuery = *d.RewrittenQuery
	}
	if d.Verdict != nil {
		s.Verdict = *d.Verdict
	}
	if len(d.SelectedCapabilities) > 0 {
		s.SelectedCapabilities = append(s.SelectedCapabilities, d.SelectedCapabilities...)
	}
	if len(d.RetrievedContext) > 0 {
		s.RetrievedContext = append(s.RetrievedContext, d.RetrievedContext...)
	}
	if d.NoContext != nil {
		s.NoContext = *d.NoContext
	}
	if d.FinalAnswer != nil {
		s.FinalAnswer = *d.FinalAnswer
	}
	if len(d.Messages) > 0 {
		s.Messages = append(s.Messages, d.Messages...)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	c.RetrievedContext = append([]Fragment(nil), s.RetrievedContext...)
	c.SelectedCapabilities = append([]CapabilityName(nil), s.SelectedCapabilities...)
	c.Suggestions = append([]string(nil), s.Suggestions...)
	return &c
}
