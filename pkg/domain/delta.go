package domain

// Delta is the additive output of a single stage.
//
// Nil pointer fields and empty slices mean "no change". Slices are appended to
// the state, never substituted. Attempts and Degraded describe how the stage
// ran and are published with events but not stored on the state.
type Delta struct {
	RewrittenQuery       *string          `json:"rewritten_query,omitempty"`
	Verdict              *Verdict         `json:"verdict,omitempty"`
	SelectedCapabilities []CapabilityName `json:"selected_capabilities,omitempty"`
	RetrievedContext     []Fragment       `json:"retrieved_context,omitempty"`
	NoContext            *bool            `json:"no_context,omitempty"`
	FinalAnswer          *string          `json:"final_answer,omitempty"`
	Messages             []Message        `json:"messages,omitempty"`

	Attempts []Attempt `json:"attempts,omitempty"`
	Degraded []string  `json:"degraded,omitempty"`
}

// IsEmpty reports whether the delta carries no changes and no diagnostics.
func (d Delta) IsEmpty() bool {
	return d.RewrittenQuery == nil &&
		d.Verdict == nil &&
		len(d.SelectedCapabilities) == 0 &&
		len(d.RetrievedContext) == 0 &&
		d.NoContext == nil &&
		d.FinalAnswer == nil &&
		len(d.Messages) == 0 &&
		len(d.Attempts) == 0 &&
		len(d.Degraded) == 0
}

// Degrade returns a copy of the delta with a degradation note appended.
func (d Delta) Degrade(note string) Delta {
	d.Degraded = append(append([]string(nil), d.Degraded...), note)
	return d
}

// Ptr returns a pointer to v. It keeps delta literals short.
func Ptr[T any](v T) *T {
	return &v
}
