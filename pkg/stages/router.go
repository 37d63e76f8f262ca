package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/aretw0/threadline/pkg/registry"
)

// Candidate is one ranked capability proposed by the classifier.
type Candidate struct {
	Name domain.CapabilityName `json:"name"`
	Args map[string]any        `json:"args,omitempty"`
}

// ErrNoKnownCandidates reports a classification that named only capabilities
// missing from the registry.
var ErrNoKnownCandidates = errors.New("classify: no registered capability in the ranked list")

// ToolRouter selects capabilities for the turn and runs the fallback chain.
type ToolRouter struct {
	gen ports.Generator
	reg *registry.Registry
	cfg config
}

// NewToolRouter creates a router over an immutable registry.
func NewToolRouter(gen ports.Generator, reg *registry.Registry, opts ...Option) *ToolRouter {
	return &ToolRouter{gen: gen, reg: reg, cfg: newConfig(opts)}
}

// Run classifies the query into ranked candidates and invokes them in order.
//
// A success stops the chain unless the capability is supplementary, in which
// case the next candidate runs while the total number of calls stays below
// the invocation cap. Failed candidates are skipped until something succeeds.
// When candidates existed and all failed, the delta sets NoContext. A
// classification that fails or names no registered capability falls back to
// the supplementary capabilities. Only the context error is returned.
func (r *ToolRouter) Run(ctx context.Context, s *domain.ConversationState) (domain.Delta, error) {
	var delta domain.Delta
	if s.Verdict == domain.VerdictSufficient {
		return delta, nil
	}

	candidates, err := r.Classify(ctx, s.EffectiveQuery())
	if err != nil {
		if ctx.Err() != nil {
			return domain.Delta{}, ctx.Err()
		}
		r.cfg.logger.Warn("Tool classification failed, using search fallback",
			"thread_id", s.ThreadID,
			"err", err,
		)
		if errors.Is(err, ErrNoKnownCandidates) {
			delta = delta.Degrade("tools: no registered capability classified")
		} else {
			delta = delta.Degrade("tools: classification failed")
		}
		candidates = r.fallbackCandidates()
	}
	if len(candidates) == 0 {
		return delta, nil
	}

	successes := 0
	for _, c := range candidates {
		if successes > 0 && len(delta.Attempts) >= r.cfg.invocationCap {
			break
		}
		h, err := r.reg.Lookup(c.Name)
		if err != nil {
			// Candidates are filtered against the registry, so this is an invariant violation.
			return domain.Delta{}, fmt.Errorf("%w: %w", domain.ErrRegistryMisconfigured, err)
		}

		res, err := r.invoke(ctx, s.ThreadID, h, domain.Request{Query: s.EffectiveQuery(), Args: c.Args})
		delta.Attempts = append(delta.Attempts, attemptOf(c.Name, res, err))
		if err != nil {
			if ctx.Err() != nil {
				return domain.Delta{}, ctx.Err()
			}
			r.cfg.logger.Info("Capability failed, trying next candidate",
				"thread_id", s.ThreadID,
				"capability", c.Name,
				"err", err,
			)
			continue
		}

		successes++
		delta.SelectedCapabilities = append(delta.SelectedCapabilities, c.Name)
		delta.RetrievedContext = append(delta.RetrievedContext, domain.Fragment{Source: c.Name, Text: res.Payload})
		if !h.Contract().Supplementary {
			break
		}
	}

	if successes == 0 {
		delta.NoContext = domain.Ptr(true)
		delta = delta.Degrade("tools: all candidates failed")
	}
	return delta, nil
}

func (r *ToolRouter) invoke(ctx context.Context, threadID string, h *registry.Handle, req domain.Request) (domain.Result, error) {
	name := h.Contract().Name
	if r.cfg.hooks.OnCapabilityCall != nil {
		r.cfg.hooks.OnCapabilityCall(ctx, &domain.CapabilityEvent{ThreadID: threadID, Capability: name})
	}

	start := time.Now()
	res, err := h.Invoke(ctx, req, r.cfg.toolTimeout)
	if err != nil {
		res.Duration = time.Since(start)
	}

	if r.cfg.hooks.OnCapabilityReturn != nil {
		ev := &domain.CapabilityEvent{
			ThreadID:   threadID,
			Capability: name,
			Attempt:    res.Attempts,
			Status:     domain.StatusOK,
			Duration:   res.Duration,
			Err:        err,
		}
		var capErr *domain.CapabilityError
		if errors.As(err, &capErr) {
			ev.Status = capErr.Status
		}
		r.cfg.hooks.OnCapabilityReturn(ctx, ev)
	}
	return res, err
}

// Classify asks the generator for a ranked candidate list and keeps the
// registered names, deduplicated and bounded. An empty list means no tool is
// needed; a non-empty list with no registered name is ErrNoKnownCandidates.
func (r *ToolRouter) Classify(ctx context.Context, query string) ([]Candidate, error) {
	data := struct {
		Tools []registry.Contract
		Query string
	}{r.reg.Contracts(), query}

	out, err := r.gen.Generate(ctx, domain.Prompt{
		Purpose:   domain.PurposeRoute,
		System:    routeSystem,
		Messages:  []domain.Message{userMessage(render(routeTmpl, data, query))},
		MaxTokens: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("classify (%s): %w", llm.Classify(err).Type, err)
	}

	raw, err := parseCandidates(out)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.CapabilityName]bool, len(raw))
	var kept []Candidate
	for _, c := range raw {
		if !r.reg.Has(c.Name) || seen[c.Name] {
			r.cfg.logger.Debug("Discarding candidate", "capability", c.Name)
			continue
		}
		seen[c.Name] = true
		kept = append(kept, c)
		if len(kept) == r.cfg.maxCandidates {
			break
		}
	}
	if len(raw) > 0 && len(kept) == 0 {
		return nil, ErrNoKnownCandidates
	}
	return kept, nil
}

// fallbackCandidates are the supplementary capabilities in registration order.
func (r *ToolRouter) fallbackCandidates() []Candidate {
	var out []Candidate
	for _, c := range r.reg.Contracts() {
		if c.Supplementary {
			out = append(out, Candidate{Name: c.Name})
		}
	}
	return out
}

// parseCandidates reads a JSON array of objects or bare names, tolerating
// code fences and surrounding prose.
func parseCandidates(s string) ([]Candidate, error) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("classify: no JSON array in %q", truncate(s, 80))
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, Candidate{Name: domain.CapabilityName(strings.TrimSpace(name))})
			continue
		}
		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			continue
		}
		c.Name = domain.CapabilityName(strings.TrimSpace(string(c.Name)))
		out = append(out, c)
	}
	return out, nil
}

func attemptOf(name domain.CapabilityName, res domain.Result, err error) domain.Attempt {
	a := domain.Attempt{Capability: name, Status: domain.StatusOK, DurationMS: res.Duration.Milliseconds()}
	if err == nil {
		return a
	}
	a.Status = domain.StatusInvocationError
	var capErr *domain.CapabilityError
	if errors.As(err, &capErr) {
		a.Status = capErr.Status
	}
	a.Error = err.Error()
	return a
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
