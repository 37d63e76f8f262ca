// Package testutils holds scripted collaborators shared by package tests.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
)

// Reply is one scripted generator response.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
	// Wait blocks the call until the channel is closed or the context ends.
	Wait <-chan struct{}
}

// Generator is a ports.Generator that answers from per-purpose scripts.
// The last reply of a script repeats once the queue is exhausted.
// Purposes without a script fail.
type Generator struct {
	mu      sync.Mutex
	scripts map[domain.Purpose][]Reply
	calls   []domain.Prompt
	entered chan domain.Purpose
}

// NewGenerator creates an empty scripted generator.
func NewGenerator() *Generator {
	return &Generator{
		scripts: make(map[domain.Purpose][]Reply),
		entered: make(chan domain.Purpose, 64),
	}
}

// On appends replies to the script of purpose p.
func (g *Generator) On(p domain.Purpose, replies ...Reply) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[p] = append(g.scripts[p], replies...)
	return g
}

// Say scripts plain text replies for purpose p.
func (g *Generator) Say(p domain.Purpose, texts ...string) *Generator {
	for _, t := range texts {
		g.On(p, Reply{Text: t})
	}
	return g
}

// Fail scripts an error reply for purpose p.
func (g *Generator) Fail(p domain.Purpose, err error) *Generator {
	return g.On(p, Reply{Err: err})
}

// Generate implements ports.Generator.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, prompt)
	script := g.scripts[prompt.Purpose]
	var r Reply
	ok := len(script) > 0
	if ok {
		r = script[0]
		if len(script) > 1 {
			g.scripts[prompt.Purpose] = script[1:]
		}
	}
	g.mu.Unlock()

	select {
	case g.entered <- prompt.Purpose:
	default:
	}

	if !ok {
		return "", fmt.Errorf("no scripted reply for %s", prompt.Purpose)
	}
	if r.Wait != nil {
		select {
		case <-r.Wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.Text, r.Err
}

// Entered delivers the purpose of every call as it starts.
func (g *Generator) Entered() <-chan domain.Purpose { return g.entered }

// Calls returns the prompts received so far.
func (g *Generator) Calls() []domain.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Prompt(nil), g.calls...)
}

// CallsFor returns the prompts received for purpose p.
func (g *Generator) CallsFor(p domain.Purpose) []domain.Prompt {
	var out []domain.Prompt
	for _, c := range g.Calls() {
		if c.Purpose == p {
			out = append(out, c)
		}
	}
	return out
}

// Capability is a scripted ports.Capability.
type Capability struct {
	Payload string
	Err     error
	// Delay is honoured with the request context, so a long delay produces a timeout.
	Delay time.Duration
	// Hang ignores the context entirely.
	Hang bool

	mu       sync.Mutex
	requests []domain.Request
}

// Returns creates a capability that succeeds with payload.
func Returns(payload string) *Capability { return &Capability{Payload: payload} }

// Fails creates a capability that returns err.
func Fails(err error) *Capability { return &Capability{Err: err} }

// Slow creates a capability that waits d before answering.
func Slow(d time.Duration, payload string) *Capability {
	return &Capability{Delay: d, Payload: payload}
}

// Invoke implements ports.Capability.
func (c *Capability) Invoke(ctx context.Context, req domain.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Hang {
		select {}
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.Payload, c.Err
}

// Calls returns the number of invocations.
func (c *Capability) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns the received requests.
func (c *Capability) Requests() []domain.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Request(nil), c.requests...)
}
