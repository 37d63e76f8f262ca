// Package search implements the web_search and tavily_search capabilities.
//
// Both providers return a short numbered digest of the top results, which is
// what the answer stage grounds on. An empty result set yields an empty
// payload, which the registry classifies as an invalid response.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
)

// DefaultMaxResults bounds the digest size.
const DefaultMaxResults = 5

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider is a search backend.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Capability adapts a Provider to ports.Capability.
type Capability struct {
	Provider Provider
}

// Invoke implements ports.Capability. The "query" argument overrides the turn query.
func (c Capability) Invoke(ctx context.Context, req domain.Request) (string, error) {
	query := req.Query
	if q, ok := req.Args["query"].(string); ok && strings.TrimSpace(q) != "" {
		query = q
	}
	results, err := c.Provider.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(results), nil
}

// Format renders results as a numbered digest.
func Format(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   %s\n", r.URL)
		}
	}
	return strings.TrimSpace(b.String())
}

// doWithBackoff sends requests built by newReq, retrying on 429 with a
// doubling delay capped at 30s until ctx ends.
func doWithBackoff(ctx context.Context, client *http.Client, newReq func() (*http.Request, error)) (*http.Response, error) {
	delay := time.Second
	for {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}
