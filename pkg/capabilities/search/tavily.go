package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TavilyURL is the search endpoint of the Tavily API.
const TavilyURL = "https://api.tavily.com/search"

// ErrMissingAPIKey is returned by Tavily when no key is configured.
var ErrMissingAPIKey = errors.New("tavily: API key is missing")

// TavilyOptions is decoded from the tavily_search options map.
type TavilyOptions struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Depth      string `mapstructure:"depth"` // basic or advanced
	MaxResults int    `mapstructure:"max_results"`
	// IncludeAnswer prepends Tavily's own short answer to the digest.
	IncludeAnswer bool `mapstructure:"include_answer"`
}

// Tavily calls the Tavily search API.
type Tavily struct {
	client *http.Client
	opts   TavilyOptions
}

// NewTavily constructs a Tavily provider.
func NewTavily(opts TavilyOptions) *Tavily {
	return NewTavilyWithClient(opts, &http.Client{Timeout: 10 * time.Second})
}

// NewTavilyWithClient constructs a Tavily provider using the supplied HTTP client.
func NewTavilyWithClient(opts TavilyOptions, client *http.Client) *Tavily {
	if opts.Endpoint == "" {
		opts.Endpoint = TavilyURL
	}
	if opts.Depth == "" {
		opts.Depth = "basic"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Tavily{client: client, opts: opts}
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(t.opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	payload, err := json.Marshal(map[string]any{
		"query":          query,
		"search_depth":   t.opts.Depth,
		"max_results":    t.opts.MaxResults,
		"include_answer": t.opts.IncludeAnswer,
	})
	if err != nil {
		return nil, err
	}

	resp, err := doWithBackoff(ctx, t.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: http %d", resp.StatusCode)
	}
	var body tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]Result, 0, len(body.Results)+1)
	if t.opts.IncludeAnswer && strings.TrimSpace(body.Answer) != "" {
		results = append(results, Result{Title: "Summary", Snippet: strings.TrimSpace(body.Answer)})
	}
	for _, r := range body.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= t.opts.MaxResults {
			break
		}
	}
	return results, nil
}
