package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DuckDuckGoLiteURL is the HTML lite endpoint, which is stable enough to scrape.
const DuckDuckGoLiteURL = "https://lite.duckduckgo.com/lite/"

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ddgRateLimit allows one query per second across all DuckDuckGo instances.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGoOptions is decoded from the web_search options map.
type DuckDuckGoOptions struct {
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
	// Interval between queries. Zero means one second; negative disables the limit.
	Interval time.Duration `mapstructure:"interval"`
}

// DuckDuckGo searches without an API key.
type DuckDuckGo struct {
	client *http.Client
	opts   DuckDuckGoOptions
}

// NewDuckDuckGo creates a searcher with a modest timeout.
func NewDuckDuckGo(opts DuckDuckGoOptions) *DuckDuckGo {
	return NewDuckDuckGoWithClient(opts, &http.Client{Timeout: 15 * time.Second})
}

// NewDuckDuckGoWithClient creates a searcher using the supplied HTTP client.
func NewDuckDuckGoWithClient(opts DuckDuckGoOptions, client *http.Client) *DuckDuckGo {
	if opts.Endpoint == "" {
		opts.Endpoint = DuckDuckGoLiteURL
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	return &DuckDuckGo{client: client, opts: opts}
}

// Search posts the query to the lite page and scrapes the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is empty")
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	resp, err := doWithBackoff(ctx, d.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.Endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: read response: %w", err)
	}
	return parseLite(string(body), d.opts.MaxResults), nil
}

func (d *DuckDuckGo) wait(ctx context.Context) error {
	if d.opts.Interval < 0 {
		return nil
	}
	ddgRateLimit.mu.Lock()
	defer ddgRateLimit.mu.Unlock()
	if wait := time.Until(ddgRateLimit.last.Add(d.opts.Interval)); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ddgRateLimit.last = time.Now()
	return nil
}

var (
	// <a rel="nofollow" href="URL" class='result-link'>TITLE</a>, attributes in either order.
	linkHrefFirst  = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>(.*?)</a>`)
	linkClassFirst = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>(.*?)</a>`)
	snippetCell    = regexp.MustCompile(`(?s)<td[^>]*class=['"]result-snippet['"][^>]*>(.*?)</td>`)
	anyLink        = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	tag            = regexp.MustCompile(`<[^>]+>`)
)

// parseLite extracts result links and their snippets from the lite page.
func parseLite(page string, limit int) []Result {
	links := linkClassFirst.FindAllStringSubmatch(page, -1)
	if len(links) == 0 {
		links = linkHrefFirst.FindAllStringSubmatch(page, -1)
	}
	snippets := snippetCell.FindAllStringSubmatch(page, -1)

	var results []Result
	for i, m := range links {
		link, title := strings.TrimSpace(m[1]), cleanHTML(m[2])
		if link == "" || title == "" {
			continue
		}
		r := Result{Title: title, URL: link}
		if i < len(snippets) {
			r.Snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, r)
		if len(results) == limit {
			return results
		}
	}
	if len(results) == 0 {
		return fallbackLinks(page, limit)
	}
	return results
}

// fallbackLinks keeps external links when the result markup is not recognised.
func fallbackLinks(page string, limit int) []Result {
	var results []Result
	seen := make(map[string]bool)
	for _, m := range anyLink.FindAllStringSubmatch(page, -1) {
		link, title := strings.TrimSpace(m[1]), cleanHTML(m[2])
		if strings.Contains(link, "duckduckgo.com") ||
			strings.HasPrefix(link, "/") ||
			strings.HasPrefix(link, "#") ||
			strings.HasPrefix(link, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[link] {
			continue
		}
		seen[link] = true
		results = append(results, Result{Title: title, URL: link})
		if len(results) == limit {
			break
		}
	}
	return results
}

func cleanHTML(s string) string {
	s = tag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
