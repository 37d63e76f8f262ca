package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aretw0/threadline/pkg/capabilities/search"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const litePage = `<html><body><table>
<tr><td><a rel="nofollow" href="https://weather.example/pune" class='result-link'>Pune Weather &amp; Forecast</a></td></tr>
<tr><td class='result-snippet'>Sunny, around <b>30°C</b> today.</td></tr>
<tr><td><a rel="nofollow" href="https://news.example/monsoon" class='result-link'>Monsoon update</a></td></tr>
<tr><td class='result-snippet'>Rain expected next week.</td></tr>
</table></body></html>`

func TestDuckDuckGo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "pune weather", r.PostForm.Get("q"))
		_, _ = w.Write([]byte(litePage))
	}))
	defer srv.Close()

	ddg := search.NewDuckDuckGoWithClient(search.DuckDuckGoOptions{Endpoint: srv.URL, Interval: -1}, srv.Client())
	results, err := ddg.Search(context.Background(), "pune weather")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, search.Result{
		Title:   "Pune Weather & Forecast",
		URL:     "https://weather.example/pune",
		Snippet: "Sunny, around 30°C today.",
	}, results[0])
	assert.Equal(t, "Monsoon update", results[1].Title)
}

func TestDuckDuckGo_LimitAndFallback(t *testing.T) {
	page := `<a href="/settings">Settings</a><a href="https://a.example/x">Alpha result</a>` +
		`<a href="https://b.example/y">Beta result</a><a href="https://a.example/x">Alpha result</a>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	ddg := search.NewDuckDuckGoWithClient(search.DuckDuckGoOptions{Endpoint: srv.URL, Interval: -1, MaxResults: 1}, srv.Client())
	results, err := ddg.Search(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://a.example/x", results[0].URL)
}

func TestDuckDuckGo_Errors(t *testing.T) {
	ddg := search.NewDuckDuckGo(search.DuckDuckGoOptions{Interval: -1})
	_, err := ddg.Search(context.Background(), "  ")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	ddg = search.NewDuckDuckGoWithClient(search.DuckDuckGoOptions{Endpoint: srv.URL, Interval: -1}, srv.Client())
	_, err = ddg.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "http 403")
}

func TestTavily(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ccc events", body["query"])
		assert.Equal(t, "advanced", body["search_depth"])
		_, _ = w.Write([]byte(`{"answer":"CCC runs monthly workshops.","results":[
			{"title":"CCC Events","url":"https://ccc.example/events","content":"Cloud workshop on Friday."},
			{"title":"CCC Blog","url":"https://ccc.example/blog","content":"Recap of the hackathon."}]}`))
	}))
	defer srv.Close()

	tv := search.NewTavilyWithClient(search.TavilyOptions{
		APIKey:        "tvly-test",
		Endpoint:      srv.URL,
		Depth:         "advanced",
		IncludeAnswer: true,
	}, srv.Client())
	results, err := tv.Search(context.Background(), "ccc events")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Summary", results[0].Title)
	assert.Equal(t, "CCC Events", results[1].Title)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTavily_MissingKey(t *testing.T) {
	_, err := search.NewTavily(search.TavilyOptions{}).Search(context.Background(), "q")
	assert.ErrorIs(t, err, search.ErrMissingAPIKey)
}

type fixed []search.Result

func (f fixed) Search(context.Context, string) ([]search.Result, error) { return f, nil }

type echo struct{ got string }

func (e *echo) Search(_ context.Context, q string) ([]search.Result, error) {
	e.got = q
	return nil, nil
}

func TestCapability(t *testing.T) {
	c := search.Capability{Provider: fixed{
		{Title: "One", URL: "https://one.example", Snippet: "first"},
		{Title: "Two"},
	}}
	out, err := c.Invoke(context.Background(), domain.Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "1. One\n   first\n   https://one.example\n2. Two", out)

	e := &echo{}
	out, err = search.Capability{Provider: e}.Invoke(context.Background(), domain.Request{
		Query: "turn query",
		Args:  map[string]any{"query": "argument query"},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "argument query", e.got)
}
