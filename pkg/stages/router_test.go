package stages_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/threadline/internal/testutils"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/registry"
	"github.com/aretw0/threadline/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	weather *testutils.Capability
	web     *testutils.Capability
	tavily  *testutils.Capability
	faqs    *testutils.Capability
	reg     *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		weather: testutils.Returns("Pune: 31°C, clear sky"),
		web:     testutils.Returns("web: Pune forecast 30°C"),
		tavily:  testutils.Returns("tavily: Pune is warm"),
		faqs:    testutils.Returns("CCC meets on Fridays"),
	}
	reg, err := registry.New(
		registry.Entry{Contract: registry.Contract{Name: domain.CapabilityWeather, Domain: domain.DomainWeather, Timeout: 50 * time.Millisecond}, Capability: f.weather},
		registry.Entry{Contract: registry.Contract{Name: domain.CapabilityWebSearch, Domain: domain.DomainWebSearch, Supplementary: true}, Capability: f.web},
		registry.Entry{Contract: registry.Contract{Name: domain.CapabilityTavilySearch, Domain: domain.DomainWebSearch, Supplementary: true}, Capability: f.tavily},
		registry.Entry{Contract: registry.Contract{Name: domain.CapabilityRetrieveFAQs, Domain: domain.DomainKnowledge}, Capability: f.faqs},
	)
	require.NoError(t, err)
	f.reg = reg
	return f
}

func route(t *testing.T, f *fixture, classification string, opts ...stages.Option) (domain.Delta, *testutils.Generator) {
	t.Helper()
	gen := testutils.NewGenerator().Say(domain.PurposeRoute, classification)
	s := newTurn("What's the weather in Pune?")
	s.Verdict = domain.VerdictInsufficient
	d, err := stages.NewToolRouter(gen, f.reg, opts...).Run(context.Background(), s)
	require.NoError(t, err)
	return d, gen
}

func TestToolRouter_SufficientSkipsTools(t *testing.T) {
	f := newFixture(t)
	gen := testutils.NewGenerator()
	s := newTurn("q")
	s.Verdict = domain.VerdictSufficient

	d, err := stages.NewToolRouter(gen, f.reg).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.Empty(t, gen.Calls())
	assert.Zero(t, f.weather.Calls())
}

func TestToolRouter_SingleToolSufficiency(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `[{"name":"get_weather","args":{"city":"Pune"}},{"name":"web_search"}]`)

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWeather}, d.SelectedCapabilities)
	require.Len(t, d.RetrievedContext, 1)
	assert.Equal(t, "Pune: 31°C, clear sky", d.RetrievedContext[0].Text)
	assert.Nil(t, d.NoContext)
	assert.Zero(t, f.web.Calls())

	req := f.weather.Requests()[0]
	assert.Equal(t, "What's the weather in Pune?", req.Query)
	assert.Equal(t, "Pune", req.Args["city"])
}

func TestToolRouter_TimeoutFallsBack(t *testing.T) {
	f := newFixture(t)
	f.weather.Delay = time.Second

	d, _ := route(t, f, "```json\n[\"get_weather\", \"web_search\"]\n```")

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch}, d.SelectedCapabilities)
	require.Len(t, d.RetrievedContext, 1)
	assert.Equal(t, domain.CapabilityWebSearch, d.RetrievedContext[0].Source)
	require.Len(t, d.Attempts, 2)
	assert.Equal(t, domain.StatusTimeout, d.Attempts[0].Status)
	assert.Equal(t, domain.StatusOK, d.Attempts[1].Status)
	assert.Nil(t, d.NoContext)
}

func TestToolRouter_SupplementaryUpToCap(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `["web_search","tavily_search","get_weather"]`)

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch, domain.CapabilityTavilySearch}, d.SelectedCapabilities)
	assert.Len(t, d.RetrievedContext, 2)
	assert.Len(t, d.Attempts, 2)
	assert.Zero(t, f.weather.Calls())

	f = newFixture(t)
	d, _ = route(t, f, `["web_search","tavily_search","retrieve_faqs_tool"]`, stages.WithInvocationCap(3))
	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch, domain.CapabilityTavilySearch, domain.CapabilityRetrieveFAQs}, d.SelectedCapabilities)
}

func TestToolRouter_CapCountsFailedCalls(t *testing.T) {
	f := newFixture(t)
	f.weather.Delay = time.Second

	d, _ := route(t, f, `["get_weather","web_search","tavily_search"]`)

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch}, d.SelectedCapabilities)
	require.Len(t, d.RetrievedContext, 1)
	assert.Equal(t, domain.CapabilityWebSearch, d.RetrievedContext[0].Source)
	require.Len(t, d.Attempts, 2)
	assert.Equal(t, domain.StatusTimeout, d.Attempts[0].Status)
	assert.Zero(t, f.tavily.Calls())
}

func TestToolRouter_FailuresFallThroughPastCap(t *testing.T) {
	f := newFixture(t)
	f.weather.Err = errors.New("upstream 500")
	f.faqs.Err = errors.New("corpus missing")

	d, _ := route(t, f, `["get_weather","retrieve_faqs_tool","web_search","tavily_search"]`)

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch}, d.SelectedCapabilities)
	assert.Len(t, d.Attempts, 3)
	assert.Nil(t, d.NoContext)
	assert.Zero(t, f.tavily.Calls())
}

func TestToolRouter_InvocationCapOption(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `["web_search","tavily_search"]`, stages.WithInvocationCap(1))
	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch}, d.SelectedCapabilities)
	assert.Zero(t, f.tavily.Calls())
}

func TestToolRouter_UnknownNamesDiscarded(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `[{"name":"launch_rockets"},{"name":"code_executor"},{"name":"retrieve_faqs_tool"}]`)

	// code_executor is a known name but not registered here.
	assert.Equal(t, []domain.CapabilityName{domain.CapabilityRetrieveFAQs}, d.SelectedCapabilities)
	require.Len(t, d.Attempts, 1)
}

func TestToolRouter_OnlyUnknownNamesUsesSearch(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `["launch_rockets","code_executor"]`)

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch, domain.CapabilityTavilySearch}, d.SelectedCapabilities)
	assert.Contains(t, d.Degraded, "tools: no registered capability classified")
	assert.Zero(t, f.weather.Calls())
}

func TestToolRouter_AllFail(t *testing.T) {
	f := newFixture(t)
	f.weather.Err = errors.New("upstream 500")
	f.web.Payload = "   "

	d, _ := route(t, f, `["get_weather","web_search"]`)

	assert.Empty(t, d.RetrievedContext)
	assert.Empty(t, d.SelectedCapabilities)
	require.NotNil(t, d.NoContext)
	assert.True(t, *d.NoContext)
	require.Len(t, d.Attempts, 2)
	assert.Equal(t, domain.StatusInvocationError, d.Attempts[0].Status)
	assert.Equal(t, domain.StatusInvalidResponse, d.Attempts[1].Status)
}

func TestToolRouter_NoToolNeeded(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, `[]`)
	assert.True(t, d.IsEmpty())
}

func TestToolRouter_ClassificationFailureUsesSearch(t *testing.T) {
	f := newFixture(t)
	d, _ := route(t, f, "I think you should check the weather")

	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWebSearch, domain.CapabilityTavilySearch}, d.SelectedCapabilities)
	assert.Contains(t, d.Degraded, "tools: classification failed")
}

func TestToolRouter_Hooks(t *testing.T) {
	f := newFixture(t)
	f.weather.Err = errors.New("down")

	var mu sync.Mutex
	var calls []domain.CapabilityName
	var returns []domain.Status
	hooks := domain.LifecycleHooks{
		OnCapabilityCall: func(_ context.Context, e *domain.CapabilityEvent) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, e.Capability)
		},
		OnCapabilityReturn: func(_ context.Context, e *domain.CapabilityEvent) {
			mu.Lock()
			defer mu.Unlock()
			returns = append(returns, e.Status)
		},
	}

	route(t, f, `["get_weather","web_search"]`, stages.WithHooks(hooks))
	assert.Equal(t, []domain.CapabilityName{domain.CapabilityWeather, domain.CapabilityWebSearch}, calls)
	assert.Equal(t, []domain.Status{domain.StatusInvocationError, domain.StatusOK}, returns)
}

func TestToolRouter_PromptListsRegistry(t *testing.T) {
	f := newFixture(t)
	_, gen := route(t, f, `[]`)
	prompt := gen.CallsFor(domain.PurposeRoute)[0].Messages[0].Content
	assert.Contains(t, prompt, "get_weather (weather)")
	assert.Contains(t, prompt, "retrieve_faqs_tool (knowledge)")
	assert.NotContains(t, prompt, "code_executor")
}
