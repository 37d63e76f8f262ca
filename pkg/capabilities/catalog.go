// Package capabilities assembles the capability registry from configuration.
//
// Each Spec names one member of the closed capability set and carries an
// untyped options map, which is decoded into the options struct of the
// implementing package.
package capabilities

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/capabilities/code"
	"github.com/aretw0/threadline/pkg/capabilities/knowledge"
	"github.com/aretw0/threadline/pkg/capabilities/search"
	"github.com/aretw0/threadline/pkg/capabilities/weather"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/aretw0/threadline/pkg/registry"
	"github.com/mitchellh/mapstructure"
)

// Spec configures one capability.
type Spec struct {
	Name          domain.CapabilityName `yaml:"name" mapstructure:"name"`
	Description   string                `yaml:"description" mapstructure:"description"`
	Disabled      bool                  `yaml:"disabled" mapstructure:"disabled"`
	Timeout       time.Duration         `yaml:"timeout" mapstructure:"timeout"`
	Retry         registry.RetryPolicy  `yaml:"retry" mapstructure:"retry"`
	Supplementary *bool                 `yaml:"supplementary" mapstructure:"supplementary"`
	Options       map[string]any        `yaml:"options" mapstructure:"options"`
}

// Deps are shared collaborators of the capability implementations.
type Deps struct {
	// Embedder enables embedding ranking for knowledge retrieval.
	Embedder knowledge.Embedder
	// HTTPClient overrides the clients of the network capabilities.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var descriptions = map[domain.CapabilityName]string{
	domain.CapabilityWeather:         "Fetches real-time weather information for a city",
	domain.CapabilityWebSearch:       "Performs general web search for up-to-date information",
	domain.CapabilityTavilySearch:    "High-quality AI-optimized web search",
	domain.CapabilityCodeExecutor:    "Safely executes code snippets and returns output",
	domain.CapabilityRetrieveInfo:    "Retrieves general CCC society information",
	domain.CapabilityRetrieveDomains: "Fetches CCC technical domains and details",
	domain.CapabilityRetrieveEvents:  "Retrieves past and upcoming CCC events",
	domain.CapabilityRetrieveFAQs:    "Answers frequently asked CCC-related questions",
	domain.CapabilityRetrieveMembers: "Fetches CCC members and alumni information",
	domain.CapabilityRetrieveFaculty: "Retrieves faculty coordinators and mentors",
}

var domains = map[domain.CapabilityName]domain.CapabilityDomain{
	domain.CapabilityWeather:      domain.DomainWeather,
	domain.CapabilityWebSearch:    domain.DomainWebSearch,
	domain.CapabilityTavilySearch: domain.DomainWebSearch,
	domain.CapabilityCodeExecutor: domain.DomainCodeExecution,
}

// Description returns the default description of a capability.
func Description(name domain.CapabilityName) string {
	return descriptions[name]
}

// DefaultSpecs enables the capabilities that need no credentials or corpus.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: domain.CapabilityWeather},
		{Name: domain.CapabilityWebSearch},
	}
}

// Build constructs every enabled capability and the immutable registry.
// Problems are reported together as domain.ErrRegistryMisconfigured.
func Build(specs []Spec, deps Deps) (*registry.Registry, error) {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	b := &builder{deps: deps, retrievers: make(map[string]*knowledge.Retriever)}

	var entries []registry.Entry
	var errs []error
	for _, s := range specs {
		if s.Disabled {
			continue
		}
		impl, err := b.build(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("capability %s: %w", s.Name, err))
			continue
		}
		entries = append(entries, registry.Entry{Contract: contract(s), Capability: impl})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistryMisconfigured, errors.Join(errs...))
	}
	return registry.New(entries...)
}

func contract(s Spec) registry.Contract {
	c := registry.Contract{
		Name:        s.Name,
		Domain:      domains[s.Name],
		Description: s.Description,
		Timeout:     s.Timeout,
		Retry:       s.Retry,
		// Search results can be complemented by other sources.
		Supplementary: domains[s.Name] == domain.DomainWebSearch,
	}
	if c.Domain == "" && s.Name.IsRetrieval() {
		c.Domain = domain.DomainKnowledge
	}
	if c.Description == "" {
		c.Description = descriptions[s.Name]
	}
	if s.Supplementary != nil {
		c.Supplementary = *s.Supplementary
	}
	return c
}

type builder struct {
	deps       Deps
	retrievers map[string]*knowledge.Retriever // by corpus path
}

func (b *builder) build(s Spec) (ports.Capability, error) {
	switch s.Name {
	case domain.CapabilityWeather:
		var o weather.Options
		if err := decode(s.Options, &o); err != nil {
			return nil, err
		}
		if b.deps.HTTPClient != nil {
			return weather.NewWithClient(o, b.deps.HTTPClient), nil
		}
		return weather.New(o), nil

	case domain.CapabilityWebSearch:
		var o search.DuckDuckGoOptions
		if err := decode(s.Options, &o); err != nil {
			return nil, err
		}
		if b.deps.HTTPClient != nil {
			return search.Capability{Provider: search.NewDuckDuckGoWithClient(o, b.deps.HTTPClient)}, nil
		}
		return search.Capability{Provider: search.NewDuckDuckGo(o)}, nil

	case domain.CapabilityTavilySearch:
		var o search.TavilyOptions
		if err := decode(s.Options, &o); err != nil {
			return nil, err
		}
		if o.APIKey == "" {
			return nil, search.ErrMissingAPIKey
		}
		if b.deps.HTTPClient != nil {
			return search.Capability{Provider: search.NewTavilyWithClient(o, b.deps.HTTPClient)}, nil
		}
		return search.Capability{Provider: search.NewTavily(o)}, nil

	case domain.CapabilityCodeExecutor:
		var o code.Options
		if err := decode(s.Options, &o); err != nil {
			return nil, err
		}
		return code.New(o), nil
	}

	section, ok := knowledge.SectionFor(s.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCapability, s.Name)
	}
	var o knowledge.Options
	if err := decode(s.Options, &o); err != nil {
		return nil, err
	}
	r, err := b.retriever(o)
	if err != nil {
		return nil, err
	}
	return r.Capability(section), nil
}

// retriever shares one corpus and embedding cache across the retrieval capabilities.
func (b *builder) retriever(o knowledge.Options) (*knowledge.Retriever, error) {
	if o.Corpus == "" {
		return nil, errors.New("options.corpus is required")
	}
	if r, ok := b.retrievers[o.Corpus]; ok {
		return r, nil
	}
	c, err := knowledge.LoadCorpus(o.Corpus)
	if err != nil {
		return nil, err
	}
	ropts := []knowledge.RetrieverOption{knowledge.WithLogger(b.deps.Logger)}
	if b.deps.Embedder != nil {
		ropts = append(ropts, knowledge.WithEmbedder(b.deps.Embedder))
	}
	r := knowledge.NewRetriever(c, o, ropts...)
	b.retrievers[o.Corpus] = r
	return r, nil
}

// decode maps an options map onto a typed struct. Unknown keys are errors.
func decode(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}
