package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
)

// EnvPrefix prefixes every threadline environment variable.
const EnvPrefix = "THREADLINE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// providerKeys are the conventional credential variables of each backend,
// consulted when no key was configured.
var providerKeys = map[string][]string{
	llm.ProviderOpenRouter: {"OPENROUTER_API_KEY"},
	llm.ProviderOpenAI:     {"OPENAI_API_KEY"},
	llm.ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	llm.ProviderGemini:     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ApplyEnv overrides fields from THREADLINE_* variables and fills missing
// credentials from the conventional provider variables.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	dur("LLM_TIMEOUT", &c.LLM.Timeout)

	str("EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)
	str("EMBEDDINGS_MODEL", &c.Embeddings.Model)

	str("ADDR", &c.Server.Addr)
	if port, ok := lookup("PORT"); ok && port != "" {
		if _, ok := lookup(EnvPrefix + "ADDR"); !ok {
			c.Server.Addr = ":" + port
		}
	}

	str("STORE", &c.Store.Driver)
	str("STORE_PATH", &c.Store.Path)
	str("STORE_ENCRYPTION_KEY", &c.Store.EncryptionKey)
	str("STORE_PASSPHRASE", &c.Store.Passphrase)
	str("STORE_SALT", &c.Store.Salt)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	num("REDIS_DB", &c.Store.Redis.DB)

	dur("LEASE_TTL", &c.Engine.LeaseTTL)
	num("HISTORY_WINDOW", &c.Engine.HistoryWindow)
	num("INVOCATION_CAP", &c.Engine.InvocationCap)
	dur("TOOL_TIMEOUT", &c.Engine.ToolTimeout)
	flag("TOOL_TRANSCRIPT", &c.Engine.ToolTranscript)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if c.LLM.APIKey == "" {
		provider := strings.ToLower(c.LLM.Provider)
		if provider == "" {
			provider = llm.ProviderOpenRouter
		}
		c.LLM.APIKey = first(lookup, providerKeys[provider]...)
	}
	if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = first(lookup, providerKeys[llm.ProviderGemini]...)
	}
	if key := first(lookup, "TAVILY_API_KEY"); key != "" {
		c.setOption(domain.CapabilityTavilySearch, "api_key", key)
	}
}

// setOption fills an option of the named capability when it is unset.
func (c *Config) setOption(name domain.CapabilityName, key, value string) {
	for i := range c.Capabilities {
		if c.Capabilities[i].Name != name {
			continue
		}
		if c.Capabilities[i].Options == nil {
			c.Capabilities[i].Options = make(map[string]any)
		}
		if _, ok := c.Capabilities[i].Options[key]; !ok {
			c.Capabilities[i].Options[key] = value
		}
	}
}

func first(lookup LookupFunc, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}
