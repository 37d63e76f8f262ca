package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/threadline/internal/config"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Engine.InvocationCap)
	assert.Len(t, cfg.Capabilities, 2)
}

func TestDecode(t *testing.T) {
	cfg := config.Default()
	err := config.Decode(strings.NewReader(`
llm:
  provider: anthropic
  model: claude-3-5-haiku-latest
  timeout: 30s
store:
  driver: sqlite
  path: threads.db
engine:
  history_window: 4
  tool_timeout: 5s
  tool_transcript: true
capabilities:
  - name: get_weather
    timeout: 3s
    options:
      units: fahrenheit
  - name: retrieve_faqs_tool
    retry:
      max_attempts: 2
      backoff: 200ms
    options:
      corpus: ./corpus.yaml
`), &cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts, "unset fields keep their defaults")
	assert.Equal(t, config.StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Engine.HistoryWindow)
	assert.Equal(t, 2, cfg.Engine.InvocationCap)
	assert.True(t, cfg.Engine.ToolTranscript)

	require.Len(t, cfg.Capabilities, 2)
	assert.Equal(t, domain.CapabilityWeather, cfg.Capabilities[0].Name)
	assert.Equal(t, 3*time.Second, cfg.Capabilities[0].Timeout)
	assert.Equal(t, "fahrenheit", cfg.Capabilities[0].Options["units"])
	assert.Equal(t, 2, cfg.Capabilities[1].Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Capabilities[1].Retry.Backoff)
}

func TestDecode_UnknownKey(t *testing.T) {
	cfg := config.Default()
	err := config.Decode(strings.NewReader("engine:\n  invocaton_cap: 3\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invocaton_cap")
}

func TestDecode_Empty(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.Decode(strings.NewReader("  \n"), &cfg))
	assert.Equal(t, config.Default(), cfg)
}

func TestValidate_Aggregates(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	cfg.Engine.InvocationCap = 0
	cfg.Engine.LeaseTTL = 0
	cfg.Log.Format = "xml"
	cfg.Log.Level = "loud"
	cfg.Capabilities = append(cfg.Capabilities, cfg.Capabilities[0], config.Default().Capabilities[0])
	cfg.Capabilities[0].Name = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	for _, want := range []string{
		"store.path is required",
		"engine.invocation_cap",
		"engine.lease_ttl",
		`log.format "xml"`,
		`unknown log level "loud"`,
		"capabilities[0].name is required",
		"duplicate capability get_weather",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_Passphrase(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Passphrase = "correct horse"
	cfg.Store.Salt = "salty"
	assert.ErrorContains(t, cfg.Validate(), "store.salt must be at least 8 bytes")

	cfg.Store.Salt = "threadline-salt"
	require.NoError(t, cfg.Validate())

	cfg.Store.EncryptionKey = "a2V5"
	assert.ErrorContains(t, cfg.Validate(), "mutually exclusive")
}

func TestValidate_LeaseTTL(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.LeaseTTL = 500 * time.Millisecond
	assert.ErrorContains(t, cfg.Validate(), "engine.lease_ttl must be at least 1s")

	cfg.Engine.LeaseTTL = time.Second
	require.NoError(t, cfg.Validate())
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"
	assert.ErrorContains(t, cfg.Validate(), `store.driver "mongo"`)
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	cfg.ApplyEnv(env(map[string]string{
		"THREADLINE_LLM_MODEL":       "openai/gpt-4o-mini",
		"THREADLINE_STORE":           "redis",
		"THREADLINE_REDIS_ADDR":      "cache:6379",
		"THREADLINE_REDIS_DB":        "2",
		"THREADLINE_LEASE_TTL":       "30s",
		"THREADLINE_TOOL_TIMEOUT":    "not-a-duration",
		"THREADLINE_TOOL_TRANSCRIPT": "true",
		"PORT":                       "9090",
		"OPENROUTER_API_KEY":         "or-key",
		"GOOGLE_API_KEY":             "g-key",
	}))

	assert.Equal(t, "openai/gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "or-key", cfg.LLM.APIKey)
	assert.Equal(t, "g-key", cfg.Embeddings.APIKey)
	assert.Equal(t, config.StoreRedis, cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Engine.LeaseTTL)
	assert.Equal(t, 15*time.Second, cfg.Engine.ToolTimeout, "malformed values are ignored")
	assert.True(t, cfg.Engine.ToolTranscript)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestApplyEnv_ExplicitWins(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = llm.ProviderAnthropic
	cfg.ApplyEnv(env(map[string]string{
		"THREADLINE_LLM_API_KEY": "explicit",
		"ANTHROPIC_API_KEY":      "conventional",
		"THREADLINE_ADDR":        ":7000",
		"PORT":                   "9090",
	}))
	assert.Equal(t, "explicit", cfg.LLM.APIKey)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestApplyEnv_TavilyKey(t *testing.T) {
	cfg := config.Default()
	cfg.Capabilities = append(cfg.Capabilities, config.Default().Capabilities[0])
	cfg.Capabilities[2].Name = domain.CapabilityTavilySearch

	cfg.ApplyEnv(env(map[string]string{"TAVILY_API_KEY": "tvly-env"}))
	assert.Equal(t, "tvly-env", cfg.Capabilities[2].Options["api_key"])
	assert.Nil(t, cfg.Capabilities[0].Options)

	cfg.Capabilities[2].Options["api_key"] = "tvly-file"
	cfg.ApplyEnv(env(map[string]string{"TAVILY_API_KEY": "tvly-env"}))
	assert.Equal(t, "tvly-file", cfg.Capabilities[2].Options["api_key"])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	t.Setenv("THREADLINE_LOG_FORMAT", "json")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.FormatJSON, cfg.Log.Format)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
