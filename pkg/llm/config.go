package llm

import "time"

// Provider names accepted by the provider factory.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config selects and configures a generation backend.
type Config struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultMaxTokens applies when neither the prompt nor the config sets a limit.
const DefaultMaxTokens = 1024

// MaxTokensFor resolves the output limit of a prompt.
func MaxTokensFor(promptMax, configMax int) int {
	switch {
	case promptMax > 0:
		return promptMax
	case configMax > 0:
		return configMax
	}
	return DefaultMaxTokens
}
