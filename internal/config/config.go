// Package config loads the threadline configuration.
//
// Values are resolved in order: defaults, the YAML file, environment
// variables, and finally command-line flags applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/capabilities"
	"github.com/aretw0/threadline/pkg/llm"
	"github.com/aretw0/threadline/pkg/persistence/middleware"
	"github.com/aretw0/threadline/pkg/session"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration document.
type Config struct {
	LLM          llm.Config          `yaml:"llm"`
	Embeddings   EmbeddingsConfig    `yaml:"embeddings"`
	Server       ServerConfig        `yaml:"server"`
	Store        StoreConfig         `yaml:"store"`
	Engine       EngineConfig        `yaml:"engine"`
	Log          LogConfig           `yaml:"log"`
	Capabilities []capabilities.Spec `yaml:"capabilities"`
}

// EmbeddingsConfig enables embedding ranking for knowledge retrieval.
// Only Gemini embeddings are supported; an empty APIKey disables them.
type EmbeddingsConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

// StoreConfig selects the checkpoint store and its protections.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`

	// EncryptionKey is a base64 AES-256 key. Empty disables encryption
	// unless a passphrase is set.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`

	// Passphrase derives the key with scrypt over Salt when EncryptionKey is empty.
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`

	// Redact lists patterns masked before writing. "default" selects
	// the built-in e-mail and phone patterns.
	Redact []string `yaml:"redact"`
}

// RedisConfig configures the Redis store and the distributed lease.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// EngineConfig tunes the turn pipeline.
type EngineConfig struct {
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	HistoryWindow  int           `yaml:"history_window"`
	InvocationCap  int           `yaml:"invocation_cap"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	ToolTranscript bool          `yaml:"tool_transcript"`
	MaxInputSize   int           `yaml:"max_input_size"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LLM: llm.Config{
			Provider:    llm.ProviderOpenRouter,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "threadline:"},
		},
		Engine: EngineConfig{
			LeaseTTL:      2 * time.Minute,
			HistoryWindow: 6,
			InvocationCap: 2,
			ToolTimeout:   15 * time.Second,
			MaxInputSize:  4000,
		},
		Log:          LogConfig{Level: "info", Format: FormatText},
		Capabilities: capabilities.DefaultSpecs(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Read is Load without validation, for callers that apply further
// overrides first.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Decode reads YAML from r into cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Driver {
	case StoreMemory, StoreFile:
	case StoreSQLite:
		if c.Store.Path == "" {
			add("store.path is required for the sqlite driver")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			add("store.redis.addr is required for the redis driver")
		}
	default:
		add("store.driver %q is not one of memory, file, sqlite, redis", c.Store.Driver)
	}

	if c.Store.EncryptionKey != "" && c.Store.Passphrase != "" {
		add("store.encryption_key and store.passphrase are mutually exclusive")
	}
	if c.Store.Passphrase != "" && len(c.Store.Salt) < middleware.MinSaltSize {
		add("store.salt must be at least %d bytes when store.passphrase is set", middleware.MinSaltSize)
	}

	if c.Engine.LeaseTTL < session.MinLeaseTTL {
		add("engine.lease_ttl must be at least %s", session.MinLeaseTTL)
	}
	if c.Engine.HistoryWindow < 0 {
		add("engine.history_window must not be negative")
	}
	if c.Engine.InvocationCap < 1 {
		add("engine.invocation_cap must be at least 1")
	}
	if c.Engine.ToolTimeout < 0 {
		add("engine.tool_timeout must not be negative")
	}
	if c.Engine.MaxInputSize < 0 {
		add("engine.max_input_size must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", FormatText, FormatJSON:
	default:
		add("log.format %q is not one of text, json", c.Log.Format)
	}

	seen := make(map[string]bool)
	for i, s := range c.Capabilities {
		if s.Name == "" {
			add("capabilities[%d].name is required", i)
			continue
		}
		if seen[string(s.Name)] {
			add("capabilities[%d]: duplicate capability %s", i, s.Name)
		}
		seen[string(s.Name)] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
