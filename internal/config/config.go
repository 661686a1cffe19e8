// Package config loads service configuration from config.yaml and CHAT_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

const envPrefix = "CHAT_"

type Config struct {
	Environment string          `koanf:"environment"`
	Server      ServerConfig    `koanf:"server"`
	Logging     LoggingConfig   `koanf:"logging"`
	LLM         LLMConfig       `koanf:"llm"`
	Storage     StorageConfig   `koanf:"storage"`
	Auth        AuthConfig      `koanf:"auth"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
	Telemetry   TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// LLMConfig configures the model catalog and the retry/fallback behaviour.
type LLMConfig struct {
	DefaultModel string                 `koanf:"default_model"`
	APIKey       string                 `koanf:"api_key"`
	BaseURL      string                 `koanf:"base_url"`
	MaxRetries   int                    `koanf:"max_retries"`
	TokenBudget  int                    `koanf:"token_budget"`
	FallbackCap  int                    `koanf:"fallback_cap"`
	SystemPrompt string                 `koanf:"system_prompt"`
	Backoff      BackoffConfig          `koanf:"backoff"`
	Models       []registry.ModelConfig `koanf:"models"`
}

type BackoffConfig struct {
	Multiplier float64       `koanf:"multiplier"`
	Min        time.Duration `koanf:"min"`
	Max        time.Duration `koanf:"max"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	Secret   string        `koanf:"secret"`
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// RateLimitConfig is applied per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"environment":                    "development",
	"server.port":                    8000,
	"server.request_timeout":         "60s",
	"logging.level":                  "info",
	"llm.default_model":              "gpt-4o-mini",
	"llm.base_url":                   "https://api.openai.com/v1",
	"llm.max_retries":                3,
	"llm.token_budget":               2000,
	"llm.fallback_cap":               30,
	"llm.system_prompt":              "You are a helpful assistant. Answer clearly and concisely.",
	"llm.backoff.multiplier":         1.0,
	"llm.backoff.min":                "2s",
	"llm.backoff.max":                "10s",
	"storage.type":                   "sqlite",
	"storage.sqlite.path":            "./data/chat.db",
	"auth.token_ttl":                 "720h",
	"rate_limit.requests_per_second": 1.0,
	"rate_limit.burst":               30,
	"telemetry.service_name":         "polyglot-chat-backend",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultPath when empty), then CHAT_ environment variables,
// then fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// CHAT_LLM__DEFAULT_MODEL -> llm.default_model
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.Auth.Secret = substituteEnvVars(cfg.Auth.Secret)
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = registry.DefaultCatalog(cfg.Environment)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the service runs in a local environment.
func (c *Config) IsDevelopment() bool {
	switch c.Environment {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q: want sqlite or memory", c.Storage.Type))
	}
	if c.Auth.Secret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("auth.secret is required outside development"))
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, errors.New("llm.max_retries must be at least 1"))
	}
	if c.LLM.Backoff.Min > c.LLM.Backoff.Max {
		errs = append(errs, fmt.Errorf("llm.backoff.min %s exceeds max %s", c.LLM.Backoff.Min, c.LLM.Backoff.Max))
	}
	for i, m := range c.LLM.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("llm.models[%d]: name is required", i))
		}
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
