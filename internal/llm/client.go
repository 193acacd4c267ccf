// Package llm provides the optional text generator used to polish
// evidence summaries. Nothing in the engine requires it: a nil Generator
// means deterministic output.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider represents the LLM provider
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// Generator turns a prompt into text
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// Config selects and tunes the provider
type Config struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	OpenAIKey   string        `mapstructure:"openai_api_key" yaml:"-"`
	GeminiKey   string        `mapstructure:"gemini_api_key" yaml:"-"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Shared quota across processes; empty disables it
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RPM       int64  `mapstructure:"rpm" yaml:"rpm"`
	TPM       int64  `mapstructure:"tpm" yaml:"tpm"`
	RPD       int64  `mapstructure:"rpd" yaml:"rpd"`
}

const (
	defaultMaxTokens   = 400
	defaultTemperature = 0.1
)

// New builds the configured generator. It returns (nil, nil) when no
// provider is configured or the provider's key is missing, so callers can
// treat "disabled" and "not configured" the same way.
func New(ctx context.Context, cfg Config) (Generator, error) {
	logger := slog.Default().With("component", "llm")

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}

	var gen Generator
	switch Provider(cfg.Provider) {
	case "", ProviderNone:
		logger.Debug("text generation disabled")
		return nil, nil
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			logger.Warn("openai selected but no API key configured, using deterministic evidence")
			return nil, nil
		}
		gen = NewOpenAIGenerator(cfg)
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			logger.Warn("gemini selected but no API key configured, using deterministic evidence")
			return nil, nil
		}
		g, err := NewGeminiGenerator(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini generator: %w", err)
		}
		gen = g
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}

	if cfg.RedisAddr != "" {
		limiter, err := NewRateLimiter(cfg.RedisAddr, cfg.RPM, cfg.TPM, cfg.RPD)
		if err != nil {
			logger.Warn("quota limiter unavailable, generating without shared quota", "error", err)
		} else {
			gen = WithRateLimit(gen, limiter, cfg.MaxTokens)
		}
	}

	logger.Info("text generator initialized", "provider", gen.Name())
	return gen, nil
}
