package ai

import (
	"errors"

	"github.com/hrygo/storyreel/ai/resilience"
	"github.com/hrygo/storyreel/internal/profile"
)

// Config represents AI configuration of the memory service.
type Config struct {
	Embedding  EmbeddingConfig
	Resilience resilience.Config
	Enabled    bool
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // openai-compatible providers or gemini
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewConfigFromProfile creates AI config from profile.
// Enabled is false when no embedding provider can be reached.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsEmbeddingEnabled(),
		Embedding: EmbeddingConfig{
			Provider:   p.EmbeddingProvider,
			Model:      p.EmbeddingModel,
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
			Dimensions: p.EmbeddingDimensions,
		},
		Resilience: resilience.DefaultConfig(),
	}

	if p.EmbeddingMaxAttempts > 0 {
		cfg.Resilience.Retry.MaxAttempts = p.EmbeddingMaxAttempts
	}
	if p.EmbeddingBaseDelay > 0 {
		cfg.Resilience.Retry.BaseDelay = p.EmbeddingBaseDelay
	}
	if p.EmbeddingMaxDelay > 0 {
		cfg.Resilience.Retry.MaxDelay = p.EmbeddingMaxDelay
	}
	if p.EmbeddingBreakerThreshold > 0 {
		cfg.Resilience.BreakerThreshold = p.EmbeddingBreakerThreshold
	}
	if p.EmbeddingBreakerCooldown > 0 {
		cfg.Resilience.BreakerCooldown = p.EmbeddingBreakerCooldown
	}
	if p.EmbeddingRatePerSecond > 0 {
		cfg.Resilience.RatePerSecond = p.EmbeddingRatePerSecond
	}
	if p.EmbeddingRateBurst > 0 {
		cfg.Resilience.RateBurst = p.EmbeddingRateBurst
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}

	if c.Embedding.Dimensions < 0 {
		return errors.New("embedding dimensions cannot be negative")
	}

	return nil
}
