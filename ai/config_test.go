package ai

import (
	"testing"
	"time"

	"github.com/hrygo/storyreel/internal/profile"
)

// TestNewConfigFromProfile_SiliconFlow tests SiliconFlow configuration.
func TestNewConfigFromProfile_SiliconFlow(t *testing.T) {
	prof := &profile.Profile{
		EmbeddingProvider:   "siliconflow",
		EmbeddingModel:      "BAAI/bge-m3",
		EmbeddingAPIKey:     "test-key",
		EmbeddingBaseURL:    "https://api.siliconflow.cn/v1",
		EmbeddingDimensions: 1024,
	}

	cfg := NewConfigFromProfile(prof)

	if !cfg.Enabled {
		t.Errorf("Expected Enabled=true, got false")
	}
	if cfg.Embedding.Provider != "siliconflow" {
		t.Errorf("Expected Embedding.Provider=siliconflow, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "BAAI/bge-m3" {
		t.Errorf("Expected Embedding.Model=BAAI/bge-m3, got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.BaseURL != "https://api.siliconflow.cn/v1" {
		t.Errorf("Expected Embedding.BaseURL=https://api.siliconflow.cn/v1, got %s", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("Expected Embedding.Dimensions=1024, got %d", cfg.Embedding.Dimensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

// TestNewConfigFromProfile_Resilience tests that profile overrides reach the policy.
func TestNewConfigFromProfile_Resilience(t *testing.T) {
	prof := &profile.Profile{
		EmbeddingProvider:         "openai",
		EmbeddingModel:            "text-embedding-3-small",
		EmbeddingAPIKey:           "sk-test",
		EmbeddingMaxAttempts:      5,
		EmbeddingBaseDelay:        time.Second,
		EmbeddingBreakerThreshold: 7,
		EmbeddingRatePerSecond:    2.5,
	}

	cfg := NewConfigFromProfile(prof)

	if cfg.Resilience.Retry.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got %d", cfg.Resilience.Retry.MaxAttempts)
	}
	if cfg.Resilience.Retry.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", cfg.Resilience.Retry.BaseDelay)
	}
	if cfg.Resilience.Retry.MaxDelay != 8*time.Second {
		t.Errorf("Expected default MaxDelay=8s, got %v", cfg.Resilience.Retry.MaxDelay)
	}
	if cfg.Resilience.BreakerThreshold != 7 {
		t.Errorf("Expected BreakerThreshold=7, got %d", cfg.Resilience.BreakerThreshold)
	}
	if cfg.Resilience.RatePerSecond != 2.5 {
		t.Errorf("Expected RatePerSecond=2.5, got %v", cfg.Resilience.RatePerSecond)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "disabled config is always valid",
			cfg:     &Config{Enabled: false},
			wantErr: false,
		},
		{
			name: "missing api key",
			cfg: &Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"},
			},
			wantErr: true,
		},
		{
			name: "ollama needs no api key",
			cfg: &Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "ollama", Model: "bge-m3"},
			},
			wantErr: false,
		},
		{
			name: "missing model",
			cfg: &Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "gemini", APIKey: "key"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConfigFromProfile_NoKey(t *testing.T) {
	cfg := NewConfigFromProfile(&profile.Profile{EmbeddingProvider: "openai", EmbeddingModel: "m"})
	if cfg.Enabled {
		t.Errorf("Expected Enabled=false without an API key")
	}
}
