package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileEnvVars = []string{
	"STORYREEL_EMBEDDING_PROVIDER",
	"STORYREEL_EMBEDDING_MODEL",
	"STORYREEL_EMBEDDING_API_KEY",
	"STORYREEL_EMBEDDING_BASE_URL",
	"STORYREEL_EMBEDDING_DIMENSIONS",
	"STORYREEL_EMBEDDING_MAX_ATTEMPTS",
	"STORYREEL_EMBEDDING_BREAKER_COOLDOWN",
	"STORYREEL_MEMORY_ENABLED",
	"STORYREEL_MEMORY_MIN_QUALITY",
	"STORYREEL_MEMORY_FEEDBACK_CAP",
}

func clearProfileEnv(t *testing.T) {
	t.Helper()
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

// TestProfileDefaults checks the values FromEnv falls back to.
func TestProfileDefaults(t *testing.T) {
	clearProfileEnv(t)

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected any
		actual   any
	}{
		{"embedding provider", "siliconflow", p.EmbeddingProvider},
		{"embedding model", "BAAI/bge-m3", p.EmbeddingModel},
		{"embedding base url", "https://api.siliconflow.cn/v1", p.EmbeddingBaseURL},
		{"embedding dimensions", 1024, p.EmbeddingDimensions},
		{"max attempts", 3, p.EmbeddingMaxAttempts},
		{"breaker cooldown", 30 * time.Second, p.EmbeddingBreakerCooldown},
		{"memory enabled", true, p.MemoryEnabled},
		{"min quality", 0.7, p.MemoryMinQuality},
		{"confidence floor", 0.2, p.MemoryConfidenceFloor},
		{"feedback cap", 100, p.MemoryFeedbackCap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.actual)
		})
	}

	assert.False(t, p.IsEmbeddingEnabled(), "no api key configured")
}

func TestProfileFromEnv(t *testing.T) {
	clearProfileEnv(t)
	t.Setenv("STORYREEL_EMBEDDING_PROVIDER", "gemini")
	t.Setenv("STORYREEL_EMBEDDING_API_KEY", "test-key")
	t.Setenv("STORYREEL_MEMORY_MIN_QUALITY", "0.8")
	t.Setenv("STORYREEL_MEMORY_ENABLED", "false")
	t.Setenv("STORYREEL_EMBEDDING_BREAKER_COOLDOWN", "5s")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "gemini", p.EmbeddingProvider)
	assert.Equal(t, "text-embedding-004", p.EmbeddingModel)
	assert.Empty(t, p.EmbeddingBaseURL)
	assert.Equal(t, 0.8, p.MemoryMinQuality)
	assert.False(t, p.MemoryEnabled)
	assert.Equal(t, 5*time.Second, p.EmbeddingBreakerCooldown)
	assert.True(t, p.IsEmbeddingEnabled())
}

func TestProfileUnknownProviderFallsBack(t *testing.T) {
	clearProfileEnv(t)
	t.Setenv("STORYREEL_EMBEDDING_PROVIDER", "nonexistent")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "siliconflow", p.EmbeddingProvider)
}

func TestOllamaNeedsNoKey(t *testing.T) {
	p := &Profile{EmbeddingProvider: "ollama"}
	assert.True(t, p.IsEmbeddingEnabled())
}

func TestProfileValidate(t *testing.T) {
	t.Run("rejects unknown driver", func(t *testing.T) {
		p := &Profile{Driver: "mysql"}
		require.Error(t, p.Validate())
	})

	t.Run("rejects out of range tuning", func(t *testing.T) {
		p := &Profile{Driver: "memory", MemoryMinQuality: 1.5}
		require.Error(t, p.Validate())
	})

	t.Run("normalizes mode and defaults", func(t *testing.T) {
		p := &Profile{Driver: "memory", Mode: "weird"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
		assert.Equal(t, 10, p.MemoryContextMaxItems)
		assert.Equal(t, 100, p.MemoryFeedbackCap)
	})

	t.Run("sqlite dsn resolved from data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Driver: "sqlite", Mode: "dev", Data: dir}
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "storyreel_dev.db"), p.DSN)
	})

	t.Run("sqlite explicit dsn kept", func(t *testing.T) {
		p := &Profile{Driver: "sqlite", DSN: ":memory:"}
		require.NoError(t, p.Validate())
		assert.Equal(t, ":memory:", p.DSN)
	})

	t.Run("sqlite missing data dir", func(t *testing.T) {
		p := &Profile{Driver: "sqlite", Data: filepath.Join(os.TempDir(), "storyreel-does-not-exist-xyz")}
		require.Error(t, p.Validate())
	})
}
