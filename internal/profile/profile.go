package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the memory service.
type Profile struct {
	// Embedding configuration.
	// Providers speaking the OpenAI protocol (openai, siliconflow, ollama, dashscope)
	// share one client; gemini uses the genai SDK.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Resilience settings applied to every embedding call.
	EmbeddingMaxAttempts      int
	EmbeddingBaseDelay        time.Duration
	EmbeddingMaxDelay         time.Duration
	EmbeddingBreakerThreshold int
	EmbeddingBreakerCooldown  time.Duration
	EmbeddingRatePerSecond    float64
	EmbeddingRateBurst        int

	// Memory tuning.
	MemoryMinQuality       float64
	MemoryConfidenceFloor  float64
	MemoryFeedbackCap      int
	MemoryContextMaxItems  int
	MemoryMinRelevance     float64
	MemoryReindexInterval  time.Duration
	MemoryReindexBatchSize int

	Mode          string
	Driver        string
	DSN           string
	Data          string
	Version       string
	MetricsAddr   string
	MemoryEnabled bool
}

// Embedding provider defaults.
// Used when the base URL or model is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "text-embedding-v3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "bge-m3",
	},
	"gemini": {
		Model: "text-embedding-004",
	},
}

var supportedDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled reports whether an embedding provider can be reached.
// Ollama runs locally and needs no key.
func (p *Profile) IsEmbeddingEnabled() bool {
	if p.EmbeddingProvider == "" {
		return false
	}
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("STORYREEL_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("STORYREEL_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("STORYREEL_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("STORYREEL_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("STORYREEL_EMBEDDING_DIMENSIONS", 1024)

	if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
		slog.Warn("Unknown embedding provider, using default: siliconflow", "provider", p.EmbeddingProvider)
		p.EmbeddingProvider = "siliconflow"
	}
	defaults := embeddingProviderDefaults[p.EmbeddingProvider]
	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = defaults.BaseURL
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = defaults.Model
	}

	p.EmbeddingMaxAttempts = getEnvOrDefaultInt("STORYREEL_EMBEDDING_MAX_ATTEMPTS", 3)
	p.EmbeddingBaseDelay = getEnvOrDefaultDuration("STORYREEL_EMBEDDING_BASE_DELAY", 500*time.Millisecond)
	p.EmbeddingMaxDelay = getEnvOrDefaultDuration("STORYREEL_EMBEDDING_MAX_DELAY", 8*time.Second)
	p.EmbeddingBreakerThreshold = getEnvOrDefaultInt("STORYREEL_EMBEDDING_BREAKER_THRESHOLD", 5)
	p.EmbeddingBreakerCooldown = getEnvOrDefaultDuration("STORYREEL_EMBEDDING_BREAKER_COOLDOWN", 30*time.Second)
	p.EmbeddingRatePerSecond = getEnvOrDefaultFloat("STORYREEL_EMBEDDING_RATE", 10)
	p.EmbeddingRateBurst = getEnvOrDefaultInt("STORYREEL_EMBEDDING_BURST", 20)

	p.MemoryEnabled = getEnvOrDefault("STORYREEL_MEMORY_ENABLED", "true") == "true"
	p.MemoryMinQuality = getEnvOrDefaultFloat("STORYREEL_MEMORY_MIN_QUALITY", 0.7)
	p.MemoryConfidenceFloor = getEnvOrDefaultFloat("STORYREEL_MEMORY_CONFIDENCE_FLOOR", 0.2)
	p.MemoryFeedbackCap = getEnvOrDefaultInt("STORYREEL_MEMORY_FEEDBACK_CAP", 100)
	p.MemoryContextMaxItems = getEnvOrDefaultInt("STORYREEL_MEMORY_CONTEXT_MAX_ITEMS", 10)
	p.MemoryMinRelevance = getEnvOrDefaultFloat("STORYREEL_MEMORY_MIN_RELEVANCE", 0.7)
	p.MemoryReindexInterval = getEnvOrDefaultDuration("STORYREEL_MEMORY_REINDEX_INTERVAL", 2*time.Minute)
	p.MemoryReindexBatchSize = getEnvOrDefaultInt("STORYREEL_MEMORY_REINDEX_BATCH_SIZE", 8)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if !supportedDrivers[p.Driver] {
		return errors.Errorf("unknown db driver %q: expected postgres, sqlite or memory", p.Driver)
	}

	for name, v := range map[string]float64{
		"memory min quality":      p.MemoryMinQuality,
		"memory confidence floor": p.MemoryConfidenceFloor,
		"memory min relevance":    p.MemoryMinRelevance,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	if p.MemoryContextMaxItems <= 0 {
		p.MemoryContextMaxItems = 10
	}
	if p.MemoryFeedbackCap <= 0 {
		p.MemoryFeedbackCap = 100
	}
	if p.MemoryReindexBatchSize <= 0 {
		p.MemoryReindexBatchSize = 8
	}

	if p.Driver != "sqlite" {
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "storyreel")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/storyreel"
		}
	}

	if p.DSN == "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("storyreel_%s.db", p.Mode))
	}

	return nil
}
