package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/ai/memory"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/ai/resilience"
	"github.com/hrygo/storyreel/internal/profile"
	"github.com/hrygo/storyreel/internal/version"
	"github.com/hrygo/storyreel/store"
	"github.com/hrygo/storyreel/store/db"
)

// app is everything a command needs, built once from the profile.
type app struct {
	profile  *profile.Profile
	store    *store.Store
	embedder ai.EmbeddingService // nil when no provider is configured
	exporter *metrics.PrometheusExporter
	manager  *memory.Manager
	logger   *logging.Logger
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:        viper.GetString("mode"),
		Data:        viper.GetString("data"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		MetricsAddr: viper.GetString("metrics-addr"),
		Version:     version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

// newApp opens and migrates the store and wires the memory manager.
func newApp(ctx context.Context) (*app, error) {
	instanceProfile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	logger := logging.NewFromProfile(instanceProfile)
	logging.SetDefault(logger)

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return nil, fmt.Errorf("create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	embedder, err := newEmbedder(ctx, instanceProfile, exporter)
	if err != nil {
		_ = dbDriver.Close()
		return nil, err
	}
	if embedder == nil {
		logger.Warn("no embedding provider configured, semantic search disabled")
	}

	manager, err := memory.NewManager(storeInstance, embedder, memory.ConfigFromProfile(instanceProfile), exporter, logger)
	if err != nil {
		_ = dbDriver.Close()
		return nil, err
	}

	return &app{
		profile:  instanceProfile,
		store:    storeInstance,
		embedder: embedder,
		exporter: exporter,
		manager:  manager,
		logger:   logger,
	}, nil
}

// newEmbedder returns nil, nil when the profile names no usable provider.
func newEmbedder(ctx context.Context, p *profile.Profile, exporter *metrics.PrometheusExporter) (ai.EmbeddingService, error) {
	cfg := ai.NewConfigFromProfile(p)
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding config: %w", err)
	}
	inner, err := ai.NewEmbeddingService(ctx, cfg)
	if errors.Is(err, ai.ErrNoProvider) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create embedding service: %w", err)
	}
	return ai.NewResilientEmbeddingService(inner, cfg.Embedding.Provider, resilience.NewPolicy(cfg.Resilience), exporter), nil
}

func (a *app) Close() {
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// printDatabaseError gives a short hint for the usual connection failures.
func printDatabaseError(err error, p *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL is not reachable.")
		if p.Driver == "postgres" {
			fmt.Fprintln(os.Stderr, "  Start it with: docker run -d -p 5432:5432 -e POSTGRES_PASSWORD=storyreel pgvector/pgvector:pg16")
		}
		fmt.Fprintln(os.Stderr, "  Or use SQLite: STORYREEL_DRIVER=sqlite storyreel --data=./data")
	case strings.Contains(errMsg, "sslmode") || strings.Contains(errMsg, "SSL is not enabled"):
		fmt.Fprintln(os.Stderr, "  Add ?sslmode=disable to your DSN.")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "  Check the credentials in the DSN or .env file.")
	case strings.Contains(errMsg, "dsn required"):
		fmt.Fprintln(os.Stderr, "  Set --dsn or STORYREEL_DSN.")
	default:
		fmt.Fprintln(os.Stderr, "  Error:", errMsg)
	}
}
