package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/storyreel/internal/version"
	"github.com/hrygo/storyreel/server/runner/embedding"
)

var rootCmd = &cobra.Command{
	Use:   "storyreel",
	Short: `Memory service for multi-agent video generation. Records agent decisions, consolidates them into reusable knowledge and serves it back as prompt context.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics endpoint and the background reindex runner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("metrics-addr", ":9464")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("metrics-addr", ":9464", "listen address of the Prometheus endpoint, empty to disable")

	for _, name := range []string{"mode", "data", "driver", "dsn", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("storyreel")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, migrateCmd, consolidateCmd, reindexCmd, searchCmd, overviewCmd, promptCmd, versionCmd)
}

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var metricsServer *http.Server
	if a.profile.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.exporter.Handler())
		metricsServer = &http.Server{
			Addr:              a.profile.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
				cancel()
			}
		}()
	}

	if a.embedder != nil {
		runner := embedding.NewRunner(a.store, a.embedder, a.profile.MemoryReindexInterval, a.profile.MemoryReindexBatchSize, a.exporter, a.logger)
		go runner.Run(ctx)
	}

	printGreetings(a)

	c := make(chan os.Signal, 1)
	// SIGTERM is the graceful shutdown signal for most process managers.
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		cancel()
	}()

	<-ctx.Done()
	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	a.logger.Info("storyreel stopped")
	return nil
}

func printGreetings(a *app) {
	fmt.Printf("StoryReel %s started successfully!\n", version.String())
	if a.profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if a.profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", a.profile.DSN)
		}
	}
	fmt.Printf("Database driver: %s\n", a.profile.Driver)
	fmt.Printf("Mode: %s\n", a.profile.Mode)
	if a.embedder != nil {
		fmt.Printf("Embedding model: %s\n", a.embedder.Model())
	} else {
		fmt.Println("Embedding: disabled")
	}
	if a.profile.MetricsAddr != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", a.profile.MetricsAddr)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
