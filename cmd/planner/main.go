// Planner runtime server. Serves the HTTP/WebSocket API, schedules
// runs, and drives planner execution against configured providers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolboxlabs/planner/pkg/api"
	"github.com/toolboxlabs/planner/pkg/cleanup"
	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/queue"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/runstore"
	"github.com/toolboxlabs/planner/pkg/service"
	"github.com/toolboxlabs/planner/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("PLANNER_CONFIG", "./deploy/config/planner.yaml"),
		"Path to configuration file")
	flag.Parse()

	// Load .env from the config directory
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting planner runtime",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Metrics, event bus, WebSocket connection manager
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	bus := events.NewBus()
	connManager := events.NewConnectionManager(bus, 10*time.Second)
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go connManager.Run(connCtx)
	slog.Info("Event streaming initialized")

	// 3. Provider registry. Individual provider failures are non-fatal:
	// the runtime serves the providers that came up, and health reports
	// the rest.
	reg, err := registry.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("Failed to build provider registry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			slog.Error("Error closing provider registry", "error", err)
		}
	}()
	if failed := reg.Failed(); len(failed) > 0 {
		slog.Warn("Some providers failed to initialize", "failed", failed)
	}
	slog.Info("Provider registry ready", "providers", len(reg.ProviderNames()))

	// 4. Run artifact store (optional)
	var store *runstore.Store
	if cfg.Storage.Enabled {
		store, err = runstore.New(cfg.Storage.Root, bus)
		if err != nil {
			slog.Error("Failed to open run store", "root", cfg.Storage.Root, "error", err)
			os.Exit(1)
		}
		slog.Info("Run store ready", "root", store.Root())
	} else {
		slog.Info("Run persistence disabled")
	}

	// 5. Scheduler and run service
	scheduler := queue.NewScheduler(cfg.Queue)
	svc, err := service.NewRunService(service.Deps{
		Config:    cfg,
		Registry:  reg,
		Bus:       bus,
		Scheduler: scheduler,
		Store:     store,
		Metrics:   m,
	})
	if err != nil {
		slog.Error("Failed to build run service", "error", err)
		os.Exit(1)
	}

	// 6. Retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, store, cfg.Sandbox.Root)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg.Server, svc, connManager, m, promRegistry)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Planner runtime started",
		"max_concurrent_runs", cfg.Queue.MaxConcurrentRuns,
		"overflow_policy", cfg.Queue.OverflowPolicy)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain active runs first, then stop the
	// HTTP server. Submissions arriving while draining are rejected as
	// overloaded.
	svc.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
