// Package main is the entrypoint for the ProductLens queue worker. It pulls
// job ids that the API server enqueued in queue dispatch mode and runs the
// pipeline for each.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/productlens/internal/cache"
	"github.com/kiranshivaraju/productlens/internal/config"
	"github.com/kiranshivaraju/productlens/internal/dispatch"
	"github.com/kiranshivaraju/productlens/internal/observability"
	"github.com/kiranshivaraju/productlens/internal/pipeline"
	"github.com/kiranshivaraju/productlens/internal/stage"
	"github.com/kiranshivaraju/productlens/internal/store"
	"go.opentelemetry.io/otel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if cfg.Dispatch.Mode != config.DispatchQueue {
		slog.Warn("DISPATCH_MODE is not queue; the API server runs jobs itself and this worker will sit idle",
			"dispatch_mode", cfg.Dispatch.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database, "migrations")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	obs := observability.New(otel.GetTracerProvider(), otel.GetMeterProvider())
	orch := pipeline.NewOrchestrator(st, pipeline.StagesFromClients(stage.NewClients(cfg.Stages)),
		cfg.Pipeline, obs, logger)

	w := dispatch.NewWorker(redisCache, orch, cfg.Dispatch.Concurrency,
		dispatch.WithLogger(logger))
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
