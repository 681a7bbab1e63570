// Package main is the entrypoint for the ProductLens API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/productlens/internal/api"
	"github.com/kiranshivaraju/productlens/internal/api/handler"
	mw "github.com/kiranshivaraju/productlens/internal/api/middleware"
	"github.com/kiranshivaraju/productlens/internal/api/response"
	"github.com/kiranshivaraju/productlens/internal/cache"
	"github.com/kiranshivaraju/productlens/internal/config"
	"github.com/kiranshivaraju/productlens/internal/dispatch"
	"github.com/kiranshivaraju/productlens/internal/observability"
	"github.com/kiranshivaraju/productlens/internal/pipeline"
	"github.com/kiranshivaraju/productlens/internal/stage"
	"github.com/kiranshivaraju/productlens/internal/store"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "dispatch_mode", cfg.Dispatch.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store (runs migrations for Postgres)
	st, err := store.Open(ctx, cfg.Database, "migrations")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	slog.Info("job store ready")

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Choose how accepted jobs reach the orchestrator
	var (
		dispatcher handler.Dispatcher
		inline     *dispatch.InlineDispatcher
	)
	switch cfg.Dispatch.Mode {
	case config.DispatchQueue:
		dispatcher = dispatch.NewQueueDispatcher(redisCache, dispatch.DefaultQueue)
	default:
		obs := observability.New(otel.GetTracerProvider(), otel.GetMeterProvider())
		orch := pipeline.NewOrchestrator(st, pipeline.StagesFromClients(stage.NewClients(cfg.Stages)),
			cfg.Pipeline, obs, logger)
		inline = dispatch.NewInlineDispatcher(orch, logger)
		dispatcher = inline
	}

	// 5. Build router with dependencies
	deps := api.Dependencies{
		Logger:         logger,
		RateLimit:      mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler:  healthHandler(st, redisCache),
		AnalyzeHandler: handler.NewAnalyzeHandler(st, dispatcher),
		StatusHandler:  handler.NewStatusHandler(st),
		CancelHandler:  handler.NewCancelHandler(st),
		ResultHandler:  handler.NewResultHandler(st, redisCache),
		ReportHandler:  handler.NewReportHandler(st, cfg.Stages.AnalysisURL),
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if inline != nil {
		if err := inline.Drain(shutdownCtx); err != nil {
			slog.Warn("in-flight jobs still running at shutdown", "error", err)
		}
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
