// Package main is the entrypoint for the ScoreGate server.
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

	"github.com/modelforge/scoregate/internal/api"
	"github.com/modelforge/scoregate/internal/api/handler"
	mw "github.com/modelforge/scoregate/internal/api/middleware"
	"github.com/modelforge/scoregate/internal/artifacts"
	"github.com/modelforge/scoregate/internal/cache"
	"github.com/modelforge/scoregate/internal/config"
	"github.com/modelforge/scoregate/internal/identity"
	"github.com/modelforge/scoregate/internal/limiter"
	"github.com/modelforge/scoregate/internal/runner"
	"github.com/modelforge/scoregate/internal/scoring"
	"github.com/modelforge/scoregate/internal/store"
	"github.com/modelforge/scoregate/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"auth_enabled", cfg.Auth.Enabled,
		"max_concurrent", cfg.Scoring.MaxConcurrent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Auth: signature verifier over the startup allowlist
	var verifier *identity.Verifier
	if cfg.Auth.Enabled {
		verifier, err = identity.NewVerifier(cfg.Auth.AllowedKeys, cfg.Auth.SignatureTimeout)
		if err != nil {
			return fmt.Errorf("build verifier: %w", err)
		}
		slog.Info("signature auth enabled", "allowed_keys", len(cfg.Auth.AllowedKeys))
	} else {
		slog.Warn("signature auth disabled, accepting unsigned requests")
	}

	// 3. Watcher client for lifecycle reporting
	notifier := watcher.NewClient(cfg.Watcher)
	notifier.Start()
	defer notifier.Close()
	slog.Info("watcher reporting to", "url", cfg.Watcher.URL)

	// 4. Optional Redis cache: rate limiting and status mirror
	var redisCache cache.Cache
	var rateLimit *mw.RateLimit
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		rateLimit = mw.NewRateLimit(rc, cfg.Redis.RateLimitPerMinute)
		slog.Info("redis connected")
	}

	// 5. Optional Postgres archive of terminal jobs
	var archive *store.Archive
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		archive = store.NewArchive(pool)
		slog.Info("job archive enabled")
	}

	// 6. Optional artifact uploader
	var uploader *artifacts.Uploader
	if cfg.Artifacts.Backend == "minio" {
		uploader, err = artifacts.NewUploader(ctx, cfg.Artifacts)
		if err != nil {
			return fmt.Errorf("create artifact uploader: %w", err)
		}
		slog.Info("artifact uploads enabled", "bucket", cfg.Artifacts.Bucket)
	}

	// 7. Scoring service: registry, permits, evaluator supervision
	opts := []scoring.Option{}
	if redisCache != nil {
		opts = append(opts, scoring.WithCache(redisCache))
	}
	if archive != nil {
		opts = append(opts, scoring.WithArchive(archive))
	}
	if uploader != nil {
		opts = append(opts, scoring.WithUploader(uploader))
	}
	svc := scoring.NewService(cfg.Scoring,
		store.NewMemoryStore(),
		limiter.New(cfg.Scoring.MaxConcurrent),
		runner.New(),
		notifier,
		opts...)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(verifier, cfg.Auth.Enabled),
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(),
		SubmitHandler: handler.NewSubmitHandler(svc),
		GetJobHandler: handler.NewGetJobHandler(svc),
	}
	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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

	// Graceful shutdown: stop accepting, let in-flight runs finish, flush
	// their terminal events, then tear the watcher down (deferred Close).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("waiting for in-flight scoring runs")
	svc.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
