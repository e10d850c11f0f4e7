package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trailpay/platform/internal/app"
	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/handler"
	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := infra.RunMigrations(cfg.DSN(), infra.MigrationsDir(cfg.MigrationsDir), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	checks := []handler.HealthCheck{{Name: "postgres", Check: infra.PostgresHealthCheck(pool)}}

	// Redis is optional; without it projections and webhook idempotency are per-instance.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		checks = append(checks, app.RedisHealthCheck(rdb))
		logger.Info("connected to redis")
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTLearnerExpiry, cfg.JWTCreatorExpiry)
	hub := infra.NewHub(logger)

	services := app.NewServices(app.ServiceDeps{
		Config: cfg,
		DB:     repository.NewTxRunner(pool),
		Redis:  rdb,
		Gate:   provider.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		Hub:    hub,
		Logger: logger,
	})

	r := app.NewRouter(app.RouterDeps{
		Services:     services,
		Hub:          hub,
		JWTMgr:       jwtMgr,
		Logger:       logger,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		HealthChecks: checks,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Close event streams first so Shutdown does not wait on them.
	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	services.Sessions.Shutdown()

	logger.Info("server stopped gracefully", "open_sessions", services.Sessions.OpenSessions())
	return nil
}
