package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/peep-runtime/internal/logstore"
	"github.com/splax/peep-runtime/internal/logstore/migrate"
	"github.com/splax/peep-runtime/internal/logstore/postgres"
	"github.com/splax/peep-runtime/internal/ws"
	"github.com/splax/peep-runtime/pkg/config"
	"github.com/splax/peep-runtime/pkg/logger"
)

func main() {
	_ = config.LoadEnvFile(".env")
	cfg := config.LoadLogStoreConfig()
	log := logger.New("logstore", logger.ParseLevel(cfg.LogLevel))
	if err := config.Validate(cfg); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	defer hub.Close()
	svc := logstore.NewService(postgres.New(pool), hub, log)

	limiter := logstore.NewMemoryRateLimiter(cfg.RateLimitRefresh, cfg.RateLimitBurst)
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := logstore.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, cfg.RateLimitRefresh, cfg.RateLimitBurst, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	if cfg.JWTSecret == "" {
		log.Warn("log store running without authentication", "env", cfg.Environment)
	}
	router := logstore.NewRouter(log, svc, limiter,
		logstore.WithJWTSecret(cfg.JWTSecret),
		logstore.WithListLimit(cfg.ListLimit),
	)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("log store starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("log store stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
