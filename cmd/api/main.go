package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	api "github.com/VCBorges/automatizai-challenge/internal/api"
	"github.com/VCBorges/automatizai-challenge/internal/analysis"
	"github.com/VCBorges/automatizai-challenge/internal/config"
	"github.com/VCBorges/automatizai-challenge/internal/queue"
	"github.com/VCBorges/automatizai-challenge/internal/ratelimit"
	"github.com/VCBorges/automatizai-challenge/internal/storage"
	"github.com/VCBorges/automatizai-challenge/internal/store"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Error("init object storage", "error", err)
		os.Exit(1)
	}

	redisClient := queue.NewRedisClient(cfg)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient, cfg)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.QueuePrefix+":rl", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	// The API never executes jobs, so no pipeline is wired here.
	coordinator := analysis.NewCoordinator(st, q, objects, nil, analysis.Options{
		JobDeadline:    cfg.JobDeadline,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	server := api.New(cfg, coordinator, limiter, logger).
		WithReadiness(map[string]api.Pinger{"postgres": st, "redis": q}).
		WithDeadLetters(q)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api stopped")
}
