package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/semaphore"

	"github.com/VCBorges/automatizai-challenge/internal/analysis"
	"github.com/VCBorges/automatizai-challenge/internal/config"
	"github.com/VCBorges/automatizai-challenge/internal/extraction"
	"github.com/VCBorges/automatizai-challenge/internal/llm"
	"github.com/VCBorges/automatizai-challenge/internal/pdftext"
	"github.com/VCBorges/automatizai-challenge/internal/queue"
	"github.com/VCBorges/automatizai-challenge/internal/retry"
	"github.com/VCBorges/automatizai-challenge/internal/storage"
	"github.com/VCBorges/automatizai-challenge/internal/store"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
	workerproc "github.com/VCBorges/automatizai-challenge/internal/worker"
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

	client, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMCallTimeout,
	}, logger)
	if err != nil {
		logger.Error("init llm client", "error", err)
		os.Exit(1)
	}

	orchestrator := extraction.NewOrchestrator(
		llm.NewGateway(client, logger),
		objects,
		pdftext.New(cfg.MinTextLength, pdftext.NoOCR{}),
		st,
		extraction.Options{
			CallTimeout:  cfg.LLMCallTimeout,
			Retry:        retry.Policy{MaxRetries: cfg.LLMMaxRetries, Base: cfg.LLMRetryBase, Max: 10 * cfg.LLMRetryBase},
			FanOut:       cfg.ExtractionFanOut,
			MaxTextChars: cfg.MaxTextChars,
			Limiter:      semaphore.NewWeighted(int64(cfg.ExtractorConcurrency)),
		},
		logger,
	)

	redisClient := queue.NewRedisClient(cfg)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient, cfg)

	coordinator := analysis.NewCoordinator(st, q, objects, orchestrator, analysis.Options{
		JobDeadline:    cfg.JobDeadline,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessor(cfg, q, coordinator, coordinator, workerID, logger)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker starting",
		"worker_id", workerID,
		"visibility", cfg.VisibilityTimeout.String(),
		"job_deadline", cfg.JobDeadline.String(),
		"model", cfg.LLMModel,
	)
	if err := processor.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
}
