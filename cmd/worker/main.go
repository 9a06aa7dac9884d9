package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-erp/meridian/internal/app"
	jobmetrics "github.com/meridian-erp/meridian/internal/jobs"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	scanner := jobs.NewIntegrityScanner(pool, logger, metrics, cfg.PendingStaleAfter)
	cleaner := jobs.NewMarkerCleaner(pool, logger, metrics, cfg.PreviewRetention)

	scanTask, err := jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{})
	if err != nil {
		logger.Error("build integrity scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewMarkerCleanupTask(jobs.MarkerCleanupPayload{})
	if err != nil {
		logger.Error("build marker cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIntegrityScan, Handler: scanner.HandleTask},
			{Type: jobs.TaskMarkerCleanup, Handler: cleaner.HandleTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    cfg.WorkerMetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
