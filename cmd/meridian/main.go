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

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/documents"
	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/lifecycle"
	"github.com/meridian-erp/meridian/internal/matching"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/cache"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/posting"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, match caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	metrics := observability.NewMetrics()

	documentRepo := documents.NewRepository(pool)

	policies := lifecycle.NewRegistry()
	lifecycleHandler := lifecycle.NewHandler(logger, policies)

	matchingRepo := matching.NewRepository(pool)
	matchingService := matching.NewService(matchingRepo, approvalRecorder, auditLogger, logger)
	matchingHandler := matching.NewHandler(logger, matchingService, redisClient)

	postingRepo := posting.NewRepository(pool)
	ledgerWriter := ledger.NewWriter(logger)
	engine := posting.NewEngine(
		postingRepo,
		documentRepo,
		ledgerWriter,
		approvalRecorder,
		auditLogger,
		metrics,
		logger,
		posting.Config{StrictAccounts: cfg.PostingStrictAccounts},
	)
	postingHandler := posting.NewHandler(logger, engine, policies, matchingService, documentRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		LifecycleHandler: lifecycleHandler,
		MatchingHandler:  matchingHandler,
		PostingHandler:   postingHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
