package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/storeledger/storeledger/internal/app"
	"github.com/storeledger/storeledger/internal/audit"
	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/inventory"
	jobmetrics "github.com/storeledger/storeledger/internal/jobs"
	platformcache "github.com/storeledger/storeledger/internal/platform/cache"
	"github.com/storeledger/storeledger/internal/platform/db"
	"github.com/storeledger/storeledger/internal/shared"
	"github.com/storeledger/storeledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	viewCache := cache.New(redisClient, cfg.CacheTTL, logger, nil)

	// The worker only reads snapshots, so it needs no event bus.
	inventoryService := inventory.NewService(inventory.NewRepository(pool), nil, viewCache, nil, logger,
		inventory.ServiceConfig{TxRetries: cfg.InventoryTxRetries, RetryBackoff: cfg.InventoryRetryBackoff})
	subscriber := audit.NewSubscriber(audit.NewStore(pool), nil, logger)

	warmupJob := jobs.NewInventoryWarmupJob(inventoryService, logger, metrics)
	replayJob := jobs.NewAuditReplayJob(subscriber, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	warmupTask, err := jobs.NewInventoryWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditReplay, Handler: replayJob.Handle},
			{Type: jobs.TaskInventoryWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
