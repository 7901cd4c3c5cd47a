package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeledger/storeledger/cmd/storeledger/cli"
	"github.com/storeledger/storeledger/internal/app"
	"github.com/storeledger/storeledger/internal/audit"
	audithttp "github.com/storeledger/storeledger/internal/audit/http"
	"github.com/storeledger/storeledger/internal/auth"
	"github.com/storeledger/storeledger/internal/cache"
	"github.com/storeledger/storeledger/internal/catalog"
	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/inventory"
	"github.com/storeledger/storeledger/internal/observability"
	platformcache "github.com/storeledger/storeledger/internal/platform/cache"
	"github.com/storeledger/storeledger/internal/platform/db"
	"github.com/storeledger/storeledger/internal/reports"
	"github.com/storeledger/storeledger/internal/shared"
	"github.com/storeledger/storeledger/internal/tenant"
	"github.com/storeledger/storeledger/jobs"
	"github.com/storeledger/storeledger/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "jobs" {
		os.Exit(runJobs(ctx, cfg, args[1:]))
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if len(args) > 0 && args[0] == "migrate" {
		code := cli.MigrateCommand(ctx, func(ctx context.Context) error { return migrations.Apply(ctx, pool) }, os.Stdout, os.Stderr)
		pool.Close()
		os.Exit(code)
	}

	if err := serve(ctx, stop, cfg, logger, pool); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool) error {
	redisClient, err := platformcache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	bus := events.NewBus(logger, events.Config{
		MaxAttempts:     cfg.EventsMaxAttempts,
		DeliveryTimeout: cfg.EventsDeliveryTimeout,
		Backoff:         cfg.EventsRetryBackoff,
	}, metrics.Registerer())

	viewCache := cache.New(redisClient, cfg.CacheTTL, logger, metrics.Registerer())
	viewCache.Register(bus)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	auditStore := audit.NewStore(pool)
	audit.NewSubscriber(auditStore, jobsClient, logger).Register(bus)

	catalogService := catalog.NewService(catalog.NewRepository(pool), bus, viewCache, logger)
	inventoryService := inventory.NewService(
		inventory.NewRepository(pool),
		bus,
		viewCache,
		shared.NewIdempotencyStore(pool),
		logger,
		inventory.ServiceConfig{TxRetries: cfg.InventoryTxRetries, RetryBackoff: cfg.InventoryRetryBackoff},
	)
	reportsService := reports.NewService(reports.NewRepository(pool), viewCache, logger)
	auditService := audit.NewService(auditStore)
	tenantService := tenant.NewService(tenant.NewRepository(pool), bus, logger)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Auth:             auth.Middleware{Verifier: verifier, Logger: logger},
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		CatalogHandler:   catalog.NewHandler(logger, catalogService),
		ReportsHandler:   reports.NewHandler(logger, reportsService),
		AuditHandler:     audithttp.NewHandler(logger, auditService),
		TenantHandler:    tenant.NewHandler(logger, tenantService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Ready: func(r *http.Request) error {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return errors.Join(pool.Ping(ctx), redisClient.Ping(ctx).Err())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if err := bus.Close(shutdownCtx); err != nil {
		logger.Warn("event bus drain", slog.Any("error", err))
	}
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "restrict inventory:warmup to one tenant")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts := cli.JobsOptions{Action: fs.Arg(0), Job: fs.Arg(1), Stdout: os.Stdout, Stderr: os.Stderr}
	if *tenant > 0 {
		opts.TenantIDs = []int64{*tenant}
	}
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.JobsCommand(ctx, opts)
}
