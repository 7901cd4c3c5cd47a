package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/inventory"
	jobmetrics "github.com/storeledger/storeledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotSource lists stocked tenants and loads their snapshots through the cache.
type SnapshotSource interface {
	TenantsWithStock(ctx context.Context) ([]int64, error)
	InventorySnapshot(ctx context.Context, tenantID int64) ([]inventory.SnapshotLine, error)
}

// InventoryWarmupJob pre-populates the tenant inventory cache.
type InventoryWarmupJob struct {
	Inventory   SnapshotSource
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
	clock       func() time.Time
}

// NewInventoryWarmupJob wires dependencies for the warmup handler.
func NewInventoryWarmupJob(source SnapshotSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryWarmupJob {
	return &InventoryWarmupJob{
		Inventory:   source,
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: 4,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskInventoryWarmup tasks.
func (j *InventoryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("inventory warmup: handler not configured")
	}
	var payload InventoryWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskInventoryWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskInventoryWarmup)
	start := j.now()

	tenants := payload.TenantIDs
	if len(tenants) == 0 {
		var err error
		tenants, err = j.Inventory.TenantsWithStock(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load warmup tenants", slog.Any("error", err))
			return resultErr
		}
	}
	if len(tenants) == 0 {
		logger.Info("no tenants to warm")
		return resultErr
	}

	var warmed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Concurrency, 1))
	for _, tenantID := range tenants {
		g.Go(func() error {
			tenantCtx, cancel := context.WithTimeout(gctx, 20*time.Second)
			defer cancel()
			if _, err := j.Inventory.InventorySnapshot(tenantCtx, tenantID); err != nil {
				logger.Error("warm tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
				return err
			}
			warmed.Add(1)
			return nil
		})
	}
	resultErr = g.Wait()
	metrics.AddWarmed(string(events.ScopeTenantInventory), int(warmed.Load()))

	logger.Info("completed inventory warmup",
		slog.Int("tenants", len(tenants)),
		slog.Int64("warmed", warmed.Load()),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *InventoryWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
