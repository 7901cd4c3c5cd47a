package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/storeledger/storeledger/internal/jobs"
)

// DefaultIdempotencyRetention bounds how long sale keys deduplicate retries.
const DefaultIdempotencyRetention = 72 * time.Hour

// KeyPurger deletes idempotency keys older than a cutoff.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store   KeyPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(store KeyPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := DefaultIdempotencyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()

	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	jobLogger(j.Logger, TaskIdempotencyCleanup).Info("purged idempotency keys",
		slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
