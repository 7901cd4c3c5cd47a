package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/storeledger/storeledger/internal/audit"
	jobmetrics "github.com/storeledger/storeledger/internal/jobs"
)

// EntryReplayer re-inserts a queued activity log entry.
type EntryReplayer interface {
	Replay(ctx context.Context, entry audit.Entry) error
}

// AuditReplayJob drains the audit replay queue.
type AuditReplayJob struct {
	Replayer EntryReplayer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAuditReplayJob wires the replay handler.
func NewAuditReplayJob(replayer EntryReplayer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditReplayJob {
	return &AuditReplayJob{Replayer: replayer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditReplay tasks. Failures are retried by asynq.
func (j *AuditReplayJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Replayer == nil {
		return errors.New("audit replay: handler not configured")
	}
	var payload AuditReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskAuditReplay)
	defer func() {
		err = tracker.End(err)
	}()

	if err = j.Replayer.Replay(ctx, payload.Entry); err != nil {
		jobLogger(j.Logger, TaskAuditReplay).Warn("audit replay failed",
			slog.String("event_id", payload.Entry.EventID.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}
