package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/storeledger/storeledger/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditReplay re-inserts an activity log entry whose first write failed.
	TaskAuditReplay = "audit:replay"
	// TaskInventoryWarmup rebuilds the snapshot cache of every stocked tenant.
	TaskInventoryWarmup = "inventory:warmup"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// AuditReplayPayload carries the entry to re-insert.
type AuditReplayPayload struct {
	Entry audit.Entry `json:"entry"`
}

// NewAuditReplayTask constructs an audit replay task.
func NewAuditReplayTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(AuditReplayPayload{Entry: entry})
	if err != nil {
		return nil, fmt.Errorf("marshal audit replay payload: %w", err)
	}
	return asynq.NewTask(TaskAuditReplay, data), nil
}

// InventoryWarmupPayload optionally restricts a warmup run to some tenants.
type InventoryWarmupPayload struct {
	TenantIDs []int64 `json:"tenant_ids,omitempty"`
}

// NewInventoryWarmupTask constructs a warmup task. No tenants means all of them.
func NewInventoryWarmupTask(tenantIDs ...int64) (*asynq.Task, error) {
	data, err := json.Marshal(InventoryWarmupPayload{TenantIDs: tenantIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal inventory warmup payload: %w", err)
	}
	return asynq.NewTask(TaskInventoryWarmup, data), nil
}

// IdempotencyCleanupPayload sets the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency cleanup payload: %w", err)
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
