package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/storeledger/storeledger/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string, tenantIDs ...int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskInventoryWarmup:
		task, err = jobs.NewInventoryWarmupTask(tenantIDs...)
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// JobsOptions defines the arguments of the jobs command.
type JobsOptions struct {
	Action    string
	Job       string
	TenantIDs []int64
	Stdout    io.Writer
	Stderr    io.Writer
}

// JobsCommand runs `jobs trigger <name>` or `jobs inspect` and returns an exit code.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	switch opts.Action {
	case "trigger":
		info, err := c.Trigger(ctx, opts.Job, opts.TenantIDs...)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown action %q (expected trigger or inspect)\n", opts.Action)
		return 2
	}
}
