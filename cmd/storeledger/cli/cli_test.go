package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/jobs"
)

type stubClient struct {
	tasks []*asynq.Task
}

func (s *stubClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubClient) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }
func (s stubInspector) Close() error                                  { return nil }

func TestJobsTrigger(t *testing.T) {
	client := &stubClient{}
	c := &JobsCLI{client: client}

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{Action: "trigger", Job: jobs.TaskInventoryWarmup, TenantIDs: []int64{3}, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "enqueued inventory:warmup")

	var payload jobs.InventoryWarmupPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, []int64{3}, payload.TenantIDs)

	code = c.JobsCommand(context.Background(), JobsOptions{Action: "trigger", Job: "mail:send", Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unsupported job")
}

func TestJobsInspect(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}}}
	stdout := new(bytes.Buffer)
	require.Equal(t, 0, c.JobsCommand(context.Background(), JobsOptions{Action: "inspect", Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Equal(t, "queue=default pending=2 active=0 scheduled=0 retry=1 archived=0\n", stdout.String())

	c = &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	require.Equal(t, 1, c.JobsCommand(context.Background(), JobsOptions{Action: "inspect", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 2, c.JobsCommand(context.Background(), JobsOptions{Action: "purge", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
}

func TestMigrateCommand(t *testing.T) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Equal(t, 0, MigrateCommand(context.Background(), func(context.Context) error { return nil }, stdout, stderr))
	require.Contains(t, stdout.String(), "up to date")

	require.Equal(t, 1, MigrateCommand(context.Background(), func(context.Context) error { return errors.New("syntax error") }, stdout, stderr))
	require.Contains(t, stderr.String(), "syntax error")
}
