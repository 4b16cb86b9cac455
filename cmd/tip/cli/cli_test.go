package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f fakeInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskLowStockScan, NextProcessAt: time.Date(2026, 3, 18, 7, 0, 0, 0, time.UTC)}}, f.err
}

func (f fakeInspector) Close() error { return nil }

func TestJobsTriggerEnqueuesKnownTask(t *testing.T) {
	client := &fakeEnqueuer{}
	c := &JobsCLI{client: client, inspector: fakeInspector{}}
	stdout := new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{Args: []string{"trigger", jobs.TaskDashboardWarmup}, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Len(t, client.tasks, 1)
	require.Equal(t, jobs.TaskDashboardWarmup, client.tasks[0].Type())
	require.Contains(t, stdout.String(), "enqueued reports:warmup")
}

func TestJobsTriggerRejectsUnknownTask(t *testing.T) {
	client := &fakeEnqueuer{}
	c := &JobsCLI{client: client, inspector: fakeInspector{}}
	stderr := new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{Args: []string{"trigger", "mail:send"}, Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Empty(t, client.tasks)
	require.Contains(t, stderr.String(), "mail:send")
}

func TestJobsInspectPrintsQueueStats(t *testing.T) {
	c := &JobsCLI{client: &fakeEnqueuer{}, inspector: fakeInspector{info: &asynq.QueueInfo{Pending: 3, Retry: 1}}}
	stdout := new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{Args: []string{"inspect"}, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), `"pending": 3`)
	require.Contains(t, stdout.String(), `"retry": 1`)
}

func TestJobsInspectFailure(t *testing.T) {
	c := &JobsCLI{inspector: fakeInspector{err: errors.New("redis down")}}
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, c.Command(context.Background(), JobsOptions{Args: []string{"inspect"}, Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "redis down")
}

func TestJobsScheduledListsTasks(t *testing.T) {
	c := &JobsCLI{inspector: fakeInspector{}}
	stdout := new(bytes.Buffer)
	require.Equal(t, 0, c.Command(context.Background(), JobsOptions{Args: []string{"scheduled"}, Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Contains(t, stdout.String(), "s-1\tstock:low_scan\t2026-03-18 07:00:00")
}

func TestMigrateCommand(t *testing.T) {
	var gotDirection string
	var gotSteps int
	apply := func(dsn, direction string, steps int) error {
		gotDirection, gotSteps = direction, steps
		return nil
	}

	code := MigrateCommand(MigrateOptions{DSN: "postgres://x", Args: []string{"up"}, Apply: apply, Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Equal(t, "up", gotDirection)
	require.Equal(t, 0, gotSteps)

	code = MigrateCommand(MigrateOptions{Args: []string{"down", "1"}, Apply: apply, Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Equal(t, "down", gotDirection)
	require.Equal(t, 1, gotSteps)
}

func TestMigrateCommandRejectsBadInput(t *testing.T) {
	apply := func(dsn, direction string, steps int) error {
		t.Fatalf("apply must not run")
		return nil
	}
	for _, args := range [][]string{nil, {"sideways"}, {"up", "x"}, {"down"}} {
		stderr := new(bytes.Buffer)
		code := MigrateCommand(MigrateOptions{Args: args, Apply: apply, Stdout: new(bytes.Buffer), Stderr: stderr})
		require.Equal(t, 2, code, "args %v", args)
		require.NotEmpty(t, stderr.String())
	}
}

func TestMigrateCommandReportsFailure(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := MigrateCommand(MigrateOptions{
		Args:   []string{"up"},
		Apply:  func(string, string, int) error { return errors.New("dirty database") },
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "dirty database")
}

func TestMigrateVersion(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := MigrateCommand(MigrateOptions{
		Args:    []string{"version"},
		Version: func(string) (uint, bool, error) { return 4, false, nil },
		Stdout:  stdout,
		Stderr:  new(bytes.Buffer),
	})
	require.Equal(t, 0, code)
	require.Equal(t, "version 4 dirty=false\n", stdout.String())
}
