package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ombra-ai/ombra/internal/execution"
	"github.com/ombra-ai/ombra/internal/tasks"
)

type toolRunnerFunc func(ctx context.Context, task tasks.Task, checkpoint execution.Checkpoint) (string, error)

func (f toolRunnerFunc) RunTask(ctx context.Context, task tasks.Task, checkpoint execution.Checkpoint) (string, error) {
	return f(ctx, task, checkpoint)
}

func newTestExecutor(t *testing.T, runtime execution.Runtime) (*Executor, *tasks.Scheduler) {
	t.Helper()
	scheduler := tasks.NewScheduler(tasks.NewMemoryStore(), nil)
	exec := New(Config{
		DequeueTimeout:         time.Second,
		BackgroundPollInterval: 10 * time.Millisecond,
		BackgroundMaxPolls:     3,
	}, scheduler, runtime, nil)
	return exec, scheduler
}

func createTask(t *testing.T, s *tasks.Scheduler, mode tasks.TaskMode) tasks.Task {
	t.Helper()
	task, err := s.Create(context.Background(), "do the thing", mode, tasks.TaskPriorityNormal, "test", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func getTask(t *testing.T, s *tasks.Scheduler, id string) tasks.Task {
	t.Helper()
	task, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return task
}

func TestWorkerTaskCompletes(t *testing.T) {
	runner := execution.NewMockToolRunner()
	runner.Reply = "all done"
	exec, scheduler := newTestExecutor(t, execution.Runtime{Tools: runner})

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusCompleted)
	}
	if got.Result != "all done" {
		t.Fatalf("Result = %q, want %q", got.Result, "all done")
	}
	if got.Progress == nil || *got.Progress != 1.0 {
		t.Fatalf("Progress = %v, want 1.0", got.Progress)
	}

	events, _ := scheduler.Events(context.Background(), task.ID)
	hasProgress := false
	for _, event := range events {
		if event.Type == tasks.EventProgress {
			hasProgress = true
		}
	}
	if !hasProgress {
		t.Fatalf("no progress event recorded, want checkpoint milestones")
	}
}

func TestWorkerTaskFailureIsRecorded(t *testing.T) {
	runner := execution.NewMockToolRunner()
	runner.Err = errors.New("tool blew up")
	exec, scheduler := newTestExecutor(t, execution.Runtime{Tools: runner})

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusFailed)
	}
	if got.Error != "tool blew up" {
		t.Fatalf("Error = %q, want %q", got.Error, "tool blew up")
	}
}

func TestPanicInRunnerMarksTaskFailed(t *testing.T) {
	runner := toolRunnerFunc(func(context.Context, tasks.Task, execution.Checkpoint) (string, error) {
		panic("runner exploded")
	})
	exec, scheduler := newTestExecutor(t, execution.Runtime{Tools: runner})

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q after panic", got.Status, tasks.TaskStatusFailed)
	}
	if !strings.Contains(got.Error, "panicked") {
		t.Fatalf("Error = %q, want panic noted", got.Error)
	}
}

func TestCancelRequestStopsAtCheckpoint(t *testing.T) {
	var scheduler *tasks.Scheduler
	runner := toolRunnerFunc(func(ctx context.Context, task tasks.Task, checkpoint execution.Checkpoint) (string, error) {
		// Request cancellation while the task runs, then hit a checkpoint.
		if _, err := scheduler.Cancel(ctx, task.ID); err != nil {
			return "", err
		}
		if err := checkpoint(ctx, 0.5, "half way"); err != nil {
			return "", err
		}
		return "should never finish", nil
	})

	exec, s := newTestExecutor(t, execution.Runtime{Tools: runner})
	scheduler = s

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusCancelled {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusCancelled)
	}
	if got.Result != "" {
		t.Fatalf("Result = %q, want empty for cancelled task", got.Result)
	}
}

func TestLostClaimIsNoOp(t *testing.T) {
	runner := execution.NewMockToolRunner()
	exec, scheduler := newTestExecutor(t, execution.Runtime{Tools: runner})

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	if claimed, err := scheduler.Claim(context.Background(), task.ID); err != nil || !claimed {
		t.Fatalf("Claim() = (%v, %v), want (true, nil)", claimed, err)
	}

	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusRunning {
		t.Fatalf("Status = %q, want untouched %q after lost claim", got.Status, tasks.TaskStatusRunning)
	}
}

func TestSubagentClosedOnSuccess(t *testing.T) {
	factory := execution.NewMockSubagentFactory()
	factory.Reply = "delegated result"
	exec, scheduler := newTestExecutor(t, execution.Runtime{Subagents: factory})

	task := createTask(t, scheduler, tasks.TaskModeSubagent)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusCompleted)
	}
	if factory.Spawned() != 1 || factory.Closed() != 1 {
		t.Fatalf("subagents spawned/closed = %d/%d, want 1/1", factory.Spawned(), factory.Closed())
	}
}

func TestSubagentClosedOnFailure(t *testing.T) {
	factory := execution.NewMockSubagentFactory()
	factory.RunErr = errors.New("delegate crashed")
	exec, scheduler := newTestExecutor(t, execution.Runtime{Subagents: factory})

	task := createTask(t, scheduler, tasks.TaskModeSubagent)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusFailed)
	}
	if factory.Closed() != 1 {
		t.Fatalf("subagent closed %d times after failure, want 1", factory.Closed())
	}
}

func TestBackgroundTaskCompletes(t *testing.T) {
	runner := execution.NewMockBackgroundRunner()
	progress := 0.5
	runner.Statuses = []execution.RunStatus{
		{Done: false, Progress: &progress, Message: "half"},
		{Done: true, Result: "background done"},
	}
	exec, scheduler := newTestExecutor(t, execution.Runtime{Background: runner})

	task := createTask(t, scheduler, tasks.TaskModeBackground)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusCompleted)
	}
	if got.Result != "background done" {
		t.Fatalf("Result = %q, want %q", got.Result, "background done")
	}
}

func TestBackgroundTaskTimesOut(t *testing.T) {
	runner := execution.NewMockBackgroundRunner()
	runner.Statuses = []execution.RunStatus{{Done: false}}
	exec, scheduler := newTestExecutor(t, execution.Runtime{Background: runner})

	task := createTask(t, scheduler, tasks.TaskModeBackground)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q after poll ceiling", got.Status, tasks.TaskStatusFailed)
	}
	if !strings.Contains(got.Error, "did not finish") {
		t.Fatalf("Error = %q, want timeout message", got.Error)
	}
	if runner.Stopped() != 1 {
		t.Fatalf("background run stopped %d times, want 1", runner.Stopped())
	}
}

func TestBackgroundTaskObservesCancelRequest(t *testing.T) {
	runner := execution.NewMockBackgroundRunner()
	runner.Statuses = []execution.RunStatus{{Done: false}}
	scheduler := tasks.NewScheduler(tasks.NewMemoryStore(), nil)
	// Generous poll budget so the cancel request, not the ceiling, ends the run.
	exec := New(Config{
		DequeueTimeout:         time.Second,
		BackgroundPollInterval: 10 * time.Millisecond,
		BackgroundMaxPolls:     500,
	}, scheduler, execution.Runtime{Background: runner}, nil)

	task := createTask(t, scheduler, tasks.TaskModeBackground)

	done := make(chan struct{})
	go func() {
		defer close(done)
		exec.Execute(context.Background(), task)
	}()

	// Wait for the claim to land, then request cancellation.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if getTask(t, scheduler, task.ID).Status == tasks.TaskStatusRunning {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := scheduler.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Execute() did not return after cancel request")
	}

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusCancelled {
		t.Fatalf("Status = %q, want %q", got.Status, tasks.TaskStatusCancelled)
	}
	if runner.Stopped() != 1 {
		t.Fatalf("background run stopped %d times, want 1", runner.Stopped())
	}
}

func TestMissingRunnerFailsTask(t *testing.T) {
	exec, scheduler := newTestExecutor(t, execution.Runtime{})

	task := createTask(t, scheduler, tasks.TaskModeWorker)
	exec.Execute(context.Background(), task)

	got := getTask(t, scheduler, task.ID)
	if got.Status != tasks.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q with no runner wired", got.Status, tasks.TaskStatusFailed)
	}
}

func TestRunDrainsQueue(t *testing.T) {
	runner := execution.NewMockToolRunner()
	exec, scheduler := newTestExecutor(t, execution.Runtime{Tools: runner})

	first := createTask(t, scheduler, tasks.TaskModeWorker)
	second := createTask(t, scheduler, tasks.TaskModeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	go exec.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a := getTask(t, scheduler, first.ID)
		b := getTask(t, scheduler, second.ID)
		if a.Status == tasks.TaskStatusCompleted && b.Status == tasks.TaskStatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Run() did not complete both queued tasks")
}
