package execution

import (
	"context"
	"errors"

	"github.com/ombra-ai/ombra/internal/tasks"
)

// ErrCancelled is returned from a checkpoint when cancellation of the task
// has been requested. Runners stop work and propagate it unchanged.
var ErrCancelled = errors.New("task cancelled")

// Checkpoint reports progress in [0, 1] and doubles as the cooperative
// cancellation point: a non-nil error, ErrCancelled in particular, means the
// runner must abandon the task.
type Checkpoint func(ctx context.Context, progress float64, message string) error

// ToolRunner executes a task inline with full access to the agent's tools.
type ToolRunner interface {
	RunTask(ctx context.Context, task tasks.Task, checkpoint Checkpoint) (string, error)
}

// Subagent is an isolated execution context for a single task. Close must be
// called exactly once regardless of outcome.
type Subagent interface {
	Run(ctx context.Context, task tasks.Task, checkpoint Checkpoint) (string, error)
	Close(ctx context.Context) error
}

// SubagentFactory spawns a fresh Subagent per task.
type SubagentFactory interface {
	Spawn(ctx context.Context, task tasks.Task) (Subagent, error)
}

// RunStatus is a snapshot of a detached background run.
type RunStatus struct {
	Done     bool
	Result   string
	Err      string
	Progress *float64
	Message  string
}

// BackgroundRun is a handle over a fire-and-forget process. Stop is best
// effort and may be called after the run already finished.
type BackgroundRun interface {
	Status(ctx context.Context) (RunStatus, error)
	Stop(ctx context.Context) error
}

// BackgroundRunner launches tasks that outlive the polling executor.
type BackgroundRunner interface {
	Launch(ctx context.Context, task tasks.Task) (BackgroundRun, error)
}

// Runtime bundles the three execution strategies an executor dispatches on
// task mode. Any field may be nil; tasks in that mode then fail cleanly.
type Runtime struct {
	Tools      ToolRunner
	Subagents  SubagentFactory
	Background BackgroundRunner
}
