package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ombra-ai/ombra/internal/execution"
	"github.com/ombra-ai/ombra/internal/observability"
	"github.com/ombra-ai/ombra/internal/reliability"
	"github.com/ombra-ai/ombra/internal/tasks"
)

// Config controls the executor loop.
type Config struct {
	// DequeueTimeout bounds a single blocking wait for work.
	DequeueTimeout time.Duration
	// BackgroundPollInterval is the delay between status polls of a
	// background run.
	BackgroundPollInterval time.Duration
	// BackgroundMaxPolls caps how many polls a background run gets before
	// it is stopped and failed.
	BackgroundMaxPolls int
}

func (c *Config) applyDefaults() {
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 30 * time.Second
	}
	if c.BackgroundPollInterval <= 0 {
		c.BackgroundPollInterval = 5 * time.Second
	}
	if c.BackgroundMaxPolls <= 0 {
		c.BackgroundMaxPolls = 60
	}
}

// Executor is the single consumer of the scheduler queue. One task runs at a
// time; the dispatch strategy follows the task's mode.
type Executor struct {
	cfg       Config
	scheduler *tasks.Scheduler
	runtime   execution.Runtime
	metrics   *observability.Metrics
}

func New(cfg Config, scheduler *tasks.Scheduler, runtime execution.Runtime, metrics *observability.Metrics) *Executor {
	cfg.applyDefaults()
	return &Executor{
		cfg:       cfg,
		scheduler: scheduler,
		runtime:   runtime,
		metrics:   metrics,
	}
}

// Run consumes tasks until ctx is cancelled. Store failures back off
// exponentially instead of spinning.
func (e *Executor) Run(ctx context.Context) {
	log.Printf("executor started")
	failures := 0
	for {
		task, ok, err := e.scheduler.Dequeue(ctx, e.cfg.DequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("executor stopped")
				return
			}
			delay := reliability.ExponentialBackoff(failures, time.Second, 30*time.Second)
			failures++
			log.Printf("executor dequeue failed (retry in %s): %v", delay, err)
			select {
			case <-ctx.Done():
				log.Printf("executor stopped")
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if !ok {
			continue
		}
		e.Execute(ctx, task)
	}
}

// Execute claims and drives one task to a terminal status. A lost claim race
// is a no-op.
func (e *Executor) Execute(ctx context.Context, task tasks.Task) {
	claimed, err := e.scheduler.Claim(ctx, task.ID)
	if err != nil {
		log.Printf("task %s: claim failed: %v", task.ID, err)
		return
	}
	if !claimed {
		return
	}

	started := time.Now()
	result, runErr := e.runWithRecovery(ctx, task)

	switch {
	case errors.Is(runErr, execution.ErrCancelled):
		if _, err := e.scheduler.AcknowledgeCancel(ctx, task.ID); err != nil {
			log.Printf("task %s: cancel acknowledgement failed: %v", task.ID, err)
		}
	case runErr != nil:
		if err := e.scheduler.Fail(ctx, task.ID, runErr.Error()); err != nil {
			log.Printf("task %s: fail transition failed: %v", task.ID, err)
		}
	default:
		if err := e.scheduler.Complete(ctx, task.ID, result); err != nil {
			log.Printf("task %s: complete transition failed: %v", task.ID, err)
		}
	}
	e.metrics.ObserveTaskDuration(time.Since(started))
}

func (e *Executor) runWithRecovery(ctx context.Context, task tasks.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ObservePanic()
			log.Printf("task %s: panic recovered: %v", task.ID, r)
			result = ""
			err = fmt.Errorf("task execution panicked: %v", r)
		}
	}()

	checkpoint := e.checkpoint(task.ID)

	switch task.Mode {
	case tasks.TaskModeWorker:
		if e.runtime.Tools == nil {
			return "", errors.New("no tool runner configured")
		}
		return e.runtime.Tools.RunTask(ctx, task, checkpoint)
	case tasks.TaskModeSubagent:
		return e.runSubagent(ctx, task, checkpoint)
	case tasks.TaskModeBackground:
		return e.runBackground(ctx, task)
	default:
		return "", fmt.Errorf("unknown task mode %q", task.Mode)
	}
}

// runSubagent spawns an isolated context for the task and tears it down no
// matter how the run ends.
func (e *Executor) runSubagent(ctx context.Context, task tasks.Task, checkpoint execution.Checkpoint) (string, error) {
	if e.runtime.Subagents == nil {
		return "", errors.New("no subagent factory configured")
	}
	agent, err := e.runtime.Subagents.Spawn(ctx, task)
	if err != nil {
		return "", fmt.Errorf("spawn subagent: %w", err)
	}
	defer func() {
		if closeErr := agent.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.Printf("task %s: subagent close failed: %v", task.ID, closeErr)
		}
	}()
	return agent.Run(ctx, task, checkpoint)
}

// runBackground launches a detached run and polls it until it finishes, is
// cancelled, or exhausts its poll budget.
func (e *Executor) runBackground(ctx context.Context, task tasks.Task) (string, error) {
	if e.runtime.Background == nil {
		return "", errors.New("no background runner configured")
	}
	run, err := e.runtime.Background.Launch(ctx, task)
	if err != nil {
		return "", fmt.Errorf("launch background run: %w", err)
	}

	for i := 0; i < e.cfg.BackgroundMaxPolls; i++ {
		select {
		case <-ctx.Done():
			e.stopRun(ctx, task.ID, run)
			return "", ctx.Err()
		case <-time.After(e.cfg.BackgroundPollInterval):
		}

		requested, err := e.scheduler.CancellationRequested(ctx, task.ID)
		if err != nil {
			log.Printf("task %s: cancel check failed: %v", task.ID, err)
		} else if requested {
			e.stopRun(ctx, task.ID, run)
			return "", execution.ErrCancelled
		}

		status, err := run.Status(ctx)
		if err != nil {
			return "", fmt.Errorf("poll background run: %w", err)
		}
		if status.Done {
			if status.Err != "" {
				return "", errors.New(status.Err)
			}
			return status.Result, nil
		}
		if status.Progress != nil {
			if err := e.scheduler.ReportProgress(ctx, task.ID, *status.Progress, status.Message); err != nil {
				log.Printf("task %s: progress report failed: %v", task.ID, err)
			}
		}
	}

	e.stopRun(ctx, task.ID, run)
	return "", fmt.Errorf("background run did not finish within %s",
		time.Duration(e.cfg.BackgroundMaxPolls)*e.cfg.BackgroundPollInterval)
}

func (e *Executor) stopRun(ctx context.Context, taskID string, run execution.BackgroundRun) {
	if err := run.Stop(context.WithoutCancel(ctx)); err != nil {
		log.Printf("task %s: background stop failed: %v", taskID, err)
	}
}

// checkpoint builds the progress callback handed to runners. It is also the
// cooperative cancellation point: a pending cancel request surfaces as
// execution.ErrCancelled.
func (e *Executor) checkpoint(taskID string) execution.Checkpoint {
	return func(ctx context.Context, progress float64, message string) error {
		requested, err := e.scheduler.CancellationRequested(ctx, taskID)
		if err != nil {
			return err
		}
		if requested {
			return execution.ErrCancelled
		}
		return e.scheduler.ReportProgress(ctx, taskID, progress, message)
	}
}
