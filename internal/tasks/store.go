package tasks

import (
	"context"
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Store is the durable table pair behind the scheduler: a mutable task row
// plus an append-only event log. Status transitions are conditional writes;
// a Mark* call reports false when the stored status no longer matches the
// expected prior state, which is how concurrent claims stay race-safe.
type Store interface {
	// InsertTask persists a new pending task and its created event atomically.
	InsertTask(ctx context.Context, task Task, event TaskEvent) error

	GetTask(ctx context.Context, taskID string) (Task, error)

	// ListTasks returns tasks newest-first, optionally filtered by status
	// (empty means all).
	ListTasks(ctx context.Context, status TaskStatus, limit int) ([]Task, error)

	// NextPending returns the pending task that dequeues first: highest
	// priority, then earliest created_at. The second return is false when no
	// pending task exists.
	NextPending(ctx context.Context) (Task, bool, error)

	// MarkRunning transitions pending -> running. Exactly one concurrent
	// caller observes true.
	MarkRunning(ctx context.Context, taskID string, startedAt time.Time, event TaskEvent) (bool, error)

	// SetProgress updates progress fields without touching status.
	SetProgress(ctx context.Context, taskID string, progress float64, message string, event TaskEvent) error

	// MarkCompleted transitions running -> completed and pins progress at 1.0.
	MarkCompleted(ctx context.Context, taskID string, result string, at time.Time, event TaskEvent) (bool, error)

	// MarkFailed transitions running -> failed.
	MarkFailed(ctx context.Context, taskID string, errMsg string, at time.Time, event TaskEvent) (bool, error)

	// MarkCancelled transitions from -> cancelled, where from is pending
	// (nothing owns the task yet) or running (executor acknowledging a
	// cooperative cancel at a checkpoint).
	MarkCancelled(ctx context.Context, taskID string, from TaskStatus, at time.Time, event TaskEvent) (bool, error)

	// SetCancelRequested raises the cooperative cancel flag on a running
	// task without changing its status.
	SetCancelRequested(ctx context.Context, taskID string, event TaskEvent) (bool, error)

	CancelRequested(ctx context.Context, taskID string) (bool, error)

	// ListEvents returns the full audit trail for a task, oldest first.
	ListEvents(ctx context.Context, taskID string) ([]TaskEvent, error)

	// Stats counts tasks per status.
	Stats(ctx context.Context) (map[TaskStatus]int, error)

	Close() error
}
