package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ombra-ai/ombra/internal/observability"
	"github.com/ombra-ai/ombra/internal/policy"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidProgress = errors.New("progress must be between 0 and 1")
)

const (
	resultEventLimit = 200
	errorEventLimit  = 500
)

// Scheduler orders pending tasks by (priority desc, created_at asc) on top of
// a Store and hands them to claimants with a compare-and-swap discipline.
// Creation wakes any dequeue waiter; every recorded event is also fanned out
// to in-process subscribers.
type Scheduler struct {
	store   Store
	metrics *observability.Metrics

	mu          sync.Mutex
	wake        chan struct{}
	subscribers map[int]chan TaskEvent
	nextSubID   int
}

func NewScheduler(store Store, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		store:       store,
		metrics:     metrics,
		wake:        make(chan struct{}),
		subscribers: make(map[int]chan TaskEvent),
	}
}

// Subscribe returns a feed of task events and a release func. Slow consumers
// miss events rather than blocking writers.
func (s *Scheduler) Subscribe() (<-chan TaskEvent, func()) {
	ch := make(chan TaskEvent, 256)
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

func (s *Scheduler) Create(ctx context.Context, description string, mode TaskMode, priority TaskPriority, createdBy string, metadata map[string]any) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, errors.New("description is required")
	}
	if createdBy == "" {
		createdBy = "agent"
	}
	now := time.Now().UTC()

	task := Task{
		ID:          uuid.NewString(),
		Description: description,
		Mode:        mode,
		Priority:    priority,
		Status:      TaskStatusPending,
		CreatedAt:   now,
		CreatedBy:   createdBy,
		Metadata:    metadata,
	}
	// The audit trail may be surfaced to other channels; keep raw PII out
	// of it. The task row keeps the original description.
	redacted, _ := policy.RedactPII(description)
	event := newEvent(task.ID, EventCreated, map[string]any{
		"description": redacted,
		"mode":        string(mode),
	})
	if err := s.store.InsertTask(ctx, task, event); err != nil {
		return Task{}, err
	}

	s.wakeWaiters()
	s.publish(event)
	s.metrics.ObserveTaskEvent("created")
	return task, nil
}

// Dequeue returns the next pending task, blocking up to timeout for one to be
// created. The second return is false when the wait timed out; callers loop.
func (s *Scheduler) Dequeue(ctx context.Context, timeout time.Duration) (Task, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		wake := s.wakeChan()

		task, ok, err := s.store.NextPending(ctx)
		if err != nil {
			return Task{}, false, err
		}
		if ok {
			return task, true, nil
		}

		select {
		case <-ctx.Done():
			return Task{}, false, ctx.Err()
		case <-deadline.C:
			return Task{}, false, nil
		case <-wake:
		}
	}
}

// Claim performs the pending -> running transition. False means another
// claimant won the race; that is not an error.
func (s *Scheduler) Claim(ctx context.Context, taskID string) (bool, error) {
	now := time.Now().UTC()
	event := newEvent(taskID, EventStarted, nil)
	claimed, err := s.store.MarkRunning(ctx, taskID, now, event)
	if err != nil {
		return false, err
	}
	if claimed {
		s.publish(event)
	}
	return claimed, nil
}

func (s *Scheduler) ReportProgress(ctx context.Context, taskID string, progress float64, message string) error {
	if progress < 0 || progress > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, progress)
	}
	event := newEvent(taskID, EventProgress, map[string]any{
		"progress": progress,
		"message":  message,
	})
	if err := s.store.SetProgress(ctx, taskID, progress, message, event); err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	s.publish(event)
	return nil
}

func (s *Scheduler) Complete(ctx context.Context, taskID, result string) error {
	now := time.Now().UTC()
	event := newEvent(taskID, EventCompleted, map[string]any{
		"result": truncate(result, resultEventLimit),
	})
	done, err := s.store.MarkCompleted(ctx, taskID, result, now, event)
	if err != nil {
		return err
	}
	if done {
		s.publish(event)
		s.metrics.ObserveTaskEvent("completed")
	}
	return nil
}

func (s *Scheduler) Fail(ctx context.Context, taskID, errMsg string) error {
	now := time.Now().UTC()
	event := newEvent(taskID, EventFailed, map[string]any{
		"error": truncate(errMsg, errorEventLimit),
	})
	done, err := s.store.MarkFailed(ctx, taskID, errMsg, now, event)
	if err != nil {
		return err
	}
	if done {
		s.publish(event)
		s.metrics.ObserveTaskEvent("failed")
	}
	return nil
}

// Cancel cancels a pending task synchronously; for a running task it only
// raises the cooperative cancel flag. Terminal tasks report false.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) (bool, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return false, err
	}

	switch task.Status {
	case TaskStatusPending:
		now := time.Now().UTC()
		event := newEvent(taskID, EventCancelled, map[string]any{"reason": "user_requested"})
		done, err := s.store.MarkCancelled(ctx, taskID, TaskStatusPending, now, event)
		if err != nil {
			return false, err
		}
		if done {
			s.publish(event)
			s.metrics.ObserveTaskEvent("cancelled")
		}
		return done, nil
	case TaskStatusRunning:
		event := newEvent(taskID, EventCancelRequested, nil)
		done, err := s.store.SetCancelRequested(ctx, taskID, event)
		if err != nil {
			return false, err
		}
		if done {
			s.publish(event)
			s.metrics.ObserveTaskEvent("cancel_requested")
		}
		return done, nil
	default:
		return false, nil
	}
}

// AcknowledgeCancel is the executor-side half of cooperative cancellation:
// the running -> cancelled transition performed at a checkpoint.
func (s *Scheduler) AcknowledgeCancel(ctx context.Context, taskID string) (bool, error) {
	now := time.Now().UTC()
	event := newEvent(taskID, EventCancelled, map[string]any{"reason": "user_requested"})
	done, err := s.store.MarkCancelled(ctx, taskID, TaskStatusRunning, now, event)
	if err != nil {
		return false, err
	}
	if done {
		s.publish(event)
		s.metrics.ObserveTaskEvent("cancelled")
	}
	return done, nil
}

func (s *Scheduler) CancellationRequested(ctx context.Context, taskID string) (bool, error) {
	requested, err := s.store.CancelRequested(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return false, ErrTaskNotFound
		}
		return false, err
	}
	return requested, nil
}

func (s *Scheduler) Get(ctx context.Context, taskID string) (Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return task, nil
}

func (s *Scheduler) List(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	return s.store.ListTasks(ctx, status, limit)
}

func (s *Scheduler) Events(ctx context.Context, taskID string) ([]TaskEvent, error) {
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, taskID)
}

func (s *Scheduler) Stats(ctx context.Context) (map[TaskStatus]int, error) {
	return s.store.Stats(ctx)
}

// wakeChan must be read before querying the store so a create landing between
// the query and the wait is never missed.
func (s *Scheduler) wakeChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake
}

func (s *Scheduler) wakeWaiters() {
	s.mu.Lock()
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
}

func (s *Scheduler) publish(event TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func newEvent(taskID string, eventType EventType, data map[string]any) TaskEvent {
	return TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
