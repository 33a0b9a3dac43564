// Package tasktools exposes the task queue as a small tool surface for an
// LLM-driven caller. Every call returns structured JSON text so the model can
// read results without a side channel.
package tasktools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ombra-ai/ombra/internal/tasks"
)

const recentEventLimit = 10

// Toolset wraps a scheduler with the four task tools.
type Toolset struct {
	scheduler *tasks.Scheduler
}

func New(scheduler *tasks.Scheduler) *Toolset {
	return &Toolset{scheduler: scheduler}
}

// SpawnTask enqueues a new task and returns it as JSON. Mode defaults to
// worker and priority to normal when blank.
func (t *Toolset) SpawnTask(ctx context.Context, description, mode, priority, createdBy string) (string, error) {
	taskMode := tasks.TaskModeWorker
	if strings.TrimSpace(mode) != "" {
		parsed, err := tasks.ParseTaskMode(mode)
		if err != nil {
			return errorJSON(err), nil
		}
		taskMode = parsed
	}
	taskPriority := tasks.TaskPriorityNormal
	if strings.TrimSpace(priority) != "" {
		parsed, err := tasks.ParseTaskPriority(priority)
		if err != nil {
			return errorJSON(err), nil
		}
		taskPriority = parsed
	}

	task, err := t.scheduler.Create(ctx, description, taskMode, taskPriority, createdBy, nil)
	if err != nil {
		return errorJSON(err), nil
	}
	return marshal(map[string]any{
		"task":    task,
		"message": fmt.Sprintf("Task %s queued with %s priority.", task.ID, task.Priority),
	})
}

// ListTasks returns tasks newest first, optionally filtered to one status.
func (t *Toolset) ListTasks(ctx context.Context, statusFilter string, limit int) (string, error) {
	var status tasks.TaskStatus
	if strings.TrimSpace(statusFilter) != "" {
		parsed, err := tasks.ParseTaskStatus(statusFilter)
		if err != nil {
			return errorJSON(err), nil
		}
		status = parsed
	}
	if limit <= 0 {
		limit = 20
	}

	list, err := t.scheduler.List(ctx, status, limit)
	if err != nil {
		return errorJSON(err), nil
	}
	if list == nil {
		list = []tasks.Task{}
	}
	return marshal(map[string]any{
		"tasks": list,
		"count": len(list),
	})
}

// GetTaskStatus returns the task's full field set plus its most recent
// events, oldest first.
func (t *Toolset) GetTaskStatus(ctx context.Context, taskID string) (string, error) {
	task, err := t.scheduler.Get(ctx, taskID)
	if err != nil {
		return errorJSON(err), nil
	}
	events, err := t.scheduler.Events(ctx, taskID)
	if err != nil {
		return errorJSON(err), nil
	}
	if len(events) > recentEventLimit {
		events = events[len(events)-recentEventLimit:]
	}
	return marshal(map[string]any{
		"task":          task,
		"recent_events": events,
	})
}

// CancelTask cancels a pending task outright or requests cooperative
// cancellation of a running one.
func (t *Toolset) CancelTask(ctx context.Context, taskID string) (string, error) {
	task, err := t.scheduler.Get(ctx, taskID)
	if err != nil {
		return errorJSON(err), nil
	}

	accepted, err := t.scheduler.Cancel(ctx, taskID)
	if err != nil {
		return errorJSON(err), nil
	}
	if !accepted {
		return marshal(map[string]any{
			"cancelled": false,
			"message":   fmt.Sprintf("Task %s is already %s and cannot be cancelled.", taskID, task.Status),
		})
	}

	message := fmt.Sprintf("Task %s cancelled.", taskID)
	if task.Status == tasks.TaskStatusRunning {
		message = fmt.Sprintf("Cancellation requested for running task %s; it will stop at its next checkpoint.", taskID)
	}
	return marshal(map[string]any{
		"cancelled": true,
		"message":   message,
	})
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
