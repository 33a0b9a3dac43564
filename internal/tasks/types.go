package tasks

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TaskStatusPending:
		return TaskStatusPending, nil
	case TaskStatusRunning:
		return TaskStatusRunning, nil
	case TaskStatusCompleted:
		return TaskStatusCompleted, nil
	case TaskStatusFailed:
		return TaskStatusFailed, nil
	case TaskStatusCancelled:
		return TaskStatusCancelled, nil
	default:
		return "", fmt.Errorf("invalid task status %q", s)
	}
}

func AllStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusRunning,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}

type TaskMode string

const (
	TaskModeWorker     TaskMode = "worker"
	TaskModeSubagent   TaskMode = "subagent"
	TaskModeBackground TaskMode = "background"
)

func ParseTaskMode(s string) (TaskMode, error) {
	switch TaskMode(strings.ToLower(strings.TrimSpace(s))) {
	case TaskModeWorker:
		return TaskModeWorker, nil
	case TaskModeSubagent:
		return TaskModeSubagent, nil
	case TaskModeBackground:
		return TaskModeBackground, nil
	default:
		return "", fmt.Errorf("invalid task mode %q", s)
	}
}

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

func ParseTaskPriority(s string) (TaskPriority, error) {
	switch TaskPriority(strings.ToLower(strings.TrimSpace(s))) {
	case TaskPriorityLow:
		return TaskPriorityLow, nil
	case TaskPriorityNormal:
		return TaskPriorityNormal, nil
	case TaskPriorityHigh:
		return TaskPriorityHigh, nil
	case TaskPriorityUrgent:
		return TaskPriorityUrgent, nil
	default:
		return "", fmt.Errorf("invalid task priority %q", s)
	}
}

// Rank orders priorities for dequeue; lower ranks dequeue first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityUrgent:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityNormal:
		return 2
	default:
		return 3
	}
}

type EventType string

const (
	EventCreated         EventType = "created"
	EventStarted         EventType = "started"
	EventProgress        EventType = "progress"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
	EventCancelled       EventType = "cancelled"
	EventCancelRequested EventType = "cancel_requested"
)

// Task is a durable background job record.
type Task struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	Mode            TaskMode       `json:"mode"`
	Priority        TaskPriority   `json:"priority"`
	Status          TaskStatus     `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	CreatedBy       string         `json:"created_by"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Result          string         `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Progress        *float64       `json:"progress,omitempty"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// TaskEvent is one append-only audit log entry for a task.
type TaskEvent struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		out.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	if t.Progress != nil {
		p := *t.Progress
		out.Progress = &p
	}
	return out
}

func (t Task) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
