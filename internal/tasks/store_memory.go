package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore mirrors the Postgres store semantics without a database.
// It backs tests and single-node setups where DATABASE_URL is unset.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	events map[string][]TaskEvent
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*Task),
		events: make(map[string][]TaskEvent),
	}
}

func (s *MemoryStore) InsertTask(_ context.Context, task Task, event TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := task.Clone()
	s.tasks[task.ID] = &stored
	s.order = append(s.order, task.ID)
	s.events[task.ID] = append(s.events[task.ID], event)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, status TaskStatus, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		task := s.tasks[s.order[i]]
		if task == nil {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, task.Clone())
	}
	return out, nil
}

func (s *MemoryStore) NextPending(_ context.Context) (Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*Task, 0, 4)
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil && t.Status == TaskStatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return Task{}, false, nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority.Rank() != pending[j].Priority.Rank() {
			return pending[i].Priority.Rank() < pending[j].Priority.Rank()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending[0].Clone(), true, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, taskID string, startedAt time.Time, event TaskEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != TaskStatusPending {
		return false, nil
	}
	task.Status = TaskStatusRunning
	at := startedAt
	task.StartedAt = &at
	s.events[taskID] = append(s.events[taskID], event)
	return true, nil
}

func (s *MemoryStore) SetProgress(_ context.Context, taskID string, progress float64, message string, event TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrStoreNotFound
	}
	p := progress
	task.Progress = &p
	task.ProgressMessage = message
	s.events[taskID] = append(s.events[taskID], event)
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, taskID string, result string, at time.Time, event TaskEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != TaskStatusRunning {
		return false, nil
	}
	task.Status = TaskStatusCompleted
	done := at
	task.CompletedAt = &done
	task.Result = result
	full := 1.0
	task.Progress = &full
	s.events[taskID] = append(s.events[taskID], event)
	return true, nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, taskID string, errMsg string, at time.Time, event TaskEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != TaskStatusRunning {
		return false, nil
	}
	task.Status = TaskStatusFailed
	done := at
	task.CompletedAt = &done
	task.Error = errMsg
	s.events[taskID] = append(s.events[taskID], event)
	return true, nil
}

func (s *MemoryStore) MarkCancelled(_ context.Context, taskID string, from TaskStatus, at time.Time, event TaskEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != from {
		return false, nil
	}
	task.Status = TaskStatusCancelled
	done := at
	task.CompletedAt = &done
	s.events[taskID] = append(s.events[taskID], event)
	return true, nil
}

func (s *MemoryStore) SetCancelRequested(_ context.Context, taskID string, event TaskEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != TaskStatusRunning {
		return false, nil
	}
	task.CancelRequested = true
	s.events[taskID] = append(s.events[taskID], event)
	return true, nil
}

func (s *MemoryStore) CancelRequested(_ context.Context, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return false, ErrStoreNotFound
	}
	return task.CancelRequested, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, taskID string) ([]TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[taskID]
	out := make([]TaskEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (map[TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[TaskStatus]int, len(AllStatuses()))
	for _, status := range AllStatuses() {
		stats[status] = 0
	}
	for _, task := range s.tasks {
		stats[task.Status]++
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
