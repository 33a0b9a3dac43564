package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ombra-ai/ombra/internal/tasks"
)

type createTaskRequest struct {
	Description string         `json:"description"`
	Mode        string         `json:"mode"`
	Priority    string         `json:"priority"`
	CreatedBy   string         `json:"created_by"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := tasks.TaskModeWorker
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := tasks.ParseTaskMode(req.Mode)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		mode = parsed
	}
	priority := tasks.TaskPriorityNormal
	if strings.TrimSpace(req.Priority) != "" {
		parsed, err := tasks.ParseTaskPriority(req.Priority)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_priority", err.Error())
			return
		}
		priority = parsed
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		req.CreatedBy = "api"
	}

	task, err := s.scheduler.Create(r.Context(), req.Description, mode, priority, req.CreatedBy, req.Metadata)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var status tasks.TaskStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := tasks.ParseTaskStatus(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = parsed
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.scheduler.List(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if list == nil {
		list = []tasks.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"count": len(list),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTaskEvents(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	events, err := s.scheduler.Events(r.Context(), task.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "events_failed", err.Error())
		return
	}
	if events == nil {
		events = []tasks.TaskEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": task.ID,
		"events":  events,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	cancelled, err := s.scheduler.Cancel(r.Context(), task.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "invalid_transition",
			"task is already "+string(task.Status)+" and cannot be cancelled")
		return
	}
	updated, err := s.scheduler.Get(r.Context(), task.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scheduler.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (tasks.Task, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return tasks.Task{}, false
	}
	task, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return tasks.Task{}, false
		}
		respondError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return tasks.Task{}, false
	}
	return task, true
}
