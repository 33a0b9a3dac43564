package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ombra-ai/ombra/internal/config"
	"github.com/ombra-ai/ombra/internal/conversation"
	"github.com/ombra-ai/ombra/internal/heartbeat"
	"github.com/ombra-ai/ombra/internal/observability"
	"github.com/ombra-ai/ombra/internal/tasks"
)

type Server struct {
	cfg       config.Config
	manager   *conversation.Manager
	scheduler *tasks.Scheduler
	heartbeat *heartbeat.Service
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, manager *conversation.Manager, scheduler *tasks.Scheduler, hb *heartbeat.Service, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		manager:   manager,
		scheduler: scheduler,
		heartbeat: hb,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot tap the event stream if
				// the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/conversations/{id}/messages", s.handleAddMessage)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Post("/v1/conversations/{id}/cancel", s.handleCancelConversation)

	r.Post("/v1/tasks", s.handleCreateTask)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/stats", s.handleTaskStats)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Get("/v1/tasks/{id}/events", s.handleListTaskEvents)
	r.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)
	r.Get("/v1/tasks/events/ws", s.handleTaskEventsWS)

	r.Post("/v1/heartbeat", s.handleHeartbeat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.scheduler.Stats(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	if s.heartbeat == nil {
		respondError(w, http.StatusNotImplemented, "heartbeat_disabled", "heartbeat is not configured")
		return
	}
	s.heartbeat.Trigger()
	respondJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
