package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type addMessageRequest struct {
	ParticipantID string         `json:"participant_id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type addMessageResponse struct {
	ConversationID        string `json:"conversation_id"`
	InterruptedProcessing bool   `json:"interrupted_processing"`
	InterruptedDebounce   bool   `json:"interrupted_debounce"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}

	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		req.ParticipantID = "anonymous"
	}

	interruptedProcessing, interruptedDebounce := s.manager.AddMessage(conversationID, req.ParticipantID, req.Content, req.Metadata)
	respondJSON(w, http.StatusAccepted, addMessageResponse{
		ConversationID:        conversationID,
		InterruptedProcessing: interruptedProcessing,
		InterruptedDebounce:   interruptedDebounce,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}
	active, processing, pending := s.manager.Status(conversationID)
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"active":          active,
		"processing":      processing,
		"pending":         pending,
	})
}

func (s *Server) handleCancelConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}
	cancelled := s.manager.Cancel(conversationID)
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"cancelled":       cancelled,
	})
}
