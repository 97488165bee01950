package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/services"
)

// MessageHandler contains HTTP handlers for message operations.
// Also serves as the polling fallback when the websocket is unavailable.
type MessageHandler struct {
	messageService *services.MessageService
	log            zerolog.Logger
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(messageService *services.MessageService, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		log:            log.With().Str("handler", "messages").Logger(),
	}
}

// SendMessage handles POST /api/messages
// Repeating a client_token returns the stored message with 200 instead of 201.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, created, err := h.messageService.SendMessage(req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
		h.log.Debug().Str("message_id", msg.ID).Str("client_token", req.ClientToken).Msg("Duplicate send")
	}
	writeJSON(w, status, msg)
}

// GetConversation handles GET /api/conversations/{id}
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.messageService.GetConversation(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GetMessages handles GET /api/conversations/{id}/messages
// Returns messages for the conversation, optionally filtered by 'after' timestamp.
// Query params:
//   - after: ISO 8601 timestamp to get messages after (for polling)
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	// Parse optional 'after' query param for incremental polling
	var afterTime time.Time
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		parsed, err := time.Parse(time.RFC3339Nano, afterParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'after' timestamp format")
			return
		}
		afterTime = parsed
	}

	messages, err := h.messageService.GetMessages(conversationID, afterTime)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: messages})
}

// DeleteMessage handles DELETE /api/conversations/{id}/messages/{messageID}
// Query params:
//   - actor_id: the user deleting the message
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	err := h.messageService.DeleteMessage(chi.URLParam(r, "id"), chi.URLParam(r, "messageID"), actorID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/conversations/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string `json:"reader_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := h.messageService.MarkRead(chi.URLParam(r, "id"), strings.TrimSpace(req.ReaderID))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
