package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/calyptra/sage/internal/log"
)

// MaxMessageLength bounds the accepted message body.
const MaxMessageLength = 10000

// MessageHandler handles the chat endpoint.
type MessageHandler struct {
	processor MessageProcessor
	logger    log.Logger
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(processor MessageProcessor, logger log.Logger) *MessageHandler {
	return &MessageHandler{processor: processor, logger: logger}
}

// RegisterRoutes registers the chat route on the given mux.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /agent/message", h.handle)
}

// MessageRequest is the request body for the chat endpoint.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// MessageResponse is the response body for the chat endpoint.
type MessageResponse struct {
	Reply            string `json:"reply"`
	SessionID        string `json:"session_id"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// handle answers one message. The processor never fails: degraded replies
// come back as 200s, so dispatcher-level trouble is invisible to the
// transport layer.
func (h *MessageHandler) handle(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_message", "message is required")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, h.logger, http.StatusBadRequest, "message_too_long", "message exceeds the maximum length")
		return
	}

	start := time.Now()
	reply := h.processor.ProcessMessage(r.Context(), req.SessionID, req.Message)

	writeJSON(w, h.logger, http.StatusOK, MessageResponse{
		Reply:            reply,
		SessionID:        req.SessionID,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
}
