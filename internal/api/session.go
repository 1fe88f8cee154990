package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/calyptra/sage/internal/log"
)

// SessionHandler mints session ids. Sessions are created lazily on first
// message, so this endpoint only hands out an identifier for the client to
// thread through subsequent requests.
type SessionHandler struct {
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(logger log.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
}

// CreateSessionResponse is the response body for session creation.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *SessionHandler) create(w http.ResponseWriter, _ *http.Request) {
	id := uuid.NewString()
	h.logger.Debug("session created", "session_id", id)
	writeJSON(w, h.logger, http.StatusCreated, CreateSessionResponse{SessionID: id})
}
