package api

import (
	"net/http"

	"github.com/calyptra/sage/internal/log"
)

// HealthHandler handles the probe endpoints.
type HealthHandler struct {
	readiness ReadinessChecker
	logger    log.Logger
}

// NewHealthHandler creates a health handler. readiness may be nil, in which
// case /ready always reports unavailable.
func NewHealthHandler(readiness ReadinessChecker, logger log.Logger) *HealthHandler {
	return &HealthHandler{readiness: readiness, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.ready)
}

// liveness returns 200 while the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready returns 200 once the content index has finished building. Requests
// served before that still work, just without retrieval context.
func (h *HealthHandler) ready(w http.ResponseWriter, _ *http.Request) {
	if h.readiness == nil || !h.readiness.Ready() {
		http.Error(w, "index not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
