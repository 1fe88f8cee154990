package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/calyptra/sage/internal/log"
)

type stubReadiness struct{ ready bool }

func (s stubReadiness) Ready() bool { return s.ready }

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(nil, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.liveness(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHealthHandler_Ready(t *testing.T) {
	h := NewHealthHandler(stubReadiness{ready: true}, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.ready(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestHealthHandler_NotReady(t *testing.T) {
	h := NewHealthHandler(stubReadiness{ready: false}, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.ready(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "index not ready")
}

func TestHealthHandler_NilReadiness(t *testing.T) {
	h := NewHealthHandler(nil, log.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.ready(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
