package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/sage/internal/log"
)

func TestSessionHandler_Create(t *testing.T) {
	h := NewSessionHandler(log.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	w := httptest.NewRecorder()

	h.create(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	_, err := uuid.Parse(resp.SessionID)
	assert.NoError(t, err, "session_id should be a valid uuid")
}

func TestSessionHandler_CreateUnique(t *testing.T) {
	h := NewSessionHandler(log.NewNop())

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.create(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, seen[resp.SessionID], "duplicate session id %s", resp.SessionID)
		seen[resp.SessionID] = true
	}
}
