package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/sage/internal/log"
)

type stubProcessor struct {
	reply string

	gotSessionID string
	gotMessage   string
}

func (s *stubProcessor) ProcessMessage(_ context.Context, sessionID, message string) string {
	s.gotSessionID = sessionID
	s.gotMessage = message
	return s.reply
}

func postMessage(t *testing.T, h *MessageHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/agent/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.handle(w, req)
	return w
}

func TestMessageHandler_Success(t *testing.T) {
	proc := &stubProcessor{reply: "42"}
	h := NewMessageHandler(proc, log.NewNop())

	w := postMessage(t, h, `{"session_id":"s1","message":"what is 6*7?"}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.Reply)
	assert.Equal(t, "s1", resp.SessionID)
	assert.GreaterOrEqual(t, resp.ProcessingTimeMS, int64(0))

	assert.Equal(t, "s1", proc.gotSessionID)
	assert.Equal(t, "what is 6*7?", proc.gotMessage)
}

func TestMessageHandler_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed JSON", `{"session_id":`, "invalid_request"},
		{"missing session id", `{"message":"hi"}`, "missing_session_id"},
		{"blank session id", `{"session_id":"  ","message":"hi"}`, "missing_session_id"},
		{"missing message", `{"session_id":"s1"}`, "missing_message"},
		{"blank message", `{"session_id":"s1","message":"   "}`, "missing_message"},
		{"oversized message", `{"session_id":"s1","message":"` + strings.Repeat("x", MaxMessageLength+1) + `"}`, "message_too_long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMessageHandler(&stubProcessor{}, log.NewNop())

			w := postMessage(t, h, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}
