// Package session keeps per-session conversation history in memory.
//
// History is append-only: turns are never mutated or removed, and sessions
// live for the process lifetime. There is deliberately no eviction; restart
// clears everything. Session state never leaves the process.
package session

import "sync"

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a turn sent by the end user.
	RoleUser Role = "user"

	// RoleModel marks a turn produced by the model.
	RoleModel Role = "model"
)

// Turn is one message in a session's conversation log.
type Turn struct {
	Role Role
	Text string
}

// History stores conversation logs keyed by session id.
//
// History is safe for concurrent use. Each append is atomic; concurrent
// appends to the same session interleave in arrival order with no further
// ordering guarantee.
type History struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{
		sessions: make(map[string][]Turn),
	}
}

// Append adds one turn to the session's log, creating the session on first
// reference.
func (h *History) Append(sessionID string, turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append(h.sessions[sessionID], turn)
}

// Recent returns the last k turns of the session in arrival order, or fewer
// if the log is shorter. An unknown session yields an empty slice, never an
// error. The returned slice is a copy.
func (h *History) Recent(sessionID string, k int) []Turn {
	if k <= 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.sessions[sessionID]
	if len(turns) > k {
		turns = turns[len(turns)-k:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns the number of turns recorded for the session.
func (h *History) Len(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
