// ABOUTME: Bounded per-session conversation memory fed to the LLM tier
// ABOUTME: Keeps the newest turns per session and caps the number of tracked sessions

package engine

import (
	"sync"
	"time"

	"github.com/2389/frontdesk-gateway/internal/llm"
)

type session struct {
	turns    []llm.Turn
	lastSeen time.Time
}

// history is safe for concurrent use.
type history struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxTurns    int
	maxSessions int
	now         func() time.Time
}

func newHistory(maxTurns, maxSessions int) *history {
	return &history{
		sessions:    make(map[string]*session),
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// snapshot returns a copy of the session's turns, oldest first.
func (h *history) snapshot(sessionID string) []llm.Turn {
	if sessionID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]llm.Turn(nil), s.turns...)
}

// append records turns, starting the session if needed.
func (h *history) append(sessionID string, turns ...llm.Turn) {
	if sessionID == "" || h.maxTurns <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		if len(h.sessions) >= h.maxSessions {
			h.evictOldestLocked()
		}
		s = &session{}
		h.sessions[sessionID] = s
	}
	h.addLocked(s, turns)
}

// appendIfActive records turns only for a session that is still tracked.
func (h *history) appendIfActive(sessionID string, turns ...llm.Turn) bool {
	if sessionID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	h.addLocked(s, turns)
	return true
}

func (h *history) addLocked(s *session, turns []llm.Turn) {
	s.turns = append(s.turns, turns...)
	if over := len(s.turns) - h.maxTurns; over > 0 {
		s.turns = append([]llm.Turn(nil), s.turns[over:]...)
	}
	s.lastSeen = h.now()
}

func (h *history) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, s := range h.sessions {
		if oldestID == "" || s.lastSeen.Before(oldest) {
			oldestID, oldest = id, s.lastSeen
		}
	}
	delete(h.sessions, oldestID)
}

// end forgets a session and reports whether it existed.
func (h *history) end(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	return ok
}

func (h *history) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
