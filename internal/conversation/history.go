package conversation

import (
	"sync"

	"healthai/internal/domain"
)

// DefaultHistoryMaxTurns bounds each session's history.
const DefaultHistoryMaxTurns = 5

// History keeps the recent turns of every session in memory. Each session
// has its own lock so a turn can hold it from retrieval to commit without
// blocking other sessions.
type History struct {
	maxTurns int

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu      sync.Mutex
	turns   []domain.ConversationTurn
	dropped bool
}

func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryMaxTurns
	}
	return &History{maxTurns: maxTurns, sessions: make(map[string]*session)}
}

// MaxTurns returns the per-session bound.
func (h *History) MaxTurns() int { return h.maxTurns }

// acquire returns the session locked for the caller, creating it if needed.
func (h *History) acquire(id string) *session {
	for {
		h.mu.Lock()
		s, ok := h.sessions[id]
		if !ok {
			s = &session{}
			h.sessions[id] = s
		}
		h.mu.Unlock()
		s.mu.Lock()
		if !s.dropped {
			return s
		}
		s.mu.Unlock()
	}
}

// snapshot returns a copy of the turns. The caller holds s.mu.
func (s *session) snapshot() []domain.ConversationTurn {
	return append([]domain.ConversationTurn(nil), s.turns...)
}

// push appends turn and evicts the oldest turns beyond max. The caller holds s.mu.
func (s *session) push(turn domain.ConversationTurn, max int) {
	s.turns = append(s.turns, turn)
	if over := len(s.turns) - max; over > 0 {
		s.turns = append([]domain.ConversationTurn(nil), s.turns[over:]...)
	}
}

// Turns returns a session's history, oldest first.
func (h *History) Turns(id string) []domain.ConversationTurn {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Append records a completed turn for a session.
func (h *History) Append(id string, turn domain.ConversationTurn) {
	s := h.acquire(id)
	defer s.mu.Unlock()
	s.push(turn, h.maxTurns)
}

// Reset clears a session's turns once any turn in progress on it has
// committed. The session entry is kept so its lock stays unique.
func (h *History) Reset(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.turns = nil
		s.mu.Unlock()
	}
}

// Drop forgets a session once any turn in progress on it has committed.
// A later turn with the same id starts a new session.
func (h *History) Drop(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
	s.turns = nil
	h.mu.Lock()
	if h.sessions[id] == s {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
}

// Sessions returns the number of live sessions.
func (h *History) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
