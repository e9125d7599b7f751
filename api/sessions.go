package api

import (
	"sort"
	"sync"

	"board-sync/domain"
)

// SessionRegistry keeps the latest lifecycle event per session. Its Handle
// method is the transport's dispatch sink.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionEvent
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]domain.SessionEvent)}
}

// Handle records ev as the newest state of its session. Events without a
// session id are dropped; stale events (older than the recorded one) are
// ignored.
func (r *SessionRegistry) Handle(ev domain.SessionEvent) {
	if ev.SessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[ev.SessionID]; ok && cur.Time > ev.Time {
		return
	}
	r.sessions[ev.SessionID] = ev
}

// All lists the latest event per session, newest first.
func (r *SessionRegistry) All() []domain.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionEvent, 0, len(r.sessions))
	for _, ev := range r.sessions {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time == out[j].Time {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Time > out[j].Time
	})
	return out
}
