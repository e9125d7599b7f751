package domain

// Session lifecycle event types carried on the stream. Only these are
// forwarded to the dispatch sink; every other well-formed message is retained
// for observability but not dispatched.
const (
	EventSessionStarted   = "session.started"
	EventSessionUpdated   = "session.updated"
	EventSessionCompleted = "session.completed"
	EventSessionCancelled = "session.cancelled"
)

// EventPing is the liveness probe sent on the heartbeat interval.
const EventPing = "ping"

// IsSessionEvent reports whether typ is a recognized session lifecycle type.
func IsSessionEvent(typ string) bool {
	switch typ {
	case EventSessionStarted, EventSessionUpdated, EventSessionCompleted, EventSessionCancelled:
		return true
	}
	return false
}

// SessionEvent is a session lifecycle notification pushed over the stream.
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId,omitempty"`
	Status    string `json:"status,omitempty"`
	Time      int64  `json:"time"`
}

// PingMessage is the heartbeat payload.
type PingMessage struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
}
