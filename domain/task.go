package domain

// Status identifies a board column. The set is closed: tasks only ever live
// in one of these four columns and the client never invents new ones.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusBacklog, StatusReady, StatusInProgress, StatusDone}

// Valid reports whether s names one of the board columns.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Task represents a single board item in the read model. Tasks are owned by
// the authoritative store; the client only ever rearranges them.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       Status   `json:"status"`
	Position     int      `json:"position"`
	UpdatedAt    int64    `json:"updatedAt"`
	DependsOnIDs []string `json:"dependsOnIds,omitempty"`
	BlocksIDs    []string `json:"blocksIds,omitempty"`
}

// Summary returns the reduced listing form of the task.
func (t Task) Summary() TaskSummary {
	return TaskSummary{ID: t.ID, Title: t.Title, Status: t.Status}
}

// TaskSummary is the form used in dependency listings and candidate lists.
type TaskSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status Status `json:"status"`
}
