package domain

import "time"

// PendingMove is a locally issued cross-column move the authoritative store
// has not confirmed yet. At most one pending move exists per task; a newer
// move for the same task replaces the older one. The entry lives until the
// next snapshot shows the task under TargetStatus, or until the issuing
// mutation fails and the move is rolled back.
type PendingMove struct {
	TaskID       string    `json:"taskId"`
	TargetStatus Status    `json:"targetStatus"`
	IssuedAt     time.Time `json:"issuedAt"`
}
