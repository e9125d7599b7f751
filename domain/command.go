package domain

import "github.com/bytedance/sonic"

// Command represents a write request sent to the board API. The ID carries
// the idempotency key so retried submissions collapse server-side.
type Command struct {
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// Command types understood by the board API.
const (
	CommandMoveTask         = "move-task"
	CommandReorderTask      = "reorder-task"
	CommandAddDependency    = "add-dependency"
	CommandRemoveDependency = "remove-dependency"
)

// EntityTypeTask is the entity type for all board card commands.
const EntityTypeTask = "task"

// MoveTaskPayload moves a task to another column. No destination index
// travels with the move; ordering in the target column is the server's call.
type MoveTaskPayload struct {
	TaskID       string `json:"taskId"`
	TargetStatus Status `json:"targetStatus"`
}

// ReorderTaskPayload repositions a task within its column. The server
// recomputes ordinal positions for the affected range.
type ReorderTaskPayload struct {
	TaskID   string `json:"taskId"`
	Status   Status `json:"status"`
	NewIndex int    `json:"newIndex"`
}

// DependencyPayload adds or removes a depends-on edge.
type DependencyPayload struct {
	TaskID      string `json:"taskId"`
	DependsOnID string `json:"dependsOnId"`
}
