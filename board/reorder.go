package board

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// ReorderMutator issues the same-column reorder mutation against the board
// API.
type ReorderMutator interface {
	ReorderTask(ctx context.Context, taskID string, status domain.Status, newIndex int) error
}

// Drop describes a completed drag gesture.
type Drop struct {
	TaskID       string        `json:"taskId"`
	SourceColumn domain.Status `json:"sourceColumn"`
	SourceIndex  int           `json:"sourceIndex"`
	DestColumn   domain.Status `json:"destColumn"`
	DestIndex    int           `json:"destIndex"`
}

// Reorderer turns drag-drop gestures into mutations. Same-column drops become
// reorder mutations carrying an explicit destination index; cross-column
// drops delegate to the overlay, which transmits only the target column.
type Reorderer struct {
	overlay *Overlay
	mutator ReorderMutator
	logger  *log.Logger
}

// NewReorderer creates a Reorderer over the given overlay and mutator.
func NewReorderer(overlay *Overlay, mutator ReorderMutator, logger *log.Logger) *Reorderer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reorderer{overlay: overlay, mutator: mutator, logger: logger}
}

// HandleDrop processes a drag gesture. Dropping a card at its own current
// position is a no-op and produces no mutation.
func (r *Reorderer) HandleDrop(ctx context.Context, drop Drop) error {
	if drop.TaskID == "" {
		return fmt.Errorf("drop without task id")
	}
	if !drop.DestColumn.Valid() {
		return fmt.Errorf("unknown destination column %q", drop.DestColumn)
	}

	if drop.DestColumn == drop.SourceColumn {
		if drop.DestIndex == drop.SourceIndex {
			return nil
		}
		return r.reorder(ctx, drop.TaskID, drop.DestColumn, drop.DestIndex)
	}

	// Ordering in the destination column after a cross-column move is
	// whatever the server assigns; no destination index is transmitted.
	r.overlay.RecordMove(drop.TaskID, drop.DestColumn)
	return nil
}

// MoveToTop reorders the task at (status, index) to the head of its column.
func (r *Reorderer) MoveToTop(ctx context.Context, status domain.Status, index int, taskID string) error {
	return r.HandleDrop(ctx, Drop{
		TaskID:       taskID,
		SourceColumn: status,
		SourceIndex:  index,
		DestColumn:   status,
		DestIndex:    0,
	})
}

// MoveToBottom reorders the task at (status, index) to the tail of its
// column, as currently rendered.
func (r *Reorderer) MoveToBottom(ctx context.Context, status domain.Status, index int, taskID string) error {
	dest := len(r.overlay.ColumnView(status)) - 1
	if dest < 0 {
		dest = 0
	}
	return r.HandleDrop(ctx, Drop{
		TaskID:       taskID,
		SourceColumn: status,
		SourceIndex:  index,
		DestColumn:   status,
		DestIndex:    dest,
	})
}

func (r *Reorderer) reorder(ctx context.Context, taskID string, status domain.Status, newIndex int) error {
	metrics, ctx := newMutationMetrics(ctx, r.logger, domain.CommandReorderTask, taskID)
	// Positions are not renumbered locally; the next authoritative snapshot
	// reflects the new order, accepting a brief inconsistency window.
	err := r.mutator.ReorderTask(ctx, taskID, status, newIndex)
	metrics.Log(err)
	return err
}
