package board

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"board-sync/domain"
)

type fakeReorderMutator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeReorderMutator) ReorderTask(ctx context.Context, taskID string, status domain.Status, newIndex int) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s@%s:%d", taskID, status, newIndex))
	f.mu.Unlock()
	return f.err
}

func (f *fakeReorderMutator) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestReorderer(t *testing.T) (*Reorderer, *Overlay, *fakeMoveMutator, *fakeReorderMutator) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	moves := &fakeMoveMutator{block: make(chan struct{})}
	reorders := &fakeReorderMutator{}
	overlay := NewOverlay(moves, logger)
	t.Cleanup(overlay.Close)
	return NewReorderer(overlay, reorders, logger), overlay, moves, reorders
}

func TestHandleDropAtOwnPositionIsNoOp(t *testing.T) {
	r, overlay, _, reorders := newTestReorderer(t)
	overlay.ApplySnapshot(testSnapshot())

	drop := Drop{
		TaskID:       "a",
		SourceColumn: domain.StatusBacklog,
		SourceIndex:  0,
		DestColumn:   domain.StatusBacklog,
		DestIndex:    0,
	}
	if err := r.HandleDrop(context.Background(), drop); err != nil {
		t.Fatalf("idempotent drop: %v", err)
	}
	if calls := reorders.callList(); len(calls) != 0 {
		t.Fatalf("expected no mutation, got %v", calls)
	}
	if len(overlay.PendingMoves()) != 0 {
		t.Fatal("expected no pending move for idempotent drop")
	}
}

func TestHandleDropSameColumnIssuesReorder(t *testing.T) {
	r, overlay, _, reorders := newTestReorderer(t)
	overlay.ApplySnapshot(testSnapshot())

	drop := Drop{
		TaskID:       "a",
		SourceColumn: domain.StatusBacklog,
		SourceIndex:  0,
		DestColumn:   domain.StatusBacklog,
		DestIndex:    1,
	}
	if err := r.HandleDrop(context.Background(), drop); err != nil {
		t.Fatalf("reorder drop: %v", err)
	}
	calls := reorders.callList()
	if len(calls) != 1 || calls[0] != "a@backlog:1" {
		t.Fatalf("unexpected reorder calls: %v", calls)
	}
	// Positions are not renumbered locally.
	if got := overlay.ColumnView(domain.StatusBacklog); got[0].ID != "a" {
		t.Fatalf("expected local order untouched, got %#v", got)
	}
}

func TestHandleDropCrossColumnDelegatesToOverlay(t *testing.T) {
	r, overlay, _, reorders := newTestReorderer(t)
	overlay.ApplySnapshot(testSnapshot())

	drop := Drop{
		TaskID:       "a",
		SourceColumn: domain.StatusBacklog,
		SourceIndex:  0,
		DestColumn:   domain.StatusReady,
		DestIndex:    0,
	}
	if err := r.HandleDrop(context.Background(), drop); err != nil {
		t.Fatalf("cross-column drop: %v", err)
	}
	if calls := reorders.callList(); len(calls) != 0 {
		t.Fatalf("cross-column drop must not reorder, got %v", calls)
	}
	moves := overlay.PendingMoves()
	if len(moves) != 1 || moves[0].TaskID != "a" || moves[0].TargetStatus != domain.StatusReady {
		t.Fatalf("expected pending move to ready, got %#v", moves)
	}
}

func TestHandleDropRejectsUnknownColumn(t *testing.T) {
	r, _, _, _ := newTestReorderer(t)
	drop := Drop{TaskID: "a", SourceColumn: domain.StatusBacklog, DestColumn: domain.Status("archive")}
	if err := r.HandleDrop(context.Background(), drop); err == nil {
		t.Fatal("expected error for unknown destination column")
	}
}

func TestMoveToTopAndBottom(t *testing.T) {
	r, overlay, _, reorders := newTestReorderer(t)
	overlay.ApplySnapshot(testSnapshot())

	if err := r.MoveToTop(context.Background(), domain.StatusBacklog, 1, "b"); err != nil {
		t.Fatalf("move to top: %v", err)
	}
	if err := r.MoveToBottom(context.Background(), domain.StatusBacklog, 0, "a"); err != nil {
		t.Fatalf("move to bottom: %v", err)
	}
	calls := reorders.callList()
	if len(calls) != 2 || calls[0] != "b@backlog:0" || calls[1] != "a@backlog:1" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestMoveToTopAtTopIsNoOp(t *testing.T) {
	r, overlay, _, reorders := newTestReorderer(t)
	overlay.ApplySnapshot(testSnapshot())

	if err := r.MoveToTop(context.Background(), domain.StatusBacklog, 0, "a"); err != nil {
		t.Fatalf("move to top: %v", err)
	}
	if calls := reorders.callList(); len(calls) != 0 {
		t.Fatalf("expected no mutation, got %v", calls)
	}
}
