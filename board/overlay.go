package board

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// MoveMutator issues the cross-column move mutation against the board API.
type MoveMutator interface {
	MoveTask(ctx context.Context, taskID string, target domain.Status) error
}

// Overlay reconciles the latest authoritative snapshot with the set of
// locally pending moves, so a dragged card never snaps back to its old column
// before the server confirms the move. The pending set is the only mutable
// shared state in the subsystem and is owned exclusively by the Overlay.
type Overlay struct {
	mutator MoveMutator
	logger  *log.Logger
	timeout time.Duration

	mu       sync.Mutex
	snapshot domain.Snapshot
	pending  map[string]domain.PendingMove

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOverlay creates an Overlay issuing moves through mutator.
func NewOverlay(mutator MoveMutator, logger *log.Logger) *Overlay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Overlay{
		mutator:  mutator,
		logger:   logger,
		timeout:  30 * time.Second,
		snapshot: domain.Snapshot{},
		pending:  make(map[string]domain.PendingMove),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ActiveMoves keeps only the pending moves the snapshot has not yet
// confirmed. It is pure and recomputed on every render, never incrementally
// maintained, so a stale entry cannot outlive the authoritative source
// catching up.
func ActiveMoves(pending map[string]domain.PendingMove, snapshot domain.Snapshot) map[string]domain.PendingMove {
	if len(pending) == 0 {
		return nil
	}
	active := make(map[string]domain.PendingMove, len(pending))
	for id, mv := range pending {
		if !snapshot.Contains(mv.TargetStatus, id) {
			active[id] = mv
		}
	}
	if len(active) == 0 {
		return nil
	}
	return active
}

// ColumnView returns the tasks to render for status right now, given the
// current snapshot and pending moves.
func (o *Overlay) ColumnView(status domain.Status) []domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return columnView(status, o.snapshot, ActiveMoves(o.pending, o.snapshot))
}

// Columns renders every board column at once under a single derivation.
func (o *Overlay) Columns() map[domain.Status][]domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	active := ActiveMoves(o.pending, o.snapshot)
	out := make(map[domain.Status][]domain.Task, len(domain.Statuses))
	for _, status := range domain.Statuses {
		out[status] = columnView(status, o.snapshot, active)
	}
	return out
}

func columnView(status domain.Status, snapshot domain.Snapshot, active map[string]domain.PendingMove) []domain.Task {
	if len(active) == 0 {
		return append([]domain.Task(nil), snapshot[status]...)
	}

	// Flatten and re-partition: a task with an active move renders in its
	// target column, everything else stays in its snapshot column. A task can
	// never appear in two columns or vanish from all of them.
	natives := make([]domain.Task, 0, len(snapshot[status]))
	movers := make([]domain.Task, 0, len(active))
	for _, task := range snapshot.Flatten() {
		mv, moving := active[task.ID]
		switch {
		case moving && mv.TargetStatus == status:
			movers = append(movers, task)
		case moving:
			// renders in its target column, not here
		case task.Status == status:
			natives = append(natives, task)
		}
	}

	// Moved-in cards append after the column's authoritative cards, oldest
	// move first. The server assigns the real position once it confirms.
	sort.SliceStable(movers, func(i, j int) bool {
		a, b := active[movers[i].ID].IssuedAt, active[movers[j].ID].IssuedAt
		if a.Equal(b) {
			return movers[i].ID < movers[j].ID
		}
		return a.Before(b)
	})
	return append(natives, movers...)
}

// RecordMove registers a pending move for taskID, replacing any earlier move
// for the same task, and issues the mutation in the background. The caller is
// never blocked; on rejection the move is rolled back and the next render
// restores the task's authoritative column.
func (o *Overlay) RecordMove(taskID string, target domain.Status) {
	o.mu.Lock()
	o.pending[taskID] = domain.PendingMove{
		TaskID:       taskID,
		TargetStatus: target,
		IssuedAt:     time.Now(),
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		metrics, ctx := newMutationMetrics(o.ctx, o.logger, domain.CommandMoveTask, taskID)
		ctx, cancelTimeout := context.WithTimeout(ctx, o.timeout)
		defer cancelTimeout()

		err := o.mutator.MoveTask(ctx, taskID, target)
		metrics.Log(err)
		if err == nil {
			return
		}
		if o.ctx.Err() != nil {
			// View torn down while the call was in flight; discard the result.
			return
		}
		o.logger.WithError(err).WithFields(log.Fields{
			"task":   taskID,
			"target": target,
		}).Error("move rejected, rolling back")
		o.RollbackMove(taskID)
	}()
}

// RollbackMove removes the pending move for taskID. It is invoked when the
// issuing mutation fails.
func (o *Overlay) RollbackMove(taskID string) {
	o.mu.Lock()
	delete(o.pending, taskID)
	o.mu.Unlock()
}

// ApplySnapshot replaces the authoritative snapshot (most-recent-wins) and
// drops pending moves the snapshot already confirms.
func (o *Overlay) ApplySnapshot(snapshot domain.Snapshot) {
	if snapshot == nil {
		snapshot = domain.Snapshot{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshot = snapshot
	for id, mv := range o.pending {
		if snapshot.Contains(mv.TargetStatus, id) {
			delete(o.pending, id)
		}
	}
}

// Snapshot returns the current authoritative snapshot.
func (o *Overlay) Snapshot() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// PendingMoves lists the pending set, oldest first.
func (o *Overlay) PendingMoves() []domain.PendingMove {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.PendingMove, 0, len(o.pending))
	for _, mv := range o.pending {
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Close cancels in-flight mutation calls and waits for their goroutines.
// Results arriving after Close are discarded.
func (o *Overlay) Close() {
	o.cancel()
	o.wg.Wait()
}
