package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

var (
	// ErrSelfDependency is returned when a task is asked to depend on itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")
	// ErrDuplicateEdge is returned when the dependency already exists.
	ErrDuplicateEdge = errors.New("dependency already exists")
)

// DependencyMutator issues dependency edge mutations against the board API.
type DependencyMutator interface {
	AddDependency(ctx context.Context, taskID, dependsOnID string) error
	RemoveDependency(ctx context.Context, taskID, dependsOnID string) error
}

// Graph maintains depends-on/blocks edges per task and derives the blocked
// flag used to dim and lock cards. Edges are indexed from both ends; no
// acyclicity is assumed or enforced at this layer.
type Graph struct {
	mutator DependencyMutator
	logger  *log.Logger

	mu        sync.Mutex
	tasks     map[string]domain.Task
	dependsOn map[string][]string
	blocks    map[string][]string
	order     []string
}

// NewGraph creates a Graph issuing edge edits through mutator.
func NewGraph(mutator DependencyMutator, logger *log.Logger) *Graph {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Graph{
		mutator:   mutator,
		logger:    logger,
		tasks:     make(map[string]domain.Task),
		dependsOn: make(map[string][]string),
		blocks:    make(map[string][]string),
	}
}

// Rebuild reindexes the edge set from the latest authoritative snapshot.
func (g *Graph) Rebuild(snapshot domain.Snapshot) {
	tasks := make(map[string]domain.Task)
	dependsOn := make(map[string][]string)
	blocks := make(map[string][]string)
	var order []string

	for _, t := range snapshot.Flatten() {
		tasks[t.ID] = t
		order = append(order, t.ID)
		for _, dep := range t.DependsOnIDs {
			dependsOn[t.ID] = append(dependsOn[t.ID], dep)
			blocks[dep] = append(blocks[dep], t.ID)
		}
	}

	g.mu.Lock()
	g.tasks = tasks
	g.dependsOn = dependsOn
	g.blocks = blocks
	g.order = order
	g.mu.Unlock()
}

// EdgesFor returns both directed views of the edges touching taskID. Edges
// pointing at tasks absent from the snapshot are omitted.
func (g *Graph) EdgesFor(taskID string) domain.DependencyEdges {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := domain.DependencyEdges{
		DependsOn: []domain.TaskSummary{},
		Blocks:    []domain.TaskSummary{},
	}
	for _, id := range g.dependsOn[taskID] {
		if t, ok := g.tasks[id]; ok {
			out.DependsOn = append(out.DependsOn, t.Summary())
		}
	}
	for _, id := range g.blocks[taskID] {
		if t, ok := g.tasks[id]; ok {
			out.Blocks = append(out.Blocks, t.Summary())
		}
	}
	return out
}

// IsBlocked reports whether taskID has at least one dependency whose task is
// not done. A task with zero dependencies is never blocked.
func (g *Graph) IsBlocked(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.dependsOn[taskID] {
		if t, ok := g.tasks[id]; ok && t.Status != domain.StatusDone {
			return true
		}
	}
	return false
}

// AddEdge records that taskID depends on dependsOnID. Self-edges and
// duplicates are rejected synchronously, before any network call. On success
// the edge is indexed immediately; the next snapshot confirms it.
func (g *Graph) AddEdge(ctx context.Context, taskID, dependsOnID string) error {
	if taskID == dependsOnID {
		return ErrSelfDependency
	}
	g.mu.Lock()
	for _, id := range g.dependsOn[taskID] {
		if id == dependsOnID {
			g.mu.Unlock()
			return ErrDuplicateEdge
		}
	}
	g.mu.Unlock()

	metrics, ctx := newMutationMetrics(ctx, g.logger, domain.CommandAddDependency, taskID)
	err := g.mutator.AddDependency(ctx, taskID, dependsOnID)
	metrics.Log(err)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.dependsOn[taskID] = append(g.dependsOn[taskID], dependsOnID)
	g.blocks[dependsOnID] = append(g.blocks[dependsOnID], taskID)
	g.mu.Unlock()
	return nil
}

// RemoveEdge deletes the depends-on edge and recomputes both endpoints'
// derived views.
func (g *Graph) RemoveEdge(ctx context.Context, taskID, dependsOnID string) error {
	metrics, ctx := newMutationMetrics(ctx, g.logger, domain.CommandRemoveDependency, taskID)
	err := g.mutator.RemoveDependency(ctx, taskID, dependsOnID)
	metrics.Log(err)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.dependsOn[taskID] = remove(g.dependsOn[taskID], dependsOnID)
	g.blocks[dependsOnID] = remove(g.blocks[dependsOnID], taskID)
	g.mu.Unlock()
	return nil
}

// Candidates lists the tasks that may be offered as a new dependency for
// taskID: every task except itself and its existing depends-on ids, in board
// order. Dependents are deliberately not excluded, so a cycle can still be
// constructed through two separate edits.
func (g *Graph) Candidates(taskID string) []domain.TaskSummary {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing := make(map[string]bool, len(g.dependsOn[taskID]))
	for _, id := range g.dependsOn[taskID] {
		existing[id] = true
	}

	out := []domain.TaskSummary{}
	for _, id := range g.order {
		if id == taskID || existing[id] {
			continue
		}
		out = append(out, g.tasks[id].Summary())
	}
	return out
}

func remove(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
