package domain

// Snapshot is the most recently pushed, server-confirmed view of all tasks
// grouped by status. Column slices keep the server's ordering. Snapshots are
// replaced wholesale, never patched, so consumers can treat them as
// immutable.
type Snapshot map[Status][]Task

// Contains reports whether the snapshot lists taskID under status.
func (s Snapshot) Contains(status Status, taskID string) bool {
	for _, t := range s[status] {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

// Flatten returns every task in the snapshot, walking columns in board order.
// The Status field is normalized to the column the snapshot lists the task
// under.
func (s Snapshot) Flatten() []Task {
	total := 0
	for _, tasks := range s {
		total += len(tasks)
	}
	out := make([]Task, 0, total)
	for _, status := range Statuses {
		for _, t := range s[status] {
			t.Status = status
			out = append(out, t)
		}
	}
	return out
}

// Index maps task id to task across all columns.
func (s Snapshot) Index() map[string]Task {
	out := make(map[string]Task)
	for _, t := range s.Flatten() {
		out[t.ID] = t
	}
	return out
}
