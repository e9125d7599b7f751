package domain

// DependencyEdge is a directed pair: TaskID depends on DependsOnID.
type DependencyEdge struct {
	TaskID      string `json:"taskId"`
	DependsOnID string `json:"dependsOnId"`
}

// DependencyEdges holds both directed views of the edges touching a task.
type DependencyEdges struct {
	DependsOn []TaskSummary `json:"dependsOn"`
	Blocks    []TaskSummary `json:"blocks"`
}
