// Package distributed runs passes over dataset ranges on remote or
// in-process workers and merges their partial results.
//
// A Coordinator splits the dataset into disjoint ranges and sends one Task
// per range through a Transport. Workers replay the graph from its spec,
// compute the requested actions over their range and answer with encoded
// partial accumulators, which the coordinator merges in range order.
package distributed

import (
	"fmt"

	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/graph"
)

// Source tells a worker where the rows of a task come from: an origin the
// worker opens itself, or the range shipped inline as an Arrow IPC stream.
type Source struct {
	Origin *dataset.Origin `json:"origin,omitempty"`
	Inline []byte          `json:"inline,omitempty"`
}

// Task asks a worker to compute actions over one range of a dataset.
type Task struct {
	ID    string     `json:"id"`
	RunID string     `json:"run_id,omitempty"`
	Graph graph.Spec `json:"graph"`
	// Fingerprint of the coordinator's graph over its dataset schema. When
	// set, the replayed graph must match it.
	Fingerprint uint64         `json:"fingerprint,omitempty"`
	Actions     []graph.NodeID `json:"actions"`
	Source      Source         `json:"source"`
	// Range addresses rows of the origin. Inline sources hold exactly the
	// rows of the range.
	Range dataset.Range `json:"range"`
}

// Validate checks that the task is complete.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if len(t.Actions) == 0 {
		return fmt.Errorf("task %s has no actions", t.ID)
	}
	if t.Source.Origin == nil && t.Source.Inline == nil {
		return fmt.Errorf("task %s has no data source", t.ID)
	}
	if t.Range.End < t.Range.Start {
		return fmt.Errorf("task %s has invalid range %s", t.ID, t.Range)
	}
	return nil
}

// TaskResult carries the partial accumulators of a task in the order of
// Task.Actions.
type TaskResult struct {
	ID       string           `json:"id"`
	Worker   string           `json:"worker,omitempty"`
	Rows     int              `json:"rows"`
	Partials []action.Partial `json:"partials,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// WorkerError reports a task that failed on, or could not reach, a worker.
type WorkerError struct {
	Worker string
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
