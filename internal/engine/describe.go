package engine

import (
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/monitoring"
)

// Describe returns the graph as a plan tree. Node costs estimate the rows
// each node reads: the dataset size, since filters are not evaluated.
func (e *Engine) Describe() *monitoring.QueryPlan {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows := int64(e.ds.Len())
	var build func(id graph.NodeID) monitoring.PlanNode
	build = func(id graph.NodeID) monitoring.PlanNode {
		n, _ := e.graph.Node(id)
		node := monitoring.PlanNode{
			ID:          int(id),
			Type:        string(n.Kind),
			Description: n.Describe(),
		}
		if n.Kind != graph.KindRoot {
			node.Cost = rows
		}
		if h, ok := e.handles[id]; ok && h.done {
			node.Description += " [done]"
		}
		for _, child := range e.graph.Children(id) {
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	plan := &monitoring.QueryPlan{
		Operations: []monitoring.PlanNode{build(graph.RootID)},
	}
	plan.Estimated = monitoring.PlanMetrics{
		TotalCost:     plan.CalculateTotalCost(),
		RowsProcessed: rows,
		MemoryUsed:    e.ds.EstimateBytes(dataset.Range{Start: 0, End: e.ds.Len()}),
	}
	plan.Actual = monitoring.PlanMetrics{
		RowsProcessed: e.rows,
	}
	return plan
}
