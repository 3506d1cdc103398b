package monitoring

import (
	"github.com/goccy/go-json"
)

// PlanNode represents a single node of a computation graph in a plan.
type PlanNode struct {
	ID          int        `json:"id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Children    []PlanNode `json:"children,omitempty"`
	Cost        int64      `json:"cost"`
}

// PlanMetrics contains size estimates or measurements for a plan.
type PlanMetrics struct {
	TotalCost     int64 `json:"total_cost"`
	RowsProcessed int64 `json:"rows_processed"`
	MemoryUsed    int64 `json:"memory_used"`
}

// QueryPlan represents a computation graph as a tree of operations.
type QueryPlan struct {
	Operations []PlanNode  `json:"operations"`
	Estimated  PlanMetrics `json:"estimated"`
	Actual     PlanMetrics `json:"actual,omitempty"`
}

// ToJSON renders the plan as indented JSON.
func (qp *QueryPlan) ToJSON() ([]byte, error) {
	return json.MarshalIndent(qp, "", "  ")
}

// FromJSON replaces qp with a plan decoded from data.
func (qp *QueryPlan) FromJSON(data []byte) error {
	return json.Unmarshal(data, qp)
}

// walk visits every node depth-first until fn returns false.
func (qp *QueryPlan) walk(fn func(n *PlanNode) bool) {
	var visit func(nodes []PlanNode) bool
	visit = func(nodes []PlanNode) bool {
		for i := range nodes {
			if !fn(&nodes[i]) || !visit(nodes[i].Children) {
				return false
			}
		}
		return true
	}
	visit(qp.Operations)
}

// CalculateTotalCost sums the cost of every node in the plan.
func (qp *QueryPlan) CalculateTotalCost() int64 {
	var total int64
	qp.walk(func(n *PlanNode) bool {
		total += n.Cost
		return true
	})
	return total
}

// GetOperationCount returns the number of nodes in the plan.
func (qp *QueryPlan) GetOperationCount() int {
	count := 0
	qp.walk(func(*PlanNode) bool {
		count++
		return true
	})
	return count
}

// Find returns the plan node with the given id.
func (qp *QueryPlan) Find(id int) (PlanNode, bool) {
	var found *PlanNode
	qp.walk(func(n *PlanNode) bool {
		if n.ID == id {
			found = n
		}
		return found == nil
	})
	if found == nil {
		return PlanNode{}, false
	}
	return *found, true
}

// String returns a string representation of the query plan.
func (qp *QueryPlan) String() string {
	data, err := qp.ToJSON()
	if err != nil {
		return "plan: " + err.Error()
	}
	return string(data)
}
