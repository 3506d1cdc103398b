package monitoring_test

import (
	"testing"

	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() monitoring.QueryPlan {
	return monitoring.QueryPlan{
		Operations: []monitoring.PlanNode{{
			ID: 0, Type: "root", Description: "Root", Cost: 100,
			Children: []monitoring.PlanNode{
				{ID: 1, Type: "filter", Description: "Filter (a > 0)", Cost: 100, Children: []monitoring.PlanNode{
					{ID: 2, Type: "action", Description: "Action mean(a)"},
				}},
				{ID: 3, Type: "action", Description: "Action count()"},
			},
		}},
		Estimated: monitoring.PlanMetrics{RowsProcessed: 100, MemoryUsed: 800},
	}
}

func TestQueryPlanTraversal(t *testing.T) {
	plan := samplePlan()

	assert.Equal(t, 4, plan.GetOperationCount())
	assert.Equal(t, int64(200), plan.CalculateTotalCost())

	n, ok := plan.Find(2)
	require.True(t, ok)
	assert.Equal(t, "Action mean(a)", n.Description)

	_, ok = plan.Find(9)
	assert.False(t, ok)
}

func TestQueryPlanJSON(t *testing.T) {
	plan := samplePlan()

	data, err := plan.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type": "filter"`)

	var back monitoring.QueryPlan
	require.NoError(t, back.FromJSON(data))
	assert.Equal(t, plan, back)
	assert.Equal(t, string(data), back.String())
}
