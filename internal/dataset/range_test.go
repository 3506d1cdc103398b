package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		rows, n  int
		expected []Range
	}{
		{"even", 10, 2, []Range{{0, 5}, {5, 10}}},
		{"remainder to first", 10, 3, []Range{{0, 4}, {4, 7}, {7, 10}}},
		{"more parts than rows", 2, 5, []Range{{0, 1}, {1, 2}}},
		{"non-positive parts", 3, 0, []Range{{0, 3}}},
		{"empty", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Split(tt.rows, tt.n))
		})
	}
}

func TestSplitCoversAllRows(t *testing.T) {
	for rows := 1; rows < 50; rows++ {
		for n := 1; n < 8; n++ {
			ranges := Split(rows, n)
			next := 0
			for _, r := range ranges {
				assert.Equal(t, next, r.Start)
				assert.Positive(t, r.Len())
				next = r.End
			}
			assert.Equal(t, rows, next)
		}
	}
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []Range{{0, 4}, {4, 8}, {8, 10}}, Chunks(10, 4))
	assert.Equal(t, []Range{{0, 10}}, Chunks(10, 0))
	assert.Nil(t, Chunks(0, 4))
}

func TestPlanChunks(t *testing.T) {
	assert.Equal(t, 123, PlanChunks(1_000_000, 4, 123))
	assert.Equal(t, minChunkSize, PlanChunks(100, 8, 0))
	assert.Equal(t, maxChunkSize, PlanChunks(10_000_000, 2, 0))
	assert.Equal(t, 1000, PlanChunks(12_000, 4, 0))
}

func TestRangeClamp(t *testing.T) {
	assert.Equal(t, Range{2, 5}, Range{2, 9}.Clamp(5))
	assert.Equal(t, Range{0, 0}, Range{-3, -1}.Clamp(5))
	assert.Equal(t, 0, Range{4, 2}.Len())
	assert.Equal(t, "[1, 3)", Range{1, 3}.String())
}
