package testutil_test

import (
	"testing"

	"github.com/paveg/tachyon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMemoryTest(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	require.NotNil(t, mem.Allocator)

	ds := testutil.CreateEventDataset(mem.Allocator)
	defer ds.Release()
	assert.Positive(t, mem.Allocator.CurrentAlloc())
}

func TestCreateEventDataset(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		ds := testutil.CreateEventDataset(nil)
		defer ds.Release()

		assert.Equal(t, 100, ds.Len())
		assert.Equal(t, []string{"entry", "a", "pt", "eta", "nmuon", "flavor", "trigger"}, ds.Columns())
	})

	t.Run("with custom row count", func(t *testing.T) {
		ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(10))
		defer ds.Release()
		assert.Equal(t, 10, ds.Len())
	})

	t.Run("deterministic for a seed", func(t *testing.T) {
		a := testutil.CreateEventDataset(nil, testutil.WithSeed(7))
		defer a.Release()
		b := testutil.CreateEventDataset(nil, testutil.WithSeed(7))
		defer b.Release()
		testutil.AssertDatasetEqual(t, a, b)
	})
}

func TestUniform(t *testing.T) {
	values := testutil.Uniform(1000, 1)
	require.Len(t, values, 1000)
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
	assert.Equal(t, values, testutil.Uniform(1000, 1))
	assert.NotEqual(t, values, testutil.Uniform(1000, 2))
}

func TestFloat64Values(t *testing.T) {
	ds := testutil.CreateUniformDataset(nil, 5, 3)
	defer ds.Release()
	assert.Equal(t, testutil.Uniform(5, 3), testutil.Float64Values(t, ds, "a"))
}
