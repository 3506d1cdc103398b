// Package testutil provides common testing utilities shared across the
// tachyon test suites.
//
// It consolidates the patterns most tests need:
// - Memory allocator setup and cleanup
// - Deterministic, seeded event datasets
// - Dataset assertions
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of rows in test datasets.
	defaultRowCount = 100
	defaultSeed     = 42
)

// TestMemoryContext provides a checked memory allocator.
type TestMemoryContext struct {
	Allocator *memory.CheckedAllocator
	tb        testing.TB
}

// Release asserts that every allocation made through the context was freed.
func (tmc *TestMemoryContext) Release() {
	tmc.Allocator.AssertSize(tmc.tb, 0)
}

// SetupMemoryTest creates a checked allocator for tests. Release it with
// defer after every dataset built on it has been released.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	return &TestMemoryContext{
		Allocator: memory.NewCheckedAllocator(memory.NewGoAllocator()),
		tb:        tb,
	}
}

// EventOption configures test dataset creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	rowCount int
	seed     uint64
}

// WithRowCount sets the number of rows in test data.
func WithRowCount(count int) EventOption {
	return func(cfg *eventConfig) {
		cfg.rowCount = count
	}
}

// WithSeed sets the random seed used to generate values.
func WithSeed(seed uint64) EventOption {
	return func(cfg *eventConfig) {
		cfg.seed = seed
	}
}

// Uniform returns n deterministic pseudo-random values in [0, 1).
func Uniform(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

// CreateEventDataset creates a deterministic dataset of synthetic events.
//
// Columns:
// - entry (int64): row index
// - a (float64): uniform in [0, 1)
// - pt (float64): exponential with mean 25
// - eta (float64): uniform in [-3, 3)
// - nmuon (int32): 0..3
// - flavor (string): "e", "mu" or "tau"
// - trigger (bool): true for roughly 70% of rows
//
// Example usage:
//
//	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(1000))
//	defer ds.Release()
func CreateEventDataset(mem memory.Allocator, opts ...EventOption) *dataset.Dataset {
	cfg := &eventConfig{rowCount: defaultRowCount, seed: defaultSeed}
	for _, opt := range opts {
		opt(cfg)
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	n := cfg.rowCount
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed+1))
	entry := make([]int64, n)
	pt := make([]float64, n)
	eta := make([]float64, n)
	nmuon := make([]int32, n)
	flavor := make([]string, n)
	trigger := make([]bool, n)
	flavors := []string{"e", "mu", "tau"}
	for i := range n {
		entry[i] = int64(i)
		pt[i] = -25 * math.Log(1-rng.Float64())
		eta[i] = 6*rng.Float64() - 3
		nmuon[i] = int32(rng.IntN(4))
		flavor[i] = flavors[rng.IntN(len(flavors))]
		trigger[i] = rng.Float64() < 0.7
	}

	ds, err := dataset.New(
		series.New(dataset.EntryColumn, entry, mem),
		series.New("a", Uniform(n, cfg.seed), mem),
		series.New("pt", pt, mem),
		series.New("eta", eta, mem),
		series.New("nmuon", nmuon, mem),
		series.New("flavor", flavor, mem),
		series.New("trigger", trigger, mem),
	)
	if err != nil {
		panic(err)
	}
	return ds
}

// CreateUniformDataset creates a dataset with a single float64 column a of
// n uniform values in [0, 1).
func CreateUniformDataset(mem memory.Allocator, n int, seed uint64) *dataset.Dataset {
	ds, err := dataset.New(series.New("a", Uniform(n, seed), mem))
	if err != nil {
		panic(err)
	}
	return ds
}

// Float64Values returns the values of a float64 column of ds.
func Float64Values(tb testing.TB, ds *dataset.Dataset, name string) []float64 {
	tb.Helper()
	col, ok := ds.Column(name)
	require.True(tb, ok, "column %s should exist", name)
	arr := col.Array()
	defer arr.Release()
	f, ok := arr.(*array.Float64)
	require.True(tb, ok, "column %s should be float64", name)
	return append([]float64(nil), f.Float64Values()...)
}

// AssertDatasetEqual performs deep equality comparison of datasets.
func AssertDatasetEqual(t *testing.T, expected, actual *dataset.Dataset) {
	t.Helper()

	require.NotNil(t, expected, "expected Dataset should not be nil")
	require.NotNil(t, actual, "actual Dataset should not be nil")

	assert.Equal(t, expected.Len(), actual.Len(), "Dataset lengths should match")
	assert.Equal(t, expected.Columns(), actual.Columns(), "Dataset columns should match")

	for _, name := range expected.Columns() {
		expectedCol, _ := expected.Column(name)
		actualCol, ok := actual.Column(name)
		require.True(t, ok, "actual column %s should exist", name)

		ea, aa := expectedCol.Array(), actualCol.Array()
		assert.True(t, array.Equal(ea, aa), "column %s data should match", name)
		ea.Release()
		aa.Release()
	}
}
