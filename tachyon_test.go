package tachyon_test

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/paveg/tachyon"
	dferrors "github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMeanEndToEnd(t *testing.T) {
	ctx := context.Background()
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	ds := testutil.CreateUniformDataset(mem.Allocator, 100, 7)
	defer ds.Release()

	counter := tachyon.NewRunCounter()
	df := tachyon.FromDataset(ds, tachyon.WithRunCounter(counter))
	sel, err := df.Filter("a >= 0.2")
	require.NoError(t, err)
	mean, err := sel.Mean("a")
	require.NoError(t, err)
	count, err := sel.Count()
	require.NoError(t, err)

	assert.False(t, mean.Ready())
	assert.Zero(t, counter.Triggered())

	m, err := mean.Value(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m, 0.2)
	assert.Less(t, m, 1.0)
	assert.True(t, count.Ready())

	var expected int64
	for _, v := range testutil.Float64Values(t, ds, "a") {
		if v >= 0.2 {
			expected++
		}
	}
	n, err := count.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, n)
	assert.Equal(t, int64(1), counter.Triggered())
	assert.Equal(t, int64(1), counter.Completed())
}

func TestRedefineOnlyAffectsLaterResults(t *testing.T) {
	ctx := context.Background()
	ds := testutil.CreateUniformDataset(nil, 100, 3)
	defer ds.Release()

	df := tachyon.FromDataset(ds)
	withX, err := df.Define("x", "a * 2")
	require.NoError(t, err)
	before, err := withX.Sum("x")
	require.NoError(t, err)

	shifted, err := withX.Redefine("x", "x + 1")
	require.NoError(t, err)
	after, err := shifted.Sum("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, shifted.DefinedColumns())

	b, err := before.Value(ctx)
	require.NoError(t, err)
	a, err := after.Value(ctx)
	require.NoError(t, err)
	assert.InDelta(t, b+100, a, 1e-9)
	assert.Equal(t, int64(1), df.Counter().Triggered())
}

func TestTake(t *testing.T) {
	ctx := context.Background()
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(50))
	defer ds.Release()

	df := tachyon.FromDataset(ds)
	low, err := df.Filter("a < 0.5")
	require.NoError(t, err)
	values, err := tachyon.Take[float64](low, "a")
	require.NoError(t, err)
	flavors, err := tachyon.Take[string](low, "flavor")
	require.NoError(t, err)

	var expected []float64
	for _, v := range testutil.Float64Values(t, ds, "a") {
		if v < 0.5 {
			expected = append(expected, v)
		}
	}
	got, err := values.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
	got[0] = -1
	again, err := values.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, again)

	names, err := flavors.Value(ctx)
	require.NoError(t, err)
	assert.Len(t, names, len(expected))

	_, err = tachyon.Take[int64](low, "a")
	assert.ErrorIs(t, err, dferrors.ErrTypeMismatch)
}

func TestHistogramAndReport(t *testing.T) {
	ctx := context.Background()
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(400))
	defer ds.Release()

	df := tachyon.FromDataset(ds)
	trig, err := df.FilterNamed("trigger", "trigger")
	require.NoError(t, err)
	central, err := trig.FilterNamed("abs(eta) < 1.5", "central")
	require.NoError(t, err)

	h, err := central.Histo1D(tachyon.HistModel{Name: "pt", NBins: 10, Min: 0, Max: 100}, "pt")
	require.NoError(t, err)
	n, err := central.Count()
	require.NoError(t, err)
	report, err := central.Report()
	require.NoError(t, err)

	cuts, err := report.Value(ctx)
	require.NoError(t, err)
	require.Len(t, cuts, 2)
	assert.Equal(t, "trigger", cuts[0].Name)
	assert.Equal(t, int64(400), cuts[0].All)
	assert.Equal(t, cuts[0].Pass, cuts[1].All)

	count, err := n.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, cuts[1].Pass, count)

	hist, err := h.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, hist.Entries)
	assert.Equal(t, int64(1), df.Counter().Triggered())
}

func TestBookingErrors(t *testing.T) {
	ds := testutil.CreateEventDataset(nil)
	defer ds.Release()
	df := tachyon.FromDataset(ds)

	_, err := df.Mean("missing")
	assert.ErrorIs(t, err, dferrors.ErrColumnNotFound)

	_, err = df.Mean("flavor")
	assert.ErrorIs(t, err, dferrors.ErrTypeMismatch)

	_, err = df.Histo1D(tachyon.HistModel{Name: "bad", NBins: 0, Min: 0, Max: 1}, "pt")
	assert.ErrorIs(t, err, dferrors.ErrInvalidModel)

	_, err = df.Histo1D(tachyon.HistModel{Name: "h", NBins: 4, Min: 0, Max: 1}, "pt", "a", "eta")
	assert.ErrorIs(t, err, dferrors.ErrInvalidInput)

	_, err = df.Filter("pt >")
	assert.ErrorIs(t, err, dferrors.ErrInvalidExpression)

	_, err = df.Define("pt", "eta * 2")
	assert.ErrorIs(t, err, dferrors.ErrColumnExists)
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(120))
	defer ds.Release()
	path := filepath.Join(t.TempDir(), "events.parquet")
	require.NoError(t, io.WriteFile(path, ds))

	df, err := tachyon.Open(ctx, path)
	require.NoError(t, err)
	defer df.Release()

	assert.Contains(t, df.Columns(), "pt")
	count, err := df.Count()
	require.NoError(t, err)
	n, err := count.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)

	_, err = tachyon.Open(ctx, filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
	_, err = tachyon.Open(ctx, "s3://bucket/events.parquet")
	assert.True(t, stderrors.Is(err, io.ErrObjectStoreDisabled))
}

func TestClusterMatchesLocal(t *testing.T) {
	ctx := context.Background()
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(500))
	defer ds.Release()

	cfg := tachyon.NewConfig()
	cfg.Distributed.Partitions = 4
	cfg.Distributed.Concurrency = 2
	metrics := tachyon.NewMetrics()
	cluster, err := tachyon.NewCluster(cfg, metrics)
	require.NoError(t, err)
	defer cluster.Close()

	means := make([]float64, 0, 2)
	counts := make([]int64, 0, 2)
	for _, opts := range [][]tachyon.Option{
		{tachyon.WithConfig(cfg)},
		{tachyon.WithExecutor(cluster), tachyon.WithMetrics(metrics)},
	} {
		df := tachyon.FromDataset(ds, opts...)
		sel, err := df.Filter("pt > 20 && nmuon > 0")
		require.NoError(t, err)
		mean, err := sel.Mean("pt")
		require.NoError(t, err)
		count, err := sel.Count()
		require.NoError(t, err)
		require.NoError(t, df.Run(ctx))

		m, err := mean.Value(ctx)
		require.NoError(t, err)
		n, err := count.Value(ctx)
		require.NoError(t, err)
		means = append(means, m)
		counts = append(counts, n)
	}
	assert.InDelta(t, means[0], means[1], 1e-9)
	assert.Equal(t, counts[0], counts[1])
}

func TestDescribe(t *testing.T) {
	ds := testutil.CreateUniformDataset(nil, 10, 1)
	defer ds.Release()
	df := tachyon.FromDataset(ds)
	sel, err := df.Filter("a > 0.5")
	require.NoError(t, err)
	_, err = sel.Count()
	require.NoError(t, err)

	plan := df.Describe()
	require.NotNil(t, plan)
	assert.Equal(t, 3, plan.GetOperationCount())
}
