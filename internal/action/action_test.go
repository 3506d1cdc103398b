package action

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBatch struct {
	n    int
	cols map[string]arrow.Array
}

func (b *testBatch) Len() int { return b.n }

func (b *testBatch) Column(name string) (arrow.Array, error) {
	arr, ok := b.cols[name]
	if !ok {
		return nil, fmt.Errorf("no column %s", name)
	}
	return arr, nil
}

func floatBatch(x, w []float64) *testBatch {
	mem := memory.NewGoAllocator()
	cols := map[string]arrow.Array{}

	xb := array.NewFloat64Builder(mem)
	xb.AppendValues(x, nil)
	cols["x"] = xb.NewArray()
	if w != nil {
		wb := array.NewFloat64Builder(mem)
		wb.AppendValues(w, nil)
		cols["w"] = wb.NewArray()
	}
	ib := array.NewInt32Builder(mem)
	for i := range x {
		ib.Append(int32(i))
	}
	cols["i"] = ib.NewArray()
	return &testBatch{n: len(x), cols: cols}
}

var histModel = &hist.Model{Name: "hx", NBins: 4, Min: 0, Max: 4}

var allSpecs = []Spec{
	{Kind: KindCount},
	{Kind: KindSum, Column: "x"},
	{Kind: KindMean, Column: "x"},
	{Kind: KindMin, Column: "x"},
	{Kind: KindMax, Column: "x"},
	{Kind: KindStdDev, Column: "x"},
	{Kind: KindHisto1D, Column: "x", Model: histModel},
	{Kind: KindHisto1D, Column: "x", Weight: "w", Model: histModel},
	{Kind: KindTake, Column: "x", Types: []string{"float64"}},
}

func run(t *testing.T, spec Spec, batches ...*testBatch) any {
	t.Helper()
	acc, err := New(spec)
	require.NoError(t, err)
	for _, b := range batches {
		require.NoError(t, acc.Fill(b))
	}
	v, err := acc.Result()
	require.NoError(t, err)
	return v
}

func TestSingleRangeResults(t *testing.T) {
	b := floatBatch([]float64{1, 2, 3, 4, 0.5}, []float64{1, 1, 2, 2, 0.5})

	assert.Equal(t, int64(5), run(t, Spec{Kind: KindCount}, b))
	assert.InDelta(t, 10.5, run(t, Spec{Kind: KindSum, Column: "x"}, b), 1e-12)
	assert.InDelta(t, 2.1, run(t, Spec{Kind: KindMean, Column: "x"}, b), 1e-12)
	assert.Equal(t, 0.5, run(t, Spec{Kind: KindMin, Column: "x"}, b))
	assert.Equal(t, 4.0, run(t, Spec{Kind: KindMax, Column: "x"}, b))
	assert.InDelta(t, math.Sqrt(2.05), run(t, Spec{Kind: KindStdDev, Column: "x"}, b), 1e-12)

	h := run(t, Spec{Kind: KindHisto1D, Column: "x", Weight: "w", Model: histModel}, b).(*hist.H1)
	// x=4 lands in the overflow bin
	assert.Equal(t, []float64{0, 0.5, 1, 1, 2, 2}, h.Counts)
}

func TestEmptyResults(t *testing.T) {
	empty := floatBatch(nil, nil)
	assert.Equal(t, int64(0), run(t, Spec{Kind: KindCount}, empty))
	assert.Equal(t, 0.0, run(t, Spec{Kind: KindMean, Column: "x"}, empty))
	assert.True(t, math.IsInf(run(t, Spec{Kind: KindMin, Column: "x"}, empty).(float64), 1))
	assert.True(t, math.IsInf(run(t, Spec{Kind: KindMax, Column: "x"}, empty).(float64), -1))
	assert.Equal(t, 0.0, run(t, Spec{Kind: KindStdDev, Column: "x"}, empty))

	col := run(t, Spec{Kind: KindTake, Column: "i", Types: []string{"int32"}}, empty).(series.Column)
	assert.Equal(t, 0, col.Len())
	assert.Equal(t, arrow.INT32, col.DataType().ID())
}

// Merging partials computed over consecutive ranges equals one pass over
// all rows, including after a round trip through the wire form.
func TestMergeEqualsSinglePass(t *testing.T) {
	x := []float64{0.3, 1.7, 2.2, 3.9, 0.1, 2.8, 5.0, -1.0, 1.1}
	w := []float64{1, 2, 0.5, 1, 1, 3, 1, 1, 2}
	whole := floatBatch(x, w)
	parts := []*testBatch{floatBatch(x[:2], w[:2]), floatBatch(x[2:6], w[2:6]), floatBatch(x[6:], w[6:])}

	for _, spec := range allSpecs {
		t.Run(spec.String(), func(t *testing.T) {
			expected := run(t, spec, whole)

			var merged Accumulator
			for _, p := range parts {
				acc, err := New(spec)
				require.NoError(t, err)
				require.NoError(t, acc.Fill(p))

				partial, err := Encode(spec, acc)
				require.NoError(t, err)
				decoded, err := Decode(spec, partial)
				require.NoError(t, err)

				if merged == nil {
					merged = decoded
					continue
				}
				require.NoError(t, merged.Merge(decoded))
			}
			got, err := merged.Result()
			require.NoError(t, err)

			switch e := expected.(type) {
			case float64:
				assert.InDelta(t, e, got.(float64), 1e-9)
			case *hist.H1:
				g := got.(*hist.H1)
				assert.Equal(t, e.Counts, g.Counts)
				assert.Equal(t, e.Entries, g.Entries)
			case series.Column:
				assert.Equal(t,
					e.(*series.Series[float64]).Values(),
					got.(*series.Series[float64]).Values())
			default:
				assert.Equal(t, expected, got)
			}
		})
	}
}

func TestReport(t *testing.T) {
	acc, err := New(Spec{Kind: KindReport})
	require.NoError(t, err)
	obs, ok := acc.(CutObserver)
	require.True(t, ok)

	obs.ObserveCuts([]Cut{{Name: "pt", All: 10, Pass: 6}, {Name: "eta", All: 6, Pass: 3}})
	other, _ := New(Spec{Kind: KindReport})
	other.(CutObserver).ObserveCuts([]Cut{{Name: "pt", All: 5, Pass: 5}, {Name: "eta", All: 5, Pass: 1}})
	require.NoError(t, acc.Merge(other))

	v, err := acc.Result()
	require.NoError(t, err)
	cuts := v.([]Cut)
	require.Len(t, cuts, 2)
	assert.Equal(t, Cut{Name: "pt", All: 15, Pass: 11}, cuts[0])
	assert.Equal(t, Cut{Name: "eta", All: 11, Pass: 4}, cuts[1])
	assert.InDelta(t, 4.0/11.0, cuts[1].Efficiency(), 1e-12)
}

func TestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	spec := Spec{Kind: KindSnapshot, Select: []string{"i", "x"}, Path: path, Types: []string{"int32", "float64"}}

	a, err := New(spec)
	require.NoError(t, err)
	require.NoError(t, a.Fill(floatBatch([]float64{1, 2}, nil)))
	b, err := New(spec)
	require.NoError(t, err)
	require.NoError(t, b.Fill(floatBatch([]float64{3}, nil)))

	partial, err := Encode(spec, b)
	require.NoError(t, err)
	decoded, err := Decode(spec, partial)
	require.NoError(t, err)
	require.NoError(t, a.Merge(decoded))

	v, err := a.Result()
	require.NoError(t, err)
	info := v.(SnapshotInfo)
	assert.Equal(t, int64(3), info.Rows)
	assert.Equal(t, "parquet", info.Format)

	ds, err := io.ReadFile(context.Background(), path)
	require.NoError(t, err)
	defer ds.Release()
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []string{"i", "x"}, ds.Columns())
}

func TestNewErrors(t *testing.T) {
	_, err := New(Spec{Kind: "median", Column: "x"})
	assert.Error(t, err)
	_, err = New(Spec{Kind: KindHisto1D, Column: "x"})
	assert.Error(t, err)
	_, err = New(Spec{Kind: KindHisto1D, Column: "x", Model: &hist.Model{NBins: 0, Min: 0, Max: 1}})
	assert.Error(t, err)
	_, err = New(Spec{Kind: KindSnapshot, Select: []string{"x"}})
	assert.Error(t, err)

	_, err = Decode(Spec{Kind: KindSum, Column: "x"}, Partial{Kind: KindMean})
	assert.Error(t, err)
}

func TestMergeMismatch(t *testing.T) {
	sum, _ := New(Spec{Kind: KindSum, Column: "x"})
	count, _ := New(Spec{Kind: KindCount})
	assert.Error(t, sum.Merge(count))

	lo, _ := New(Spec{Kind: KindMin, Column: "x"})
	hi, _ := New(Spec{Kind: KindMax, Column: "x"})
	assert.Error(t, lo.Merge(hi))
}

func TestSpecColumns(t *testing.T) {
	assert.Nil(t, Spec{Kind: KindCount}.Columns())
	assert.Equal(t, []string{"x"}, Spec{Kind: KindMean, Column: "x"}.Columns())
	assert.Equal(t, []string{"x", "w"}, Spec{Kind: KindHisto1D, Column: "x", Weight: "w"}.Columns())
	assert.Equal(t, []string{"a", "b"}, Spec{Kind: KindSnapshot, Select: []string{"a", "b"}}.Columns())
	assert.True(t, Spec{Kind: KindStdDev}.NumericInput())
	assert.False(t, Spec{Kind: KindTake}.NumericInput())
}
