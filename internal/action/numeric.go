package action

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/paveg/tachyon/internal/wire"
)

// forEachFloat calls fn with every non-null value of a numeric array.
func forEachFloat(arr arrow.Array, fn func(i int, v float64)) error {
	switch a := arr.(type) {
	case *array.Float64:
		for i, v := range a.Float64Values() {
			if a.IsValid(i) {
				fn(i, v)
			}
		}
	case *array.Float32:
		for i, v := range a.Float32Values() {
			if a.IsValid(i) {
				fn(i, float64(v))
			}
		}
	case *array.Int64:
		for i, v := range a.Int64Values() {
			if a.IsValid(i) {
				fn(i, float64(v))
			}
		}
	case *array.Int32:
		for i, v := range a.Int32Values() {
			if a.IsValid(i) {
				fn(i, float64(v))
			}
		}
	default:
		return fmt.Errorf("column of type %s is not numeric", arr.DataType())
	}
	return nil
}

func fillColumn(b Batch, column string, fn func(i int, v float64)) error {
	arr, err := b.Column(column)
	if err != nil {
		return err
	}
	return forEachFloat(arr, fn)
}

type countAcc struct {
	N int64 `json:"n"`
}

func (a *countAcc) Fill(b Batch) error {
	a.N += int64(b.Len())
	return nil
}

func (a *countAcc) Merge(other Accumulator) error {
	o, ok := other.(*countAcc)
	if !ok {
		return mismatch(a, other)
	}
	a.N += o.N
	return nil
}

func (a *countAcc) Result() (any, error) {
	return a.N, nil
}

type sumAcc struct {
	column string
	Sum    wire.Float `json:"sum"`
}

func (a *sumAcc) Fill(b Batch) error {
	return fillColumn(b, a.column, func(_ int, v float64) { a.Sum += wire.Float(v) })
}

func (a *sumAcc) Merge(other Accumulator) error {
	o, ok := other.(*sumAcc)
	if !ok {
		return mismatch(a, other)
	}
	a.Sum += o.Sum
	return nil
}

func (a *sumAcc) Result() (any, error) {
	return float64(a.Sum), nil
}

// meanAcc combines partial means through (sum, count).
type meanAcc struct {
	column string
	Sum    wire.Float `json:"sum"`
	N      int64      `json:"n"`
}

func (a *meanAcc) Fill(b Batch) error {
	return fillColumn(b, a.column, func(_ int, v float64) {
		a.Sum += wire.Float(v)
		a.N++
	})
}

func (a *meanAcc) Merge(other Accumulator) error {
	o, ok := other.(*meanAcc)
	if !ok {
		return mismatch(a, other)
	}
	a.Sum += o.Sum
	a.N += o.N
	return nil
}

// Result returns 0 when no rows were seen.
func (a *meanAcc) Result() (any, error) {
	if a.N == 0 {
		return 0.0, nil
	}
	return float64(a.Sum) / float64(a.N), nil
}

// extremeAcc tracks a minimum or maximum. Seen distinguishes an empty
// accumulator from one that observed an infinity.
type extremeAcc struct {
	column string
	max    bool
	Value  wire.Float `json:"value"`
	Seen   bool       `json:"seen"`
}

func newExtremeAcc(column string, isMax bool) *extremeAcc {
	return &extremeAcc{column: column, max: isMax}
}

func (a *extremeAcc) observe(v float64) {
	cur := float64(a.Value)
	switch {
	case math.IsNaN(v):
	case !a.Seen, a.max && v > cur, !a.max && v < cur:
		a.Value, a.Seen = wire.Float(v), true
	}
}

func (a *extremeAcc) Fill(b Batch) error {
	return fillColumn(b, a.column, func(_ int, v float64) { a.observe(v) })
}

func (a *extremeAcc) Merge(other Accumulator) error {
	o, ok := other.(*extremeAcc)
	if !ok || o.max != a.max {
		return mismatch(a, other)
	}
	if o.Seen {
		a.observe(float64(o.Value))
	}
	return nil
}

// Result returns +Inf for an empty Min and -Inf for an empty Max.
func (a *extremeAcc) Result() (any, error) {
	if !a.Seen {
		if a.max {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	}
	return float64(a.Value), nil
}

// stddevAcc uses Welford's online algorithm and merges partials with the
// parallel variant over (n, mean, M2).
type stddevAcc struct {
	column string
	N      int64      `json:"n"`
	Mean   wire.Float `json:"mean"`
	M2     wire.Float `json:"m2"`
}

func (a *stddevAcc) Fill(b Batch) error {
	return fillColumn(b, a.column, func(_ int, v float64) {
		a.N++
		x := wire.Float(v)
		delta := x - a.Mean
		a.Mean += delta / wire.Float(a.N)
		a.M2 += delta * (x - a.Mean)
	})
}

func (a *stddevAcc) Merge(other Accumulator) error {
	o, ok := other.(*stddevAcc)
	if !ok {
		return mismatch(a, other)
	}
	if o.N == 0 {
		return nil
	}
	if a.N == 0 {
		a.N, a.Mean, a.M2 = o.N, o.Mean, o.M2
		return nil
	}
	n := a.N + o.N
	delta := o.Mean - a.Mean
	a.Mean += delta * wire.Float(o.N) / wire.Float(n)
	a.M2 += o.M2 + delta*delta*wire.Float(a.N)*wire.Float(o.N)/wire.Float(n)
	a.N = n
	return nil
}

// Result returns the sample standard deviation, or 0 with fewer than two
// values.
func (a *stddevAcc) Result() (any, error) {
	if a.N < 2 {
		return 0.0, nil
	}
	return math.Sqrt(float64(a.M2) / float64(a.N-1)), nil
}

type histoAcc struct {
	column string
	weight string
	H      *hist.H1 `json:"h"`
}

func (a *histoAcc) Fill(b Batch) error {
	if a.weight == "" {
		return fillColumn(b, a.column, func(_ int, v float64) { a.H.Fill(v, 1) })
	}

	weights := make([]float64, b.Len())
	valid := make([]bool, b.Len())
	if err := fillColumn(b, a.weight, func(i int, w float64) {
		weights[i], valid[i] = w, true
	}); err != nil {
		return err
	}
	return fillColumn(b, a.column, func(i int, v float64) {
		if valid[i] {
			a.H.Fill(v, weights[i])
		}
	})
}

func (a *histoAcc) Merge(other Accumulator) error {
	o, ok := other.(*histoAcc)
	if !ok {
		return mismatch(a, other)
	}
	return a.H.Add(o.H)
}

func (a *histoAcc) Result() (any, error) {
	return a.H.Clone(), nil
}

// reportAcc sums per-filter counters.
type reportAcc struct {
	Cuts []Cut `json:"cuts"`
}

func (a *reportAcc) Fill(Batch) error {
	return nil
}

func (a *reportAcc) ObserveCuts(cuts []Cut) {
	a.add(cuts)
}

func (a *reportAcc) add(cuts []Cut) {
	if a.Cuts == nil {
		a.Cuts = make([]Cut, len(cuts))
		for i, c := range cuts {
			a.Cuts[i] = Cut{Name: c.Name}
		}
	}
	for i, c := range cuts {
		if i < len(a.Cuts) {
			a.Cuts[i].All += c.All
			a.Cuts[i].Pass += c.Pass
		}
	}
}

func (a *reportAcc) Merge(other Accumulator) error {
	o, ok := other.(*reportAcc)
	if !ok {
		return mismatch(a, other)
	}
	if o.Cuts != nil {
		a.add(o.Cuts)
	}
	return nil
}

func (a *reportAcc) Result() (any, error) {
	return append([]Cut(nil), a.Cuts...), nil
}
