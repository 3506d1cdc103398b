// Package action defines the terminal operations of a computation graph:
// their specs, the per-range accumulators that compute them, the rules for
// combining partial results, and a wire form for shipping partials between
// processes.
package action

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/hist"
)

// Kind identifies an action.
type Kind string

const (
	KindCount    Kind = "count"
	KindSum      Kind = "sum"
	KindMean     Kind = "mean"
	KindMin      Kind = "min"
	KindMax      Kind = "max"
	KindStdDev   Kind = "stddev"
	KindHisto1D  Kind = "histo1d"
	KindTake     Kind = "take"
	KindSnapshot Kind = "snapshot"
	KindReport   Kind = "report"
)

// Spec describes a booked action. Types holds the Arrow type names of the
// columns the action reads, in the order of Columns().
type Spec struct {
	Kind   Kind        `json:"kind"`
	Column string      `json:"column,omitempty"`
	Weight string      `json:"weight,omitempty"`
	Model  *hist.Model `json:"model,omitempty"`

	// Snapshot options
	Select []string `json:"select,omitempty"`
	Path   string   `json:"path,omitempty"`
	Format string   `json:"format,omitempty"`

	Types []string `json:"types,omitempty"`
}

// Columns returns the input columns the action reads.
func (s Spec) Columns() []string {
	switch s.Kind {
	case KindCount, KindReport:
		return nil
	case KindSnapshot:
		return s.Select
	case KindHisto1D:
		if s.Weight != "" {
			return []string{s.Column, s.Weight}
		}
	}
	return []string{s.Column}
}

// NumericInput reports whether the action requires numeric input columns.
func (s Spec) NumericInput() bool {
	switch s.Kind {
	case KindSum, KindMean, KindMin, KindMax, KindStdDev, KindHisto1D:
		return true
	default:
		return false
	}
}

func (s Spec) String() string {
	switch s.Kind {
	case KindCount, KindReport:
		return string(s.Kind) + "()"
	case KindHisto1D:
		if s.Weight != "" {
			return fmt.Sprintf("%s(%s, weight=%s)", s.Kind, s.Column, s.Weight)
		}
	case KindSnapshot:
		return fmt.Sprintf("%s(%s -> %s)", s.Kind, s.Select, s.Path)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Column)
}

// Batch is the set of rows an accumulator is fed: compacted arrays of equal
// length holding only the rows that reached the action's parent node.
// Arrays belong to the batch; accumulators must Retain what they keep.
type Batch interface {
	Len() int
	Column(name string) (arrow.Array, error)
}

// Accumulator computes one action over a range of rows.
type Accumulator interface {
	// Fill folds the rows of b into the accumulator.
	Fill(b Batch) error
	// Merge folds other, computed over the following range, into the
	// accumulator. other must come from the same spec.
	Merge(other Accumulator) error
	// Result finalizes the value. It is called once, on the fully merged
	// accumulator.
	Result() (any, error)
}

// Cut is one row of a cut-flow report.
type Cut struct {
	Name string `json:"name"`
	All  int64  `json:"all"`
	Pass int64  `json:"pass"`
}

// Efficiency returns the fraction of rows that passed the cut.
func (c Cut) Efficiency() float64 {
	if c.All == 0 {
		return 0
	}
	return float64(c.Pass) / float64(c.All)
}

// CutObserver is implemented by accumulators that consume filter statistics
// instead of rows. Cuts are ordered from the root towards the action.
type CutObserver interface {
	ObserveCuts(cuts []Cut)
}

// New creates an empty accumulator for spec.
func New(spec Spec) (Accumulator, error) {
	switch spec.Kind {
	case KindCount:
		return &countAcc{}, nil
	case KindSum:
		return &sumAcc{column: spec.Column}, nil
	case KindMean:
		return &meanAcc{column: spec.Column}, nil
	case KindMin:
		return newExtremeAcc(spec.Column, false), nil
	case KindMax:
		return newExtremeAcc(spec.Column, true), nil
	case KindStdDev:
		return &stddevAcc{column: spec.Column}, nil
	case KindHisto1D:
		if spec.Model == nil {
			return nil, fmt.Errorf("histo1d on %s: missing model", spec.Column)
		}
		if err := spec.Model.Validate(); err != nil {
			return nil, err
		}
		return &histoAcc{column: spec.Column, weight: spec.Weight, H: hist.New(*spec.Model)}, nil
	case KindTake:
		return newTakeAcc(spec)
	case KindSnapshot:
		return newSnapshotAcc(spec)
	case KindReport:
		return &reportAcc{}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", spec.Kind)
	}
}

// Partial is the wire form of an accumulator's state.
type Partial struct {
	Kind  Kind            `json:"kind"`
	State json.RawMessage `json:"state"`
}

// Encode captures the state of acc for transfer to another process.
func Encode(spec Spec, acc Accumulator) (Partial, error) {
	state, err := json.Marshal(acc)
	if err != nil {
		return Partial{}, fmt.Errorf("encoding %s partial: %w", spec.Kind, err)
	}
	return Partial{Kind: spec.Kind, State: state}, nil
}

// Decode rebuilds an accumulator for spec from a partial.
func Decode(spec Spec, p Partial) (Accumulator, error) {
	if p.Kind != spec.Kind {
		return nil, fmt.Errorf("partial kind %q does not match action %q", p.Kind, spec.Kind)
	}
	acc, err := New(spec)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(p.State, acc); err != nil {
		return nil, fmt.Errorf("decoding %s partial: %w", spec.Kind, err)
	}
	return acc, nil
}

func mismatch(acc, other Accumulator) error {
	return fmt.Errorf("cannot merge %T into %T", other, acc)
}
