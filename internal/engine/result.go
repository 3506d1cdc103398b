package engine

import (
	"context"
	"fmt"

	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/paveg/tachyon/internal/series"
)

// Result is a handle to the value of a booked action. It is unresolved
// until a pass computes it and immutable afterwards.
type Result[T any] struct {
	eng *Engine
	id  graph.NodeID
}

// Book adds an action below parent and returns a typed handle to its
// value. T must match the value type of the action kind.
func Book[T any](e *Engine, parent graph.NodeID, spec action.Spec) (*Result[T], error) {
	if err := checkResultType[T](spec.Kind); err != nil {
		return nil, err
	}
	id, err := e.Book(parent, spec)
	if err != nil {
		return nil, err
	}
	return &Result[T]{eng: e, id: id}, nil
}

func checkResultType[T any](kind action.Kind) error {
	var zero T
	var ok bool
	switch kind {
	case action.KindCount:
		_, ok = any(zero).(int64)
	case action.KindSum, action.KindMean, action.KindMin, action.KindMax, action.KindStdDev:
		_, ok = any(zero).(float64)
	case action.KindHisto1D:
		_, ok = any(zero).(*hist.H1)
	case action.KindTake:
		_, ok = any(&zero).(*series.Column)
	case action.KindSnapshot:
		_, ok = any(zero).(action.SnapshotInfo)
	case action.KindReport:
		_, ok = any(zero).([]action.Cut)
	default:
		return errors.NewInvalidInputError("Book", fmt.Sprintf("unknown action kind %q", kind))
	}
	if !ok {
		return errors.NewInvalidInputError("Book", fmt.Sprintf("%s does not produce %T", kind, zero))
	}
	return nil
}

// Value returns the result, running a pass if it has not been computed.
func (r *Result[T]) Value(ctx context.Context) (T, error) {
	var zero T
	v, err := r.eng.Value(ctx, r.id)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.NewInternalError("Value", fmt.Errorf("node %d produced %T", r.id, v))
	}
	return t, nil
}

// Ready reports whether the value has been computed.
func (r *Result[T]) Ready() bool {
	return r.eng.Ready(r.id)
}

// Node returns the action node behind the result.
func (r *Result[T]) Node() graph.NodeID {
	return r.id
}
