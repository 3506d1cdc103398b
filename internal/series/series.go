// Package series provides typed, named columns backed by Apache Arrow arrays.
package series

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Element lists the Go types a column may hold.
type Element interface {
	int32 | int64 | float32 | float64 | bool | string
}

// Column is the type-erased view of a Series used by datasets.
type Column interface {
	Name() string
	Len() int
	DataType() arrow.DataType
	IsNull(index int) bool
	String() string
	Array() arrow.Array
	Release()
}

// Series represents a typed data column with Apache Arrow backend
type Series[T Element] struct {
	name  string
	array arrow.Array
}

// New creates a new Series from a slice of values
func New[T Element](name string, values []T, mem memory.Allocator) *Series[T] {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	var arr arrow.Array

	switch v := any(values).(type) {
	case []string:
		builder := array.NewStringBuilder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	case []int64:
		builder := array.NewInt64Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	case []int32:
		builder := array.NewInt32Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	case []float64:
		builder := array.NewFloat64Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	case []float32:
		builder := array.NewFloat32Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	case []bool:
		builder := array.NewBooleanBuilder(mem)
		defer builder.Release()
		builder.AppendValues(v, nil)
		arr = builder.NewArray()
	}

	return &Series[T]{
		name:  name,
		array: arr,
	}
}

// FromArray wraps an existing Arrow array as a type-erased column. The array
// is retained; release the column when done.
func FromArray(name string, arr arrow.Array) (Column, error) {
	arr.Retain()
	switch arr.DataType().ID() {
	case arrow.STRING:
		return &Series[string]{name: name, array: arr}, nil
	case arrow.INT64:
		return &Series[int64]{name: name, array: arr}, nil
	case arrow.INT32:
		return &Series[int32]{name: name, array: arr}, nil
	case arrow.FLOAT64:
		return &Series[float64]{name: name, array: arr}, nil
	case arrow.FLOAT32:
		return &Series[float32]{name: name, array: arr}, nil
	case arrow.BOOL:
		return &Series[bool]{name: name, array: arr}, nil
	default:
		arr.Release()
		return nil, fmt.Errorf("unsupported column type %s for %q", arr.DataType(), name)
	}
}

// Name returns the column name
func (s *Series[T]) Name() string {
	return s.name
}

// Len returns the length of the series
func (s *Series[T]) Len() int {
	return s.array.Len()
}

// Values returns the data as a Go slice
func (s *Series[T]) Values() []T {
	result := make([]T, s.array.Len())
	for i := range result {
		result[i] = s.Value(i)
	}
	return result
}

// Value returns the value at the given index
func (s *Series[T]) Value(index int) T {
	var result T
	if index < 0 || index >= s.array.Len() {
		return result
	}

	var v any
	switch arr := s.array.(type) {
	case *array.String:
		v = arr.Value(index)
	case *array.Int64:
		v = arr.Value(index)
	case *array.Int32:
		v = arr.Value(index)
	case *array.Float64:
		v = arr.Value(index)
	case *array.Float32:
		v = arr.Value(index)
	case *array.Boolean:
		v = arr.Value(index)
	}
	if typed, ok := v.(T); ok {
		result = typed
	}

	return result
}

// DataType returns the Arrow data type
func (s *Series[T]) DataType() arrow.DataType {
	return s.array.DataType()
}

// IsNull checks if the value at index is null
func (s *Series[T]) IsNull(index int) bool {
	return s.array.IsNull(index)
}

// String returns a string representation of the series
func (s *Series[T]) String() string {
	return fmt.Sprintf("Series[%s]: %s (len=%d)",
		s.array.DataType(),
		s.name,
		s.Len())
}

// Array returns the underlying Arrow array (retains a reference)
func (s *Series[T]) Array() arrow.Array {
	if s.array != nil {
		s.array.Retain()
		return s.array
	}
	return nil
}

// Release releases the underlying Arrow memory
func (s *Series[T]) Release() {
	if s.array != nil {
		s.array.Release()
	}
}
