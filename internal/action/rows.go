package action

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/series"
)

var columnTypes = map[string]arrow.DataType{
	arrow.PrimitiveTypes.Int32.String():   arrow.PrimitiveTypes.Int32,
	arrow.PrimitiveTypes.Int64.String():   arrow.PrimitiveTypes.Int64,
	arrow.PrimitiveTypes.Float32.String(): arrow.PrimitiveTypes.Float32,
	arrow.PrimitiveTypes.Float64.String(): arrow.PrimitiveTypes.Float64,
	arrow.FixedWidthTypes.Boolean.String(): arrow.FixedWidthTypes.Boolean,
	arrow.BinaryTypes.String.String():      arrow.BinaryTypes.String,
}

// ParseType maps an Arrow type name as stored in Spec.Types back to the type.
func ParseType(name string) (arrow.DataType, bool) {
	dt, ok := columnTypes[name]
	return dt, ok
}

// recordSet collects rows as record batches in fill and merge order.
type recordSet struct {
	names  []string
	schema *arrow.Schema
	recs   []arrow.Record
}

func newRecordSet(names, types []string) (*recordSet, error) {
	rs := &recordSet{names: names}
	if len(types) == 0 {
		return rs, nil
	}
	if len(types) != len(names) {
		return nil, fmt.Errorf("got %d column types for %d columns", len(types), len(names))
	}
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		dt, ok := ParseType(types[i])
		if !ok {
			return nil, fmt.Errorf("column %s: unsupported type %q", name, types[i])
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	rs.schema = arrow.NewSchema(fields, nil)
	return rs, nil
}

func (rs *recordSet) fill(b Batch) error {
	arrs := make([]arrow.Array, len(rs.names))
	for i, name := range rs.names {
		arr, err := b.Column(name)
		if err != nil {
			return err
		}
		arrs[i] = arr
	}
	if rs.schema == nil {
		fields := make([]arrow.Field, len(arrs))
		for i, arr := range arrs {
			fields[i] = arrow.Field{Name: rs.names[i], Type: arr.DataType(), Nullable: true}
		}
		rs.schema = arrow.NewSchema(fields, nil)
	}
	if b.Len() == 0 {
		return nil
	}
	rs.recs = append(rs.recs, array.NewRecord(rs.schema, arrs, int64(b.Len())))
	return nil
}

// merge takes ownership of other's records.
func (rs *recordSet) merge(other *recordSet) {
	if rs.schema == nil {
		rs.schema = other.schema
	}
	rs.recs = append(rs.recs, other.recs...)
	other.recs = nil
}

func (rs *recordSet) rows() int64 {
	var n int64
	for _, rec := range rs.recs {
		n += rec.NumRows()
	}
	return n
}

func (rs *recordSet) release() {
	for _, rec := range rs.recs {
		rec.Release()
	}
	rs.recs = nil
}

type wireRecords struct {
	Data []byte `json:"data,omitempty"`
}

func (rs *recordSet) MarshalJSON() ([]byte, error) {
	if rs.schema == nil {
		return json.Marshal(wireRecords{})
	}
	data, err := io.EncodeStream(rs.schema, rs.recs, false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecords{Data: data})
}

func (rs *recordSet) UnmarshalJSON(b []byte) error {
	var w wireRecords
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if len(w.Data) == 0 {
		return nil
	}
	schema, recs, err := io.DecodeStream(w.Data, nil)
	if err != nil {
		return err
	}
	rs.release()
	rs.schema, rs.recs = schema, recs
	return nil
}

// takeAcc collects the values of one column in row order.
type takeAcc struct {
	column string
	Rows   *recordSet `json:"rows"`
}

func newTakeAcc(spec Spec) (*takeAcc, error) {
	rs, err := newRecordSet([]string{spec.Column}, spec.Types)
	if err != nil {
		return nil, err
	}
	return &takeAcc{column: spec.Column, Rows: rs}, nil
}

func (a *takeAcc) Fill(b Batch) error {
	return a.Rows.fill(b)
}

func (a *takeAcc) Merge(other Accumulator) error {
	o, ok := other.(*takeAcc)
	if !ok {
		return mismatch(a, other)
	}
	a.Rows.merge(o.Rows)
	return nil
}

// Result returns the collected values as a series.Column.
func (a *takeAcc) Result() (any, error) {
	if a.Rows.schema == nil {
		return nil, fmt.Errorf("take %s: column type unknown", a.column)
	}
	mem := memory.NewGoAllocator()
	dt := a.Rows.schema.Field(0).Type

	var arr arrow.Array
	switch len(a.Rows.recs) {
	case 0:
		arr = array.MakeArrayOfNull(mem, dt, 0)
	default:
		chunks := make([]arrow.Array, len(a.Rows.recs))
		for i, rec := range a.Rows.recs {
			chunks[i] = rec.Column(0)
		}
		var err error
		arr, err = array.Concatenate(chunks, mem)
		if err != nil {
			return nil, fmt.Errorf("take %s: %w", a.column, err)
		}
	}
	defer arr.Release()
	return series.FromArray(a.column, arr)
}

func (a *takeAcc) Release() {
	a.Rows.release()
}

// SnapshotInfo describes a file written by a Snapshot action.
type SnapshotInfo struct {
	Path    string   `json:"path"`
	Format  string   `json:"format"`
	Rows    int64    `json:"rows"`
	Columns []string `json:"columns"`
}

// snapshotAcc collects the surviving rows of the selected columns and
// writes them when finalized.
type snapshotAcc struct {
	spec Spec
	Rows *recordSet `json:"rows"`
}

func newSnapshotAcc(spec Spec) (*snapshotAcc, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("snapshot: output path is required")
	}
	if len(spec.Select) == 0 {
		return nil, fmt.Errorf("snapshot: no columns selected")
	}
	rs, err := newRecordSet(spec.Select, spec.Types)
	if err != nil {
		return nil, err
	}
	return &snapshotAcc{spec: spec, Rows: rs}, nil
}

func (a *snapshotAcc) Fill(b Batch) error {
	return a.Rows.fill(b)
}

func (a *snapshotAcc) Merge(other Accumulator) error {
	o, ok := other.(*snapshotAcc)
	if !ok {
		return mismatch(a, other)
	}
	a.Rows.merge(o.Rows)
	return nil
}

func (a *snapshotAcc) Result() (any, error) {
	format := io.Format(a.spec.Format)
	if format == "" {
		detected, ok := io.DetectFormat(a.spec.Path)
		if !ok {
			detected = io.FormatParquet
		}
		format = detected
	}
	if a.Rows.schema == nil {
		return nil, fmt.Errorf("snapshot %s: column types unknown", a.spec.Path)
	}
	if err := io.WriteRecords(a.spec.Path, format, a.Rows.schema, a.Rows.recs); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return SnapshotInfo{
		Path:    a.spec.Path,
		Format:  string(format),
		Rows:    a.Rows.rows(),
		Columns: append([]string(nil), a.spec.Select...),
	}, nil
}

func (a *snapshotAcc) Release() {
	a.Rows.release()
}
