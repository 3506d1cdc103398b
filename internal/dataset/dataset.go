// Package dataset provides the column store: immutable collections of named,
// typed Arrow columns sharing a common row count, with zero-copy range
// slicing for chunked and distributed processing.
package dataset

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/series"
)

// EntryColumn is the name of the row-index column created by Sequence.
const EntryColumn = "entry"

// Origin records where a dataset was loaded from, so remote workers can open
// the same data themselves instead of receiving it over the wire.
type Origin struct {
	Format   string `json:"format"`   // "parquet", "ipc" or "csv"
	Location string `json:"location"` // file path or s3:// URI
}

// Dataset represents an ordered, immutable table of typed columns
type Dataset struct {
	columns map[string]series.Column
	order   []string // Maintains column order
	rows    int
	origin  *Origin
}

// New creates a Dataset from columns of equal length with unique names.
// The dataset takes ownership of the columns.
func New(cols ...series.Column) (*Dataset, error) {
	columns := make(map[string]series.Column, len(cols))
	order := make([]string, 0, len(cols))
	rows := -1

	for _, c := range cols {
		name := c.Name()
		if name == "" {
			return nil, errors.NewInvalidInputError("NewDataset", "column name must not be empty")
		}
		if _, dup := columns[name]; dup {
			return nil, errors.NewColumnExistsError("NewDataset", name)
		}
		if rows >= 0 && c.Len() != rows {
			return nil, errors.NewInvalidInputError("NewDataset",
				fmt.Sprintf("column %q has %d rows, expected %d", name, c.Len(), rows))
		}
		rows = c.Len()
		columns[name] = c
		order = append(order, name)
	}

	return &Dataset{
		columns: columns,
		order:   order,
		rows:    max(rows, 0),
	}, nil
}

// FromRecord creates a Dataset from an Arrow record batch.
func FromRecord(rec arrow.Record) (*Dataset, error) {
	cols := make([]series.Column, 0, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		c, err := series.FromArray(f.Name, rec.Column(i))
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("converting column %s: %w", f.Name, err)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// FromTable creates a Dataset from an Arrow table, concatenating chunks.
func FromTable(tbl arrow.Table, mem memory.Allocator) (*Dataset, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	cols := make([]series.Column, 0, tbl.NumCols())
	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		arr, err := concatChunks(col.Data(), mem)
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("concatenating column %s: %w", col.Name(), err)
		}
		c, err := series.FromArray(col.Name(), arr)
		arr.Release()
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("converting column %s: %w", col.Name(), err)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

func concatChunks(chunked *arrow.Chunked, mem memory.Allocator) (arrow.Array, error) {
	chunks := chunked.Chunks()
	switch len(chunks) {
	case 0:
		return array.MakeArrayOfNull(mem, chunked.DataType(), 0), nil
	case 1:
		chunks[0].Retain()
		return chunks[0], nil
	default:
		return array.Concatenate(chunks, mem)
	}
}

// Sequence creates a dataset with a single int64 column "entry" holding the
// row indices 0..n-1, the usual starting point for generated data.
func Sequence(n int) *Dataset {
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i)
	}
	ds, _ := New(series.New(EntryColumn, values, nil))
	return ds
}

// Columns returns the names of all columns in order
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.order...)
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return d.rows
}

// Width returns the number of columns
func (d *Dataset) Width() int {
	return len(d.order)
}

// Column returns the column with the given name
func (d *Dataset) Column(name string) (series.Column, bool) {
	c, ok := d.columns[name]
	return c, ok
}

// Schema returns the Arrow schema of the dataset.
func (d *Dataset) Schema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(d.order))
	for _, name := range d.order {
		fields = append(fields, arrow.Field{Name: name, Type: d.columns[name].DataType(), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// Select returns a new Dataset sharing the named columns' buffers.
func (d *Dataset) Select(names ...string) (*Dataset, error) {
	cols := make([]series.Column, 0, len(names))
	for _, name := range names {
		c, ok := d.columns[name]
		if !ok {
			releaseAll(cols)
			return nil, errors.NewColumnNotFoundError("Select", name, d.order...)
		}
		arr := c.Array()
		sc, err := series.FromArray(name, arr)
		arr.Release()
		if err != nil {
			releaseAll(cols)
			return nil, err
		}
		cols = append(cols, sc)
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = d.rows
	return out, nil
}

// Slice returns a zero-copy view of the rows in r. The slice does not carry
// the origin of its parent.
func (d *Dataset) Slice(r Range) *Dataset {
	r = r.Clamp(d.rows)
	cols := make([]series.Column, 0, len(d.order))
	for _, name := range d.order {
		arr := d.columns[name].Array()
		sliced := array.NewSlice(arr, int64(r.Start), int64(r.End))
		arr.Release()
		c, _ := series.FromArray(name, sliced)
		sliced.Release()
		cols = append(cols, c)
	}
	return &Dataset{
		columns: indexColumns(cols),
		order:   d.Columns(),
		rows:    r.Len(),
	}
}

// Record converts the dataset into an Arrow record batch. The caller must
// release the record.
func (d *Dataset) Record() arrow.Record {
	arrs := make([]arrow.Array, 0, len(d.order))
	for _, name := range d.order {
		arrs = append(arrs, d.columns[name].Array())
	}
	rec := array.NewRecord(d.Schema(), arrs, int64(d.rows))
	for _, a := range arrs {
		a.Release()
	}
	return rec
}

// WithOrigin returns a copy of the dataset annotated with its origin. The
// copy holds its own references to the column buffers.
func (d *Dataset) WithOrigin(o Origin) *Dataset {
	cp, _ := d.Select(d.order...)
	cp.origin = &o
	return cp
}

// Origin returns the location the dataset was loaded from, if known.
func (d *Dataset) Origin() (Origin, bool) {
	if d.origin == nil {
		return Origin{}, false
	}
	return *d.origin, true
}

// EstimateBytes estimates the in-memory size of the rows in r.
func (d *Dataset) EstimateBytes(r Range) int64 {
	r = r.Clamp(d.rows)
	var perRow int64
	for _, name := range d.order {
		switch d.columns[name].DataType().ID() {
		case arrow.INT32, arrow.FLOAT32:
			perRow += 4
		case arrow.BOOL:
			perRow++
		case arrow.STRING:
			perRow += avgStringBytes
		default:
			perRow += 8
		}
	}
	return perRow * int64(r.Len())
}

const avgStringBytes = 16

// String returns a short description of the dataset
func (d *Dataset) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset[%d rows x %d cols]", d.rows, len(d.order))
	for _, name := range d.order {
		fmt.Fprintf(&b, "\n  %s: %s", name, d.columns[name].DataType())
	}
	return b.String()
}

// Release releases all columns
func (d *Dataset) Release() {
	for _, c := range d.columns {
		c.Release()
	}
}

func indexColumns(cols []series.Column) map[string]series.Column {
	m := make(map[string]series.Column, len(cols))
	for _, c := range cols {
		m[c.Name()] = c
	}
	return m
}

func releaseAll(cols []series.Column) {
	for _, c := range cols {
		c.Release()
	}
}
