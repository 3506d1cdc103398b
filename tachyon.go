// Package tachyon provides a lazily evaluated columnar analysis engine.
// Transformations and actions build a computation graph; reading any
// booked result runs one pass over the data that computes every result
// booked so far. This package is the sole public API for the library.
package tachyon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/distributed"
	"github.com/paveg/tachyon/internal/engine"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/paveg/tachyon/internal/series"
)

type (
	// Dataset is an immutable set of named, equally long columns.
	Dataset = dataset.Dataset
	// Column is a named, typed column of a Dataset.
	Column = series.Column
	// Config holds execution settings.
	Config = config.Config
	// DistributedConfig holds cluster settings.
	DistributedConfig = config.DistributedConfig
	// ObjectStoreConfig holds S3-compatible connection settings.
	ObjectStoreConfig = io.ObjectStoreConfig
	// RunCounter counts the passes an engine runs.
	RunCounter = engine.RunCounter
	// Executor runs passes; see WithExecutor.
	Executor = engine.Executor
	// Metrics holds Prometheus collectors for passes, ranges and tasks.
	Metrics = monitoring.Metrics
	// Collector records the duration and size of every pass.
	Collector = monitoring.MetricsCollector
	// Plan describes the computation graph of a DataFrame.
	Plan = monitoring.QueryPlan
	// HistModel describes the binning of a histogram.
	HistModel = hist.Model
	// Histogram is a filled one-dimensional histogram.
	Histogram = hist.H1
	// Cut reports how many rows reached and passed a named filter.
	Cut = action.Cut
	// SnapshotInfo describes a file written by Snapshot.
	SnapshotInfo = action.SnapshotInfo
)

// NewConfig returns the default configuration.
func NewConfig() Config {
	return config.NewConfig()
}

// NewRunCounter returns a zeroed run counter.
func NewRunCounter() *RunCounter {
	return engine.NewRunCounter()
}

// NewMetrics creates Prometheus collectors on a fresh registry.
func NewMetrics() *Metrics {
	return monitoring.NewMetrics()
}

// NewSeries creates a typed column from values.
func NewSeries[T series.Element](name string, values []T, mem memory.Allocator) Column {
	return series.New(name, values, mem)
}

// NewDataset builds a dataset from columns of equal length.
func NewDataset(cols ...Column) (*Dataset, error) {
	return dataset.New(cols...)
}

type options struct {
	engine  []engine.Option
	objects *ObjectStoreConfig
	mem     memory.Allocator
}

// Option configures a DataFrame.
type Option func(*options)

// WithConfig runs passes locally with the settings of cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithExecutor(engine.NewLocalExecutor(cfg)))
	}
}

// WithExecutor runs passes with x, e.g. a Cluster.
func WithExecutor(x Executor) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithExecutor(x))
	}
}

// WithRunCounter counts passes on c.
func WithRunCounter(c *RunCounter) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithRunCounter(c))
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithLogger(l))
	}
}

// WithMetrics records passes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithMetrics(m))
	}
}

// WithCollector records passes on c.
func WithCollector(c *Collector) Option {
	return func(o *options) {
		o.engine = append(o.engine, engine.WithCollector(c))
	}
}

// WithObjectStore lets Open read s3:// locations.
func WithObjectStore(cfg ObjectStoreConfig) Option {
	return func(o *options) {
		o.objects = &cfg
	}
}

// WithAllocator sets the allocator used to load files.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		o.mem = mem
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// source owns a dataset loaded by Open.
type source struct {
	ds   *Dataset
	once sync.Once
}

func (s *source) release() {
	if s == nil {
		return
	}
	s.once.Do(s.ds.Release)
}

// DataFrame is a node of a computation graph. Every transformation returns
// a new DataFrame sharing the same graph; nothing is computed until a
// result is read.
type DataFrame struct {
	eng  *engine.Engine
	node graph.NodeID
	src  *source
}

// FromDataset starts a computation graph over ds. The caller keeps
// ownership of ds and must not release it while results are pending.
func FromDataset(ds *Dataset, opts ...Option) *DataFrame {
	o := buildOptions(opts)
	return &DataFrame{eng: engine.New(ds, o.engine...), node: graph.RootID}
}

// Open loads a Parquet, Arrow IPC or CSV file, or an s3:// object, and
// starts a computation graph over it. Release the DataFrame when done.
func Open(ctx context.Context, location string, opts ...Option) (*DataFrame, error) {
	o := buildOptions(opts)
	opener := &io.Opener{Mem: o.mem}
	if o.objects != nil {
		store, err := io.NewObjectStore(*o.objects)
		if err != nil {
			return nil, err
		}
		opener.Objects = store
	}
	ds, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	return &DataFrame{eng: engine.New(ds, o.engine...), node: graph.RootID, src: &source{ds: ds}}, nil
}

// Release frees a dataset loaded by Open. It is a no-op for DataFrames
// built with FromDataset.
func (d *DataFrame) Release() {
	d.src.release()
}

func (d *DataFrame) derive(id graph.NodeID, err error) (*DataFrame, error) {
	if err != nil {
		return nil, err
	}
	return &DataFrame{eng: d.eng, node: id, src: d.src}, nil
}

// Filter keeps the rows for which predicate is true.
func (d *DataFrame) Filter(predicate string) (*DataFrame, error) {
	return d.derive(d.eng.Filter(d.node, predicate, ""))
}

// FilterNamed is Filter with a name reported by Report.
func (d *DataFrame) FilterNamed(predicate, name string) (*DataFrame, error) {
	return d.derive(d.eng.Filter(d.node, predicate, name))
}

// Define adds a column computed from expression.
func (d *DataFrame) Define(name, expression string) (*DataFrame, error) {
	return d.derive(d.eng.Define(d.node, name, expression))
}

// Redefine replaces a visible column for the nodes below the result. The
// expression may reference the previous value of name.
func (d *DataFrame) Redefine(name, expression string) (*DataFrame, error) {
	return d.derive(d.eng.Redefine(d.node, name, expression))
}

// Alias makes column visible under a second name.
func (d *DataFrame) Alias(alias, column string) (*DataFrame, error) {
	return d.derive(d.eng.Alias(d.node, alias, column))
}

// Columns returns the columns visible at this node, sorted.
func (d *DataFrame) Columns() []string {
	return d.eng.Columns(d.node)
}

// DefinedColumns returns the visible columns added by Define or Alias.
func (d *DataFrame) DefinedColumns() []string {
	return d.eng.DefinedColumns(d.node)
}

// ColumnType returns the Arrow type name of a visible column.
func (d *DataFrame) ColumnType(name string) (string, error) {
	return d.eng.ColumnType(d.node, name)
}

// Describe returns the computation graph as a plan tree.
func (d *DataFrame) Describe() *Plan {
	return d.eng.Describe()
}

// Run computes every pending result in one pass.
func (d *DataFrame) Run(ctx context.Context) error {
	return d.eng.Run(ctx)
}

// Counter returns the run counter of the graph.
func (d *DataFrame) Counter() *RunCounter {
	return d.eng.Counter()
}

// Result is a lazily computed value. Reading it runs a pass unless a
// previous pass already computed it.
type Result[T any] struct {
	ready func() bool
	value func(context.Context) (T, error)
}

func wrap[T any](r *engine.Result[T]) *Result[T] {
	return &Result[T]{ready: r.Ready, value: r.Value}
}

func book[T any](d *DataFrame, spec action.Spec) (*Result[T], error) {
	r, err := engine.Book[T](d.eng, d.node, spec)
	if err != nil {
		return nil, err
	}
	return wrap(r), nil
}

// Value returns the result, computing it if needed.
func (r *Result[T]) Value(ctx context.Context) (T, error) {
	return r.value(ctx)
}

// Ready reports whether the result has been computed.
func (r *Result[T]) Ready() bool {
	return r.ready()
}

// Count books the number of rows.
func (d *DataFrame) Count() (*Result[int64], error) {
	return book[int64](d, action.Spec{Kind: action.KindCount})
}

// Sum books the sum of a numeric column.
func (d *DataFrame) Sum(column string) (*Result[float64], error) {
	return book[float64](d, action.Spec{Kind: action.KindSum, Column: column})
}

// Mean books the mean of a numeric column; 0 when no rows pass.
func (d *DataFrame) Mean(column string) (*Result[float64], error) {
	return book[float64](d, action.Spec{Kind: action.KindMean, Column: column})
}

// Min books the minimum of a numeric column; +Inf when no rows pass.
func (d *DataFrame) Min(column string) (*Result[float64], error) {
	return book[float64](d, action.Spec{Kind: action.KindMin, Column: column})
}

// Max books the maximum of a numeric column; -Inf when no rows pass.
func (d *DataFrame) Max(column string) (*Result[float64], error) {
	return book[float64](d, action.Spec{Kind: action.KindMax, Column: column})
}

// StdDev books the sample standard deviation of a numeric column.
func (d *DataFrame) StdDev(column string) (*Result[float64], error) {
	return book[float64](d, action.Spec{Kind: action.KindStdDev, Column: column})
}

// Histo1D books a histogram of column. An optional weight column weights
// each entry.
func (d *DataFrame) Histo1D(model HistModel, column string, weight ...string) (*Result[*Histogram], error) {
	spec := action.Spec{Kind: action.KindHisto1D, Column: column, Model: &model}
	switch len(weight) {
	case 0:
	case 1:
		spec.Weight = weight[0]
	default:
		return nil, errors.NewInvalidInputError("Histo1D", "at most one weight column")
	}
	return book[*Histogram](d, spec)
}

// Snapshot books writing the selected columns of the passing rows to path.
// The format follows the extension; no columns selects every visible one.
func (d *DataFrame) Snapshot(path string, columns ...string) (*Result[SnapshotInfo], error) {
	return book[SnapshotInfo](d, action.Spec{Kind: action.KindSnapshot, Path: path, Select: columns})
}

// Report books the pass counts of every named filter above this node.
func (d *DataFrame) Report() (*Result[[]Cut], error) {
	return book[[]Cut](d, action.Spec{Kind: action.KindReport})
}

// Take books collecting the values of column in row order.
func Take[T series.Element](d *DataFrame, column string) (*Result[[]T], error) {
	const op = "Take"
	got, err := d.ColumnType(column)
	if err != nil {
		return nil, err
	}
	if want := typeName[T](); got != want {
		return nil, errors.NewTypeMismatchError(op, column, want, got)
	}
	r, err := engine.Book[series.Column](d.eng, d.node, action.Spec{Kind: action.KindTake, Column: column})
	if err != nil {
		return nil, err
	}
	return &Result[[]T]{
		ready: r.Ready,
		value: func(ctx context.Context) ([]T, error) {
			col, err := r.Value(ctx)
			if err != nil {
				return nil, err
			}
			defer col.Release()
			s, ok := col.(*series.Series[T])
			if !ok {
				return nil, errors.NewInternalError(op, fmt.Errorf("column %q holds %s", column, col.DataType()))
			}
			return s.Values(), nil
		},
	}, nil
}

func typeName[T series.Element]() string {
	var zero T
	switch any(zero).(type) {
	case int32:
		return "int32"
	case int64:
		return "int64"
	case float32:
		return "float32"
	case float64:
		return "float64"
	case bool:
		return "bool"
	default:
		return "utf8"
	}
}

// Cluster is an Executor spreading passes over distributed workers.
type Cluster struct {
	*distributed.Coordinator
	closer func()
}

// NewCluster connects to the workers of cfg.Distributed. With no worker
// addresses it starts in-process workers that still exchange encoded
// tasks, which is useful for testing a deployment on one machine. Close
// the cluster when done.
func NewCluster(cfg Config, metrics *Metrics) (*Cluster, error) {
	d := cfg.Distributed
	opts := []distributed.CoordinatorOption{
		distributed.WithPartitions(d.Partitions),
		distributed.WithCompression(d.Compression),
		distributed.WithCoordinatorMetrics(metrics),
	}
	if len(d.Workers) > 0 {
		t, err := distributed.NewHTTPTransport(d)
		if err != nil {
			return nil, err
		}
		return &Cluster{Coordinator: distributed.NewCoordinator(t, opts...), closer: func() {}}, nil
	}

	w, err := distributed.NewWorker(cfg, distributed.WithWorkerName("local"), distributed.WithWorkerMetrics(metrics))
	if err != nil {
		return nil, err
	}
	t, err := distributed.NewLocalTransport(w, d.Concurrency, d.Compression)
	if err != nil {
		return nil, err
	}
	return &Cluster{Coordinator: distributed.NewCoordinator(t, opts...), closer: t.Close}, nil
}

// Close releases in-process workers.
func (c *Cluster) Close() {
	c.closer()
}
