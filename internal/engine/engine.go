// Package engine implements lazy execution of computation graphs. Actions
// booked on an Engine are computed together, in a single pass over the
// dataset, the first time any of their results is read.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/expr"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/paveg/tachyon/internal/series"
)

// State is the execution state of an Engine.
type State int

const (
	// Unbuilt engines have actions waiting for a pass.
	Unbuilt State = iota
	// Running engines are executing a pass.
	Running
	// Satisfied engines have computed every booked action.
	Satisfied
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Running:
		return "running"
	case Satisfied:
		return "satisfied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunCounter counts the passes of one or more engines.
type RunCounter struct {
	triggered atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewRunCounter creates a zeroed counter.
func NewRunCounter() *RunCounter {
	return &RunCounter{}
}

// Triggered returns the number of passes started.
func (c *RunCounter) Triggered() int64 { return c.triggered.Load() }

// Completed returns the number of passes that satisfied their actions.
func (c *RunCounter) Completed() int64 { return c.completed.Load() }

// Failed returns the number of passes that returned an error.
func (c *RunCounter) Failed() int64 { return c.failed.Load() }

// handle is the single-assignment slot behind a result.
type handle struct {
	done  bool
	value any
}

// Engine owns a dataset, the graph built over it and the results of the
// graph's actions.
type Engine struct {
	mu sync.Mutex

	ds        *dataset.Dataset
	graph     *graph.Graph
	exec      Executor
	counter   *RunCounter
	logger    *slog.Logger
	metrics   *monitoring.Metrics
	collector *monitoring.MetricsCollector

	// state is written under mu and read without it, so a pass in
	// progress is observable as Running.
	state   atomic.Int32
	handles map[graph.NodeID]*handle
	pending []graph.NodeID
	rows    int64 // rows read by completed passes
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor sets the executor running passes. The default is a
// LocalExecutor built from the global configuration.
func WithExecutor(x Executor) Option {
	return func(e *Engine) {
		e.exec = x
	}
}

// WithRunCounter shares a run counter with the engine.
func WithRunCounter(c *RunCounter) Option {
	return func(e *Engine) {
		e.counter = c
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records passes on Prometheus collectors.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithCollector records passes as operations on collector.
func WithCollector(c *monitoring.MetricsCollector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

// New creates an engine over ds. The engine does not take ownership of ds.
func New(ds *dataset.Dataset, opts ...Option) *Engine {
	e := &Engine{
		ds:      ds,
		graph:   graph.New(ds.Schema()),
		handles: make(map[graph.NodeID]*handle),
	}
	e.setState(Satisfied)
	for _, opt := range opts {
		opt(e)
	}
	if e.exec == nil {
		e.exec = NewLocalExecutor(config.GetGlobalConfig())
	}
	if e.counter == nil {
		e.counter = NewRunCounter()
	}
	if e.logger == nil {
		e.logger = logging.Get()
	}
	if e.collector == nil {
		e.collector = monitoring.NewMetricsCollector(false)
	}
	return e
}

// Dataset returns the source dataset.
func (e *Engine) Dataset() *dataset.Dataset {
	return e.ds
}

// Counter returns the run counter of the engine.
func (e *Engine) Counter() *RunCounter {
	return e.counter
}

// State returns the current execution state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Pending returns the actions waiting for the next pass.
func (e *Engine) Pending() []graph.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]graph.NodeID(nil), e.pending...)
}

// Spec returns the serializable form of the graph.
func (e *Engine) Spec() graph.Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Spec()
}

// Filter adds a filter node below parent.
func (e *Engine) Filter(parent graph.NodeID, predicate, name string) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.FilterNamed(parent, predicate, name)
}

// FilterExpr adds a filter node with a prebuilt predicate.
func (e *Engine) FilterExpr(parent graph.NodeID, predicate expr.Expr, name string) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.FilterExpr(parent, predicate, name)
}

// Define adds a column computed from expression.
func (e *Engine) Define(parent graph.NodeID, name, expression string) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Define(parent, name, expression)
}

// DefineExpr adds a column computed from a prebuilt expression.
func (e *Engine) DefineExpr(parent graph.NodeID, name string, ex expr.Expr) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.DefineExpr(parent, name, ex)
}

// Redefine rebinds an existing column for the descendants of the new node.
func (e *Engine) Redefine(parent graph.NodeID, name, expression string) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Redefine(parent, name, expression)
}

// RedefineExpr is Redefine with a prebuilt expression.
func (e *Engine) RedefineExpr(parent graph.NodeID, name string, ex expr.Expr) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.RedefineExpr(parent, name, ex)
}

// Alias makes column visible as alias below parent.
func (e *Engine) Alias(parent graph.NodeID, alias, column string) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Alias(parent, alias, column)
}

// Columns returns the names visible at id.
func (e *Engine) Columns(id graph.NodeID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Columns(id)
}

// DefinedColumns returns the defined names visible at id.
func (e *Engine) DefinedColumns(id graph.NodeID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.DefinedColumns(id)
}

// ColumnType returns the type of a column visible at id.
func (e *Engine) ColumnType(id graph.NodeID, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dt, err := e.graph.ColumnType(id, name)
	if err != nil {
		return "", err
	}
	return dt.String(), nil
}

// Book adds an action below parent. Booking on a satisfied engine makes it
// unbuilt again; the next read runs a pass for the new actions only.
func (e *Engine) Book(parent graph.NodeID, spec action.Spec) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.graph.Book(parent, spec)
	if err != nil {
		return 0, err
	}
	e.handles[id] = &handle{}
	e.pending = append(e.pending, id)
	e.state.CompareAndSwap(int32(Satisfied), int32(Unbuilt))
	return id, nil
}

// Ready reports whether the action id has a value.
func (e *Engine) Ready(id graph.NodeID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[id]
	return ok && h.done
}

// Value returns the value of action id, running a pass over every pending
// action if it has not been computed yet.
func (e *Engine) Value(ctx context.Context, id graph.NodeID) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.handles[id]
	if !ok {
		return nil, errors.NewInvalidInputError("Value", fmt.Sprintf("node %d is not a booked action", id))
	}
	if !h.done {
		if err := e.run(ctx); err != nil {
			return nil, err
		}
	}
	return detach(h.value)
}

// detach returns a copy of a memoized value that the caller may modify.
// Columns come back as a new reference the caller must release.
func detach(v any) (any, error) {
	switch x := v.(type) {
	case *hist.H1:
		return x.Clone(), nil
	case []action.Cut:
		return append([]action.Cut(nil), x...), nil
	case series.Column:
		arr := x.Array()
		defer arr.Release()
		return series.FromArray(x.Name(), arr)
	}
	return v, nil
}

// Run computes every pending action. It is a no-op when nothing is
// pending.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx)
}

// run executes one pass. The caller must hold e.mu.
func (e *Engine) run(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.FromContext(ctx, e.logger)

	e.counter.triggered.Add(1)
	e.setState(Running)
	ids := append([]graph.NodeID(nil), e.pending...)
	rows := e.ds.Len()
	logger.Debug("pass started", "actions", len(ids), "rows", rows)

	start := time.Now()
	var values map[graph.NodeID]any
	err := e.collector.RecordOperation("pass", int64(rows), func() error {
		var err error
		values, err = e.exec.Execute(ctx, Job{Dataset: e.ds, Graph: e.graph, Actions: ids})
		return err
	})
	elapsed := time.Since(start)
	e.metrics.ObservePass(elapsed, rows, err)

	if err != nil {
		e.counter.failed.Add(1)
		e.setState(Unbuilt)
		logger.Error("pass failed", "actions", len(ids), "error", err)
		return fmt.Errorf("pass over %d rows: %w", rows, err)
	}

	for _, id := range ids {
		v, ok := values[id]
		if !ok {
			e.counter.failed.Add(1)
			e.setState(Unbuilt)
			return errors.NewInternalError("Run", fmt.Errorf("executor returned no value for node %d", id))
		}
		e.handles[id].value = v
	}
	for _, id := range ids {
		e.handles[id].done = true
	}
	e.pending = e.pending[:0]
	e.setState(Satisfied)
	e.rows += int64(rows)
	e.counter.completed.Add(1)
	logger.Debug("pass completed", "actions", len(ids), "duration", elapsed)
	return nil
}
