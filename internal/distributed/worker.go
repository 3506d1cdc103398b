package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/engine"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/paveg/tachyon/internal/parallel"
)

// ErrMemoryLimit is returned for tasks whose rows do not fit in the
// worker's memory budget.
var ErrMemoryLimit = errors.New("task exceeds worker memory limit")

// ErrGraphMismatch is returned when the graph a worker rebuilds differs
// from the coordinator's, for example because the origin file changed.
var ErrGraphMismatch = errors.New("graph fingerprint mismatch")

// Worker executes tasks. It is shared by the in-process transport and the
// HTTP worker server.
type Worker struct {
	name    string
	opener  *io.Opener
	cache   *lru.Cache[uint64, *dataset.Dataset]
	memory  *parallel.MemoryMonitor
	exec    *engine.LocalExecutor
	metrics *monitoring.Metrics
	records *monitoring.MetricsCollector
	logger  *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerName sets the name reported in task results.
func WithWorkerName(name string) WorkerOption {
	return func(w *Worker) {
		w.name = name
	}
}

// WithOpener sets how origins are opened, e.g. with an object store.
func WithOpener(o *io.Opener) WorkerOption {
	return func(w *Worker) {
		w.opener = o
	}
}

// WithWorkerMetrics records tasks on Prometheus collectors.
func WithWorkerMetrics(m *monitoring.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithWorkerCollector records every task as a "task" operation on c.
func WithWorkerCollector(c *monitoring.MetricsCollector) WorkerOption {
	return func(w *Worker) {
		w.records = c
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a worker. Local execution settings come from cfg, the
// memory limit and dataset cache size from cfg.Distributed.
func NewWorker(cfg config.Config, opts ...WorkerOption) (*Worker, error) {
	cacheSize := cfg.Distributed.CacheSize
	if cacheSize <= 0 {
		cacheSize = config.DefaultCacheSize
	}
	// Evicted datasets are not released: a running task may still use them.
	cache, err := lru.New[uint64, *dataset.Dataset](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating dataset cache: %w", err)
	}

	w := &Worker{
		cache:  cache,
		memory: parallel.NewMemoryMonitor(cfg.Distributed.MemoryLimit),
		exec:   engine.NewLocalExecutor(cfg),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		if host, err := os.Hostname(); err == nil {
			w.name = host
		} else {
			w.name = "worker"
		}
	}
	if w.opener == nil {
		w.opener = &io.Opener{}
	}
	if w.logger == nil {
		w.logger = logging.Get()
	}
	if w.records == nil {
		w.records = monitoring.NewMetricsCollector(false)
	}
	return w, nil
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// MemoryInUse returns the bytes reserved by running tasks.
func (w *Worker) MemoryInUse() int64 {
	return w.memory.CurrentUsage()
}

// Run executes task and returns its partial results.
func (w *Worker) Run(ctx context.Context, task Task) (TaskResult, error) {
	start := time.Now()
	var result TaskResult
	err := w.records.RecordOperation("task", int64(task.Range.Len()), func() error {
		var err error
		result, err = w.run(ctx, task)
		return err
	})
	w.metrics.ObserveTask(time.Since(start), err)

	logger := w.logger.With("task", task.ID, "range", task.Range.String(), "graph", fmt.Sprintf("%016x", task.Fingerprint))
	if task.RunID != "" {
		logger = logging.FromContext(logging.WithRunID(ctx, task.RunID), logger)
	}
	if err != nil {
		logger.Error("task failed", "error", err)
		return TaskResult{ID: task.ID, Worker: w.name, Error: err.Error()}, err
	}
	logger.Debug("task completed", "rows", result.Rows, "duration", time.Since(start))
	return result, nil
}

func (w *Worker) run(ctx context.Context, task Task) (TaskResult, error) {
	if err := task.Validate(); err != nil {
		return TaskResult{}, err
	}

	data, err := w.load(ctx, task)
	if err != nil {
		return TaskResult{}, err
	}
	defer data.Release()

	size := data.EstimateBytes(dataset.Range{Start: 0, End: data.Len()})
	if !w.memory.TryReserve(size) {
		return TaskResult{}, fmt.Errorf("%w: range %s needs ~%d bytes, %d of %d in use",
			ErrMemoryLimit, task.Range, size, w.memory.CurrentUsage(), w.memory.Threshold())
	}
	defer w.memory.Release(size)

	g, err := graph.FromSpec(data.Schema(), task.Graph)
	if err != nil {
		return TaskResult{}, fmt.Errorf("rebuilding graph: %w", err)
	}
	if fp := g.Fingerprint(); task.Fingerprint != 0 && fp != task.Fingerprint {
		return TaskResult{}, fmt.Errorf("%w: rebuilt graph %016x, coordinator sent %016x",
			ErrGraphMismatch, fp, task.Fingerprint)
	}

	accs, err := w.exec.Partials(ctx, data, g, task.Actions)
	if err != nil {
		return TaskResult{}, err
	}
	defer engine.ReleaseAll(accs)

	partials := make([]action.Partial, len(accs))
	for i, id := range task.Actions {
		n, _ := g.Node(id)
		if partials[i], err = action.Encode(*n.Action, accs[i]); err != nil {
			return TaskResult{}, err
		}
	}
	return TaskResult{ID: task.ID, Worker: w.name, Rows: data.Len(), Partials: partials}, nil
}

// load returns the rows of the task. The caller releases the result.
func (w *Worker) load(ctx context.Context, task Task) (*dataset.Dataset, error) {
	if task.Source.Origin == nil {
		data, err := io.DecodeDataset(task.Source.Inline, nil)
		if err != nil {
			return nil, fmt.Errorf("decoding inline rows: %w", err)
		}
		if data.Len() != task.Range.Len() {
			data.Release()
			return nil, fmt.Errorf("inline rows: got %d rows for range %s", data.Len(), task.Range)
		}
		return data, nil
	}

	origin := *task.Source.Origin
	key := xxhash.Sum64String(origin.Format + "|" + origin.Location)
	ds, ok := w.cache.Get(key)
	if !ok {
		var err error
		ds, err = w.opener.OpenFormat(ctx, origin.Location, io.Format(origin.Format))
		if err != nil {
			return nil, err
		}
		w.cache.Add(key, ds)
	}
	if task.Range.End > ds.Len() {
		return nil, fmt.Errorf("range %s is outside %s (%d rows)", task.Range, origin.Location, ds.Len())
	}
	return ds.Slice(task.Range), nil
}
