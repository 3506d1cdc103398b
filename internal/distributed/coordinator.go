package distributed

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/engine"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/monitoring"
	"golang.org/x/sync/errgroup"
)

// Coordinator is an engine.Executor that spreads a pass over workers.
type Coordinator struct {
	transport  Transport
	partitions int
	compress   bool
	metrics    *monitoring.Metrics
	logger     *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPartitions sets the number of ranges per pass. The default is one
// range per worker.
func WithPartitions(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.partitions = n
	}
}

// WithCompression zstd-compresses rows shipped inline.
func WithCompression(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.compress = enabled
	}
}

// WithCoordinatorMetrics records dispatched ranges on Prometheus collectors.
func WithCoordinatorMetrics(m *monitoring.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator sending tasks through t.
func NewCoordinator(t Transport, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{transport: t}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Get()
	}
	return c
}

// Ranges returns the ranges a pass over rows rows is split into. An empty
// dataset still yields one empty range.
func (c *Coordinator) Ranges(rows int) []dataset.Range {
	n := c.partitions
	if n <= 0 {
		n = c.transport.Workers()
	}
	ranges := dataset.Split(rows, n)
	if len(ranges) == 0 {
		ranges = []dataset.Range{{Start: 0, End: 0}}
	}
	return ranges
}

// Execute implements engine.Executor. Any failed range fails the pass with
// a *errors.RangeError; no partial result is returned.
func (c *Coordinator) Execute(ctx context.Context, job engine.Job) (map[graph.NodeID]any, error) {
	specs := make([]action.Spec, len(job.Actions))
	for i, id := range job.Actions {
		n, err := job.Graph.Node(id)
		if err != nil {
			return nil, err
		}
		if n.Kind != graph.KindAction {
			return nil, fmt.Errorf("node %d is not an action", id)
		}
		specs[i] = *n.Action
	}

	ranges := c.Ranges(job.Dataset.Len())
	spec := job.Graph.Spec()
	fingerprint := job.Graph.Fingerprint()
	origin, hasOrigin := job.Dataset.Origin()
	runID := uuid.NewString()
	logger := logging.FromContext(logging.WithRunID(ctx, runID), c.logger)
	logger.Debug("dispatching pass", "ranges", len(ranges), "workers", c.transport.Workers(),
		"origin", hasOrigin, "graph", fmt.Sprintf("%016x", fingerprint))

	start := time.Now()
	partials := make([][]action.Accumulator, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			task := Task{
				ID:          uuid.NewString(),
				RunID:       runID,
				Graph:       spec,
				Fingerprint: fingerprint,
				Actions:     job.Actions,
				Range:       r,
			}
			if hasOrigin {
				task.Source.Origin = &origin
			} else {
				rows := job.Dataset.Slice(r)
				data, err := io.EncodeDataset(rows, c.compress)
				rows.Release()
				if err != nil {
					return &errors.RangeError{Start: r.Start, End: r.End, Cause: err}
				}
				task.Source.Inline = data
			}

			accs, worker, err := c.send(gctx, task, specs)
			c.metrics.ObserveRange(err)
			if err != nil {
				return &errors.RangeError{Start: r.Start, End: r.End, Worker: worker, Cause: err}
			}
			partials[i] = accs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, accs := range partials {
			engine.ReleaseAll(accs)
		}
		logger.Error("pass aborted", "error", err)
		return nil, err
	}

	merged := partials[0]
	for _, accs := range partials[1:] {
		for i, acc := range accs {
			if err := merged[i].Merge(acc); err != nil {
				for _, rest := range partials {
					engine.ReleaseAll(rest)
				}
				return nil, fmt.Errorf("merging %s: %w", specs[i].Kind, err)
			}
		}
		engine.ReleaseAll(accs)
	}
	logger.Debug("pass merged", "ranges", len(ranges), "duration", time.Since(start))
	return engine.Finalize(job.Graph, job.Actions, merged)
}

// send runs one task and decodes its partials.
func (c *Coordinator) send(ctx context.Context, task Task, specs []action.Spec) ([]action.Accumulator, string, error) {
	result, err := c.transport.Send(ctx, task)
	if err != nil {
		var we *WorkerError
		if stderrors.As(err, &we) {
			return nil, we.Worker, we.Err
		}
		return nil, "", err
	}
	if result.Error != "" {
		return nil, result.Worker, stderrors.New(result.Error)
	}
	if len(result.Partials) != len(specs) {
		return nil, result.Worker, fmt.Errorf("got %d partials for %d actions", len(result.Partials), len(specs))
	}

	accs := make([]action.Accumulator, 0, len(specs))
	for i, p := range result.Partials {
		acc, err := action.Decode(specs[i], p)
		if err != nil {
			engine.ReleaseAll(accs)
			return nil, result.Worker, err
		}
		accs = append(accs, acc)
	}
	return accs, result.Worker, nil
}
