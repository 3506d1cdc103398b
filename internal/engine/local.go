package engine

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/graph"
	"github.com/paveg/tachyon/internal/parallel"
)

// Job is one pass: the actions to compute over a dataset.
type Job struct {
	Dataset *dataset.Dataset
	Graph   *graph.Graph
	Actions []graph.NodeID
}

// Executor runs passes for an Engine. Execute returns the finalized value
// of every action of the job, or an error and no values.
type Executor interface {
	Execute(ctx context.Context, job Job) (map[graph.NodeID]any, error)
}

// releaser is implemented by accumulators holding Arrow memory.
type releaser interface {
	Release()
}

// ReleaseAll releases every accumulator that holds Arrow memory.
func ReleaseAll(accs []action.Accumulator) {
	for _, acc := range accs {
		if r, ok := acc.(releaser); ok {
			r.Release()
		}
	}
}

// LocalExecutor runs passes in-process, splitting large datasets into
// chunks processed by a worker pool.
type LocalExecutor struct {
	Workers   int // 0 = one per CPU
	ChunkSize int // 0 = auto
	Threshold int // rows below which a single chunk is used
	Mem       memory.Allocator
}

// NewLocalExecutor creates a local executor from the engine configuration.
func NewLocalExecutor(cfg config.Config) *LocalExecutor {
	return &LocalExecutor{
		Workers:   cfg.WorkerPoolSize,
		ChunkSize: cfg.ChunkSize,
		Threshold: cfg.ParallelThreshold,
	}
}

// Execute implements Executor.
func (x *LocalExecutor) Execute(ctx context.Context, job Job) (map[graph.NodeID]any, error) {
	accs, err := x.Partials(ctx, job.Dataset, job.Graph, job.Actions)
	if err != nil {
		return nil, err
	}
	return Finalize(job.Graph, job.Actions, accs)
}

// ranges returns the chunks a pass over ds is split into. An empty dataset
// still yields one empty chunk so every accumulator sees a pass.
func (x *LocalExecutor) ranges(ds *dataset.Dataset) ([]dataset.Range, *parallel.WorkerPool) {
	rows := ds.Len()
	pool := parallel.NewWorkerPool(x.Workers)
	if rows == 0 || rows < x.Threshold || pool.Workers() == 1 {
		return []dataset.Range{{Start: 0, End: rows}}, pool
	}
	size := dataset.PlanChunks(rows, pool.Workers(), x.ChunkSize)
	return ds.Chunks(size), pool
}

// Partials computes the merged, unfinalized accumulators of ids over ds.
// The caller owns the returned accumulators.
func (x *LocalExecutor) Partials(ctx context.Context, ds *dataset.Dataset, g *graph.Graph, ids []graph.NodeID) ([]action.Accumulator, error) {
	specs := make([]action.Spec, len(ids))
	for i, id := range ids {
		n, err := g.Node(id)
		if err != nil {
			return nil, err
		}
		if n.Kind != graph.KindAction {
			return nil, fmt.Errorf("node %d is not an action", id)
		}
		specs[i] = *n.Action
	}

	ranges, pool := x.ranges(ds)
	defer pool.Close()

	mem := x.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	results, err := parallel.Map(ctx, pool, ranges, func(_ context.Context, _ int, r dataset.Range) ([]action.Accumulator, error) {
		return x.chunk(ds, g, ids, specs, r, mem)
	})
	if err != nil {
		for _, accs := range results {
			ReleaseAll(accs)
		}
		return nil, err
	}

	merged := results[0]
	for _, accs := range results[1:] {
		for i, acc := range accs {
			if err := merged[i].Merge(acc); err != nil {
				for _, rest := range results {
					ReleaseAll(rest)
				}
				return nil, fmt.Errorf("merging %s: %w", specs[i].Kind, err)
			}
		}
		ReleaseAll(accs)
	}
	return merged, nil
}

// chunk fills fresh accumulators with the rows of r.
func (x *LocalExecutor) chunk(ds *dataset.Dataset, g *graph.Graph, ids []graph.NodeID, specs []action.Spec, r dataset.Range, mem memory.Allocator) ([]action.Accumulator, error) {
	data := ds.Slice(r)
	defer data.Release()

	pass := newChunkPass(g, data, mem)
	defer pass.release()

	accs := make([]action.Accumulator, 0, len(ids))
	for i, id := range ids {
		acc, err := action.New(specs[i])
		if err != nil {
			ReleaseAll(accs)
			return nil, err
		}
		accs = append(accs, acc)
		if err := pass.fill(id, acc); err != nil {
			ReleaseAll(accs)
			return nil, fmt.Errorf("rows %s, %s: %w", r, specs[i], err)
		}
	}
	return accs, nil
}

// Finalize turns merged accumulators into action values and releases
// them.
func Finalize(g *graph.Graph, ids []graph.NodeID, accs []action.Accumulator) (map[graph.NodeID]any, error) {
	defer ReleaseAll(accs)

	values := make(map[graph.NodeID]any, len(ids))
	for i, id := range ids {
		v, err := accs[i].Result()
		if err != nil {
			if n, nerr := g.Node(id); nerr == nil {
				return nil, fmt.Errorf("finalizing %s: %w", n.Action, err)
			}
			return nil, err
		}
		values[id] = v
	}
	return values, nil
}
