// Package parallel provides the worker pool used to process dataset chunks
// concurrently.
//
// Work is distributed with a fan-out/fan-in pattern over a fixed number of
// goroutines. Results are always returned in input order, so callers can
// merge per-chunk state deterministically regardless of scheduling.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned for work submitted to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool manages a pool of goroutines for parallel processing
type WorkerPool struct {
	numWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool. A non-positive size selects one
// worker per CPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Workers returns the number of goroutines the pool runs.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// Map calls fn for every item concurrently and returns the results in input
// order. The first failure, by item index, is returned once all started
// calls have finished; items not yet started are skipped. Results of calls
// that did run are returned even on error so the caller can release them.
func Map[T, R any](
	ctx context.Context,
	wp *WorkerPool,
	items []T,
	fn func(ctx context.Context, index int, item T) (R, error),
) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if wp.ctx.Err() != nil {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	itemCh := make(chan indexedItem[T])
	resultCh := make(chan indexedResult[R], len(items))

	// Start workers
	var wg sync.WaitGroup
	for range min(wp.numWorkers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemCh {
				if ctx.Err() != nil {
					continue
				}
				result, err := fn(ctx, item.index, item.value)
				if err != nil {
					cancel()
				}
				resultCh <- indexedResult[R]{index: item.index, result: result, err: err}
			}
		}()
	}

	// Send items to workers
	go func() {
		defer close(itemCh)
		for i, item := range items {
			select {
			case <-ctx.Done():
				return
			case <-wp.ctx.Done():
				return
			case itemCh <- indexedItem[T]{index: i, value: item}:
			}
		}
	}()

	// Close result channel when all workers are done
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]R, len(items))
	completed := make([]bool, len(items))
	var firstErr error
	firstIndex := len(items)
	for r := range resultCh {
		results[r.index] = r.result
		completed[r.index] = true
		if r.err != nil && r.index < firstIndex {
			firstErr, firstIndex = r.err, r.index
		}
	}
	if firstErr != nil {
		return results, firstErr
	}

	for _, ok := range completed {
		if ok {
			continue
		}
		if wp.ctx.Err() != nil {
			return results, ErrPoolClosed
		}
		return results, context.Cause(ctx)
	}
	return results, nil
}

// ProcessIndexed executes work items in parallel while preserving order
func ProcessIndexed[T, R any](
	wp *WorkerPool,
	items []T,
	worker func(int, T) R,
) []R {
	results, _ := Map(context.Background(), wp, items, func(_ context.Context, i int, item T) (R, error) {
		return worker(i, item), nil
	})
	return results
}

// Close shuts down the worker pool. Calls in progress finish; queued items
// are dropped.
func (wp *WorkerPool) Close() {
	wp.cancel()
}

// indexedItem holds an item with its index
type indexedItem[T any] struct {
	index int
	value T
}

// indexedResult holds a result with its index
type indexedResult[R any] struct {
	index  int
	result R
	err    error
}
