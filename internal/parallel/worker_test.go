package parallel_test

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paveg/tachyon/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	pool := parallel.NewWorkerPool(0)
	defer pool.Close()
	assert.Equal(t, runtime.NumCPU(), pool.Workers())

	pool2 := parallel.NewWorkerPool(4)
	defer pool2.Close()
	assert.Equal(t, 4, pool2.Workers())

	pool3 := parallel.NewWorkerPool(-1)
	defer pool3.Close()
	assert.Equal(t, runtime.NumCPU(), pool3.Workers())
}

func TestMapPreservesOrder(t *testing.T) {
	pool := parallel.NewWorkerPool(3)
	defer pool.Close()

	input := make([]int, 50)
	for i := range input {
		input[i] = i
	}

	results, err := parallel.Map(context.Background(), pool, input, func(_ context.Context, i, x int) (int, error) {
		if x%7 == 0 {
			time.Sleep(time.Millisecond)
		}
		return x * x, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
}

func TestMapEmpty(t *testing.T) {
	pool := parallel.NewWorkerPool(2)
	defer pool.Close()

	results, err := parallel.Map(context.Background(), pool, []int{}, func(_ context.Context, _ int, x int) (int, error) {
		return x, nil
	})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestMapReturnsFirstErrorByIndex(t *testing.T) {
	pool := parallel.NewWorkerPool(4)
	defer pool.Close()

	errLow := errors.New("low")
	errHigh := errors.New("high")
	input := []int{0, 1, 2, 3}

	started := make(chan struct{})

	_, err := parallel.Map(context.Background(), pool, input, func(_ context.Context, i, _ int) (int, error) {
		switch i {
		case 1:
			close(started)
			time.Sleep(5 * time.Millisecond)
			return 0, errLow
		case 3:
			<-started
			return 0, errHigh
		}
		return i, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errLow)
}

func TestMapStopsAfterFailure(t *testing.T) {
	pool := parallel.NewWorkerPool(1)
	defer pool.Close()

	var calls atomic.Int32
	input := make([]int, 100)
	_, err := parallel.Map(context.Background(), pool, input, func(_ context.Context, i, _ int) (int, error) {
		calls.Add(1)
		if i == 2 {
			return 0, errors.New("boom")
		}
		return 0, nil
	})
	require.Error(t, err)
	assert.Less(t, calls.Load(), int32(100))
}

func TestMapCanceledContext(t *testing.T) {
	pool := parallel.NewWorkerPool(2)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := parallel.Map(ctx, pool, []int{1, 2, 3}, func(_ context.Context, _ int, x int) (int, error) {
		return x, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapClosedPool(t *testing.T) {
	pool := parallel.NewWorkerPool(2)
	pool.Close()

	_, err := parallel.Map(context.Background(), pool, []int{1, 2, 3}, func(_ context.Context, _ int, x int) (int, error) {
		return x, nil
	})
	assert.ErrorIs(t, err, parallel.ErrPoolClosed)
}

func TestProcessIndexed(t *testing.T) {
	pool := parallel.NewWorkerPool(2)
	defer pool.Close()

	input := []string{"a", "b", "c", "d"}
	results := parallel.ProcessIndexed(pool, input, func(index int, value string) string {
		return value + string(rune('0'+index))
	})

	assert.Equal(t, []string{"a0", "b1", "c2", "d3"}, results)
}

func TestMemoryMonitor(t *testing.T) {
	m := parallel.NewMemoryMonitor(100)
	assert.True(t, m.TryReserve(60))
	assert.False(t, m.TryReserve(50))
	assert.True(t, m.TryReserve(40))
	assert.Equal(t, int64(100), m.CurrentUsage())

	m.Release(60)
	assert.True(t, m.TryReserve(50))
	assert.Equal(t, int64(90), m.CurrentUsage())

	unlimited := parallel.NewMemoryMonitor(0)
	assert.True(t, unlimited.TryReserve(1<<40))
	assert.Equal(t, int64(0), unlimited.Threshold())
}
