package distributed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/version"
)

// Transport delivers tasks to workers.
type Transport interface {
	// Send runs task on a worker. Failures of the worker or of the
	// connection to it are returned as *WorkerError.
	Send(ctx context.Context, task Task) (TaskResult, error)
	// Workers returns the number of workers tasks are spread over.
	Workers() int
}

// LocalTransport runs tasks on in-process workers. Tasks and results go
// through the same encoding as over the network, so workers never share
// memory with the coordinator.
type LocalTransport struct {
	worker   *Worker
	pool     *ants.Pool
	compress bool
}

// NewLocalTransport runs at most size tasks at once on worker. A
// non-positive size selects one slot per CPU.
func NewLocalTransport(worker *Worker, size int, compress bool) (*LocalTransport, error) {
	if size <= 0 {
		size = defaultConcurrency()
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		worker.logger.Error("local task panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating task pool: %w", err)
	}
	return &LocalTransport{worker: worker, pool: pool, compress: compress}, nil
}

// Workers returns the pool capacity.
func (t *LocalTransport) Workers() int {
	return t.pool.Cap()
}

// Send implements Transport.
func (t *LocalTransport) Send(ctx context.Context, task Task) (TaskResult, error) {
	encoding := encodingOf(t.compress)
	payload, err := encodeMessage(task, t.compress)
	if err != nil {
		return TaskResult{}, err
	}

	var (
		reply   []byte
		taskErr error
		done    = make(chan struct{})
	)
	submitErr := t.pool.Submit(func() {
		defer close(done)
		var received Task
		if taskErr = decodeMessage(payload, encoding, &received); taskErr != nil {
			return
		}
		result, err := t.worker.Run(ctx, received)
		if err != nil {
			taskErr = err
			return
		}
		reply, taskErr = encodeMessage(result, t.compress)
	})
	if submitErr != nil {
		return TaskResult{}, &WorkerError{Worker: t.worker.Name(), Err: submitErr}
	}
	<-done

	if taskErr != nil {
		return TaskResult{}, &WorkerError{Worker: t.worker.Name(), Err: taskErr}
	}
	var result TaskResult
	if err := decodeMessage(reply, encoding, &result); err != nil {
		return TaskResult{}, err
	}
	return result, nil
}

// Close releases the pool.
func (t *LocalTransport) Close() {
	t.pool.Release()
}

// HTTPTransport posts tasks to worker servers, choosing workers round-robin.
type HTTPTransport struct {
	workers  []string
	client   *http.Client
	compress bool
	next     atomic.Uint64
}

// NewHTTPTransport creates a transport for the workers of cfg.
func NewHTTPTransport(cfg config.DistributedConfig) (*HTTPTransport, error) {
	if len(cfg.Workers) == 0 {
		return nil, fmt.Errorf("no worker addresses configured")
	}
	workers := make([]string, len(cfg.Workers))
	for i, w := range cfg.Workers {
		workers[i] = strings.TrimRight(w, "/")
	}
	return &HTTPTransport{
		workers:  workers,
		client:   &http.Client{Timeout: cfg.Timeout()},
		compress: cfg.Compression,
	}, nil
}

// Workers returns the number of worker addresses.
func (t *HTTPTransport) Workers() int {
	return len(t.workers)
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, task Task) (TaskResult, error) {
	addr := t.workers[(t.next.Add(1)-1)%uint64(len(t.workers))]

	body, err := encodeMessage(task, t.compress)
	if err != nil {
		return TaskResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+TasksPath, bytes.NewReader(body))
	if err != nil {
		return TaskResult{}, &WorkerError{Worker: addr, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if t.compress {
		req.Header.Set("Content-Encoding", EncodingZstd)
		req.Header.Set("Accept-Encoding", EncodingZstd)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return TaskResult{}, &WorkerError{Worker: addr, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskResult{}, &WorkerError{Worker: addr, Err: fmt.Errorf("reading response: %w", err)}
	}

	var result TaskResult
	decodeErr := decodeMessage(data, resp.Header.Get("Content-Encoding"), &result)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if decodeErr == nil && result.Error != "" {
			msg = result.Error
		}
		return TaskResult{}, &WorkerError{Worker: addr, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}
	if decodeErr != nil {
		return TaskResult{}, &WorkerError{Worker: addr, Err: decodeErr}
	}
	if result.Worker == "" {
		result.Worker = addr
	}
	return result, nil
}
