package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/paveg/tachyon/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP routes of the worker server.
const (
	TasksPath   = "/v1/tasks"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

const maxTaskBytes = 512 << 20

func defaultConcurrency() int {
	return runtime.NumCPU()
}

// Server exposes a Worker over HTTP.
type Server struct {
	worker  *Worker
	pool    *ants.Pool
	router  *gin.Engine
	srv     *http.Server
	started time.Time
}

// NewServer creates a worker server running at most concurrency tasks at
// once. A non-positive concurrency selects one slot per CPU. /metrics is
// served when metrics is not nil.
func NewServer(worker *Worker, concurrency int, metrics *monitoring.Metrics) (*Server, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency()
	}
	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(v any) {
		worker.logger.Error("task handler panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating task pool: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{worker: worker, pool: pool, router: router, started: time.Now()}

	router.POST(TasksPath, s.handleTask)
	router.GET(HealthPath, s.handleHealth)
	if metrics != nil {
		router.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // Standard timeout value
	}
	s.worker.logger.Info("worker listening", "addr", addr, "worker", s.worker.Name(), "slots", s.pool.Cap())
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting tasks and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	s.Close()
	return err
}

// Close releases the task pool.
func (s *Server) Close() {
	s.pool.Release()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"worker":    s.worker.Name(),
		"version":   version.Version,
		"running":   s.pool.Running(),
		"slots":     s.pool.Cap(),
		"memory":    s.worker.MemoryInUse(),
		"uptime_ms": time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) handleTask(c *gin.Context) {
	encoding := c.GetHeader("Content-Encoding")
	if peer, ok := version.ParseUserAgent(c.GetHeader("User-Agent")); ok && !version.Compatible(peer) {
		msg := fmt.Sprintf("coordinator version %s is incompatible with worker version %s", peer, version.Version)
		s.reply(c, http.StatusPreconditionFailed, TaskResult{Worker: s.worker.Name(), Error: msg}, "")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTaskBytes))
	if err != nil {
		s.reply(c, http.StatusBadRequest, TaskResult{Worker: s.worker.Name(), Error: err.Error()}, encoding)
		return
	}

	var task Task
	if err := decodeMessage(body, encoding, &task); err != nil {
		s.reply(c, http.StatusBadRequest, TaskResult{Worker: s.worker.Name(), Error: err.Error()}, "")
		return
	}

	var (
		result  TaskResult
		taskErr error
		done    = make(chan struct{})
	)
	ctx := c.Request.Context()
	if err := s.pool.Submit(func() {
		defer close(done)
		result, taskErr = s.worker.Run(ctx, task)
	}); err != nil {
		s.reply(c, http.StatusServiceUnavailable, TaskResult{ID: task.ID, Worker: s.worker.Name(), Error: err.Error()}, encoding)
		return
	}
	<-done

	switch {
	case errors.Is(taskErr, ErrMemoryLimit):
		s.reply(c, http.StatusInsufficientStorage, result, encoding)
	case taskErr != nil:
		s.reply(c, http.StatusUnprocessableEntity, result, encoding)
	default:
		s.reply(c, http.StatusOK, result, encoding)
	}
}

// reply writes result with the encoding the request used.
func (s *Server) reply(c *gin.Context, status int, result TaskResult, encoding string) {
	compress := c.GetHeader("Accept-Encoding") == EncodingZstd || encoding == EncodingZstd
	data, err := encodeMessage(result, compress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if compress {
		c.Header("Content-Encoding", EncodingZstd)
	}
	c.Data(status, "application/json", data)
}
