package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of an engine or worker process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	rowsProcessed prometheus.Counter
	rangesTotal   *prometheus.CounterVec
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachyon_passes_total",
				Help: "Total number of passes over a dataset by outcome",
			},
			[]string{"status"},
		),
		passDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tachyon_pass_duration_seconds",
				Help:    "Duration of passes over a dataset in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		rowsProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachyon_rows_processed_total",
				Help: "Total number of dataset rows read by passes",
			},
		),
		rangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachyon_ranges_total",
				Help: "Total number of ranges dispatched to workers by outcome",
			},
			[]string{"status"},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachyon_worker_tasks_total",
				Help: "Total number of tasks executed by this worker by outcome",
			},
			[]string{"status"},
		),
		taskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tachyon_worker_task_duration_seconds",
				Help:    "Duration of worker tasks in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePass records a finished pass over rows rows.
func (m *Metrics) ObservePass(d time.Duration, rows int, err error) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(status(err)).Inc()
	m.passDuration.Observe(d.Seconds())
	if err == nil {
		m.rowsProcessed.Add(float64(rows))
	}
}

// ObserveRange records the outcome of one dispatched range.
func (m *Metrics) ObserveRange(err error) {
	if m == nil {
		return
	}
	m.rangesTotal.WithLabelValues(status(err)).Inc()
}

// ObserveTask records a task executed by a worker.
func (m *Metrics) ObserveTask(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(status(err)).Inc()
	m.taskDuration.Observe(d.Seconds())
}
