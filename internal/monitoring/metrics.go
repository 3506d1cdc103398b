// Package monitoring provides metrics collection for graph executions: an
// in-process collector of per-pass records, Prometheus collectors, a JSON
// plan representation of a graph and an HTTP server exposing them.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// OperationMetrics represents performance metrics for a single engine
// operation, usually one pass over a dataset.
type OperationMetrics struct {
	Operation     string        `json:"operation"`
	Duration      time.Duration `json:"duration"`
	RowsProcessed int64         `json:"rows_processed"`
	MemoryUsed    int64         `json:"memory_used"`
	Failed        bool          `json:"failed"`
}

// MetricsCollector collects and stores performance metrics for engine
// operations.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics []OperationMetrics
	enabled bool
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(enabled bool) *MetricsCollector {
	return &MetricsCollector{
		metrics: make([]OperationMetrics, 0),
		enabled: enabled,
	}
}

// IsEnabled returns whether metrics collection is enabled.
func (mc *MetricsCollector) IsEnabled() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// RecordOperation executes fn, which processes rows rows, and records its
// duration and approximate heap growth. Failed operations are recorded too.
func (mc *MetricsCollector) RecordOperation(operation string, rows int64, fn func() error) error {
	if !mc.IsEnabled() {
		return fn()
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	mc.Record(OperationMetrics{
		Operation:     operation,
		Duration:      duration,
		RowsProcessed: rows,
		MemoryUsed:    max(int64(memAfter.HeapAlloc)-int64(memBefore.HeapAlloc), 0), //nolint:gosec // heap sizes fit in int64
		Failed:        err != nil,
	})
	return err
}

// Record stores a measurement taken elsewhere.
func (mc *MetricsCollector) Record(m OperationMetrics) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.enabled {
		mc.metrics = append(mc.metrics, m)
	}
}

// GetMetrics returns a copy of all collected metrics.
func (mc *MetricsCollector) GetMetrics() []OperationMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]OperationMetrics, len(mc.metrics))
	copy(result, mc.metrics)
	return result
}

// Clear removes all collected metrics.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = mc.metrics[:0]
}

// SetEnabled enables or disables metrics collection.
func (mc *MetricsCollector) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = enabled
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.metrics) == 0 {
		return MetricsSummary{}
	}

	summary := MetricsSummary{
		TotalOperations: len(mc.metrics),
		OperationCounts: make(map[string]int),
	}
	for _, m := range mc.metrics {
		summary.TotalDuration += m.Duration
		summary.TotalMemory += m.MemoryUsed
		summary.TotalRows += m.RowsProcessed
		summary.OperationCounts[m.Operation]++
		if m.Failed {
			summary.FailedOperations++
		}
	}
	summary.AverageDuration = summary.TotalDuration / time.Duration(len(mc.metrics))
	return summary
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalOperations  int            `json:"total_operations"`
	FailedOperations int            `json:"failed_operations"`
	TotalDuration    time.Duration  `json:"total_duration"`
	TotalMemory      int64          `json:"total_memory"`
	TotalRows        int64          `json:"total_rows"`
	OperationCounts  map[string]int `json:"operation_counts"`
	AverageDuration  time.Duration  `json:"average_duration"`
}
