package parallel

import "sync/atomic"

// MemoryMonitor bounds the estimated number of bytes held by work running
// at the same time. A zero threshold means unlimited.
type MemoryMonitor struct {
	threshold    int64
	currentUsage atomic.Int64
}

// NewMemoryMonitor creates a monitor admitting at most threshold bytes.
func NewMemoryMonitor(threshold int64) *MemoryMonitor {
	return &MemoryMonitor{threshold: max(threshold, 0)}
}

// TryReserve records an allocation of size bytes if it fits under the
// threshold and reports whether it did.
func (m *MemoryMonitor) TryReserve(size int64) bool {
	for {
		cur := m.currentUsage.Load()
		if m.threshold > 0 && cur+size > m.threshold {
			return false
		}
		if m.currentUsage.CompareAndSwap(cur, cur+size) {
			return true
		}
	}
}

// Release returns size bytes reserved with TryReserve.
func (m *MemoryMonitor) Release(size int64) {
	m.currentUsage.Add(-size)
}

// CurrentUsage returns the bytes currently reserved.
func (m *MemoryMonitor) CurrentUsage() int64 {
	return m.currentUsage.Load()
}

// Threshold returns the configured limit.
func (m *MemoryMonitor) Threshold() int64 {
	return m.threshold
}
