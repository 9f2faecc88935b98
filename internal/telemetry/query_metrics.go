// Package telemetry collects local query metrics for the stats endpoint.
// Nothing leaves the process; there is no external reporting.
package telemetry

import (
	"sync"
	"time"
)

// QueryEvent is a single recorded search query.
type QueryEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// LatencyBucket is a latency histogram bucket label.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%b.capacity])
	}
	return out
}

// Len returns the current number of buffered items.
func (b *CircularBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// QueryMetrics aggregates recent query behavior: counts, a latency
// histogram, and the most recent zero-result queries.
type QueryMetrics struct {
	mu           sync.RWMutex
	totalQueries uint64
	zeroResults  uint64
	latencySum   time.Duration
	histogram    map[LatencyBucket]uint64
	zeroRecent   *CircularBuffer[string]
}

// NewQueryMetrics creates a metrics collector.
func NewQueryMetrics() *QueryMetrics {
	return &QueryMetrics{
		histogram:  make(map[LatencyBucket]uint64),
		zeroRecent: NewCircularBuffer[string](50),
	}
}

// Record adds a query event.
func (m *QueryMetrics) Record(e QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.latencySum += e.Latency
	m.histogram[LatencyToBucket(e.Latency)]++
	if e.IsZeroResult() {
		m.zeroResults++
		m.zeroRecent.Add(e.Query)
	}
}

// Snapshot is a point-in-time view of the collected metrics.
type Snapshot struct {
	TotalQueries      uint64                   `json:"total_queries"`
	ZeroResultQueries uint64                   `json:"zero_result_queries"`
	AvgLatencyMs      float64                  `json:"avg_latency_ms"`
	LatencyHistogram  map[LatencyBucket]uint64 `json:"latency_histogram"`
	RecentZeroResult  []string                 `json:"recent_zero_result"`
}

// Stats returns a snapshot of the collected metrics.
func (m *QueryMetrics) Stats() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hist := make(map[LatencyBucket]uint64, len(m.histogram))
	for k, v := range m.histogram {
		hist[k] = v
	}

	var avg float64
	if m.totalQueries > 0 {
		avg = float64(m.latencySum.Milliseconds()) / float64(m.totalQueries)
	}

	return Snapshot{
		TotalQueries:      m.totalQueries,
		ZeroResultQueries: m.zeroResults,
		AvgLatencyMs:      avg,
		LatencyHistogram:  hist,
		RecentZeroResult:  m.zeroRecent.Items(),
	}
}
