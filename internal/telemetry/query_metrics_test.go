package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics()
	m.Record(QueryEvent{Query: "pomodoro", ResultCount: 3, Latency: 12 * time.Millisecond})
	m.Record(QueryEvent{Query: "zyzzyva", ResultCount: 0, Latency: 180 * time.Millisecond})

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.TotalQueries)
	assert.Equal(t, uint64(1), stats.ZeroResultQueries)
	assert.Greater(t, stats.AvgLatencyMs, 0.0)
	assert.Equal(t, []string{"zyzzyva"}, stats.RecentZeroResult)
	assert.Equal(t, uint64(1), stats.LatencyHistogram[BucketP50])
	assert.Equal(t, uint64(1), stats.LatencyHistogram[BucketP500])
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(30*time.Millisecond))
	assert.Equal(t, BucketP100, LatencyToBucket(60*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(3*time.Second))
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, []int{3, 4, 5}, buf.Items())
}

func TestQueryMetrics_ZeroResultWindowIsBounded(t *testing.T) {
	m := NewQueryMetrics()
	for i := 0; i < 60; i++ {
		m.Record(QueryEvent{Query: fmt.Sprintf("miss-%d", i), ResultCount: 0})
	}
	stats := m.Stats()
	assert.Len(t, stats.RecentZeroResult, 50)
	assert.Equal(t, "miss-10", stats.RecentZeroResult[0])
}
