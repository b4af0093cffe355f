package udi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Zero(t, snap.RequestCount)
	assert.Zero(t, snap.RequestErrors)
	assert.Zero(t, snap.EventCount)
}

func TestMetricsRecordRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest(1_000_000, true) // 1ms, success
	m.RecordRequest(2_000_000, true) // 2ms, success
	m.RecordRequest(500_000, false)  // 0.5ms, error

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.RequestCount)
	assert.Equal(t, uint64(1), snap.RequestErrors)

	expectedErrorRate := float64(1) / float64(3) * 100.0
	assert.InDelta(t, expectedErrorRate, snap.ErrorRate, 0.1)

	expectedAvgNs := uint64((1_000_000 + 2_000_000 + 500_000) / 3)
	assert.Equal(t, expectedAvgNs, snap.AvgLatencyNs)
}

func TestMetricsRecordEvent(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent("ThreadCreate")
	m.RecordEvent("ThreadCreate")
	m.RecordEvent("ThreadDeath")
	m.RecordEvent("ProcessExit")
	m.RecordEvent("Breakpoint") // unrecognized kind still counts toward EventCount

	snap := m.Snapshot()
	assert.Equal(t, uint64(5), snap.EventCount)
	assert.Equal(t, uint64(2), snap.ThreadCreateCount)
	assert.Equal(t, uint64(1), snap.ThreadDeathCount)
	assert.Equal(t, uint64(1), snap.ProcessExitCount)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest(1_000_000, true)
	m.RecordEvent("ThreadCreate")

	snap := m.Snapshot()
	assert.NotZero(t, snap.RequestCount)

	m.Reset()

	snap = m.Snapshot()
	assert.Zero(t, snap.RequestCount)
	assert.Zero(t, snap.EventCount)
	assert.Zero(t, snap.ThreadCreateCount)
	for _, bucket := range snap.LatencyHistogram {
		assert.Zero(t, bucket)
	}
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRequest(500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordRequest(5_000_000, true) // 5ms
	}
	m.RecordRequest(50_000_000, true) // 50ms, the P99 outlier

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.RequestCount)

	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))

	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	assert.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	var total uint64
	for _, bucket := range snap.LatencyHistogram {
		total += bucket
	}
	assert.NotZero(t, total)
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	assert.NotPanics(t, func() {
		o.ObserveRequest("continue", 1000, true)
		o.ObserveEvent("ThreadCreate")
	})
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	observer := NewMetricsObserver(m)

	observer.ObserveRequest("continue", 1_000_000, true)
	observer.ObserveRequest("read_mem", 2_000_000, false)
	observer.ObserveEvent("ThreadDeath")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestCount)
	assert.Equal(t, uint64(1), snap.RequestErrors)
	assert.Equal(t, uint64(1), snap.EventCount)
	assert.Equal(t, uint64(1), snap.ThreadDeathCount)
}
