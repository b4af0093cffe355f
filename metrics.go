package udi

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the request-latency histogram buckets in
// nanoseconds, log-spaced from 10us to 10s.
var LatencyBuckets = []uint64{
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 7

// Metrics tracks request and event traffic for one or more sessions.
type Metrics struct {
	RequestCount  atomic.Uint64
	RequestErrors atomic.Uint64

	EventCount        atomic.Uint64
	ThreadCreateCount atomic.Uint64
	ThreadDeathCount  atomic.Uint64
	ProcessExitCount  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds
	// the count of requests with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRequest records one request/response round trip.
func (m *Metrics) RecordRequest(latencyNs uint64, success bool) {
	m.RequestCount.Add(1)
	if !success {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordEvent records one decoded event, bucketed by its kind.
func (m *Metrics) RecordEvent(evType string) {
	m.EventCount.Add(1)
	switch evType {
	case "ThreadCreate":
		m.ThreadCreateCount.Add(1)
	case "ThreadDeath":
		m.ThreadDeathCount.Add(1)
	case "ProcessExit":
		m.ProcessExitCount.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics' counters plus
// derived statistics.
type MetricsSnapshot struct {
	RequestCount  uint64
	RequestErrors uint64

	EventCount        uint64
	ThreadCreateCount uint64
	ThreadDeathCount  uint64
	ProcessExitCount  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ErrorRate float64
}

// Snapshot copies the current counters and computes averages/rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RequestCount:      m.RequestCount.Load(),
		RequestErrors:     m.RequestErrors.Load(),
		EventCount:        m.EventCount.Load(),
		ThreadCreateCount: m.ThreadCreateCount.Load(),
		ThreadDeathCount:  m.ThreadDeathCount.Load(),
		ProcessExitCount:  m.ProcessExitCount.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	if snap.RequestCount > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.RequestCount) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter; useful between test cases.
func (m *Metrics) Reset() {
	m.RequestCount.Store(0)
	m.RequestErrors.Store(0)
	m.EventCount.Store(0)
	m.ThreadCreateCount.Store(0)
	m.ThreadDeathCount.Store(0)
	m.ProcessExitCount.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer receives request/event telemetry as Process and the event
// loop produce it, letting callers plug in their own collector without
// this package depending on any particular metrics backend.
type Observer interface {
	// ObserveRequest is called after every request/response round trip.
	ObserveRequest(op string, latencyNs uint64, success bool)

	// ObserveEvent is called for each event the loop decodes.
	ObserveEvent(evType string)
}

// NoOpObserver discards everything; it is the default when a Config
// carries no Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRequest(string, uint64, bool) {}
func (NoOpObserver) ObserveEvent(string)                 {}

// MetricsObserver adapts Metrics to the Observer interface.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRequest(op string, latencyNs uint64, success bool) {
	o.metrics.RecordRequest(latencyNs, success)
}

func (o *MetricsObserver) ObserveEvent(evType string) {
	o.metrics.RecordEvent(evType)
}

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
