package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricSessionCreated MetricID = iota
	MetricSessionLimitRejected
	MetricSessionEvicted
	MetricSessionFixationRotated
	MetricSessionResolved
	MetricSessionResolveFailed
	MetricSessionInvalidated
	MetricSessionInvalidateDenied
	MetricLogout
	MetricPrincipalSessionsRevoked
	MetricLoginSuccess
	MetricLoginFailure
	MetricAccountCreated
	MetricAccountDuplicate
	MetricAccountDisabled
	MetricAccountLocked
	MetricPasswordChanged
	MetricPasswordChangeFailed
	MetricTokenIssued
	MetricTokenIssueRefused
	MetricTokenRateLimited
	MetricTokenConsumed
	MetricTokenConsumeFailed
	MetricTokenTypeMismatch
	MetricEmailQueued
	MetricEmailSent
	MetricEmailFailed
	MetricEmailDropped
	MetricCleanupExpiredDeleted
	MetricCleanupUsedDeleted
	MetricCleanupFailure
	// MetricSessionResolveLatency is the only histogram-backed metric.
	MetricSessionResolveLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A nil or disabled *Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increases a counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records a latency sample for MetricSessionResolveLatency.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricSessionResolveLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricSessionResolveLatency].buckets[i])
		}
		s.Histograms[MetricSessionResolveLatency] = buckets
	}
	return s
}

// bucket upper bounds in milliseconds: 1, 2, 5, 10, 25, 50, 100, +Inf
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 1:
		return 0
	case ms <= 2:
		return 1
	case ms <= 5:
		return 2
	case ms <= 10:
		return 3
	case ms <= 25:
		return 4
	case ms <= 50:
		return 5
	case ms <= 100:
		return 6
	default:
		return 7
	}
}
