package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	auctionsCreated atomic.Uint64
	settlements     atomic.Uint64
	rejectedBuys    atomic.Uint64
	feesCollected   atomic.Uint64
	eventsProcessed atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeStreams atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordAuctionCreated records a registered listing.
func (m *Metrics) RecordAuctionCreated() {
	m.auctionsCreated.Add(1)
}

// RecordSettlement records a successful purchase and the platform fee it produced.
func (m *Metrics) RecordSettlement(fee uint64) {
	m.settlements.Add(1)
	m.feesCollected.Add(fee)
}

// RecordRejectedBuy records a purchase attempt that failed validation.
func (m *Metrics) RecordRejectedBuy() {
	m.rejectedBuys.Add(1)
}

// RecordEvent records a journaled event with its processing latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementStreams increments active event stream subscribers by 1.
func (m *Metrics) IncrementStreams() {
	m.activeStreams.Add(1)
}

// DecrementStreams decrements active event stream subscribers by 1.
func (m *Metrics) DecrementStreams() {
	m.activeStreams.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	AuctionsCreated uint64    `json:"auctions_created"`
	Settlements     uint64    `json:"settlements"`
	RejectedBuys    uint64    `json:"rejected_buys"`
	FeesCollected   uint64    `json:"fees_collected"`
	EventsProcessed uint64    `json:"events_processed"`
	ErrorsTotal     uint64    `json:"errors_total"`
	AvgLatencyNs    int64     `json:"avg_latency_ns"`
	ActiveStreams   int32     `json:"active_streams"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		AuctionsCreated: m.auctionsCreated.Load(),
		Settlements:     m.settlements.Load(),
		RejectedBuys:    m.rejectedBuys.Load(),
		FeesCollected:   m.feesCollected.Load(),
		EventsProcessed: m.eventsProcessed.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		ActiveStreams:   m.activeStreams.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.auctionsCreated.Store(0)
	m.settlements.Store(0)
	m.rejectedBuys.Store(0)
	m.feesCollected.Store(0)
	m.eventsProcessed.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeStreams.Store(0)
}
