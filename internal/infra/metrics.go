package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations so worker goroutines can record too.
type Metrics struct {
	// Counters
	ticksProcessed   atomic.Uint64
	marketCycles     atomic.Uint64
	marketsCreated   atomic.Uint64
	marketsRotated   atomic.Uint64
	agentsRegistered atomic.Uint64
	agentsRetired    atomic.Uint64
	errorsTotal      atomic.Uint64

	// Worker round trips
	roundTripSumNs atomic.Int64
	roundTrips     atomic.Uint64

	// Gauges
	activeWorkers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one root tick.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordCycle records a market cycle that changed something.
func (m *Metrics) RecordCycle(created, rotated int) {
	m.marketCycles.Add(1)
	m.marketsCreated.Add(uint64(created))
	m.marketsRotated.Add(uint64(rotated))
}

// RecordAgents records bridging agents registered and retired.
func (m *Metrics) RecordAgents(registered, retired int) {
	m.agentsRegistered.Add(uint64(registered))
	m.agentsRetired.Add(uint64(retired))
}

// RecordRoundTrip records one coordinator/worker round trip.
func (m *Metrics) RecordRoundTrip(latency time.Duration) {
	m.roundTrips.Add(1)
	m.roundTripSumNs.Add(int64(latency))
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementWorkers increments active workers by 1.
func (m *Metrics) IncrementWorkers() {
	m.activeWorkers.Add(1)
}

// DecrementWorkers decrements active workers by 1.
func (m *Metrics) DecrementWorkers() {
	m.activeWorkers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed   uint64
	MarketCycles     uint64
	MarketsCreated   uint64
	MarketsRotated   uint64
	AgentsRegistered uint64
	AgentsRetired    uint64
	ErrorsTotal      uint64
	RoundTrips       uint64
	AvgRoundTripNs   int64
	ActiveWorkers    int32
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	count := m.roundTrips.Load()
	if count > 0 {
		avg = m.roundTripSumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed:   m.ticksProcessed.Load(),
		MarketCycles:     m.marketCycles.Load(),
		MarketsCreated:   m.marketsCreated.Load(),
		MarketsRotated:   m.marketsRotated.Load(),
		AgentsRegistered: m.agentsRegistered.Load(),
		AgentsRetired:    m.agentsRetired.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		RoundTrips:       count,
		AvgRoundTripNs:   avg,
		ActiveWorkers:    m.activeWorkers.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.marketCycles.Store(0)
	m.marketsCreated.Store(0)
	m.marketsRotated.Store(0)
	m.agentsRegistered.Store(0)
	m.agentsRetired.Store(0)
	m.errorsTotal.Store(0)
	m.roundTripSumNs.Store(0)
	m.roundTrips.Store(0)
	m.activeWorkers.Store(0)
}
