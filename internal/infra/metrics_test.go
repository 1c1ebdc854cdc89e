package infra

import (
	"testing"
	"time"
)

func TestMetrics_RecordRoundTrip(t *testing.T) {
	m := &Metrics{}

	m.RecordRoundTrip(1000)
	m.RecordRoundTrip(2000)
	m.RecordRoundTrip(3000)

	snap := m.Snapshot()

	if snap.RoundTrips != 3 {
		t.Errorf("Expected 3 round trips, got %d", snap.RoundTrips)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgRoundTripNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgRoundTripNs)
	}
}

func TestMetrics_Cycles(t *testing.T) {
	m := &Metrics{}

	m.RecordTick()
	m.RecordCycle(2, 0)
	m.RecordCycle(1, 1)
	m.RecordAgents(3, 1)

	snap := m.Snapshot()
	if snap.TicksProcessed != 1 || snap.MarketCycles != 2 {
		t.Errorf("ticks=%d cycles=%d", snap.TicksProcessed, snap.MarketCycles)
	}
	if snap.MarketsCreated != 3 || snap.MarketsRotated != 1 {
		t.Errorf("created=%d rotated=%d", snap.MarketsCreated, snap.MarketsRotated)
	}
	if snap.AgentsRegistered != 3 || snap.AgentsRetired != 1 {
		t.Errorf("registered=%d retired=%d", snap.AgentsRegistered, snap.AgentsRetired)
	}
}

func TestMetrics_Workers(t *testing.T) {
	m := &Metrics{}

	m.IncrementWorkers()
	m.IncrementWorkers()
	m.DecrementWorkers()

	if got := m.Snapshot().ActiveWorkers; got != 1 {
		t.Errorf("Expected 1 worker, got %d", got)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordRoundTrip(time.Millisecond)
	m.RecordError()
	m.IncrementWorkers()
	m.RecordCycle(1, 1)

	m.Reset()
	snap := m.Snapshot()

	if snap.RoundTrips != 0 || snap.AvgRoundTripNs != 0 {
		t.Error("Expected 0 round trips after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveWorkers != 0 {
		t.Error("Expected 0 workers after reset")
	}
	if snap.MarketCycles != 0 || snap.MarketsCreated != 0 {
		t.Error("Expected 0 cycles after reset")
	}
}
