package area

import (
	"log/slog"
	"time"

	"gridsim/internal/event"
	"gridsim/internal/infra"
	"gridsim/internal/market"

	"github.com/shopspring/decimal"
)

// cycleMarkets rotates expired markets into the past, opens the markets the
// config asks for, and (when trigger is set) tells the subtree about it.
// Both books are rotated and filled before either event goes out so that
// children can bridge spot and balancing markets in one pass.
func (a *Area) cycleMarkets(trigger bool) {
	if !a.hostsMarkets() {
		return
	}
	if a.worker != nil {
		a.worker.settle()
	}
	now := a.CurrentSlot()

	rotated := a.rotate(a.spot, now)
	rotatedBalancing := a.rotate(a.balancing, now)

	a.accumulatePast()

	created := a.createFuture(a.spot, now)
	createdBalancing := a.createFuture(a.balancing, now)

	if rotated+created+rotatedBalancing+createdBalancing > 0 {
		infra.GlobalMetrics.RecordCycle(created+createdBalancing, rotated+rotatedBalancing)
		a.log().Debug("Cycled markets",
			slog.Time("slot", now),
			slog.Int("rotated", rotated),
			slog.Int("created", created))
	}

	if !trigger {
		return
	}
	if rotated+created > 0 || a.spot.past.Len() == 0 {
		a.fanOut(event.New(event.EvMarketCycle))
	}
	if rotatedBalancing+createdBalancing > 0 || a.balancing.past.Len() == 0 {
		a.fanOut(event.New(event.EvBalancingMarketCycle))
	}
}

// rotate moves every open market older than now into the past, oldest
// first, and returns how many moved. The earliest market moved keeps its
// agents until the next rotation; all others are retired right away.
func (a *Area) rotate(b *book, now time.Time) int {
	var moved []*market.Market
	for _, m := range b.open.Values() {
		if !m.TimeSlot().Before(now) {
			break
		}
		b.open.Remove(m.TimeSlot())
		m.SetReadOnly()
		b.past.Put(m)
		moved = append(moved, m)
	}
	if len(moved) == 0 {
		return 0
	}

	if b.retained != nil {
		a.retireAgents(b, b.retained)
	}
	b.retained = moved[0]
	for _, m := range moved[1:] {
		a.retireAgents(b, m)
	}
	return len(moved)
}

// retireAgents drops the agents registered under m here, together with the
// parent side registration of the agents this area owns.
func (a *Area) retireAgents(b *book, m *market.Market) {
	agents := b.agents.Remove(m)
	for _, ag := range agents {
		if ag.owner == a && a.parent != nil {
			a.parent.bookFor(b.kind).agents.RemoveAgent(ag.higher, ag)
		}
	}
	if len(agents) > 0 {
		infra.GlobalMetrics.RecordAgents(0, len(agents))
	}
}

func (a *Area) accumulatePast() {
	price, energy := decimal.Zero, decimal.Zero
	for _, m := range a.spot.past.Values() {
		price = price.Add(m.AccumulatedTradePrice())
		energy = energy.Add(m.AccumulatedTradeEnergy())
	}
	a.accumulatedPastPrice, a.accumulatedPastEnergy = price, energy
}

// createFuture opens the markets for the next MarketCount slots starting at
// now and bridges each to the parent market of the same slot.
func (a *Area) createFuture(b *book, now time.Time) int {
	cfg := a.Config()
	created := 0

	for i := 0; i < cfg.MarketCount; i++ {
		slot := now.Add(time.Duration(i) * cfg.SlotLength)
		if b.open.Has(slot) {
			continue
		}

		m := market.New(slot, b.kind, a.name, a.notify)
		if a.worker != nil {
			m.SetGuard(a.worker.settle)
		}
		if a.parent != nil {
			a.bridge(b, m, cfg.TransferFeePct)
			if a.appliance == nil {
				a.appliance = newInterAreaAppliance(a.parent, a)
			}
		}
		b.open.Put(m)
		created++
	}
	return created
}

// bridge wires a new agent between m and the parent market of the same
// slot. Areas with a strategy trade themselves and get no agent.
func (a *Area) bridge(b *book, m *market.Market, feePct decimal.Decimal) {
	if a.strategy != nil {
		return
	}
	higher, ok := a.parent.bookFor(b.kind).open.Get(m.TimeSlot())
	if !ok {
		return
	}
	ag := newAgent(a, higher, m, feePct)
	b.agents.Add(m, ag)
	a.parent.bookFor(b.kind).agents.Add(higher, ag)
	infra.GlobalMetrics.RecordAgents(1, 0)
}
