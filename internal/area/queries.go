package area

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"
	"gridsim/internal/strategy"

	"github.com/shopspring/decimal"
)

// ReportAccounting books reported energy against m. The slot must still be
// tracked by the area, open or past.
func (a *Area) ReportAccounting(m *market.Market, reporter string, value decimal.Decimal, at time.Time) error {
	b := a.bookFor(m.Kind())
	slot := m.TimeSlot()
	if !b.open.Has(slot) && !b.past.Has(slot) {
		return &domain.StaleReportError{Area: a.name, Slot: slot}
	}
	m.SetActualEnergy(at, reporter, value)
	return nil
}

// HistoricalAvgRate is the average trade rate over all past spot markets.
func (a *Area) HistoricalAvgRate() decimal.Decimal {
	if a.accumulatedPastEnergy.IsZero() {
		return decimal.Zero
	}
	return a.accumulatedPastPrice.Div(a.accumulatedPastEnergy)
}

// HistoricalMinMaxPrice returns the lowest and highest trade rate seen in
// past spot markets.
func (a *Area) HistoricalMinMaxPrice() (lo, hi decimal.Decimal) {
	first := true
	for _, m := range a.spot.past.Values() {
		if m.TradeCount() == 0 {
			continue
		}
		if first || m.MinTradeRate().LessThan(lo) {
			lo = m.MinTradeRate()
		}
		if first || m.MaxTradeRate().GreaterThan(hi) {
			hi = m.MaxTradeRate()
		}
		first = false
	}
	return lo, hi
}

// OfferRef is an offer together with the market it sits in.
type OfferRef struct {
	Market *market.Market
	Offer  domain.Offer
}

// CheapestOffers lists the offers of all open spot markets, cheapest rate
// first, earlier slots first on equal rates.
func (a *Area) CheapestOffers() []OfferRef {
	var out []OfferRef
	for _, m := range a.spot.open.Values() {
		for _, o := range m.SortedOffers() {
			out = append(out, OfferRef{Market: m, Offer: o})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Offer.Rate().LessThan(out[j].Offer.Rate())
	})
	return out
}

// MarketWithMostExpensiveOffer returns the open spot market carrying the
// highest offer rate, or nil when no market has offers.
func (a *Area) MarketWithMostExpensiveOffer() *market.Market {
	var best *market.Market
	for _, m := range a.spot.open.Values() {
		if m.OfferCount() == 0 {
			continue
		}
		if best == nil || m.MaxOfferRate().GreaterThan(best.MaxOfferRate()) {
			best = m
		}
	}
	return best
}

// OfferCount sums open offers over the open spot markets.
func (a *Area) OfferCount() int {
	n := 0
	for _, m := range a.spot.open.Values() {
		n += m.OfferCount()
	}
	return n
}

// TradeCount sums trades over open and past spot markets.
func (a *Area) TradeCount() int {
	n := 0
	for _, tl := range []*timeline{a.spot.open, a.spot.past} {
		for _, m := range tl.Values() {
			n += m.TradeCount()
		}
	}
	return n
}

// Triggers lists the triggers exposed by the area's strategy.
func (a *Area) Triggers() []strategy.Trigger {
	if t, ok := a.strategy.(strategy.Triggerable); ok {
		return t.Triggers()
	}
	return nil
}

// FireTrigger fires a strategy trigger and tells the listeners about it.
func (a *Area) FireTrigger(name string, params map[string]string) error {
	t, ok := a.strategy.(strategy.Triggerable)
	if !ok {
		return fmt.Errorf("%w: area %s has no triggers", domain.ErrUnknownTrigger, a.name)
	}
	if err := t.FireTrigger(name, params); err != nil {
		return err
	}
	ev := event.Trigger(a.id, name, params)
	for _, l := range a.listeners {
		l.OnEvent(ev)
	}
	return nil
}

// FireTriggerAt fires a trigger on the area with the given slug. Areas
// inside offloaded subtrees are reached through their worker.
func (a *Area) FireTriggerAt(areaSlug, name string, params map[string]string) error {
	if x := a.ChildBySlug(areaSlug); x != nil {
		return x.FireTrigger(name, params)
	}

	var offloaded []*Area
	a.Walk(func(x *Area) {
		if x.worker != nil {
			offloaded = append(offloaded, x)
		}
	})
	for _, x := range offloaded {
		err := x.worker.trigger(areaSlug, name, params)
		if !errors.Is(err, domain.ErrAreaNotFound) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrAreaNotFound, areaSlug)
}
