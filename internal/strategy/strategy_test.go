package strategy_test

import (
	"errors"
	"testing"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"
	"gridsim/internal/strategy"

	"github.com/shopspring/decimal"
)

var slot = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeHost struct {
	name    string
	markets []*market.Market
}

func (h *fakeHost) Name() string              { return h.name }
func (h *fakeHost) Now() time.Time            { return slot }
func (h *fakeHost) Markets() []*market.Market { return h.markets }
func (h *fakeHost) NextMarket() *market.Market {
	if len(h.markets) == 0 {
		return nil
	}
	return h.markets[0]
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCommercialProducer_OffersEveryMarketOnce(t *testing.T) {
	house := &fakeHost{name: "House 1"}
	house.markets = []*market.Market{
		market.New(slot, market.Spot, "House 1", nil),
		market.New(slot.Add(15*time.Minute), market.Spot, "House 1", nil),
	}
	strat := strategy.NewCommercialProducer(d("30"), d("5"))
	strat.Bind(house, &fakeHost{name: "Commercial"})

	strat.OnEvent(event.New(event.EvActivate))
	strat.OnEvent(event.New(event.EvMarketCycle))

	for _, m := range house.markets {
		if m.OfferCount() != 1 {
			t.Fatalf("%s: expected 1 offer, got %d", m, m.OfferCount())
		}
		o := m.SortedOffers()[0]
		if !o.Rate().Equal(d("30")) || o.Seller != "Commercial" {
			t.Errorf("unexpected offer %s", o)
		}
	}
}

func TestCommercialProducer_ReplacesAcceptedOffer(t *testing.T) {
	house := &fakeHost{name: "House 1"}
	var strat *strategy.CommercialProducer
	m := market.New(slot, market.Spot, "House 1", func(ev event.Event) { strat.OnEvent(ev) })
	house.markets = []*market.Market{m}
	strat = strategy.NewCommercialProducer(d("30"), d("5"))
	strat.Bind(house, &fakeHost{name: "Commercial"})
	strat.OnEvent(event.New(event.EvActivate))

	first := m.SortedOffers()[0]
	if _, err := m.AcceptOffer(first.ID, "Load", first.Energy, slot); err != nil {
		t.Fatalf("AcceptOffer failed: %v", err)
	}
	if m.OfferCount() != 1 {
		t.Fatalf("expected a replacement offer, got %d offers", m.OfferCount())
	}
	if m.SortedOffers()[0].ID == first.ID {
		t.Error("replacement should be a new offer")
	}
}

func TestCommercialProducer_SetRateTrigger(t *testing.T) {
	strat := strategy.NewCommercialProducer(d("30"), d("5"))

	if err := strat.FireTrigger("set_rate", map[string]string{"rate": "12.5"}); err != nil {
		t.Fatalf("FireTrigger failed: %v", err)
	}
	if !strat.Rate().Equal(d("12.5")) {
		t.Errorf("Rate() = %s, want 12.5", strat.Rate())
	}
	if err := strat.FireTrigger("set_rate", map[string]string{"rate": "abc"}); err == nil {
		t.Error("expected error for invalid rate")
	}
	if err := strat.FireTrigger("explode", nil); !errors.Is(err, domain.ErrUnknownTrigger) {
		t.Errorf("expected ErrUnknownTrigger, got %v", err)
	}
}

func TestLoad_BuysCheapestUpToNeed(t *testing.T) {
	m := market.New(slot, market.Spot, "House 1", nil)
	m.PlaceOffer(d("10"), d("1"), "Expensive") // rate 10
	m.PlaceOffer(d("2"), d("1"), "Cheap")      // rate 2
	m.PlaceOffer(d("3"), d("1"), "Medium")     // rate 3
	house := &fakeHost{name: "House 1", markets: []*market.Market{m}}

	load := strategy.NewLoad(d("1.5"), d("5"))
	load.Bind(house, &fakeHost{name: "Load"})
	load.OnEvent(event.Tick(1))

	if !load.Bought(m.ID()).Equal(d("1.5")) {
		t.Fatalf("Bought() = %s, want 1.5", load.Bought(m.ID()))
	}
	sellers := map[string]bool{}
	for _, tr := range m.Trades() {
		sellers[tr.Seller] = true
	}
	if !sellers["Cheap"] || !sellers["Medium"] || sellers["Expensive"] {
		t.Errorf("unexpected sellers %v", sellers)
	}

	// Need satisfied: further ticks buy nothing.
	load.OnEvent(event.Tick(1))
	if m.TradeCount() != 2 {
		t.Errorf("expected 2 trades, got %d", m.TradeCount())
	}
}

func TestLoad_RespectsMaxRateAndOwnOffers(t *testing.T) {
	m := market.New(slot, market.Spot, "House 1", nil)
	m.PlaceOffer(d("1"), d("1"), "Load")
	m.PlaceOffer(d("50"), d("1"), "PV")
	house := &fakeHost{name: "House 1", markets: []*market.Market{m}}

	load := strategy.NewLoad(d("1"), d("20"))
	load.Bind(house, &fakeHost{name: "Load"})
	load.OnEvent(event.Tick(1))

	if m.TradeCount() != 0 {
		t.Errorf("expected no trades, got %d", m.TradeCount())
	}
	if !load.TotalBought().IsZero() {
		t.Errorf("TotalBought() = %s", load.TotalBought())
	}
}

func TestLoad_IgnoresNonTickEvents(t *testing.T) {
	m := market.New(slot, market.Spot, "House 1", nil)
	m.PlaceOffer(d("1"), d("1"), "PV")
	load := strategy.NewLoad(d("1"), d("20"))
	load.Bind(&fakeHost{name: "House 1", markets: []*market.Market{m}}, &fakeHost{name: "Load"})

	load.OnEvent(event.New(event.EvMarketCycle))
	if m.TradeCount() != 0 {
		t.Error("load should only buy on TICK")
	}
	if err := load.FireTrigger("set_energy", map[string]string{"energy": "2"}); err != nil {
		t.Fatalf("FireTrigger failed: %v", err)
	}
}
