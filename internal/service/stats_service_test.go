package service

import (
	"context"
	"testing"
	"time"

	"gridsim/internal/domain"

	"github.com/shopspring/decimal"
)

var day = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func summary(slug string, slot time.Time, trades int, energy, avg int64) domain.MarketSummary {
	return domain.MarketSummary{
		Area:         slug,
		Slug:         slug,
		Kind:         "spot",
		TimeSlot:     slot,
		TradeCount:   trades,
		MinTradeRate: decimal.NewFromInt(avg),
		AvgTradeRate: decimal.NewFromInt(avg),
		MaxTradeRate: decimal.NewFromInt(avg),
		TradedEnergy: decimal.NewFromInt(energy),
	}
}

func TestStatsService_ProcessSummaries(t *testing.T) {
	svc := NewMarketStatsService()

	svc.ProcessSummaries([]domain.MarketSummary{
		summary("grid", day, 1, 3, 30),
		summary("grid", day.Add(15*time.Minute), 2, 1, 60),
	})

	st, ok := svc.Get("grid")
	if !ok {
		t.Fatal("grid stats should exist")
	}
	if st.Markets != 2 || st.Trades != 3 {
		t.Errorf("Expected 2 markets and 3 trades, got %d and %d", st.Markets, st.Trades)
	}
	if !st.TradedEnergy.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected 4 kWh, got %v", st.TradedEnergy)
	}
	// (3*30 + 1*60) / 4
	if !st.AvgTradeRate().Equal(decimal.NewFromFloat(37.5)) {
		t.Errorf("Expected avg rate 37.5, got %v", st.AvgTradeRate())
	}
	if !st.MinTradeRate.Equal(decimal.NewFromInt(30)) || !st.MaxTradeRate.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected rates 30..60, got %v..%v", st.MinTradeRate, st.MaxTradeRate)
	}
	if !st.LastSlot.Equal(day.Add(15 * time.Minute)) {
		t.Errorf("Expected last slot 00:15, got %v", st.LastSlot)
	}
}

func TestStatsService_IgnoresBalancingAndEmptyMarkets(t *testing.T) {
	svc := NewMarketStatsService()

	bal := summary("grid", day, 1, 5, 10)
	bal.Kind = "balancing"
	svc.ProcessSummaries([]domain.MarketSummary{bal, summary("grid", day, 0, 0, 0)})

	st, _ := svc.Get("grid")
	if st.Markets != 1 {
		t.Errorf("Expected only the spot market, got %d", st.Markets)
	}
	if !st.TradedEnergy.IsZero() || !st.AvgTradeRate().IsZero() {
		t.Errorf("Expected no traded energy, got %v", st.TradedEnergy)
	}
}

func TestStatsService_GetAll_Sorted(t *testing.T) {
	svc := NewMarketStatsService()

	svc.ProcessSummaries([]domain.MarketSummary{
		summary("street-2", day, 0, 0, 0),
		summary("grid", day, 0, 0, 0),
		summary("street-1", day, 0, 0, 0),
	})

	all := svc.GetAll()
	if len(all) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(all))
	}
	if all[0].Slug != "grid" || all[1].Slug != "street-1" || all[2].Slug != "street-2" {
		t.Errorf("Not sorted: %s, %s, %s", all[0].Slug, all[1].Slug, all[2].Slug)
	}
}

func TestStatsService_AsyncProcessor(t *testing.T) {
	svc := NewMarketStatsService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartProcessor(ctx)

	if !svc.Publish([]domain.MarketSummary{summary("grid", day, 1, 3, 30)}) {
		t.Fatal("Publish should not drop on an empty buffer")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, ok := svc.Get("grid"); ok && st.Trades == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("summaries were not processed from the channel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
