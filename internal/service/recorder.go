package service

import (
	"log/slog"

	"gridsim/internal/area"
	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/infra"
	"gridsim/internal/market"
)

// TopicMarketCycle is the stream topic carrying the summaries of each cycle.
const TopicMarketCycle = "market_cycle"

// MarketStore persists rotated markets.
type MarketStore interface {
	SaveMarket(rec *domain.MarketRecord, trades []domain.TradeRecord) error
}

// Publisher pushes a value to external clients.
type Publisher interface {
	Publish(topic string, v any) error
}

// Recorder listens on the root area. After every market cycle it collects
// the markets that rotated anywhere in the visible tree and hands their
// summaries to the configured sinks. Any sink may be nil.
type Recorder struct {
	root  *area.Area
	store MarketStore
	stats *MarketStatsService
	pub   Publisher

	seen map[string]struct{}
}

// NewRecorder creates a recorder and registers it on root.
func NewRecorder(root *area.Area, store MarketStore, stats *MarketStatsService, pub Publisher) *Recorder {
	r := &Recorder{
		root:  root,
		store: store,
		stats: stats,
		pub:   pub,
		seen:  make(map[string]struct{}),
	}
	root.AddListener(r)
	return r
}

// OnEvent implements area.Listener.
func (r *Recorder) OnEvent(ev event.Event) {
	if ev.Type != event.EvMarketCycle {
		return
	}
	summaries := r.Collect()
	if len(summaries) == 0 {
		return
	}

	if r.stats != nil && !r.stats.Publish(summaries) {
		slog.Warn("Stats buffer full, summaries dropped", slog.Int("count", len(summaries)))
	}
	if r.pub != nil {
		if err := r.pub.Publish(TopicMarketCycle, summaries); err != nil {
			slog.Warn("Failed to publish summaries", slog.Any("error", err))
		}
	}
}

// Collect returns the summaries of past markets not reported before and
// persists them when a store is set.
func (r *Recorder) Collect() []domain.MarketSummary {
	var out []domain.MarketSummary
	r.root.Walk(func(a *area.Area) {
		for _, past := range [][]*market.Market{a.PastMarkets(), a.PastBalancingMarkets()} {
			// Past markets are chronological; stop at the first one already seen.
			for i := len(past) - 1; i >= 0; i-- {
				m := past[i]
				if _, ok := r.seen[m.ID()]; ok {
					break
				}
				r.seen[m.ID()] = struct{}{}
				sum := Summarize(a, m)
				r.persist(sum, m)
				out = append(out, sum)
			}
		}
	})
	return out
}

func (r *Recorder) persist(sum domain.MarketSummary, m *market.Market) {
	if r.store == nil {
		return
	}
	rec := sum.Record()
	trades := make([]domain.TradeRecord, 0, m.TradeCount())
	for _, t := range m.Trades() {
		trades = append(trades, domain.TradeRecord{
			ID:     t.ID,
			Seller: t.Seller,
			Buyer:  t.Buyer,
			Energy: t.Offer.Energy,
			Price:  t.Offer.Price,
			Time:   t.Time,
		})
	}
	if err := r.store.SaveMarket(&rec, trades); err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("Failed to persist market",
			slog.String("area", sum.Area),
			slog.String("market", sum.MarketID),
			slog.Any("error", err))
	}
}

// Summarize describes a market of area a.
func Summarize(a *area.Area, m *market.Market) domain.MarketSummary {
	return domain.MarketSummary{
		Area:         a.Name(),
		Slug:         a.Slug(),
		MarketID:     m.ID(),
		Kind:         m.Kind().String(),
		TimeSlot:     m.TimeSlot(),
		OfferCount:   m.OfferCount(),
		TradeCount:   m.TradeCount(),
		MinTradeRate: m.MinTradeRate(),
		AvgTradeRate: m.AvgTradeRate(),
		MaxTradeRate: m.MaxTradeRate(),
		TradedEnergy: m.TotalTradedEnergy(),
	}
}
