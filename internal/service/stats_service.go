package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"gridsim/internal/domain"

	"github.com/shopspring/decimal"
)

// AreaStats aggregates the past markets of one area.
type AreaStats struct {
	Area         string          `json:"area"`
	Slug         string          `json:"slug"`
	Markets      int             `json:"markets"`
	Trades       int             `json:"trades"`
	TradedEnergy decimal.Decimal `json:"traded_energy"`
	TradedPrice  decimal.Decimal `json:"traded_price"`
	MinTradeRate decimal.Decimal `json:"min_trade_rate"`
	MaxTradeRate decimal.Decimal `json:"max_trade_rate"`
	LastSlot     time.Time       `json:"last_slot"`
}

// AvgTradeRate is the energy-weighted average rate over all trades.
func (s AreaStats) AvgTradeRate() decimal.Decimal {
	if s.TradedEnergy.IsZero() {
		return decimal.Zero
	}
	return s.TradedPrice.Div(s.TradedEnergy)
}

// MarketStatsService keeps running per-area statistics, readable from any
// goroutine while the simulation feeds it.
type MarketStatsService struct {
	mu      sync.RWMutex
	stats   map[string]*AreaStats
	summary chan []domain.MarketSummary
}

// NewMarketStatsService creates a new MarketStatsService instance
func NewMarketStatsService() *MarketStatsService {
	return &MarketStatsService{
		stats:   make(map[string]*AreaStats),
		summary: make(chan []domain.MarketSummary, 1000),
	}
}

// GetAll returns a copy of every area's stats sorted by slug
func (s *MarketStatsService) GetAll() []AreaStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]AreaStats, 0, len(s.stats))
	for _, st := range s.stats {
		result = append(result, *st)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Slug < result[j].Slug
	})

	return result
}

// Get returns the stats of one area.
func (s *MarketStatsService) Get(slug string) (AreaStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[slug]
	if !ok {
		return AreaStats{}, false
	}
	return *st, true
}

// Publish queues summaries for the background processor. It never blocks
// the simulation; summaries are dropped when the buffer is full.
func (s *MarketStatsService) Publish(summaries []domain.MarketSummary) bool {
	select {
	case s.summary <- summaries:
		return true
	default:
		return false
	}
}

// StartProcessor drains published summaries until ctx is done.
func (s *MarketStatsService) StartProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case summaries := <-s.summary:
				s.ProcessSummaries(summaries)
			}
		}
	}()
}

// ProcessSummaries folds spot market summaries into the per-area stats.
// Balancing markets are not aggregated.
func (s *MarketStatsService) ProcessSummaries(summaries []domain.MarketSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sum := range summaries {
		if sum.Kind != "spot" {
			continue
		}
		st, exists := s.stats[sum.Slug]
		if !exists {
			st = &AreaStats{Area: sum.Area, Slug: sum.Slug}
			s.stats[sum.Slug] = st
		}

		st.Markets++
		st.Trades += sum.TradeCount
		if sum.TimeSlot.After(st.LastSlot) {
			st.LastSlot = sum.TimeSlot
		}
		if sum.TradeCount == 0 {
			continue
		}
		st.TradedEnergy = st.TradedEnergy.Add(sum.TradedEnergy)
		st.TradedPrice = st.TradedPrice.Add(sum.AvgTradeRate.Mul(sum.TradedEnergy))
		if st.MinTradeRate.IsZero() || sum.MinTradeRate.LessThan(st.MinTradeRate) {
			st.MinTradeRate = sum.MinTradeRate
		}
		if sum.MaxTradeRate.GreaterThan(st.MaxTradeRate) {
			st.MaxTradeRate = sum.MaxTradeRate
		}
	}
}
