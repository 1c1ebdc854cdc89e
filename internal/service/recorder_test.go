package service

import (
	"testing"
	"time"

	"gridsim/internal/area"
	"gridsim/internal/domain"
	"gridsim/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	records []domain.MarketRecord
	trades  []domain.TradeRecord
}

func (s *memStore) SaveMarket(rec *domain.MarketRecord, trades []domain.TradeRecord) error {
	s.records = append(s.records, *rec)
	s.trades = append(s.trades, trades...)
	return nil
}

type memPublisher struct {
	topics []string
}

func (p *memPublisher) Publish(topic string, v any) error {
	p.topics = append(p.topics, topic)
	return nil
}

func grid(t *testing.T) *area.Area {
	t.Helper()
	cfg := domain.DefaultSimulationConfig()
	cfg.StartDate = day
	cfg.SlotLength = 15 * time.Minute
	cfg.TickLength = time.Minute
	cfg.MarketCount = 2
	cfg.Seed = 7

	house := area.New("House", area.WithStrategy(strategy.NewLoad(decimal.NewFromInt(3), decimal.NewFromInt(40))))
	street := area.New("Street", area.WithChildren(house))
	plant := area.New("Plant", area.WithStrategy(strategy.NewCommercialProducer(decimal.NewFromInt(30), decimal.NewFromInt(5))))
	root := area.New("Grid", area.WithConfig(cfg), area.WithChildren(plant, street))
	return root
}

func TestRecorder_ReportsEachRotatedMarketOnce(t *testing.T) {
	root := grid(t)
	store := &memStore{}
	pub := &memPublisher{}
	stats := NewMarketStatsService()
	NewRecorder(root, store, stats, pub)

	require.NoError(t, root.Activate())
	defer root.Close()
	for i := 0; i < 16; i++ {
		root.Tick()
	}

	// One spot and one balancing market rotated in Grid and in Street.
	require.Len(t, store.records, 4)
	assert.Equal(t, []string{TopicMarketCycle}, pub.topics)

	published := <-stats.summary
	require.Len(t, published, 4)
	stats.ProcessSummaries(published)

	st, ok := stats.Get("street")
	require.True(t, ok)
	assert.Equal(t, 1, st.Markets)
	assert.Equal(t, root.ChildBySlug("street").PastMarkets()[0].TradeCount(), st.Trades)
	assert.Positive(t, st.Trades)

	var tradeCount int
	for _, rec := range store.records {
		tradeCount += rec.TradeCount
	}
	assert.Len(t, store.trades, tradeCount)
}

func TestRecorder_CollectSkipsSeenMarkets(t *testing.T) {
	root := grid(t)
	r := NewRecorder(root, nil, nil, nil)

	require.NoError(t, root.Activate())
	defer root.Close()
	for i := 0; i < 16; i++ {
		root.Tick()
	}

	assert.Empty(t, r.Collect(), "the cycle already collected everything")
}

func TestSummarize(t *testing.T) {
	root := grid(t)
	require.NoError(t, root.Activate())
	defer root.Close()

	m := root.Markets()[0]
	sum := Summarize(root, m)
	assert.Equal(t, "Grid", sum.Area)
	assert.Equal(t, "grid", sum.Slug)
	assert.Equal(t, m.ID(), sum.MarketID)
	assert.Equal(t, "spot", sum.Kind)
	assert.True(t, sum.TimeSlot.Equal(day))
}
