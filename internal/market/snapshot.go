package market

import (
	"fmt"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"

	"github.com/shopspring/decimal"
)

// Snapshot is a detached copy of a market's state. It shares no memory with
// the market it came from and is what crosses the worker boundary.
type Snapshot struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	TimeSlot time.Time `json:"time_slot"`
	Area     string    `json:"area"`
	ReadOnly bool      `json:"readonly"`

	Offers map[string]domain.Offer `json:"offers"`
	Trades []domain.Trade          `json:"trades"`

	IOUs                       map[string]map[string]decimal.Decimal `json:"ious"`
	TradedEnergy               map[string]decimal.Decimal            `json:"traded_energy"`
	ActualEnergy               map[string]decimal.Decimal            `json:"actual_energy"`
	AccumulatedActualEnergyAgg map[int64]decimal.Decimal             `json:"accumulated_actual_energy_agg"`

	MinTradeRate decimal.Decimal `json:"min_trade_rate"`
	AvgTradeRate decimal.Decimal `json:"avg_trade_rate"`
	MaxTradeRate decimal.Decimal `json:"max_trade_rate"`
	MinOfferRate decimal.Decimal `json:"min_offer_rate"`
	AvgOfferRate decimal.Decimal `json:"avg_offer_rate"`
	MaxOfferRate decimal.Decimal `json:"max_offer_rate"`

	AccumulatedTradePrice  decimal.Decimal `json:"accumulated_trade_price"`
	AccumulatedTradeEnergy decimal.Decimal `json:"accumulated_trade_energy"`
}

// Snapshot deep-copies the market.
func (m *Market) Snapshot() Snapshot {
	s := Snapshot{
		ID:                         m.id,
		Kind:                       m.kind,
		TimeSlot:                   m.timeSlot,
		Area:                       m.area,
		ReadOnly:                   m.readOnly,
		Offers:                     make(map[string]domain.Offer, len(m.offers)),
		Trades:                     make([]domain.Trade, len(m.trades)),
		IOUs:                       make(map[string]map[string]decimal.Decimal, len(m.ious)),
		TradedEnergy:               copyLedger(m.tradedEnergy),
		ActualEnergy:               copyLedger(m.actualEnergy),
		AccumulatedActualEnergyAgg: make(map[int64]decimal.Decimal, len(m.accumulatedActualEnergyAgg)),
		MinTradeRate:               m.minTradeRate,
		AvgTradeRate:               m.avgTradeRate,
		MaxTradeRate:               m.maxTradeRate,
		MinOfferRate:               m.minOfferRate,
		AvgOfferRate:               m.avgOfferRate,
		MaxOfferRate:               m.maxOfferRate,
		AccumulatedTradePrice:      m.accumulatedTradePrice,
		AccumulatedTradeEnergy:     m.accumulatedTradeEnergy,
	}
	for id, o := range m.offers {
		s.Offers[id] = *o
	}
	for i, t := range m.trades {
		s.Trades[i] = copyTrade(t)
	}
	for buyer, owed := range m.ious {
		s.IOUs[buyer] = copyLedger(owed)
	}
	for k, v := range m.accumulatedActualEnergyAgg {
		s.AccumulatedActualEnergyAgg[k] = v
	}
	return s
}

// FromSnapshot builds a fresh live market from s.
func FromSnapshot(s Snapshot, notify Notifier) *Market {
	m := &Market{
		id:       s.ID,
		kind:     s.Kind,
		timeSlot: s.TimeSlot,
		area:     s.Area,
		notify:   notify,
	}
	m.load(s)
	return m
}

// ApplySnapshot overwrites the market's state with s in place, keeping the
// object identity (and with it every agent registration) intact. IOUs are
// replaced per buyer and the traded and actual energy ledgers per
// participant, so entries only the receiver knows about survive. The
// accumulated actual energy buckets are replaced outright.
func (m *Market) ApplySnapshot(s Snapshot) error {
	if !m.timeSlot.Equal(s.TimeSlot) {
		return &domain.DesyncError{Area: m.area, Expected: m.timeSlot, Got: s.TimeSlot}
	}
	if m.kind != s.Kind {
		return &domain.DesyncError{Area: m.area, Got: s.TimeSlot, Reason: fmt.Sprintf("kind %s merged into %s", s.Kind, m.kind)}
	}

	m.id = s.ID
	m.readOnly = s.ReadOnly
	m.loadOrders(s)

	if m.ious == nil {
		m.ious = make(map[string]map[string]decimal.Decimal)
	}
	for buyer, owed := range s.IOUs {
		m.ious[buyer] = copyLedger(owed)
	}
	m.tradedEnergy = mergeLedger(m.tradedEnergy, s.TradedEnergy)
	m.actualEnergy = mergeLedger(m.actualEnergy, s.ActualEnergy)
	m.accumulatedActualEnergyAgg = make(map[int64]decimal.Decimal, len(s.AccumulatedActualEnergyAgg))
	for k, v := range s.AccumulatedActualEnergyAgg {
		m.accumulatedActualEnergyAgg[k] = v
	}

	m.loadAggregates(s)
	return nil
}

func (m *Market) load(s Snapshot) {
	m.readOnly = s.ReadOnly
	m.loadOrders(s)
	m.ious = make(map[string]map[string]decimal.Decimal, len(s.IOUs))
	for buyer, owed := range s.IOUs {
		m.ious[buyer] = copyLedger(owed)
	}
	m.tradedEnergy = copyLedger(s.TradedEnergy)
	m.actualEnergy = copyLedger(s.ActualEnergy)
	m.accumulatedActualEnergyAgg = make(map[int64]decimal.Decimal, len(s.AccumulatedActualEnergyAgg))
	for k, v := range s.AccumulatedActualEnergyAgg {
		m.accumulatedActualEnergyAgg[k] = v
	}
	m.loadAggregates(s)
}

func (m *Market) loadOrders(s Snapshot) {
	m.offers = make(map[string]*domain.Offer, len(s.Offers))
	for id, o := range s.Offers {
		o := o
		m.offers[id] = &o
	}
	m.trades = make([]domain.Trade, len(s.Trades))
	for i, t := range s.Trades {
		m.trades[i] = copyTrade(t)
	}
}

func (m *Market) loadAggregates(s Snapshot) {
	m.minTradeRate = s.MinTradeRate
	m.avgTradeRate = s.AvgTradeRate
	m.maxTradeRate = s.MaxTradeRate
	m.minOfferRate = s.MinOfferRate
	m.avgOfferRate = s.AvgOfferRate
	m.maxOfferRate = s.MaxOfferRate
	m.accumulatedTradePrice = s.AccumulatedTradePrice
	m.accumulatedTradeEnergy = s.AccumulatedTradeEnergy
}

// EncodeSnapshots serializes snapshots for transfer.
func EncodeSnapshots(snaps []Snapshot) ([]byte, error) {
	return event.Encode(snaps)
}

// DecodeSnapshots is the inverse of EncodeSnapshots.
func DecodeSnapshots(data []byte) ([]Snapshot, error) {
	var snaps []Snapshot
	if err := event.Decode(data, &snaps); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return snaps, nil
}

func copyLedger(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeLedger(dst, src map[string]decimal.Decimal) map[string]decimal.Decimal {
	if dst == nil {
		dst = make(map[string]decimal.Decimal, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyTrade(t domain.Trade) domain.Trade {
	if t.Residual != nil {
		r := *t.Residual
		t.Residual = &r
	}
	return t
}
