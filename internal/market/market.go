package market

import (
	"fmt"
	"sort"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind distinguishes spot markets from balancing markets. Both are cycled by
// the same scheduler but live in separate books.
type Kind uint8

const (
	Spot Kind = iota
	Balancing
)

func (k Kind) String() string {
	if k == Balancing {
		return "balancing"
	}
	return "spot"
}

// Notifier receives every event a market raises.
type Notifier func(event.Event)

// Market is the mutable record of one time slot: its offers, trades,
// ledgers and price aggregates. It is not safe for concurrent use; each
// market is owned by exactly one goroutine at a time.
type Market struct {
	id       string
	kind     Kind
	timeSlot time.Time
	area     string
	readOnly bool

	offers map[string]*domain.Offer
	trades []domain.Trade

	ious                       map[string]map[string]decimal.Decimal
	tradedEnergy               map[string]decimal.Decimal
	actualEnergy               map[string]decimal.Decimal
	accumulatedActualEnergyAgg map[int64]decimal.Decimal

	minTradeRate, avgTradeRate, maxTradeRate decimal.Decimal
	minOfferRate, avgOfferRate, maxOfferRate decimal.Decimal

	accumulatedTradePrice  decimal.Decimal
	accumulatedTradeEnergy decimal.Decimal

	notify Notifier
	guard  func()
}

// New creates an empty open market for slot.
func New(slot time.Time, kind Kind, area string, notify Notifier) *Market {
	return &Market{
		id:                         uuid.NewString(),
		kind:                       kind,
		timeSlot:                   slot,
		area:                       area,
		offers:                     make(map[string]*domain.Offer),
		ious:                       make(map[string]map[string]decimal.Decimal),
		tradedEnergy:               make(map[string]decimal.Decimal),
		actualEnergy:               make(map[string]decimal.Decimal),
		accumulatedActualEnergyAgg: make(map[int64]decimal.Decimal),
		notify:                     notify,
	}
}

func (m *Market) ID() string          { return m.id }
func (m *Market) Kind() Kind          { return m.kind }
func (m *Market) TimeSlot() time.Time { return m.timeSlot }
func (m *Market) Area() string        { return m.area }
func (m *Market) ReadOnly() bool      { return m.readOnly }

// SetReadOnly freezes the market. Only actual-energy reports are accepted
// afterwards.
func (m *Market) SetReadOnly() {
	m.readOnly = true
}

// SetNotifier replaces the callback that receives market events.
func (m *Market) SetNotifier(n Notifier) {
	m.notify = n
}

// SetGuard installs a hook that runs before every mutation. Areas whose
// markets are mirrored by a worker use it to settle in-flight round trips.
func (m *Market) SetGuard(g func()) {
	m.guard = g
}

func (m *Market) beforeWrite() {
	if m.guard != nil {
		m.guard()
	}
}

func (m *Market) emit(ev event.Event) {
	if m.notify != nil {
		m.notify(ev)
	}
}

// Offers returns a copy of all open offers ordered by id.
func (m *Market) Offers() []domain.Offer {
	out := make([]domain.Offer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedOffers returns open offers cheapest rate first.
func (m *Market) SortedOffers() []domain.Offer {
	out := m.Offers()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rate().LessThan(out[j].Rate())
	})
	return out
}

// Offer looks up an open offer by id.
func (m *Market) Offer(id string) (domain.Offer, bool) {
	o, ok := m.offers[id]
	if !ok {
		return domain.Offer{}, false
	}
	return *o, true
}

func (m *Market) OfferCount() int { return len(m.offers) }

// Trades returns a copy of the trade history in execution order.
func (m *Market) Trades() []domain.Trade {
	out := make([]domain.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *Market) TradeCount() int { return len(m.trades) }

// TradedEnergy is positive for net sellers and negative for net buyers.
func (m *Market) TradedEnergy(participant string) decimal.Decimal {
	return m.tradedEnergy[participant]
}

// TotalTradedEnergy is the energy volume of all trades.
func (m *Market) TotalTradedEnergy() decimal.Decimal {
	return m.accumulatedTradeEnergy
}

func (m *Market) ActualEnergy(participant string) decimal.Decimal {
	return m.actualEnergy[participant]
}

// IOU is what buyer owes seller in this market.
func (m *Market) IOU(buyer, seller string) decimal.Decimal {
	return m.ious[buyer][seller]
}

func (m *Market) MinTradeRate() decimal.Decimal { return m.minTradeRate }
func (m *Market) AvgTradeRate() decimal.Decimal { return m.avgTradeRate }
func (m *Market) MaxTradeRate() decimal.Decimal { return m.maxTradeRate }
func (m *Market) MinOfferRate() decimal.Decimal { return m.minOfferRate }
func (m *Market) AvgOfferRate() decimal.Decimal { return m.avgOfferRate }
func (m *Market) MaxOfferRate() decimal.Decimal { return m.maxOfferRate }

func (m *Market) AccumulatedTradePrice() decimal.Decimal  { return m.accumulatedTradePrice }
func (m *Market) AccumulatedTradeEnergy() decimal.Decimal { return m.accumulatedTradeEnergy }

// PlaceOffer adds a new offer with a generated id.
func (m *Market) PlaceOffer(price, energy decimal.Decimal, seller string) (domain.Offer, error) {
	return m.PlaceOfferWithID(uuid.NewString(), price, energy, seller)
}

// PlaceOfferWithID adds a new offer under a caller-chosen id, which lets the
// caller record the id before the OFFER notification goes out.
func (m *Market) PlaceOfferWithID(id string, price, energy decimal.Decimal, seller string) (domain.Offer, error) {
	m.beforeWrite()
	if m.readOnly {
		return domain.Offer{}, domain.ErrMarketReadOnly
	}
	if !energy.IsPositive() || price.IsNegative() {
		return domain.Offer{}, fmt.Errorf("%w: %s kWh @ %s", domain.ErrInvalidOffer, energy, price)
	}
	if _, dup := m.offers[id]; dup {
		return domain.Offer{}, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidOffer, id)
	}

	o := &domain.Offer{ID: id, Price: price, Energy: energy, Seller: seller}
	m.offers[id] = o
	m.updateOfferStats()
	m.emit(event.OfferPlaced(m.id, *o))
	return *o, nil
}

// DeleteOffer removes an open offer.
func (m *Market) DeleteOffer(id string) error {
	m.beforeWrite()
	if m.readOnly {
		return domain.ErrMarketReadOnly
	}
	o, ok := m.offers[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOfferNotFound, id)
	}
	delete(m.offers, id)
	m.updateOfferStats()
	m.emit(event.OfferDeleted(m.id, *o))
	return nil
}

// AcceptOffer trades energy from offer id to buyer. Accepting less than the
// full offer leaves a residual offer with a new id at the same rate.
func (m *Market) AcceptOffer(id, buyer string, energy decimal.Decimal, at time.Time) (domain.Trade, error) {
	m.beforeWrite()
	if m.readOnly {
		return domain.Trade{}, domain.ErrMarketReadOnly
	}
	o, ok := m.offers[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("%w: %s", domain.ErrOfferNotFound, id)
	}
	if buyer == "" || !energy.IsPositive() || energy.GreaterThan(o.Energy) {
		return domain.Trade{}, fmt.Errorf("%w: %s kWh of %s", domain.ErrInvalidTrade, energy, o)
	}

	delete(m.offers, id)
	accepted := *o
	var residual *domain.Offer
	if energy.LessThan(o.Energy) {
		rate := o.Rate()
		accepted.Energy = energy
		accepted.Price = rate.Mul(energy)
		residual = &domain.Offer{
			ID:     uuid.NewString(),
			Price:  o.Price.Sub(accepted.Price),
			Energy: o.Energy.Sub(energy),
			Seller: o.Seller,
		}
		m.offers[residual.ID] = residual
	}

	trade := domain.Trade{
		ID:     uuid.NewString(),
		Time:   at,
		Offer:  accepted,
		Seller: o.Seller,
		Buyer:  buyer,
	}
	if residual != nil {
		r := *residual
		trade.Residual = &r
	}
	m.trades = append(m.trades, trade)
	m.updateTradeStats(trade)
	m.updateOfferStats()

	if residual != nil {
		m.emit(event.OfferChanged(m.id, *o, *residual))
	}
	m.emit(event.TradeDone(m.id, trade))
	return trade, nil
}

// SetActualEnergy books an energy report. Read-only markets accept reports.
func (m *Market) SetActualEnergy(at time.Time, reporter string, value decimal.Decimal) {
	m.beforeWrite()
	m.actualEnergy[reporter] = m.actualEnergy[reporter].Add(value)
	key := at.Unix()
	m.accumulatedActualEnergyAgg[key] = m.accumulatedActualEnergyAgg[key].Add(value)
}

// AccumulatedActualEnergy returns reported energy bucketed by report time.
func (m *Market) AccumulatedActualEnergy(at time.Time) decimal.Decimal {
	return m.accumulatedActualEnergyAgg[at.Unix()]
}

func (m *Market) updateTradeStats(t domain.Trade) {
	m.tradedEnergy[t.Seller] = m.tradedEnergy[t.Seller].Add(t.Offer.Energy)
	m.tradedEnergy[t.Buyer] = m.tradedEnergy[t.Buyer].Sub(t.Offer.Energy)

	owed, ok := m.ious[t.Buyer]
	if !ok {
		owed = make(map[string]decimal.Decimal)
		m.ious[t.Buyer] = owed
	}
	owed[t.Seller] = owed[t.Seller].Add(t.Offer.Price)

	m.accumulatedTradePrice = m.accumulatedTradePrice.Add(t.Offer.Price)
	m.accumulatedTradeEnergy = m.accumulatedTradeEnergy.Add(t.Offer.Energy)

	rate := t.Offer.Rate()
	if len(m.trades) == 1 {
		m.minTradeRate, m.maxTradeRate = rate, rate
	} else {
		m.minTradeRate = decimal.Min(m.minTradeRate, rate)
		m.maxTradeRate = decimal.Max(m.maxTradeRate, rate)
	}
	if m.accumulatedTradeEnergy.IsPositive() {
		m.avgTradeRate = m.accumulatedTradePrice.Div(m.accumulatedTradeEnergy)
	}
}

func (m *Market) updateOfferStats() {
	if len(m.offers) == 0 {
		m.minOfferRate, m.avgOfferRate, m.maxOfferRate = decimal.Zero, decimal.Zero, decimal.Zero
		return
	}
	first := true
	sum := decimal.Zero
	for _, o := range m.offers {
		rate := o.Rate()
		sum = sum.Add(rate)
		if first {
			m.minOfferRate, m.maxOfferRate = rate, rate
			first = false
			continue
		}
		m.minOfferRate = decimal.Min(m.minOfferRate, rate)
		m.maxOfferRate = decimal.Max(m.maxOfferRate, rate)
	}
	m.avgOfferRate = sum.Div(decimal.NewFromInt(int64(len(m.offers))))
}

func (m *Market) String() string {
	return fmt.Sprintf("<%s market %s %s offers=%d trades=%d>",
		m.kind, m.area, m.timeSlot.Format("15:04"), len(m.offers), len(m.trades))
}
