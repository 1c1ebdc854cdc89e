package area

import (
	"errors"
	"log/slog"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Agent bridges a market of an area (lower) and the parent's market for the
// same slot (higher). Offers are mirrored in both directions with the
// transfer fee applied, and a trade on a mirrored offer is settled against
// the source offer.
type Agent struct {
	name   string
	owner  *Area
	higher *market.Market
	lower  *market.Market
	feePct decimal.Decimal

	up   *forwarder // lower -> higher
	down *forwarder // higher -> lower
}

func agentName(owner *Area) string {
	return "IAA " + owner.Name()
}

func newAgent(owner *Area, higher, lower *market.Market, feePct decimal.Decimal) *Agent {
	ag := &Agent{
		name:   agentName(owner),
		owner:  owner,
		higher: higher,
		lower:  lower,
		feePct: feePct,
	}
	ag.up = newForwarder(ag.name, lower, higher, feePct)
	ag.down = newForwarder(ag.name, higher, lower, feePct)
	return ag
}

func (ag *Agent) Name() string                 { return ag.name }
func (ag *Agent) Owner() *Area                 { return ag.owner }
func (ag *Agent) Higher() *market.Market       { return ag.higher }
func (ag *Agent) Lower() *market.Market        { return ag.lower }
func (ag *Agent) TransferFee() decimal.Decimal { return ag.feePct }

// Forwarded counts the offers currently mirrored in each direction.
func (ag *Agent) Forwarded() (up, down int) {
	return len(ag.up.forwarded), len(ag.down.forwarded)
}

func (ag *Agent) String() string {
	return "<" + ag.name + " " + ag.lower.TimeSlot().Format("15:04") + ">"
}

// OnEvent reacts to lifecycle ticks and to notifications from either of its
// markets.
func (ag *Agent) OnEvent(ev event.Event) {
	switch ev.Type {
	case event.EvTick:
		if ag.higher.ReadOnly() || ag.lower.ReadOnly() {
			return
		}
		ag.up.forwardOffers()
		ag.down.forwardOffers()
	case event.EvOfferChanged:
		ag.up.onOfferChanged(ev)
		ag.down.onOfferChanged(ev)
	case event.EvTrade:
		ag.up.onTrade(ev)
		ag.down.onTrade(ev)
	case event.EvOfferDeleted:
		ag.up.onOfferDeleted(ev)
		ag.down.onOfferDeleted(ev)
	}
}

// forwarder mirrors offers from one market into another.
type forwarder struct {
	name   string
	from   *market.Market
	to     *market.Market
	markup decimal.Decimal

	forwarded map[string]string // offer id in to -> offer id in from
	bySource  map[string]string // offer id in from -> offer id in to
}

var hundred = decimal.NewFromInt(100)

func newForwarder(name string, from, to *market.Market, feePct decimal.Decimal) *forwarder {
	return &forwarder{
		name:      name,
		from:      from,
		to:        to,
		markup:    decimal.NewFromInt(1).Add(feePct.Div(hundred)),
		forwarded: make(map[string]string),
		bySource:  make(map[string]string),
	}
}

func (f *forwarder) forwardOffers() {
	for _, o := range f.from.SortedOffers() {
		if o.Seller == f.name {
			continue
		}
		if _, ok := f.bySource[o.ID]; ok {
			continue
		}
		id := uuid.NewString()
		f.track(id, o.ID)
		if _, err := f.to.PlaceOfferWithID(id, o.Price.Mul(f.markup), o.Energy, f.name); err != nil {
			f.forget(id)
			if errors.Is(err, domain.ErrMarketReadOnly) {
				return
			}
			slog.Warn("Agent could not forward offer",
				slog.String("agent", f.name),
				slog.String("offer", o.String()),
				slog.Any("error", err))
		}
	}
}

func (f *forwarder) onTrade(ev event.Event) {
	tr := ev.Args.Trade
	if tr == nil {
		return
	}
	switch ev.Args.MarketID {
	case f.to.ID():
		srcID, ok := f.forwarded[tr.Offer.ID]
		if !ok {
			return
		}
		f.forget(tr.Offer.ID)
		src, err := f.from.AcceptOffer(srcID, f.name, tr.Offer.Energy, tr.Time)
		if err != nil {
			slog.Error("Agent could not settle forwarded trade",
				slog.String("agent", f.name),
				slog.String("trade", tr.String()),
				slog.Any("error", err))
			return
		}
		switch {
		case tr.Residual != nil && src.Residual != nil:
			f.track(tr.Residual.ID, src.Residual.ID)
		case tr.Residual != nil:
			if err := f.to.DeleteOffer(tr.Residual.ID); err != nil {
				slog.Debug("Agent could not drop residual",
					slog.String("agent", f.name),
					slog.Any("error", err))
			}
		}
	case f.from.ID():
		// Someone else bought the source offer; pull the mirror.
		if tr.Buyer == f.name {
			return
		}
		f.retract(tr.Offer.ID)
	}
}

// onOfferChanged follows a source offer that was partly sold to someone
// else. A mirror still on offer is left for the trade notification to pull.
// A mirror that is already sold, but whose trade has not reached this agent
// yet, moves onto the residual so its settlement finds a source offer.
func (f *forwarder) onOfferChanged(ev event.Event) {
	if ev.Args.MarketID != f.from.ID() || ev.Args.Offer == nil || ev.Args.NewOffer == nil {
		return
	}
	srcID := ev.Args.Offer.ID
	id, ok := f.bySource[srcID]
	if !ok {
		return
	}
	if _, live := f.to.Offer(id); live {
		return
	}
	delete(f.bySource, srcID)
	f.track(id, ev.Args.NewOffer.ID)
}

func (f *forwarder) onOfferDeleted(ev event.Event) {
	o := ev.Args.Offer
	if o == nil {
		return
	}
	switch ev.Args.MarketID {
	case f.from.ID():
		f.retract(o.ID)
	case f.to.ID():
		f.forget(o.ID)
	}
}

// retract removes the mirror of source offer srcID from the target market.
func (f *forwarder) retract(srcID string) {
	id, ok := f.bySource[srcID]
	if !ok {
		return
	}
	f.forget(id)
	if err := f.to.DeleteOffer(id); err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
		slog.Debug("Agent could not retract offer",
			slog.String("agent", f.name),
			slog.String("offer", id),
			slog.Any("error", err))
	}
}

func (f *forwarder) track(id, srcID string) {
	f.forwarded[id] = srcID
	f.bySource[srcID] = id
}

func (f *forwarder) forget(id string) {
	if srcID, ok := f.forwarded[id]; ok {
		delete(f.bySource, srcID)
		delete(f.forwarded, id)
	}
}
