package event

import (
	"gridsim/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvActivate Type = iota + 1
	EvTick
	EvMarketCycle
	EvBalancingMarketCycle
	EvTrigger
	EvOffer
	EvOfferDeleted
	EvOfferChanged
	EvTrade
)

var typeNames = [...]string{
	EvActivate:             "ACTIVATE",
	EvTick:                 "TICK",
	EvMarketCycle:          "MARKET_CYCLE",
	EvBalancingMarketCycle: "BALANCING_MARKET_CYCLE",
	EvTrigger:              "TRIGGER",
	EvOffer:                "OFFER",
	EvOfferDeleted:         "OFFER_DELETED",
	EvOfferChanged:         "OFFER_CHANGED",
	EvTrade:                "TRADE",
}

func (t Type) String() string {
	if t == 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// Valid reports whether t is one of the declared kinds.
func (t Type) Valid() bool {
	return t >= EvActivate && t <= EvTrade
}

// Lifecycle events drive the scheduler; everything else is a market
// notification that only agents, strategies and listeners react to.
func (t Type) Lifecycle() bool {
	switch t {
	case EvActivate, EvTick, EvMarketCycle:
		return true
	}
	return false
}

// Args are the keyword arguments carried with an event.
type Args struct {
	AreaID   uint64            `json:"area_id,omitempty"`
	MarketID string            `json:"market_id,omitempty"`
	Offer    *domain.Offer     `json:"offer,omitempty"`
	NewOffer *domain.Offer     `json:"new_offer,omitempty"`
	Trade    *domain.Trade     `json:"trade,omitempty"`
	Area     string            `json:"area,omitempty"` // slug a TRIGGER command targets
	Trigger  string            `json:"trigger,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Event is a broadcast unit: a kind plus its arguments. Events are values
// and are safe to encode across the worker boundary.
type Event struct {
	Type Type `json:"type"`
	Args Args `json:"args"`
}

func New(t Type) Event {
	return Event{Type: t}
}

// Tick builds the TICK event an area emits for its subtree.
func Tick(areaID uint64) Event {
	return Event{Type: EvTick, Args: Args{AreaID: areaID}}
}

// OfferPlaced builds an OFFER notification.
func OfferPlaced(marketID string, o domain.Offer) Event {
	return Event{Type: EvOffer, Args: Args{MarketID: marketID, Offer: &o}}
}

// OfferDeleted builds an OFFER_DELETED notification.
func OfferDeleted(marketID string, o domain.Offer) Event {
	return Event{Type: EvOfferDeleted, Args: Args{MarketID: marketID, Offer: &o}}
}

// OfferChanged builds an OFFER_CHANGED notification (partial acceptance).
func OfferChanged(marketID string, existing, residual domain.Offer) Event {
	return Event{Type: EvOfferChanged, Args: Args{MarketID: marketID, Offer: &existing, NewOffer: &residual}}
}

// TradeDone builds a TRADE notification.
func TradeDone(marketID string, tr domain.Trade) Event {
	return Event{Type: EvTrade, Args: Args{MarketID: marketID, Trade: &tr}}
}

// Trigger builds the TRIGGER notification raised after a trigger fired.
func Trigger(areaID uint64, name string, params map[string]string) Event {
	return Event{Type: EvTrigger, Args: Args{AreaID: areaID, Trigger: name, Params: params}}
}

// TriggerCommand builds the TRIGGER request sent to a worker that owns the
// area with the given slug.
func TriggerCommand(areaSlug, name string, params map[string]string) Event {
	return Event{Type: EvTrigger, Args: Args{Area: areaSlug, Trigger: name, Params: params}}
}
