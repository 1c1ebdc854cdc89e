package strategy

import (
	"time"

	"gridsim/internal/event"
	"gridsim/internal/market"
)

// Host is the view a strategy gets of an area: the one it trades in and the
// one it belongs to.
type Host interface {
	Name() string
	Now() time.Time
	Markets() []*market.Market
	NextMarket() *market.Market
}

// Strategy is the behavior attached to a leaf area. It is bound once on
// activation and then called synchronously for every event the area sees.
type Strategy interface {
	// Bind is called during activation. host is the parent area whose
	// markets the strategy trades in; owner is the leaf itself.
	Bind(host, owner Host)
	OnEvent(ev event.Event)
}

// Appliance models the physical device behind an area and reports what
// actually flowed.
type Appliance interface {
	Bind(host, owner Host)
	OnEvent(ev event.Event)
}

// Trigger describes a named action an external caller may fire at runtime.
type Trigger struct {
	Name   string
	Params map[string]string // param name -> description
}

// Triggerable is implemented by strategies that expose triggers.
type Triggerable interface {
	Triggers() []Trigger
	FireTrigger(name string, params map[string]string) error
}
