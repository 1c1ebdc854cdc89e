package area

import (
	"gridsim/internal/event"
	"gridsim/internal/strategy"
)

// interAreaAppliance reports, once per slot, how much energy an area moved
// through its parent's market that just closed.
type interAreaAppliance struct {
	area  *Area // parent hosting the market
	owner *Area

	reported string // id of the last market reported
}

func newInterAreaAppliance(area, owner *Area) *interAreaAppliance {
	return &interAreaAppliance{area: area, owner: owner}
}

func (ap *interAreaAppliance) Bind(host, owner strategy.Host) {}

func (ap *interAreaAppliance) OnEvent(ev event.Event) {
	if ev.Type != event.EvMarketCycle {
		return
	}
	cur := ap.area.CurrentMarket()
	if cur == nil || cur.ID() == ap.reported {
		return
	}
	ap.reported = cur.ID()

	trader := ap.owner.Name()
	if ap.owner.strategy == nil {
		trader = agentName(ap.owner)
	}
	if err := ap.area.ReportAccounting(cur, ap.owner.Name(), cur.TradedEnergy(trader), ap.area.Now()); err != nil {
		panic(err)
	}
}
