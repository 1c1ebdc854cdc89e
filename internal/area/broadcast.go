package area

import (
	"gridsim/internal/event"
)

// notify receives every event raised by one of this area's markets.
func (a *Area) notify(ev event.Event) {
	switch {
	case a.worker != nil:
		a.worker.call(ev)
	case a.relay != nil:
		a.broadcast(ev)
		a.relay(ev)
	default:
		a.broadcast(ev)
	}
}

// fanOut sends an event produced by the area itself to its subtree.
func (a *Area) fanOut(ev event.Event) {
	if a.worker != nil {
		a.worker.submit(ev)
		return
	}
	a.broadcast(ev)
}

// broadcast delivers ev to every child in shuffled order, waits for the
// offloaded ones, then dispatches to this area's agents and listeners.
func (a *Area) broadcast(ev event.Event) {
	children := make([]*Area, len(a.children))
	copy(children, a.children)
	rng := a.rand()
	rng.Shuffle(len(children), func(i, j int) {
		children[i], children[j] = children[j], children[i]
	})

	var pending []*Area
	for _, c := range children {
		// Offloaded children only see lifecycle events; market notifications
		// reach their subtree through their own markets.
		if c.worker == nil || ev.Type.Lifecycle() {
			c.handle(ev)
		}
		if c.worker != nil && c.worker.inFlight() {
			pending = append(pending, c)
		}
	}
	var settled []*settledRequest
	for _, c := range pending {
		if r := c.worker.receive(); r != nil {
			settled = append(settled, r)
		}
	}
	for _, r := range settled {
		r.replay()
	}

	a.dispatchToAgentsAndListeners(ev)
}

// dispatchToAgentsAndListeners hands ev to the agents of every open market
// (spot first, then balancing), each market's agents shuffled, and then to
// the external listeners.
func (a *Area) dispatchToAgentsAndListeners(ev event.Event) {
	rng := a.rand()
	for _, b := range []*book{a.spot, a.balancing} {
		for _, m := range b.agents.Markets() {
			if !b.open.Has(m.TimeSlot()) {
				continue
			}
			agents := b.agents.Agents(m)
			rng.Shuffle(len(agents), func(i, j int) {
				agents[i], agents[j] = agents[j], agents[i]
			})
			for _, ag := range agents {
				ag.OnEvent(ev)
			}
		}
	}
	for _, l := range a.listeners {
		l.OnEvent(ev)
	}
}
