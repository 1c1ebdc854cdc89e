package area

import (
	"sort"
	"time"

	"gridsim/internal/market"
)

// timeline is an ordered set of markets keyed by time slot.
type timeline struct {
	slots  []int64
	bySlot map[int64]*market.Market
}

func newTimeline() *timeline {
	return &timeline{bySlot: make(map[int64]*market.Market)}
}

func slotKey(t time.Time) int64 {
	return t.UnixNano()
}

func (tl *timeline) Len() int {
	return len(tl.slots)
}

func (tl *timeline) Get(slot time.Time) (*market.Market, bool) {
	m, ok := tl.bySlot[slotKey(slot)]
	return m, ok
}

func (tl *timeline) Has(slot time.Time) bool {
	_, ok := tl.bySlot[slotKey(slot)]
	return ok
}

// Put inserts m keeping chronological order. A market already present for
// the slot is replaced.
func (tl *timeline) Put(m *market.Market) {
	key := slotKey(m.TimeSlot())
	if _, ok := tl.bySlot[key]; !ok {
		i := sort.Search(len(tl.slots), func(i int) bool { return tl.slots[i] >= key })
		tl.slots = append(tl.slots, 0)
		copy(tl.slots[i+1:], tl.slots[i:])
		tl.slots[i] = key
	}
	tl.bySlot[key] = m
}

func (tl *timeline) Remove(slot time.Time) {
	key := slotKey(slot)
	if _, ok := tl.bySlot[key]; !ok {
		return
	}
	delete(tl.bySlot, key)
	i := sort.Search(len(tl.slots), func(i int) bool { return tl.slots[i] >= key })
	tl.slots = append(tl.slots[:i], tl.slots[i+1:]...)
}

// Values returns the markets in chronological order.
func (tl *timeline) Values() []*market.Market {
	out := make([]*market.Market, len(tl.slots))
	for i, key := range tl.slots {
		out[i] = tl.bySlot[key]
	}
	return out
}

func (tl *timeline) First() *market.Market {
	if len(tl.slots) == 0 {
		return nil
	}
	return tl.bySlot[tl.slots[0]]
}

func (tl *timeline) Last() *market.Market {
	if len(tl.slots) == 0 {
		return nil
	}
	return tl.bySlot[tl.slots[len(tl.slots)-1]]
}

// agentRegistry maps markets to the bridging agents trading in them, in
// registration order.
type agentRegistry struct {
	order    []*market.Market
	byMarket map[*market.Market][]*Agent
}

func newAgentRegistry() *agentRegistry {
	return &agentRegistry{byMarket: make(map[*market.Market][]*Agent)}
}

func (r *agentRegistry) Add(m *market.Market, a *Agent) {
	if _, ok := r.byMarket[m]; !ok {
		r.order = append(r.order, m)
	}
	r.byMarket[m] = append(r.byMarket[m], a)
}

// Remove drops every agent registered under m and returns them.
func (r *agentRegistry) Remove(m *market.Market) []*Agent {
	agents, ok := r.byMarket[m]
	if !ok {
		return nil
	}
	delete(r.byMarket, m)
	for i, k := range r.order {
		if k == m {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return agents
}

// RemoveAgent drops a single agent registered under m.
func (r *agentRegistry) RemoveAgent(m *market.Market, a *Agent) {
	agents := r.byMarket[m]
	for i, x := range agents {
		if x == a {
			agents = append(agents[:i:i], agents[i+1:]...)
			break
		}
	}
	if len(agents) == 0 {
		r.Remove(m)
		return
	}
	r.byMarket[m] = agents
}

func (r *agentRegistry) Agents(m *market.Market) []*Agent {
	agents := r.byMarket[m]
	out := make([]*Agent, len(agents))
	copy(out, agents)
	return out
}

func (r *agentRegistry) Markets() []*market.Market {
	out := make([]*market.Market, len(r.order))
	copy(out, r.order)
	return out
}

// book holds one market pair (spot or balancing) of an area.
type book struct {
	kind   market.Kind
	open   *timeline
	past   *timeline
	agents *agentRegistry

	// retained is the market whose agents survived the last rotation.
	retained *market.Market
}

func newBook(kind market.Kind) *book {
	return &book{
		kind:   kind,
		open:   newTimeline(),
		past:   newTimeline(),
		agents: newAgentRegistry(),
	}
}
