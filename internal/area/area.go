package area

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"
	"gridsim/internal/strategy"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

var nextID atomic.Uint64

// defaultConfig applies to trees where no area carries a config.
var defaultConfig = domain.DefaultSimulationConfig()

// Listener receives every event an area dispatches, after its agents.
type Listener interface {
	OnEvent(ev event.Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(event.Event)

func (f ListenerFunc) OnEvent(ev event.Event) { f(ev) }

// Option configures an Area at construction.
type Option func(*Area)

// WithChildren attaches children and points their parent link here.
func WithChildren(children ...*Area) Option {
	return func(a *Area) {
		for _, c := range children {
			c.parent = a
			a.children = append(a.children, c)
		}
	}
}

func WithStrategy(s strategy.Strategy) Option {
	return func(a *Area) { a.strategy = s }
}

func WithAppliance(ap strategy.Appliance) Option {
	return func(a *Area) { a.appliance = ap }
}

// WithConfig pins a config for this area and every descendant that does
// not carry its own.
func WithConfig(cfg domain.SimulationConfig) Option {
	return func(a *Area) { a.config = &cfg }
}

// WithOffload runs this area's subtree in its own worker goroutine.
func WithOffload() Option {
	return func(a *Area) { a.offload = true }
}

// Area is a vertex of the grid tree. Areas with children host markets and
// bridge them to their parent; leaves trade through their strategy.
//
// An area is driven by a single goroutine: the coordinator for the main
// tree, or the worker owning an offloaded subtree.
type Area struct {
	id   uint64
	name string
	slug string

	parent   *Area
	children []*Area

	strategy  strategy.Strategy
	appliance strategy.Appliance
	config    *domain.SimulationConfig

	currentTick int
	active      bool

	spot      *book
	balancing *book

	listeners []Listener

	accumulatedPastPrice  decimal.Decimal
	accumulatedPastEnergy decimal.Decimal

	offload bool
	worker  *workerHandle     // coordinator side of an offloaded area
	relay   func(event.Event) // worker side: forwards market events upward

	rng *rand.Rand
}

// New creates an area. Ids are unique for the process lifetime.
func New(name string, opts ...Option) *Area {
	a := &Area{
		id:        nextID.Add(1),
		name:      name,
		slug:      slug.Make(name),
		spot:      newBook(market.Spot),
		balancing: newBook(market.Balancing),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Area) ID() uint64                    { return a.id }
func (a *Area) Name() string                  { return a.name }
func (a *Area) Slug() string                  { return a.slug }
func (a *Area) Parent() *Area                 { return a.parent }
func (a *Area) Strategy() strategy.Strategy   { return a.strategy }
func (a *Area) Appliance() strategy.Appliance { return a.appliance }
func (a *Area) Active() bool                  { return a.active }
func (a *Area) CurrentTick() int              { return a.currentTick }

// Offloaded reports whether the subtree below this area runs in a worker.
func (a *Area) Offloaded() bool { return a.offload }

// Children returns the children visible to the caller's goroutine. Once an
// offloaded area is active its children belong to the worker and are not
// listed.
func (a *Area) Children() []*Area {
	out := make([]*Area, len(a.children))
	copy(out, a.children)
	return out
}

// AddListener registers an external listener.
func (a *Area) AddListener(l Listener) {
	a.listeners = append(a.listeners, l)
}

// Config resolves the nearest config up the ancestor chain.
func (a *Area) Config() domain.SimulationConfig {
	for x := a; x != nil; x = x.parent {
		if x.config != nil {
			return *x.config
		}
	}
	return defaultConfig
}

func (a *Area) rand() *rand.Rand {
	for x := a; x != nil; x = x.parent {
		if x.rng != nil {
			return x.rng
		}
	}
	// Only reachable before activation seeded the root.
	a.seed(0)
	return a.rng
}

// seed installs this area's shuffle source. salt separates worker shadows
// from the main tree so both stay deterministic for a given seed.
func (a *Area) seed(salt uint64) {
	a.rng = rand.New(rand.NewPCG(a.Config().Seed, salt))
}

func nameSalt(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Now is the simulated wall-clock time of this area.
func (a *Area) Now() time.Time {
	cfg := a.Config()
	return cfg.StartOfDay().Add(cfg.TickLength * time.Duration(a.currentTick))
}

// slotStart floors t to the slot grid anchored at the start of day.
func (a *Area) slotStart(t time.Time) time.Time {
	cfg := a.Config()
	start := cfg.StartOfDay()
	elapsed := t.Sub(start)
	return start.Add(elapsed / cfg.SlotLength * cfg.SlotLength)
}

// CurrentSlot is Now floored to the slot grid.
func (a *Area) CurrentSlot() time.Time {
	return a.slotStart(a.Now())
}

// CurrentTickInSlot is the tick index within the running slot.
func (a *Area) CurrentTickInSlot() int {
	return a.currentTick % a.Config().TicksPerSlot()
}

// Markets returns the open spot markets in chronological order.
func (a *Area) Markets() []*market.Market { return a.spot.open.Values() }

// PastMarkets returns the rotated spot markets in chronological order.
func (a *Area) PastMarkets() []*market.Market { return a.spot.past.Values() }

func (a *Area) BalancingMarkets() []*market.Market     { return a.balancing.open.Values() }
func (a *Area) PastBalancingMarkets() []*market.Market { return a.balancing.past.Values() }

// Market looks up the open spot market for slot.
func (a *Area) Market(slot time.Time) (*market.Market, bool) {
	return a.spot.open.Get(slot)
}

// NextMarket is the earliest open spot market.
func (a *Area) NextMarket() *market.Market {
	return a.spot.open.First()
}

// CurrentMarket is the most recently rotated spot market.
func (a *Area) CurrentMarket() *market.Market {
	return a.spot.past.Last()
}

// AgentsFor lists the bridging agents this area has registered under m.
func (a *Area) AgentsFor(m *market.Market) []*Agent {
	return a.bookFor(m.Kind()).agents.Agents(m)
}

func (a *Area) bookFor(kind market.Kind) *book {
	if kind == market.Balancing {
		return a.balancing
	}
	return a.spot
}

// AccumulatedPast returns the price and energy traded over all past spot
// markets.
func (a *Area) AccumulatedPast() (price, energy decimal.Decimal) {
	return a.accumulatedPastPrice, a.accumulatedPastEnergy
}

func (a *Area) hostsMarkets() bool {
	return len(a.children) > 0 || a.worker != nil
}

func (a *Area) log() *slog.Logger {
	l := slog.With(slog.String("area", a.name))
	if a.relay != nil {
		l = l.With(slog.String("side", "worker"))
	}
	return l
}

// Validate checks the subtree can be activated.
func (a *Area) Validate() error {
	var err error
	a.Walk(func(x *Area) {
		if err != nil {
			return
		}
		switch {
		case x.parent == nil && (x.strategy != nil || x.appliance != nil):
			err = &domain.TopologyError{Area: x.name, Reason: "strategy and appliance require a parent area"}
		case x.offload && x.parent == nil:
			err = &domain.TopologyError{Area: x.name, Reason: "the root area cannot be offloaded"}
		case x.offload && x.strategy != nil:
			err = &domain.TopologyError{Area: x.name, Reason: "an offloaded area cannot carry a strategy"}
		case x.offload && len(x.children) == 0 && x.worker == nil:
			err = &domain.TopologyError{Area: x.name, Reason: "an offloaded area needs children"}
		case x.config != nil:
			if cerr := x.config.Validate(); cerr != nil {
				err = fmt.Errorf("area %s: %w", x.name, cerr)
			}
		}
	})
	return err
}

// Activate validates the tree and activates it top-down. Call it once on
// the root.
func (a *Area) Activate() error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.rng == nil {
		a.seed(0)
	}
	a.activate()
	return nil
}

func (a *Area) activate() {
	if a.active {
		return
	}
	if a.parent == nil && (a.strategy != nil || a.appliance != nil) {
		panic(&domain.TopologyError{Area: a.name, Reason: "strategy and appliance require a parent area"})
	}
	if a.strategy != nil {
		a.strategy.Bind(a.parent, a)
	}
	if a.appliance != nil {
		a.appliance.Bind(a.parent, a)
	}
	if a.offload && a.worker == nil {
		a.startWorker()
	}

	a.cycleMarkets(false)
	a.active = true
	a.log().Debug("Area activated", slog.Int("markets", a.spot.open.Len()))
	a.fanOut(event.New(event.EvActivate))
}

// Tick advances the root by one tick. Descendants tick through the TICK
// broadcast.
func (a *Area) Tick() {
	a.tick()
}

func (a *Area) tick() {
	if a.currentTick%a.Config().TicksPerSlot() == 0 {
		a.cycleMarkets(true)
	}
	a.fanOut(event.Tick(a.id))
	a.currentTick++
}

// handle is the area's reaction to an event from its parent.
func (a *Area) handle(ev event.Event) {
	switch ev.Type {
	case event.EvTick:
		a.tick()
	case event.EvMarketCycle:
		a.cycleMarkets(true)
	case event.EvActivate:
		a.activate()
	case event.EvBalancingMarketCycle, event.EvTrigger,
		event.EvOffer, event.EvOfferDeleted, event.EvOfferChanged, event.EvTrade:
	default:
		panic(fmt.Sprintf("area %s: unknown event type %d", a.name, ev.Type))
	}

	if a.strategy != nil {
		a.strategy.OnEvent(ev)
	}
	if a.appliance != nil {
		a.appliance.OnEvent(ev)
	}
}

// Close stops every worker in the tree. The tree must not be ticked after.
func (a *Area) Close() {
	a.Walk(func(x *Area) {
		if x.worker != nil {
			x.worker.close()
		}
	})
}

// Walk visits the area and its visible descendants depth-first.
func (a *Area) Walk(fn func(*Area)) {
	fn(a)
	for _, c := range a.children {
		c.Walk(fn)
	}
}

// ChildBySlug finds an area by slug, breadth-first, starting with a itself.
func (a *Area) ChildBySlug(s string) *Area {
	queue := []*Area{a}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		if x.slug == s {
			return x
		}
		queue = append(queue, x.children...)
	}
	return nil
}

func (a *Area) String() string {
	slots := make([]string, 0, a.spot.open.Len())
	for _, m := range a.spot.open.Values() {
		slots = append(slots, m.TimeSlot().Format("15:04"))
	}
	return fmt.Sprintf("<Area '%s' markets: [%s]>", a.name, strings.Join(slots, ", "))
}
