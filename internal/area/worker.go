package area

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/infra"
	"gridsim/internal/market"
)

// workerRequest and workerResponse are the only values that cross the
// goroutine boundary, and only in encoded form.
type workerRequest struct {
	Tick      int               `json:"tick"`
	Event     event.Event       `json:"event"`
	Snapshots []market.Snapshot `json:"snapshots"`
}

type workerResponse struct {
	Snapshots []market.Snapshot `json:"snapshots"`
	Past      []market.Snapshot `json:"past,omitempty"`
	Relayed   []event.Event     `json:"relayed,omitempty"`
	Trigger   *triggerResult    `json:"trigger,omitempty"`
	Err       string            `json:"err,omitempty"`
}

// triggerResult carries the outcome of a trigger command. Trigger errors
// are not fatal, so they travel apart from Err.
type triggerResult struct {
	Code string `json:"code,omitempty"`
	Err  string `json:"err,omitempty"`
}

const (
	triggerAreaNotFound = "area_not_found"
	triggerUnknown      = "unknown_trigger"
	triggerFailed       = "failed"
)

func newTriggerResult(err error) *triggerResult {
	switch {
	case err == nil:
		return &triggerResult{}
	case errors.Is(err, domain.ErrAreaNotFound):
		return &triggerResult{Code: triggerAreaNotFound, Err: err.Error()}
	case errors.Is(err, domain.ErrUnknownTrigger):
		return &triggerResult{Code: triggerUnknown, Err: err.Error()}
	default:
		return &triggerResult{Code: triggerFailed, Err: err.Error()}
	}
}

func (t *triggerResult) asError() error {
	if t == nil {
		return errors.New("worker sent no trigger result")
	}
	switch t.Code {
	case "":
		return nil
	case triggerAreaNotFound:
		return &remoteError{sentinel: domain.ErrAreaNotFound, msg: t.Err}
	case triggerUnknown:
		return &remoteError{sentinel: domain.ErrUnknownTrigger, msg: t.Err}
	default:
		return errors.New(t.Err)
	}
}

// remoteError keeps errors.Is working for sentinels raised in a worker.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

type pendingRequest struct {
	ev     event.Event
	sentAt time.Time
}

// workerHandle is the coordinator side of an offloaded area. At most one
// request is outstanding at any time.
type workerHandle struct {
	area    *Area
	inbox   chan []byte
	outbox  chan []byte
	done    chan struct{}
	pending *pendingRequest
	closed  bool
}

// worker owns the shadow copy of an offloaded subtree.
type worker struct {
	shadow  *Area
	relayed []event.Event
	written map[*market.Market]struct{}
}

func newWorker(shadow *Area) *worker {
	return &worker{shadow: shadow, written: make(map[*market.Market]struct{})}
}

// startWorker moves the area's children into a shadow area driven by a new
// goroutine. From here on the coordinator only sees the area's markets.
func (a *Area) startWorker() {
	cfg := a.Config()
	shadow := &Area{
		id:          a.id,
		name:        a.name,
		slug:        a.slug,
		children:    a.children,
		config:      &cfg,
		currentTick: a.currentTick,
		spot:        newBook(market.Spot),
		balancing:   newBook(market.Balancing),
	}
	shadow.seed(nameSalt(a.name))

	for _, c := range shadow.children {
		c.parent = shadow
		c.Walk(func(x *Area) {
			if x.offload {
				slog.Warn("Nested offload ignored",
					slog.String("area", x.name),
					slog.String("worker", a.name))
				x.offload = false
			}
		})
	}

	w := newWorker(shadow)
	shadow.relay = w.relay

	h := &workerHandle{
		area:   a,
		inbox:  make(chan []byte, 1),
		outbox: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	a.children = nil
	a.worker = h

	go w.run(h.inbox, h.outbox, h.done)
	infra.GlobalMetrics.IncrementWorkers()
	a.log().Info("Worker started", slog.Int("children", len(shadow.children)))
}

// call sends ev and waits for the worker to finish with it.
func (h *workerHandle) call(ev event.Event) {
	h.submit(ev)
	h.settle()
}

// submit has the worker broadcast ev in the subtree, starting from the
// area's current tick and open markets. It does not wait for the result;
// the next settle, submit or write to one of the area's markets does.
func (h *workerHandle) submit(ev event.Event) {
	for h.pending != nil {
		h.settle()
	}
	if h.closed {
		panic(&domain.WorkerError{Area: h.area.name, Err: errors.New("worker closed")})
	}

	req := workerRequest{Tick: h.area.currentTick, Event: ev, Snapshots: h.area.openSnapshots()}
	raw, err := event.Encode(req)
	if err != nil {
		panic(&domain.WorkerError{Area: h.area.name, Err: fmt.Errorf("encode request: %w", err)})
	}
	h.inbox <- raw
	h.pending = &pendingRequest{ev: ev, sentAt: time.Now()}
}

func (h *workerHandle) inFlight() bool {
	return h.pending != nil
}

// settle waits for the outstanding request, merges the returned markets and
// replays the event plus everything the worker relayed to the area's agents
// and listeners. There is no timeout: a stuck worker stalls the caller.
func (h *workerHandle) settle() {
	if r := h.receive(); r != nil {
		r.replay()
	}
}

// settledRequest is a finished round trip whose events have not been
// dispatched on the coordinator side yet.
type settledRequest struct {
	area    *Area
	ev      event.Event
	relayed []event.Event
	trigger *triggerResult
	sentAt  time.Time
}

// receive waits for the outstanding request and merges the returned markets
// without dispatching anything. It returns nil when nothing is in flight.
// Siblings are all received before any of them replays, so a replay that
// settles upstream never observes a sibling's unmerged markets.
func (h *workerHandle) receive() *settledRequest {
	p := h.pending
	if p == nil {
		return nil
	}
	h.pending = nil

	raw := <-h.outbox
	var resp workerResponse
	if err := event.Decode(raw, &resp); err != nil {
		panic(&domain.WorkerError{Area: h.area.name, Err: fmt.Errorf("decode response: %w", err)})
	}
	if resp.Err != "" {
		panic(&domain.WorkerError{Area: h.area.name, Err: errors.New(resp.Err)})
	}

	h.area.mergeSnapshots(resp.Snapshots)
	h.area.mergePast(resp.Past)
	return &settledRequest{area: h.area, ev: p.ev, relayed: resp.Relayed, trigger: resp.Trigger, sentAt: p.sentAt}
}

func (r *settledRequest) replay() {
	r.area.dispatchToAgentsAndListeners(r.ev)
	r.replayRelayed()
}

func (r *settledRequest) replayRelayed() {
	for _, ev := range r.relayed {
		r.area.dispatchToAgentsAndListeners(ev)
	}
	infra.GlobalMetrics.RecordRoundTrip(time.Since(r.sentAt))
}

// trigger fires a strategy trigger on the area with the given slug inside
// the worker's subtree. The command itself is not dispatched on this side;
// the target notifies its own listeners.
func (h *workerHandle) trigger(areaSlug, name string, params map[string]string) error {
	h.submit(event.TriggerCommand(areaSlug, name, params))
	r := h.receive()
	r.replayRelayed()
	return r.trigger.asError()
}

// close drops the answer to any outstanding request and stops the
// goroutine. It is safe to call after a failed round trip.
func (h *workerHandle) close() {
	if h.closed {
		return
	}
	if h.pending != nil {
		<-h.outbox
		h.pending = nil
	}
	h.closed = true
	close(h.inbox)
	<-h.done
	infra.GlobalMetrics.DecrementWorkers()
}

func (a *Area) openSnapshots() []market.Snapshot {
	snaps := make([]market.Snapshot, 0, a.spot.open.Len()+a.balancing.open.Len())
	for _, b := range []*book{a.spot, a.balancing} {
		for _, m := range b.open.Values() {
			snaps = append(snaps, m.Snapshot())
		}
	}
	return snaps
}

// mergePast folds worker-side writes to rotated markets, such as accounting
// reports, into the coordinator's past markets of the same slot.
func (a *Area) mergePast(snaps []market.Snapshot) {
	for _, s := range snaps {
		m, ok := a.bookFor(s.Kind).past.Get(s.TimeSlot)
		if !ok {
			panic(&domain.DesyncError{Area: a.name, Got: s.TimeSlot, Reason: "worker wrote a past market the coordinator does not have"})
		}
		if err := m.ApplySnapshot(s); err != nil {
			panic(err)
		}
	}
}

// mergeSnapshots updates the coordinator's live markets from the worker's
// copies. Every snapshot must match an open market.
func (a *Area) mergeSnapshots(snaps []market.Snapshot) {
	for _, s := range snaps {
		m, ok := a.bookFor(s.Kind).open.Get(s.TimeSlot)
		if !ok {
			panic(&domain.DesyncError{Area: a.name, Got: s.TimeSlot, Reason: "worker returned a market the coordinator does not have"})
		}
		if err := m.ApplySnapshot(s); err != nil {
			panic(err)
		}
	}
}

func (w *worker) run(inbox <-chan []byte, outbox chan<- []byte, done chan<- struct{}) {
	defer close(done)
	for raw := range inbox {
		outbox <- w.process(raw)
	}
}

func (w *worker) relay(ev event.Event) {
	w.relayed = append(w.relayed, ev)
}

func (w *worker) process(raw []byte) (out []byte) {
	var resp workerResponse
	defer func() {
		if r := recover(); r != nil {
			resp = workerResponse{Err: fmt.Sprint(r)}
		}
		out = encodeResponse(resp)
	}()

	var req workerRequest
	if err := event.Decode(raw, &req); err != nil {
		resp.Err = fmt.Sprintf("decode request: %v", err)
		return
	}

	if !req.Event.Type.Valid() {
		resp.Err = fmt.Sprintf("unknown event type %d", req.Event.Type)
		return
	}

	w.adopt(req.Tick, req.Snapshots)
	w.relayed = nil
	clear(w.written)
	if req.Event.Type == event.EvTrigger && req.Event.Args.Area != "" {
		resp.Trigger = newTriggerResult(w.fireTrigger(req.Event.Args))
	} else {
		w.shadow.broadcast(req.Event)
	}

	resp.Snapshots = w.shadow.openSnapshots()
	resp.Past = w.writtenPast()
	resp.Relayed = w.relayed
	w.relayed = nil
	return
}

func (w *worker) fireTrigger(args event.Args) error {
	target := w.shadow.ChildBySlug(args.Area)
	if target == nil {
		return fmt.Errorf("%w: %s", domain.ErrAreaNotFound, args.Area)
	}
	return target.FireTrigger(args.Trigger, args.Params)
}

// writtenPast snapshots the rotated shadow markets written during the
// current round trip, oldest first.
func (w *worker) writtenPast() []market.Snapshot {
	var snaps []market.Snapshot
	for _, b := range []*book{w.shadow.spot, w.shadow.balancing} {
		for _, m := range b.past.Values() {
			if _, ok := w.written[m]; ok {
				snaps = append(snaps, m.Snapshot())
			}
		}
	}
	return snaps
}

// track marks m as written whenever it is mutated.
func (w *worker) track(m *market.Market) {
	m.SetGuard(func() { w.written[m] = struct{}{} })
}

// adopt brings the shadow in line with the coordinator: same tick, same
// open markets. Unknown slots become new live markets and open markets the
// coordinator no longer lists move to the past.
func (w *worker) adopt(tick int, snaps []market.Snapshot) {
	sh := w.shadow
	sh.currentTick = tick

	listed := make(map[market.Kind]map[int64]bool, 2)
	for _, s := range snaps {
		if listed[s.Kind] == nil {
			listed[s.Kind] = make(map[int64]bool)
		}
		listed[s.Kind][slotKey(s.TimeSlot)] = true

		b := sh.bookFor(s.Kind)
		if m, ok := b.open.Get(s.TimeSlot); ok {
			if err := m.ApplySnapshot(s); err != nil {
				panic(err)
			}
			continue
		}
		m := market.FromSnapshot(s, sh.notify)
		w.track(m)
		b.open.Put(m)
	}

	for _, b := range []*book{sh.spot, sh.balancing} {
		for _, m := range b.open.Values() {
			if listed[b.kind][slotKey(m.TimeSlot())] {
				continue
			}
			b.open.Remove(m.TimeSlot())
			m.SetReadOnly()
			b.past.Put(m)
		}
	}
	sh.accumulatePast()
}

func encodeResponse(resp workerResponse) []byte {
	raw, err := event.Encode(resp)
	if err != nil {
		raw, _ = event.Encode(workerResponse{Err: fmt.Sprintf("encode response: %v", err)})
	}
	return raw
}
