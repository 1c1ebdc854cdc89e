package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"gridsim/internal/area"
	"gridsim/internal/infra"
	"gridsim/internal/infra/storage"
)

// ErrStopped is returned to trigger commands sent after the run ended.
var ErrStopped = errors.New("simulation stopped")

// TriggerCommand asks the simulation to fire a strategy trigger between two
// ticks. Result receives exactly one value.
type TriggerCommand struct {
	Area   string // area slug
	Name   string
	Params map[string]string
	Result chan error
}

// Options tunes a Simulation. The zero value runs as fast as possible
// without snapshots.
type Options struct {
	InboxSize     int
	Snapshots     *storage.SnapshotManager
	SnapshotEvery int // slots between periodic snapshots, 0 disables them
	SnapshotKeep  int
	DumpFile      string        // written when the run halts on a panic
	TickDelay     time.Duration // wall-clock pause after each tick
}

// Simulation drives the root area tick by tick. All area state is owned
// by the goroutine calling Run.
type Simulation struct {
	root  *area.Area
	opts  Options
	inbox chan TriggerCommand
	done  chan struct{}

	tick atomic.Int64
}

// NewSimulation creates a new simulation for root.
func NewSimulation(root *area.Area, opts Options) *Simulation {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 16
	}
	if opts.DumpFile == "" {
		opts.DumpFile = "panic_dump.json"
	}
	return &Simulation{
		root:  root,
		opts:  opts,
		inbox: make(chan TriggerCommand, opts.InboxSize),
		done:  make(chan struct{}),
	}
}

// Inbox returns the command channel.
func (s *Simulation) Inbox() chan<- TriggerCommand {
	return s.inbox
}

// CurrentTick is safe to call from any goroutine.
func (s *Simulation) CurrentTick() int {
	return int(s.tick.Load())
}

// Done is closed when Run returns.
func (s *Simulation) Done() <-chan struct{} {
	return s.done
}

// FireTrigger queues a trigger command and waits for its result.
func (s *Simulation) FireTrigger(ctx context.Context, areaSlug, name string, params map[string]string) error {
	cmd := TriggerCommand{Area: areaSlug, Name: name, Params: params, Result: make(chan error, 1)}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.Result:
		return err
	case <-s.done:
		// Run may have answered right before returning.
		select {
		case err := <-cmd.Result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run activates the tree and ticks it until the configured duration is
// covered or ctx is cancelled. It MUST be called from a single goroutine.
// A panic inside the tree halts the run: state is dumped and the panic is
// returned as an error.
func (s *Simulation) Run(ctx context.Context) (err error) {
	defer close(s.done)
	defer s.root.Close()
	defer func() {
		if r := recover(); r != nil {
			infra.GlobalMetrics.RecordError()
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Int("tick", s.CurrentTick()))
			s.DumpState(s.opts.DumpFile)
			err = fmt.Errorf("simulation halted at tick %d: %w", s.CurrentTick(), panicError(r))
		}
	}()

	if err := s.root.Activate(); err != nil {
		return err
	}

	cfg := s.root.Config()
	total := cfg.TotalTicks()
	perSlot := cfg.TicksPerSlot()
	slog.Info("Simulation started",
		slog.String("root", s.root.Name()),
		slog.Int("ticks", total),
		slog.Int("ticks_per_slot", perSlot))

	for tick := 0; tick < total; tick++ {
		select {
		case <-ctx.Done():
			slog.Info("Simulation stopping...", slog.Int("tick", tick))
			return ctx.Err()
		default:
		}

		s.drainCommands()
		s.root.Tick()
		s.tick.Store(int64(tick + 1))
		infra.GlobalMetrics.RecordTick()

		if s.opts.Snapshots != nil && s.opts.SnapshotEvery > 0 && (tick+1)%(perSlot*s.opts.SnapshotEvery) == 0 {
			s.saveSnapshot(tick + 1)
		}

		if s.opts.TickDelay > 0 {
			select {
			case <-ctx.Done():
				slog.Info("Simulation stopping...", slog.Int("tick", tick+1))
				return ctx.Err()
			case <-time.After(s.opts.TickDelay):
			}
		}
	}

	s.drainCommands()
	slog.Info("Simulation finished", slog.Int("ticks", total))
	return nil
}

// drainCommands runs every queued command without blocking.
func (s *Simulation) drainCommands() {
	for {
		select {
		case cmd := <-s.inbox:
			cmd.Result <- s.execute(cmd)
		default:
			return
		}
	}
}

func (s *Simulation) execute(cmd TriggerCommand) error {
	if err := s.root.FireTriggerAt(cmd.Area, cmd.Name, cmd.Params); err != nil {
		slog.Warn("Trigger failed",
			slog.String("area", cmd.Area),
			slog.String("trigger", cmd.Name),
			slog.Any("error", err))
		return err
	}
	slog.Info("Trigger fired", slog.String("area", cmd.Area), slog.String("trigger", cmd.Name))
	return nil
}

func (s *Simulation) saveSnapshot(tick int) {
	if _, err := s.opts.Snapshots.Save(storage.CreateSnapshot(tick, s.root)); err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Warn("Failed to save snapshot", slog.Any("error", err))
		return
	}
	if s.opts.SnapshotKeep > 0 {
		if err := s.opts.Snapshots.Cleanup(s.opts.SnapshotKeep); err != nil {
			slog.Warn("Failed to clean up snapshots", slog.Any("error", err))
		}
	}
}

// DumpState writes the visible tree to a file (for post-mortem).
func (s *Simulation) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))
	defer func() {
		if r := recover(); r != nil {
			slog.Error("State dump failed", slog.Any("panic", r))
		}
	}()

	b, err := json.MarshalIndent(storage.CreateSnapshot(s.CurrentTick(), s.root), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
