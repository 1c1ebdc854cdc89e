package app

import (
	"context"
	"log/slog"
	"time"

	"gridsim/internal/area"
	"gridsim/internal/engine"
	"gridsim/internal/infra"
	"gridsim/internal/infra/storage"
	"gridsim/internal/infra/stream"
	"gridsim/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Snapshots *storage.SnapshotManager
	Hub       *stream.Hub
	Stats     *service.MarketStatsService
	Root      *area.Area
	Recorder  *service.Recorder
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config and sets up logging and the optional sinks.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping gridsim", slog.String("config", configPath), slog.String("version", cfg.App.Version))

	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("Database initialized")
	}

	if cfg.Snapshots.EverySlots > 0 {
		b.Snapshots = storage.NewSnapshotManager(cfg.Snapshots.Dir)
	}

	if cfg.Stream.Addr != "" {
		b.Hub = stream.NewHub()
	}
	b.Stats = service.NewMarketStatsService()

	return nil
}

// BuildGrid loads the setup file and wires the recorder onto the root.
func (b *Bootstrap) BuildGrid() error {
	spec, err := LoadSetup(b.Config.Setup.Path)
	if err != nil {
		return err
	}
	root, err := BuildGrid(spec, b.Config.Simulation)
	if err != nil {
		return err
	}
	b.Root = root

	var store service.MarketStore
	if b.Storage != nil {
		store = b.Storage
	}
	var pub service.Publisher
	if b.Hub != nil {
		pub = b.Hub
	}
	b.Recorder = service.NewRecorder(root, store, b.Stats, pub)

	areas := 0
	root.Walk(func(*area.Area) { areas++ })
	slog.Info("Grid built", slog.String("setup", b.Config.Setup.Path), slog.Int("areas", areas))
	return nil
}

// Simulation creates the driver for the built grid.
func (b *Bootstrap) Simulation() *engine.Simulation {
	return engine.NewSimulation(b.Root, engine.Options{
		Snapshots:     b.Snapshots,
		SnapshotEvery: b.Config.Snapshots.EverySlots,
		SnapshotKeep:  b.Config.Snapshots.Keep,
		DumpFile:      b.Config.Run.DumpFile,
		TickDelay:     time.Duration(b.Config.Run.TickDelayMS) * time.Millisecond,
	})
}

// StartProcessors runs the background consumers until ctx is done.
func (b *Bootstrap) StartProcessors(ctx context.Context) {
	b.Stats.StartProcessor(ctx)
}

// Close releases what Initialize opened.
func (b *Bootstrap) Close() {
	if b.Hub != nil {
		b.Hub.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
