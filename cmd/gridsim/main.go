package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridsim/internal/app"
	"gridsim/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	setupPath := flag.String("setup", "", "override the setup file from the configuration")
	pprofAddr := flag.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	if *setupPath != "" {
		bootstrap.Config.Setup.Path = *setupPath
	}
	if err := bootstrap.BuildGrid(); err != nil {
		slog.Error("Failed to build grid", slog.Any("error", err))
		os.Exit(1)
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.StartProcessors(ctx)
	sim := bootstrap.Simulation()

	if addr := bootstrap.Config.Stream.Addr; addr != "" {
		srv := app.NewServer(addr, bootstrap.Hub, bootstrap.Stats, sim)
		go func() {
			slog.Info("Stream server started", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Stream server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	err := sim.Run(ctx)

	m := infra.GlobalMetrics.Snapshot()
	slog.Info("Run summary",
		slog.Duration("elapsed", time.Since(start)),
		slog.Uint64("ticks", m.TicksProcessed),
		slog.Uint64("market_cycles", m.MarketCycles),
		slog.Uint64("markets_created", m.MarketsCreated),
		slog.Uint64("markets_rotated", m.MarketsRotated),
		slog.Uint64("agents_registered", m.AgentsRegistered),
		slog.Uint64("agents_retired", m.AgentsRetired),
		slog.Uint64("worker_round_trips", m.RoundTrips),
		slog.Int64("avg_round_trip_ns", m.AvgRoundTripNs),
		slog.Uint64("errors", m.ErrorsTotal))

	switch {
	case err == nil:
		slog.Info("Shutting down gracefully...")
	case errors.Is(err, context.Canceled):
		slog.Info("Interrupted, shutting down...")
	default:
		slog.Error("Simulation halted", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
}
