package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridsim/internal/domain"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  name: gridsim
simulation:
  duration: 2h
  slot_length: 15m
  tick_length: 1m
  market_count: 4
  transfer_fee_pct: "1.5"
  start_date: 2026-01-01
  seed: 42
storage:
  enabled: true
  path: data/test.db
stream:
  addr: "localhost:8090"
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	sim := cfg.Simulation
	if sim.Duration != 2*time.Hour || sim.SlotLength != 15*time.Minute || sim.TickLength != time.Minute {
		t.Errorf("durations not parsed: %+v", sim)
	}
	if sim.MarketCount != 4 {
		t.Errorf("Expected 4 markets, got %d", sim.MarketCount)
	}
	if !sim.TransferFeePct.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected fee 1.5, got %v", sim.TransferFeePct)
	}
	if !sim.StartDate.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected start 2026-01-01, got %v", sim.StartDate)
	}
	if sim.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", sim.Seed)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Path != "data/test.db" {
		t.Errorf("storage not parsed: %+v", cfg.Storage)
	}
	// Left out of the file: defaults apply.
	if cfg.Snapshots.Dir != "snapshots" || cfg.Logging.Dir != "logs" {
		t.Errorf("defaults lost: %+v %+v", cfg.Snapshots, cfg.Logging)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("GRIDSIM_LOG_LEVEL", "warn")
	t.Setenv("GRIDSIM_DB_PATH", "/tmp/override.db")
	t.Setenv("GRIDSIM_SEED", "9")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected level warn, got %s", cfg.Logging.Level)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("storage override not applied: %+v", cfg.Storage)
	}
	if cfg.Simulation.Seed != 9 {
		t.Errorf("Expected seed 9, got %d", cfg.Simulation.Seed)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, domain.ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"zero markets", "simulation:\n  market_count: -1\n", "market_count"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad tick", "simulation:\n  slot_length: 15m\n  tick_length: 7m\n", "tick_length"},
		{"bad stream addr", "stream:\n  addr: nowhere\n", "stream.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}

	t.Run("bad seed env", func(t *testing.T) {
		t.Setenv("GRIDSIM_SEED", "many")
		_, err := LoadConfig(writeConfig(t, "app:\n  name: x\n"))
		if !domain.IsFatal(err) {
			t.Errorf("Expected a fatal config error, got %v", err)
		}
	})
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug").String() != "DEBUG" {
		t.Error("debug not mapped")
	}
	if ParseLevel("").String() != "INFO" {
		t.Error("empty should default to info")
	}
}

func TestLoadConfig_ShippedFile(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Simulation.TicksPerSlot() != 60 {
		t.Errorf("Expected 60 ticks per slot, got %d", cfg.Simulation.TicksPerSlot())
	}
	if cfg.Setup.Path == "" {
		t.Error("Expected a setup path")
	}
}
