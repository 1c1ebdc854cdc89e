package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gridsim/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of a run. LoadConfig fills it from YAML on top
// of DefaultConfig and then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	// Simulation is the root time grid; setup nodes may overlay parts of it.
	Simulation domain.SimulationConfig `yaml:"simulation"`

	Setup struct {
		Path string `yaml:"path"`
	} `yaml:"setup"`

	Run struct {
		TickDelayMS int    `yaml:"tick_delay_ms"`
		DumpFile    string `yaml:"dump_file"`
	} `yaml:"run"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"` // empty: per-user data dir
	} `yaml:"storage"`

	Snapshots struct {
		Dir        string `yaml:"dir"`
		EverySlots int    `yaml:"every_slots"` // 0 disables
		Keep       int    `yaml:"keep"`
	} `yaml:"snapshots"`

	Stream struct {
		Addr string `yaml:"addr"` // empty disables the websocket stream
	} `yaml:"stream"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig is what a run uses for anything the file leaves out.
func DefaultConfig() *Config {
	cfg := &Config{Simulation: domain.DefaultSimulationConfig()}
	cfg.App.Name = "gridsim"
	cfg.Setup.Path = "configs/setups/default.yaml"
	cfg.Run.DumpFile = "panic_dump.json"
	cfg.Snapshots.Dir = "snapshots"
	cfg.Snapshots.Keep = 5
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return cfg
}

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	if c.Snapshots.EverySlots < 0 || c.Snapshots.Keep < 0 {
		return &domain.ConfigError{Field: "snapshots", Err: errors.New("every_slots and keep must not be negative")}
	}
	if c.Snapshots.EverySlots > 0 && c.Snapshots.Dir == "" {
		return &domain.ConfigError{Field: "snapshots.dir", Err: errors.New("required when snapshots are enabled")}
	}

	if c.Run.TickDelayMS < 0 {
		return &domain.ConfigError{Field: "run.tick_delay_ms", Err: errors.New("must not be negative")}
	}

	if c.Stream.Addr != "" && !strings.Contains(c.Stream.Addr, ":") {
		return &domain.ConfigError{Field: "stream.addr", Err: fmt.Errorf("expected host:port, got %q", c.Stream.Addr)}
	}

	return nil
}

// overrideWithEnv lets GRIDSIM_* variables win over the file.
func overrideWithEnv(cfg *Config) error {
	if level := os.Getenv("GRIDSIM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("GRIDSIM_SETUP"); path != "" {
		cfg.Setup.Path = path
	}
	if path := os.Getenv("GRIDSIM_DB_PATH"); path != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("GRIDSIM_STREAM_ADDR"); addr != "" {
		cfg.Stream.Addr = addr
	}
	if raw := os.Getenv("GRIDSIM_SEED"); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &domain.ConfigError{Field: "GRIDSIM_SEED", Err: err}
		}
		cfg.Simulation.Seed = seed
	}
	return nil
}
