package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationConfig holds the time grid every area schedules against.
// Areas without their own config inherit the nearest ancestor's.
type SimulationConfig struct {
	Duration       time.Duration   `yaml:"duration" json:"duration"`
	SlotLength     time.Duration   `yaml:"slot_length" json:"slot_length"`
	TickLength     time.Duration   `yaml:"tick_length" json:"tick_length"`
	MarketCount    int             `yaml:"market_count" json:"market_count"`
	TransferFeePct decimal.Decimal `yaml:"transfer_fee_pct" json:"transfer_fee_pct"`
	StartDate      time.Time       `yaml:"start_date" json:"start_date"`
	Seed           uint64          `yaml:"seed" json:"seed"`
}

// DefaultStartDate anchors runs that configure no start date, so slot
// timestamps do not depend on the day the process starts.
var DefaultStartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultSimulationConfig returns the process-wide fallback: one day of
// 15 minute slots, 1 second ticks, one open market, 1% transfer fee.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Duration:       24 * time.Hour,
		SlotLength:     15 * time.Minute,
		TickLength:     time.Second,
		MarketCount:    1,
		TransferFeePct: decimal.NewFromInt(1),
		StartDate:      DefaultStartDate,
		Seed:           1,
	}
}

// StartOfDay is the simulated midnight all slot arithmetic is anchored on.
func (c SimulationConfig) StartOfDay() time.Time {
	y, m, d := c.StartDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.StartDate.Location())
}

// TicksPerSlot is the number of ticks between two market cycles.
func (c SimulationConfig) TicksPerSlot() int {
	if c.TickLength <= 0 {
		return 1
	}
	n := int(c.SlotLength / c.TickLength)
	if n < 1 {
		return 1
	}
	return n
}

// TotalTicks is the number of ticks needed to cover Duration.
func (c SimulationConfig) TotalTicks() int {
	if c.TickLength <= 0 {
		return 0
	}
	return int(c.Duration / c.TickLength)
}

// Validate checks the time grid is usable
func (c SimulationConfig) Validate() error {
	if c.SlotLength <= 0 {
		return &ConfigError{Field: "slot_length", Err: errors.New("must be positive")}
	}
	if c.TickLength <= 0 {
		return &ConfigError{Field: "tick_length", Err: errors.New("must be positive")}
	}
	if c.SlotLength%c.TickLength != 0 {
		return &ConfigError{Field: "tick_length", Err: fmt.Errorf("slot length %s is not a multiple of %s", c.SlotLength, c.TickLength)}
	}
	if c.MarketCount < 1 {
		return &ConfigError{Field: "market_count", Err: errors.New("at least one market is required")}
	}
	if c.Duration < c.SlotLength {
		return &ConfigError{Field: "duration", Err: fmt.Errorf("shorter than one slot (%s)", c.SlotLength)}
	}
	if c.TransferFeePct.IsNegative() {
		return &ConfigError{Field: "transfer_fee_pct", Err: errors.New("must not be negative")}
	}
	return nil
}

// MergeSimulation overlays the non-zero fields of override onto base.
func MergeSimulation(base, override SimulationConfig) SimulationConfig {
	out := base
	if override.Duration != 0 {
		out.Duration = override.Duration
	}
	if override.SlotLength != 0 {
		out.SlotLength = override.SlotLength
	}
	if override.TickLength != 0 {
		out.TickLength = override.TickLength
	}
	if override.MarketCount != 0 {
		out.MarketCount = override.MarketCount
	}
	// A zero fee cannot be expressed as an override; configure it at the root.
	if !override.TransferFeePct.IsZero() {
		out.TransferFeePct = override.TransferFeePct
	}
	if !override.StartDate.IsZero() {
		out.StartDate = override.StartDate
	}
	if override.Seed != 0 {
		out.Seed = override.Seed
	}
	return out
}
