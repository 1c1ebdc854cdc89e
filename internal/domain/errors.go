package domain

import (
	"errors"
	"fmt"
	"time"
)

// FatalError marks errors that must halt the simulation instead of being
// logged and skipped.
type FatalError interface {
	error
	IsFatal() bool
}

// IsFatal checks if an error (or anything it wraps) is fatal
func IsFatal(err error) bool {
	var fe FatalError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// TopologyError is returned when an area is wired in a way the scheduler
// cannot run (e.g. a strategy on a parentless area).
type TopologyError struct {
	Area   string
	Reason string
}

func (e *TopologyError) Error() string {
	return "area " + e.Area + ": " + e.Reason
}

func (e *TopologyError) IsFatal() bool {
	return true
}

// StaleReportError is returned when energy is reported for a time slot the
// area no longer (or never did) track.
type StaleReportError struct {
	Area string
	Slot time.Time
}

func (e *StaleReportError) Error() string {
	return fmt.Sprintf("area %s: timeslot %s not in markets or past markets", e.Area, e.Slot.Format(time.RFC3339))
}

func (e *StaleReportError) IsFatal() bool {
	return true
}

// DesyncError means the coordinator and a worker disagree about which
// markets exist. There is no recovery path.
type DesyncError struct {
	Area     string
	Expected time.Time
	Got      time.Time
	Reason   string
}

func (e *DesyncError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("area %s: worker desync: %s (slot %s)", e.Area, e.Reason, e.Got.Format(time.RFC3339))
	}
	return fmt.Sprintf("area %s: worker desync: expected slot %s, got %s",
		e.Area, e.Expected.Format(time.RFC3339), e.Got.Format(time.RFC3339))
}

func (e *DesyncError) IsFatal() bool {
	return true
}

// WorkerError carries a failure raised inside an offloaded subtree back to
// the coordinator.
type WorkerError struct {
	Area string
	Err  error
}

func (e *WorkerError) Error() string {
	return "worker " + e.Area + ": " + e.Err.Error()
}

func (e *WorkerError) IsFatal() bool {
	return true
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (always fatal)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsFatal() bool {
	return true
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMarketReadOnly is returned when mutating a market that has rotated into the past.
	ErrMarketReadOnly = errors.New("market is read-only")

	// ErrOfferNotFound is returned when an offer id is unknown to the market.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrInvalidOffer is returned for non-positive energy or negative price.
	ErrInvalidOffer = errors.New("invalid offer")

	// ErrInvalidTrade is returned when the requested energy cannot be traded.
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrUnknownTrigger is returned when firing a trigger the area does not expose.
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrAreaNotFound is returned when a slug lookup fails.
	ErrAreaNotFound = errors.New("area not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
