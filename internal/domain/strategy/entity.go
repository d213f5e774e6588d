package strategy

import (
	"time"

	"github.com/google/uuid"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Strategy describes a named rule set evaluated against incoming bars.
// Mutable only via explicit update/reload; persisted in the settings store.
type Strategy struct {
	ID      uuid.UUID `db:"id" json:"id"`
	Name    string    `db:"name" json:"name"`
	Enabled bool      `db:"enabled" json:"enabled"`

	// Target symbols; empty means the strategy applies wherever it is
	// referenced by a monitoring configuration.
	Symbols []string `json:"symbols"`

	BuyConditions  []Condition `json:"buy_conditions"`
	SellConditions []Condition `json:"sell_conditions"`

	// Risk parameters, fractions of entry price (0.05 = 5%)
	StopLossPct     float64 `db:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct   float64 `db:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct float64 `db:"trailing_stop_pct" json:"trailing_stop_pct"`

	// MaxPositions caps simultaneously open positions for this strategy
	MaxPositions int `db:"max_positions" json:"max_positions"`

	// PositionFraction is the portfolio fraction committed per entry
	PositionFraction float64 `db:"position_fraction" json:"position_fraction"`

	// Cooldown is the idle window after a trade before the strategy may
	// fire again for the same symbol
	Cooldown time.Duration `db:"cooldown" json:"cooldown"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks structural soundness before persisting.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return errors.Wrap(errors.ErrInvalidInput, "strategy name is required")
	}
	if len(s.BuyConditions) == 0 && len(s.SellConditions) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "at least one condition is required")
	}
	for _, c := range append(append([]Condition{}, s.BuyConditions...), s.SellConditions...) {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if s.StopLossPct < 0 || s.StopLossPct >= 1 {
		return errors.Wrap(errors.ErrInvalidInput, "stop_loss_pct must be in [0, 1)")
	}
	if s.TakeProfitPct < 0 {
		return errors.Wrap(errors.ErrInvalidInput, "take_profit_pct must be >= 0")
	}
	if s.TrailingStopPct < 0 || s.TrailingStopPct >= 1 {
		return errors.Wrap(errors.ErrInvalidInput, "trailing_stop_pct must be in [0, 1)")
	}
	if s.PositionFraction < 0 || s.PositionFraction > 1 {
		return errors.Wrap(errors.ErrInvalidInput, "position_fraction must be in [0, 1]")
	}
	if s.MaxPositions < 0 {
		return errors.Wrap(errors.ErrInvalidInput, "max_positions must be >= 0")
	}
	return nil
}

// AppliesTo reports whether the strategy targets the given symbol.
func (s *Strategy) AppliesTo(symbol string) bool {
	if len(s.Symbols) == 0 {
		return true
	}
	for _, sym := range s.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// Status tracks the per-strategy execution state machine:
// idle -> monitoring -> triggered -> executing -> cooldown -> monitoring.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusMonitoring Status = "monitoring"
	StatusTriggered  Status = "triggered"
	StatusExecuting  Status = "executing"
	StatusCooldown   Status = "cooldown"
)

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}
