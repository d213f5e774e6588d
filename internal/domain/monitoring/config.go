package monitoring

import (
	"time"

	"github.com/google/uuid"
)

// Status is the monitoring state of a symbol's configuration.
// Configurations are status-flipped, never silently deleted, except when the
// underlying broker position is fully closed.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

// StrategyMode controls what happens when a strategy signal fires for a
// monitored position.
type StrategyMode string

const (
	// ModeAuto executes the trade immediately and records it
	ModeAuto StrategyMode = "auto"
	// ModeAlertOnly emits a notification event without executing
	ModeAlertOnly StrategyMode = "alert_only"
	// ModeDisabled evaluates conditions for observability only
	ModeDisabled StrategyMode = "disabled"
)

// Window is a daily trading-hour window in exchange-local wall time.
type Window struct {
	Start string `json:"start"` // "09:30"
	End   string `json:"end"`   // "16:00"
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= start.Hour()*60+start.Minute() &&
		minute <= end.Hour()*60+end.Minute()
}

// Config is the per-symbol monitoring policy applied to broker positions.
// One exists per symbol that currently has a broker position; created on
// first observation, updated only via explicit API.
type Config struct {
	Symbol string `db:"symbol" json:"symbol"`

	Status       Status       `db:"status" json:"status"`
	StrategyMode StrategyMode `db:"strategy_mode" json:"strategy_mode"`

	// Strategies evaluated for this symbol; empty means none
	EnabledStrategyIDs []uuid.UUID `json:"enabled_strategy_ids"`

	// Optional per-symbol risk overrides; zero means "use strategy default"
	StopLossPct   float64 `db:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct float64 `db:"take_profit_pct" json:"take_profit_pct"`
	PositionLimit int     `db:"position_limit" json:"position_limit"`

	// Gates
	TradingHours []Window      `json:"trading_hours"`
	MinPrice     float64       `db:"min_price" json:"min_price"`
	MaxPrice     float64       `db:"max_price" json:"max_price"`
	MinVolume    float64       `db:"min_volume" json:"min_volume"`
	Cooldown     time.Duration `db:"cooldown" json:"cooldown"`

	// ExpiresAt, when set, invalidates the configuration after this time
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether monitoring is currently switched on.
func (c *Config) Active() bool {
	return c.Status == StatusEnabled
}

// Expired reports whether the configuration has passed its expiry.
func (c *Config) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// InTradingHours reports whether t falls within any configured window.
// No windows configured means always in hours.
func (c *Config) InTradingHours(t time.Time) bool {
	if len(c.TradingHours) == 0 {
		return true
	}
	for _, w := range c.TradingHours {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Default returns the configuration created on first observation of a
// broker position for the symbol.
func Default(symbol string) *Config {
	now := time.Now()
	return &Config{
		Symbol:       symbol,
		Status:       StatusEnabled,
		StrategyMode: ModeAlertOnly,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
