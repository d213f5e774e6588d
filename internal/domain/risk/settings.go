package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
)

// Settings is the process-wide risk configuration. A singleton, hot-reloadable
// through the risk service.
type Settings struct {
	Enabled         bool     `db:"enabled" json:"enabled"`
	MarketHoursOnly bool     `db:"market_hours_only" json:"market_hours_only"`
	MaxDailyTrades  int      `db:"max_daily_trades" json:"max_daily_trades"`
	EmergencyStop   bool     `db:"emergency_stop" json:"emergency_stop"`
	ExcludedSymbols []string `json:"excluded_symbols"`

	// MaxDailyLoss is the cap on realized daily loss, in account currency
	MaxDailyLoss decimal.Decimal `db:"max_daily_loss" json:"max_daily_loss"`

	// MaxTotalExposure caps aggregate position value as a fraction of
	// portfolio value
	MaxTotalExposure float64 `db:"max_total_exposure" json:"max_total_exposure"`

	// MaxPositionWeight caps a single position's value as a fraction of
	// portfolio value
	MaxPositionWeight float64 `db:"max_position_weight" json:"max_position_weight"`

	// VolatilityPause pauses a position whose unrealized PnL ratio breaches
	// VolatilityPnLRatio in either direction
	VolatilityPause    bool    `db:"volatility_pause" json:"volatility_pause"`
	VolatilityPnLRatio float64 `db:"volatility_pnl_ratio" json:"volatility_pnl_ratio"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Excludes reports whether the symbol is on the exclusion list.
func (s *Settings) Excludes(symbol string) bool {
	symbol = marketdata.CanonicalSymbol(symbol)
	for _, excluded := range s.ExcludedSymbols {
		if marketdata.CanonicalSymbol(excluded) == symbol {
			return true
		}
	}
	return false
}

// DailyState tracks the rolling per-day counters consumed by the daily gates.
type DailyState struct {
	Date        time.Time       `db:"date" json:"date"`
	TradeCount  int             `db:"trade_count" json:"trade_count"`
	RealizedPnL decimal.Decimal `db:"realized_pnl" json:"realized_pnl"`
}

// SameDay reports whether the state belongs to the calendar day of t.
func (d *DailyState) SameDay(t time.Time) bool {
	y1, m1, d1 := d.Date.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
