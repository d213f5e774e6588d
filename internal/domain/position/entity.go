package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side defines the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// String returns the string representation.
func (s Side) String() string {
	return string(s)
}

// Status defines the position lifecycle status.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// IsOpen returns true if the position is open.
func (s Status) IsOpen() bool {
	return s == StatusOpen
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseSellSignal CloseReason = "sell_signal"
	CloseLiquidated CloseReason = "liquidated"
)

// Position is one holding owned by a strategy. At most one open position
// exists per (strategy, symbol) key at any time.
type Position struct {
	ID         uuid.UUID `db:"id" json:"id"`
	StrategyID uuid.UUID `db:"strategy_id" json:"strategy_id"`

	Symbol string `db:"symbol" json:"symbol"`
	Side   Side   `db:"side" json:"side"`

	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	EntryPrice decimal.Decimal `db:"entry_price" json:"entry_price"`
	EntryTime  time.Time       `db:"entry_time" json:"entry_time"`

	// Protective levels; the trailing stop only ever ratchets in the
	// favorable direction, it is never loosened
	StopLoss   decimal.Decimal `db:"stop_loss" json:"stop_loss"`
	TakeProfit decimal.Decimal `db:"take_profit" json:"take_profit"`

	// HighWater is the most favorable price seen since entry, used to
	// ratchet the trailing stop
	HighWater decimal.Decimal `db:"high_water" json:"high_water"`

	Status      Status          `db:"status" json:"status"`
	ExitPrice   decimal.Decimal `db:"exit_price" json:"exit_price"`
	ExitTime    *time.Time      `db:"exit_time" json:"exit_time,omitempty"`
	CloseReason CloseReason     `db:"close_reason" json:"close_reason,omitempty"`
	RealizedPnL decimal.Decimal `db:"realized_pnl" json:"realized_pnl"`
}

// Key identifies the uniqueness slot of a position.
type Key struct {
	StrategyID uuid.UUID
	Symbol     string
}

// Key returns the (strategy, symbol) uniqueness key.
func (p *Position) Key() Key {
	return Key{StrategyID: p.StrategyID, Symbol: p.Symbol}
}

// UnrealizedPnL computes the mark-to-market PnL at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(p.Quantity)
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity)
}

// Close marks the position closed at the given price and time, computing
// realized PnL sign-adjusted for side.
func (p *Position) Close(price decimal.Decimal, at time.Time, reason CloseReason) {
	p.Status = StatusClosed
	p.ExitPrice = price
	p.ExitTime = &at
	p.CloseReason = reason
	p.RealizedPnL = p.UnrealizedPnL(price)
}
