// Package events defines the framed messages delivered to connected
// observers and the bounded fan-out primitives that carry them.
package events

import (
	"encoding/json"
	"time"
)

// Type discriminates the payload of a Message.
type Type string

const (
	TypeStatus          Type = "status"
	TypeQuote           Type = "quote"
	TypePortfolioUpdate Type = "portfolio_update"
	TypeLog             Type = "log"
	TypeNotification    Type = "notification"
	TypeTradeSignal     Type = "trade_signal"
)

// Message is the envelope every listener receives. Payload is kept as a
// typed value until the transport serializes it.
type Message struct {
	Type      Type        `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Marshal serializes the message to its wire form.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// StatusPayload is the synthetic snapshot sent to a listener on attach and
// whenever the stream session changes state.
type StatusPayload struct {
	State       string    `json:"state"`
	Symbols     []string  `json:"symbols"`
	Listeners   int       `json:"listeners"`
	LastTickAt  time.Time `json:"last_tick_at"`
	LastError   string    `json:"last_error,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// QuotePayload is one normalized tick.
type QuotePayload struct {
	Symbol     string    `json:"symbol"`
	Last       float64   `json:"last"`
	PrevClose  float64   `json:"prev_close"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     float64   `json:"volume"`
	Turnover   float64   `json:"turnover"`
	Change     float64   `json:"change"`
	ChangeRate float64   `json:"change_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

// LogPayload carries human-readable cycle progress lines.
type LogPayload struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// NotificationPayload carries alert-only signals and risk notices.
type NotificationPayload struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Symbol  string `json:"symbol,omitempty"`
	Urgency string `json:"urgency,omitempty"`
}

// TradeSignalPayload carries a produced trading signal, whether or not it
// was executed.
type TradeSignalPayload struct {
	StrategyID   string  `json:"strategy_id"`
	StrategyName string  `json:"strategy_name"`
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"` // buy | sell
	Price        float64 `json:"price"`
	Quantity     string  `json:"quantity,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Executed     bool    `json:"executed"`
}

// PortfolioUpdatePayload carries a position open/close/refresh notice.
type PortfolioUpdatePayload struct {
	Symbol        string `json:"symbol"`
	Event         string `json:"event"` // opened | closed | refreshed
	Quantity      string `json:"quantity"`
	EntryPrice    string `json:"entry_price,omitempty"`
	ExitPrice     string `json:"exit_price,omitempty"`
	RealizedPnL   string `json:"realized_pnl,omitempty"`
	CloseReason   string `json:"close_reason,omitempty"`
	OpenPositions int    `json:"open_positions"`
}

// NewMessage wraps a payload with its type and the current time.
func NewMessage(t Type, payload interface{}) Message {
	return Message{Type: t, Payload: payload, Timestamp: time.Now()}
}
