package marketdata

import (
	"strings"
	"time"
)

// Bar is one OHLCV sample for a fixed time bucket.
// Bars are immutable once appended to a SymbolBuffer and ordered by
// timestamp ascending.
type Bar struct {
	Symbol    string    `db:"symbol" json:"symbol"`
	Open      float64   `db:"open" json:"open"`
	High      float64   `db:"high" json:"high"`
	Low       float64   `db:"low" json:"low"`
	Close     float64   `db:"close" json:"close"`
	Volume    float64   `db:"volume" json:"volume"`
	Timestamp time.Time `db:"ts" json:"timestamp"`
}

// Tick is a single real-time price update pushed by the quote feed,
// finer-grained than a bar. Change and ChangeRate are computed during
// normalization from PrevClose; the raw feed does not carry them.
type Tick struct {
	Symbol     string    `json:"symbol"`
	Last       float64   `json:"last"`
	PrevClose  float64   `json:"prev_close"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     float64   `json:"volume"`
	Turnover   float64   `json:"turnover"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Change     float64   `json:"change"`
	ChangeRate float64   `json:"change_rate"`
}

// Normalize canonicalizes the symbol and computes the derived change fields.
// Returns a copy; the original tick is left untouched.
func (t Tick) Normalize() Tick {
	t.Symbol = CanonicalSymbol(t.Symbol)
	if t.PrevClose > 0 {
		t.Change = t.Last - t.PrevClose
		t.ChangeRate = t.Change / t.PrevClose
	}
	return t
}

// CanonicalSymbol uppercases the symbol and trims whitespace,
// e.g. " 700.hk " -> "700.HK".
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Bucket truncates the tick timestamp to the bar interval it belongs to.
func (t Tick) Bucket(interval time.Duration) time.Time {
	return t.Timestamp.Truncate(interval)
}
