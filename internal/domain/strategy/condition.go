package strategy

import "github.com/majiajue/longbridge-sub000/pkg/errors"

// ConditionType enumerates the supported condition predicates.
type ConditionType string

const (
	CondMACross        ConditionType = "ma_cross"
	CondRSIThreshold   ConditionType = "rsi_threshold"
	CondVolumeSurge    ConditionType = "volume_surge"
	CondBreakout       ConditionType = "breakout"
	CondBollingerTouch ConditionType = "bollinger_touch"
	CondMACDCross      ConditionType = "macd_cross"
	CondPriceChange    ConditionType = "price_change"
)

// Valid reports whether the condition type is known.
func (t ConditionType) Valid() bool {
	switch t {
	case CondMACross, CondRSIThreshold, CondVolumeSurge, CondBreakout,
		CondBollingerTouch, CondMACDCross, CondPriceChange:
		return true
	}
	return false
}

// CrossDirection selects which side of a cross fires the condition.
type CrossDirection string

const (
	CrossGolden CrossDirection = "golden" // short crosses above long
	CrossDeath  CrossDirection = "death"  // short crosses below long
)

// BandSide selects which Bollinger band must be touched.
type BandSide string

const (
	BandUpper BandSide = "upper"
	BandLower BandSide = "lower"
)

// RSISide selects the threshold comparison for an RSI condition.
type RSISide string

const (
	RSIOversold   RSISide = "oversold"   // RSI strictly below threshold
	RSIOverbought RSISide = "overbought" // RSI strictly above threshold
)

// BreakoutDirection selects an upward or downward breakout.
type BreakoutDirection string

const (
	BreakoutUp   BreakoutDirection = "up"
	BreakoutDown BreakoutDirection = "down"
)

// Condition is a stateless predicate descriptor, immutable once loaded from
// strategy configuration. Exactly one parameter struct matching Type is set;
// dispatch is a switch on Type, never reflection.
type Condition struct {
	Type ConditionType `json:"type"`

	MACross        *MACrossParams        `json:"ma_cross,omitempty"`
	RSIThreshold   *RSIThresholdParams   `json:"rsi_threshold,omitempty"`
	VolumeSurge    *VolumeSurgeParams    `json:"volume_surge,omitempty"`
	Breakout       *BreakoutParams       `json:"breakout,omitempty"`
	BollingerTouch *BollingerTouchParams `json:"bollinger_touch,omitempty"`
	MACDCross      *MACDCrossParams      `json:"macd_cross,omitempty"`
	PriceChange    *PriceChangeParams    `json:"price_change,omitempty"`
}

// MACrossParams compares short/long SMA at t and t-1.
type MACrossParams struct {
	ShortPeriod int            `json:"short_period"`
	LongPeriod  int            `json:"long_period"`
	Direction   CrossDirection `json:"direction"`
}

// RSIThresholdParams fires when RSI crosses outside a threshold.
type RSIThresholdParams struct {
	Period    int     `json:"period"`
	Threshold float64 `json:"threshold"`
	Side      RSISide `json:"side"`
}

// VolumeSurgeParams fires when the current bar volume exceeds the N-bar
// average by Multiplier.
type VolumeSurgeParams struct {
	Lookback   int     `json:"lookback"`
	Multiplier float64 `json:"multiplier"`
}

// BreakoutParams requires the last Confirm bars to all sit beyond the
// extreme of the preceding Lookback window, ruling out a single spike.
type BreakoutParams struct {
	Lookback  int               `json:"lookback"`
	Confirm   int               `json:"confirm"`
	Direction BreakoutDirection `json:"direction"`
}

// BollingerTouchParams fires when price reaches or crosses a band.
type BollingerTouchParams struct {
	Period int      `json:"period"`
	StdDev float64  `json:"std_dev"`
	Side   BandSide `json:"side"`
}

// MACDCrossParams fires when the MACD line crosses its signal line.
type MACDCrossParams struct {
	FastPeriod   int            `json:"fast_period"`
	SlowPeriod   int            `json:"slow_period"`
	SignalPeriod int            `json:"signal_period"`
	Direction    CrossDirection `json:"direction"`
}

// PriceChangeParams fires when the percentage change over Bars is at or
// below Threshold (typically negative, a drawdown trigger).
type PriceChangeParams struct {
	Bars      int     `json:"bars"`
	Threshold float64 `json:"threshold"`
}

// Validate checks that the condition type is known and its matching
// parameter struct is present and internally consistent.
func (c Condition) Validate() error {
	if !c.Type.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "unknown condition type %q", c.Type)
	}
	switch c.Type {
	case CondMACross:
		if c.MACross == nil {
			return errors.Wrap(errors.ErrInvalidInput, "ma_cross params missing")
		}
		if c.MACross.ShortPeriod <= 0 || c.MACross.LongPeriod <= c.MACross.ShortPeriod {
			return errors.Wrap(errors.ErrInvalidInput, "ma_cross periods must satisfy 0 < short < long")
		}
	case CondRSIThreshold:
		if c.RSIThreshold == nil {
			return errors.Wrap(errors.ErrInvalidInput, "rsi_threshold params missing")
		}
		if c.RSIThreshold.Period <= 0 || c.RSIThreshold.Threshold < 0 || c.RSIThreshold.Threshold > 100 {
			return errors.Wrap(errors.ErrInvalidInput, "rsi_threshold needs period > 0 and threshold in [0, 100]")
		}
	case CondVolumeSurge:
		if c.VolumeSurge == nil {
			return errors.Wrap(errors.ErrInvalidInput, "volume_surge params missing")
		}
		if c.VolumeSurge.Lookback <= 0 || c.VolumeSurge.Multiplier <= 0 {
			return errors.Wrap(errors.ErrInvalidInput, "volume_surge needs lookback > 0 and multiplier > 0")
		}
	case CondBreakout:
		if c.Breakout == nil {
			return errors.Wrap(errors.ErrInvalidInput, "breakout params missing")
		}
		if c.Breakout.Lookback <= 0 || c.Breakout.Confirm <= 0 {
			return errors.Wrap(errors.ErrInvalidInput, "breakout needs lookback > 0 and confirm > 0")
		}
	case CondBollingerTouch:
		if c.BollingerTouch == nil {
			return errors.Wrap(errors.ErrInvalidInput, "bollinger_touch params missing")
		}
		if c.BollingerTouch.Period <= 0 || c.BollingerTouch.StdDev <= 0 {
			return errors.Wrap(errors.ErrInvalidInput, "bollinger_touch needs period > 0 and std_dev > 0")
		}
	case CondMACDCross:
		if c.MACDCross == nil {
			return errors.Wrap(errors.ErrInvalidInput, "macd_cross params missing")
		}
		if c.MACDCross.FastPeriod <= 0 || c.MACDCross.SlowPeriod <= c.MACDCross.FastPeriod || c.MACDCross.SignalPeriod <= 0 {
			return errors.Wrap(errors.ErrInvalidInput, "macd_cross periods must satisfy 0 < fast < slow and signal > 0")
		}
	case CondPriceChange:
		if c.PriceChange == nil {
			return errors.Wrap(errors.ErrInvalidInput, "price_change params missing")
		}
		if c.PriceChange.Bars <= 0 {
			return errors.Wrap(errors.ErrInvalidInput, "price_change needs bars > 0")
		}
	}
	return nil
}

// MinBars returns the minimum buffer length required to evaluate the
// condition. Conditions over shorter buffers evaluate false, never error.
func (c Condition) MinBars() int {
	switch c.Type {
	case CondMACross:
		if c.MACross == nil {
			return 0
		}
		// one extra bar for the t-1 comparison
		return c.MACross.LongPeriod + 1
	case CondRSIThreshold:
		if c.RSIThreshold == nil {
			return 0
		}
		return c.RSIThreshold.Period + 1
	case CondVolumeSurge:
		if c.VolumeSurge == nil {
			return 0
		}
		return c.VolumeSurge.Lookback + 1
	case CondBreakout:
		if c.Breakout == nil {
			return 0
		}
		return c.Breakout.Lookback + c.Breakout.Confirm
	case CondBollingerTouch:
		if c.BollingerTouch == nil {
			return 0
		}
		return c.BollingerTouch.Period
	case CondMACDCross:
		if c.MACDCross == nil {
			return 0
		}
		return c.MACDCross.SlowPeriod + c.MACDCross.SignalPeriod + 1
	case CondPriceChange:
		if c.PriceChange == nil {
			return 0
		}
		return c.PriceChange.Bars + 1
	}
	return 0
}
