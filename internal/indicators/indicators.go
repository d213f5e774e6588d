// Package indicators wraps the ta-lib bindings with length guards so
// callers can evaluate conditions without worrying about warm-up windows.
// All series are oldest-first, matching SymbolBuffer ordering.
package indicators

import (
	"github.com/markcheno/go-talib"
)

// SMA returns the simple moving average series, or nil when the input is
// shorter than period.
func SMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return talib.Sma(closes, period)
}

// EMA returns the exponential moving average series, or nil when the input
// is shorter than period.
func EMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

// RSI returns the Wilder relative strength index series, or nil when the
// input has no completed period.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}
	return talib.Rsi(closes, period)
}

// MACD returns the MACD line and its signal line, or nils when the input
// cannot cover the slow and signal warm-up.
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine []float64) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil, nil
	}
	if len(closes) < slow+signal {
		return nil, nil
	}
	macd, signalLine, _ = talib.Macd(closes, fast, slow, signal)
	return macd, signalLine
}

// Bollinger returns the upper, middle and lower bands computed over period
// with stdDev standard deviations, or nils on insufficient input.
func Bollinger(closes []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	if period <= 0 || len(closes) < period {
		return nil, nil, nil
	}
	upper, middle, lower = talib.BBands(closes, period, stdDev, stdDev, talib.SMA)
	return upper, middle, lower
}

// ADX returns the average directional index series, or nil on insufficient
// input. ADX needs roughly two periods of data to stabilize.
func ADX(high, low, close []float64, period int) []float64 {
	if period <= 0 || len(close) < 2*period || len(high) != len(close) || len(low) != len(close) {
		return nil
	}
	return talib.Adx(high, low, close, period)
}

// Last returns the final value of a series and true, or 0 and false when
// the series is empty.
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// LastTwo returns the values at t-1 and t and true, or zeros and false when
// the series holds fewer than two values.
func LastTwo(series []float64) (prev, cur float64, ok bool) {
	if len(series) < 2 {
		return 0, 0, false
	}
	return series[len(series)-2], series[len(series)-1], true
}
