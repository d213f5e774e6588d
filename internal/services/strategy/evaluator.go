// Package strategy evaluates condition sets against symbol buffers and
// owns the position and strategy-status state machines.
package strategy

import (
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/internal/indicators"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Evaluator evaluates condition predicates against a buffer snapshot.
// Stateless; safe for concurrent use.
type Evaluator struct {
	log *logger.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{log: logger.Get().With("component", "condition_evaluator")}
}

// EvaluateAll reports whether every condition in the list holds (logical
// AND). An empty list evaluates false so that a strategy with no
// conditions can never fire.
func (e *Evaluator) EvaluateAll(conditions []strategy.Condition, buf *marketdata.SymbolBuffer) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !e.Evaluate(c, buf) {
			return false
		}
	}
	return true
}

// Evaluate reports whether one condition holds. Insufficient history and
// evaluation failures both count as "not satisfied": a broken indicator
// must never authorize a trade.
func (e *Evaluator) Evaluate(c strategy.Condition, buf *marketdata.SymbolBuffer) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Condition evaluation panicked, treating as not satisfied",
				"type", c.Type, "panic", r)
			fired = false
		}
	}()

	if buf == nil || buf.Len() < c.MinBars() {
		return false
	}

	switch c.Type {
	case strategy.CondMACross:
		return e.maCross(c.MACross, buf)
	case strategy.CondRSIThreshold:
		return e.rsiThreshold(c.RSIThreshold, buf)
	case strategy.CondVolumeSurge:
		return e.volumeSurge(c.VolumeSurge, buf)
	case strategy.CondBreakout:
		return e.breakout(c.Breakout, buf)
	case strategy.CondBollingerTouch:
		return e.bollingerTouch(c.BollingerTouch, buf)
	case strategy.CondMACDCross:
		return e.macdCross(c.MACDCross, buf)
	case strategy.CondPriceChange:
		return e.priceChange(c.PriceChange, buf)
	default:
		e.log.Warnw("Unknown condition type", "type", c.Type)
		return false
	}
}

func (e *Evaluator) maCross(p *strategy.MACrossParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.ShortPeriod <= 0 || p.LongPeriod <= p.ShortPeriod {
		return false
	}
	closes := buf.Closes()

	short := indicators.SMA(closes, p.ShortPeriod)
	long := indicators.SMA(closes, p.LongPeriod)
	sPrev, sCur, ok := indicators.LastTwo(short)
	if !ok {
		return false
	}
	lPrev, lCur, ok := indicators.LastTwo(long)
	if !ok {
		return false
	}

	switch p.Direction {
	case strategy.CrossGolden:
		return sPrev <= lPrev && sCur > lCur
	case strategy.CrossDeath:
		return sPrev >= lPrev && sCur < lCur
	}
	return false
}

func (e *Evaluator) rsiThreshold(p *strategy.RSIThresholdParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.Period <= 0 {
		return false
	}
	rsi, ok := indicators.Last(indicators.RSI(buf.Closes(), p.Period))
	if !ok {
		return false
	}
	switch p.Side {
	case strategy.RSIOversold:
		return rsi < p.Threshold
	case strategy.RSIOverbought:
		return rsi > p.Threshold
	}
	return false
}

func (e *Evaluator) volumeSurge(p *strategy.VolumeSurgeParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.Lookback <= 0 || p.Multiplier <= 0 {
		return false
	}
	volumes := buf.Volumes()
	if len(volumes) < p.Lookback+1 {
		return false
	}

	current := volumes[len(volumes)-1]
	window := volumes[len(volumes)-1-p.Lookback : len(volumes)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(p.Lookback)
	if avg <= 0 {
		return false
	}
	return current > avg*p.Multiplier
}

func (e *Evaluator) breakout(p *strategy.BreakoutParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.Lookback <= 0 || p.Confirm <= 0 {
		return false
	}
	closes := buf.Closes()
	if len(closes) < p.Lookback+p.Confirm {
		return false
	}

	confirm := closes[len(closes)-p.Confirm:]
	window := closes[len(closes)-p.Confirm-p.Lookback : len(closes)-p.Confirm]

	switch p.Direction {
	case strategy.BreakoutUp:
		max := window[0]
		for _, v := range window[1:] {
			if v > max {
				max = v
			}
		}
		for _, v := range confirm {
			if v <= max {
				return false
			}
		}
		return true

	case strategy.BreakoutDown:
		min := window[0]
		for _, v := range window[1:] {
			if v < min {
				min = v
			}
		}
		for _, v := range confirm {
			if v >= min {
				return false
			}
		}
		return true
	}
	return false
}

func (e *Evaluator) bollingerTouch(p *strategy.BollingerTouchParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.Period <= 0 || p.StdDev <= 0 {
		return false
	}
	upper, _, lower := indicators.Bollinger(buf.Closes(), p.Period, p.StdDev)
	price, ok := indicators.Last(buf.Closes())
	if !ok {
		return false
	}

	switch p.Side {
	case strategy.BandUpper:
		band, ok := indicators.Last(upper)
		return ok && price >= band
	case strategy.BandLower:
		band, ok := indicators.Last(lower)
		return ok && price <= band
	}
	return false
}

func (e *Evaluator) macdCross(p *strategy.MACDCrossParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil {
		return false
	}
	macd, signal := indicators.MACD(buf.Closes(), p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	mPrev, mCur, ok := indicators.LastTwo(macd)
	if !ok {
		return false
	}
	sPrev, sCur, ok := indicators.LastTwo(signal)
	if !ok {
		return false
	}

	switch p.Direction {
	case strategy.CrossGolden:
		return mPrev <= sPrev && mCur > sCur
	case strategy.CrossDeath:
		return mPrev >= sPrev && mCur < sCur
	}
	return false
}

func (e *Evaluator) priceChange(p *strategy.PriceChangeParams, buf *marketdata.SymbolBuffer) bool {
	if p == nil || p.Bars <= 0 {
		return false
	}
	closes := buf.Closes()
	if len(closes) < p.Bars+1 {
		return false
	}
	base := closes[len(closes)-1-p.Bars]
	if base == 0 {
		return false
	}
	change := (closes[len(closes)-1] - base) / base * 100
	return change <= p.Threshold
}
