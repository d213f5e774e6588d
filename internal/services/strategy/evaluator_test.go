package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
)

func bufferFromCloses(closes ...float64) *marketdata.SymbolBuffer {
	buf := marketdata.NewSymbolBuffer(len(closes) + 10)
	t0 := time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)
	for i, c := range closes {
		buf.Append(marketdata.Bar{
			Symbol:    "700.HK",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	return buf
}

func bufferWithVolumes(closes, volumes []float64) *marketdata.SymbolBuffer {
	buf := marketdata.NewSymbolBuffer(len(closes) + 10)
	t0 := time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)
	for i, c := range closes {
		buf.Append(marketdata.Bar{
			Symbol:    "700.HK",
			Close:     c,
			Volume:    volumes[i],
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	return buf
}

func flatSeries(n int, value float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestEvaluateAll_EmptyListNeverFires(t *testing.T) {
	e := NewEvaluator()
	buf := bufferFromCloses(10, 11, 12, 13, 14)
	assert.False(t, e.EvaluateAll(nil, buf))
	assert.False(t, e.EvaluateAll([]strategy.Condition{}, buf))
}

func TestEvaluateAll_ANDSemantics(t *testing.T) {
	e := NewEvaluator()
	buf := bufferFromCloses(10, 10, 10, 10, 20)

	golden := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossGolden,
	}}
	death := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossDeath,
	}}

	assert.True(t, e.EvaluateAll([]strategy.Condition{golden}, buf))
	assert.False(t, e.EvaluateAll([]strategy.Condition{golden, death}, buf))
}

func TestEvaluate_InsufficientHistory(t *testing.T) {
	e := NewEvaluator()
	cond := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 5, LongPeriod: 20, Direction: strategy.CrossGolden,
	}}

	assert.False(t, e.Evaluate(cond, bufferFromCloses(10, 11, 12)))
	assert.False(t, e.Evaluate(cond, nil))
}

func TestEvaluate_MACross(t *testing.T) {
	e := NewEvaluator()

	golden := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossGolden,
	}}
	death := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossDeath,
	}}

	// Flat then a jump: the short average crosses above the long one.
	up := bufferFromCloses(10, 10, 10, 10, 20)
	assert.True(t, e.Evaluate(golden, up))
	assert.False(t, e.Evaluate(death, up))

	// Flat then a drop: mirror case.
	down := bufferFromCloses(10, 10, 10, 10, 4)
	assert.True(t, e.Evaluate(death, down))
	assert.False(t, e.Evaluate(golden, down))

	// A steady climb keeps the short average above the long one at t-1,
	// so there is no fresh cross to report.
	steady := bufferFromCloses(10, 11, 12, 13, 14)
	assert.False(t, e.Evaluate(golden, steady))
}

func TestEvaluate_CrossFiresAlternate(t *testing.T) {
	e := NewEvaluator()

	golden := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossGolden,
	}}
	death := strategy.Condition{Type: strategy.CondMACross, MACross: &strategy.MACrossParams{
		ShortPeriod: 2, LongPeriod: 3, Direction: strategy.CrossDeath,
	}}

	// An oscillating series forces repeated crossings in both directions.
	var closes []float64
	for cycle := 0; cycle < 4; cycle++ {
		closes = append(closes, 10, 10, 10, 20, 20, 20)
	}

	// Feed the bars one at a time, the way live ticks arrive: a fresh
	// golden fire must never repeat without an intervening death cross,
	// and vice versa.
	buf := marketdata.NewSymbolBuffer(len(closes) + 1)
	t0 := time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)
	var fires []string
	for i, c := range closes {
		buf.Append(marketdata.Bar{
			Symbol:    "700.HK",
			Close:     c,
			Volume:    1000,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
		if e.Evaluate(golden, buf) {
			fires = append(fires, "golden")
		}
		if e.Evaluate(death, buf) {
			fires = append(fires, "death")
		}
	}

	assert.GreaterOrEqual(t, len(fires), 4, "expected repeated crossings, got %v", fires)
	for i := 1; i < len(fires); i++ {
		assert.NotEqual(t, fires[i-1], fires[i],
			"fires %d and %d repeat the same direction: %v", i-1, i, fires)
	}
}

func TestEvaluate_RSIThreshold(t *testing.T) {
	e := NewEvaluator()

	falling := make([]float64, 0, 30)
	rising := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		falling = append(falling, 100-float64(i))
		rising = append(rising, 100+float64(i))
	}

	oversold := strategy.Condition{Type: strategy.CondRSIThreshold, RSIThreshold: &strategy.RSIThresholdParams{
		Period: 14, Threshold: 30, Side: strategy.RSIOversold,
	}}
	overbought := strategy.Condition{Type: strategy.CondRSIThreshold, RSIThreshold: &strategy.RSIThresholdParams{
		Period: 14, Threshold: 70, Side: strategy.RSIOverbought,
	}}

	assert.True(t, e.Evaluate(oversold, bufferFromCloses(falling...)))
	assert.False(t, e.Evaluate(overbought, bufferFromCloses(falling...)))

	assert.True(t, e.Evaluate(overbought, bufferFromCloses(rising...)))
	assert.False(t, e.Evaluate(oversold, bufferFromCloses(rising...)))
}

func TestEvaluate_RSIModerateTrendStaysMidRange(t *testing.T) {
	e := NewEvaluator()

	// A gentle zigzag uptrend: +1.2 then -1.0 alternating. Gains barely
	// outweigh losses, pinning RSI between the classic 40/70 bands.
	closes := []float64{100}
	for i := 0; i < 29; i++ {
		prev := closes[len(closes)-1]
		if i%2 == 0 {
			closes = append(closes, prev+1.2)
		} else {
			closes = append(closes, prev-1.0)
		}
	}
	buf := bufferFromCloses(closes...)

	above40 := strategy.Condition{Type: strategy.CondRSIThreshold, RSIThreshold: &strategy.RSIThresholdParams{
		Period: 14, Threshold: 40, Side: strategy.RSIOverbought,
	}}
	below70 := strategy.Condition{Type: strategy.CondRSIThreshold, RSIThreshold: &strategy.RSIThresholdParams{
		Period: 14, Threshold: 70, Side: strategy.RSIOversold,
	}}
	assert.True(t, e.Evaluate(above40, buf), "RSI should sit above 40")
	assert.True(t, e.Evaluate(below70, buf), "RSI should sit below 70")
}

func TestEvaluate_VolumeSurge(t *testing.T) {
	e := NewEvaluator()
	closes := flatSeries(5, 100)

	cond := strategy.Condition{Type: strategy.CondVolumeSurge, VolumeSurge: &strategy.VolumeSurgeParams{
		Lookback: 3, Multiplier: 2,
	}}

	surge := bufferWithVolumes(closes, []float64{100, 100, 100, 100, 500})
	assert.True(t, e.Evaluate(cond, surge))

	quiet := bufferWithVolumes(closes, []float64{100, 100, 100, 100, 150})
	assert.False(t, e.Evaluate(cond, quiet))
}

func TestEvaluate_Breakout(t *testing.T) {
	e := NewEvaluator()

	up := strategy.Condition{Type: strategy.CondBreakout, Breakout: &strategy.BreakoutParams{
		Lookback: 4, Confirm: 2, Direction: strategy.BreakoutUp,
	}}
	down := strategy.Condition{Type: strategy.CondBreakout, Breakout: &strategy.BreakoutParams{
		Lookback: 4, Confirm: 2, Direction: strategy.BreakoutDown,
	}}

	// Both confirm bars clear the prior 4-bar high of 11.
	confirmed := bufferFromCloses(10, 11, 10.5, 10, 11.5, 12)
	assert.True(t, e.Evaluate(up, confirmed))
	assert.False(t, e.Evaluate(down, confirmed))

	// A single spike that falls back is not a breakout.
	spike := bufferFromCloses(10, 11, 10.5, 10, 11.5, 10.9)
	assert.False(t, e.Evaluate(up, spike))

	// Downward: both confirm bars under the prior 4-bar low of 10.
	breakdown := bufferFromCloses(10, 11, 10.5, 10, 9.5, 9)
	assert.True(t, e.Evaluate(down, breakdown))
}

func TestEvaluate_BollingerTouch(t *testing.T) {
	e := NewEvaluator()

	upper := strategy.Condition{Type: strategy.CondBollingerTouch, BollingerTouch: &strategy.BollingerTouchParams{
		Period: 5, StdDev: 1.5, Side: strategy.BandUpper,
	}}
	lower := strategy.Condition{Type: strategy.CondBollingerTouch, BollingerTouch: &strategy.BollingerTouchParams{
		Period: 5, StdDev: 1.5, Side: strategy.BandLower,
	}}

	spike := bufferFromCloses(append(flatSeries(10, 100), 130)...)
	assert.True(t, e.Evaluate(upper, spike))
	assert.False(t, e.Evaluate(lower, spike))

	drop := bufferFromCloses(append(flatSeries(10, 100), 70)...)
	assert.True(t, e.Evaluate(lower, drop))
	assert.False(t, e.Evaluate(upper, drop))
}

func TestEvaluate_MACDCross(t *testing.T) {
	e := NewEvaluator()

	golden := strategy.Condition{Type: strategy.CondMACDCross, MACDCross: &strategy.MACDCrossParams{
		FastPeriod: 2, SlowPeriod: 3, SignalPeriod: 2, Direction: strategy.CrossGolden,
	}}
	death := strategy.Condition{Type: strategy.CondMACDCross, MACDCross: &strategy.MACDCrossParams{
		FastPeriod: 2, SlowPeriod: 3, SignalPeriod: 2, Direction: strategy.CrossDeath,
	}}

	// A long flat run keeps MACD and signal pinned at zero; the first
	// up-bar lifts the MACD line above its signal.
	up := bufferFromCloses(append(flatSeries(20, 100), 110)...)
	assert.True(t, e.Evaluate(golden, up))
	assert.False(t, e.Evaluate(death, up))

	down := bufferFromCloses(append(flatSeries(20, 100), 90)...)
	assert.True(t, e.Evaluate(death, down))
	assert.False(t, e.Evaluate(golden, down))
}

func TestEvaluate_PriceChange(t *testing.T) {
	e := NewEvaluator()

	drawdown := strategy.Condition{Type: strategy.CondPriceChange, PriceChange: &strategy.PriceChangeParams{
		Bars: 3, Threshold: -5,
	}}

	// -6% over three bars breaches the -5% trigger.
	assert.True(t, e.Evaluate(drawdown, bufferFromCloses(100, 99, 97, 94)))

	// -3% does not.
	assert.False(t, e.Evaluate(drawdown, bufferFromCloses(100, 99, 98, 97)))
}

func TestEvaluate_NilParamsFailClosed(t *testing.T) {
	e := NewEvaluator()
	buf := bufferFromCloses(flatSeries(50, 100)...)

	for _, ct := range []strategy.ConditionType{
		strategy.CondMACross, strategy.CondRSIThreshold, strategy.CondVolumeSurge,
		strategy.CondBreakout, strategy.CondBollingerTouch, strategy.CondMACDCross,
		strategy.CondPriceChange,
	} {
		assert.False(t, e.Evaluate(strategy.Condition{Type: ct}, buf), "%s", ct)
	}
	assert.False(t, e.Evaluate(strategy.Condition{Type: "unknown"}, buf))
}
