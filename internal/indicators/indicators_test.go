package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	series := SMA(closes, 3)
	require.Len(t, series, len(closes))
	assert.InDelta(t, 3.0, series[len(series)-2], 1e-9) // (2+3+4)/3
	assert.InDelta(t, 4.0, series[len(series)-1], 1e-9) // (3+4+5)/3
}

func TestSMA_InsufficientInput(t *testing.T) {
	assert.Nil(t, SMA([]float64{1, 2}, 3))
	assert.Nil(t, SMA(nil, 3))
	assert.Nil(t, SMA([]float64{1, 2, 3}, 0))
}

func TestEMA_InsufficientInput(t *testing.T) {
	assert.Nil(t, EMA([]float64{1, 2}, 5))
}

func TestRSI_FlatSeriesGuards(t *testing.T) {
	// Equal length and period is still a warm-up shortfall for Wilder RSI.
	closes := make([]float64, 14)
	assert.Nil(t, RSI(closes, 14))
}

func TestMACD_Guards(t *testing.T) {
	closes := make([]float64, 50)
	macd, signal := MACD(closes, 26, 12, 9) // fast >= slow
	assert.Nil(t, macd)
	assert.Nil(t, signal)

	macd, signal = MACD(closes[:10], 12, 26, 9) // too short
	assert.Nil(t, macd)
	assert.Nil(t, signal)
}

func TestBollinger_FlatSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	upper, middle, lower := Bollinger(closes, 20, 2)
	require.NotNil(t, upper)
	require.NotNil(t, middle)
	require.NotNil(t, lower)

	// Zero variance collapses all bands onto the mean.
	last := len(closes) - 1
	assert.InDelta(t, 100, upper[last], 1e-9)
	assert.InDelta(t, 100, middle[last], 1e-9)
	assert.InDelta(t, 100, lower[last], 1e-9)
}

func TestADX_Guards(t *testing.T) {
	series := make([]float64, 20)
	assert.Nil(t, ADX(series, series, series, 14), "needs two full periods")
	assert.Nil(t, ADX(series[:10], series, series, 5), "mismatched lengths rejected")

	long := make([]float64, 40)
	assert.NotNil(t, ADX(long, long, long, 14))
}

func TestLast(t *testing.T) {
	v, ok := Last([]float64{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = Last(nil)
	assert.False(t, ok)
}

func TestLastTwo(t *testing.T) {
	prev, cur, ok := LastTwo([]float64{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 2.0, prev)
	assert.Equal(t, 3.0, cur)

	_, _, ok = LastTwo([]float64{1})
	assert.False(t, ok)
}
