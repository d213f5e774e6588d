package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majiajue/longbridge-sub000/internal/domain/risk"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

type stubCalendar bool

func (c stubCalendar) IsOpen(t time.Time) bool { return bool(c) }

func newTestService(t *testing.T, settings risk.Settings) *Service {
	t.Helper()
	svc := NewService(nil, nil, stubCalendar(true))
	require.NoError(t, svc.UpdateSettings(context.Background(), settings))
	return svc
}

func TestAllowEntry_DefaultsPermit(t *testing.T) {
	svc := NewService(nil, nil, nil)
	assert.NoError(t, svc.AllowEntry(context.Background(), "700.HK"))
}

func TestAllowEntry_TradingDisabled(t *testing.T) {
	svc := newTestService(t, risk.Settings{Enabled: false})
	err := svc.AllowEntry(context.Background(), "700.HK")
	assert.True(t, errors.Is(err, errors.ErrTradingDisabled))
}

func TestAllowEntry_EmergencyStopWinsOverOtherGates(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:         true,
		EmergencyStop:   true,
		MaxDailyTrades:  1,
		ExcludedSymbols: []string{"700.HK"},
	})
	svc.RecordEntry(context.Background())

	// Several gates are breached at once; the most severe one is named.
	err := svc.AllowEntry(context.Background(), "700.HK")
	assert.True(t, errors.Is(err, errors.ErrEmergencyStop))
}

func TestAllowEntry_ExcludedSymbol(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:         true,
		ExcludedSymbols: []string{"700.hk"},
	})

	err := svc.AllowEntry(context.Background(), "700.HK")
	assert.True(t, errors.Is(err, errors.ErrSymbolExcluded),
		"exclusion must match case-insensitively")
	assert.NoError(t, svc.AllowEntry(context.Background(), "AAPL.US"))
}

func TestAllowEntry_MarketHours(t *testing.T) {
	closed := NewService(nil, nil, stubCalendar(false))
	require.NoError(t, closed.UpdateSettings(context.Background(), risk.Settings{
		Enabled:         true,
		MarketHoursOnly: true,
	}))
	err := closed.AllowEntry(context.Background(), "AAPL.US")
	assert.True(t, errors.Is(err, errors.ErrMarketClosed))

	open := newTestService(t, risk.Settings{Enabled: true, MarketHoursOnly: true})
	assert.NoError(t, open.AllowEntry(context.Background(), "AAPL.US"))
}

func TestAllowEntry_DailyTradeCap(t *testing.T) {
	svc := newTestService(t, risk.Settings{Enabled: true, MaxDailyTrades: 2})
	ctx := context.Background()

	require.NoError(t, svc.AllowEntry(ctx, "700.HK"))
	svc.RecordEntry(ctx)
	require.NoError(t, svc.AllowEntry(ctx, "700.HK"))
	svc.RecordEntry(ctx)

	err := svc.AllowEntry(ctx, "700.HK")
	assert.True(t, errors.Is(err, errors.ErrDailyTradeLimit))
	assert.True(t, errors.Is(svc.DailyGatesOpen(ctx), errors.ErrDailyTradeLimit))
}

func TestAllowEntry_DailyLossCap(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:      true,
		MaxDailyLoss: decimal.NewFromInt(100),
	})
	ctx := context.Background()

	svc.RecordExit(ctx, decimal.NewFromInt(-60))
	require.NoError(t, svc.AllowEntry(ctx, "700.HK"), "loss below the cap")

	svc.RecordExit(ctx, decimal.NewFromInt(-50))
	err := svc.AllowEntry(ctx, "700.HK")
	assert.True(t, errors.Is(err, errors.ErrDailyLossLimit))
	assert.True(t, errors.Is(svc.DailyGatesOpen(ctx), errors.ErrDailyLossLimit))
}

func TestAllowEntry_ProfitNeverTripsLossCap(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:      true,
		MaxDailyLoss: decimal.NewFromInt(100),
	})
	svc.RecordExit(context.Background(), decimal.NewFromInt(500))
	assert.NoError(t, svc.AllowEntry(context.Background(), "700.HK"))
}

func TestDaily_RollsOverAtDayBoundary(t *testing.T) {
	svc := newTestService(t, risk.Settings{Enabled: true, MaxDailyTrades: 1})
	ctx := context.Background()
	svc.RecordEntry(ctx)
	require.Error(t, svc.AllowEntry(ctx, "700.HK"))

	// Backdate the counters: the next read resets them.
	svc.mu.Lock()
	svc.daily.Date = time.Now().AddDate(0, 0, -1)
	svc.mu.Unlock()

	daily := svc.Daily()
	assert.Zero(t, daily.TradeCount)
	assert.True(t, daily.RealizedPnL.IsZero())
	assert.NoError(t, svc.AllowEntry(ctx, "700.HK"))
}

func TestExposureAndWeightCaps(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:           true,
		MaxTotalExposure:  0.8,
		MaxPositionWeight: 0.25,
	})

	portfolio := decimal.NewFromInt(10000)
	assert.True(t, svc.ExposureOK(decimal.NewFromInt(7000), portfolio))
	assert.False(t, svc.ExposureOK(decimal.NewFromInt(9000), portfolio))

	assert.True(t, svc.PositionWeightOK(decimal.NewFromInt(2000), portfolio))
	assert.False(t, svc.PositionWeightOK(decimal.NewFromInt(3000), portfolio))

	// Unset caps and unknown portfolio value always pass.
	unbounded := newTestService(t, risk.Settings{Enabled: true})
	assert.True(t, unbounded.ExposureOK(decimal.NewFromInt(9000), portfolio))
	assert.True(t, svc.ExposureOK(decimal.NewFromInt(9000), decimal.Zero))
}

func TestVolatilityPauseTriggered(t *testing.T) {
	svc := newTestService(t, risk.Settings{
		Enabled:            true,
		VolatilityPause:    true,
		VolatilityPnLRatio: 0.10,
	})

	assert.False(t, svc.VolatilityPauseTriggered(0.05))
	assert.True(t, svc.VolatilityPauseTriggered(0.12))
	// Both directions count.
	assert.True(t, svc.VolatilityPauseTriggered(-0.12))

	off := newTestService(t, risk.Settings{Enabled: true})
	assert.False(t, off.VolatilityPauseTriggered(0.5))
}

func TestUpdateSettings_HotSwap(t *testing.T) {
	svc := NewService(nil, nil, nil)
	require.NoError(t, svc.UpdateSettings(context.Background(), risk.Settings{
		Enabled:        true,
		MaxDailyTrades: 7,
	}))

	got := svc.Settings()
	assert.Equal(t, 7, got.MaxDailyTrades)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUSMarketCalendar(t *testing.T) {
	cal := USMarketCalendar{}
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Wednesday mid-session.
	assert.True(t, cal.IsOpen(time.Date(2025, 3, 5, 10, 0, 0, 0, loc)))
	// Before the open and after the close.
	assert.False(t, cal.IsOpen(time.Date(2025, 3, 5, 9, 15, 0, 0, loc)))
	assert.False(t, cal.IsOpen(time.Date(2025, 3, 5, 16, 0, 0, 0, loc)))
	// Weekend.
	assert.False(t, cal.IsOpen(time.Date(2025, 3, 8, 11, 0, 0, 0, loc)))
}
