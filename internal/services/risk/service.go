// Package risk enforces the process-wide trading gates: daily trade and
// loss caps, exposure limits, emergency stop, and symbol exclusions.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/domain/risk"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Store persists the risk settings.
type Store interface {
	GetRiskSettings(ctx context.Context) (*risk.Settings, error)
	SaveRiskSettings(ctx context.Context, s *risk.Settings) error
}

// DailyCache persists per-day counters across restarts. Optional.
type DailyCache interface {
	LoadDaily(ctx context.Context, date time.Time) (int, decimal.Decimal, error)
	SaveDaily(ctx context.Context, date time.Time, trades int, pnl decimal.Decimal) error
}

// MarketCalendar reports whether the exchange is open. The default
// implementation covers regular US cash hours.
type MarketCalendar interface {
	IsOpen(t time.Time) bool
}

// Service holds the hot-reloadable settings singleton and the daily
// state.
type Service struct {
	store    Store
	cache    DailyCache
	calendar MarketCalendar

	mu       sync.RWMutex
	settings risk.Settings
	daily    risk.DailyState

	log *logger.Logger
}

// NewService creates a risk service with defaults until Reload is called.
func NewService(store Store, cache DailyCache, calendar MarketCalendar) *Service {
	if calendar == nil {
		calendar = USMarketCalendar{}
	}
	return &Service{
		store:    store,
		cache:    cache,
		calendar: calendar,
		settings: risk.Settings{
			Enabled:        true,
			MaxDailyTrades: 20,
		},
		daily: risk.DailyState{Date: time.Now()},
		log:   logger.Get().With("component", "risk_service"),
	}
}

// Reload fetches settings from the store and restores today's counters
// from the cache.
func (s *Service) Reload(ctx context.Context) error {
	if s.store != nil {
		settings, err := s.store.GetRiskSettings(ctx)
		if err != nil {
			return errors.Wrap(err, "load risk settings")
		}
		s.mu.Lock()
		s.settings = *settings
		s.mu.Unlock()
	}

	if s.cache != nil {
		now := time.Now()
		trades, pnl, err := s.cache.LoadDaily(ctx, now)
		if err != nil {
			s.log.Warnw("Daily counter restore failed, starting fresh", "error", err)
		} else {
			s.mu.Lock()
			s.daily = risk.DailyState{Date: now, TradeCount: trades, RealizedPnL: pnl}
			s.mu.Unlock()
		}
	}

	s.log.Infow("Risk settings loaded", "settings", s.Settings())
	return nil
}

// Settings returns a copy of the current settings.
func (s *Service) Settings() risk.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings persists and hot-swaps the settings.
func (s *Service) UpdateSettings(ctx context.Context, settings risk.Settings) error {
	settings.UpdatedAt = time.Now()
	if s.store != nil {
		if err := s.store.SaveRiskSettings(ctx, &settings); err != nil {
			return errors.Wrap(err, "save risk settings")
		}
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.log.Infow("Risk settings updated")
	return nil
}

// Daily returns a copy of today's counters.
func (s *Service) Daily() risk.DailyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(time.Now())
	return s.daily
}

// AllowEntry returns nil when a new entry is permitted right now. The
// returned sentinel names the most specific blocked gate.
func (s *Service) AllowEntry(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.rollDayLocked(now)

	if !s.settings.Enabled {
		return errors.ErrTradingDisabled
	}
	if s.settings.EmergencyStop {
		return errors.ErrEmergencyStop
	}
	if s.settings.Excludes(symbol) {
		return errors.Wrapf(errors.ErrSymbolExcluded, "%s", symbol)
	}
	if s.settings.MarketHoursOnly && !s.calendar.IsOpen(now) {
		return errors.ErrMarketClosed
	}
	if s.settings.MaxDailyTrades > 0 && s.daily.TradeCount >= s.settings.MaxDailyTrades {
		return errors.Wrapf(errors.ErrDailyTradeLimit, "%d trades today", s.daily.TradeCount)
	}
	if s.lossCapBreachedLocked() {
		return errors.Wrapf(errors.ErrDailyLossLimit, "realized %s", s.daily.RealizedPnL)
	}
	return nil
}

// DailyGatesOpen reports whether a whole cycle may run: trade cap and
// loss cap both unbreached.
func (s *Service) DailyGatesOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(time.Now())

	if s.settings.EmergencyStop {
		return errors.ErrEmergencyStop
	}
	if s.settings.MaxDailyTrades > 0 && s.daily.TradeCount >= s.settings.MaxDailyTrades {
		return errors.ErrDailyTradeLimit
	}
	if s.lossCapBreachedLocked() {
		return errors.ErrDailyLossLimit
	}
	return nil
}

// RecordEntry counts one executed entry.
func (s *Service) RecordEntry(ctx context.Context) {
	s.mu.Lock()
	s.rollDayLocked(time.Now())
	s.daily.TradeCount++
	daily := s.daily
	s.mu.Unlock()
	s.persistDaily(ctx, daily)
}

// RecordExit accumulates realized PnL.
func (s *Service) RecordExit(ctx context.Context, realized decimal.Decimal) {
	s.mu.Lock()
	s.rollDayLocked(time.Now())
	s.daily.RealizedPnL = s.daily.RealizedPnL.Add(realized)
	daily := s.daily
	s.mu.Unlock()
	s.persistDaily(ctx, daily)
}

// ExposureOK checks the aggregate exposure cap.
func (s *Service) ExposureOK(totalPositionValue, portfolioValue decimal.Decimal) bool {
	s.mu.RLock()
	cap := s.settings.MaxTotalExposure
	s.mu.RUnlock()
	if cap <= 0 || portfolioValue.Sign() <= 0 {
		return true
	}
	ratio, _ := totalPositionValue.Div(portfolioValue).Float64()
	return ratio <= cap
}

// PositionWeightOK checks the single-position weight cap.
func (s *Service) PositionWeightOK(positionValue, portfolioValue decimal.Decimal) bool {
	s.mu.RLock()
	cap := s.settings.MaxPositionWeight
	s.mu.RUnlock()
	if cap <= 0 || portfolioValue.Sign() <= 0 {
		return true
	}
	ratio, _ := positionValue.Div(portfolioValue).Float64()
	return ratio <= cap
}

// VolatilityPauseTriggered reports whether the position's unrealized PnL
// ratio breached the emergency threshold in either direction.
func (s *Service) VolatilityPauseTriggered(pnlRatio float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.settings.VolatilityPause || s.settings.VolatilityPnLRatio <= 0 {
		return false
	}
	if pnlRatio < 0 {
		pnlRatio = -pnlRatio
	}
	return pnlRatio >= s.settings.VolatilityPnLRatio
}

func (s *Service) lossCapBreachedLocked() bool {
	cap := s.settings.MaxDailyLoss
	if cap.Sign() <= 0 {
		return false
	}
	return s.daily.RealizedPnL.Neg().GreaterThanOrEqual(cap)
}

// rollDayLocked resets the counters at the day boundary.
func (s *Service) rollDayLocked(now time.Time) {
	if s.daily.SameDay(now) {
		return
	}
	s.log.Infow("Daily counters reset",
		"previous_trades", s.daily.TradeCount,
		"previous_pnl", s.daily.RealizedPnL,
	)
	s.daily = risk.DailyState{Date: now}
}

func (s *Service) persistDaily(ctx context.Context, daily risk.DailyState) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveDaily(ctx, daily.Date, daily.TradeCount, daily.RealizedPnL); err != nil {
		s.log.Warnw("Daily counter persistence failed", "error", err)
	}
}

// USMarketCalendar covers regular US cash hours, 09:30 to 16:00 Eastern,
// Monday through Friday. Exchange holidays are not modeled.
type USMarketCalendar struct{}

// IsOpen reports whether t falls in regular trading hours.
func (USMarketCalendar) IsOpen(t time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return true
	}
	local := t.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= 9*60+30 && minute < 16*60
}
