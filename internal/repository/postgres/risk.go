package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/domain/risk"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// RiskStore persists the single-row risk settings.
type RiskStore struct {
	db *sqlx.DB
}

// NewRiskStore creates the store.
func NewRiskStore(db *sqlx.DB) *RiskStore {
	return &RiskStore{db: db}
}

type riskRow struct {
	Enabled            bool            `db:"enabled"`
	MarketHoursOnly    bool            `db:"market_hours_only"`
	MaxDailyTrades     int             `db:"max_daily_trades"`
	EmergencyStop      bool            `db:"emergency_stop"`
	ExcludedSymbols    []byte          `db:"excluded_symbols"`
	MaxDailyLoss       decimal.Decimal `db:"max_daily_loss"`
	MaxTotalExposure   float64         `db:"max_total_exposure"`
	MaxPositionWeight  float64         `db:"max_position_weight"`
	VolatilityPause    bool            `db:"volatility_pause"`
	VolatilityPnLRatio float64         `db:"volatility_pnl_ratio"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// GetRiskSettings loads the settings row. Returns ErrNotFound when the row
// has never been written, letting the caller seed defaults.
func (s *RiskStore) GetRiskSettings(ctx context.Context) (*risk.Settings, error) {
	var row riskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT enabled, market_hours_only, max_daily_trades, emergency_stop,
		       excluded_symbols, max_daily_loss, max_total_exposure,
		       max_position_weight, volatility_pause, volatility_pnl_ratio,
		       updated_at
		FROM risk_settings WHERE id = 1`)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "risk settings")
	}
	if err != nil {
		return nil, errors.Wrap(err, "select risk settings")
	}

	settings := &risk.Settings{
		Enabled:            row.Enabled,
		MarketHoursOnly:    row.MarketHoursOnly,
		MaxDailyTrades:     row.MaxDailyTrades,
		EmergencyStop:      row.EmergencyStop,
		MaxDailyLoss:       row.MaxDailyLoss,
		MaxTotalExposure:   row.MaxTotalExposure,
		MaxPositionWeight:  row.MaxPositionWeight,
		VolatilityPause:    row.VolatilityPause,
		VolatilityPnLRatio: row.VolatilityPnLRatio,
		UpdatedAt:          row.UpdatedAt,
	}
	if err := json.Unmarshal(row.ExcludedSymbols, &settings.ExcludedSymbols); err != nil {
		return nil, errors.Wrap(err, "decode excluded symbols")
	}
	return settings, nil
}

// SaveRiskSettings upserts the settings row.
func (s *RiskStore) SaveRiskSettings(ctx context.Context, settings *risk.Settings) error {
	excluded := settings.ExcludedSymbols
	if excluded == nil {
		excluded = []string{}
	}
	excludedJSON, err := json.Marshal(excluded)
	if err != nil {
		return errors.Wrap(err, "encode excluded symbols")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_settings (
			id, enabled, market_hours_only, max_daily_trades, emergency_stop,
			excluded_symbols, max_daily_loss, max_total_exposure,
			max_position_weight, volatility_pause, volatility_pnl_ratio, updated_at
		) VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			market_hours_only = EXCLUDED.market_hours_only,
			max_daily_trades = EXCLUDED.max_daily_trades,
			emergency_stop = EXCLUDED.emergency_stop,
			excluded_symbols = EXCLUDED.excluded_symbols,
			max_daily_loss = EXCLUDED.max_daily_loss,
			max_total_exposure = EXCLUDED.max_total_exposure,
			max_position_weight = EXCLUDED.max_position_weight,
			volatility_pause = EXCLUDED.volatility_pause,
			volatility_pnl_ratio = EXCLUDED.volatility_pnl_ratio,
			updated_at = now()`,
		settings.Enabled, settings.MarketHoursOnly, settings.MaxDailyTrades,
		settings.EmergencyStop, excludedJSON, settings.MaxDailyLoss,
		settings.MaxTotalExposure, settings.MaxPositionWeight,
		settings.VolatilityPause, settings.VolatilityPnLRatio,
	)
	if err != nil {
		return errors.Wrap(err, "upsert risk settings")
	}
	return nil
}
