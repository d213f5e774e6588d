package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/majiajue/longbridge-sub000/internal/domain/monitoring"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// MonitoringStore persists per-symbol monitoring configurations.
type MonitoringStore struct {
	db *sqlx.DB
}

// NewMonitoringStore creates the store.
func NewMonitoringStore(db *sqlx.DB) *MonitoringStore {
	return &MonitoringStore{db: db}
}

type monitoringRow struct {
	Symbol          string     `db:"symbol"`
	Status          string     `db:"status"`
	StrategyMode    string     `db:"strategy_mode"`
	StrategyIDs     []byte     `db:"enabled_strategy_ids"`
	StopLossPct     float64    `db:"stop_loss_pct"`
	TakeProfitPct   float64    `db:"take_profit_pct"`
	PositionLimit   int        `db:"position_limit"`
	TradingHours    []byte     `db:"trading_hours"`
	MinPrice        float64    `db:"min_price"`
	MaxPrice        float64    `db:"max_price"`
	MinVolume       float64    `db:"min_volume"`
	CooldownSeconds int64      `db:"cooldown_seconds"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r monitoringRow) toDomain() (*monitoring.Config, error) {
	cfg := &monitoring.Config{
		Symbol:        r.Symbol,
		Status:        monitoring.Status(r.Status),
		StrategyMode:  monitoring.StrategyMode(r.StrategyMode),
		StopLossPct:   r.StopLossPct,
		TakeProfitPct: r.TakeProfitPct,
		PositionLimit: r.PositionLimit,
		MinPrice:      r.MinPrice,
		MaxPrice:      r.MaxPrice,
		MinVolume:     r.MinVolume,
		Cooldown:      time.Duration(r.CooldownSeconds) * time.Second,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal(r.StrategyIDs, &cfg.EnabledStrategyIDs); err != nil {
		return nil, errors.Wrap(err, "decode strategy ids")
	}
	if err := json.Unmarshal(r.TradingHours, &cfg.TradingHours); err != nil {
		return nil, errors.Wrap(err, "decode trading hours")
	}
	return cfg, nil
}

const monitoringColumns = `symbol, status, strategy_mode, enabled_strategy_ids,
	stop_loss_pct, take_profit_pct, position_limit, trading_hours,
	min_price, max_price, min_volume, cooldown_seconds, expires_at,
	created_at, updated_at`

// ListMonitoringConfigs returns every stored configuration.
func (s *MonitoringStore) ListMonitoringConfigs(ctx context.Context) ([]*monitoring.Config, error) {
	var rows []monitoringRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+monitoringColumns+` FROM monitoring_configs ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(err, "select monitoring configs")
	}

	out := make([]*monitoring.Config, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// SaveMonitoringConfig upserts a configuration keyed by symbol.
func (s *MonitoringStore) SaveMonitoringConfig(ctx context.Context, cfg *monitoring.Config) error {
	ids := cfg.EnabledStrategyIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "encode strategy ids")
	}
	hours := cfg.TradingHours
	if hours == nil {
		hours = []monitoring.Window{}
	}
	hoursJSON, err := json.Marshal(hours)
	if err != nil {
		return errors.Wrap(err, "encode trading hours")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_configs (
			symbol, status, strategy_mode, enabled_strategy_ids,
			stop_loss_pct, take_profit_pct, position_limit, trading_hours,
			min_price, max_price, min_volume, cooldown_seconds, expires_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		ON CONFLICT (symbol) DO UPDATE SET
			status = EXCLUDED.status,
			strategy_mode = EXCLUDED.strategy_mode,
			enabled_strategy_ids = EXCLUDED.enabled_strategy_ids,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			position_limit = EXCLUDED.position_limit,
			trading_hours = EXCLUDED.trading_hours,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			min_volume = EXCLUDED.min_volume,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		cfg.Symbol, string(cfg.Status), string(cfg.StrategyMode), idsJSON,
		cfg.StopLossPct, cfg.TakeProfitPct, cfg.PositionLimit, hoursJSON,
		cfg.MinPrice, cfg.MaxPrice, cfg.MinVolume,
		int64(cfg.Cooldown.Seconds()), cfg.ExpiresAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert monitoring config")
	}
	return nil
}

// DeleteMonitoringConfig removes a configuration. Missing rows are not an
// error: reconciliation may race an explicit delete.
func (s *MonitoringStore) DeleteMonitoringConfig(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM monitoring_configs WHERE symbol = $1`, symbol)
	if err != nil {
		return errors.Wrap(err, "delete monitoring config")
	}
	return nil
}
