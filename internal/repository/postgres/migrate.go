// Package postgres implements the settings and trade-history stores.
package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Migrate creates the settings-store tables.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			id                UUID PRIMARY KEY,
			name              TEXT NOT NULL,
			enabled           BOOLEAN NOT NULL DEFAULT true,
			symbols           JSONB NOT NULL DEFAULT '[]',
			buy_conditions    JSONB NOT NULL DEFAULT '[]',
			sell_conditions   JSONB NOT NULL DEFAULT '[]',
			stop_loss_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit_pct   DOUBLE PRECISION NOT NULL DEFAULT 0,
			trailing_stop_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_positions     INTEGER NOT NULL DEFAULT 0,
			position_fraction DOUBLE PRECISION NOT NULL DEFAULT 0,
			cooldown_seconds  BIGINT NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS monitoring_configs (
			symbol               TEXT PRIMARY KEY,
			status               TEXT NOT NULL,
			strategy_mode        TEXT NOT NULL,
			enabled_strategy_ids JSONB NOT NULL DEFAULT '[]',
			stop_loss_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit_pct      DOUBLE PRECISION NOT NULL DEFAULT 0,
			position_limit       INTEGER NOT NULL DEFAULT 0,
			trading_hours        JSONB NOT NULL DEFAULT '[]',
			min_price            DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_price            DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_volume           DOUBLE PRECISION NOT NULL DEFAULT 0,
			cooldown_seconds     BIGINT NOT NULL DEFAULT 0,
			expires_at           TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS risk_settings (
			id                   SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			enabled              BOOLEAN NOT NULL DEFAULT true,
			market_hours_only    BOOLEAN NOT NULL DEFAULT true,
			max_daily_trades     INTEGER NOT NULL DEFAULT 20,
			emergency_stop       BOOLEAN NOT NULL DEFAULT false,
			excluded_symbols     JSONB NOT NULL DEFAULT '[]',
			max_daily_loss       NUMERIC(20,4) NOT NULL DEFAULT 0,
			max_total_exposure   DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_position_weight  DOUBLE PRECISION NOT NULL DEFAULT 0,
			volatility_pause     BOOLEAN NOT NULL DEFAULT false,
			volatility_pnl_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS closed_positions (
			id           UUID PRIMARY KEY,
			strategy_id  UUID NOT NULL,
			symbol       TEXT NOT NULL,
			side         TEXT NOT NULL,
			quantity     NUMERIC(20,8) NOT NULL,
			entry_price  NUMERIC(20,8) NOT NULL,
			entry_time   TIMESTAMPTZ NOT NULL,
			exit_price   NUMERIC(20,8) NOT NULL,
			exit_time    TIMESTAMPTZ NOT NULL,
			close_reason TEXT NOT NULL,
			realized_pnl NUMERIC(20,8) NOT NULL
		)`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "create settings table")
		}
	}
	return nil
}
