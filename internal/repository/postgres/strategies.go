package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// StrategyStore persists strategy definitions.
type StrategyStore struct {
	db *sqlx.DB
}

// NewStrategyStore creates the store.
func NewStrategyStore(db *sqlx.DB) *StrategyStore {
	return &StrategyStore{db: db}
}

type strategyRow struct {
	ID              uuid.UUID `db:"id"`
	Name            string    `db:"name"`
	Enabled         bool      `db:"enabled"`
	Symbols         []byte    `db:"symbols"`
	BuyConditions   []byte    `db:"buy_conditions"`
	SellConditions  []byte    `db:"sell_conditions"`
	StopLossPct     float64   `db:"stop_loss_pct"`
	TakeProfitPct   float64   `db:"take_profit_pct"`
	TrailingStopPct float64   `db:"trailing_stop_pct"`
	MaxPositions    int       `db:"max_positions"`
	PositionFrac    float64   `db:"position_fraction"`
	CooldownSeconds int64     `db:"cooldown_seconds"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r strategyRow) toDomain() (*strategy.Strategy, error) {
	st := &strategy.Strategy{
		ID:              r.ID,
		Name:            r.Name,
		Enabled:         r.Enabled,
		StopLossPct:     r.StopLossPct,
		TakeProfitPct:   r.TakeProfitPct,
		TrailingStopPct: r.TrailingStopPct,
		MaxPositions:    r.MaxPositions,
		PositionFraction: r.PositionFrac,
		Cooldown:        time.Duration(r.CooldownSeconds) * time.Second,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Symbols, &st.Symbols); err != nil {
		return nil, errors.Wrap(err, "decode symbols")
	}
	if err := json.Unmarshal(r.BuyConditions, &st.BuyConditions); err != nil {
		return nil, errors.Wrap(err, "decode buy conditions")
	}
	if err := json.Unmarshal(r.SellConditions, &st.SellConditions); err != nil {
		return nil, errors.Wrap(err, "decode sell conditions")
	}
	return st, nil
}

// ListStrategies returns every stored strategy.
func (s *StrategyStore) ListStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	var rows []strategyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, enabled, symbols, buy_conditions, sell_conditions,
		       stop_loss_pct, take_profit_pct, trailing_stop_pct,
		       max_positions, position_fraction, cooldown_seconds,
		       created_at, updated_at
		FROM strategies
		ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "select strategies")
	}

	out := make([]*strategy.Strategy, 0, len(rows))
	for _, r := range rows {
		st, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// GetStrategy fetches one strategy by id.
func (s *StrategyStore) GetStrategy(ctx context.Context, id uuid.UUID) (*strategy.Strategy, error) {
	var row strategyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, enabled, symbols, buy_conditions, sell_conditions,
		       stop_loss_pct, take_profit_pct, trailing_stop_pct,
		       max_positions, position_fraction, cooldown_seconds,
		       created_at, updated_at
		FROM strategies WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "strategy %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select strategy")
	}
	return row.toDomain()
}

// SaveStrategy upserts a strategy.
func (s *StrategyStore) SaveStrategy(ctx context.Context, st *strategy.Strategy) error {
	symbols, err := json.Marshal(st.Symbols)
	if err != nil {
		return errors.Wrap(err, "encode symbols")
	}
	buy, err := json.Marshal(st.BuyConditions)
	if err != nil {
		return errors.Wrap(err, "encode buy conditions")
	}
	sell, err := json.Marshal(st.SellConditions)
	if err != nil {
		return errors.Wrap(err, "encode sell conditions")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategies (
			id, name, enabled, symbols, buy_conditions, sell_conditions,
			stop_loss_pct, take_profit_pct, trailing_stop_pct,
			max_positions, position_fraction, cooldown_seconds, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			symbols = EXCLUDED.symbols,
			buy_conditions = EXCLUDED.buy_conditions,
			sell_conditions = EXCLUDED.sell_conditions,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			trailing_stop_pct = EXCLUDED.trailing_stop_pct,
			max_positions = EXCLUDED.max_positions,
			position_fraction = EXCLUDED.position_fraction,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			updated_at = now()`,
		st.ID, st.Name, st.Enabled, symbols, buy, sell,
		st.StopLossPct, st.TakeProfitPct, st.TrailingStopPct,
		st.MaxPositions, st.PositionFraction, int64(st.Cooldown.Seconds()),
	)
	if err != nil {
		return errors.Wrap(err, "upsert strategy")
	}
	return nil
}

// DeleteStrategy removes a strategy.
func (s *StrategyStore) DeleteStrategy(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete strategy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "strategy %s", id)
	}
	return nil
}
