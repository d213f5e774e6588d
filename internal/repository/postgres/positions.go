package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/domain/position"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// PositionStore records closed positions for the trade history.
type PositionStore struct {
	db *sqlx.DB
}

// NewPositionStore creates the store.
func NewPositionStore(db *sqlx.DB) *PositionStore {
	return &PositionStore{db: db}
}

// SaveClosedPosition appends one closed position. Re-saving the same id is
// a no-op so a failed cycle can safely retry the whole drained batch.
func (s *PositionStore) SaveClosedPosition(ctx context.Context, p *position.Position) error {
	if p.ExitTime == nil {
		return errors.New("position has no exit time")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_positions (
			id, strategy_id, symbol, side, quantity, entry_price, entry_time,
			exit_price, exit_time, close_reason, realized_pnl
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.StrategyID, p.Symbol, string(p.Side), p.Quantity,
		p.EntryPrice, p.EntryTime, p.ExitPrice, *p.ExitTime,
		string(p.CloseReason), p.RealizedPnL,
	)
	if err != nil {
		return errors.Wrap(err, "insert closed position")
	}
	return nil
}

type closedRow struct {
	ID          uuid.UUID       `db:"id"`
	StrategyID  uuid.UUID       `db:"strategy_id"`
	Symbol      string          `db:"symbol"`
	Side        string          `db:"side"`
	Quantity    decimal.Decimal `db:"quantity"`
	EntryPrice  decimal.Decimal `db:"entry_price"`
	EntryTime   time.Time       `db:"entry_time"`
	ExitPrice   decimal.Decimal `db:"exit_price"`
	ExitTime    time.Time       `db:"exit_time"`
	CloseReason string          `db:"close_reason"`
	RealizedPnL decimal.Decimal `db:"realized_pnl"`
}

// ListClosedPositions returns the most recent closed positions, newest first.
func (s *PositionStore) ListClosedPositions(ctx context.Context, limit int) ([]*position.Position, error) {
	var rows []closedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, strategy_id, symbol, side, quantity, entry_price, entry_time,
		       exit_price, exit_time, close_reason, realized_pnl
		FROM closed_positions
		ORDER BY exit_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select closed positions")
	}

	out := make([]*position.Position, 0, len(rows))
	for _, r := range rows {
		exit := r.ExitTime
		out = append(out, &position.Position{
			ID:          r.ID,
			StrategyID:  r.StrategyID,
			Symbol:      r.Symbol,
			Side:        position.Side(r.Side),
			Quantity:    r.Quantity,
			EntryPrice:  r.EntryPrice,
			EntryTime:   r.EntryTime,
			Status:      position.StatusClosed,
			ExitPrice:   r.ExitPrice,
			ExitTime:    &exit,
			CloseReason: position.CloseReason(r.CloseReason),
			RealizedPnL: r.RealizedPnL,
		})
	}
	return out, nil
}
