// Package clickhouse implements the append-only tick and bar archive.
// Tables use ReplacingMergeTree keyed on (symbol, timestamp), which gives
// the insert-or-replace semantics the stream manager relies on.
package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Archive persists ticks and bars.
type Archive struct {
	conn driver.Conn
}

// NewArchive creates the archive repository.
func NewArchive(conn driver.Conn) *Archive {
	return &Archive{conn: conn}
}

// Migrate creates the archive tables.
func (a *Archive) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol      LowCardinality(String),
			last        Float64,
			prev_close  Float64,
			open        Float64,
			high        Float64,
			low         Float64,
			volume      Float64,
			turnover    Float64,
			sequence    Int64,
			ts          DateTime64(3)
		) ENGINE = ReplacingMergeTree(sequence)
		ORDER BY (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS bars (
			symbol  LowCardinality(String),
			open    Float64,
			high    Float64,
			low     Float64,
			close   Float64,
			volume  Float64,
			ts      DateTime64(3)
		) ENGINE = ReplacingMergeTree
		ORDER BY (symbol, ts)`,
	}
	for _, q := range ddl {
		if err := a.conn.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "create archive table")
		}
	}
	return nil
}

// SaveTick inserts or replaces one tick by (symbol, timestamp).
func (a *Archive) SaveTick(ctx context.Context, tick marketdata.Tick) error {
	err := a.conn.Exec(ctx, `
		INSERT INTO ticks (symbol, last, prev_close, open, high, low, volume, turnover, sequence, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tick.Symbol, tick.Last, tick.PrevClose, tick.Open, tick.High, tick.Low,
		tick.Volume, tick.Turnover, tick.Sequence, tick.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "insert tick")
	}
	return nil
}

// SaveBars batch-inserts bars, replacing on (symbol, timestamp).
func (a *Archive) SaveBars(ctx context.Context, bars []marketdata.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO bars (symbol, open, high, low, close, volume, ts)
	`)
	if err != nil {
		return errors.Wrap(err, "prepare bar batch")
	}
	for _, b := range bars {
		if err := batch.Append(b.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume, b.Timestamp); err != nil {
			return errors.Wrap(err, "append bar")
		}
	}
	return batch.Send()
}

type barRow struct {
	Symbol string    `ch:"symbol"`
	Open   float64   `ch:"open"`
	High   float64   `ch:"high"`
	Low    float64   `ch:"low"`
	Close  float64   `ch:"close"`
	Volume float64   `ch:"volume"`
	TS     time.Time `ch:"ts"`
}

// FetchBars returns the last `limit` bars for the symbol, oldest first.
func (a *Archive) FetchBars(ctx context.Context, symbol string, limit int) ([]marketdata.Bar, error) {
	var rows []barRow
	err := a.conn.Select(ctx, &rows, `
		SELECT symbol, open, high, low, close, volume, ts
		FROM bars FINAL
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select bars")
	}

	// Reverse into ascending order
	out := make([]marketdata.Bar, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = marketdata.Bar{
			Symbol:    r.Symbol,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Timestamp: r.TS,
		}
	}
	return out, nil
}

// FetchTicks returns the last `limit` ticks for the symbol, oldest first.
func (a *Archive) FetchTicks(ctx context.Context, symbol string, limit int) ([]marketdata.Tick, error) {
	var rows []struct {
		Symbol    string    `ch:"symbol"`
		Last      float64   `ch:"last"`
		PrevClose float64   `ch:"prev_close"`
		Open      float64   `ch:"open"`
		High      float64   `ch:"high"`
		Low       float64   `ch:"low"`
		Volume    float64   `ch:"volume"`
		Turnover  float64   `ch:"turnover"`
		Sequence  int64     `ch:"sequence"`
		TS        time.Time `ch:"ts"`
	}
	err := a.conn.Select(ctx, &rows, `
		SELECT symbol, last, prev_close, open, high, low, volume, turnover, sequence, ts
		FROM ticks FINAL
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select ticks")
	}

	out := make([]marketdata.Tick, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = marketdata.Tick{
			Symbol:    r.Symbol,
			Last:      r.Last,
			PrevClose: r.PrevClose,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Volume:    r.Volume,
			Turnover:  r.Turnover,
			Sequence:  r.Sequence,
			Timestamp: r.TS,
		}
	}
	return out, nil
}
