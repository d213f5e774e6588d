package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/adapters/broker"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/position"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Gates is the daily risk gate the engine consults before opening and
// after closing positions.
type Gates interface {
	// AllowEntry returns nil when a new entry is permitted right now.
	AllowEntry(ctx context.Context, symbol string) error
	// RecordEntry counts one executed entry against the daily cap.
	RecordEntry(ctx context.Context)
	// RecordExit accumulates realized PnL into the daily loss gate.
	RecordExit(ctx context.Context, realized decimal.Decimal)
}

// Sizer computes the order quantity for an entry.
type Sizer interface {
	Quantity(ctx context.Context, st *strategy.Strategy, price decimal.Decimal) (decimal.Decimal, error)
}

// OrderPlacer submits orders to the active execution backend.
type OrderPlacer interface {
	Execute(ctx context.Context, req *broker.OrderRequest) (*broker.Order, error)
}

// Emitter receives trade and portfolio messages for connected observers.
// events.Broadcaster satisfies it.
type Emitter interface {
	Broadcast(msg events.Message)
}

// Engine owns strategy and position state. All transitions for a given
// (strategy, symbol) key are serialized under one lock, so concurrent
// bars can never race an open against a close.
type Engine struct {
	evaluator *Evaluator
	gates     Gates
	sizer     Sizer
	placer    OrderPlacer
	emitter   Emitter

	mu         sync.Mutex
	strategies map[uuid.UUID]*strategy.Strategy
	status     map[uuid.UUID]strategy.Status
	lastTrade  map[uuid.UUID]time.Time
	positions  map[position.Key]*position.Position
	closing    map[position.Key]bool
	closed     []*position.Position

	log *logger.Logger
}

// NewEngine creates a strategy engine.
func NewEngine(evaluator *Evaluator, gates Gates, sizer Sizer, placer OrderPlacer, emitter Emitter) *Engine {
	return &Engine{
		evaluator:  evaluator,
		gates:      gates,
		sizer:      sizer,
		placer:     placer,
		emitter:    emitter,
		strategies: make(map[uuid.UUID]*strategy.Strategy),
		status:     make(map[uuid.UUID]strategy.Status),
		lastTrade:  make(map[uuid.UUID]time.Time),
		positions:  make(map[position.Key]*position.Position),
		closing:    make(map[position.Key]bool),
		log:        logger.Get().With("component", "strategy_engine"),
	}
}

// ReplaceStrategies swaps the loaded strategy set. Status and open
// positions of surviving strategies are preserved; state of removed
// strategies is kept until their positions close.
func (e *Engine) ReplaceStrategies(list []*strategy.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[uuid.UUID]*strategy.Strategy, len(list))
	for _, st := range list {
		next[st.ID] = st
		if _, ok := e.status[st.ID]; !ok {
			e.status[st.ID] = strategy.StatusIdle
		}
	}
	e.strategies = next
	e.log.Infow("Strategies reloaded", "count", len(list))
}

// Strategies returns the loaded strategies.
func (e *Engine) Strategies() []*strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*strategy.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		out = append(out, st)
	}
	return out
}

// StatusOf returns the execution status of a strategy.
func (e *Engine) StatusOf(id uuid.UUID) strategy.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.status[id]; ok {
		return s
	}
	return strategy.StatusIdle
}

// OpenPositions returns copies of all open positions.
func (e *Engine) OpenPositions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]position.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// OpenPosition returns a copy of the open position for the key, if any.
func (e *Engine) OpenPosition(key position.Key) (position.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[key]
	if !ok {
		return position.Position{}, false
	}
	return *p, true
}

// OnBar evaluates every applicable strategy against the symbol's buffer
// after a new bar has been appended. Per-strategy failures are isolated.
func (e *Engine) OnBar(ctx context.Context, symbol string, buf *marketdata.SymbolBuffer) {
	last, ok := buf.Last()
	if !ok {
		return
	}
	price := decimal.NewFromFloat(last.Close)

	for _, st := range e.snapshotStrategies() {
		if !st.Enabled || !st.AppliesTo(symbol) {
			continue
		}
		e.evaluateStrategy(ctx, st, symbol, buf, price, last.Timestamp)
	}
}

// EvaluateStrategy runs one strategy against one symbol. Exposed for the
// position monitor, which selects strategies per monitoring config.
func (e *Engine) EvaluateStrategy(ctx context.Context, st *strategy.Strategy, symbol string, buf *marketdata.SymbolBuffer, price decimal.Decimal, now time.Time) {
	e.evaluateStrategy(ctx, st, symbol, buf, price, now)
}

// StrategyByID returns the loaded strategy, if present.
func (e *Engine) StrategyByID(id uuid.UUID) (*strategy.Strategy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.strategies[id]
	return st, ok
}

func (e *Engine) snapshotStrategies() []*strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*strategy.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		out = append(out, st)
	}
	return out
}

func (e *Engine) evaluateStrategy(ctx context.Context, st *strategy.Strategy, symbol string, buf *marketdata.SymbolBuffer, price decimal.Decimal, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Strategy evaluation panicked",
				"strategy", st.Name, "symbol", symbol, "panic", r)
		}
	}()

	if !e.beginEvaluation(st, now) {
		return
	}

	key := position.Key{StrategyID: st.ID, Symbol: symbol}
	e.mu.Lock()
	open, hasOpen := e.positions[key]
	e.mu.Unlock()

	if hasOpen {
		e.manageOpen(ctx, st, open, buf, price, now)
		return
	}

	if e.evaluator.EvaluateAll(st.BuyConditions, buf) {
		e.tryOpen(ctx, st, key, price, now)
	}
}

// beginEvaluation advances the status machine to monitoring, clearing an
// elapsed cooldown. Returns false while the strategy is still cooling
// down, which skips it entirely even if conditions re-trigger.
func (e *Engine) beginEvaluation(st *strategy.Strategy, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status[st.ID] {
	case strategy.StatusCooldown:
		if st.Cooldown > 0 && now.Sub(e.lastTrade[st.ID]) < st.Cooldown {
			return false
		}
		e.status[st.ID] = strategy.StatusMonitoring
	case strategy.StatusIdle, "":
		e.status[st.ID] = strategy.StatusMonitoring
	case strategy.StatusExecuting:
		// Another goroutine is mid-trade for this strategy
		return false
	}
	return true
}

// manageOpen applies protective exits for an open position: stop-loss,
// take-profit, trailing ratchet, then sell conditions.
func (e *Engine) manageOpen(ctx context.Context, st *strategy.Strategy, pos *position.Position, buf *marketdata.SymbolBuffer, price decimal.Decimal, now time.Time) {
	e.mu.Lock()
	e.ratchetTrailingStop(st, pos, price)
	stop := pos.StopLoss
	take := pos.TakeProfit
	e.mu.Unlock()

	switch {
	case stop.Sign() > 0 && price.LessThanOrEqual(stop):
		e.closePosition(ctx, st, pos, price, now, position.CloseStopLoss)
	case take.Sign() > 0 && price.GreaterThanOrEqual(take):
		e.closePosition(ctx, st, pos, price, now, position.CloseTakeProfit)
	case e.evaluator.EvaluateAll(st.SellConditions, buf):
		e.closePosition(ctx, st, pos, price, now, position.CloseSellSignal)
	}
}

// ratchetTrailingStop tightens the stop as price makes new favorable
// extremes. The stop only ever moves in the favorable direction.
// Caller holds e.mu.
func (e *Engine) ratchetTrailingStop(st *strategy.Strategy, pos *position.Position, price decimal.Decimal) {
	if st.TrailingStopPct <= 0 {
		return
	}
	if price.GreaterThan(pos.HighWater) {
		pos.HighWater = price
	}
	trail := decimal.NewFromFloat(1 - st.TrailingStopPct)
	candidate := pos.HighWater.Mul(trail)
	if candidate.GreaterThan(pos.StopLoss) {
		pos.StopLoss = candidate
	}
}

// tryOpen opens a position for the key if every invariant holds: no open
// position for the key, strategy below its max-positions cap, and the
// daily gates permit an entry. A duplicate open is a no-op.
func (e *Engine) tryOpen(ctx context.Context, st *strategy.Strategy, key position.Key, price decimal.Decimal, now time.Time) {
	if err := e.gates.AllowEntry(ctx, key.Symbol); err != nil {
		e.log.Debugw("Entry blocked by daily gates",
			"strategy", st.Name, "symbol", key.Symbol, "reason", err)
		metrics.RiskRejections.WithLabelValues(err.Error()).Inc()
		return
	}

	e.mu.Lock()
	if _, exists := e.positions[key]; exists {
		e.mu.Unlock()
		return
	}
	if st.MaxPositions > 0 && e.openCountLocked(st.ID) >= st.MaxPositions {
		e.mu.Unlock()
		e.log.Debugw("Entry blocked by max positions",
			"strategy", st.Name, "symbol", key.Symbol, "max", st.MaxPositions)
		return
	}
	e.status[st.ID] = strategy.StatusTriggered
	e.mu.Unlock()

	qty, err := e.sizer.Quantity(ctx, st, price)
	if err != nil || qty.Sign() <= 0 {
		e.log.Warnw("Position sizing failed",
			"strategy", st.Name, "symbol", key.Symbol, "error", err)
		e.setStatus(st.ID, strategy.StatusMonitoring)
		return
	}

	e.setStatus(st.ID, strategy.StatusExecuting)
	order, err := e.placer.Execute(ctx, &broker.OrderRequest{
		Symbol:   key.Symbol,
		Side:     broker.OrderSideBuy,
		Quantity: qty,
		Type:     broker.OrderTypeMarket,
	})
	if err != nil {
		e.log.Errorw("Entry order failed",
			"strategy", st.Name, "symbol", key.Symbol, "error", err)
		metrics.TradesExecuted.WithLabelValues("buy", "error").Inc()
		e.setStatus(st.ID, strategy.StatusMonitoring)
		return
	}

	fillPrice := order.FilledPrice
	if fillPrice.Sign() <= 0 {
		fillPrice = price
	}
	fillQty := order.FilledQty
	if fillQty.Sign() <= 0 {
		fillQty = qty
	}

	pos := &position.Position{
		ID:         uuid.New(),
		StrategyID: st.ID,
		Symbol:     key.Symbol,
		Side:       position.SideLong,
		Quantity:   fillQty,
		EntryPrice: fillPrice,
		EntryTime:  now,
		HighWater:  fillPrice,
		Status:     position.StatusOpen,
	}
	if st.StopLossPct > 0 {
		pos.StopLoss = fillPrice.Mul(decimal.NewFromFloat(1 - st.StopLossPct))
	}
	if st.TakeProfitPct > 0 {
		pos.TakeProfit = fillPrice.Mul(decimal.NewFromFloat(1 + st.TakeProfitPct))
	}

	e.mu.Lock()
	if _, exists := e.positions[key]; exists {
		// Lost the race to another evaluation path; the invariant wins
		// over the fill, which the operator must flatten manually.
		e.mu.Unlock()
		e.log.Errorw("Duplicate fill for open key, manual flatten required",
			"strategy", st.Name, "symbol", key.Symbol, "order_id", order.ID)
		return
	}
	e.positions[key] = pos
	e.status[st.ID] = strategy.StatusCooldown
	e.lastTrade[st.ID] = now
	openCount := len(e.positions)
	e.mu.Unlock()

	e.gates.RecordEntry(ctx)
	metrics.TradesExecuted.WithLabelValues("buy", "success").Inc()
	metrics.PositionsOpen.Set(float64(openCount))
	e.log.Infow("📈 Position opened",
		"strategy", st.Name,
		"symbol", key.Symbol,
		"qty", fillQty,
		"entry", fillPrice,
		"stop", pos.StopLoss,
		"take", pos.TakeProfit,
	)
	e.emit(events.NewMessage(events.TypeTradeSignal, events.TradeSignalPayload{
		StrategyID:   st.ID.String(),
		StrategyName: st.Name,
		Symbol:       key.Symbol,
		Action:       "buy",
		Price:        fillPrice.InexactFloat64(),
		Quantity:     fillQty.String(),
		Executed:     true,
	}))
	e.emit(events.NewMessage(events.TypePortfolioUpdate, events.PortfolioUpdatePayload{
		Symbol:        key.Symbol,
		Event:         "opened",
		Quantity:      fillQty.String(),
		EntryPrice:    fillPrice.String(),
		OpenPositions: openCount,
	}))
}

func (e *Engine) closePosition(ctx context.Context, st *strategy.Strategy, pos *position.Position, price decimal.Decimal, now time.Time, reason position.CloseReason) {
	key := pos.Key()

	// Claim the key before submitting the exit so concurrent evaluation
	// paths (tick dispatch and the cycle worker) cannot both sell the
	// same position.
	e.mu.Lock()
	if e.positions[key] != pos || e.closing[key] {
		e.mu.Unlock()
		return
	}
	e.closing[key] = true
	e.status[st.ID] = strategy.StatusExecuting
	e.mu.Unlock()

	order, err := e.placer.Execute(ctx, &broker.OrderRequest{
		Symbol:   pos.Symbol,
		Side:     broker.OrderSideSell,
		Quantity: pos.Quantity,
		Type:     broker.OrderTypeMarket,
	})
	if err != nil {
		// Position stays open; the next bar retries the exit.
		e.log.Errorw("Exit order failed",
			"strategy", st.Name, "symbol", pos.Symbol, "reason", reason, "error", err)
		metrics.TradesExecuted.WithLabelValues("sell", "error").Inc()
		e.mu.Lock()
		delete(e.closing, key)
		e.status[st.ID] = strategy.StatusMonitoring
		e.mu.Unlock()
		return
	}

	exitPrice := order.FilledPrice
	if exitPrice.Sign() <= 0 {
		exitPrice = price
	}

	e.mu.Lock()
	pos.Close(exitPrice, now, reason)
	delete(e.positions, key)
	delete(e.closing, key)
	e.closed = append(e.closed, pos)
	e.status[st.ID] = strategy.StatusCooldown
	e.lastTrade[st.ID] = now
	openCount := len(e.positions)
	e.mu.Unlock()

	e.gates.RecordExit(ctx, pos.RealizedPnL)
	metrics.TradesExecuted.WithLabelValues("sell", "success").Inc()
	metrics.PositionsOpen.Set(float64(openCount))
	e.log.Infow("📉 Position closed",
		"strategy", st.Name,
		"symbol", pos.Symbol,
		"reason", reason,
		"exit", exitPrice,
		"pnl", pos.RealizedPnL,
	)
	e.emit(events.NewMessage(events.TypeTradeSignal, events.TradeSignalPayload{
		StrategyID:   st.ID.String(),
		StrategyName: st.Name,
		Symbol:       pos.Symbol,
		Action:       "sell",
		Price:        exitPrice.InexactFloat64(),
		Quantity:     pos.Quantity.String(),
		Reason:       string(reason),
		Executed:     true,
	}))
	e.emit(events.NewMessage(events.TypePortfolioUpdate, events.PortfolioUpdatePayload{
		Symbol:        pos.Symbol,
		Event:         "closed",
		Quantity:      pos.Quantity.String(),
		ExitPrice:     exitPrice.String(),
		RealizedPnL:   pos.RealizedPnL.String(),
		CloseReason:   string(reason),
		OpenPositions: openCount,
	}))
}

// Liquidate force-closes the open position for the key at the given
// price.
func (e *Engine) Liquidate(ctx context.Context, key position.Key, price decimal.Decimal) error {
	e.mu.Lock()
	pos, ok := e.positions[key]
	st, hasStrat := e.strategies[key.StrategyID]
	e.mu.Unlock()
	if !ok {
		return errors.ErrPositionNotFound
	}
	if !hasStrat {
		st = &strategy.Strategy{ID: key.StrategyID, Name: "detached"}
	}
	e.closePosition(ctx, st, pos, price, time.Now(), position.CloseLiquidated)
	return nil
}

// ClosedPositions drains the record of positions closed since the last
// call, for persistence.
func (e *Engine) ClosedPositions() []*position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.closed
	e.closed = nil
	return out
}

func (e *Engine) openCountLocked(strategyID uuid.UUID) int {
	n := 0
	for key := range e.positions {
		if key.StrategyID == strategyID {
			n++
		}
	}
	return n
}

func (e *Engine) setStatus(id uuid.UUID, s strategy.Status) {
	e.mu.Lock()
	e.status[id] = s
	e.mu.Unlock()
}

func (e *Engine) emit(msg events.Message) {
	if e.emitter != nil {
		e.emitter.Broadcast(msg)
	}
}
