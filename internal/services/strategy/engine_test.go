package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majiajue/longbridge-sub000/internal/adapters/broker"
	"github.com/majiajue/longbridge-sub000/internal/domain/position"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

type fakeGates struct {
	mu       sync.Mutex
	allowErr error
	entries  int
	exits    int
	lastPnL  decimal.Decimal
}

func (g *fakeGates) AllowEntry(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowErr
}

func (g *fakeGates) RecordEntry(ctx context.Context) {
	g.mu.Lock()
	g.entries++
	g.mu.Unlock()
}

func (g *fakeGates) RecordExit(ctx context.Context, realized decimal.Decimal) {
	g.mu.Lock()
	g.exits++
	g.lastPnL = realized
	g.mu.Unlock()
}

type fakeSizer struct {
	qty decimal.Decimal
	err error
}

func (s *fakeSizer) Quantity(ctx context.Context, st *strategy.Strategy, price decimal.Decimal) (decimal.Decimal, error) {
	return s.qty, s.err
}

type fakePlacer struct {
	mu       sync.Mutex
	requests []broker.OrderRequest
	err      error
}

func (p *fakePlacer) Execute(ctx context.Context, req *broker.OrderRequest) (*broker.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, *req)
	return &broker.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Status:    broker.OrderStatusFilled,
		FilledQty: req.Quantity,
		// FilledPrice left zero: the engine falls back to the bar price.
	}, nil
}

func (p *fakePlacer) count(side broker.OrderSide) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, req := range p.requests {
		if req.Side == side {
			n++
		}
	}
	return n
}

type fakeEmitter struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (e *fakeEmitter) Broadcast(msg events.Message) {
	e.mu.Lock()
	e.msgs = append(e.msgs, msg)
	e.mu.Unlock()
}

func (e *fakeEmitter) byType(t events.Type) []events.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Message
	for _, m := range e.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// alwaysBuy is a condition satisfied by any two bars.
func alwaysBuy() strategy.Condition {
	return strategy.Condition{
		Type:        strategy.CondPriceChange,
		PriceChange: &strategy.PriceChangeParams{Bars: 1, Threshold: 1000},
	}
}

func newTestStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		ID:               uuid.New(),
		Name:             "test strategy",
		Enabled:          true,
		BuyConditions:    []strategy.Condition{alwaysBuy()},
		StopLossPct:      0.05,
		PositionFraction: 0.2,
	}
}

func newTestEngine(gates *fakeGates, placer *fakePlacer, emitter *fakeEmitter) *Engine {
	return NewEngine(NewEvaluator(), gates, &fakeSizer{qty: decimal.NewFromInt(10)}, placer, emitter)
}

func TestEngine_OpensOnBuySignal(t *testing.T) {
	gates := &fakeGates{}
	placer := &fakePlacer{}
	emitter := &fakeEmitter{}
	engine := newTestEngine(gates, placer, emitter)

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	buf := bufferFromCloses(100, 101)
	engine.OnBar(context.Background(), "700.HK", buf)

	require.Equal(t, 1, placer.count(broker.OrderSideBuy))
	assert.Equal(t, 1, gates.entries)

	pos, ok := engine.OpenPosition(position.Key{StrategyID: st.ID, Symbol: "700.HK"})
	require.True(t, ok)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(101)))
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))
	// Stop seeded at 5% below entry.
	assert.True(t, pos.StopLoss.Equal(decimal.NewFromFloat(101*0.95)))
	assert.Equal(t, strategy.StatusCooldown, engine.StatusOf(st.ID))

	require.Len(t, emitter.byType(events.TypeTradeSignal), 1)
	require.Len(t, emitter.byType(events.TypePortfolioUpdate), 1)
}

func TestEngine_OneOpenPositionPerKey(t *testing.T) {
	gates := &fakeGates{}
	placer := &fakePlacer{}
	engine := newTestEngine(gates, placer, &fakeEmitter{})

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	buf := bufferFromCloses(100, 101, 102)
	engine.OnBar(context.Background(), "700.HK", buf)
	engine.OnBar(context.Background(), "700.HK", buf)
	engine.OnBar(context.Background(), "700.HK", buf)

	// The buy conditions stay satisfied, but the open position absorbs
	// every later evaluation: exactly one entry order, one position.
	assert.Equal(t, 1, placer.count(broker.OrderSideBuy))
	assert.Len(t, engine.OpenPositions(), 1)
	assert.Equal(t, 1, gates.entries)
}

func TestEngine_MaxPositionsCap(t *testing.T) {
	gates := &fakeGates{}
	placer := &fakePlacer{}
	engine := newTestEngine(gates, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.MaxPositions = 1
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))
	engine.OnBar(context.Background(), "AAPL.US", bufferFromCloses(200, 201))

	assert.Equal(t, 1, placer.count(broker.OrderSideBuy))
	assert.Len(t, engine.OpenPositions(), 1)
}

func TestEngine_GatesBlockEntry(t *testing.T) {
	gates := &fakeGates{allowErr: errors.ErrDailyTradeLimit}
	placer := &fakePlacer{}
	engine := newTestEngine(gates, placer, &fakeEmitter{})

	engine.ReplaceStrategies([]*strategy.Strategy{newTestStrategy()})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))

	assert.Empty(t, placer.requests)
	assert.Empty(t, engine.OpenPositions())
	assert.Zero(t, gates.entries)
}

func TestEngine_SizingFailureAbortsEntry(t *testing.T) {
	placer := &fakePlacer{}
	engine := NewEngine(NewEvaluator(), &fakeGates{},
		&fakeSizer{err: errors.ErrInvalidInput}, placer, &fakeEmitter{})

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))

	assert.Empty(t, placer.requests)
	assert.Equal(t, strategy.StatusMonitoring, engine.StatusOf(st.ID))
}

func TestEngine_TrailingStopOnlyRatchetsUp(t *testing.T) {
	gates := &fakeGates{}
	placer := &fakePlacer{}
	engine := newTestEngine(gates, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.TrailingStopPct = 0.05
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	key := position.Key{StrategyID: st.ID, Symbol: "700.HK"}

	// Entry at 100, initial stop at 95.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	pos, ok := engine.OpenPosition(key)
	require.True(t, ok)
	require.True(t, pos.StopLoss.Equal(decimal.NewFromInt(95)))

	// New high at 120 ratchets the stop to 114.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 120))
	pos, ok = engine.OpenPosition(key)
	require.True(t, ok)
	assert.True(t, pos.StopLoss.Equal(decimal.NewFromInt(114)), "stop = %s", pos.StopLoss)

	// Pullback to 115 never loosens the stop.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 120, 115))
	pos, ok = engine.OpenPosition(key)
	require.True(t, ok)
	assert.True(t, pos.StopLoss.Equal(decimal.NewFromInt(114)))
	assert.True(t, pos.HighWater.Equal(decimal.NewFromInt(120)))
}

func TestEngine_StopLossClosesWithRealizedPnL(t *testing.T) {
	gates := &fakeGates{}
	placer := &fakePlacer{}
	emitter := &fakeEmitter{}
	engine := newTestEngine(gates, placer, emitter)

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	// Entry at 100 with stop at 95, then the price falls through it.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 94))

	assert.Equal(t, 1, placer.count(broker.OrderSideSell))
	assert.Empty(t, engine.OpenPositions())

	closed := engine.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, position.CloseStopLoss, closed[0].CloseReason)
	// (94 - 100) * 10 shares
	assert.True(t, closed[0].RealizedPnL.Equal(decimal.NewFromInt(-60)),
		"pnl = %s", closed[0].RealizedPnL)
	assert.True(t, gates.lastPnL.Equal(decimal.NewFromInt(-60)))
	assert.Equal(t, 1, gates.exits)

	// The drain is one-shot.
	assert.Empty(t, engine.ClosedPositions())
}

func TestEngine_TakeProfitCloses(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.TakeProfitPct = 0.10
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 111))

	closed := engine.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, position.CloseTakeProfit, closed[0].CloseReason)
	assert.True(t, closed[0].RealizedPnL.Equal(decimal.NewFromInt(110)))
}

func TestEngine_SellSignalCloses(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.SellConditions = []strategy.Condition{{
		Type:        strategy.CondPriceChange,
		PriceChange: &strategy.PriceChangeParams{Bars: 1, Threshold: -2},
	}}
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	// -3% bar trips the sell condition before the 95 stop is reached.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 97))

	closed := engine.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, position.CloseSellSignal, closed[0].CloseReason)
}

func TestEngine_ExitFailureKeepsPositionOpen(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))

	placer.err = errors.ErrUnavailable
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 90))

	// The next bar retries the exit.
	assert.Len(t, engine.OpenPositions(), 1)
	assert.Equal(t, strategy.StatusMonitoring, engine.StatusOf(st.ID))

	placer.err = nil
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 90, 89))
	assert.Empty(t, engine.OpenPositions())
}

// stallPlacer blocks the first sell until release closes, holding the
// exit in flight so a second exit path can race it.
type stallPlacer struct {
	fakePlacer
	sellOnce sync.Once
	selling  chan struct{}
	release  chan struct{}
}

func (p *stallPlacer) Execute(ctx context.Context, req *broker.OrderRequest) (*broker.Order, error) {
	if req.Side == broker.OrderSideSell {
		p.sellOnce.Do(func() { close(p.selling) })
		<-p.release
	}
	return p.fakePlacer.Execute(ctx, req)
}

func TestEngine_ConcurrentExitPathsSellOnce(t *testing.T) {
	gates := &fakeGates{}
	placer := &stallPlacer{
		selling: make(chan struct{}),
		release: make(chan struct{}),
	}
	emitter := &fakeEmitter{}
	engine := NewEngine(NewEvaluator(), gates,
		&fakeSizer{qty: decimal.NewFromInt(10)}, placer, emitter)

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	key := position.Key{StrategyID: st.ID, Symbol: "700.HK"}
	require.Len(t, engine.OpenPositions(), 1)

	// The bar path breaches the stop and stalls inside the sell order.
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 94))
	}()
	<-placer.selling

	// A second exit path arriving while the first sell is in flight must
	// back off instead of submitting another sell for the same position.
	require.NoError(t, engine.Liquidate(context.Background(), key, decimal.NewFromInt(94)))

	close(placer.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stalled exit never completed")
	}

	assert.Equal(t, 1, placer.count(broker.OrderSideSell))
	assert.Empty(t, engine.OpenPositions())
	require.Len(t, engine.ClosedPositions(), 1)
	assert.Equal(t, 1, gates.exits)
	// One open, one close.
	assert.Len(t, emitter.byType(events.TypeTradeSignal), 2)
}

func TestEngine_CooldownBlocksReentry(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.Cooldown = time.Hour
	st.SellConditions = []strategy.Condition{alwaysBuy()} // fires every bar
	engine.ReplaceStrategies([]*strategy.Strategy{st})

	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))
	require.Len(t, engine.OpenPositions(), 1)

	// Bars one and two minutes later are inside the cooldown window, so
	// the always-true sell condition cannot close the position yet.
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 100))
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100, 100, 100))

	assert.Len(t, engine.OpenPositions(), 1)
	assert.Equal(t, 0, placer.count(broker.OrderSideSell))
	assert.Equal(t, strategy.StatusCooldown, engine.StatusOf(st.ID))
}

func TestEngine_Liquidate(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 100))

	key := position.Key{StrategyID: st.ID, Symbol: "700.HK"}
	err := engine.Liquidate(context.Background(), key, decimal.NewFromInt(99))
	require.NoError(t, err)
	assert.Empty(t, engine.OpenPositions())

	closed := engine.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, position.CloseLiquidated, closed[0].CloseReason)

	err = engine.Liquidate(context.Background(), key, decimal.NewFromInt(99))
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestEngine_DisabledStrategyNeverFires(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.Enabled = false
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))

	assert.Empty(t, placer.requests)
}

func TestEngine_SymbolScoping(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	st.Symbols = []string{"AAPL.US"}
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))

	assert.Empty(t, placer.requests)

	engine.OnBar(context.Background(), "AAPL.US", bufferFromCloses(100, 101))
	assert.Equal(t, 1, placer.count(broker.OrderSideBuy))
}

func TestEngine_ReplaceStrategiesPreservesState(t *testing.T) {
	placer := &fakePlacer{}
	engine := newTestEngine(&fakeGates{}, placer, &fakeEmitter{})

	st := newTestStrategy()
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	engine.OnBar(context.Background(), "700.HK", bufferFromCloses(100, 101))
	require.Len(t, engine.OpenPositions(), 1)

	// Reload with the same strategy: the open position and status survive.
	engine.ReplaceStrategies([]*strategy.Strategy{st})
	assert.Len(t, engine.OpenPositions(), 1)
	assert.Equal(t, strategy.StatusCooldown, engine.StatusOf(st.ID))

	// Removing the strategy keeps its position until it closes.
	engine.ReplaceStrategies(nil)
	assert.Len(t, engine.OpenPositions(), 1)
}
