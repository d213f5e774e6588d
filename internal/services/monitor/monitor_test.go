package monitor

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
	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/monitoring"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/services/execution"
	riskservice "github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
)

type stubBroker struct {
	mu        sync.Mutex
	positions []broker.BrokerPosition
	netAssets decimal.Decimal
	placed    int
	listCalls int
}

func (b *stubBroker) Name() string { return "stub" }

func (b *stubBroker) PlaceOrder(ctx context.Context, req *broker.OrderRequest) (*broker.Order, error) {
	b.mu.Lock()
	b.placed++
	b.mu.Unlock()
	return &broker.Order{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      broker.OrderStatusFilled,
		Quantity:    req.Quantity,
		FilledQty:   req.Quantity,
		FilledPrice: decimal.NewFromInt(100),
	}, nil
}

func (b *stubBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (b *stubBroker) GetOrder(ctx context.Context, orderID string) (*broker.Order, error) {
	return nil, nil
}

func (b *stubBroker) GetPositions(ctx context.Context) ([]broker.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	out := make([]broker.BrokerPosition, len(b.positions))
	copy(out, b.positions)
	return out, nil
}

func (b *stubBroker) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func (b *stubBroker) GetBalance(ctx context.Context) (*broker.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &broker.Balance{Cash: b.netAssets, NetAssets: b.netAssets}, nil
}

func (b *stubBroker) setPositions(positions ...broker.BrokerPosition) {
	b.mu.Lock()
	b.positions = positions
	b.mu.Unlock()
}

type memoryConfigStore struct {
	mu      sync.Mutex
	configs map[string]*monitoring.Config
	deletes []string
}

func newMemoryConfigStore() *memoryConfigStore {
	return &memoryConfigStore{configs: make(map[string]*monitoring.Config)}
}

func (s *memoryConfigStore) ListMonitoringConfigs(ctx context.Context) ([]*monitoring.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*monitoring.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *memoryConfigStore) SaveMonitoringConfig(ctx context.Context, cfg *monitoring.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Symbol] = cfg
	return nil
}

func (s *memoryConfigStore) DeleteMonitoringConfig(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, symbol)
	s.deletes = append(s.deletes, symbol)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []events.NotificationPayload
}

func (n *recordingNotifier) Notify(ctx context.Context, p events.NotificationPayload) {
	n.mu.Lock()
	n.notes = append(n.notes, p)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type fakeCooldowns struct {
	mu      sync.Mutex
	markers map[string]time.Time // symbol -> expiry
}

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{markers: make(map[string]time.Time)}
}

func (c *fakeCooldowns) SetCooldown(ctx context.Context, symbol string, d time.Duration) error {
	c.mu.Lock()
	c.markers[symbol] = time.Now().Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeCooldowns) InCooldown(ctx context.Context, symbol string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.markers[symbol]
	return ok && time.Now().Before(expiry), nil
}

type nopGates struct{}

func (nopGates) AllowEntry(ctx context.Context, symbol string) error       { return nil }
func (nopGates) RecordEntry(ctx context.Context)                           {}
func (nopGates) RecordExit(ctx context.Context, realized decimal.Decimal)  {}

type fixedSizer struct{}

func (fixedSizer) Quantity(ctx context.Context, st *strategy.Strategy, price decimal.Decimal) (decimal.Decimal, error) {
	return decimal.NewFromInt(10), nil
}

type monitorHarness struct {
	monitor   *Monitor
	engine    *strategysvc.Engine
	broker    *stubBroker
	store     *memoryConfigStore
	notifier  *recordingNotifier
	cooldowns *fakeCooldowns
}

func newHarness(t *testing.T) *monitorHarness {
	t.Helper()

	stub := &stubBroker{netAssets: decimal.NewFromInt(100000)}
	exec := execution.NewService(config.ModePaper, stub)
	store := newMemoryConfigStore()
	notifier := &recordingNotifier{}
	cooldowns := newFakeCooldowns()

	engine := strategysvc.NewEngine(strategysvc.NewEvaluator(), nopGates{}, fixedSizer{}, exec, nil)

	m := New(Options{
		Engine:      engine,
		Evaluator:   strategysvc.NewEvaluator(),
		Risk:        riskservice.NewService(nil, nil, nil),
		Execution:   exec,
		Store:       store,
		Notifier:    notifier,
		Cooldowns:   cooldowns,
		Buffers:     marketdata.NewBufferSet(200),
		PriceBook:   execution.NewPriceBook(),
		BarInterval: time.Minute,
	})
	return &monitorHarness{
		monitor: m, engine: engine, broker: stub,
		store: store, notifier: notifier, cooldowns: cooldowns,
	}
}

// alwaysFiring is satisfied by any two bars.
func alwaysFiring() strategy.Condition {
	return strategy.Condition{
		Type:        strategy.CondPriceChange,
		PriceChange: &strategy.PriceChangeParams{Bars: 1, Threshold: 1000},
	}
}

func loadStrategy(h *monitorHarness) *strategy.Strategy {
	st := &strategy.Strategy{
		ID:            uuid.New(),
		Name:          "drawdown alert",
		Enabled:       true,
		BuyConditions: []strategy.Condition{alwaysFiring()},
	}
	h.engine.ReplaceStrategies([]*strategy.Strategy{st})
	return st
}

func tickAt(minute int, last float64) marketdata.Tick {
	t0 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	return marketdata.Tick{
		Symbol:    "700.HK",
		Last:      last,
		Volume:    10000,
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func TestReconcile_AdmitsAndDropsPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.broker.setPositions(broker.BrokerPosition{
		Symbol: "700.hk", Quantity: decimal.NewFromInt(100), CostPrice: decimal.NewFromInt(340),
	})
	require.NoError(t, h.monitor.Reconcile(ctx))

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "700.HK", snap[0].Symbol, "broker symbols are canonicalized")
	assert.Equal(t, monitoring.StatusEnabled, snap[0].Status)
	assert.Equal(t, monitoring.ModeAlertOnly, snap[0].StrategyMode, "new holdings default to alert-only")
	assert.Contains(t, h.store.configs, "700.HK", "default config is persisted")

	// Broker no longer reports the holding: dropped and config deleted.
	h.broker.setPositions()
	require.NoError(t, h.monitor.Reconcile(ctx))
	assert.Empty(t, h.monitor.Snapshot())
	assert.Contains(t, h.store.deletes, "700.HK")
}

func TestReconcile_RefreshPreservesCounters(t *testing.T) {
	h := newHarness(t)
	loadStrategy(h)
	ctx := context.Background()

	h.broker.setPositions(broker.BrokerPosition{
		Symbol: "700.HK", Quantity: decimal.NewFromInt(100), CostPrice: decimal.NewFromInt(340),
	})
	require.NoError(t, h.monitor.Reconcile(ctx))

	cfg := monitoring.Default("700.HK")
	st := h.engine.Strategies()[0]
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	// Two ticks in different buckets give the condition its two bars.
	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	require.Equal(t, 1, h.notifier.count())

	// Quantity changed at the broker; the counter survives the refresh.
	h.broker.setPositions(broker.BrokerPosition{
		Symbol: "700.HK", Quantity: decimal.NewFromInt(50), CostPrice: decimal.NewFromInt(345),
	})
	require.NoError(t, h.monitor.Reconcile(ctx))

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].SignalCount)
	assert.True(t, snap[0].Quantity.Equal(decimal.NewFromInt(50)))
}

func TestProcessTick_AlertOnlyNotifiesWithoutTrading(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))

	assert.Equal(t, 1, h.notifier.count())
	assert.Zero(t, h.broker.placed, "alert-only must never execute")
	assert.Empty(t, h.engine.OpenPositions())

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].SignalCount)
	assert.Zero(t, snap[0].TradeCount)
}

func TestProcessTick_AutoModeExecutes(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.StrategyMode = monitoring.ModeAuto
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))

	assert.Equal(t, 1, h.broker.placed)
	assert.Len(t, h.engine.OpenPositions(), 1)

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].TradeCount)
}

func TestProcessTick_DisabledModeOnlyObserves(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.StrategyMode = monitoring.ModeDisabled
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))

	assert.Zero(t, h.broker.placed)
	assert.Zero(t, h.notifier.count())

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].SignalCount)
}

func TestProcessTick_StatusGate(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.Status = monitoring.StatusPaused
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))

	assert.Zero(t, h.notifier.count())
}

func TestProcessTick_TradingHoursGate(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	// Ticks arrive at 10:00 UTC; the window excludes them.
	cfg.TradingHours = []monitoring.Window{{Start: "13:00", End: "16:00"}}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	assert.Zero(t, h.notifier.count())

	// Widening the window lets the next tick through.
	cfg.TradingHours = []monitoring.Window{{Start: "09:00", End: "16:00"}}
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))
	h.monitor.ProcessTick(ctx, tickAt(2, 352))
	assert.Equal(t, 1, h.notifier.count())
}

func TestProcessTick_PriceBandGate(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	cfg.MinPrice = 400
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	assert.Zero(t, h.notifier.count(), "price below the floor is gated")

	h.monitor.ProcessTick(ctx, tickAt(2, 405))
	assert.Equal(t, 1, h.notifier.count())
}

func TestProcessTick_CooldownGate(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	cfg.Cooldown = time.Hour
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	require.Equal(t, 1, h.notifier.count())

	// Signals inside the cooldown window are suppressed.
	h.monitor.ProcessTick(ctx, tickAt(2, 352))
	h.monitor.ProcessTick(ctx, tickAt(3, 353))
	assert.Equal(t, 1, h.notifier.count())
}

func TestProcessTick_CooldownSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	cfg.Cooldown = time.Hour
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	require.Equal(t, 1, h.notifier.count())

	// A fresh process shares the persisted marker store: the in-memory
	// timestamp is gone, but the window still holds.
	h2 := newHarness(t)
	h2.monitor.cooldowns = h.cooldowns
	st2 := loadStrategy(h2)
	cfg2 := monitoring.Default("700.HK")
	cfg2.EnabledStrategyIDs = []uuid.UUID{st2.ID}
	cfg2.Cooldown = time.Hour
	require.NoError(t, h2.monitor.UpdateConfig(ctx, cfg2))

	h2.monitor.ProcessTick(ctx, tickAt(0, 350))
	h2.monitor.ProcessTick(ctx, tickAt(1, 351))
	assert.Zero(t, h2.notifier.count(), "persisted cooldown must suppress the signal")
}

func TestProcessTick_DiscoversHeldSymbol(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The broker already holds the stock, but no reconcile has run yet.
	h.broker.setPositions(broker.BrokerPosition{
		Symbol: "700.hk", Quantity: decimal.NewFromInt(100), CostPrice: decimal.NewFromInt(340),
	})
	h.monitor.ProcessTick(ctx, tickAt(0, 350))

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1, "first tick admits the holding")
	assert.Equal(t, "700.HK", snap[0].Symbol)
	assert.Equal(t, monitoring.ModeAlertOnly, snap[0].StrategyMode)
	assert.Contains(t, h.store.configs, "700.HK", "default config is persisted")
}

func TestProcessTick_DiscoveryThrottled(t *testing.T) {
	h := newHarness(t)
	loadStrategy(h)
	ctx := context.Background()

	// Nothing held at the broker: only the first sight may trigger a
	// lookup, later ticks go straight to the unmonitored path.
	for i := 0; i < 4; i++ {
		h.monitor.ProcessTick(ctx, tickAt(i, 350+float64(i)))
	}

	assert.Equal(t, 1, h.broker.listCount())
	assert.Empty(t, h.monitor.Snapshot())
	assert.Len(t, h.engine.OpenPositions(), 1, "the engine still sees every bar")
}

func TestProcessTick_ExpiredConfigGate(t *testing.T) {
	h := newHarness(t)
	st := loadStrategy(h)
	ctx := context.Background()

	expiry := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // before the ticks
	cfg := monitoring.Default("700.HK")
	cfg.EnabledStrategyIDs = []uuid.UUID{st.ID}
	cfg.ExpiresAt = &expiry
	require.NoError(t, h.monitor.UpdateConfig(ctx, cfg))

	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))
	assert.Zero(t, h.notifier.count())
}

func TestProcessTick_UnmonitoredSymbolStillFeedsEngine(t *testing.T) {
	h := newHarness(t)
	loadStrategy(h)
	ctx := context.Background()

	// No monitoring config exists; the engine still sees the bars and
	// opens a position for the global strategy.
	h.monitor.ProcessTick(ctx, tickAt(0, 350))
	h.monitor.ProcessTick(ctx, tickAt(1, 351))

	assert.Len(t, h.engine.OpenPositions(), 1)
}

func TestFoldBar_AggregatesTicksIntoBars(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	send := func(sec int, last, cumVolume float64) {
		h.monitor.ProcessTick(ctx, marketdata.Tick{
			Symbol:    "700.HK",
			Last:      last,
			Volume:    cumVolume,
			Timestamp: t0.Add(time.Duration(sec) * time.Second),
		})
	}

	// Three ticks in one minute bucket, then one in the next.
	send(0, 350, 1000)
	send(20, 355, 1500)
	send(40, 352, 2100)
	send(70, 353, 2400)

	b, ok := h.monitor.buffers.Peek("700.HK")
	require.True(t, ok)
	bars := b.Bars()
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, 350.0, first.Open)
	assert.Equal(t, 355.0, first.High)
	assert.Equal(t, 350.0, first.Low)
	assert.Equal(t, 352.0, first.Close)
	assert.Equal(t, 2100.0, first.Volume, "bar volume is the cumulative delta")

	second := bars[1]
	assert.Equal(t, 353.0, second.Open)
	assert.Equal(t, 300.0, second.Volume)
}

func TestLoadConfigs_OverridesDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stored := monitoring.Default("700.HK")
	stored.StrategyMode = monitoring.ModeAuto
	require.NoError(t, h.store.SaveMonitoringConfig(ctx, stored))

	require.NoError(t, h.monitor.LoadConfigs(ctx))

	snap := h.monitor.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, monitoring.ModeAuto, snap[0].StrategyMode)
}
