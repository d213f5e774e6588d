// Package monitor supervises broker positions: per-tick policy gates,
// strategy-mode dispatch, and periodic reconciliation against the
// authoritative broker snapshot.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/adapters/broker"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/monitoring"
	"github.com/majiajue/longbridge-sub000/internal/domain/position"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/internal/services/execution"
	"github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// ConfigStore persists per-symbol monitoring configurations.
type ConfigStore interface {
	ListMonitoringConfigs(ctx context.Context) ([]*monitoring.Config, error)
	SaveMonitoringConfig(ctx context.Context, cfg *monitoring.Config) error
	DeleteMonitoringConfig(ctx context.Context, symbol string) error
}

// Notifier delivers alert-only signals and risk notices to an external
// channel.
type Notifier interface {
	Notify(ctx context.Context, n events.NotificationPayload)
}

// Cooldowns persists per-symbol signal cooldown markers so a restart
// cannot reset an active cooldown window. The redis adapter satisfies it.
type Cooldowns interface {
	SetCooldown(ctx context.Context, symbol string, d time.Duration) error
	InCooldown(ctx context.Context, symbol string) (bool, error)
}

// monitored is one supervised broker position with its accumulated
// counters. Counters survive reconciliation refreshes.
type monitored struct {
	cfg    *monitoring.Config
	broker broker.BrokerPosition

	signalCount  int
	tradeCount   int
	lastSignalAt time.Time
}

// Monitor supervises every broker position. The monitored map is guarded
// by one exclusive lock held for each tick step and for the full
// reconciliation pass.
type Monitor struct {
	engine    *strategysvc.Engine
	evaluator *strategysvc.Evaluator
	riskSvc   *risk.Service
	exec      *execution.Service
	store     ConfigStore
	notifier  Notifier
	emitter   strategysvc.Emitter
	cooldowns Cooldowns

	buffers   *marketdata.BufferSet
	priceBook *execution.PriceBook

	barInterval time.Duration

	mu        sync.Mutex
	positions map[string]*monitored
	building  map[string]*buildingBar
	discovery map[string]time.Time
	portfolio decimal.Decimal // net assets, refreshed at reconcile

	log *logger.Logger
}

// Options bundles the monitor's collaborators.
type Options struct {
	Engine    *strategysvc.Engine
	Evaluator *strategysvc.Evaluator
	Risk      *risk.Service
	Execution *execution.Service
	Store     ConfigStore
	Notifier  Notifier
	Emitter   strategysvc.Emitter
	Cooldowns Cooldowns

	Buffers     *marketdata.BufferSet
	PriceBook   *execution.PriceBook
	BarInterval time.Duration
}

// New creates a position monitor.
func New(opts Options) *Monitor {
	if opts.BarInterval <= 0 {
		opts.BarInterval = time.Minute
	}
	return &Monitor{
		engine:      opts.Engine,
		evaluator:   opts.Evaluator,
		riskSvc:     opts.Risk,
		exec:        opts.Execution,
		store:       opts.Store,
		notifier:    opts.Notifier,
		emitter:     opts.Emitter,
		cooldowns:   opts.Cooldowns,
		buffers:     opts.Buffers,
		priceBook:   opts.PriceBook,
		barInterval: opts.BarInterval,
		positions:   make(map[string]*monitored),
		building:    make(map[string]*buildingBar),
		discovery:   make(map[string]time.Time),
		log:         logger.Get().With("component", "position_monitor"),
	}
}

// ProcessTick is the downstream sink for the quote stream: it folds the
// tick into the symbol's bar buffer, then runs the gate pipeline and
// strategy dispatch for the symbol's monitored position.
func (m *Monitor) ProcessTick(ctx context.Context, tick marketdata.Tick) {
	price := decimal.NewFromFloat(tick.Last)
	m.priceBook.Update(tick.Symbol, price)

	buf := m.foldBar(tick)

	m.mu.Lock()
	pos, ok := m.positions[tick.Symbol]
	if !ok && m.claimDiscoveryLocked(tick.Symbol) {
		// First sight of an unmonitored symbol: one targeted broker
		// lookup admits a holding ahead of the periodic reconcile.
		m.mu.Unlock()
		m.discoverPosition(ctx, tick.Symbol)
		m.mu.Lock()
		pos, ok = m.positions[tick.Symbol]
	}
	defer m.mu.Unlock()

	if !ok {
		// Gate 1: unknown symbol with nothing held at the broker; the
		// reconciliation pass stays authoritative.
		m.evaluateUnmonitored(ctx, tick.Symbol, buf)
		return
	}

	now := tick.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	// Gates 2..7, short-circuiting on the first failure.
	if !pos.cfg.Active() {
		return
	}
	if !pos.cfg.InTradingHours(now) {
		return
	}
	if pos.cfg.Expired(now) {
		return
	}
	if pos.cfg.MinPrice > 0 && tick.Last < pos.cfg.MinPrice {
		return
	}
	if pos.cfg.MaxPrice > 0 && tick.Last > pos.cfg.MaxPrice {
		return
	}
	if pos.cfg.MinVolume > 0 && tick.Volume < pos.cfg.MinVolume {
		return
	}
	if !m.riskGatesPassLocked(ctx, pos, price) {
		return
	}

	m.dispatchLocked(ctx, pos, tick.Symbol, buf, price, now)
}

// evaluateUnmonitored still feeds the global strategy engine so symbols
// without a broker position can be entered. Caller holds m.mu; the
// engine serializes its own state.
func (m *Monitor) evaluateUnmonitored(ctx context.Context, symbol string, buf *marketdata.SymbolBuffer) {
	if m.engine == nil || buf == nil {
		return
	}
	m.engine.OnBar(ctx, symbol, buf)
}

// discoveryInterval throttles per-symbol broker lookups on the tick path.
const discoveryInterval = 5 * time.Minute

// claimDiscoveryLocked records a discovery attempt for the symbol and
// reports whether one may run now. Caller holds m.mu.
func (m *Monitor) claimDiscoveryLocked(symbol string) bool {
	if m.exec == nil {
		return false
	}
	if last, ok := m.discovery[symbol]; ok && time.Since(last) < discoveryInterval {
		return false
	}
	m.discovery[symbol] = time.Now()
	return true
}

// discoverPosition asks the broker whether the symbol is already held and
// admits it into monitoring with a default configuration if so.
func (m *Monitor) discoverPosition(ctx context.Context, symbol string) {
	brokerPositions, err := m.exec.Positions(ctx)
	if err != nil {
		m.log.Warnw("Position discovery failed", "symbol", symbol, "error", err)
		return
	}

	for _, bp := range brokerPositions {
		if marketdata.CanonicalSymbol(bp.Symbol) != symbol {
			continue
		}

		cfg := monitoring.Default(symbol)
		m.mu.Lock()
		if _, exists := m.positions[symbol]; exists {
			m.mu.Unlock()
			return
		}
		m.positions[symbol] = &monitored{cfg: cfg, broker: bp}
		m.mu.Unlock()

		m.log.Infow("Position entered monitoring (tick discovery)",
			"symbol", symbol, "qty", bp.Quantity)
		if m.store != nil {
			if err := m.store.SaveMonitoringConfig(ctx, cfg); err != nil {
				m.log.Warnw("Config persist failed", "symbol", symbol, "error", err)
			}
		}
		return
	}
}

// buildingBar is the bar under construction for one symbol. The feed
// reports cumulative day volume, so the bar volume is the delta against
// the cumulative count at bar open.
type buildingBar struct {
	bar     marketdata.Bar
	volBase float64
}

// foldBar merges the tick into the symbol's building bar and appends it
// to the buffer. Same-bucket appends replace in place, so the buffer
// always carries the bar under construction as its newest entry.
func (m *Monitor) foldBar(tick marketdata.Tick) *marketdata.SymbolBuffer {
	bucket := tick.Bucket(m.barInterval)

	m.mu.Lock()
	b, ok := m.building[tick.Symbol]
	if !ok || !b.bar.Timestamp.Equal(bucket) {
		base := 0.0
		if ok {
			base = b.volBase + b.bar.Volume
		}
		b = &buildingBar{
			bar: marketdata.Bar{
				Symbol:    tick.Symbol,
				Open:      tick.Last,
				High:      tick.Last,
				Low:       tick.Last,
				Close:     tick.Last,
				Timestamp: bucket,
			},
			volBase: base,
		}
		m.building[tick.Symbol] = b
	}

	if tick.Last > b.bar.High {
		b.bar.High = tick.Last
	}
	if tick.Last < b.bar.Low {
		b.bar.Low = tick.Last
	}
	b.bar.Close = tick.Last
	if delta := tick.Volume - b.volBase; delta > 0 {
		b.bar.Volume = delta
	}
	snapshot := b.bar
	m.mu.Unlock()

	buf := m.buffers.Get(tick.Symbol)
	buf.Append(snapshot)
	return buf
}

// riskGatesPassLocked is gate 7: daily loss, exposure, weight, and
// volatility pause.
func (m *Monitor) riskGatesPassLocked(ctx context.Context, pos *monitored, price decimal.Decimal) bool {
	if m.riskSvc == nil {
		return true
	}
	if err := m.riskSvc.DailyGatesOpen(ctx); err != nil {
		return false
	}

	value := price.Mul(pos.broker.Quantity)
	if !m.riskSvc.PositionWeightOK(value, m.portfolio) {
		return false
	}

	total := decimal.Zero
	for sym, p := range m.positions {
		last, ok := m.priceBook.LastPrice(sym)
		if !ok {
			last = p.broker.CostPrice
		}
		total = total.Add(last.Mul(p.broker.Quantity))
	}
	if !m.riskSvc.ExposureOK(total, m.portfolio) {
		return false
	}

	if pos.broker.CostPrice.Sign() > 0 {
		ratio, _ := price.Sub(pos.broker.CostPrice).Div(pos.broker.CostPrice).Float64()
		if m.riskSvc.VolatilityPauseTriggered(ratio) {
			m.log.Warnw("Volatility pause triggered",
				"symbol", pos.broker.Symbol, "pnl_ratio", ratio)
			return false
		}
	}
	return true
}

// dispatchLocked evaluates the position's enabled strategies and acts per
// the configured strategy mode.
func (m *Monitor) dispatchLocked(ctx context.Context, pos *monitored, symbol string, buf *marketdata.SymbolBuffer, price decimal.Decimal, now time.Time) {
	if pos.cfg.Cooldown > 0 {
		if !pos.lastSignalAt.IsZero() && now.Sub(pos.lastSignalAt) < pos.cfg.Cooldown {
			return
		}
		// No in-memory timestamp after a restart; the persisted marker
		// still covers the window.
		if pos.lastSignalAt.IsZero() && m.cooldowns != nil {
			if cooling, err := m.cooldowns.InCooldown(ctx, symbol); err == nil && cooling {
				return
			}
		}
	}

	for _, id := range pos.cfg.EnabledStrategyIDs {
		st, ok := m.engine.StrategyByID(id)
		if !ok || !st.Enabled {
			continue
		}

		switch pos.cfg.StrategyMode {
		case monitoring.ModeAuto:
			key := position.Key{StrategyID: st.ID, Symbol: symbol}
			_, openBefore := m.engine.OpenPosition(key)
			m.engine.EvaluateStrategy(ctx, st, symbol, buf, price, now)
			if _, openAfter := m.engine.OpenPosition(key); openAfter != openBefore {
				pos.tradeCount++
				m.markCooldownLocked(ctx, pos, symbol, now)
			}

		case monitoring.ModeAlertOnly:
			buy := m.evaluator.EvaluateAll(st.BuyConditions, buf)
			sell := m.evaluator.EvaluateAll(st.SellConditions, buf)
			if !buy && !sell {
				continue
			}
			action := "buy"
			if sell {
				action = "sell"
			}
			pos.signalCount++
			m.markCooldownLocked(ctx, pos, symbol, now)
			m.announceSignal(ctx, st.Name, symbol, action, price)

		case monitoring.ModeDisabled:
			// Conditions run for observability only.
			if m.evaluator.EvaluateAll(st.BuyConditions, buf) ||
				m.evaluator.EvaluateAll(st.SellConditions, buf) {
				pos.signalCount++
				m.log.Infow("Signal observed (mode disabled)",
					"strategy", st.Name, "symbol", symbol)
			}
		}
	}
}

// markCooldownLocked stamps the signal time and persists the cooldown
// marker. Caller holds m.mu.
func (m *Monitor) markCooldownLocked(ctx context.Context, pos *monitored, symbol string, now time.Time) {
	pos.lastSignalAt = now
	if m.cooldowns == nil || pos.cfg.Cooldown <= 0 {
		return
	}
	if err := m.cooldowns.SetCooldown(ctx, symbol, pos.cfg.Cooldown); err != nil {
		m.log.Warnw("Cooldown persist failed", "symbol", symbol, "error", err)
	}
}

func (m *Monitor) announceSignal(ctx context.Context, strategyName, symbol, action string, price decimal.Decimal) {
	m.log.Infow("🔔 Alert-only signal",
		"strategy", strategyName, "symbol", symbol, "action", action, "price", price)

	payload := events.TradeSignalPayload{
		StrategyName: strategyName,
		Symbol:       symbol,
		Action:       action,
		Price:        price.InexactFloat64(),
		Executed:     false,
	}
	if m.emitter != nil {
		m.emitter.Broadcast(events.NewMessage(events.TypeTradeSignal, payload))
	}
	if m.notifier != nil {
		m.notifier.Notify(ctx, events.NotificationPayload{
			Title:   "Trade signal: " + symbol,
			Body:    strategyName + " fired " + action + " at " + price.String(),
			Symbol:  symbol,
			Urgency: "normal",
		})
	}
}

// Reconcile fetches the authoritative broker snapshot and synchronizes
// the monitored set: symbols no longer held are dropped (and their
// configuration deleted), surviving ones have quantity and cost refreshed
// in place so accumulated counters are preserved, and new holdings get a
// default configuration.
func (m *Monitor) Reconcile(ctx context.Context) (err error) {
	defer func() { metrics.RecordReconciliation(err) }()

	brokerPositions, err := m.exec.Positions(ctx)
	if err != nil {
		return err
	}

	var portfolio decimal.Decimal
	if balance, err := m.exec.Balance(ctx); err == nil {
		portfolio = balance.NetAssets
	} else {
		m.log.Warnw("Balance fetch failed during reconcile", "error", err)
	}

	bySymbol := make(map[string]broker.BrokerPosition, len(brokerPositions))
	for _, p := range brokerPositions {
		bySymbol[marketdata.CanonicalSymbol(p.Symbol)] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if portfolio.Sign() > 0 {
		m.portfolio = portfolio
	}

	// Drop positions the broker no longer reports.
	for symbol := range m.positions {
		if _, held := bySymbol[symbol]; !held {
			delete(m.positions, symbol)
			m.log.Infow("Position left monitoring (closed at broker)", "symbol", symbol)
			if m.store != nil {
				if err := m.store.DeleteMonitoringConfig(ctx, symbol); err != nil {
					m.log.Warnw("Config delete failed", "symbol", symbol, "error", err)
				}
			}
		}
	}

	// Refresh survivors in place, admit newcomers with defaults.
	for symbol, bp := range bySymbol {
		if existing, ok := m.positions[symbol]; ok {
			existing.broker.Quantity = bp.Quantity
			existing.broker.CostPrice = bp.CostPrice
			continue
		}
		cfg := monitoring.Default(symbol)
		m.positions[symbol] = &monitored{cfg: cfg, broker: bp}
		m.log.Infow("Position entered monitoring", "symbol", symbol, "qty", bp.Quantity)
		if m.store != nil {
			if err := m.store.SaveMonitoringConfig(ctx, cfg); err != nil {
				m.log.Warnw("Config persist failed", "symbol", symbol, "error", err)
			}
		}
	}

	return nil
}

// LoadConfigs restores persisted monitoring configurations, overriding
// the defaults created by reconciliation.
func (m *Monitor) LoadConfigs(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	configs, err := m.store.ListMonitoringConfigs(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range configs {
		if pos, ok := m.positions[cfg.Symbol]; ok {
			pos.cfg = cfg
		} else {
			m.positions[cfg.Symbol] = &monitored{cfg: cfg}
		}
	}
	m.log.Infow("Monitoring configurations loaded", "count", len(configs))
	return nil
}

// UpdateConfig applies and persists a configuration change for a symbol.
func (m *Monitor) UpdateConfig(ctx context.Context, cfg *monitoring.Config) error {
	cfg.UpdatedAt = time.Now()
	if m.store != nil {
		if err := m.store.SaveMonitoringConfig(ctx, cfg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[cfg.Symbol]; ok {
		pos.cfg = cfg
	} else {
		m.positions[cfg.Symbol] = &monitored{cfg: cfg}
	}
	return nil
}

// MonitoredView is the status snapshot of one supervised position.
type MonitoredView struct {
	Symbol       string
	Status       monitoring.Status
	StrategyMode monitoring.StrategyMode
	Quantity     decimal.Decimal
	CostPrice    decimal.Decimal
	SignalCount  int
	TradeCount   int
	LastSignalAt time.Time
}

// Snapshot returns the current monitored set.
func (m *Monitor) Snapshot() []MonitoredView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MonitoredView, 0, len(m.positions))
	for symbol, p := range m.positions {
		out = append(out, MonitoredView{
			Symbol:       symbol,
			Status:       p.cfg.Status,
			StrategyMode: p.cfg.StrategyMode,
			Quantity:     p.broker.Quantity,
			CostPrice:    p.broker.CostPrice,
			SignalCount:  p.signalCount,
			TradeCount:   p.tradeCount,
			LastSignalAt: p.lastSignalAt,
		})
	}
	return out
}
