// Package trading contains the orchestration loops: the periodic trading
// cycle and the position reconciliation manager.
package trading

import (
	"context"
	"time"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/domain/position"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/services/monitor"
	"github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
	"github.com/majiajue/longbridge-sub000/internal/workers"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// SymbolSource supplies the configured target symbols.
type SymbolSource interface {
	Symbols() []string
}

// BarArchive backfills buffers from the historical store, oldest first.
type BarArchive interface {
	FetchBars(ctx context.Context, symbol string, limit int) ([]marketdata.Bar, error)
}

// PositionStore persists closed positions.
type PositionStore interface {
	SaveClosedPosition(ctx context.Context, pos *position.Position) error
}

// Advisor is the optional reasoning collaborator consulted after an
// entry, for the operator's context only. Its output never gates trades.
type Advisor interface {
	Advise(ctx context.Context, symbol string, bars []marketdata.Bar) (action, rationale string, confidence float64, err error)
}

// Engine is the periodic trading cycle: daily gates, per-symbol
// evaluation with rate-limit delays, then reconciliation.
type Engine struct {
	*workers.BaseWorker

	riskSvc  *risk.Service
	engine   *strategysvc.Engine
	monitor  *monitor.Monitor
	buffers  *marketdata.BufferSet
	symbols  SymbolSource
	archive  BarArchive    // optional
	store    PositionStore // optional
	advisor  Advisor       // optional
	emitter  strategysvc.Emitter
	notifier monitor.Notifier // optional

	symbolDelay time.Duration
	warmupBars  int
}

// EngineOptions bundles the cycle's collaborators.
type EngineOptions struct {
	Interval    time.Duration
	SymbolDelay time.Duration
	WarmupBars  int

	Risk      *risk.Service
	Strategy  *strategysvc.Engine
	Monitor   *monitor.Monitor
	Buffers   *marketdata.BufferSet
	Symbols   SymbolSource
	Archive   BarArchive
	Store     PositionStore
	Advisor   Advisor
	Emitter   strategysvc.Emitter
	Notifier  monitor.Notifier
}

// NewEngine creates the trading cycle worker.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.SymbolDelay <= 0 {
		opts.SymbolDelay = 500 * time.Millisecond
	}
	if opts.WarmupBars <= 0 {
		opts.WarmupBars = 100
	}
	return &Engine{
		BaseWorker:  workers.NewBaseWorker("trading_engine", opts.Interval, true),
		riskSvc:     opts.Risk,
		engine:      opts.Strategy,
		monitor:     opts.Monitor,
		buffers:     opts.Buffers,
		symbols:     opts.Symbols,
		archive:     opts.Archive,
		store:       opts.Store,
		advisor:     opts.Advisor,
		emitter:     opts.Emitter,
		notifier:    opts.Notifier,
		symbolDelay: opts.SymbolDelay,
		warmupBars:  opts.WarmupBars,
	}
}

// Run executes one full cycle. A breached daily gate skips the entire
// cycle; per-symbol failures are isolated and never abort the pass.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.riskSvc.DailyGatesOpen(ctx); err != nil {
		e.broadcastLog("warn", "Cycle skipped: "+err.Error())
		return nil
	}

	symbols := e.symbols.Symbols()
	e.broadcastLog("info", "Trading cycle started")

	processed, failed := 0, 0
	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.processSymbol(ctx, symbol); err != nil {
			failed++
			e.Log().Errorw("Symbol processing failed", "symbol", symbol, "error", err)
		} else {
			processed++
		}

		// Fixed inter-symbol delay to respect vendor rate limits
		if !sleepCtx(ctx, e.symbolDelay) {
			return ctx.Err()
		}
	}

	if err := e.monitor.Reconcile(ctx); err != nil {
		e.Log().Warnw("Post-cycle reconciliation failed", "error", err)
	}
	e.persistClosed(ctx)

	e.broadcastLogf("info", "Trading cycle finished: %d processed, %d failed", processed, failed)
	return nil
}

func (e *Engine) processSymbol(ctx context.Context, symbol string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("symbol panic: %v", r)
		}
	}()

	symbol = marketdata.CanonicalSymbol(symbol)
	buf := e.buffers.Get(symbol)
	e.warmup(ctx, symbol, buf)

	if buf.Len() == 0 {
		return nil
	}

	opened := e.openKeys()
	e.engine.OnBar(ctx, symbol, buf)
	e.adviseNewEntries(ctx, symbol, buf, opened)
	return nil
}

// warmup backfills the buffer from the archive when live ticks have not
// filled it yet.
func (e *Engine) warmup(ctx context.Context, symbol string, buf *marketdata.SymbolBuffer) {
	if e.archive == nil || buf.Len() >= e.warmupBars {
		return
	}
	bars, err := e.archive.FetchBars(ctx, symbol, e.warmupBars)
	if err != nil {
		e.Log().Warnw("Bar backfill failed", "symbol", symbol, "error", err)
		return
	}
	for _, bar := range bars {
		buf.Append(bar)
	}
}

// adviseNewEntries asks the reasoning collaborator for context on entries
// opened during this pass. Advice is informational only.
func (e *Engine) adviseNewEntries(ctx context.Context, symbol string, buf *marketdata.SymbolBuffer, before map[position.Key]struct{}) {
	if e.advisor == nil {
		return
	}
	for _, pos := range e.engine.OpenPositions() {
		if pos.Symbol != symbol {
			continue
		}
		if _, existed := before[pos.Key()]; existed {
			continue
		}
		action, rationale, confidence, err := e.advisor.Advise(ctx, symbol, buf.Bars())
		if err != nil {
			e.Log().Warnw("Advisor call failed", "symbol", symbol, "error", err)
			return
		}
		e.Log().Infow("🤖 Advisor context for new entry",
			"symbol", symbol, "action", action, "confidence", confidence)
		if e.notifier != nil {
			e.notifier.Notify(ctx, events.NotificationPayload{
				Title:   "Entry context: " + symbol,
				Body:    action + " (" + rationale + ")",
				Symbol:  symbol,
				Urgency: "low",
			})
		}
		return
	}
}

func (e *Engine) openKeys() map[position.Key]struct{} {
	out := make(map[position.Key]struct{})
	for _, pos := range e.engine.OpenPositions() {
		out[pos.Key()] = struct{}{}
	}
	return out
}

func (e *Engine) persistClosed(ctx context.Context) {
	closed := e.engine.ClosedPositions()
	if e.store == nil || len(closed) == 0 {
		return
	}
	for _, pos := range closed {
		if err := e.store.SaveClosedPosition(ctx, pos); err != nil {
			e.Log().Warnw("Closed position persistence failed",
				"symbol", pos.Symbol, "error", err)
		}
	}
}

func (e *Engine) broadcastLog(level, msg string) {
	e.Log().Infow(msg)
	if e.emitter != nil {
		e.emitter.Broadcast(events.NewMessage(events.TypeLog, events.LogPayload{
			Level:   level,
			Source:  e.Name(),
			Message: msg,
		}))
	}
}

func (e *Engine) broadcastLogf(level, format string, args ...interface{}) {
	e.broadcastLog(level, errors.Newf(format, args...).Error())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
