package bootstrap

import (
	"github.com/majiajue/longbridge-sub000/internal/workers"
	"github.com/majiajue/longbridge-sub000/internal/workers/trading"
)

// MustInitBackground registers the background workers with the
// scheduler: the periodic trading cycle and the broker reconciliation
// loop.
func (c *Container) MustInitBackground() {
	wc := c.Config.Workers

	c.Background.Scheduler = workers.NewScheduler(workers.SchedulerConfig{
		ErrorCooldown: wc.CycleErrorCooldown,
	})

	opts := trading.EngineOptions{
		Interval:    wc.EngineInterval,
		SymbolDelay: wc.SymbolDelay,
		Risk:        c.Services.Risk,
		Strategy:    c.Services.Engine,
		Monitor:     c.Services.Monitor,
		Buffers:     c.Services.Buffers,
		Symbols:     &streamSource{c: c},
		Archive:     c.Repos.Archive,
		Store:       c.Repos.Positions,
		Emitter:     &fanoutEmitter{c: c},
	}
	if advisor := c.aiAdvisor(); advisor != nil {
		opts.Advisor = advisor
	}
	if c.Adapters.Telegram != nil {
		opts.Notifier = c.Adapters.Telegram
	}

	engine := trading.NewEngine(opts)
	engine.SetEnabled(wc.EngineEnabled)
	c.Background.Scheduler.RegisterWorker(engine)

	reconciler := trading.NewAutoPositionManager(c.Services.Monitor, wc.ReconcileInterval)
	reconciler.SetEnabled(wc.AutoPositionEnabled)
	c.Background.Scheduler.RegisterWorker(reconciler)

	c.Log.Infow("✓ Background workers registered",
		"engine_interval", wc.EngineInterval,
		"reconcile_interval", wc.ReconcileInterval,
	)
}
