package trading

import (
	"context"
	"time"

	"github.com/majiajue/longbridge-sub000/internal/services/monitor"
	"github.com/majiajue/longbridge-sub000/internal/workers"
)

// AutoPositionManager keeps the monitored set aligned with the broker:
// every interval it runs the monitor's reconciliation pass.
type AutoPositionManager struct {
	*workers.BaseWorker
	monitor *monitor.Monitor
}

// NewAutoPositionManager creates the reconciliation worker.
func NewAutoPositionManager(m *monitor.Monitor, interval time.Duration) *AutoPositionManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AutoPositionManager{
		BaseWorker: workers.NewBaseWorker("auto_position_manager", interval, true),
		monitor:    m,
	}
}

// Run executes one reconciliation pass.
func (w *AutoPositionManager) Run(ctx context.Context) error {
	return w.monitor.Reconcile(ctx)
}
