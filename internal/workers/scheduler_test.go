package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

type countingWorker struct {
	*BaseWorker
	runs   atomic.Int64
	runErr error
	panics bool
}

func newCountingWorker(name string, interval time.Duration) *countingWorker {
	return &countingWorker{BaseWorker: NewBaseWorker(name, interval, true)}
}

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.panics {
		panic("worker exploded")
	}
	return w.runErr
}

func TestScheduler_StartRejectedWhileRunning(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEngineRunning))
	assert.True(t, s.IsRunning())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	err := s.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEngineStopped))
}

func TestScheduler_StartStopStartCycle(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	// A stopped scheduler may be started again.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_RunsWorkerOnInterval(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	w := newCountingWorker("ticker", 20*time.Millisecond)
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	// First iteration fires immediately, later ones on the ticker.
	require.Eventually(t, func() bool {
		return w.runs.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	h := w.Health()
	assert.GreaterOrEqual(t, h.RunCount, int64(3))
	assert.Zero(t, h.ErrorCount)
	assert.NoError(t, h.LastError)
}

func TestScheduler_SkipsDisabledWorker(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	w := newCountingWorker("disabled", 10*time.Millisecond)
	w.SetEnabled(false)
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, w.runs.Load())
}

func TestScheduler_ErrorCooldownThenRetry(t *testing.T) {
	s := NewScheduler(SchedulerConfig{ErrorCooldown: 30 * time.Millisecond})
	w := newCountingWorker("flaky", 10*time.Millisecond)
	w.runErr = errors.New("downstream unavailable")
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	// The worker keeps being retried after each cooldown instead of
	// spinning or dying.
	require.Eventually(t, func() bool {
		return w.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	h := w.Health()
	assert.GreaterOrEqual(t, h.ErrorCount, int64(2))
	assert.Error(t, h.LastError)
}

func TestScheduler_PanicIsolated(t *testing.T) {
	s := NewScheduler(SchedulerConfig{ErrorCooldown: 10 * time.Millisecond})
	bad := newCountingWorker("panicky", 10*time.Millisecond)
	bad.panics = true
	good := newCountingWorker("steady", 10*time.Millisecond)
	s.RegisterWorker(bad)
	s.RegisterWorker(good)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	require.Eventually(t, func() bool {
		return good.runs.Load() >= 3 && bad.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, bad.Health().ErrorCount, int64(1))
}

func TestScheduler_RegisterAfterStartRejected(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	s.RegisterWorker(newCountingWorker("early", time.Minute))

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	s.RegisterWorker(newCountingWorker("late", time.Minute))
	assert.Len(t, s.Workers(), 1)
}
