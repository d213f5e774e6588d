package workers

import (
	"context"
	"sync"
	"time"

	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Scheduler coordinates the registered workers. Each enabled worker runs
// in its own goroutine on its own ticker; a failed iteration backs off
// for ErrorCooldown before the ticker resumes, so a broken collaborator
// cannot drive a tight error loop.
type Scheduler struct {
	workers       []Worker
	errorCooldown time.Duration
	stopTimeout   time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool

	log *logger.Logger
}

// SchedulerConfig tunes scheduler behavior.
type SchedulerConfig struct {
	ErrorCooldown time.Duration // wait after a failed iteration (default 60s)
	StopTimeout   time.Duration // bounded wait on Stop (default 30s)
}

// NewScheduler creates a worker scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &Scheduler{
		errorCooldown: cfg.ErrorCooldown,
		stopTimeout:   cfg.StopTimeout,
		log:           logger.Get().With("component", "scheduler"),
	}
}

// RegisterWorker adds a worker. Registration after Start is rejected.
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}
	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start launches every enabled worker. Rejected when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrEngineRunning, "scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Infow("Starting worker scheduler", "workers", len(s.workers))

	for _, worker := range s.workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}
		s.wg.Add(1)
		go s.runWorker(worker)
	}
	return nil
}

// Stop cancels all workers and waits with a bounded timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrEngineStopped, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Infow("Stopping worker scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Infow("All workers stopped")
	case <-time.After(s.stopTimeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
		shutdownErr = errors.Wrap(errors.ErrTimeout, "worker shutdown")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return shutdownErr
}

func (s *Scheduler) runWorker(worker Worker) {
	defer s.wg.Done()

	s.log.Infow("Worker started", "worker", worker.Name())

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// First iteration runs immediately
	if !s.executeWorker(worker) {
		if !s.coolDown(worker) {
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			s.log.Infow("Worker stopping", "worker", worker.Name())
			return
		case <-ticker.C:
			if !s.executeWorker(worker) {
				if !s.coolDown(worker) {
					return
				}
			}
		}
	}
}

// coolDown waits out the error cooldown; returns false when cancelled.
func (s *Scheduler) coolDown(worker Worker) bool {
	s.log.Infow("Worker cooling down after failure",
		"worker", worker.Name(), "cooldown", s.errorCooldown)
	timer := time.NewTimer(s.errorCooldown)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// executeWorker runs one iteration with panic isolation. Returns true on
// success.
func (s *Scheduler) executeWorker(worker Worker) (ok bool) {
	start := time.Now()
	base, hasHealth := worker.(interface {
		RecordRun(time.Duration)
		RecordError(error, time.Duration)
	})

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Worker panicked", "worker", worker.Name(), "panic", r)
			if hasHealth {
				base.RecordError(errors.Newf("panic: %v", r), time.Since(start))
			}
			metrics.RecordWorkerExecution(worker.Name(), time.Since(start), errors.Newf("panic: %v", r))
			ok = false
		}
	}()

	if err := worker.Run(s.ctx); err != nil {
		s.log.Errorw("Worker iteration failed",
			"worker", worker.Name(),
			"error", err,
			"duration", time.Since(start),
		)
		if hasHealth {
			base.RecordError(err, time.Since(start))
		}
		metrics.RecordWorkerExecution(worker.Name(), time.Since(start), err)
		return false
	}

	if hasHealth {
		base.RecordRun(time.Since(start))
	}
	metrics.RecordWorkerExecution(worker.Name(), time.Since(start), nil)
	return true
}

// Workers returns the registered workers.
func (s *Scheduler) Workers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Worker, len(s.workers))
	copy(out, s.workers)
	return out
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
