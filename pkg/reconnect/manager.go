package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Manager tracks connection health and paces reconnection attempts with
// exponential backoff. It is transport-level only: the quote stream worker
// decides *when* a session must be rebuilt, the manager decides *how long*
// to wait between attempts and whether the link looks dead.
type Manager struct {
	minBackoff       time.Duration
	maxBackoff       time.Duration
	multiplier       float64
	heartbeatTimeout time.Duration

	mu              sync.RWMutex
	currentBackoff  time.Duration
	failures        int
	totalReconnects int

	// Unix seconds of the last received feed message
	lastMessageTime atomic.Int64

	log *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	MinBackoff       time.Duration // initial wait between attempts (default 2s)
	MaxBackoff       time.Duration // cap on the wait (default 2m)
	Multiplier       float64       // backoff growth factor (default 2.0)
	HeartbeatTimeout time.Duration // max silence before the link counts as dead (default 45s)
}

// NewManager creates a reconnect manager with defaults applied
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 45 * time.Second
	}

	return &Manager{
		minBackoff:       cfg.MinBackoff,
		maxBackoff:       cfg.MaxBackoff,
		multiplier:       cfg.Multiplier,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		currentBackoff:   cfg.MinBackoff,
		log:              log,
	}
}

// RecordMessage updates the heartbeat timestamp.
// Call on every message received from the connection.
func (m *Manager) RecordMessage() {
	m.lastMessageTime.Store(time.Now().Unix())
}

// Healthy reports whether the connection has produced a message recently.
// A connection that has not yet produced any message counts as healthy.
func (m *Manager) Healthy() bool {
	last := m.lastMessageTime.Load()
	if last == 0 {
		return true
	}

	silence := time.Since(time.Unix(last, 0))
	if silence > m.heartbeatTimeout {
		m.log.Warnw("Feed connection appears dead",
			"silence", silence,
			"heartbeat_timeout", m.heartbeatTimeout,
		)
		return false
	}
	return true
}

// RecordFailure notes a failed attempt and grows the backoff
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	next := time.Duration(float64(m.currentBackoff) * m.multiplier)
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.currentBackoff = next

	m.log.Warnw("Reconnect attempt failed",
		"consecutive_failures", m.failures,
		"next_backoff", m.currentBackoff,
	)
}

// RecordSuccess resets the backoff after a successful connection
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.log.Infow("Reconnected, resetting backoff",
			"previous_failures", m.failures,
		)
	}
	m.currentBackoff = m.minBackoff
	m.failures = 0
	m.totalReconnects++
	m.lastMessageTime.Store(time.Now().Unix())
}

// Backoff returns the current wait duration
func (m *Manager) Backoff() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentBackoff
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures int
	TotalReconnects     int
	CurrentBackoff      time.Duration
	LastMessageTime     time.Time
	Healthy             bool
}

// GetStats returns a snapshot of the manager state
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last time.Time
	if ts := m.lastMessageTime.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}

	return Stats{
		ConsecutiveFailures: m.failures,
		TotalReconnects:     m.totalReconnects,
		CurrentBackoff:      m.currentBackoff,
		LastMessageTime:     last,
		Healthy:             m.Healthy(),
	}
}

// Retry waits the current backoff, then runs connectFn, updating the
// failure/success counters. Returns ctx.Err() if cancelled while waiting.
func (m *Manager) Retry(ctx context.Context, connectFn func(context.Context) error) error {
	backoff := m.Backoff()
	if backoff > 0 {
		m.log.Infow("Waiting before reconnect attempt", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := connectFn(ctx); err != nil {
		m.RecordFailure()
		return err
	}

	m.RecordSuccess()
	return nil
}
