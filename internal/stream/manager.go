// Package stream owns the market-data feed session lifecycle and fans
// every received tick out to registered listeners and to the trading
// pipeline. Exactly one worker runs the session at a time; listeners
// survive credential rotation and session restarts.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/majiajue/longbridge-sub000/internal/adapters/quote"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
	"github.com/majiajue/longbridge-sub000/pkg/reconnect"
)

// State is the feed session state visible in status snapshots.
type State string

const (
	StateIdle               State = "idle"
	StateWaitingCredentials State = "waiting_credentials"
	StateWaitingSymbols     State = "waiting_symbols"
	StateRunning            State = "running"
	StateError              State = "error"
	StateRestarting         State = "restarting"
	StateStopped            State = "stopped"
)

// Source supplies the authoritative feed configuration. Implementations
// must be safe for concurrent use; the worker re-reads them on every
// session attempt and on symbol reload.
type Source interface {
	HasCredentials() bool
	Symbols() []string
}

// Archive persists every tick. Failures are logged, never propagated into
// the delivery path.
type Archive interface {
	SaveTick(ctx context.Context, tick marketdata.Tick) error
}

// Sink receives normalized ticks for strategy and position evaluation,
// off the delivery path.
type Sink interface {
	ProcessTick(ctx context.Context, tick marketdata.Tick)
}

// Options bundles the manager's collaborators and tuning.
type Options struct {
	Factory quote.Factory
	Source  Source
	Archive Archive // optional
	Sink    Sink    // optional

	ListenerCapacity int           // per-listener queue size
	DispatchCapacity int           // downstream evaluation queue size
	CredentialsRetry time.Duration // wait while credentials are missing
	ErrorRetry       time.Duration // wait after a session-level failure
	StopTimeout      time.Duration // bounded join on Stop
}

func (o *Options) defaults() {
	if o.ListenerCapacity <= 0 {
		o.ListenerCapacity = 100
	}
	if o.DispatchCapacity <= 0 {
		o.DispatchCapacity = 512
	}
	if o.CredentialsRetry <= 0 {
		o.CredentialsRetry = 3 * time.Second
	}
	if o.ErrorRetry <= 0 {
		o.ErrorRetry = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
}

// Snapshot is the read-only view returned by Snapshot and pushed to late
// joiners as a synthetic status message.
type Snapshot struct {
	State      State
	Symbols    []string
	Listeners  int
	LastTickAt time.Time
	LastError  string
}

// Manager owns the feed worker and the listener set.
type Manager struct {
	opts        Options
	broadcaster *events.Broadcaster

	mu         sync.Mutex
	state      State
	subscribed []string
	lastTickAt time.Time
	lastErr    string

	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	restartCh chan struct{}
	reloadCh  chan struct{}

	dispatchMu sync.Mutex
	dispatchCh chan marketdata.Tick

	backoff *reconnect.Manager
	log     *logger.Logger
}

// NewManager creates a stream manager. The worker is not started until
// EnsureStarted or RequestRestart is called.
func NewManager(opts Options) *Manager {
	opts.defaults()
	log := logger.Get().With("component", "quote_stream")
	return &Manager{
		opts:        opts,
		broadcaster: events.NewBroadcaster(opts.ListenerCapacity),
		state:       StateIdle,
		restartCh:   make(chan struct{}, 1),
		reloadCh:    make(chan struct{}, 1),
		backoff:     reconnect.NewManager(reconnect.Config{MinBackoff: opts.ErrorRetry}, log),
		log:         log,
	}
}

// EnsureStarted starts the feed worker if it is not already running.
// Idempotent and safe for concurrent callers; exactly one worker runs.
func (m *Manager) EnsureStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	m.dispatchMu.Lock()
	m.dispatchCh = make(chan marketdata.Tick, m.opts.DispatchCapacity)
	m.dispatchMu.Unlock()

	go m.run(m.stopCh, m.doneCh, m.dispatchCh)
	m.log.Infow("🚀 Quote stream worker started")
}

// AddListener registers a bounded sink and immediately delivers a
// synthetic status snapshot so late joiners see current state before the
// next live tick.
func (m *Manager) AddListener() *events.Listener {
	l := m.broadcaster.Add()
	if l == nil {
		return nil
	}
	metrics.StreamListeners.Set(float64(m.broadcaster.Count()))
	snap := m.Snapshot()
	l.Send(events.NewMessage(events.TypeStatus, statusPayload(snap)))
	return l
}

// RemoveListener unregisters a listener. Safe to call twice or with nil.
func (m *Manager) RemoveListener(l *events.Listener) {
	m.broadcaster.Remove(l)
	metrics.StreamListeners.Set(float64(m.broadcaster.Count()))
}

// Broadcast pushes a message to every registered listener. Exposed so the
// trading pipeline can emit signal and portfolio events on the same fan-out.
func (m *Manager) Broadcast(msg events.Message) {
	m.broadcaster.Broadcast(msg)
}

// ReloadSymbols signals the worker to diff the live subscription against
// the configured set without tearing down the session.
func (m *Manager) ReloadSymbols() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

// RequestRestart signals the worker to rebuild its session, e.g. after
// credential rotation. Starts the worker when none is running.
func (m *Manager) RequestRestart() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		m.EnsureStarted()
		return
	}
	select {
	case m.restartCh <- struct{}{}:
	default:
	}
}

// Stop cancels the worker cooperatively and waits for it with a bounded
// timeout. Listeners stay registered; EnsureStarted resumes delivery.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(m.opts.StopTimeout):
		m.log.Warnw("Quote stream worker did not stop in time",
			"timeout", m.opts.StopTimeout)
	}

	m.setState(StateStopped, nil)
}

// Snapshot returns the current session status.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbols := make([]string, len(m.subscribed))
	copy(symbols, m.subscribed)
	return Snapshot{
		State:      m.state,
		Symbols:    symbols,
		Listeners:  m.broadcaster.Count(),
		LastTickAt: m.lastTickAt,
		LastError:  m.lastErr,
	}
}

// Close stops the worker and releases every listener.
func (m *Manager) Close() {
	m.Stop()
	m.broadcaster.Close()
}

func statusPayload(s Snapshot) events.StatusPayload {
	return events.StatusPayload{
		State:       string(s.State),
		Symbols:     s.Symbols,
		Listeners:   s.Listeners,
		LastTickAt:  s.LastTickAt,
		LastError:   s.LastError,
		GeneratedAt: time.Now(),
	}
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	if err != nil {
		m.lastErr = err.Error()
	} else if s == StateRunning {
		m.lastErr = ""
	}
	m.mu.Unlock()

	if changed {
		m.broadcaster.Broadcast(events.NewMessage(events.TypeStatus, statusPayload(m.Snapshot())))
	}
}

func (m *Manager) setSubscribed(symbols []string) {
	m.mu.Lock()
	m.subscribed = symbols
	m.mu.Unlock()
}

// sleep waits interruptibly; returns false when stop was requested.
func (m *Manager) sleep(d time.Duration, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// run is the worker loop: it drives the session state machine until
// stopped, rebuilding sessions after errors and restart requests.
func (m *Manager) run(stopCh chan struct{}, doneCh chan struct{}, dispatchCh chan marketdata.Tick) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("💥 Quote stream worker panicked", "panic", r)
			m.setState(StateError, errors.Newf("worker panic: %v", r))
		}
	}()

	dispatchDone := make(chan struct{})
	go m.dispatchLoop(dispatchCh, stopCh, dispatchDone)
	defer func() { <-dispatchDone }()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if !m.opts.Source.HasCredentials() {
			m.setState(StateWaitingCredentials, errors.ErrMissingCredentials)
			if !m.sleep(m.opts.CredentialsRetry, stopCh) {
				return
			}
			continue
		}

		symbols := canonicalize(m.opts.Source.Symbols())
		if len(symbols) == 0 {
			m.setState(StateWaitingSymbols, errors.ErrEmptySymbolSet)
			if !m.sleep(m.opts.CredentialsRetry, stopCh) {
				return
			}
			continue
		}

		if !m.runSession(symbols, stopCh, dispatchCh) {
			return
		}
	}
}

// runSession drives one live session until stop, restart, or death.
// Returns false when the worker must exit.
func (m *Manager) runSession(symbols []string, stopCh <-chan struct{}, dispatchCh chan marketdata.Tick) bool {
	deadCh := make(chan error, 1)
	session := m.opts.Factory(&sessionHandler{m: m, dispatchCh: dispatchCh, deadCh: deadCh})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	connect := func(ctx context.Context) error {
		cctx, ccancel := context.WithTimeout(ctx, 15*time.Second)
		defer ccancel()
		return session.Connect(cctx)
	}

	// The first attempt after a healthy session connects immediately;
	// after a failure the backoff manager paces the retries, growing the
	// wait until a connect succeeds.
	var err error
	if m.backoff.GetStats().ConsecutiveFailures > 0 {
		err = m.backoff.Retry(ctx, connect)
	} else if err = connect(ctx); err != nil {
		m.backoff.RecordFailure()
	} else {
		m.backoff.RecordSuccess()
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.setState(StateError, err)
		m.log.Errorw("Feed session connect failed",
			"error", err, "next_backoff", m.backoff.Backoff())
		metrics.StreamRestarts.WithLabelValues("connect_error").Inc()
		return true
	}

	if err := session.Subscribe(symbols); err != nil {
		session.Close()
		m.setState(StateError, err)
		m.log.Errorw("Initial subscribe failed", "error", err, "symbols", len(symbols))
		metrics.StreamRestarts.WithLabelValues("subscribe_error").Inc()
		return m.sleep(m.opts.ErrorRetry, stopCh)
	}

	m.setSubscribed(session.Subscribed())
	m.setState(StateRunning, nil)
	m.log.Infow("✅ Feed session running", "symbols", len(symbols))

	for {
		select {
		case <-stopCh:
			session.Close()
			return false

		case <-m.restartCh:
			m.log.Infow("🔄 Session restart requested")
			m.setState(StateRestarting, nil)
			session.Close()
			return true

		case <-m.reloadCh:
			m.applyReload(session)

		case err := <-deadCh:
			m.log.Warnw("Feed session died", "error", err)
			metrics.StreamRestarts.WithLabelValues("disconnect").Inc()
			m.setState(StateRestarting, err)
			session.Close()
			return m.sleep(m.opts.ErrorRetry, stopCh)
		}
	}
}

// applyReload diffs the configured set against the live subscription and
// applies additions and removals in place. Subscription-call failures are
// recorded in status and leave the previous set operating.
func (m *Manager) applyReload(session quote.Feed) {
	desired := canonicalize(m.opts.Source.Symbols())
	current := session.Subscribed()

	currentSet := make(map[string]struct{}, len(current))
	for _, s := range current {
		currentSet[s] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, s := range desired {
		desiredSet[s] = struct{}{}
	}

	var adds, removes []string
	for _, s := range desired {
		if _, ok := currentSet[s]; !ok {
			adds = append(adds, s)
		}
	}
	for _, s := range current {
		if _, ok := desiredSet[s]; !ok {
			removes = append(removes, s)
		}
	}

	if len(adds) == 0 && len(removes) == 0 {
		return
	}
	m.log.Infow("Reloading symbol subscription", "add", len(adds), "remove", len(removes))

	if len(adds) > 0 {
		if err := session.Subscribe(adds); err != nil {
			m.log.Errorw("Subscribe additions failed", "error", err, "symbols", adds)
			m.setState(StateRunning, err)
		}
	}
	if len(removes) > 0 {
		if err := session.Unsubscribe(removes); err != nil {
			m.log.Errorw("Unsubscribe removals failed", "error", err, "symbols", removes)
			m.setState(StateRunning, err)
		}
	}

	m.setSubscribed(session.Subscribed())
}

// handleTick is the per-tick fast path: normalize, stamp, broadcast, and
// hand off downstream. It must never block.
func (m *Manager) handleTick(tick marketdata.Tick, dispatchCh chan marketdata.Tick) {
	tick = tick.Normalize()
	metrics.TicksReceived.WithLabelValues(tick.Symbol).Inc()

	m.mu.Lock()
	m.lastTickAt = tick.Timestamp
	m.mu.Unlock()

	m.broadcaster.Broadcast(events.NewMessage(events.TypeQuote, events.QuotePayload{
		Symbol:     tick.Symbol,
		Last:       tick.Last,
		PrevClose:  tick.PrevClose,
		Open:       tick.Open,
		High:       tick.High,
		Low:        tick.Low,
		Volume:     tick.Volume,
		Turnover:   tick.Turnover,
		Change:     tick.Change,
		ChangeRate: tick.ChangeRate,
		Timestamp:  tick.Timestamp,
	}))

	// Downstream queue follows the same freshness policy as listener
	// sinks: full queue evicts the oldest pending tick.
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for {
		select {
		case dispatchCh <- tick:
			return
		default:
		}
		select {
		case dropped := <-dispatchCh:
			m.log.Warnw("Dispatch queue full, dropping oldest tick",
				"symbol", dropped.Symbol)
		default:
		}
	}
}

// dispatchLoop persists ticks and feeds the evaluation sink, off the
// delivery path. A failure for one tick is logged and never kills the
// session.
func (m *Manager) dispatchLoop(dispatchCh chan marketdata.Tick, stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case tick := <-dispatchCh:
			m.dispatchOne(tick)
		}
	}
}

func (m *Manager) dispatchOne(tick marketdata.Tick) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("Tick dispatch panicked", "symbol", tick.Symbol, "panic", r)
		}
	}()

	if m.opts.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.opts.Archive.SaveTick(ctx, tick); err != nil {
			m.log.Warnw("Tick persistence failed", "symbol", tick.Symbol, "error", err)
		}
		cancel()
	}

	if m.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		m.opts.Sink.ProcessTick(ctx, tick)
		cancel()
	}
}

// sessionHandler adapts feed callbacks onto the manager.
type sessionHandler struct {
	m          *Manager
	dispatchCh chan marketdata.Tick
	deadCh     chan error
}

func (h *sessionHandler) OnTick(tick marketdata.Tick) {
	h.m.handleTick(tick, h.dispatchCh)
}

func (h *sessionHandler) OnError(err error) {
	h.m.log.Warnw("Feed session error", "error", err)
	h.m.mu.Lock()
	h.m.lastErr = err.Error()
	h.m.mu.Unlock()
}

func (h *sessionHandler) OnDisconnect(err error) {
	select {
	case h.deadCh <- err:
	default:
	}
}

func canonicalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		c := marketdata.CanonicalSymbol(s)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
