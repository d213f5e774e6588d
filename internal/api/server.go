// Package api exposes the operational HTTP surface: probes, metrics,
// and the admin endpoints that drive the stream, the trading engine,
// and the monitoring configuration.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/majiajue/longbridge-sub000/internal/api/health"
	"github.com/majiajue/longbridge-sub000/internal/domain/monitoring"
	"github.com/majiajue/longbridge-sub000/internal/domain/risk"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/internal/services/monitor"
	riskservice "github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
	"github.com/majiajue/longbridge-sub000/internal/stream"
	"github.com/majiajue/longbridge-sub000/internal/workers"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// StrategyStore is the persistence surface behind the strategy endpoints.
type StrategyStore interface {
	ListStrategies(ctx context.Context) ([]*strategy.Strategy, error)
	SaveStrategy(ctx context.Context, st *strategy.Strategy) error
	DeleteStrategy(ctx context.Context, id uuid.UUID) error
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
}

// Deps bundles the components the admin endpoints operate on. Stream,
// Scheduler, Engine, Monitor and Risk are required; Strategies may be nil
// when running without Postgres, which disables the mutating strategy
// endpoints.
type Deps struct {
	Stream     *stream.Manager
	Scheduler  *workers.Scheduler
	Engine     *strategysvc.Engine
	Monitor    *monitor.Monitor
	Risk       *riskservice.Service
	Strategies StrategyStore
}

// Server wraps the HTTP server with lifecycle management.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        *logger.Logger
}

// NewServer creates and configures the HTTP server with all routes.
func NewServer(cfg ServerConfig, deps Deps, healthHandler *health.Handler, log *logger.Logger) *Server {
	s := &Server{deps: deps, log: log}

	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Engine lifecycle
	mux.HandleFunc("/api/engine/start", s.handleEngineStart)
	mux.HandleFunc("/api/engine/stop", s.handleEngineStop)
	mux.HandleFunc("/api/engine/status", s.handleEngineStatus)

	// Quote stream
	mux.HandleFunc("/api/stream/start", s.handleStreamStart)
	mux.HandleFunc("/api/stream/stop", s.handleStreamStop)
	mux.HandleFunc("/api/stream/restart", s.handleStreamRestart)
	mux.HandleFunc("/api/stream/reload", s.handleStreamReload)
	mux.HandleFunc("/api/stream/status", s.handleStreamStatus)
	mux.HandleFunc("/api/stream/ws", s.handleStreamWS)

	// Trading state
	mux.HandleFunc("/api/strategies", s.handleStrategies)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/monitoring", s.handleMonitoring)
	mux.HandleFunc("/api/monitoring/reconcile", s.handleReconcile)
	mux.HandleFunc("/api/risk", s.handleRisk)

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. Blocks until the server is
// stopped or fails.
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.deps.Scheduler.Start(context.Background()); err != nil {
		// A second start while running is rejected, not restarted.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.deps.Stream.EnsureStarted()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": true,
		"workers": len(s.deps.Scheduler.Workers()),
	})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.deps.Scheduler.Stop(); err != nil {
		if errors.Is(err, errors.ErrEngineStopped) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	type workerStatus struct {
		Name       string `json:"name"`
		Enabled    bool   `json:"enabled"`
		LastRun    string `json:"last_run,omitempty"`
		RunCount   int64  `json:"run_count"`
		ErrorCount int64  `json:"error_count"`
		LastError  string `json:"last_error,omitempty"`
	}

	var list []workerStatus
	for _, worker := range s.deps.Scheduler.Workers() {
		ws := workerStatus{Name: worker.Name(), Enabled: worker.Enabled()}
		if hw, ok := worker.(workers.WorkerWithHealth); ok {
			h := hw.Health()
			ws.RunCount = h.RunCount
			ws.ErrorCount = h.ErrorCount
			if !h.LastRun.IsZero() {
				ws.LastRun = h.LastRun.Format(time.RFC3339)
			}
			if h.LastError != nil {
				ws.LastError = h.LastError.Error()
			}
		}
		list = append(list, ws)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.deps.Scheduler.IsRunning(),
		"workers": list,
	})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.deps.Stream.EnsureStarted()
	writeJSON(w, http.StatusOK, s.deps.Stream.Snapshot())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.deps.Stream.Stop()
	writeJSON(w, http.StatusOK, s.deps.Stream.Snapshot())
}

func (s *Server) handleStreamRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.deps.Stream.RequestRestart()
	writeJSON(w, http.StatusAccepted, s.deps.Stream.Snapshot())
}

func (s *Server) handleStreamReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.deps.Stream.ReloadSymbols()
	writeJSON(w, http.StatusAccepted, s.deps.Stream.Snapshot())
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Stream.Snapshot())
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStreamWS attaches the caller to the quote fan-out. The first frame
// is always a status snapshot; live ticks, signals and portfolio updates
// follow as JSON text frames until either side disconnects.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	listener := s.deps.Stream.AddListener()
	if listener == nil {
		writeError(w, http.StatusServiceUnavailable, "stream is shut down")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.deps.Stream.RemoveListener(listener)
		return
	}
	defer func() {
		s.deps.Stream.RemoveListener(listener)
		_ = conn.Close()
	}()

	// Drain client frames so close and ping frames are processed; the
	// consumer surface is write-only.
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-listener.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(time.Second))
				return
			}
			frame, err := msg.Marshal()
			if err != nil {
				s.log.Errorw("Dropping unserializable stream message",
					"type", msg.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-readErr:
			return
		}
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.deps.Engine.Strategies())

	case http.MethodPut:
		if s.deps.Strategies == nil {
			writeError(w, http.StatusNotImplemented, "strategy store not configured")
			return
		}
		var st strategy.Strategy
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if st.ID == uuid.Nil {
			st.ID = uuid.New()
		}
		if err := st.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.deps.Strategies.SaveStrategy(r.Context(), &st); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.reloadEngineStrategies(r.Context())
		writeJSON(w, http.StatusOK, &st)

	case http.MethodDelete:
		if s.deps.Strategies == nil {
			writeError(w, http.StatusNotImplemented, "strategy store not configured")
			return
		}
		id, err := uuid.Parse(r.URL.Query().Get("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid strategy id")
			return
		}
		if err := s.deps.Strategies.DeleteStrategy(r.Context(), id); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.reloadEngineStrategies(r.Context())
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "GET, PUT or DELETE required")
	}
}

// reloadEngineStrategies pushes the stored strategy set into the running
// engine; surviving (strategy, symbol) state is preserved.
func (s *Server) reloadEngineStrategies(ctx context.Context) {
	list, err := s.deps.Strategies.ListStrategies(ctx)
	if err != nil {
		s.log.Errorw("Failed to reload strategies", "error", err)
		return
	}
	s.deps.Engine.ReplaceStrategies(list)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.OpenPositions())
}

func (s *Server) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.deps.Monitor.Snapshot())

	case http.MethodPut:
		var cfg monitoring.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if cfg.Symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		if err := s.deps.Monitor.UpdateConfig(r.Context(), &cfg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, &cfg)

	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or PUT required")
	}
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.deps.Monitor.Reconcile(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Snapshot())
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings := s.deps.Risk.Settings()
		writeJSON(w, http.StatusOK, &settings)

	case http.MethodPut:
		var settings risk.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.deps.Risk.UpdateSettings(r.Context(), settings); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, &settings)

	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or PUT required")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
