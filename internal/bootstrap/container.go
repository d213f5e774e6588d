// Package bootstrap wires the application together: configuration,
// stores, services, the quote stream, background workers, and the HTTP
// surface, with coordinated startup and shutdown.
package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "github.com/majiajue/longbridge-sub000/internal/adapters/clickhouse"
	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	"github.com/majiajue/longbridge-sub000/internal/adapters/kafka"
	pgclient "github.com/majiajue/longbridge-sub000/internal/adapters/postgres"
	redisclient "github.com/majiajue/longbridge-sub000/internal/adapters/redis"
	"github.com/majiajue/longbridge-sub000/internal/adapters/telegram"
	"github.com/majiajue/longbridge-sub000/internal/api"
	"github.com/majiajue/longbridge-sub000/internal/api/health"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/events"
	chrepo "github.com/majiajue/longbridge-sub000/internal/repository/clickhouse"
	pgrepo "github.com/majiajue/longbridge-sub000/internal/repository/postgres"
	"github.com/majiajue/longbridge-sub000/internal/services/execution"
	"github.com/majiajue/longbridge-sub000/internal/services/monitor"
	riskservice "github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
	"github.com/majiajue/longbridge-sub000/internal/stream"
	"github.com/majiajue/longbridge-sub000/internal/workers"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure layer (data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Repositories
	Repos *Repositories

	// Domain services
	Services *Services

	// External adapters
	Adapters *Adapters

	// Application layer
	Application *Application

	// Background processing
	Background *Background

	// Lifecycle management
	WG      *sync.WaitGroup
	Context context.Context
	Cancel  context.CancelFunc
}

// Repositories groups the persistence stores.
type Repositories struct {
	Archive    *chrepo.Archive
	Strategies *pgrepo.StrategyStore
	Monitoring *pgrepo.MonitoringStore
	Risk       *pgrepo.RiskStore
	Positions  *pgrepo.PositionStore
}

// Services groups the domain services.
type Services struct {
	Risk      *riskservice.Service
	Evaluator *strategysvc.Evaluator
	Engine    *strategysvc.Engine
	Execution *execution.Service
	Monitor   *monitor.Monitor

	PriceBook *execution.PriceBook
	Buffers   *marketdata.BufferSet
}

// Adapters groups the external adapters.
type Adapters struct {
	KafkaProducer *kafka.Producer
	Publisher     *events.Publisher
	Telegram      *telegram.Notifier
	Stream        *stream.Manager
}

// Application groups the serving surface.
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups the background processing components.
type Background struct {
	Scheduler *workers.Scheduler
}

// NewContainer creates a new dependency container.
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Services:    &Services{},
		Adapters:    &Adapters{},
		Application: &Application{},
		Background:  &Background{},
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in dependency order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitStream()
	c.MustInitBackground()
	c.MustInitApplication()
	c.MustLoadState()
}

// Start starts the stream, the workers, and the HTTP server.
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.Adapters.Stream.EnsureStarted()

	if err := c.Background.Scheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start worker scheduler")
	}
	c.Log.Infow("✓ Worker scheduler started",
		"workers", len(c.Background.Scheduler.Workers()))

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in reverse dependency order:
// stop accepting requests, stop the workers, stop the stream, flush the
// producer and tracker, then close the stores.
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c.Log.Info("[1/6] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := c.Application.HTTPServer.Shutdown(httpCtx); err != nil {
		c.Log.Errorw("HTTP server shutdown failed", "error", err)
	}
	httpCancel()

	c.Log.Info("[2/6] Stopping background workers...")
	if err := c.Background.Scheduler.Stop(); err != nil {
		c.Log.Errorw("Workers shutdown failed", "error", err)
	} else {
		c.Log.Info("✓ Workers stopped")
	}

	c.Log.Info("[3/6] Stopping quote stream...")
	c.Adapters.Stream.Close()
	c.Log.Info("✓ Quote stream stopped")

	c.Cancel()

	done := make(chan struct{})
	go func() {
		c.WG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		c.Log.Warn("Timed out waiting for goroutines")
	}

	c.Log.Info("[4/6] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			c.Log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	c.Log.Info("[5/6] Flushing error tracker...")
	if c.ErrorTracker != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.ErrorTracker.Flush(flushCtx)
		flushCancel()
	}

	c.Log.Info("[6/6] Closing data stores...")
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Log.Errorw("Redis close failed", "error", err)
		}
	}
	if c.CH != nil {
		if err := c.CH.Close(); err != nil {
			c.Log.Errorw("ClickHouse close failed", "error", err)
		}
	}
	if c.PG != nil {
		if err := c.PG.Close(); err != nil {
			c.Log.Errorw("Postgres close failed", "error", err)
		}
	}

	c.Log.Info("✓ Shutdown complete")
	_ = logger.Sync()
}
