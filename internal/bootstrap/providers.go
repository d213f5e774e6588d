package bootstrap

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/adapters/ai"
	"github.com/majiajue/longbridge-sub000/internal/adapters/broker"
	chclient "github.com/majiajue/longbridge-sub000/internal/adapters/clickhouse"
	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	noopTracker "github.com/majiajue/longbridge-sub000/internal/adapters/errors/noop"
	sentryTracker "github.com/majiajue/longbridge-sub000/internal/adapters/errors/sentry"
	"github.com/majiajue/longbridge-sub000/internal/adapters/kafka"
	pgclient "github.com/majiajue/longbridge-sub000/internal/adapters/postgres"
	"github.com/majiajue/longbridge-sub000/internal/adapters/quote"
	lbquote "github.com/majiajue/longbridge-sub000/internal/adapters/quote/longbridge"
	redisclient "github.com/majiajue/longbridge-sub000/internal/adapters/redis"
	"github.com/majiajue/longbridge-sub000/internal/adapters/telegram"
	"github.com/majiajue/longbridge-sub000/internal/api"
	"github.com/majiajue/longbridge-sub000/internal/api/health"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	domainrisk "github.com/majiajue/longbridge-sub000/internal/domain/risk"
	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	chrepo "github.com/majiajue/longbridge-sub000/internal/repository/clickhouse"
	pgrepo "github.com/majiajue/longbridge-sub000/internal/repository/postgres"
	"github.com/majiajue/longbridge-sub000/internal/services/execution"
	"github.com/majiajue/longbridge-sub000/internal/services/monitor"
	riskservice "github.com/majiajue/longbridge-sub000/internal/services/risk"
	strategysvc "github.com/majiajue/longbridge-sub000/internal/services/strategy"
	"github.com/majiajue/longbridge-sub000/internal/stream"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// MustInitConfig loads configuration and initializes logging and error
// tracking.
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic(errors.Wrap(err, "load config"))
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic(errors.Wrap(err, "init logger"))
	}
	c.Log = logger.Get()

	if cfg.ErrorTracking.Enabled && cfg.ErrorTracking.SentryDSN != "" {
		tracker, err := sentryTracker.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
		if err != nil {
			panic(errors.Wrap(err, "init sentry"))
		}
		c.ErrorTracker = tracker
		c.Log.Info("✓ Sentry error tracking enabled")
	} else {
		c.ErrorTracker = noopTracker.New()
	}
	logger.SetErrorTracker(c.ErrorTracker)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	c.Log.Infow("Configuration loaded",
		"env", cfg.App.Env,
		"trading_mode", cfg.Broker.Mode,
		"symbols", len(cfg.Feed.Symbols),
	)
}

// MustInitInfrastructure connects the data stores.
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	pg, err := pgclient.NewClient(ctx, c.Config.Postgres)
	if err != nil {
		panic(errors.Wrap(err, "connect postgres"))
	}
	c.PG = pg
	c.Log.Info("✓ PostgreSQL connected")

	ch, err := chclient.NewClient(ctx, c.Config.ClickHouse)
	if err != nil {
		panic(errors.Wrap(err, "connect clickhouse"))
	}
	c.CH = ch
	c.Log.Info("✓ ClickHouse connected")

	rdb, err := redisclient.NewClient(ctx, redisclient.Config{
		Addr:     c.Config.Redis.Addr(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err != nil {
		panic(errors.Wrap(err, "connect redis"))
	}
	c.Redis = rdb
	c.Log.Info("✓ Redis connected")
}

// MustInitRepositories creates the stores and runs migrations.
func (c *Container) MustInitRepositories() {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	if err := pgrepo.Migrate(ctx, c.PG.DB()); err != nil {
		panic(errors.Wrap(err, "migrate postgres"))
	}

	archive := chrepo.NewArchive(c.CH.Conn())
	if err := archive.Migrate(ctx); err != nil {
		panic(errors.Wrap(err, "migrate clickhouse"))
	}

	c.Repos.Archive = archive
	c.Repos.Strategies = pgrepo.NewStrategyStore(c.PG.DB())
	c.Repos.Monitoring = pgrepo.NewMonitoringStore(c.PG.DB())
	c.Repos.Risk = pgrepo.NewRiskStore(c.PG.DB())
	c.Repos.Positions = pgrepo.NewPositionStore(c.PG.DB())

	c.Log.Info("✓ Repositories ready")
}

// MustInitAdapters creates the optional external adapters.
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers: c.Config.Kafka.Brokers,
		})
		c.Adapters.Publisher = events.NewPublisher(c.Adapters.KafkaProducer)
		c.Log.Info("✓ Kafka producer configured")
	}

	if c.Config.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(telegram.Config{
			Token:  c.Config.Telegram.BotToken,
			ChatID: c.Config.Telegram.ChatID,
		})
		if err != nil {
			panic(errors.Wrap(err, "init telegram"))
		}
		c.Adapters.Telegram = notifier
		c.Log.Info("✓ Telegram notifier configured")
	}
}

// MustInitServices wires the trading core: risk gates, condition
// evaluation, order execution, the strategy engine, and the position
// monitor.
func (c *Container) MustInitServices() {
	c.Services.Buffers = marketdata.NewBufferSet(c.Config.Stream.BufferCapacity)
	c.Services.PriceBook = execution.NewPriceBook()

	c.Services.Risk = riskservice.NewService(c.Repos.Risk, c.Redis, nil)
	c.seedRiskSettings()

	var backend broker.Execution
	switch c.Config.Broker.Mode {
	case config.ModeLive:
		backend = broker.NewLongbridge(broker.LongbridgeConfig{
			BaseURL:     c.Config.Broker.RESTBaseURL,
			AppKey:      c.Config.Feed.AppKey,
			AppSecret:   c.Config.Feed.AppSecret,
			AccessToken: c.Config.Feed.AccessToken,
		})
		c.Log.Info("🔴 LIVE trading mode: orders go to the broker")
	default:
		backend = broker.NewPaper(decimal.NewFromFloat(c.Config.Broker.PaperCash), c.Services.PriceBook)
		c.Log.Infow("📝 Paper trading mode", "cash", c.Config.Broker.PaperCash)
	}
	c.Services.Execution = execution.NewService(c.Config.Broker.Mode, backend)

	emitter := &fanoutEmitter{c: c}

	c.Services.Evaluator = strategysvc.NewEvaluator()
	c.Services.Engine = strategysvc.NewEngine(
		c.Services.Evaluator,
		c.Services.Risk,
		c.Services.Execution,
		c.Services.Execution,
		emitter,
	)

	opts := monitor.Options{
		Engine:      c.Services.Engine,
		Evaluator:   c.Services.Evaluator,
		Risk:        c.Services.Risk,
		Execution:   c.Services.Execution,
		Store:       c.Repos.Monitoring,
		Emitter:     emitter,
		Cooldowns:   c.Redis,
		Buffers:     c.Services.Buffers,
		PriceBook:   c.Services.PriceBook,
		BarInterval: time.Minute,
	}
	if c.Adapters.Telegram != nil {
		opts.Notifier = c.Adapters.Telegram
	}
	c.Services.Monitor = monitor.New(opts)

	c.Log.Info("✓ Trading services ready")
}

// seedRiskSettings writes the configured defaults when the settings row
// has never been persisted, then loads the effective settings.
func (c *Container) seedRiskSettings() {
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	_, err := c.Repos.Risk.GetRiskSettings(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		rc := c.Config.Risk
		seed := &domainrisk.Settings{
			Enabled:            rc.Enabled,
			MarketHoursOnly:    rc.MarketHoursOnly,
			MaxDailyTrades:     rc.MaxDailyTrades,
			ExcludedSymbols:    rc.ExcludedSymbols,
			MaxDailyLoss:       decimal.NewFromFloat(rc.MaxDailyLoss),
			MaxTotalExposure:   rc.MaxTotalExposure,
			MaxPositionWeight:  rc.MaxPositionWeight,
			VolatilityPause:    rc.VolatilityPause,
			VolatilityPnLRatio: rc.VolatilityPnLRatio,
		}
		if err := c.Repos.Risk.SaveRiskSettings(ctx, seed); err != nil {
			panic(errors.Wrap(err, "seed risk settings"))
		}
		c.Log.Info("Risk settings seeded from environment")
	} else if err != nil {
		panic(errors.Wrap(err, "load risk settings"))
	}

	if err := c.Services.Risk.Reload(ctx); err != nil {
		panic(errors.Wrap(err, "reload risk settings"))
	}
}

// MustInitStream creates the quote stream manager over the Longbridge
// push gateway, archiving to ClickHouse and evaluating through the
// monitor.
func (c *Container) MustInitStream() {
	feed := c.Config.Feed
	factory := func(h quote.Handler) quote.Feed {
		return lbquote.NewClient(lbquote.Config{
			URL:         feed.QuoteWSURL,
			AppKey:      feed.AppKey,
			AppSecret:   feed.AppSecret,
			AccessToken: feed.AccessToken,
		}, h)
	}

	c.Adapters.Stream = stream.NewManager(stream.Options{
		Factory:          factory,
		Source:           &streamSource{c: c},
		Archive:          c.Repos.Archive,
		Sink:             c.Services.Monitor,
		ListenerCapacity: c.Config.Stream.ListenerCapacity,
		CredentialsRetry: c.Config.Stream.CredentialsRetry,
		ErrorRetry:       c.Config.Stream.ErrorRetry,
	})

	c.Log.Info("✓ Quote stream configured")
}

// MustInitApplication creates the HTTP serving surface.
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = health.New(
		c.Log,
		c.PG.DB(),
		c.CH.Conn(),
		c.Redis.Client(),
		c.Config.App.Name,
		Version,
	)

	if c.Config.Metrics.Enabled {
		collector := metrics.NewStoreCollector(c.Log, c.PG.DB(), c.CH.Conn())
		metrics.RegisterStoreCollector(collector)
	}

	c.Application.HTTPServer = api.NewServer(
		api.ServerConfig{
			Port:        c.Config.API.Port,
			ServiceName: c.Config.App.Name,
			Version:     Version,
		},
		api.Deps{
			Stream:     c.Adapters.Stream,
			Scheduler:  c.Background.Scheduler,
			Engine:     c.Services.Engine,
			Monitor:    c.Services.Monitor,
			Risk:       c.Services.Risk,
			Strategies: c.Repos.Strategies,
		},
		c.Application.HealthHandler,
		c.Log,
	)
}

// MustLoadState restores persisted strategies and monitoring configs
// into the running services.
func (c *Container) MustLoadState() {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	strategies, err := c.Repos.Strategies.ListStrategies(ctx)
	if err != nil {
		panic(errors.Wrap(err, "load strategies"))
	}
	c.Services.Engine.ReplaceStrategies(strategies)

	if err := c.Services.Monitor.LoadConfigs(ctx); err != nil {
		panic(errors.Wrap(err, "load monitoring configs"))
	}

	c.Log.Infow("✓ State restored", "strategies", len(strategies))
}

// streamSource reads the feed configuration: credentials from the
// environment, symbols as the union of the configured feed set and the
// currently monitored symbols.
type streamSource struct {
	c *Container
}

func (s *streamSource) HasCredentials() bool {
	return s.c.Config.Feed.HasCredentials()
}

func (s *streamSource) Symbols() []string {
	out := append([]string{}, s.c.Config.Feed.Symbols...)
	seen := make(map[string]struct{}, len(out))
	for _, sym := range out {
		seen[sym] = struct{}{}
	}
	if s.c.Services.Monitor != nil {
		for _, view := range s.c.Services.Monitor.Snapshot() {
			if _, ok := seen[view.Symbol]; !ok {
				seen[view.Symbol] = struct{}{}
				out = append(out, view.Symbol)
			}
		}
	}
	return out
}

// fanoutEmitter delivers engine events to stream listeners and mirrors
// them onto Kafka when a producer is configured.
type fanoutEmitter struct {
	c *Container
}

func (f *fanoutEmitter) Broadcast(msg events.Message) {
	if f.c.Adapters.Stream != nil {
		f.c.Adapters.Stream.Broadcast(msg)
	}
	if f.c.Adapters.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch p := msg.Payload.(type) {
	case events.TradeSignalPayload:
		f.c.Adapters.Publisher.PublishTradeSignal(ctx, p)
	case events.PortfolioUpdatePayload:
		f.c.Adapters.Publisher.PublishPortfolioUpdate(ctx, p)
	case events.NotificationPayload:
		f.c.Adapters.Publisher.PublishRiskNotice(ctx, p)
	}
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// aiAdvisor builds the optional reasoning collaborator.
func (c *Container) aiAdvisor() *ai.Analyzer {
	if c.Config.AI.OpenAIKey == "" {
		return nil
	}
	analyzer, err := ai.NewAnalyzer(c.Config.AI.OpenAIKey, c.Config.AI.Model, 30*time.Second)
	if err != nil {
		c.Log.Warnw("AI analyzer unavailable", "error", err)
		return nil
	}
	c.Log.Infow("✓ AI analyzer configured", "model", c.Config.AI.Model)
	return analyzer
}
