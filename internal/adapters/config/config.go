package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

type Config struct {
	App           AppConfig
	Feed          FeedConfig
	Broker        BrokerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	AI            AIConfig
	Risk          RiskConfig
	Stream        StreamConfig
	Workers       WorkerConfig
	ErrorTracking ErrorTrackingConfig
	Metrics       MetricsConfig
	API           APIConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"longbridge-trader"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

// FeedConfig configures the Longbridge quote push feed
type FeedConfig struct {
	AppKey      string `envconfig:"LONGBRIDGE_APP_KEY"`
	AppSecret   string `envconfig:"LONGBRIDGE_APP_SECRET"`
	AccessToken string `envconfig:"LONGBRIDGE_ACCESS_TOKEN"`
	QuoteWSURL  string `envconfig:"LONGBRIDGE_QUOTE_WS_URL" default:"wss://openapi-quote.longbridgeapp.com/v2"`

	// Symbols to subscribe, e.g. 700.HK, AAPL.US
	Symbols []string `envconfig:"FEED_SYMBOLS"`
}

// HasCredentials reports whether the feed credentials are fully configured
func (c FeedConfig) HasCredentials() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.AccessToken != ""
}

// TradingMode selects simulated or real order execution.
// This is the single authoritative execution-mode switch: every layer that
// executes orders consumes it through the execution service, never re-reads it.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

func (m TradingMode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

type BrokerConfig struct {
	Mode        TradingMode `envconfig:"TRADING_MODE" default:"paper"`
	RESTBaseURL string      `envconfig:"LONGBRIDGE_REST_URL" default:"https://openapi.longbridgeapp.com"`

	// Starting cash for the paper broker
	PaperCash float64 `envconfig:"PAPER_CASH" default:"1000000"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"trader"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"trader"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"trading"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
}

type TelegramConfig struct {
	Enabled  bool   `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

type AIConfig struct {
	OpenAIKey string `envconfig:"OPENAI_API_KEY"`
	Model     string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
}

// RiskConfig seeds the global risk settings; they stay hot-reloadable at
// runtime through the risk service.
type RiskConfig struct {
	Enabled            bool    `envconfig:"RISK_ENABLED" default:"true"`
	MarketHoursOnly    bool    `envconfig:"RISK_MARKET_HOURS_ONLY" default:"true"`
	MaxDailyTrades     int     `envconfig:"RISK_MAX_DAILY_TRADES" default:"20"`
	MaxDailyLoss       float64 `envconfig:"RISK_MAX_DAILY_LOSS" default:"10000"`
	MaxTotalExposure   float64 `envconfig:"RISK_MAX_TOTAL_EXPOSURE" default:"0.8"`
	MaxPositionWeight  float64 `envconfig:"RISK_MAX_POSITION_WEIGHT" default:"0.25"`
	VolatilityPause    bool    `envconfig:"RISK_VOLATILITY_PAUSE" default:"true"`
	VolatilityPnLRatio float64 `envconfig:"RISK_VOLATILITY_PNL_RATIO" default:"0.15"`
	ExcludedSymbols    []string `envconfig:"RISK_EXCLUDED_SYMBOLS"`
}

type StreamConfig struct {
	// Bars retained per symbol buffer
	BufferCapacity int `envconfig:"STREAM_BUFFER_CAPACITY" default:"200"`

	// Queued messages per listener before drop-oldest kicks in
	ListenerCapacity int `envconfig:"STREAM_LISTENER_CAPACITY" default:"100"`

	// Wait before retrying when credentials are missing
	CredentialsRetry time.Duration `envconfig:"STREAM_CREDENTIALS_RETRY" default:"3s"`

	// Wait before rebuilding the session after an error
	ErrorRetry time.Duration `envconfig:"STREAM_ERROR_RETRY" default:"5s"`
}

type WorkerConfig struct {
	EngineInterval      time.Duration `envconfig:"WORKER_ENGINE_INTERVAL" default:"1m"`
	SymbolDelay         time.Duration `envconfig:"WORKER_SYMBOL_DELAY" default:"500ms"`
	ReconcileInterval   time.Duration `envconfig:"WORKER_RECONCILE_INTERVAL" default:"30s"`
	CycleErrorCooldown  time.Duration `envconfig:"WORKER_CYCLE_ERROR_COOLDOWN" default:"60s"`
	AutoPositionEnabled bool          `envconfig:"WORKER_AUTO_POSITION_ENABLED" default:"true"`
	EngineEnabled       bool          `envconfig:"WORKER_ENGINE_ENABLED" default:"true"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9100"`
}

type APIConfig struct {
	Port int `envconfig:"API_PORT" default:"8080"`
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if !cfg.Broker.Mode.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown trading mode %q", cfg.Broker.Mode)
	}

	return &cfg, nil
}
