// Package redis wraps the shared Redis connection used for daily risk
// counters and cooldown bookkeeping that must survive process restarts.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps the go-redis client.
type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	return &Client{
		rdb: rdb,
		log: logger.Get().With("component", "redis"),
	}, nil
}

// Client returns the underlying connection.
func (c *Client) Client() *redis.Client { return c.rdb }

const dailyTTL = 48 * time.Hour

func dailyKey(date time.Time) string {
	return fmt.Sprintf("risk:daily:%s", date.Format("2006-01-02"))
}

// LoadDaily restores the day's trade count and realized PnL. Missing keys
// return zeros.
func (c *Client) LoadDaily(ctx context.Context, date time.Time) (int, decimal.Decimal, error) {
	vals, err := c.rdb.HGetAll(ctx, dailyKey(date)).Result()
	if err != nil {
		return 0, decimal.Zero, errors.Wrap(err, "load daily state")
	}
	if len(vals) == 0 {
		return 0, decimal.Zero, nil
	}

	var count int
	fmt.Sscanf(vals["trades"], "%d", &count)
	pnl, err := decimal.NewFromString(vals["pnl"])
	if err != nil {
		pnl = decimal.Zero
	}
	return count, pnl, nil
}

// SaveDaily persists the day's counters.
func (c *Client) SaveDaily(ctx context.Context, date time.Time, trades int, pnl decimal.Decimal) error {
	key := dailyKey(date)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "trades", trades, "pnl", pnl.String())
	pipe.Expire(ctx, key, dailyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "save daily state")
	}
	return nil
}

// SetCooldown marks a symbol as cooling down until the TTL expires.
func (c *Client) SetCooldown(ctx context.Context, symbol string, d time.Duration) error {
	return c.rdb.Set(ctx, "cooldown:"+symbol, time.Now().Unix(), d).Err()
}

// InCooldown reports whether a cooldown marker exists for the symbol.
func (c *Client) InCooldown(ctx context.Context, symbol string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "cooldown:"+symbol).Result()
	if err != nil {
		return false, errors.Wrap(err, "check cooldown")
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
