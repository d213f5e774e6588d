// Package postgres wraps the settings-store connection (strategies,
// monitoring configurations, risk settings, trade history).
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Client wraps the sqlx connection pool.
type Client struct {
	db *sqlx.DB
}

// NewClient connects and pings the database.
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return &Client{db: db}, nil
}

// DB returns the underlying pool.
func (c *Client) DB() *sqlx.DB { return c.db }

// Health checks connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }
