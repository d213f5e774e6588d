// Package clickhouse wraps the tick/bar archive connection.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

// Client wraps the ClickHouse connection.
type Client struct {
	conn driver.Conn
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect clickhouse")
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "ping clickhouse")
	}
	return &Client{conn: conn}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() driver.Conn { return c.conn }

// Health checks connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
