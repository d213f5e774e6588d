// Package longbridge implements the quote feed contract over the
// Longbridge OpenAPI quote websocket.
package longbridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/majiajue/longbridge-sub000/internal/adapters/quote"
	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
	"github.com/majiajue/longbridge-sub000/pkg/reconnect"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	authTimeout  = 10 * time.Second
	pingInterval = 15 * time.Second
)

// Config holds the credentials and endpoint for one session.
type Config struct {
	URL         string
	AppKey      string
	AppSecret   string
	AccessToken string
}

// Client is one websocket session against the Longbridge quote gateway.
// Single-use: create a fresh client per session attempt.
type Client struct {
	cfg     Config
	handler quote.Handler

	mu         sync.Mutex // guards conn writes and subscribed set
	conn       *websocket.Conn
	subscribed map[string]struct{}

	connected atomic.Bool
	closing   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	health *reconnect.Manager
	seq    atomic.Uint64

	messagesReceived atomic.Int64
	errorCount       atomic.Int64

	log *logger.Logger
}

// NewClient creates a session client wired to the given handler.
func NewClient(cfg Config, handler quote.Handler) *Client {
	log := logger.Get().With("component", "longbridge_quote")
	return &Client{
		cfg:        cfg,
		handler:    handler,
		subscribed: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		health:     reconnect.NewManager(reconnect.Config{}, log),
		log:        log,
	}
}

// frame is the control/push envelope on the quote websocket.
type frame struct {
	Op      string          `json:"op"`
	ID      uint64          `json:"id,omitempty"`
	Symbols []string        `json:"symbols,omitempty"`
	Token   string          `json:"token,omitempty"`
	AppKey  string          `json:"app_key,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// quotePush is the payload of an "op":"quote" frame.
type quotePush struct {
	Symbol    string  `json:"symbol"`
	LastDone  float64 `json:"last_done,string"`
	PrevClose float64 `json:"prev_close,string"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover,string"`
	Sequence  int64   `json:"sequence"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// Connect dials the gateway, authenticates, and starts the read and ping
// loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return errors.New("session already connected")
	}
	if c.cfg.AppKey == "" || c.cfg.AccessToken == "" {
		return errors.ErrMissingCredentials
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial quote gateway")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return errors.Wrap(err, "authenticate")
	}

	c.connected.Store(true)
	c.health.RecordSuccess()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.log.Infow("📡 Quote session established", "url", c.cfg.URL)
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	auth := frame{
		Op:     "auth",
		ID:     c.seq.Add(1),
		AppKey: c.cfg.AppKey,
		Token:  c.cfg.AccessToken,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(auth); err != nil {
		return errors.Wrap(err, "send auth frame")
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var resp frame
	if err := conn.ReadJSON(&resp); err != nil {
		return errors.Wrap(err, "read auth response")
	}
	conn.SetReadDeadline(time.Time{})

	if resp.Op != "auth" || resp.Code != 0 {
		return errors.Newf("auth rejected: code=%d message=%s", resp.Code, resp.Message)
	}
	return nil
}

// Subscribe adds symbols to the live subscription.
func (c *Client) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if !c.connected.Load() {
		return errors.ErrFeedNotConnected
	}

	canonical := make([]string, 0, len(symbols))
	for _, s := range symbols {
		canonical = append(canonical, marketdata.CanonicalSymbol(s))
	}

	if err := c.writeFrame(frame{Op: "subscribe", ID: c.seq.Add(1), Symbols: canonical}); err != nil {
		return errors.Wrapf(errors.ErrSubscribeFailed, "subscribe %d symbols: %v", len(canonical), err)
	}

	c.mu.Lock()
	for _, s := range canonical {
		c.subscribed[s] = struct{}{}
	}
	c.mu.Unlock()

	c.log.Infow("Subscribed", "symbols", canonical)
	return nil
}

// Unsubscribe removes symbols from the live subscription.
func (c *Client) Unsubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if !c.connected.Load() {
		return errors.ErrFeedNotConnected
	}

	canonical := make([]string, 0, len(symbols))
	for _, s := range symbols {
		canonical = append(canonical, marketdata.CanonicalSymbol(s))
	}

	if err := c.writeFrame(frame{Op: "unsubscribe", ID: c.seq.Add(1), Symbols: canonical}); err != nil {
		return errors.Wrapf(errors.ErrSubscribeFailed, "unsubscribe %d symbols: %v", len(canonical), err)
	}

	c.mu.Lock()
	for _, s := range canonical {
		delete(c.subscribed, s)
	}
	c.mu.Unlock()

	c.log.Infow("Unsubscribed", "symbols", canonical)
	return nil
}

// Subscribed returns the currently subscribed symbols.
func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		out = append(out, s)
	}
	return out
}

func (c *Client) writeFrame(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.ErrFeedNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.doneCh)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if c.closing.Load() {
				return
			}
			c.errorCount.Add(1)
			c.connected.Store(false)
			c.health.RecordFailure()
			c.handler.OnDisconnect(errors.Wrap(err, "read quote frame"))
			return
		}

		c.messagesReceived.Add(1)
		c.health.RecordMessage()

		switch f.Op {
		case "quote":
			c.handleQuote(f.Data)
		case "pong":
			// heartbeat echo, RecordMessage above is enough
		case "error":
			c.errorCount.Add(1)
			c.handler.OnError(errors.Newf("gateway error: code=%d message=%s", f.Code, f.Message))
		default:
			// subscribe/unsubscribe acks and unknown ops are ignored
		}
	}
}

func (c *Client) handleQuote(data json.RawMessage) {
	var push quotePush
	if err := json.Unmarshal(data, &push); err != nil {
		c.errorCount.Add(1)
		c.handler.OnError(errors.Wrap(err, "decode quote push"))
		return
	}

	c.handler.OnTick(marketdata.Tick{
		Symbol:    push.Symbol,
		Last:      push.LastDone,
		PrevClose: push.PrevClose,
		Open:      push.Open,
		High:      push.High,
		Low:       push.Low,
		Volume:    push.Volume,
		Turnover:  push.Turnover,
		Sequence:  push.Sequence,
		Timestamp: time.Unix(push.Timestamp, 0),
	})
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.doneCh:
			return
		case <-ticker.C:
			if err := c.writeFrame(frame{Op: "ping", ID: c.seq.Add(1)}); err != nil {
				if !c.closing.Load() {
					c.log.Warnw("Ping failed", "error", err)
				}
				return
			}
			if !c.health.Healthy() {
				c.log.Warnw("Heartbeat stale, closing session",
					"stats", c.health.GetStats())
				conn.Close()
				return
			}
		}
	}
}

// Close tears the session down. Idempotent.
func (c *Client) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	c.connected.Store(false)
	close(c.stopCh)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	select {
	case <-c.doneCh:
	case <-time.After(2 * time.Second):
	}
	return nil
}
