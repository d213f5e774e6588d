package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// LongbridgeConfig configures the live trading client.
type LongbridgeConfig struct {
	BaseURL     string
	AppKey      string
	AppSecret   string
	AccessToken string
	Timeout     time.Duration
	// RequestsPerSecond paces calls against the vendor rate limit
	RequestsPerSecond float64
}

// Longbridge is the live execution client over the Longbridge OpenAPI
// trade endpoints.
type Longbridge struct {
	cfg     LongbridgeConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewLongbridge creates a live client.
func NewLongbridge(cfg LongbridgeConfig) *Longbridge {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	return &Longbridge{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     logger.Get().With("component", "longbridge_trade"),
	}
}

// Name identifies the execution backend.
func (l *Longbridge) Name() string { return "longbridge" }

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type orderPayload struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Quantity    string `json:"submitted_quantity"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executed_quantity"`
	ExecutedPx  string `json:"executed_price"`
	SubmittedAt int64  `json:"submitted_at"`
}

func (l *Longbridge) call(ctx context.Context, method, path string, body, out interface{}) (err error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}

	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	start := time.Now()
	defer func() { metrics.RecordBrokerCall("longbridge", endpoint, time.Since(start), err) }()

	var reqBody io.Reader
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.cfg.BaseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.cfg.AccessToken)
	req.Header.Set("X-Api-Key", l.cfg.AppKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", l.sign(method, path, ts, raw))

	resp, err := l.http.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 500 {
		return errors.Wrapf(errors.ErrUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return errors.Wrap(err, "decode response envelope")
	}
	if envelope.Code != 0 {
		return errors.Wrapf(errors.ErrOrderRejected, "api code %d: %s", envelope.Code, envelope.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(err, "decode response data")
		}
	}
	return nil
}

// sign produces the HMAC-SHA256 request signature the gateway verifies.
func (l *Longbridge) sign(method, path, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(l.cfg.AppSecret))
	fmt.Fprintf(mac, "%s|%s|%s|", method, path, ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// PlaceOrder submits an order and returns its handle.
func (l *Longbridge) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req.Quantity.Sign() <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "quantity must be positive")
	}

	body := map[string]interface{}{
		"symbol":             req.Symbol,
		"side":               string(req.Side),
		"order_type":         string(req.Type),
		"submitted_quantity": req.Quantity.String(),
	}
	if req.Type == OrderTypeLimit {
		body["submitted_price"] = req.LimitPrice.String()
	}

	var payload orderPayload
	if err := l.call(ctx, http.MethodPost, "/v1/trade/order", body, &payload); err != nil {
		return nil, err
	}

	order := payload.toOrder()
	l.log.Infow("Order submitted",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"status", order.Status,
	)
	return order, nil
}

// CancelOrder cancels a pending order.
func (l *Longbridge) CancelOrder(ctx context.Context, orderID string) error {
	return l.call(ctx, http.MethodDelete, "/v1/trade/order?order_id="+orderID, nil, nil)
}

// GetOrder fetches the current order state.
func (l *Longbridge) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var payload orderPayload
	if err := l.call(ctx, http.MethodGet, "/v1/trade/order?order_id="+orderID, nil, &payload); err != nil {
		return nil, err
	}
	return payload.toOrder(), nil
}

// GetPositions fetches the account's stock positions.
func (l *Longbridge) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var payload struct {
		Positions []struct {
			Symbol    string `json:"symbol"`
			Quantity  string `json:"quantity"`
			CostPrice string `json:"cost_price"`
			Currency  string `json:"currency"`
		} `json:"positions"`
	}
	if err := l.call(ctx, http.MethodGet, "/v1/asset/stock", nil, &payload); err != nil {
		return nil, err
	}

	out := make([]BrokerPosition, 0, len(payload.Positions))
	for _, p := range payload.Positions {
		qty, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			l.log.Warnw("Skipping position with bad quantity", "symbol", p.Symbol, "quantity", p.Quantity)
			continue
		}
		cost, _ := decimal.NewFromString(p.CostPrice)
		out = append(out, BrokerPosition{
			Symbol:    p.Symbol,
			Quantity:  qty,
			CostPrice: cost,
			Currency:  p.Currency,
		})
	}
	return out, nil
}

// GetBalance fetches the account cash view.
func (l *Longbridge) GetBalance(ctx context.Context) (*Balance, error) {
	var payload struct {
		Cash        string `json:"total_cash"`
		NetAssets   string `json:"net_assets"`
		BuyingPower string `json:"buy_power"`
		Currency    string `json:"currency"`
	}
	if err := l.call(ctx, http.MethodGet, "/v1/asset/account", nil, &payload); err != nil {
		return nil, err
	}

	cash, _ := decimal.NewFromString(payload.Cash)
	net, _ := decimal.NewFromString(payload.NetAssets)
	power, _ := decimal.NewFromString(payload.BuyingPower)
	return &Balance{
		Cash:       cash,
		NetAssets:  net,
		BuyingPowr: power,
		Currency:   payload.Currency,
	}, nil
}

func (p orderPayload) toOrder() *Order {
	qty, _ := decimal.NewFromString(p.Quantity)
	filled, _ := decimal.NewFromString(p.ExecutedQty)
	price, _ := decimal.NewFromString(p.ExecutedPx)

	status := OrderStatus(p.Status)
	switch status {
	case OrderStatusSubmitted, OrderStatusFilled, OrderStatusPartial,
		OrderStatusCancelled, OrderStatusRejected:
	default:
		status = OrderStatusSubmitted
	}

	return &Order{
		ID:          p.OrderID,
		Symbol:      p.Symbol,
		Side:        OrderSide(p.Side),
		Type:        OrderType(p.OrderType),
		Quantity:    qty,
		Status:      status,
		FilledQty:   filled,
		FilledPrice: price,
		SubmittedAt: time.Unix(p.SubmittedAt, 0),
	}
}
