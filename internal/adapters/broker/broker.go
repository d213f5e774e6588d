// Package broker defines the execution contract and the order model
// shared by the paper simulator and the live Longbridge client.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide defines buy or sell direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType defines supported order execution types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle status of a submitted order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"` // limit orders only
}

// Order is the handle returned for a placed order.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      OrderStatus     `json:"status"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// BrokerPosition is one holding as reported by the broker account.
type BrokerPosition struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Currency  string          `json:"currency"`
}

// Balance is the account cash view.
type Balance struct {
	Cash       decimal.Decimal `json:"cash"`
	NetAssets  decimal.Decimal `json:"net_assets"`
	BuyingPowr decimal.Decimal `json:"buying_power"`
	Currency   string          `json:"currency"`
}

// Execution is the unified contract both the paper simulator and the live
// client satisfy.
type Execution interface {
	Name() string

	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetBalance(ctx context.Context) (*Balance, error)
}

func newOrderID() string {
	return uuid.NewString()
}
