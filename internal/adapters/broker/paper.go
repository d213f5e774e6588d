package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// PriceSource supplies the latest trade price for paper fills.
type PriceSource interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// Paper is an in-memory execution simulator. Market orders fill
// immediately at the last observed price; limit orders fill when the
// limit is marketable against it, otherwise they are rejected to keep the
// simulation stateless.
type Paper struct {
	prices PriceSource

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*BrokerPosition
	orders    map[string]*Order

	log *logger.Logger
}

// NewPaper creates a paper broker with the given starting cash.
func NewPaper(startingCash decimal.Decimal, prices PriceSource) *Paper {
	return &Paper{
		prices:    prices,
		cash:      startingCash,
		positions: make(map[string]*BrokerPosition),
		orders:    make(map[string]*Order),
		log:       logger.Get().With("component", "paper_broker"),
	}
}

// Name identifies the execution backend.
func (p *Paper) Name() string { return "paper" }

// PlaceOrder fills or rejects the request synchronously.
func (p *Paper) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req.Quantity.Sign() <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "quantity must be positive")
	}

	price, ok := p.prices.LastPrice(req.Symbol)
	if !ok || price.Sign() <= 0 {
		return nil, errors.Wrapf(errors.ErrOrderRejected, "no market price for %s", req.Symbol)
	}
	if req.Type == OrderTypeLimit {
		marketable := (req.Side == OrderSideBuy && req.LimitPrice.GreaterThanOrEqual(price)) ||
			(req.Side == OrderSideSell && req.LimitPrice.LessThanOrEqual(price))
		if !marketable {
			return nil, errors.Wrapf(errors.ErrOrderRejected,
				"limit %s not marketable against %s", req.LimitPrice, price)
		}
		price = req.LimitPrice
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := &Order{
		ID:          newOrderID(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		SubmittedAt: time.Now(),
	}

	cost := price.Mul(req.Quantity)
	switch req.Side {
	case OrderSideBuy:
		if p.cash.LessThan(cost) {
			order.Status = OrderStatusRejected
			p.orders[order.ID] = order
			return order, errors.Wrapf(errors.ErrOrderRejected,
				"insufficient cash: need %s have %s", cost, p.cash)
		}
		p.cash = p.cash.Sub(cost)
		p.applyBuy(req.Symbol, req.Quantity, price)

	case OrderSideSell:
		pos, ok := p.positions[req.Symbol]
		if !ok || pos.Quantity.LessThan(req.Quantity) {
			order.Status = OrderStatusRejected
			p.orders[order.ID] = order
			return order, errors.Wrapf(errors.ErrOrderRejected,
				"insufficient holding in %s", req.Symbol)
		}
		p.cash = p.cash.Add(cost)
		pos.Quantity = pos.Quantity.Sub(req.Quantity)
		if pos.Quantity.Sign() == 0 {
			delete(p.positions, req.Symbol)
		}

	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown side %q", req.Side)
	}

	order.Status = OrderStatusFilled
	order.FilledQty = req.Quantity
	order.FilledPrice = price
	p.orders[order.ID] = order

	p.log.Infow("📝 Paper fill",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"price", price,
	)
	return order, nil
}

func (p *Paper) applyBuy(symbol string, qty, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &BrokerPosition{Symbol: symbol, Quantity: qty, CostPrice: price}
		return
	}
	// Weighted-average cost basis
	total := pos.Quantity.Add(qty)
	pos.CostPrice = pos.CostPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
	pos.Quantity = total
}

// CancelOrder fails for paper orders since fills are synchronous.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "order %s", orderID)
	}
	if order.Status.Terminal() {
		return errors.Wrapf(errors.ErrInvalidInput, "order %s already %s", orderID, order.Status)
	}
	order.Status = OrderStatusCancelled
	return nil
}

// GetOrder returns a copy of the order handle.
func (p *Paper) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "order %s", orderID)
	}
	cp := *order
	return &cp, nil
}

// GetPositions returns a copy of the simulated holdings.
func (p *Paper) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetBalance returns the simulated cash view. Net assets mark holdings at
// the last observed price.
func (p *Paper) GetBalance(ctx context.Context) (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	net := p.cash
	for _, pos := range p.positions {
		price, ok := p.prices.LastPrice(pos.Symbol)
		if !ok {
			price = pos.CostPrice
		}
		net = net.Add(price.Mul(pos.Quantity))
	}
	return &Balance{
		Cash:       p.cash,
		NetAssets:  net,
		BuyingPowr: p.cash,
		Currency:   "USD",
	}, nil
}
