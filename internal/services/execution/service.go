// Package execution consolidates order placement behind one trading
// mode: paper routes to the in-memory simulator, live to the Longbridge
// trade client. Sizing is portfolio-fraction based.
package execution

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/majiajue/longbridge-sub000/internal/adapters/broker"
	"github.com/majiajue/longbridge-sub000/internal/adapters/config"
	"github.com/majiajue/longbridge-sub000/internal/domain/strategy"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// PriceBook caches the latest trade price per symbol. It satisfies
// broker.PriceSource for paper fills.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewPriceBook creates an empty price cache.
func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]decimal.Decimal)}
}

// Update stores the latest price for a symbol.
func (b *PriceBook) Update(symbol string, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// LastPrice returns the latest stored price.
func (b *PriceBook) LastPrice(symbol string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// Service routes orders to the active backend and sizes entries.
type Service struct {
	mode    config.TradingMode
	backend broker.Execution
	log     *logger.Logger
}

// NewService creates an execution service for the given mode and backend.
func NewService(mode config.TradingMode, backend broker.Execution) *Service {
	return &Service{
		mode:    mode,
		backend: backend,
		log: logger.Get().With(
			"component", "execution_service",
			"mode", string(mode),
			"backend", backend.Name(),
		),
	}
}

// Mode returns the active trading mode.
func (s *Service) Mode() config.TradingMode { return s.mode }

// Execute places the order through the active backend.
func (s *Service) Execute(ctx context.Context, req *broker.OrderRequest) (*broker.Order, error) {
	order, err := s.backend.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Order executed",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"status", order.Status,
	)
	return order, nil
}

// Quantity sizes an entry: strategy position fraction of net assets,
// rounded down to whole shares and capped by available cash.
func (s *Service) Quantity(ctx context.Context, st *strategy.Strategy, price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, errors.Wrap(errors.ErrInvalidInput, "non-positive price")
	}
	fraction := st.PositionFraction
	if fraction <= 0 {
		fraction = 0.1
	}

	balance, err := s.backend.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch balance for sizing")
	}

	budget := balance.NetAssets.Mul(decimal.NewFromFloat(fraction))
	if budget.GreaterThan(balance.Cash) {
		budget = balance.Cash
	}
	qty := budget.Div(price).Floor()
	if qty.Sign() <= 0 {
		return decimal.Zero, errors.Wrapf(errors.ErrInvalidInput,
			"budget %s cannot buy one share at %s", budget, price)
	}
	return qty, nil
}

// Positions proxies the broker position snapshot.
func (s *Service) Positions(ctx context.Context) ([]broker.BrokerPosition, error) {
	return s.backend.GetPositions(ctx)
}

// Balance proxies the broker balance view.
func (s *Service) Balance(ctx context.Context) (*broker.Balance, error) {
	return s.backend.GetBalance(ctx)
}
