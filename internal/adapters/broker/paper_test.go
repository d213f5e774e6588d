package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majiajue/longbridge-sub000/pkg/errors"
)

type staticPrices map[string]float64

func (p staticPrices) LastPrice(symbol string) (decimal.Decimal, bool) {
	v, ok := p[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

func TestPaper_MarketBuyAndSell(t *testing.T) {
	prices := staticPrices{"700.HK": 350}
	paper := NewPaper(decimal.NewFromInt(10000), prices)
	ctx := context.Background()

	buy, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol:   "700.HK",
		Side:     OrderSideBuy,
		Quantity: decimal.NewFromInt(10),
		Type:     OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, buy.Status)
	assert.True(t, buy.FilledPrice.Equal(decimal.NewFromInt(350)))

	balance, err := paper.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Cash.Equal(decimal.NewFromInt(6500)), "cash = %s", balance.Cash)
	assert.True(t, balance.NetAssets.Equal(decimal.NewFromInt(10000)))

	positions, err := paper.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, positions[0].CostPrice.Equal(decimal.NewFromInt(350)))

	sell, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol:   "700.HK",
		Side:     OrderSideSell,
		Quantity: decimal.NewFromInt(10),
		Type:     OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, sell.Status)

	balance, err = paper.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Cash.Equal(decimal.NewFromInt(10000)))

	positions, err = paper.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "fully sold holding disappears")
}

func TestPaper_InsufficientCashRejected(t *testing.T) {
	paper := NewPaper(decimal.NewFromInt(100), staticPrices{"700.HK": 350})

	order, err := paper.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:   "700.HK",
		Side:     OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Type:     OrderTypeMarket,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))
	assert.Equal(t, OrderStatusRejected, order.Status)

	balance, err := paper.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Cash.Equal(decimal.NewFromInt(100)), "rejection must not move cash")
}

func TestPaper_SellWithoutHoldingRejected(t *testing.T) {
	paper := NewPaper(decimal.NewFromInt(10000), staticPrices{"700.HK": 350})

	_, err := paper.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:   "700.HK",
		Side:     OrderSideSell,
		Quantity: decimal.NewFromInt(1),
		Type:     OrderTypeMarket,
	})
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))
}

func TestPaper_NoMarketPriceRejected(t *testing.T) {
	paper := NewPaper(decimal.NewFromInt(10000), staticPrices{})

	_, err := paper.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:   "UNKNOWN.US",
		Side:     OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Type:     OrderTypeMarket,
	})
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))
}

func TestPaper_LimitOrderMarketability(t *testing.T) {
	paper := NewPaper(decimal.NewFromInt(10000), staticPrices{"700.HK": 350})
	ctx := context.Background()

	// A buy limit below the market is not marketable in a stateless sim.
	_, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol:     "700.HK",
		Side:       OrderSideBuy,
		Quantity:   decimal.NewFromInt(1),
		Type:       OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(340),
	})
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))

	// At or above the market it fills at the limit.
	order, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol:     "700.HK",
		Side:       OrderSideBuy,
		Quantity:   decimal.NewFromInt(1),
		Type:       OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(355),
	})
	require.NoError(t, err)
	assert.True(t, order.FilledPrice.Equal(decimal.NewFromInt(355)))
}

func TestPaper_AverageCostBasis(t *testing.T) {
	prices := staticPrices{"700.HK": 100}
	paper := NewPaper(decimal.NewFromInt(100000), prices)
	ctx := context.Background()

	_, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol: "700.HK", Side: OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Type: OrderTypeMarket,
	})
	require.NoError(t, err)

	prices["700.HK"] = 200
	_, err = paper.PlaceOrder(ctx, &OrderRequest{
		Symbol: "700.HK", Side: OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Type: OrderTypeMarket,
	})
	require.NoError(t, err)

	positions, err := paper.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, positions[0].CostPrice.Equal(decimal.NewFromInt(150)),
		"weighted average of 100 and 200")
}

func TestPaper_OrderLookupAndCancel(t *testing.T) {
	paper := NewPaper(decimal.NewFromInt(10000), staticPrices{"700.HK": 100})
	ctx := context.Background()

	order, err := paper.PlaceOrder(ctx, &OrderRequest{
		Symbol: "700.HK", Side: OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Type: OrderTypeMarket,
	})
	require.NoError(t, err)

	got, err := paper.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// Synchronous fills leave nothing to cancel.
	err = paper.CancelOrder(ctx, order.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = paper.GetOrder(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
