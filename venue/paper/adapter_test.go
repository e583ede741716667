package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/web3guy0/fundingarb/types"
)

func newTestAdapter() *Adapter {
	a := New("maker", decimal.NewFromInt(10000))
	a.SeedBook(types.OrderbookL1{
		Symbol: "ETH", Venue: "maker",
		BidPx: decimal.NewFromInt(3000), BidQty: decimal.NewFromInt(10),
		AskPx: decimal.NewFromInt(3001), AskQty: decimal.NewFromInt(10),
		UpdatedAt: time.Now(),
	})
	return a
}

func TestPlaceOrderDuplicateClientIDIsIdempotent(t *testing.T) {
	t.Parallel()
	a := newTestAdapter()
	req := types.OrderRequest{
		Symbol: "ETH", Venue: "maker", Side: types.SideLong, Qty: decimal.NewFromFloat(0.1),
		Type: types.OrderTypeMarket, TIF: types.TIFIOC, ClientOrderID: "trade1-leg1-1",
	}

	first, err := a.PlaceOrder(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, first.Status)

	_, err = a.PlaceOrder(context.Background(), req)
	assert.Error(t, err)
	var verr *types.VenueError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, types.KindDuplicateClientID, verr.Kind)
}

func TestPlaceOrderPostOnlyRestsWithoutCrossing(t *testing.T) {
	t.Parallel()
	a := newTestAdapter()
	req := types.OrderRequest{
		Symbol: "ETH", Venue: "maker", Side: types.SideLong, Qty: decimal.NewFromFloat(0.1),
		Type: types.OrderTypeLimit, TIF: types.TIFPostOnly, Price: decimal.NewFromInt(3000),
		ClientOrderID: "trade1-leg1-1",
	}

	order, err := a.PlaceOrder(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, types.OrderStatusOpen, order.Status)
	assert.True(t, order.FilledQty.IsZero())
}

func TestPlaceOrderUnknownSymbolIsValidationError(t *testing.T) {
	t.Parallel()
	a := newTestAdapter()
	_, err := a.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "SOL", ClientOrderID: "x", Type: types.OrderTypeMarket,
	})
	assert.Error(t, err)
	var verr *types.VenueError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, types.KindValidation, verr.Kind)
}
