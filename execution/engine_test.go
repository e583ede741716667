package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
	"github.com/web3guy0/fundingarb/venue/paper"
)

func seedTestVenues(t *testing.T, symbol types.Symbol) (*paper.Adapter, *paper.Adapter) {
	t.Helper()
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	book := types.OrderbookL1{
		Symbol: symbol,
		BidPx:  decimal.NewFromInt(100), BidQty: decimal.NewFromInt(10),
		AskPx: decimal.NewFromFloat(100.1), AskQty: decimal.NewFromInt(10),
	}
	maker.SeedBook(book)
	hedge.SeedBook(book)
	market := types.MarketInfo{
		Symbol: symbol, StepSize: decimal.NewFromFloat(0.001),
		MinQty: decimal.NewFromFloat(0.01), MinNotional: decimal.NewFromInt(10),
	}
	maker.SeedMarket(market)
	hedge.SeedMarket(market)
	return maker, hedge
}

func testOpportunity(symbol types.Symbol) types.Opportunity {
	return types.Opportunity{
		Symbol: symbol, LongVenue: "maker", ShortVenue: "hedge",
		SuggestedQty: decimal.NewFromFloat(3.498), SuggestedNotional: decimal.NewFromInt(350),
		MidPx: decimal.NewFromFloat(100.05), APY: decimal.NewFromFloat(0.2), SpreadPct: decimal.NewFromFloat(0.001),
	}
}

// S1: happy path — both legs fill, the trade lands OPEN/StateComplete.
func TestOpenTradeHappyPathCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	maker, hedge := seedTestVenues(t, symbol)

	bus := events.NewBus()
	eng := NewEngine(maker, hedge, config.Default().Execution, config.Default().Trading, nil, bus)

	trade, state, err := eng.OpenTrade(ctx, testOpportunity(symbol))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, state)
	assert.Equal(t, types.TradeStatusOpen, trade.Status)
	assert.True(t, trade.Leg1.QtyFilled.GreaterThan(decimal.Zero))
	assert.True(t, trade.Leg2.QtyFilled.GreaterThan(decimal.Zero))
}

// failingPlaceOrderPort wraps a real venue.Port and makes every PlaceOrder
// call fail with a retryable venue error, exercising the open sequence's
// hedge-failure -> rollback path without needing a live venue.
type failingPlaceOrderPort struct {
	venue.Port
}

func (f failingPlaceOrderPort) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	return types.Order{}, types.NewVenueError(f.Port.Name(), "place_order", types.KindRateLimited,
		fmt.Errorf("simulated venue outage"))
}

// S2: LEG2 cannot be hedged, rollback of LEG1 succeeds — final state is
// FAILED with the mandated "rollback_hedge_failed_then_recovered" reason.
func TestOpenTradeLeg2FailsRollbackRecovers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	maker, realHedge := seedTestVenues(t, symbol)
	hedge := failingPlaceOrderPort{Port: realHedge}

	bus := events.NewBus()
	eng := NewEngine(maker, hedge, config.Default().Execution, config.Default().Trading, nil, bus)

	trade, state, err := eng.OpenTrade(ctx, testOpportunity(symbol))
	require.Error(t, err)
	assert.Equal(t, StateRollbackDone, state)
	assert.Equal(t, types.TradeStatusFailed, trade.Status)
	assert.Equal(t, ReasonRollbackRecovered, trade.CloseReason)
}

// S3: a trade already marked BROKEN_HEDGE closes cleanly once both legs can
// flatten — the mandated "broken_hedge_recovered" reason lands on the
// now-CLOSED trade.
func TestCloseTradeRecoversFromBrokenHedge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	maker, hedge := seedTestVenues(t, symbol)

	bus := events.NewBus()
	eng := NewEngine(maker, hedge, config.Default().Execution, config.Default().Trading, nil, bus)

	trade := &types.Trade{
		TradeID: "T-broken", Symbol: symbol, Status: types.TradeStatusBrokenHedge,
		Leg1: types.TradeLeg{Venue: "maker", Side: types.SideLong, QtyFilled: decimal.NewFromInt(1), EntryPx: decimal.NewFromInt(100)},
		Leg2: types.TradeLeg{Venue: "hedge", Side: types.SideShort, QtyFilled: decimal.NewFromInt(1), EntryPx: decimal.NewFromInt(101)},
	}

	err := eng.CloseTrade(ctx, trade, "manual_recovery_attempt")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusClosed, trade.Status)
	assert.Equal(t, ReasonBrokenHedgeRecovered, trade.CloseReason)
}

// fakeFillPort returns a scripted sequence of GetOrder responses, used to
// simulate a venue whose reported cumulative fill decreases between polls.
type fakeFillPort struct {
	venue.Port
	responses []types.Order
	calls     int
}

func (f *fakeFillPort) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

// S5: waitForFill must never let a polled cumulative fill regress.
func TestWaitForFillClampsVenueReportedDecrease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")

	port := &fakeFillPort{
		responses: []types.Order{
			{OrderID: "o1", Status: types.OrderStatusOpen, FilledQty: decimal.NewFromInt(2), AvgFillPx: decimal.NewFromInt(100)},
			{OrderID: "o1", Status: types.OrderStatusFilled, FilledQty: decimal.NewFromInt(1), AvgFillPx: decimal.NewFromInt(100)},
		},
	}

	eng := &Engine{}
	initial := types.Order{OrderID: "o1", Status: types.OrderStatusOpen, FilledQty: decimal.Zero}
	final := eng.waitForFill(ctx, "T-S5", port, symbol, initial, 2*time.Second)

	assert.Equal(t, types.OrderStatusFilled, final.Status)
	assert.True(t, decimal.NewFromInt(2).Equal(final.FilledQty), "fill must retain the prior max of 2, not regress to 1")
}
