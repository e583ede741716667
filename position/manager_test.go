package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/execution"
	"github.com/web3guy0/fundingarb/funding"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue/paper"
)

func seedBoth(t *testing.T, symbol types.Symbol) (*paper.Adapter, *paper.Adapter) {
	t.Helper()
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	book := types.OrderbookL1{Symbol: symbol, BidPx: decimal.NewFromInt(100), BidQty: decimal.NewFromInt(10), AskPx: decimal.NewFromInt(101), AskQty: decimal.NewFromInt(10)}
	maker.SeedBook(book)
	hedge.SeedBook(book)
	fr := types.FundingRate{Symbol: symbol, RateHourly: decimal.NewFromFloat(0.0001), ObservedAt: time.Now()}
	maker.SeedFunding(fr)
	hedge.SeedFunding(fr)
	return maker, hedge
}

func TestManagerDetectsBrokenHedgeWhenOneLegMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	maker, hedge := seedBoth(t, symbol)

	_, err := maker.PlaceOrder(ctx, types.OrderRequest{
		Symbol: symbol, Venue: "maker", Side: types.SideLong, Qty: decimal.NewFromInt(1),
		Type: types.OrderTypeMarket, TIF: types.TIFIOC, ClientOrderID: "open-maker-1",
	})
	require.NoError(t, err)
	// hedge deliberately left unfilled: the "broken hedge" scenario.

	bus := events.NewBus()
	eng := execution.NewEngine(maker, hedge, config.Default().Execution, config.Default().Trading, nil, bus)
	mgr := NewManager(maker, hedge, eng, funding.NewTracker(maker, hedge, nil, 0), bus, nil, config.Default().Exits, config.Default().Trading)

	trade := &types.Trade{
		TradeID: "T1", Symbol: symbol, Status: types.TradeStatusOpen,
		Leg1: types.TradeLeg{Venue: "maker", Side: types.SideLong, QtyFilled: decimal.NewFromInt(1), EntryPx: decimal.NewFromInt(101)},
		Leg2: types.TradeLeg{Venue: "hedge", Side: types.SideShort, QtyFilled: decimal.NewFromInt(1), EntryPx: decimal.NewFromInt(100)},
	}

	mgr.Tick(ctx, []*types.Trade{trade})

	assert.Equal(t, types.TradeStatusBrokenHedge, trade.Status)
}

func TestManagerSkipsTradesNotOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("BTC-USD")
	maker, hedge := seedBoth(t, symbol)

	bus := events.NewBus()
	eng := execution.NewEngine(maker, hedge, config.Default().Execution, config.Default().Trading, nil, bus)
	mgr := NewManager(maker, hedge, eng, funding.NewTracker(maker, hedge, nil, 0), bus, nil, config.Default().Exits, config.Default().Trading)

	trade := &types.Trade{TradeID: "T2", Symbol: symbol, Status: types.TradeStatusClosed}
	mgr.Tick(ctx, []*types.Trade{trade})

	assert.Empty(t, trade.ExecState, "a non-OPEN trade must not be evaluated")
}

func TestPlanRebalanceSizesTowardNotionalMidpoint(t *testing.T) {
	t.Parallel()
	trade := &types.Trade{Symbol: "BTC-USD"}
	maker := &types.Position{Venue: "maker", Qty: decimal.NewFromInt(2), MarkPx: decimal.NewFromInt(100)} // 200 notional
	hedge := &types.Position{Venue: "hedge", Qty: decimal.NewFromInt(1), MarkPx: decimal.NewFromInt(100)} // 100 notional

	plan, ok := PlanRebalance(trade, maker, hedge)
	require.True(t, ok)
	assert.Equal(t, "hedge", plan.Venue)
	assert.Equal(t, types.SideLong, plan.Side)
	assert.True(t, plan.Qty.GreaterThan(decimal.Zero))
}

func TestPlanRebalanceNoOpWhenBalanced(t *testing.T) {
	t.Parallel()
	trade := &types.Trade{Symbol: "BTC-USD"}
	maker := &types.Position{Venue: "maker", Qty: decimal.NewFromInt(1), MarkPx: decimal.NewFromInt(100)}
	hedge := &types.Position{Venue: "hedge", Qty: decimal.NewFromInt(1), MarkPx: decimal.NewFromInt(100)}

	_, ok := PlanRebalance(trade, maker, hedge)
	assert.False(t, ok)
}
