package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue/paper"
)

func newReconcilerTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "reconciler-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func openPosition(t *testing.T, adapter *paper.Adapter, symbol types.Symbol, side types.Side, qty decimal.Decimal) {
	t.Helper()
	book := types.OrderbookL1{Symbol: symbol, BidPx: decimal.NewFromInt(100), BidQty: decimal.NewFromInt(10), AskPx: decimal.NewFromInt(101), AskQty: decimal.NewFromInt(10)}
	adapter.SeedBook(book)
	_, err := adapter.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: symbol, Venue: adapter.Name(), Side: side, Qty: qty,
		Type: types.OrderTypeMarket, TIF: types.TIFIOC, ClientOrderID: "seed-" + string(symbol),
	})
	require.NoError(t, err)
}

// Ghost: a venue reports a position with no matching OPEN trade row.
func TestReconcilerGhostNotImportedByDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	store := newReconcilerTestStore(t)
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	openPosition(t, maker, symbol, types.SideLong, decimal.NewFromInt(1))

	r := NewReconciler(store, maker, hedge, events.NewBus(), decimal.NewFromFloat(0.0001), false)
	mismatches, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchGhost, mismatches[0].Kind)

	rows, err := store.GetOpenTrades()
	require.NoError(t, err)
	assert.Empty(t, rows, "ghost must not be imported when AutoImportGhosts is false")
}

func TestReconcilerGhostAutoImportedWhenEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	store := newReconcilerTestStore(t)
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	openPosition(t, maker, symbol, types.SideLong, decimal.NewFromInt(1))

	r := NewReconciler(store, maker, hedge, events.NewBus(), decimal.NewFromFloat(0.0001), true)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	rows, err := store.GetOpenTrades()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(types.TradeStatusBrokenHedge), rows[0].Status)
}

// Zombie: an OPEN trade row with no position on either venue.
func TestReconcilerZombieMarkedClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	store := newReconcilerTestStore(t)
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))

	store.SaveTrade(storage.TradeRow{ID: "zombie-1", Symbol: string(symbol), Status: string(types.TradeStatusOpen), OpenedAt: time.Now()})
	time.Sleep(150 * time.Millisecond) // let the write-behind queue flush before reading

	r := NewReconciler(store, maker, hedge, events.NewBus(), decimal.NewFromFloat(0.0001), false)
	mismatches, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchZombie, mismatches[0].Kind)

	row, err := store.GetTrade("zombie-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.TradeStatusClosed), row.Status)
	assert.Equal(t, ReasonZombie, row.CloseReason)
}

// LegMissing: storage shows OPEN but only one venue reports a position.
func TestReconcilerLegMissingMarkedBrokenHedge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	store := newReconcilerTestStore(t)
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	openPosition(t, maker, symbol, types.SideLong, decimal.NewFromInt(1))
	// hedge deliberately carries no position: the broken-hedge case.

	store.SaveTrade(storage.TradeRow{ID: "legmiss-1", Symbol: string(symbol), Status: string(types.TradeStatusOpen), OpenedAt: time.Now()})
	time.Sleep(150 * time.Millisecond) // let the write-behind queue flush before reading

	var gotBroken bool
	bus := events.NewBus()
	bus.Subscribe(events.BrokenHedgeDetected, func(ev events.Event) {
		if _, ok := ev.Payload.(*types.Trade); ok {
			gotBroken = true
		}
	})

	r := NewReconciler(store, maker, hedge, bus, decimal.NewFromFloat(0.0001), false)
	mismatches, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchLegMissing, mismatches[0].Kind)

	row, err := store.GetTrade("legmiss-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.TradeStatusBrokenHedge), row.Status)

	time.Sleep(20 * time.Millisecond) // bus dispatch runs on its own goroutine
	assert.True(t, gotBroken)
}

// SizeDrift: both venues carry a position but the persisted leg qty disagrees
// with venue truth beyond step tolerance — the persisted leg is corrected.
func TestReconcilerSizeDriftCorrectsFromVenueTruth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	symbol := types.Symbol("ETH-USD")
	store := newReconcilerTestStore(t)
	maker := paper.New("maker", decimal.NewFromInt(100000))
	hedge := paper.New("hedge", decimal.NewFromInt(100000))
	openPosition(t, maker, symbol, types.SideLong, decimal.NewFromInt(2))
	openPosition(t, hedge, symbol, types.SideShort, decimal.NewFromInt(2))

	store.SaveTrade(storage.TradeRow{ID: "drift-1", Symbol: string(symbol), Status: string(types.TradeStatusOpen), OpenedAt: time.Now()})
	store.SaveTradeLeg(storage.TradeLegRow{TradeID: "drift-1", Leg: "maker", Venue: "maker", EntryQty: decimal.NewFromInt(1)})
	store.SaveTradeLeg(storage.TradeLegRow{TradeID: "drift-1", Leg: "hedge", Venue: "hedge", EntryQty: decimal.NewFromInt(2)})
	time.Sleep(150 * time.Millisecond) // let the write-behind queue flush before reading

	r := NewReconciler(store, maker, hedge, events.NewBus(), decimal.NewFromFloat(0.0001), false)
	mismatches, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchSizeDrift, mismatches[0].Kind)

	time.Sleep(150 * time.Millisecond) // let the write-behind queue flush before reading

	legs, err := store.GetTradeLegs("drift-1")
	require.NoError(t, err)
	for _, leg := range legs {
		if leg.Leg == "maker" {
			assert.True(t, decimal.NewFromInt(2).Equal(leg.EntryQty))
		}
	}
}
