package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue/paper"
)

func TestRefreshSymbolsPopulatesCacheForBothVenues(t *testing.T) {
	t.Parallel()
	maker := paper.New("maker", decimal.NewFromInt(10000))
	hedge := paper.New("hedge", decimal.NewFromInt(10000))
	seed := func(a *paper.Adapter) {
		a.SeedBook(types.OrderbookL1{Symbol: "ETH", BidPx: decimal.NewFromInt(3000), BidQty: decimal.NewFromInt(5), AskPx: decimal.NewFromInt(3001), AskQty: decimal.NewFromInt(5), UpdatedAt: time.Now()})
		a.SeedFunding(types.FundingRate{Symbol: "ETH", RateHourly: decimal.NewFromFloat(0.0001), ObservedAt: time.Now()})
	}
	seed(maker)
	seed(hedge)

	cache := NewCache()
	r := NewRefresher(cache, maker, hedge, time.Second)

	r.RefreshSymbols(context.Background(), []types.Symbol{"ETH"})

	snap := cache.Get("ETH")
	require.True(t, snap.Fresh())
	assert.True(t, snap.MakerL1.Valid())
	assert.True(t, snap.HedgeL1.Valid())
}

func TestRefreshSymbolsMissingSideDegradesNotFails(t *testing.T) {
	t.Parallel()
	maker := paper.New("maker", decimal.NewFromInt(10000))
	maker.SeedBook(types.OrderbookL1{Symbol: "ETH", BidPx: decimal.NewFromInt(3000), BidQty: decimal.NewFromInt(5), AskPx: decimal.NewFromInt(3001), AskQty: decimal.NewFromInt(5), UpdatedAt: time.Now()})
	maker.SeedFunding(types.FundingRate{Symbol: "ETH", ObservedAt: time.Now()})
	hedge := paper.New("hedge", decimal.NewFromInt(10000)) // ETH unseeded: will error

	cache := NewCache()
	r := NewRefresher(cache, maker, hedge, time.Second)
	r.RefreshSymbols(context.Background(), []types.Symbol{"ETH"})

	snap := cache.Get("ETH")
	assert.True(t, snap.MakerOK)
	assert.False(t, snap.HedgeOK)
	assert.False(t, snap.Fresh())
}
