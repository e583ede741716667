package opportunity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/marketdata"
	"github.com/web3guy0/fundingarb/types"
)

func freshSnap(symbol types.Symbol, makerRate, hedgeRate decimal.Decimal) marketdata.Snapshot {
	now := time.Now()
	return marketdata.Snapshot{
		Symbol: symbol,
		MakerL1: types.OrderbookL1{
			Symbol: symbol, BidPx: decimal.NewFromInt(3000), BidQty: decimal.NewFromInt(5),
			AskPx: decimal.NewFromInt(3001), AskQty: decimal.NewFromInt(5), UpdatedAt: now,
		},
		HedgeL1: types.OrderbookL1{
			Symbol: symbol, BidPx: decimal.NewFromInt(3000), BidQty: decimal.NewFromInt(5),
			AskPx: decimal.NewFromInt(3001), AskQty: decimal.NewFromInt(5), UpdatedAt: now,
		},
		MakerFunding: types.FundingRate{Symbol: symbol, Venue: "maker", RateHourly: makerRate, ObservedAt: now},
		HedgeFunding: types.FundingRate{Symbol: symbol, Venue: "hedge", RateHourly: hedgeRate, ObservedAt: now},
		MakerOK:      true,
		HedgeOK:      true,
		RefreshedAt:  now,
	}
}

func testConfig() config.TradingConfig {
	return config.Default().Trading
}

func TestScanAcceptsProfitableOpportunity(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0002), decimal.NewFromFloat(0.0002))

	out := s.Scan([]marketdata.Snapshot{snap})

	require.Len(t, out, 1)
	assert.Equal(t, types.Symbol("ETH"), out[0].Symbol)
	assert.True(t, out[0].APY.GreaterThan(cfg.MinAPYThreshold))
}

func TestScanRejectsStaleSnapshot(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0002), decimal.NewFromFloat(0.0002))
	snap.MakerOK = false

	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Empty(t, out)
}

func TestScanRejectsBelowAPYThreshold(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(0), decimal.NewFromFloat(0.0000001))

	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Empty(t, out)
}

func TestScanSortsByScoreDescending(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	hot := freshSnap("ETH", decimal.NewFromFloat(-0.0005), decimal.NewFromFloat(0.0005))
	warm := freshSnap("BTC", decimal.NewFromFloat(-0.00025), decimal.NewFromFloat(0.00025))

	out := s.Scan([]marketdata.Snapshot{warm, hot})
	require.Len(t, out, 2)
	assert.Equal(t, types.Symbol("ETH"), out[0].Symbol)
}

func TestScanRejectsNotionalBelowMinOnBothVenues(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DesiredNotionalUSD = decimal.NewFromInt(1) // below MinNotional
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0005), decimal.NewFromFloat(0.0005))

	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Empty(t, out)
}

func TestScanRejectsNotionalAboveMaxPerTrade(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DesiredNotionalUSD = cfg.MaxNotionalPerTrade.Add(decimal.NewFromInt(1))
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0005), decimal.NewFromFloat(0.0005))

	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Empty(t, out)
}

// A snapshot whose book is not execution-ready on one side (e.g. one-sided
// qty) must still pass scan-time filtering: execution-readiness is only
// enforced at the execution engine's pre-flight, never during scanning.
func TestScanAcceptsScanValidButExecutionInvalidSnapshot(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0005), decimal.NewFromFloat(0.0005))
	snap.HedgeL1.AskQty = decimal.Zero // one-sided: scan-valid (bid<ask, fresh), execution-invalid

	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Len(t, out, 1)
}

// Cooldown must be the last gate evaluated: a symbol failing on its own
// merits (e.g. below the APY threshold) is rejected for that reason, not
// charged against its cooldown bookkeeping.
func TestCooldownEvaluatedAfterOtherFilters(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := NewScanner(cfg)
	s.RecordFailure("ETH")
	s.RecordFailure("ETH")
	s.RecordFailure("ETH") // trips cooldown at CooldownMaxFailures

	belowAPY := freshSnap("ETH", decimal.NewFromFloat(0), decimal.NewFromFloat(0.0000001))
	out := s.Scan([]marketdata.Snapshot{belowAPY})
	assert.Empty(t, out, "rejected on APY before cooldown is ever consulted")
}

func TestCooldownSuppressesAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.CooldownBaseSeconds = 3600 // long enough that the test window never elapses it
	s := NewScanner(cfg)
	snap := freshSnap("ETH", decimal.NewFromFloat(-0.0005), decimal.NewFromFloat(0.0005))

	s.RecordFailure("ETH")
	out := s.Scan([]marketdata.Snapshot{snap})
	assert.Empty(t, out)

	s.RecordSuccess("ETH")
	out = s.Scan([]marketdata.Snapshot{snap})
	assert.Len(t, out, 1)
}
