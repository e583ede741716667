package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fundingarb/funding"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/types"
)

func baseCtx(t *testing.T) *EvalContext {
	t.Helper()
	cfg := config.Default()
	openedAt := time.Now().Add(-72 * time.Hour)
	trade := &types.Trade{
		TradeID:           "T1",
		Symbol:            "BTC-USD",
		Leg1:              types.TradeLeg{Side: types.SideLong, EntryPx: decimal.NewFromInt(100), QtyFilled: decimal.NewFromInt(1)},
		Leg2:              types.TradeLeg{Side: types.SideShort, EntryPx: decimal.NewFromInt(100), QtyFilled: decimal.NewFromInt(1)},
		TargetNotionalUSD: decimal.NewFromInt(350),
		EntryAPY:          decimal.NewFromFloat(0.20),
		OpenedAt:          &openedAt,
	}
	return &EvalContext{
		Trade: trade, Now: time.Now(),
		Exits: cfg.Exits, Trading: cfg.Trading,
		CurrentAPY: decimal.NewFromFloat(0.20),
	}
}

func TestZeroExitFiresWhenNothingTriggers(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	rule, _, fired := Evaluate(ctx)
	assert.False(t, fired)
	assert.Empty(t, rule)
}

func TestLiquidationImminentFiresRegardlessOfHoldTime(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	recent := time.Now().Add(-time.Minute)
	ctx.Trade.OpenedAt = &recent // well under min_hold_seconds

	liqPx := decimal.NewFromInt(99)
	ctx.MakerPos = &types.Position{MarkPx: decimal.NewFromInt(100), LiqPx: &liqPx}

	rule, _, fired := Evaluate(ctx)
	require.True(t, fired)
	assert.Equal(t, "LIQUIDATION_IMMINENT", rule)
}

func TestMaxHoldGatedByMinHold(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	ctx.Trading.MaxHoldHours = decimal.NewFromInt(1) // already exceeded by the 72h-old trade in baseCtx

	rule, _, fired := Evaluate(ctx)
	require.True(t, fired)
	assert.Equal(t, "MAX_HOLD", rule)
}

func TestMaxHoldDoesNotFireBeforeMinHold(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	recent := time.Now().Add(-time.Minute)
	ctx.Trade.OpenedAt = &recent
	ctx.Trading.MaxHoldHours = decimal.NewFromInt(0)

	_, _, fired := Evaluate(ctx)
	assert.False(t, fired, "layer 2 rules must not fire before min_hold_seconds elapses")
}

func TestCatastrophicFundingFlipFiresAsLayer1(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	recent := time.Now().Add(-time.Second)
	ctx.Trade.OpenedAt = &recent
	ctx.CurrentAPY = decimal.NewFromFloat(-3.0)

	rule, _, fired := Evaluate(ctx)
	require.True(t, fired)
	assert.Equal(t, "CATASTROPHIC_FUNDING_FLIP", rule)
}

func TestZScoreExitFiresBelowThreshold(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	ring := funding.NewHistoryRing(24 * 10)
	base := time.Now().Add(-9 * 24 * time.Hour)
	for i := 0; i < 24*9; i++ {
		rate := 0.00018
		if i%2 == 0 {
			rate = 0.00022
		}
		ring.Append(funding.RateSample{RateHourly: decimal.NewFromFloat(rate), ObservedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	ctx.History = ring
	ctx.CurrentAPY = decimal.NewFromFloat(0.00002 * 8760) // hourly rate far below the ~0.0002 mean

	rule, _, fired := Evaluate(ctx)
	require.True(t, fired)
	assert.Equal(t, "Z_SCORE", rule)
}

func TestProfitTargetFires(t *testing.T) {
	t.Parallel()
	ctx := baseCtx(t)
	ctx.Trade.TargetNotionalUSD = decimal.NewFromInt(1000)
	ctx.Trade.Leg1.ExitPx = decimal.NewFromInt(120) // +20 on leg1, long
	ctx.Trade.Leg2.ExitPx = decimal.NewFromInt(100) // flat on leg2, short
	ctx.Exits.MinProfitExitUsd = decimal.NewFromInt(15)
	ctx.Exits.EarlyTPUsd = decimal.NewFromInt(10000) // keep layer 1's EARLY_TAKE_PROFIT from preempting

	rule, _, fired := Evaluate(ctx)
	require.True(t, fired)
	assert.Equal(t, "PROFIT_TARGET", rule)
}
