// Package position runs the exit-rule stack and coordinated close for every
// open trade (spec section 4.F).
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/funding"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/types"
)

// EvalContext carries everything a single exit-rule evaluation needs. It is
// rebuilt fresh on every tick for every open trade — rules never hold state
// across ticks themselves; anything that needs memory (HWM, delta-violation
// tick counts) lives on the Trade or the Manager.
type EvalContext struct {
	Trade *types.Trade

	MakerPos *types.Position // nil if no venue position exists for this leg
	HedgePos *types.Position

	CurrentAPY  decimal.Decimal // current net funding APY for the held pair
	EstExitCost decimal.Decimal // estimated round-trip cost (fees + slippage) to close now
	ATR14       decimal.Decimal

	History *funding.HistoryRing // this symbol's rate history, read-only

	BestAlternative   *types.Opportunity // best other opportunity available, nil if none
	RotationRoundTrip decimal.Decimal    // round-trip cost of closing this trade + opening the alternative

	DeltaViolationTicks int // consecutive ticks the delta bound has been exceeded

	Now time.Time

	Exits   config.ExitsConfig
	Trading config.TradingConfig
}

// HoldTime returns how long the trade has been open, zero if it never
// reached OPEN.
func (c *EvalContext) HoldTime() time.Duration {
	if c.Trade.OpenedAt == nil {
		return 0
	}
	return c.Now.Sub(*c.Trade.OpenedAt)
}

// LiqDistance returns the smaller of the two legs' fractional distance to
// liquidation (mark-to-liq / mark), or a large sentinel if liquidation
// monitoring is disabled on both legs (LiqPx nil).
func (c *EvalContext) LiqDistance() decimal.Decimal {
	best := decimal.NewFromInt(1) // 100% away, i.e. "not in danger"
	for _, pos := range []*types.Position{c.MakerPos, c.HedgePos} {
		if pos == nil || pos.LiqPx == nil || pos.MarkPx.IsZero() {
			continue
		}
		dist := pos.MarkPx.Sub(*pos.LiqPx).Abs().Div(pos.MarkPx)
		if dist.LessThan(best) {
			best = dist
		}
	}
	return best
}

// PriceEstimatedPnL is the net price PnL (both legs) minus EstExitCost.
func (c *EvalContext) PriceEstimatedPnL() decimal.Decimal {
	return c.Trade.Leg1.PnL().Add(c.Trade.Leg2.PnL()).Sub(c.EstExitCost)
}
