package position

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/types"
)

// minRebalanceNotionalUSD below which a detected drift is ignored as noise
// rather than scheduled for correction.
var minRebalanceNotionalUSD = decimal.NewFromInt(1)

// RebalancePlan describes a correction order that would bring both legs
// back to matching notional exposure.
type RebalancePlan struct {
	Symbol      types.Symbol
	Venue       string
	Side        types.Side
	Qty         decimal.Decimal
	NotionalUSD decimal.Decimal
}

// PlanRebalance sizes a delta-neutral correction by notional rather than raw
// quantity (spec section 9 open question, resolved notional-based — see
// DESIGN.md), grounded on risk/sizing.go's equity-and-distance-scaled sizing
// formula generalized here to a notional-gap-scaled correction: the target
// is the midpoint of the two legs' current notional, and whichever leg is
// furthest from it gets a correction order toward that midpoint. Both legs
// sit equally far from the midpoint, so the tie goes to the hedge leg.
func PlanRebalance(trade *types.Trade, makerPos, hedgePos *types.Position) (RebalancePlan, bool) {
	if makerPos == nil || hedgePos == nil {
		return RebalancePlan{}, false
	}
	makerNotional := makerPos.Notional()
	hedgeNotional := hedgePos.Notional()

	target := makerNotional.Add(hedgeNotional).Div(decimal.NewFromInt(2))
	gapMaker := target.Sub(makerNotional)
	gapHedge := target.Sub(hedgeNotional)

	if gapMaker.Abs().GreaterThan(gapHedge.Abs()) {
		return planFor(trade.Symbol, makerPos, gapMaker)
	}
	return planFor(trade.Symbol, hedgePos, gapHedge)
}

func planFor(symbol types.Symbol, pos *types.Position, gap decimal.Decimal) (RebalancePlan, bool) {
	if gap.Abs().LessThan(minRebalanceNotionalUSD) || pos.MarkPx.IsZero() {
		return RebalancePlan{}, false
	}
	side := types.SideLong
	if gap.LessThan(decimal.Zero) {
		side = types.SideShort
	}
	qty := gap.Abs().Div(pos.MarkPx)
	return RebalancePlan{
		Symbol: symbol, Venue: pos.Venue, Side: side, Qty: qty, NotionalUSD: gap.Abs(),
	}, true
}
