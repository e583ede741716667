package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// ErrPreflightRejected marks an Opportunity that was scan-valid at scan time
// but failed the immediate pre-open re-check (spec section 4.E): the book
// went execution-invalid or illiquid, the spread widened, margin dried up, or
// the quantized size fell under a venue's min_notional. None of this is
// detectable at scan time without re-reading both venues right before
// dispatch, which is the scanner's explicit non-goal.
var ErrPreflightRejected = errors.New("execution: pre-flight check rejected the opportunity")

// preflight re-validates opp immediately before LEG1/LEG2 submission and
// returns the quantized tradeable qty. It is the only place execution-valid
// (both sides carry qty) is enforced — the scanner only requires scan-valid
// (spec.md's "valid snapshot": one side per venue, bid<ask, fresh).
func (e *Engine) preflight(ctx context.Context, trade *types.Trade, opp types.Opportunity) (decimal.Decimal, error) {
	makerL1, err := e.maker.GetOrderbookL1(ctx, trade.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: maker L1 refetch: %v", ErrPreflightRejected, err)
	}
	hedgeL1, err := e.hedge.GetOrderbookL1(ctx, trade.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: hedge L1 refetch: %v", ErrPreflightRejected, err)
	}
	if !makerL1.ExecutionReady() || !hedgeL1.ExecutionReady() {
		return decimal.Zero, fmt.Errorf("%w: book is no longer execution-ready on both sides", ErrPreflightRejected)
	}

	mid := makerL1.BidPx.Add(makerL1.AskPx).Div(decimal.NewFromInt(2))
	spread := makerL1.AskPx.Sub(makerL1.BidPx).Div(mid)
	if spread.GreaterThan(e.trading.MaxSpreadPct) {
		return decimal.Zero, fmt.Errorf("%w: spread %s exceeds max_spread_pct %s",
			ErrPreflightRejected, spread.String(), e.trading.MaxSpreadPct.String())
	}

	if err := e.checkDepth(ctx, e.maker, trade.Symbol, opp.SuggestedNotional, makerL1); err != nil {
		return decimal.Zero, err
	}
	if err := e.checkDepth(ctx, e.hedge, trade.Symbol, opp.SuggestedNotional, hedgeL1); err != nil {
		return decimal.Zero, err
	}

	if err := e.checkMargin(ctx, opp.SuggestedNotional); err != nil {
		return decimal.Zero, err
	}

	qty, err := e.quantize(ctx, trade.Symbol, opp.SuggestedQty, mid)
	if err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

// checkDepth aggregates top-K depth out to the configured multiplier of the
// target notional, falling back to the already-read L1's top-of-book when
// the aggregate depth call itself errors.
func (e *Engine) checkDepth(ctx context.Context, port venue.Port, symbol types.Symbol, targetNotional decimal.Decimal, l1 types.OrderbookL1) error {
	need := e.trading.HedgeDepthPreflightMultiplier.Mul(targetNotional)

	available := l1.BidQty.Mul(l1.BidPx)
	if l1.AskQty.Mul(l1.AskPx).LessThan(available) {
		available = l1.AskQty.Mul(l1.AskPx)
	}

	if depth, err := port.GetOrderbookDepth(ctx, symbol, 20); err == nil {
		available = aggregateNotional(depth.Bids)
		if askNotional := aggregateNotional(depth.Asks); askNotional.LessThan(available) {
			available = askNotional
		}
	}

	if available.LessThan(need) {
		return fmt.Errorf("%w: %s available depth %s below required %s (multiplier %s)",
			ErrPreflightRejected, port.Name(), available.String(), need.String(),
			e.trading.HedgeDepthPreflightMultiplier.String())
	}
	return nil
}

func aggregateNotional(levels []types.DepthLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(lvl.Px.Mul(lvl.Qty))
	}
	return sum
}

// checkMargin re-reads both venues' available balance, rejecting an
// opportunity that has become under-margined since it was scanned.
func (e *Engine) checkMargin(ctx context.Context, targetNotional decimal.Decimal) error {
	makerBal, err := e.maker.GetAvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: maker balance fetch: %v", ErrPreflightRejected, err)
	}
	hedgeBal, err := e.hedge.GetAvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: hedge balance fetch: %v", ErrPreflightRejected, err)
	}
	if makerBal.LessThan(targetNotional) {
		return fmt.Errorf("%w: maker available balance %s below target notional %s", ErrPreflightRejected, makerBal.String(), targetNotional.String())
	}
	if hedgeBal.LessThan(targetNotional) {
		return fmt.Errorf("%w: hedge available balance %s below target notional %s", ErrPreflightRejected, hedgeBal.String(), targetNotional.String())
	}
	return nil
}

// quantize rounds qty down to the coarser of the two venues' step sizes,
// rejects it against both venues' min_qty, and enforces the trading
// min/max-notional bounds on the resulting size (spec section 4.E step 4).
func (e *Engine) quantize(ctx context.Context, symbol types.Symbol, qty, mid decimal.Decimal) (decimal.Decimal, error) {
	makerMarkets, err := e.maker.LoadMarkets(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: maker market metadata: %v", ErrPreflightRejected, err)
	}
	hedgeMarkets, err := e.hedge.LoadMarkets(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: hedge market metadata: %v", ErrPreflightRejected, err)
	}
	makerInfo, hasMaker := makerMarkets[symbol]
	hedgeInfo, hasHedge := hedgeMarkets[symbol]
	if !hasMaker || !hasHedge {
		return decimal.Zero, fmt.Errorf("%w: missing market metadata for %s", ErrPreflightRejected, symbol)
	}

	step := makerInfo.StepSize
	if hedgeInfo.StepSize.GreaterThan(step) {
		step = hedgeInfo.StepSize
	}
	minQty := makerInfo.MinQty
	if hedgeInfo.MinQty.GreaterThan(minQty) {
		minQty = hedgeInfo.MinQty
	}

	quantized := qty
	if step.IsPositive() {
		steps := qty.Div(step).Floor()
		quantized = steps.Mul(step)
	}
	if quantized.LessThan(minQty) {
		return decimal.Zero, fmt.Errorf("%w: quantized qty %s below min_qty %s", ErrPreflightRejected, quantized.String(), minQty.String())
	}

	notional := quantized.Mul(mid)
	if notional.LessThan(e.trading.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: quantized notional %s below min_notional %s", ErrPreflightRejected, notional.String(), e.trading.MinNotional.String())
	}
	if notional.GreaterThan(e.trading.MaxNotionalPerTrade) {
		return decimal.Zero, fmt.Errorf("%w: quantized notional %s exceeds max_notional_per_trade %s", ErrPreflightRejected, notional.String(), e.trading.MaxNotionalPerTrade.String())
	}
	return quantized, nil
}
