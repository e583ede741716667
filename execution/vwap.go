package execution

import "github.com/shopspring/decimal"

// vwapThresholdBps and vwapThresholdUSD are the post-close readback
// tolerance (spec section 4.F step 5): when the readback VWAP disagrees
// with the provisional fill price/PnL by more than this, the readback wins.
var (
	vwapThresholdBps = decimal.NewFromFloat(0.0003)
	vwapThresholdUSD = decimal.NewFromFloat(0.30)
)

// ReadbackVWAP reports whether a terminal-order readback should overwrite a
// provisional fill price/PnL pair, per spec section 4.F step 5.
func ReadbackVWAP(provisionalPx, readbackPx, provisionalPnL, readbackPnL decimal.Decimal) bool {
	if provisionalPx.IsZero() {
		return true
	}
	bpsDiff := readbackPx.Sub(provisionalPx).Abs().Div(provisionalPx)
	pnlDiff := readbackPnL.Sub(provisionalPnL).Abs()
	return bpsDiff.GreaterThan(vwapThresholdBps) || pnlDiff.GreaterThan(vwapThresholdUSD)
}
