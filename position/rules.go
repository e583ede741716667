package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rule is one exit check in the layered stack (spec section 4.F). Each Rule
// is stateless and pure given an EvalContext — any memory it needs (delta
// violation tick counts, high-water marks) is threaded in on the context by
// the Manager, generalizing the teacher's risk/tp_sl.go and risk/gate.go
// layered-check idiom from a single-leg TP/SL check to a named, ordered rule
// stack.
type Rule struct {
	Name string
	Fn   func(*EvalContext) (fired bool, reason string)
}

var layer1Rules = []Rule{
	{"LIQUIDATION_IMMINENT", ruleLiquidationImminent},
	{"DELTA_VIOLATION", ruleDeltaViolation},
	{"CATASTROPHIC_FUNDING_FLIP", ruleCatastrophicFundingFlip},
	{"EARLY_TAKE_PROFIT", ruleEarlyTakeProfit},
	{"EARLY_EDGE_EXIT", ruleEarlyEdgeExit},
}

var layer2Rules = []Rule{
	{"MAX_HOLD", ruleMaxHold},
	{"NET_EV_EXIT", ruleNetEVExit},
	{"YIELD_VS_COST", ruleYieldVsCost},
	{"BASIS_CONVERGENCE", ruleBasisConvergence},
}

var layer3Rules = []Rule{
	{"FUNDING_VELOCITY", ruleFundingVelocity},
	{"ATR_TRAILING", ruleATRTrailing},
	{"Z_SCORE", ruleZScore},
	{"PROFIT_TARGET", ruleProfitTarget},
	{"KELLY_ROTATION", ruleKellyRotation},
}

// Evaluate runs the full three-layer stack, first-hit-wins. Layer 1 is
// evaluated unconditionally; Layer 2 and 3 are gated behind min_hold_seconds
// (spec section 4.F: "Gate: hold_time >= min_hold_seconds unless Layer 1
// fired").
func Evaluate(ctx *EvalContext) (rule string, reason string, fired bool) {
	for _, r := range layer1Rules {
		if ok, reason := r.Fn(ctx); ok {
			return r.Name, reason, true
		}
	}

	minHold := time.Duration(ctx.Trading.MinHoldSeconds) * time.Second
	if ctx.HoldTime() < minHold {
		return "", "", false
	}

	for _, r := range layer2Rules {
		if ok, reason := r.Fn(ctx); ok {
			return r.Name, reason, true
		}
	}
	for _, r := range layer3Rules {
		if ok, reason := r.Fn(ctx); ok {
			return r.Name, reason, true
		}
	}
	return "", "", false
}

func ruleLiquidationImminent(ctx *EvalContext) (bool, string) {
	if ctx.LiqDistance().LessThan(ctx.Exits.LiqBufferPct) {
		return true, "liquidation distance below buffer"
	}
	return false, ""
}

func ruleDeltaViolation(ctx *EvalContext) (bool, string) {
	imbalance := ctx.Trade.DeltaImbalance()
	if imbalance.GreaterThan(ctx.Exits.DeltaBoundPct) && ctx.DeltaViolationTicks > ctx.Exits.DeltaViolationTicks {
		return true, "delta imbalance persisted above bound"
	}
	return false, ""
}

func ruleCatastrophicFundingFlip(ctx *EvalContext) (bool, string) {
	if ctx.CurrentAPY.LessThan(ctx.Exits.CatastrophicAPYFloor) {
		return true, "funding APY collapsed below catastrophic floor"
	}
	return false, ""
}

func ruleEarlyTakeProfit(ctx *EvalContext) (bool, string) {
	if ctx.PriceEstimatedPnL().GreaterThanOrEqual(ctx.Exits.EarlyTPUsd) && ctx.HoldTime() >= ctx.Exits.EarlyTPMinAge {
		return true, "net price PnL reached early take-profit threshold"
	}
	return false, ""
}

func ruleEarlyEdgeExit(ctx *EvalContext) (bool, string) {
	entrySign := ctx.Trade.EntryAPY.Sign()
	currentSign := ctx.CurrentAPY.Sign()
	if entrySign != 0 && currentSign != 0 && entrySign != currentSign && ctx.HoldTime() >= ctx.Exits.EarlyEdgeMinAge {
		return true, "funding edge flipped sign"
	}
	return false, ""
}

func ruleMaxHold(ctx *EvalContext) (bool, string) {
	maxHold := durationFromHours(ctx.Trading.MaxHoldHours)
	if ctx.HoldTime() >= maxHold {
		return true, "max hold duration reached"
	}
	return false, ""
}

func ruleNetEVExit(ctx *EvalContext) (bool, string) {
	const horizonHours = 24
	notional := ctx.Trade.TargetNotionalUSD
	hourlyRate := ctx.CurrentAPY.Div(decimal.NewFromInt(8760))
	expectedNextH := notional.Mul(hourlyRate).Mul(decimal.NewFromInt(horizonHours))
	threshold := ctx.Exits.ExitCostMultiple.Mul(ctx.EstExitCost)
	if expectedNextH.LessThan(threshold) {
		return true, "expected forward EV below exit-cost multiple"
	}
	return false, ""
}

func ruleYieldVsCost(ctx *EvalContext) (bool, string) {
	notional := ctx.Trade.TargetNotionalUSD
	hourlyRate := ctx.CurrentAPY.Div(decimal.NewFromInt(8760))
	hourlyYieldUSD := notional.Mul(hourlyRate)
	if hourlyYieldUSD.LessThanOrEqual(decimal.Zero) {
		return true, "funding yield non-positive, cannot cover exit cost"
	}
	hoursToCover := ctx.EstExitCost.Div(hourlyYieldUSD)
	if hoursToCover.GreaterThan(ctx.Exits.YieldCostHoursCap) {
		return true, "hours to cover exit cost exceeds cap"
	}
	return false, ""
}

func ruleBasisConvergence(ctx *EvalContext) (bool, string) {
	if ctx.MakerPos == nil || ctx.HedgePos == nil {
		return false, ""
	}
	mid := ctx.MakerPos.MarkPx.Add(ctx.HedgePos.MarkPx).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return false, ""
	}
	basis := ctx.MakerPos.MarkPx.Sub(ctx.HedgePos.MarkPx).Abs().Div(mid)
	if basis.LessThan(ctx.Exits.BasisMin) {
		return true, "cross-venue basis converged below minimum"
	}
	return false, ""
}

func ruleFundingVelocity(ctx *EvalContext) (bool, string) {
	if ctx.History == nil {
		return false, ""
	}
	slope, ok := ctx.History.VelocitySlope(ctx.Exits.VelocityWindowHours)
	if !ok {
		return false, ""
	}
	if slope.LessThan(ctx.Exits.VelocityThresholdHourly) {
		return true, "funding rate velocity below threshold"
	}
	return false, ""
}

func ruleATRTrailing(ctx *EvalContext) (bool, string) {
	if ctx.Trade.HighWaterMark.LessThan(ctx.Exits.ATRMinActivationUsd) {
		return false, ""
	}
	currentPnL := ctx.Trade.Leg1.PnL().Add(ctx.Trade.Leg2.PnL())
	retrace := ctx.Trade.HighWaterMark.Sub(currentPnL)
	trail := ctx.Exits.ATRMultiplier.Mul(ctx.ATR14)
	if retrace.GreaterThanOrEqual(trail) {
		return true, "PnL retraced from high-water mark beyond ATR trail"
	}
	return false, ""
}

func ruleZScore(ctx *EvalContext) (bool, string) {
	if ctx.History == nil {
		return false, ""
	}
	if ctx.History.SpanHours().LessThan(decimal.NewFromInt(7 * 24)) {
		return false, ""
	}
	currentHourly := ctx.CurrentAPY.Div(decimal.NewFromInt(8760))
	z, ok := ctx.History.ZScore(currentHourly)
	if !ok {
		return false, ""
	}
	if z.LessThan(ctx.Exits.ZExitThreshold) {
		return true, "funding APY z-score below exit threshold"
	}
	return false, ""
}

func ruleProfitTarget(ctx *EvalContext) (bool, string) {
	pricePnL := ctx.Trade.Leg1.PnL().Add(ctx.Trade.Leg2.PnL())
	if pricePnL.GreaterThanOrEqual(ctx.Exits.MinProfitExitUsd) {
		return true, "price PnL reached profit target"
	}
	return false, ""
}

func ruleKellyRotation(ctx *EvalContext) (bool, string) {
	if ctx.BestAlternative == nil {
		return false, ""
	}
	rotationEV := ctx.BestAlternative.ExpectedValueUSD.Sub(ctx.RotationRoundTrip)
	if rotationEV.GreaterThan(decimal.Zero) {
		return true, "a strictly better opportunity exists after round-trip costs"
	}
	return false, ""
}

func durationFromHours(hours decimal.Decimal) time.Duration {
	f, _ := hours.Float64()
	return time.Duration(f * float64(time.Hour))
}
