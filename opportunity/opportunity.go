// Package opportunity turns marketdata snapshots into scored, filtered
// Opportunity candidates (spec section 4.D). The filter chain and per-symbol
// cooldown are adapted from the teacher's risk.Manager gate pattern
// (risk/circuit_breaker.go, risk/gate.go), generalized from a single
// pass/fail risk check to an ordered, explainable filter pipeline.
package opportunity

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/internal/metrics"
	"github.com/web3guy0/fundingarb/marketdata"
	"github.com/web3guy0/fundingarb/types"
)

// Filter evaluates one ordered gate against a candidate snapshot. ok==false
// means the filter rejected the candidate; reason names which one, for
// metrics and logs.
type Filter func(snap marketdata.Snapshot, cfg config.TradingConfig) (ok bool, reason string)

// Scanner runs the filter chain across a universe of snapshots every tick.
type Scanner struct {
	cfg      config.TradingConfig
	cooldown *Cooldown
	filters  []Filter
}

// NewScanner builds the standard scan-time filter chain in spec order:
// freshness, APY threshold, spread bound, notional bound, EV floor,
// breakeven bound. Execution-readiness (both sides of both venues carrying
// qty) is deliberately NOT a scan-time filter: a snapshot only needs to be
// scan-valid here (one side per venue, bid<ask, fresh) — execution-validity
// is enforced once, immediately before dispatch, by the execution engine's
// pre-flight (spec section 4.E). Cooldown is evaluated last, after every
// other filter passes, since it is the only stateful/non-idempotent gate and
// spec section 4.D orders it last so a symbol that would fail on its own
// merits doesn't also consume cooldown bookkeeping.
func NewScanner(cfg config.TradingConfig) *Scanner {
	return &Scanner{
		cfg:      cfg,
		cooldown: NewCooldown(cfg.CooldownBaseSeconds, cfg.CooldownMaxFailures),
		filters: []Filter{
			filterFresh,
			filterAPYThreshold,
			filterSpreadBound,
			filterNotionalBound,
			filterEVFloor,
			filterBreakevenBound,
		},
	}
}

// Scan evaluates every snapshot in universe, returning scored Opportunities
// for the survivors sorted by Score descending (ties broken by symbol name
// for determinism).
func (s *Scanner) Scan(universe []marketdata.Snapshot) []types.Opportunity {
	var out []types.Opportunity
	for _, snap := range universe {
		rejected := false
		for _, f := range s.filters {
			if ok, reason := f(snap, s.cfg); !ok {
				metrics.OpportunityRejectedTotal.WithLabelValues(reason).Inc()
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}

		if s.cooldown.InCooldown(snap.Symbol) {
			metrics.OpportunityRejectedTotal.WithLabelValues("cooldown").Inc()
			continue
		}

		out = append(out, buildOpportunity(snap, s.cfg))
	}

	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Score(s.cfg.ScoreLambda), out[j].Score(s.cfg.ScoreLambda)
		if si.Equal(sj) {
			return out[i].Symbol < out[j].Symbol
		}
		return si.GreaterThan(sj)
	})
	return out
}

// RecordFailure feeds the cooldown ring; call after an execution attempt on
// this symbol fails (spec section 4.D: repeated execution failures on a
// symbol back off exponentially instead of retrying every tick).
func (s *Scanner) RecordFailure(symbol types.Symbol) {
	s.cooldown.RecordFailure(symbol)
}

// RecordSuccess clears a symbol's failure count.
func (s *Scanner) RecordSuccess(symbol types.Symbol) {
	s.cooldown.RecordSuccess(symbol)
}

func filterFresh(snap marketdata.Snapshot, _ config.TradingConfig) (bool, string) {
	if !snap.Fresh() {
		return false, "stale"
	}
	return true, ""
}

func filterSpreadBound(snap marketdata.Snapshot, cfg config.TradingConfig) (bool, string) {
	mid := midPrice(snap)
	if mid.IsZero() {
		return false, "zero_mid"
	}
	spread := snap.MakerL1.AskPx.Sub(snap.MakerL1.BidPx).Div(mid)
	if spread.GreaterThan(cfg.MaxSpreadPct) {
		return false, "spread_too_wide"
	}
	return true, ""
}

func filterAPYThreshold(snap marketdata.Snapshot, cfg config.TradingConfig) (bool, string) {
	apy := netAPY(snap)
	if apy.LessThan(cfg.MinAPYThreshold) {
		return false, "apy_below_threshold"
	}
	return true, ""
}

func filterEVFloor(snap marketdata.Snapshot, cfg config.TradingConfig) (bool, string) {
	ev := expectedValue(snap, cfg)
	if ev.LessThan(cfg.MinEVUsd) {
		return false, "ev_below_floor"
	}
	return true, ""
}

func filterBreakevenBound(snap marketdata.Snapshot, cfg config.TradingConfig) (bool, string) {
	breakeven := breakevenHours(snap, cfg)
	if breakeven.GreaterThan(cfg.MaxBreakevenHours) {
		return false, "breakeven_too_slow"
	}
	return true, ""
}

// filterNotionalBound rejects a candidate whose suggested notional (the
// configured DesiredNotionalUSD sizing, not yet quantized to either venue's
// step size) would be rejected by both venues' min_notional or would exceed
// the per-trade cap — spec section 4.D filter #4. The execution pre-flight
// re-checks this against the post-quantization size right before dispatch;
// this scan-time pass exists so a config whose sizing can never clear both
// bounds is filtered out every tick instead of only failing late at open.
func filterNotionalBound(_ marketdata.Snapshot, cfg config.TradingConfig) (bool, string) {
	if cfg.DesiredNotionalUSD.LessThan(cfg.MinNotional) {
		return false, "notional_below_min"
	}
	if cfg.DesiredNotionalUSD.GreaterThan(cfg.MaxNotionalPerTrade) {
		return false, "notional_above_max"
	}
	return true, ""
}

func midPrice(snap marketdata.Snapshot) decimal.Decimal {
	return snap.MakerL1.BidPx.Add(snap.MakerL1.AskPx).Div(decimal.NewFromInt(2))
}

// netAPY is the spread between the two venues' hourly funding, annualized;
// going long on the lower-rate venue and short on the higher-rate venue
// nets both legs' funding in the trade's favor.
func netAPY(snap marketdata.Snapshot) decimal.Decimal {
	netHourly := snap.HedgeFunding.RateHourly.Sub(snap.MakerFunding.RateHourly).Abs()
	return types.HourlyRateToAPY(netHourly)
}

// expectedValue projects the net funding income over evHorizonHours (the
// same 24-hour horizon the NET_EV exit rule uses) minus the spread cost of
// entering at the suggested notional.
func expectedValue(snap marketdata.Snapshot, cfg config.TradingConfig) decimal.Decimal {
	const evHorizonHours = 24
	netHourly := snap.HedgeFunding.RateHourly.Sub(snap.MakerFunding.RateHourly).Abs()
	notional := cfg.DesiredNotionalUSD
	hourlyUSD := netHourly.Mul(notional)
	spread := snap.MakerL1.AskPx.Sub(snap.MakerL1.BidPx)
	spreadCostUSD := spread.Div(midPrice(snap)).Mul(notional)
	return hourlyUSD.Mul(decimal.NewFromInt(evHorizonHours)).Sub(spreadCostUSD)
}

func breakevenHours(snap marketdata.Snapshot, cfg config.TradingConfig) decimal.Decimal {
	netHourly := snap.HedgeFunding.RateHourly.Sub(snap.MakerFunding.RateHourly).Abs()
	if netHourly.IsZero() {
		return decimal.NewFromInt(999999)
	}
	notional := cfg.DesiredNotionalUSD
	spread := snap.MakerL1.AskPx.Sub(snap.MakerL1.BidPx)
	spreadCostUSD := spread.Div(midPrice(snap)).Mul(notional)
	hourlyUSD := netHourly.Mul(notional)
	return spreadCostUSD.Div(hourlyUSD)
}

func buildOpportunity(snap marketdata.Snapshot, cfg config.TradingConfig) types.Opportunity {
	netHourly := snap.HedgeFunding.RateHourly.Sub(snap.MakerFunding.RateHourly).Abs()
	longVenue, shortVenue := snap.MakerFunding.Venue, snap.HedgeFunding.Venue
	if snap.MakerFunding.RateHourly.GreaterThan(snap.HedgeFunding.RateHourly) {
		longVenue, shortVenue = shortVenue, longVenue
	}
	mid := midPrice(snap)
	spread := snap.MakerL1.AskPx.Sub(snap.MakerL1.BidPx).Div(mid)

	return types.Opportunity{
		Symbol:            snap.Symbol,
		LongVenue:         longVenue,
		ShortVenue:        shortVenue,
		NetFundingHourly:  netHourly,
		APY:               types.HourlyRateToAPY(netHourly),
		SpreadPct:         spread,
		SuggestedNotional: cfg.DesiredNotionalUSD,
		SuggestedQty:      cfg.DesiredNotionalUSD.Div(mid),
		ExpectedValueUSD:  expectedValue(snap, cfg),
		BreakevenHours:    breakevenHours(snap, cfg),
		MidPx:             mid,
		LongL1:            snap.MakerL1,
		ShortL1:            snap.HedgeL1,
		ObservedAt:        snap.RefreshedAt,
	}
}
