package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/execution"
	"github.com/web3guy0/fundingarb/funding"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/internal/metrics"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// maxConcurrentEvaluations bounds the per-tick worker pool (spec section
// 4.F: "≤10"), grounded on marketdata.Refresher's semaphore-bounded fan-out
// pattern generalized from market-data fetches to trade evaluations.
const maxConcurrentEvaluations = 10

// OpportunityProvider supplies the best currently-available alternative for
// a symbol so the KELLY_ROTATION rule can compare it against holding. The
// Manager depends on this interface, not on the opportunity package
// directly, matching the teacher's callback/interface boundary convention
// (core/engine.go's RiskValidator/TradeNotifier) rather than a direct
// cross-package field reference.
type OpportunityProvider interface {
	BestFor(symbol types.Symbol, excludeVenues [2]string) *types.Opportunity
}

// Manager runs the tick loop and exit-rule evaluation for every open trade
// (spec section 4.F).
type Manager struct {
	maker   venue.Port
	hedge   venue.Port
	engine  *execution.Engine
	tracker *funding.Tracker
	bus     *events.Bus
	opps    OpportunityProvider

	exits   config.ExitsConfig
	trading config.TradingConfig

	mu             sync.Mutex
	deltaViolation map[string]int // tradeID -> consecutive ticks over delta bound
}

// NewManager builds a Manager. opps may be nil, in which case KELLY_ROTATION
// never fires.
func NewManager(maker, hedge venue.Port, engine *execution.Engine, tracker *funding.Tracker, bus *events.Bus, opps OpportunityProvider, exits config.ExitsConfig, trading config.TradingConfig) *Manager {
	return &Manager{
		maker: maker, hedge: hedge, engine: engine, tracker: tracker, bus: bus, opps: opps,
		exits: exits, trading: trading,
		deltaViolation: make(map[string]int),
	}
}

// Tick evaluates every open trade once, bounded to maxConcurrentEvaluations
// concurrent evaluations, and closes any trade whose exit-rule stack fires.
func (m *Manager) Tick(ctx context.Context, trades []*types.Trade) {
	sem := semaphore.NewWeighted(maxConcurrentEvaluations)
	var wg sync.WaitGroup

	for _, trade := range trades {
		if trade.Status != types.TradeStatusOpen {
			continue
		}
		trade := trade
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			m.evaluateOne(ctx, trade)
		}()
	}
	wg.Wait()
}

func (m *Manager) evaluateOne(ctx context.Context, trade *types.Trade) {
	makerPos, err := m.maker.GetPosition(ctx, trade.Symbol)
	if err != nil {
		log.Warn().Err(err).Str("trade_id", trade.TradeID).Msg("position: maker fetch failed")
		return
	}
	hedgePos, err := m.hedge.GetPosition(ctx, trade.Symbol)
	if err != nil {
		log.Warn().Err(err).Str("trade_id", trade.TradeID).Msg("position: hedge fetch failed")
		return
	}

	m.updateHWM(trade)

	if broken := m.checkBrokenHedge(trade, makerPos, hedgePos); broken {
		return
	}
	m.checkDeltaImbalance(trade, makerPos, hedgePos)

	evalCtx := m.buildEvalContext(ctx, trade, makerPos, hedgePos)
	rule, reason, fired := Evaluate(evalCtx)
	if !fired {
		return
	}

	metrics.ExitRuleFiredTotal.WithLabelValues(rule).Inc()
	log.Info().Str("trade_id", trade.TradeID).Str("rule", rule).Str("reason", reason).Msg("exit rule fired")
	if err := m.engine.CloseTrade(ctx, trade, rule); err != nil {
		log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("coordinated close failed")
	}
}

func (m *Manager) updateHWM(trade *types.Trade) {
	pricePnL := trade.Leg1.PnL().Add(trade.Leg2.PnL())
	if pricePnL.GreaterThan(trade.HighWaterMark) {
		trade.HighWaterMark = pricePnL
	}
}

// checkBrokenHedge detects a one-sided position (spec section 4.F step 3:
// "if one leg is missing entirely ... run BROKEN_HEDGE emergency close") and
// hands it to the engine rather than attempting a normal coordinated close.
func (m *Manager) checkBrokenHedge(trade *types.Trade, makerPos, hedgePos *types.Position) bool {
	hasMaker := makerPos != nil && !makerPos.Qty.IsZero()
	hasHedge := hedgePos != nil && !hedgePos.Qty.IsZero()
	if hasMaker == hasHedge {
		return false
	}
	m.engine.MarkBrokenHedge(trade)
	return true
}

func (m *Manager) checkDeltaImbalance(trade *types.Trade, makerPos, hedgePos *types.Position) {
	imbalance := trade.DeltaImbalance()
	m.mu.Lock()
	if imbalance.GreaterThan(m.exits.DeltaBoundPct) {
		m.deltaViolation[trade.TradeID]++
	} else {
		delete(m.deltaViolation, trade.TradeID)
	}
	m.mu.Unlock()

	if imbalance.LessThanOrEqual(m.exits.DeltaBoundPct) {
		return
	}
	log.Warn().Str("trade_id", trade.TradeID).Str("imbalance", imbalance.String()).Msg("delta imbalance detected")

	if makerPos == nil || hedgePos == nil {
		return
	}
	if plan, ok := PlanRebalance(trade, makerPos, hedgePos); ok {
		log.Info().Str("trade_id", trade.TradeID).Str("venue", plan.Venue).Str("qty", plan.Qty.String()).
			Str("notional_usd", plan.NotionalUSD.String()).Msg("rebalance scheduled")
	}
}

func (m *Manager) buildEvalContext(ctx context.Context, trade *types.Trade, makerPos, hedgePos *types.Position) *EvalContext {
	makerRate, _ := m.maker.GetFundingRate(ctx, trade.Symbol)
	hedgeRate, _ := m.hedge.GetFundingRate(ctx, trade.Symbol)
	netHourly := hedgeRate.RateHourly.Sub(makerRate.RateHourly).Abs()
	currentAPY := types.HourlyRateToAPY(netHourly)

	estExitCost := trade.TargetNotionalUSD.Mul(decimal.NewFromFloat(0.001)) // round-trip taker fee + slippage estimate

	var history *funding.HistoryRing
	if m.tracker != nil {
		history = m.tracker.History(trade.Symbol)
	}

	var bestAlt *types.Opportunity
	var roundTrip decimal.Decimal
	if m.opps != nil {
		bestAlt = m.opps.BestFor(trade.Symbol, [2]string{trade.Leg1.Venue, trade.Leg2.Venue})
		roundTrip = estExitCost
	}

	m.mu.Lock()
	ticks := m.deltaViolation[trade.TradeID]
	m.mu.Unlock()

	return &EvalContext{
		Trade: trade, MakerPos: makerPos, HedgePos: hedgePos,
		CurrentAPY: currentAPY, EstExitCost: estExitCost,
		History: history, BestAlternative: bestAlt, RotationRoundTrip: roundTrip,
		DeltaViolationTicks: ticks, Now: time.Now(),
		Exits: m.exits, Trading: m.trading,
	}
}

// Run ticks on a fixed interval (<=2s per spec section 4.F) until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration, getOpenTrades func() []*types.Trade) {
	if interval <= 0 || interval > 2*time.Second {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, getOpenTrades())
		}
	}
}
