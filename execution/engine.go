package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/internal/idgen"
	"github.com/web3guy0/fundingarb/internal/metrics"
	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// Engine drives a single Trade's open and close sequences. Construction is
// cheap; one Engine is shared by every trade, with SymbolLocks providing the
// per-symbol serialization that the teacher's single global mutex
// (execution/executor.go) conflated into one lock for every asset.
type Engine struct {
	maker   venue.Port
	hedge   venue.Port
	cfg     config.ExecutionConfig
	trading config.TradingConfig
	store   *storage.Store
	bus     *events.Bus
	locks   *SymbolLocks
}

// NewEngine builds an Engine. store may be nil (paper mode without
// persistence); bus must not be nil.
func NewEngine(maker, hedge venue.Port, cfg config.ExecutionConfig, trading config.TradingConfig, store *storage.Store, bus *events.Bus) *Engine {
	return &Engine{maker: maker, hedge: hedge, cfg: cfg, trading: trading, store: store, bus: bus, locks: NewSymbolLocks()}
}

// OpenTrade runs the full pre-flight -> LEG1(maker) -> LEG2(hedge) sequence
// for one Opportunity, returning a Trade in either StateComplete/StatePartialFill
// or a terminal failure state. The caller (core.Supervisor) is responsible
// for deciding whether a BROKEN_HEDGE result should be retried, escalated, or
// left for the position manager to rebalance.
func (e *Engine) OpenTrade(ctx context.Context, opp types.Opportunity) (*types.Trade, ExecState, error) {
	symbolKey := string(opp.Symbol)
	e.locks.Lock(symbolKey)
	defer e.locks.Unlock(symbolKey)

	tradeID := idgen.NewTradeID()
	trade := &types.Trade{
		TradeID:           tradeID,
		Symbol:            opp.Symbol,
		TargetQty:         opp.SuggestedQty,
		TargetNotionalUSD: opp.SuggestedNotional,
		Status:            types.TradeStatusOpening,
		EntryAPY:          opp.APY,
		EntrySpread:       opp.SpreadPct,
		CreatedAt:         time.Now(),
	}
	trade.Leg1 = types.TradeLeg{Venue: e.maker.Name(), Side: types.SideLong}
	trade.Leg2 = types.TradeLeg{Venue: e.hedge.Name(), Side: types.SideShort}
	if opp.LongVenue == e.hedge.Name() {
		trade.Leg1.Side, trade.Leg2.Side = types.SideShort, types.SideLong
	}

	state := StatePending
	e.persistTrade(trade, state)

	quantizedQty, err := e.preflight(ctx, trade, opp)
	if err != nil {
		state = StateAborted
		trade.Status = types.TradeStatusRejected
		trade.CloseReason = ReasonPreflightRejected
		e.persistTradeSync(trade, state)
		return trade, state, err
	}
	trade.TargetQty = quantizedQty
	trade.TargetNotionalUSD = quantizedQty.Mul(opp.MidPx)

	if err := Transition(state, StateLeg1Submitted); err != nil {
		return trade, state, err
	}
	state = StateLeg1Submitted
	e.persistTrade(trade, state)

	leg1Fill, err := e.runLeg1(ctx, trade)
	if err != nil {
		state = StateAborted
		trade.Status = types.TradeStatusRejected
		trade.CloseReason = ReasonLeg1Unfilled
		e.persistTradeSync(trade, state)
		return trade, state, err
	}
	trade.Leg1.QtyFilled = leg1Fill.FilledQty
	trade.Leg1.EntryPx = leg1Fill.AvgFillPx
	trade.Leg1.Fees = leg1Fill.Fee
	trade.Leg1.OrderID = leg1Fill.OrderID

	state = StateLeg1Filled
	if err := Transition(StateLeg1Submitted, state); err != nil {
		return trade, state, err
	}
	e.persistTrade(trade, state)

	state = StateLeg2Submitted
	e.persistTrade(trade, state)

	leg2Fill, hedgeErr := e.runLeg2(ctx, trade, leg1Fill.FilledQty)
	if hedgeErr != nil {
		state = StateRollbackQueued
		e.persistTrade(trade, state)
		state = StateRollbackInProgress
		e.persistTrade(trade, state)

		rollbackErr := e.rollbackLeg1(ctx, trade, leg1Fill)
		if rollbackErr != nil {
			state = StateRollbackFailed
			trade.Status = types.TradeStatusBrokenHedge
			trade.CloseReason = ReasonRollbackBrokenHedge
			e.persistTradeSync(trade, state)
			metrics.RollbacksTotal.WithLabelValues("failed").Inc()
			metrics.BrokenHedgesTotal.Inc()
			e.bus.Publish(events.Event{Kind: events.BrokenHedgeDetected, Payload: trade})
			return trade, state, rollbackErr
		}
		state = StateRollbackDone
		trade.Status = types.TradeStatusFailed
		trade.CloseReason = ReasonRollbackRecovered
		e.persistTradeSync(trade, state)
		metrics.RollbacksTotal.WithLabelValues("done").Inc()
		return trade, state, hedgeErr
	}
	trade.Leg2.QtyFilled = leg2Fill.FilledQty
	trade.Leg2.EntryPx = leg2Fill.AvgFillPx
	trade.Leg2.Fees = leg2Fill.Fee
	trade.Leg2.OrderID = leg2Fill.OrderID

	state = StateComplete
	if leg2Fill.FilledQty.LessThan(leg1Fill.FilledQty) && !withinTolerance(leg2Fill.FilledQty, leg1Fill.FilledQty, e.cfg.StepTolerance) {
		state = StatePartialFill
	}
	now := time.Now()
	trade.Status = types.TradeStatusOpen
	trade.OpenedAt = &now
	e.persistTradeSync(trade, state)

	metrics.TradesOpenedTotal.WithLabelValues(string(trade.Symbol)).Inc()
	e.bus.Publish(events.Event{Kind: events.TradeOpened, Payload: trade})

	return trade, state, nil
}

// MarkBrokenHedge transitions a trade whose hedge is unreachable (one leg's
// position vanished from a venue after the opening sequence completed)
// straight to BROKEN_HEDGE. Its ExecState (the opening FSM) is left exactly
// as it was: BROKEN_HEDGE is a Status outcome layered on top, not a step
// within that FSM.
func (e *Engine) MarkBrokenHedge(trade *types.Trade) {
	trade.Status = types.TradeStatusBrokenHedge
	e.persistTradeSync(trade, ParseExecState(trade.ExecState))
	metrics.BrokenHedgesTotal.Inc()
	e.bus.Publish(events.Event{Kind: events.BrokenHedgeDetected, Payload: trade})
}

func (e *Engine) tradeRow(trade *types.Trade) storage.TradeRow {
	return storage.TradeRow{
		ID: trade.TradeID, Symbol: string(trade.Symbol),
		MakerVenue: trade.Leg1.Venue, HedgeVenue: trade.Leg2.Venue,
		Status: string(trade.Status), DesiredNotional: trade.TargetNotionalUSD,
		EntryAPY: trade.EntryAPY, FundingCollected: trade.FundingCollected,
		RealizedPnL: trade.RealizedPnL, OpenedAt: trade.CreatedAt,
		ClosedAt: trade.ClosedAt, CloseReason: trade.CloseReason,
	}
}

func (e *Engine) persistTrade(trade *types.Trade, state ExecState) {
	trade.ExecState = state.String()
	if e.store == nil {
		return
	}
	e.store.SaveTrade(e.tradeRow(trade))
	e.store.SaveTradeLeg(storage.TradeLegRow{
		TradeID: trade.TradeID, Leg: "maker", Venue: trade.Leg1.Venue, Side: string(trade.Leg1.Side),
		EntryPx: trade.Leg1.EntryPx, EntryQty: trade.Leg1.QtyFilled, Fees: trade.Leg1.Fees,
	})
	e.store.SaveTradeLeg(storage.TradeLegRow{
		TradeID: trade.TradeID, Leg: "hedge", Venue: trade.Leg2.Venue, Side: string(trade.Leg2.Side),
		EntryPx: trade.Leg2.EntryPx, EntryQty: trade.Leg2.QtyFilled, Fees: trade.Leg2.Fees,
	})
}

// persistTradeSync is persistTrade's counterpart for critical FSM
// transitions (terminal outcomes and BROKEN_HEDGE): it writes the trade row
// synchronously so the transition survives a crash immediately after it,
// then enqueues the leg rows through the normal write-behind path, so the
// leg rows are only as durable as the next queue flush.
func (e *Engine) persistTradeSync(trade *types.Trade, state ExecState) {
	trade.ExecState = state.String()
	if e.store == nil {
		return
	}
	if err := e.store.SaveTradeSync(e.tradeRow(trade)); err != nil {
		log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("execution: synchronous trade persist failed")
	}
	e.store.SaveTradeLeg(storage.TradeLegRow{
		TradeID: trade.TradeID, Leg: "maker", Venue: trade.Leg1.Venue, Side: string(trade.Leg1.Side),
		EntryPx: trade.Leg1.EntryPx, EntryQty: trade.Leg1.QtyFilled, Fees: trade.Leg1.Fees,
	})
	e.store.SaveTradeLeg(storage.TradeLegRow{
		TradeID: trade.TradeID, Leg: "hedge", Venue: trade.Leg2.Venue, Side: string(trade.Leg2.Side),
		EntryPx: trade.Leg2.EntryPx, EntryQty: trade.Leg2.QtyFilled, Fees: trade.Leg2.Fees,
	})
}

// clientOrderID builds the deterministic idempotency key spec section 4.E
// requires: (trade, leg, attempt) always produces the same id, so a retried
// PlaceOrder call after a transport timeout is recognized as a duplicate by
// the venue rather than double-submitted.
func clientOrderID(tradeID, leg string, attempt int) string {
	return fmt.Sprintf("%s-%s-%d", tradeID, leg, attempt)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
