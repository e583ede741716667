package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/internal/metrics"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// CloseTrade runs the coordinated close (spec section 4.F): symmetrical to
// OpenTrade, it submits a reduce-only maker close and a reduce-only IOC
// hedge close, escalating slippage up to CloseMaxSlippage. If one leg
// closes but the other cannot within budget, the trade is left in
// BROKEN_HEDGE rather than half-closed, pausing new entries for the symbol
// until the position manager or reconciler resolves it.
func (e *Engine) CloseTrade(ctx context.Context, trade *types.Trade, reason string) error {
	symbolKey := string(trade.Symbol)
	e.locks.Lock(symbolKey)
	defer e.locks.Unlock(symbolKey)

	recoveredBrokenHedge := trade.Status == types.TradeStatusBrokenHedge
	trade.Status = types.TradeStatusClosing
	trade.CloseReason = reason
	e.persistTrade(trade, ParseExecState(trade.ExecState))

	makerOrder, makerErr := e.closeLegReduceOnly(ctx, e.maker, trade, &trade.Leg1, "leg1-close")
	hedgeCloseSide := types.SideShort
	if trade.Leg2.Side == types.SideShort {
		hedgeCloseSide = types.SideLong
	}
	hedgeOrder, hedgeErr := e.escalateCloseToIOC(ctx, e.hedge, trade, hedgeCloseSide, trade.Leg2.QtyFilled, "leg2-close")

	if makerErr != nil || hedgeErr != nil {
		trade.Status = types.TradeStatusBrokenHedge
		e.persistTradeSync(trade, ParseExecState(trade.ExecState))
		metrics.BrokenHedgesTotal.Inc()
		e.bus.Publish(events.Event{Kind: events.BrokenHedgeDetected, Payload: trade})
		return fmt.Errorf("%w: maker_err=%v hedge_err=%v", ErrBrokenHedge, makerErr, hedgeErr)
	}

	e.applyReadback(ctx, e.maker, trade.Symbol, &trade.Leg1, makerOrder)
	e.applyReadback(ctx, e.hedge, trade.Symbol, &trade.Leg2, hedgeOrder)
	trade.RealizedPnL = trade.Leg1.PnL().Add(trade.Leg2.PnL())

	now := time.Now()
	trade.Status = types.TradeStatusClosed
	trade.ClosedAt = &now
	if recoveredBrokenHedge {
		trade.CloseReason = ReasonBrokenHedgeRecovered
	}
	e.persistTradeSync(trade, ParseExecState(trade.ExecState))

	metrics.TradesClosedTotal.WithLabelValues(trade.CloseReason).Inc()
	e.bus.Publish(events.Event{Kind: events.TradeClosed, Payload: trade})
	return nil
}

// closeLegReduceOnly submits a reduce-only order against the opposite side
// of leg, reprice-retrying like runLeg1 up to MakerMaxRetries, then escalating
// to an IOC order at widening slippage up to CloseMaxSlippage — the maker
// venue gets the gentler treatment (it still benefits from resting size),
// the hedge-style fallback guarantees the position actually flattens within
// budget.
func (e *Engine) closeLegReduceOnly(ctx context.Context, port venue.Port, trade *types.Trade, leg *types.TradeLeg, tag string) (types.Order, error) {
	oppositeSide := types.SideShort
	if leg.Side == types.SideShort {
		oppositeSide = types.SideLong
	}
	qty := leg.QtyFilled

	for attempt := 0; attempt <= e.cfg.MakerMaxRetries; attempt++ {
		l1, err := port.GetOrderbookL1(ctx, trade.Symbol)
		if err != nil {
			return types.Order{}, fmt.Errorf("%s orderbook fetch: %w", tag, err)
		}
		if !l1.ExecutionReady() {
			break
		}
		px := repricePost(l1, oppositeSide, e.cfg.MakerOffsetTicks)
		req := types.OrderRequest{
			Symbol: trade.Symbol, Venue: port.Name(), Side: oppositeSide,
			Qty: qty, Type: types.OrderTypeLimit, Price: px, TIF: types.TIFPostOnly,
			ReduceOnly: true, ClientOrderID: clientOrderID(trade.TradeID, tag, attempt),
		}
		order, err := port.PlaceOrder(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", trade.TradeID).Str("tag", tag).Int("attempt", attempt).Msg("close reprice failed")
			continue
		}
		e.appendOrderEvent(trade.TradeID, tag, order)
		filled := e.waitForFill(ctx, trade.TradeID, port, trade.Symbol, order, time.Duration(e.cfg.MakerTimeoutSeconds)*time.Second)
		if filled.Status == types.OrderStatusFilled {
			return filled, nil
		}
		if _, err := port.CancelOrder(ctx, trade.Symbol, filled.OrderID); err != nil {
			log.Debug().Err(err).Msg("close reprice cancel failed (may have filled concurrently)")
		}
	}

	return e.escalateCloseToIOC(ctx, port, trade, oppositeSide, qty, tag)
}

func (e *Engine) escalateCloseToIOC(ctx context.Context, port venue.Port, trade *types.Trade, side types.Side, qty decimal.Decimal, tag string) (types.Order, error) {
	for attempt := 0; attempt < e.cfg.HedgeIOCMaxAttempts; attempt++ {
		l1, err := port.GetOrderbookL1(ctx, trade.Symbol)
		if err != nil {
			return types.Order{}, fmt.Errorf("%s escalation orderbook fetch: %w", tag, err)
		}
		slippage := minDecimal(
			e.cfg.HedgeIOCSlippageStep.Mul(decimal.NewFromInt(int64(attempt+1))),
			e.cfg.CloseMaxSlippage,
		)
		px := marketablePrice(l1, side, slippage)
		req := types.OrderRequest{
			Symbol: trade.Symbol, Venue: port.Name(), Side: side,
			Qty: qty, Type: types.OrderTypeLimit, Price: px, TIF: types.TIFIOC,
			ReduceOnly: true, ClientOrderID: clientOrderID(trade.TradeID, tag+"-ioc", attempt),
		}
		order, err := port.PlaceOrder(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", trade.TradeID).Str("tag", tag).Int("attempt", attempt).Msg("close escalation failed")
			continue
		}
		e.appendOrderEvent(trade.TradeID, tag, order)
		if order.Status == types.OrderStatusFilled {
			return order, nil
		}
	}
	return types.Order{}, fmt.Errorf("%w: %s could not flatten within %d escalation attempts", ErrBrokenHedge, tag, e.cfg.HedgeIOCMaxAttempts)
}

// applyReadback sets the leg's provisional exit price/fee from order, then
// re-reads the order's terminal state from the venue and overwrites them
// with the readback values when ReadbackVWAP says the two disagree by more
// than 3bps or $0.30 of realized PnL (spec section 4.F step 5). The
// provisional value stands if the re-read itself fails or agrees closely
// enough — the readback is a correction, not a requirement.
func (e *Engine) applyReadback(ctx context.Context, port venue.Port, symbol types.Symbol, leg *types.TradeLeg, order types.Order) {
	leg.ExitPx = order.AvgFillPx
	leg.Fees = leg.Fees.Add(order.Fee)

	if order.OrderID == "" {
		return
	}
	readback, err := port.GetOrder(ctx, symbol, order.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.OrderID).Msg("close: readback fetch failed, keeping provisional fill")
		return
	}

	provisionalPnL := leg.PnL()
	readbackLeg := *leg
	readbackLeg.ExitPx = readback.AvgFillPx
	readbackLeg.Fees = readbackLeg.Fees.Sub(order.Fee).Add(readback.Fee)
	readbackPnL := readbackLeg.PnL()

	if !ReadbackVWAP(leg.ExitPx, readback.AvgFillPx, provisionalPnL, readbackPnL) {
		return
	}
	log.Info().Str("order_id", order.OrderID).Str("provisional_px", leg.ExitPx.String()).
		Str("readback_px", readback.AvgFillPx.String()).Msg("close: readback VWAP overrode provisional fill")
	*leg = readbackLeg
}
