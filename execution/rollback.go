package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/types"
)

// rollbackLeg1 flattens an already-filled leg1 when leg2 could not be
// hedged, whatever the reason (spec section 4.E): places an
// opposite-side reduce-only IOC order against the maker venue, bounded by
// RollbackMaxSlippage. If even that fails to fill, the trade falls through
// to BROKEN_HEDGE rather than leaving an un-flattened directional position
// silently.
func (e *Engine) rollbackLeg1(ctx context.Context, trade *types.Trade, leg1Fill types.Order) error {
	oppositeSide := types.SideShort
	if trade.Leg1.Side == types.SideShort {
		oppositeSide = types.SideLong
	}

	l1, err := e.maker.GetOrderbookL1(ctx, trade.Symbol)
	if err != nil {
		e.bus.Publish(events.Event{Kind: events.RollbackInitiated, Payload: trade})
		return fmt.Errorf("%w: orderbook fetch failed: %v", ErrRollbackFailed, err)
	}

	px := marketablePrice(l1, oppositeSide, e.cfg.RollbackMaxSlippage)
	req := types.OrderRequest{
		Symbol: trade.Symbol, Venue: e.maker.Name(), Side: oppositeSide,
		Qty: leg1Fill.FilledQty, Type: types.OrderTypeLimit, Price: px, TIF: types.TIFIOC,
		ReduceOnly: true, ClientOrderID: clientOrderID(trade.TradeID, "rollback", 0),
	}

	e.bus.Publish(events.Event{Kind: events.RollbackInitiated, Payload: trade})
	log.Warn().Str("trade_id", trade.TradeID).Str("symbol", string(trade.Symbol)).Msg("rolling back leg1")

	order, err := e.maker.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}
	e.appendOrderEvent(trade.TradeID, "rollback", order)

	if order.FilledQty.LessThan(leg1Fill.FilledQty) {
		return fmt.Errorf("%w: only flattened %s of %s", ErrRollbackFailed, order.FilledQty.String(), leg1Fill.FilledQty.String())
	}

	trade.Leg1.ExitPx = order.AvgFillPx
	trade.Leg1.Fees = trade.Leg1.Fees.Add(order.Fee)
	trade.RealizedPnL = trade.Leg1.PnL()
	return nil
}
