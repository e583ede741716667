package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// runLeg1 places the maker-side order as POST_ONLY, repricing to stay at
// the front of book up to MakerMaxRetries times within MakerTimeoutSeconds
// each, then optionally escalates to a taker (IOC/MARKET) order if
// Leg1EscalateToTakerEnabled and the escalation slippage bound allows it
// (spec section 4.E). Adapted from the teacher's retry-loop shape in
// execution/executor.go's executeLive, generalized from a fixed-price retry
// to a reprice-to-touch loop.
func (e *Engine) runLeg1(ctx context.Context, trade *types.Trade) (types.Order, error) {
	symbol := trade.Symbol
	side := trade.Leg1.Side

	var lastOrder types.Order
	for attempt := 0; attempt <= e.cfg.MakerMaxRetries; attempt++ {
		l1, err := e.maker.GetOrderbookL1(ctx, symbol)
		if err != nil {
			return types.Order{}, fmt.Errorf("leg1 orderbook fetch: %w", err)
		}
		if !l1.ExecutionReady() {
			return types.Order{}, fmt.Errorf("leg1 book not execution-ready")
		}

		px := repricePost(l1, side, e.cfg.MakerOffsetTicks)

		req := types.OrderRequest{
			Symbol: symbol, Venue: e.maker.Name(), Side: side,
			Qty: trade.TargetQty, Type: types.OrderTypeLimit, Price: px,
			TIF: types.TIFPostOnly, ClientOrderID: clientOrderID(trade.TradeID, "leg1", attempt),
		}

		order, err := e.maker.PlaceOrder(ctx, req)
		if err != nil {
			var verr *types.VenueError
			if errors.As(err, &verr) && verr.Kind == types.KindDuplicateClientID && verr.OrderID != "" {
				// The prior attempt's PlaceOrder actually reached the venue
				// before the transport error it returned to us; treat the
				// retry as idempotent success rather than risk a genuine
				// duplicate (spec section 4.E / 7).
				log.Info().Str("trade_id", trade.TradeID).Int("attempt", attempt).Str("order_id", verr.OrderID).
					Msg("leg1 place returned duplicate_client_id, adopting existing order")
				order, err = e.maker.GetOrder(ctx, symbol, verr.OrderID)
				if err != nil {
					return types.Order{}, fmt.Errorf("leg1 duplicate order readback: %w", err)
				}
			} else {
				log.Warn().Err(err).Str("trade_id", trade.TradeID).Int("attempt", attempt).Msg("leg1 place failed")
				continue
			}
		}
		lastOrder = order
		e.appendOrderEvent(trade.TradeID, "leg1", order)

		filled := e.waitForFill(ctx, trade.TradeID, e.maker, symbol, order, time.Duration(e.cfg.MakerTimeoutSeconds)*time.Second)
		if filled.Status == types.OrderStatusFilled {
			return filled, nil
		}

		if _, err := e.maker.CancelOrder(ctx, symbol, filled.OrderID); err != nil {
			log.Debug().Err(err).Msg("leg1 cancel on reprice failed (may have filled concurrently)")
		}
		lastOrder = filled
	}

	if e.cfg.Leg1EscalateToTakerEnabled {
		return e.escalateLeg1ToTaker(ctx, trade)
	}

	return types.Order{}, fmt.Errorf("%w: leg1 exhausted %d retries, last status %s", ErrTimeout, e.cfg.MakerMaxRetries, lastOrder.Status)
}

// repricePost returns a POST_ONLY price MakerOffsetTicks inside the spread
// that stays clear of crossing: bid plus the offset for a long, capped one
// tick below the ask; ask minus the offset for a short, floored one tick
// above the bid. The tick is a nominal 0.01, not the venue's tick size.
func repricePost(l1 types.OrderbookL1, side types.Side, offsetTicks int) decimal.Decimal {
	tick := decimal.NewFromFloat(0.01) // nominal; a live venue adapter sources the real tick from MarketInfo
	offset := decimal.NewFromInt(int64(offsetTicks)).Mul(tick)
	if side == types.SideLong {
		px := l1.BidPx.Add(offset)
		return minDecimal(px, l1.AskPx.Sub(tick))
	}
	px := l1.AskPx.Sub(offset)
	if px.LessThanOrEqual(l1.BidPx) {
		px = l1.BidPx.Add(tick)
	}
	return px
}

// escalateLeg1ToTaker places a MARKET/IOC order once the POST_ONLY retry
// budget is exhausted, bounded by Leg1EscalateToTakerSlippage against the
// last known mid.
func (e *Engine) escalateLeg1ToTaker(ctx context.Context, trade *types.Trade) (types.Order, error) {
	l1, err := e.maker.GetOrderbookL1(ctx, trade.Symbol)
	if err != nil {
		return types.Order{}, fmt.Errorf("leg1 escalation orderbook fetch: %w", err)
	}
	mid := l1.BidPx.Add(l1.AskPx).Div(decimal.NewFromInt(2))
	spread := l1.AskPx.Sub(l1.BidPx).Div(mid)
	if spread.GreaterThan(e.cfg.Leg1EscalateToTakerSlippage) {
		return types.Order{}, fmt.Errorf("%w: leg1 escalation spread %s exceeds bound %s",
			ErrTimeout, spread.String(), e.cfg.Leg1EscalateToTakerSlippage.String())
	}

	req := types.OrderRequest{
		Symbol: trade.Symbol, Venue: e.maker.Name(), Side: trade.Leg1.Side,
		Qty: trade.TargetQty, Type: types.OrderTypeMarket, TIF: types.TIFIOC,
		ClientOrderID: clientOrderID(trade.TradeID, "leg1-escalate", 0),
	}
	order, err := e.maker.PlaceOrder(ctx, req)
	if err != nil {
		return types.Order{}, fmt.Errorf("leg1 escalation place: %w", err)
	}
	e.appendOrderEvent(trade.TradeID, "leg1", order)
	if order.Status != types.OrderStatusFilled {
		return order, fmt.Errorf("%w: leg1 escalation did not fill, status %s", ErrTimeout, order.Status)
	}
	return order, nil
}

// waitForFill polls GetOrder until the order reaches a terminal status or
// timeout elapses, returning the last observed state either way. The
// cumulative fill/avg price never move backward across polls: a venue that
// reports a lower cumulative (e.g. after a venue-side restart) gets clamped
// to the prior max and logged, never applied (spec Testable Property #4,
// scenario S5).
func (e *Engine) waitForFill(ctx context.Context, tradeID string, port venue.Port, symbol types.Symbol, order types.Order, timeout time.Duration) types.Order {
	deadline := time.Now().Add(timeout)
	current := order
	for time.Now().Before(deadline) {
		got, err := port.GetOrder(ctx, symbol, current.OrderID)
		if err == nil {
			retainedQty := retainMax(tradeID, current.OrderID, current.FilledQty, got.FilledQty)
			if retainedQty.Equal(got.FilledQty) {
				current = got
			} else {
				got.FilledQty = retainedQty
				got.AvgFillPx = current.AvgFillPx
				current = got
			}
			if current.Status.IsTerminal() {
				return current
			}
		}
		select {
		case <-ctx.Done():
			return current
		case <-time.After(100 * time.Millisecond):
		}
	}
	return current
}

func (e *Engine) appendOrderEvent(tradeID, leg string, order types.Order) {
	if e.store == nil {
		return
	}
	e.store.AppendOrderEvent(storage.OrderEventRow{
		TradeID: tradeID, Leg: leg, OrderID: order.OrderID, ClientOrderID: order.ClientOrderID,
		Venue: order.Venue, Symbol: string(order.Symbol), Status: string(order.Status),
		FilledQty: order.FilledQty, AvgFillPx: order.AvgFillPx,
	})
}
