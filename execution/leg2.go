package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/types"
)

// runLeg2 places the hedge-side order as IOC, widening the marketable
// slippage allowance each attempt up to HedgeIOCMaxSlippage, until qty
// fills or HedgeIOCMaxAttempts is exhausted (spec section 4.E). Unlike
// leg1's reprice-at-touch loop, leg2 always crosses the book: the hedge
// exists to flatten delta immediately, not to capture maker rebate.
func (e *Engine) runLeg2(ctx context.Context, trade *types.Trade, qty decimal.Decimal) (types.Order, error) {
	symbol := trade.Symbol
	side := trade.Leg2.Side

	remaining := qty
	var filledQty, feeSum, notionalSum decimal.Decimal
	var lastOrderID string

	for attempt := 0; attempt < e.cfg.HedgeIOCMaxAttempts; attempt++ {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		l1, err := e.hedge.GetOrderbookL1(ctx, symbol)
		if err != nil {
			return types.Order{}, fmt.Errorf("leg2 orderbook fetch: %w", err)
		}
		if !l1.ExecutionReady() {
			return types.Order{}, fmt.Errorf("leg2 book not execution-ready")
		}

		slippage := minDecimal(
			e.cfg.HedgeIOCSlippageStep.Mul(decimal.NewFromInt(int64(attempt+1))),
			e.cfg.HedgeIOCMaxSlippage,
		)
		px := marketablePrice(l1, side, slippage)

		req := types.OrderRequest{
			Symbol: symbol, Venue: e.hedge.Name(), Side: side,
			Qty: remaining, Type: types.OrderTypeLimit, Price: px, TIF: types.TIFIOC,
			ClientOrderID: clientOrderID(trade.TradeID, "leg2", attempt),
		}

		order, err := e.hedge.PlaceOrder(ctx, req)
		if err != nil {
			var verr *types.VenueError
			if errors.As(err, &verr) && verr.Kind == types.KindDuplicateClientID && verr.OrderID != "" {
				// As in leg1: the prior attempt's order actually reached the
				// venue, so adopt it instead of retrying (spec section 4.E / 7).
				log.Info().Str("trade_id", trade.TradeID).Int("attempt", attempt).Str("order_id", verr.OrderID).
					Msg("leg2 place returned duplicate_client_id, adopting existing order")
				order, err = e.hedge.GetOrder(ctx, symbol, verr.OrderID)
				if err != nil {
					return types.Order{}, fmt.Errorf("leg2 duplicate order readback: %w", err)
				}
			} else if errors.As(err, &verr) && isNonRetryable(verr.Kind) {
				return types.Order{}, fmt.Errorf("leg2 non-retryable: %w", err)
			} else {
				log.Warn().Err(err).Str("trade_id", trade.TradeID).Int("attempt", attempt).Msg("leg2 place failed")
				continue
			}
		}
		e.appendOrderEvent(trade.TradeID, "leg2", order)
		lastOrderID = order.OrderID

		filledQty = filledQty.Add(order.FilledQty)
		feeSum = feeSum.Add(order.Fee)
		notionalSum = notionalSum.Add(order.AvgFillPx.Mul(order.FilledQty))
		remaining = remaining.Sub(order.FilledQty)
	}

	if filledQty.IsZero() {
		return types.Order{}, fmt.Errorf("%w: leg2 could not fill any quantity within %d attempts", ErrTimeout, e.cfg.HedgeIOCMaxAttempts)
	}

	avgPx := decimal.Zero
	if !filledQty.IsZero() {
		avgPx = notionalSum.Div(filledQty)
	}

	return types.Order{
		OrderRequest: types.OrderRequest{Symbol: symbol, Venue: e.hedge.Name(), Side: side, Qty: qty},
		OrderID:      lastOrderID,
		Status:       types.OrderStatusFilled,
		FilledQty:    filledQty,
		AvgFillPx:    avgPx,
		Fee:          feeSum,
	}, nil
}

func marketablePrice(l1 types.OrderbookL1, side types.Side, slippage decimal.Decimal) decimal.Decimal {
	if side == types.SideLong {
		return l1.AskPx.Mul(decimal.NewFromInt(1).Add(slippage))
	}
	return l1.BidPx.Mul(decimal.NewFromInt(1).Sub(slippage))
}

func isNonRetryable(kind types.VenueErrorKind) bool {
	switch kind {
	case types.KindValidation, types.KindInsufficientMargin, types.KindReduceOnlyInvalid:
		return true
	default:
		return false
	}
}

