// Package paper is the reference venue adapter used whenever the core's
// live_trading config key is false (spec section 6): every PlaceOrder call
// is simulated instead of hitting a real venue. The fill simulation
// (slippage + fee, filled immediately with no delay) is adapted directly from the teacher's
// execution/executor.go simulateFill, generalized from a single YES/NO
// prediction-market order to the spec's LIMIT/MARKET perp order model.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/web3guy0/fundingarb/types"
)

// Adapter is an in-memory, simulated venue.Port implementation.
type Adapter struct {
	mu sync.Mutex

	name        string
	slippageBps int64
	feeRate     decimal.Decimal
	books       map[types.Symbol]types.OrderbookL1
	funding     map[types.Symbol]types.FundingRate
	markets     map[types.Symbol]types.MarketInfo
	orders      map[string]types.Order // keyed by client_order_id for idempotency
	byOrderID   map[string]string      // order_id -> client_order_id
	positions   map[types.Symbol]types.Position
	balance     decimal.Decimal
}

// New creates a paper adapter seeded with a starting balance. Callers seed
// books/funding/markets via SeedBook/SeedFunding/SeedMarket before use; a
// real deployment would instead mirror the sibling live adapter's feed.
func New(name string, startingBalance decimal.Decimal) *Adapter {
	return &Adapter{
		name:      name,
		feeRate:   decimal.NewFromFloat(0.0005),
		books:     make(map[types.Symbol]types.OrderbookL1),
		funding:   make(map[types.Symbol]types.FundingRate),
		markets:   make(map[types.Symbol]types.MarketInfo),
		orders:    make(map[string]types.Order),
		byOrderID: make(map[string]string),
		positions: make(map[types.Symbol]types.Position),
		balance:   startingBalance,
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error { return nil }
func (a *Adapter) Close(ctx context.Context) error      { return nil }

// SeedBook installs the current top-of-book the paper adapter quotes
// against and fills from.
func (a *Adapter) SeedBook(ob types.OrderbookL1) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.books[ob.Symbol] = ob
}

// SeedFunding installs the current funding rate returned by GetFundingRate.
func (a *Adapter) SeedFunding(fr types.FundingRate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.funding[fr.Symbol] = fr
}

// SeedMarket installs per-symbol market metadata.
func (a *Adapter) SeedMarket(mi types.MarketInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markets[mi.Symbol] = mi
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[types.Symbol]types.MarketInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.Symbol]types.MarketInfo, len(a.markets))
	for k, v := range a.markets {
		out[k] = v
	}
	return out, nil
}

func (a *Adapter) GetOrderbookL1(ctx context.Context, symbol types.Symbol) (types.OrderbookL1, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ob, ok := a.books[symbol]
	if !ok {
		return types.OrderbookL1{}, types.NewVenueError(a.name, "get_orderbook_l1", types.KindValidation, fmt.Errorf("unknown symbol %s", symbol))
	}
	return ob, nil
}

func (a *Adapter) GetOrderbookDepth(ctx context.Context, symbol types.Symbol, levels int) (types.OrderbookDepth, error) {
	l1, err := a.GetOrderbookL1(ctx, symbol)
	if err != nil {
		return types.OrderbookDepth{}, err
	}
	// Paper mode only models L1; depth<levels is allowed per spec 4.A, so a
	// single-level book is a legal (if degenerate) depth response.
	return types.OrderbookDepth{
		OrderbookL1: l1,
		Bids:        []types.DepthLevel{{Px: l1.BidPx, Qty: l1.BidQty}},
		Asks:        []types.DepthLevel{{Px: l1.AskPx, Qty: l1.AskQty}},
	}, nil
}

func (a *Adapter) GetFundingRate(ctx context.Context, symbol types.Symbol) (types.FundingRate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fr, ok := a.funding[symbol]
	if !ok {
		return types.FundingRate{}, types.NewVenueError(a.name, "get_funding_rate", types.KindValidation, fmt.Errorf("unknown symbol %s", symbol))
	}
	return fr, nil
}

func (a *Adapter) ListPositions(ctx context.Context) ([]types.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out, nil
}

func (a *Adapter) GetPosition(ctx context.Context, symbol types.Symbol) (*types.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (a *Adapter) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (a *Adapter) GetRealizedFunding(ctx context.Context, symbol types.Symbol, since time.Time) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fr, ok := a.funding[symbol]
	if !ok {
		return decimal.Zero, nil
	}
	hours := decimal.NewFromFloat(time.Since(since).Hours())
	pos, ok := a.positions[symbol]
	if !ok {
		return decimal.Zero, nil
	}
	return fr.RateHourly.Mul(hours).Mul(pos.Notional()), nil
}

// PlaceOrder simulates fill + slippage + fee, exactly the teacher's
// simulateFill shape, generalized to LIMIT/MARKET/IOC/POST_ONLY semantics
// and keyed by client_order_id for idempotent retry (spec section 4.E).
func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.orders[req.ClientOrderID]; ok {
		return types.Order{}, types.NewDuplicateClientIDError(a.name, "place_order", existing.OrderID,
			fmt.Errorf("client_order_id %s already placed as order %s", req.ClientOrderID, existing.OrderID))
	}

	ob, ok := a.books[req.Symbol]
	if !ok {
		return types.Order{}, types.NewVenueError(a.name, "place_order", types.KindValidation, fmt.Errorf("unknown symbol %s", req.Symbol))
	}

	orderID := fmt.Sprintf("%s-%d", a.name, rand.Int63())
	now := time.Now()
	order := types.Order{
		OrderRequest: req,
		OrderID:      orderID,
		Status:       types.OrderStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	fillPx := a.simulateFillPrice(req, ob)
	qtyFilled := req.Qty

	// POST_ONLY never crosses the book; if the requested price would have
	// crossed, it rests unfilled instead of being simulated as filled.
	if req.TIF == types.TIFPostOnly && a.wouldCross(req, ob) {
		qtyFilled = decimal.Zero
		order.Status = types.OrderStatusOpen
	} else {
		order.Status = types.OrderStatusFilled
		order.FilledQty = qtyFilled
		order.AvgFillPx = fillPx
		order.Fee = fillPx.Mul(qtyFilled).Mul(a.feeRate)
		order.UpdatedAt = time.Now()
		a.applyFill(req, qtyFilled, fillPx)
	}

	a.orders[req.ClientOrderID] = order
	a.byOrderID[orderID] = req.ClientOrderID

	log.Debug().Str("venue", a.name).Str("symbol", string(req.Symbol)).
		Str("side", string(req.Side)).Str("status", string(order.Status)).
		Msg("paper order placed")

	return order, nil
}

func (a *Adapter) wouldCross(req types.OrderRequest, ob types.OrderbookL1) bool {
	if req.Side == types.SideLong {
		return req.Price.GreaterThanOrEqual(ob.AskPx)
	}
	return req.Price.LessThanOrEqual(ob.BidPx)
}

func (a *Adapter) simulateFillPrice(req types.OrderRequest, ob types.OrderbookL1) decimal.Decimal {
	slippage := decimal.NewFromInt(a.slippageBps).Div(decimal.NewFromInt(10000))
	base := ob.AskPx
	if req.Side == types.SideShort {
		base = ob.BidPx
	}
	if req.Type == types.OrderTypeLimit && !req.Price.IsZero() {
		base = req.Price
	}
	if req.Side == types.SideLong {
		return base.Mul(decimal.NewFromInt(1).Add(slippage))
	}
	return base.Mul(decimal.NewFromInt(1).Sub(slippage))
}

func (a *Adapter) applyFill(req types.OrderRequest, qty, px decimal.Decimal) {
	pos, ok := a.positions[req.Symbol]
	if !ok {
		pos = types.Position{Symbol: req.Symbol, Venue: a.name, Side: req.Side, MarkPx: px}
	}
	pos.Qty = pos.Qty.Add(qty)
	pos.EntryPx = px
	pos.MarkPx = px
	a.positions[req.Symbol] = pos
}

func (a *Adapter) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	clientID, ok := a.byOrderID[orderID]
	if !ok {
		return types.Order{}, types.NewVenueError(a.name, "get_order", types.KindValidation, fmt.Errorf("unknown order %s", orderID))
	}
	return a.orders[clientID], nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	clientID, ok := a.byOrderID[orderID]
	if !ok {
		return false, nil
	}
	order := a.orders[clientID]
	if order.Status.IsTerminal() {
		return false, nil
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	a.orders[clientID] = order
	return true, nil
}

func (a *Adapter) CancelAll(ctx context.Context, symbol *types.Symbol) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for clientID, order := range a.orders {
		if order.Status.IsTerminal() {
			continue
		}
		if symbol != nil && order.Symbol != *symbol {
			continue
		}
		order.Status = types.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		a.orders[clientID] = order
		n++
	}
	return n, nil
}
