// Package types holds the data model shared across every component of the
// funding-rate arbitrage core. It exists to avoid import cycles between
// venue, storage, execution and position — nothing here depends on any
// other package in this module.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a venue-neutral identifier, e.g. "ETH". Adapters map their own
// display symbols onto this canonical form.
type Symbol string

// Side is the direction of an order or leg.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for a long side and -1 for a short side, used in PnL math.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderType is the order mechanism requested from a venue.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce controls how a resting order behaves.
type TimeInForce string

const (
	TIFGTC      TimeInForce = "GTC"
	TIFIOC      TimeInForce = "IOC"
	TIFPostOnly TimeInForce = "POST_ONLY"
	TIFFOK      TimeInForce = "FOK"
)

// OrderStatus is the status lattice from spec section 3. Active statuses may
// still mutate; terminal statuses never do.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further mutation of the order is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// FundingRate is a single venue's funding rate for a symbol, pre-normalized
// to an hourly decimal by the adapter that produced it.
type FundingRate struct {
	Symbol        Symbol
	Venue         string
	RateHourly    decimal.Decimal
	NextFundingAt time.Time
	ObservedAt    time.Time
}

// HourlyRateToAPY is the single place the spec's APY invariant
// (rate_hourly * 24 * 365 == rate_hourly * 8760) is expressed, so every
// caller (opportunity scoring, funding tracker, z-score rule) agrees.
func HourlyRateToAPY(rateHourly decimal.Decimal) decimal.Decimal {
	return rateHourly.Mul(decimal.NewFromInt(8760))
}

// OrderbookL1 is a top-of-book snapshot for one symbol on one venue.
type OrderbookL1 struct {
	Symbol    Symbol
	Venue     string
	BidPx     decimal.Decimal
	BidQty    decimal.Decimal
	AskPx     decimal.Decimal
	AskQty    decimal.Decimal
	UpdatedAt time.Time
}

// Valid reports the spec's "valid snapshot" invariant: bid < ask, both > 0.
func (ob OrderbookL1) Valid() bool {
	return ob.BidPx.IsPositive() && ob.AskPx.IsPositive() && ob.BidPx.LessThan(ob.AskPx)
}

// ExecutionReady reports the spec's "execution-ready" invariant: both sides
// carry quantity, not just a valid spread.
func (ob OrderbookL1) ExecutionReady() bool {
	return ob.Valid() && ob.BidQty.IsPositive() && ob.AskQty.IsPositive()
}

// DepthLevel is one price/quantity rung of an order book.
type DepthLevel struct {
	Px  decimal.Decimal
	Qty decimal.Decimal
}

// OrderbookDepth extends OrderbookL1 with top-N levels per side.
type OrderbookDepth struct {
	OrderbookL1
	Bids []DepthLevel
	Asks []DepthLevel
}

// MarketInfo is per-venue, per-symbol exchange metadata, cached with a TTL
// by the venue adapter.
type MarketInfo struct {
	Symbol      Symbol
	Venue       string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	MaxLeverage decimal.Decimal
	MakerFee    decimal.Decimal
	TakerFee    decimal.Decimal
}

// Position is the exchange-observed position for one symbol on one venue.
// The core never owns a Position; it only observes it via the venue port.
type Position struct {
	Symbol        Symbol
	Venue         string
	Side          Side
	Qty           decimal.Decimal
	EntryPx       decimal.Decimal
	MarkPx        decimal.Decimal
	LiqPx         *decimal.Decimal // nil: liquidation-distance monitoring disabled for this leg
	UnrealizedPnL decimal.Decimal
	Leverage      decimal.Decimal
	ObservedAt    time.Time
}

// Notional returns |qty * mark_px|.
func (p Position) Notional() decimal.Decimal {
	return p.Qty.Mul(p.MarkPx).Abs()
}

// OrderRequest is the input to venue.Port.PlaceOrder. ClientOrderID must be
// deterministic per (trade, leg, attempt) to permit idempotent retry.
type OrderRequest struct {
	Symbol        Symbol
	Venue         string
	Side          Side
	Qty           decimal.Decimal
	Type          OrderType
	Price         decimal.Decimal // zero value for MARKET
	TIF           TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// Order is an OrderRequest plus venue-reported mutable state. FilledQty and
// AvgFillPx are always cumulative since placement, never a per-update delta.
type Order struct {
	OrderRequest
	OrderID   string
	Status    OrderStatus
	FilledQty decimal.Decimal
	AvgFillPx decimal.Decimal
	Fee       decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradeLeg is one side of a hedged pair.
type TradeLeg struct {
	Venue     string
	Side      Side
	OrderID   string
	QtyTarget decimal.Decimal
	QtyFilled decimal.Decimal
	EntryPx   decimal.Decimal
	ExitPx    decimal.Decimal
	Fees      decimal.Decimal
}

// PnL computes sign(side) * (exit_px - entry_px) * qty_filled - fees.
func (l TradeLeg) PnL() decimal.Decimal {
	diff := l.ExitPx.Sub(l.EntryPx)
	signed := diff.Mul(decimal.NewFromInt(l.Side.Sign()))
	return signed.Mul(l.QtyFilled).Sub(l.Fees)
}

// TradeStatus is the lifecycle status of a Trade (distinct from the
// lower-level ExecState FSM driving the OPENING phase).
type TradeStatus string

const (
	TradeStatusPending     TradeStatus = "PENDING"
	TradeStatusOpening     TradeStatus = "OPENING"
	TradeStatusOpen        TradeStatus = "OPEN"
	TradeStatusClosing     TradeStatus = "CLOSING"
	TradeStatusClosed      TradeStatus = "CLOSED"
	TradeStatusRejected    TradeStatus = "REJECTED"
	TradeStatusFailed      TradeStatus = "FAILED"
	TradeStatusRollback    TradeStatus = "ROLLBACK"
	TradeStatusBrokenHedge TradeStatus = "BROKEN_HEDGE"
)

// Trade is the aggregate the execution engine creates, the position manager
// closes, and the funding tracker updates in the background.
type Trade struct {
	TradeID           string // ULID
	Symbol            Symbol
	Leg1              TradeLeg // maker venue
	Leg2              TradeLeg // hedge venue
	TargetQty         decimal.Decimal
	TargetNotionalUSD decimal.Decimal
	Status            TradeStatus
	ExecState         string // execution.ExecState.String(), kept as string to avoid an import cycle
	EntryAPY          decimal.Decimal
	EntrySpread       decimal.Decimal
	FundingCollected  decimal.Decimal
	RealizedPnL       decimal.Decimal
	HighWaterMark     decimal.Decimal
	CloseReason       string
	CreatedAt         time.Time
	OpenedAt          *time.Time
	ClosedAt          *time.Time
}

// TotalPnL computes realized_pnl + funding_collected - fees, where fees is
// the sum of both legs' cumulative fees.
func (t Trade) TotalPnL() decimal.Decimal {
	fees := t.Leg1.Fees.Add(t.Leg2.Fees)
	return t.RealizedPnL.Add(t.FundingCollected).Sub(fees)
}

// DeltaImbalance returns |qty_leg1 - qty_leg2| / max(qty_leg1, qty_leg2), or
// zero if both legs are flat.
func (t Trade) DeltaImbalance() decimal.Decimal {
	q1, q2 := t.Leg1.QtyFilled, t.Leg2.QtyFilled
	max := q1
	if q2.GreaterThan(max) {
		max = q2
	}
	if max.IsZero() {
		return decimal.Zero
	}
	return q1.Sub(q2).Abs().Div(max)
}

// Opportunity is an immutable snapshot constructed atomically from a single
// market-data refresh tick. It is never mutated after construction.
type Opportunity struct {
	Symbol            Symbol
	LongVenue         string
	ShortVenue        string
	NetFundingHourly  decimal.Decimal
	APY               decimal.Decimal
	SpreadPct         decimal.Decimal
	SuggestedQty      decimal.Decimal
	SuggestedNotional decimal.Decimal
	ExpectedValueUSD  decimal.Decimal
	BreakevenHours    decimal.Decimal
	LiquidityScore    decimal.Decimal
	MidPx             decimal.Decimal
	LongL1            OrderbookL1
	ShortL1           OrderbookL1
	ObservedAt        time.Time
}

// Score implements spec.md's score = EV - lambda*spread_pct.
func (o Opportunity) Score(lambda decimal.Decimal) decimal.Decimal {
	return o.ExpectedValueUSD.Sub(lambda.Mul(o.SpreadPct))
}
