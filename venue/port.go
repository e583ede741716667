package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3guy0/fundingarb/types"
)

// Port is the capability set every venue adapter implements (spec section
// 4.A). The core only ever talks to venues through this interface; it never
// imports a venue-specific SDK type.
type Port interface {
	// Name returns the adapter's venue identifier, e.g. "maker" or "hedge".
	Name() string

	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	LoadMarkets(ctx context.Context) (map[types.Symbol]types.MarketInfo, error)
	GetOrderbookL1(ctx context.Context, symbol types.Symbol) (types.OrderbookL1, error)
	GetOrderbookDepth(ctx context.Context, symbol types.Symbol, levels int) (types.OrderbookDepth, error)
	GetFundingRate(ctx context.Context, symbol types.Symbol) (types.FundingRate, error)

	ListPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, symbol types.Symbol) (*types.Position, error)
	GetAvailableBalance(ctx context.Context) (decimal.Decimal, error)
	GetRealizedFunding(ctx context.Context, symbol types.Symbol, since time.Time) (decimal.Decimal, error)

	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.Order, error)
	GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error)
	CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) (bool, error)
	CancelAll(ctx context.Context, symbol *types.Symbol) (int, error)
}

// AccountIndex is a nullable account selector. A nil pointer means "unset",
// distinct from a pointer to 0, which is a valid distinct account (spec
// section 4.A).
type AccountIndex = *int
