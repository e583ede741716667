package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestHourlyRateToAPY(t *testing.T) {
	t.Parallel()
	got := HourlyRateToAPY(d("0.0001"))
	assert.True(t, got.Equal(d("0.876")), "got %s", got)
}

func TestOrderbookL1Valid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		ob   OrderbookL1
		want bool
	}{
		{"valid", OrderbookL1{BidPx: d("100"), AskPx: d("101")}, true},
		{"crossed", OrderbookL1{BidPx: d("101"), AskPx: d("100")}, false},
		{"zero bid", OrderbookL1{BidPx: d("0"), AskPx: d("101")}, false},
		{"equal", OrderbookL1{BidPx: d("100"), AskPx: d("100")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.ob.Valid())
		})
	}
}

func TestOrderbookExecutionReady(t *testing.T) {
	t.Parallel()
	oneSided := OrderbookL1{BidPx: d("100"), AskPx: d("101"), BidQty: d("1"), AskQty: d("0")}
	assert.True(t, oneSided.Valid())
	assert.False(t, oneSided.ExecutionReady())

	both := oneSided
	both.AskQty = d("1")
	assert.True(t, both.ExecutionReady())
}

func TestTradeLegPnL(t *testing.T) {
	t.Parallel()
	long := TradeLeg{Side: SideLong, EntryPx: d("100"), ExitPx: d("110"), QtyFilled: d("2"), Fees: d("1")}
	assert.True(t, long.PnL().Equal(d("19")), "got %s", long.PnL())

	short := TradeLeg{Side: SideShort, EntryPx: d("100"), ExitPx: d("110"), QtyFilled: d("2"), Fees: d("1")}
	assert.True(t, short.PnL().Equal(d("-21")), "got %s", short.PnL())
}

func TestTradeDeltaImbalance(t *testing.T) {
	t.Parallel()
	tr := Trade{Leg1: TradeLeg{QtyFilled: d("1.0")}, Leg2: TradeLeg{QtyFilled: d("0.9")}}
	assert.True(t, tr.DeltaImbalance().Equal(d("0.1")), "got %s", tr.DeltaImbalance())

	flat := Trade{}
	assert.True(t, flat.DeltaImbalance().IsZero())
}

func TestTradeTotalPnL(t *testing.T) {
	t.Parallel()
	tr := Trade{
		RealizedPnL:      d("10"),
		FundingCollected: d("5"),
		Leg1:             TradeLeg{Fees: d("1")},
		Leg2:             TradeLeg{Fees: d("2")},
	}
	assert.True(t, tr.TotalPnL().Equal(d("12")), "got %s", tr.TotalPnL())
}
