package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestSaveTradeThenCloseIsDurable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	s.SaveTrade(TradeRow{
		ID: "trade-1", Symbol: "ETH", Status: "open",
		DesiredNotional: decimal.NewFromInt(1000), OpenedAt: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	row, err := s.GetTrade("trade-1")
	require.NoError(t, err)
	assert.Equal(t, "open", row.Status)
	assert.Equal(t, SchemaVersion, row.SchemaVersion)
}

func TestSaveTradeCoalescesByID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := 0; i < 20; i++ {
		s.SaveTrade(TradeRow{
			ID: "trade-2", Symbol: "ETH", Status: "open",
			RealizedPnL: decimal.NewFromInt(int64(i)), OpenedAt: time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	row, err := s.GetTrade("trade-2")
	require.NoError(t, err)
	assert.True(t, row.RealizedPnL.Equal(decimal.NewFromInt(19)))

	var count int64
	s.db.Model(&TradeRow{}).Where("id = ?", "trade-2").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGetOpenTradesExcludesTerminal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	s.SaveTrade(TradeRow{ID: "open-1", Status: "open", OpenedAt: time.Now()})
	s.SaveTrade(TradeRow{ID: "closed-1", Status: "CLOSED", OpenedAt: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	rows, err := s.GetOpenTrades()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "open-1", rows[0].ID)
}

func TestAppendOrderEventsPreservesHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	s.AppendOrderEvent(OrderEventRow{TradeID: "t1", OrderID: "o1", Status: "open"})
	s.AppendOrderEvent(OrderEventRow{TradeID: "t1", OrderID: "o1", Status: "filled"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	rows, err := s.GetOrderEvents("t1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "open", rows[0].Status)
	assert.Equal(t, "filled", rows[1].Status)
}
