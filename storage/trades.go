package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SaveTrade enqueues an upsert for a trade row, coalesced by trade ID so a
// hot tick loop recomputing RealizedPnL many times a second only ever
// persists the latest value.
func (s *Store) SaveTrade(row TradeRow) {
	row.SchemaVersion = SchemaVersion
	s.enqueue("trade:"+row.ID, func(db *gorm.DB) error {
		return db.Save(&row).Error
	})
}

// SaveTradeSync writes a trade row immediately, bypassing the write-behind
// queue, for FSM transitions that must be durable before the caller proceeds
// (spec section 6: terminal outcomes and BROKEN_HEDGE cannot be allowed to
// vanish in an unflushed queue if the process dies right after them).
func (s *Store) SaveTradeSync(row TradeRow) error {
	row.SchemaVersion = SchemaVersion
	return s.db.Save(&row).Error
}

// GetTrade reads synchronously — reads bypass the write-behind queue, so a
// caller that just called SaveTrade may race its own pending write; callers
// needing read-your-writes consistency should keep their own in-memory copy
// (this is exactly what the execution engine's ExecState does).
func (s *Store) GetTrade(id string) (*TradeRow, error) {
	var row TradeRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOpenTrades returns every trade not in a terminal status, used by the
// reconciler at startup and by the position tick loop's universe.
func (s *Store) GetOpenTrades() ([]TradeRow, error) {
	var rows []TradeRow
	err := s.db.Where("status NOT IN ?", []string{"CLOSED", "FAILED", "REJECTED"}).
		Order("opened_at ASC").Find(&rows).Error
	return rows, err
}

// SaveTradeLeg enqueues an upsert for one leg of a trade.
func (s *Store) SaveTradeLeg(row TradeLegRow) {
	key := fmt.Sprintf("leg:%s:%s", row.TradeID, row.Leg)
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Where("trade_id = ? AND leg = ?", row.TradeID, row.Leg).
			Assign(row).FirstOrCreate(&row).Error
	})
}

// GetTradeLegs returns both legs (if present) for a trade.
func (s *Store) GetTradeLegs(tradeID string) ([]TradeLegRow, error) {
	var rows []TradeLegRow
	err := s.db.Where("trade_id = ?", tradeID).Find(&rows).Error
	return rows, err
}

// AppendOrderEvent writes an immutable audit row; never coalesced, since
// history would be lost, so each call gets a unique queue key.
func (s *Store) AppendOrderEvent(row OrderEventRow) {
	row.ObservedAt = time.Now()
	key := fmt.Sprintf("orderevent:%s:%d", row.OrderID, time.Now().UnixNano())
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// GetOrderEvents returns a trade's full audit trail in observed order. The
// reconciler does not read it; it classifies from venue positions and
// trade rows.
func (s *Store) GetOrderEvents(tradeID string) ([]OrderEventRow, error) {
	var rows []OrderEventRow
	err := s.db.Where("trade_id = ?", tradeID).Order("observed_at ASC").Find(&rows).Error
	return rows, err
}

// AppendFill writes an immutable fill record.
func (s *Store) AppendFill(row FillRow) {
	key := fmt.Sprintf("fill:%s:%d", row.OrderID, time.Now().UnixNano())
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// SaveFundingSnapshot records one funding-rate observation.
func (s *Store) SaveFundingSnapshot(row FundingSnapshotRow) {
	key := fmt.Sprintf("funding:%s:%d", row.Symbol, time.Now().UnixNano())
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// GetRecentFundingSnapshots returns the last `limit` observations for a
// symbol, newest first — the raw material for the history ring (spec
// section 4.G).
func (s *Store) GetRecentFundingSnapshots(symbol string, limit int) ([]FundingSnapshotRow, error) {
	var rows []FundingSnapshotRow
	err := s.db.Where("symbol = ?", symbol).Order("observed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// AppendFundingRealized records funding actually settled on an open
// position.
func (s *Store) AppendFundingRealized(row FundingRealizedRow) {
	key := fmt.Sprintf("fundingrealized:%s:%d", row.TradeID, time.Now().UnixNano())
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// AppendEvent durably projects an events.Bus publication.
func (s *Store) AppendEvent(row EventRow) {
	key := fmt.Sprintf("event:%s:%d", row.Kind, time.Now().UnixNano())
	s.enqueue(key, func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}
