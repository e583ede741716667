// Package storage is the embedded relational persistence layer (spec section
// 6): gorm over SQLite for local/paper runs and Postgres for production,
// generalized from the teacher's internal/database/database.go model set
// (Market/Opportunity/Trade/ArbTrade/...) to the funding-arb schema.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is bumped whenever a migration changes column semantics in a
// way old rows can't be read compatibly; stored on every TradeRow. No code
// path compares stored versions against it (`doctor` does not check it).
const SchemaVersion = 1

// TradeRow is the persisted form of types.Trade.
type TradeRow struct {
	ID               string `gorm:"primaryKey"`
	SchemaVersion    int    `gorm:"not null;default:1"`
	Symbol           string `gorm:"index"`
	MakerVenue       string
	HedgeVenue       string
	Status           string `gorm:"index"`
	DesiredNotional  decimal.Decimal `gorm:"type:decimal(24,8)"`
	EntryAPY         decimal.Decimal `gorm:"type:decimal(18,8)"`
	FundingCollected decimal.Decimal `gorm:"type:decimal(24,8)"`
	RealizedPnL      decimal.Decimal `gorm:"type:decimal(24,8)"`
	OpenedAt         time.Time       `gorm:"index"`
	ClosedAt         *time.Time
	CloseReason      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TradeRow) TableName() string { return "trades" }

// TradeLegRow is one leg (maker or hedge) of a TradeRow.
type TradeLegRow struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	TradeID       string `gorm:"index"`
	Leg           string `gorm:"index"` // "maker" or "hedge"
	Venue         string
	Side          string
	EntryPx       decimal.Decimal `gorm:"type:decimal(24,8)"`
	EntryQty      decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExitPx        decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExitQty       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Fees          decimal.Decimal `gorm:"type:decimal(24,8)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (TradeLegRow) TableName() string { return "trade_legs" }

// OrderEventRow records every state transition an order passes through, an
// append-only audit trail (the reconciler does not replay it).
type OrderEventRow struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	TradeID       string `gorm:"index"`
	Leg           string `gorm:"index"`
	OrderID       string `gorm:"index"`
	ClientOrderID string `gorm:"index"`
	Venue         string
	Symbol        string
	Status        string
	FilledQty     decimal.Decimal `gorm:"type:decimal(24,8)"`
	AvgFillPx     decimal.Decimal `gorm:"type:decimal(24,8)"`
	Attempt       int
	ObservedAt    time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (OrderEventRow) TableName() string { return "order_events" }

// FillRow is a single execution report, distinct from OrderEventRow because
// one order can receive several partial fills.
type FillRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TradeID   string `gorm:"index"`
	OrderID   string `gorm:"index"`
	Venue     string
	Symbol    string
	Qty       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Px        decimal.Decimal `gorm:"type:decimal(24,8)"`
	Fee       decimal.Decimal `gorm:"type:decimal(24,8)"`
	FilledAt  time.Time       `gorm:"index"`
	CreatedAt time.Time
}

func (FillRow) TableName() string { return "fills" }

// FundingSnapshotRow is one funding-rate observation, feeding the
// history ring used by the z-score and velocity exit rules (spec section
// 4.G).
type FundingSnapshotRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"index"`
	Venue      string `gorm:"index"`
	RateHourly decimal.Decimal `gorm:"type:decimal(18,10)"`
	ObservedAt time.Time       `gorm:"index"`
}

func (FundingSnapshotRow) TableName() string { return "funding_snapshots" }

// FundingRealizedRow records funding actually collected/paid on a held
// position, accumulated into TradeRow.FundingCollected.
type FundingRealizedRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TradeID   string `gorm:"index"`
	Symbol    string
	Venue     string
	Amount    decimal.Decimal `gorm:"type:decimal(24,8)"`
	SettledAt time.Time       `gorm:"index"`
}

func (FundingRealizedRow) TableName() string { return "funding_realized" }

// EventRow is the durable projection of events.Bus publications that need to
// survive a restart (broken-hedge detections, rollback initiations, circuit
// breaker trips) — spec section 6.
type EventRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"index"`
	TradeID   string `gorm:"index"`
	Payload   string // JSON-encoded
	CreatedAt time.Time `gorm:"index"`
}

func (EventRow) TableName() string { return "events" }

// AllModels is the AutoMigrate target list.
func AllModels() []any {
	return []any{
		&TradeRow{}, &TradeLegRow{}, &OrderEventRow{}, &FillRow{},
		&FundingSnapshotRow{}, &FundingRealizedRow{}, &EventRow{},
	}
}
