package model

import (
	"gorm.io/datatypes"
)

type TradeStatus int

const (
	TradeStatusUnknown TradeStatus = 0
	TradeStatusOpen    TradeStatus = 1
	TradeStatusClosed  TradeStatus = 2
)

// PositionSnapshotModel holds the durable structural state of one open
// position, keyed by (account, symbol). StateJSON is the versioned
// snapshot payload; live-derived values are never written into it.
type PositionSnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Account       string         `gorm:"column:account;uniqueIndex:idx_snapshot_key,priority:1"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_snapshot_key,priority:2"`
	SchemaVersion int            `gorm:"column:schema_version"`
	StateJSON     datatypes.JSON `gorm:"column:state_json;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionSnapshotModel) TableName() string { return "position_snapshots" }

// TradeModel is one row of the append-only trade history. A row is
// inserted when a position opens (exit fields null) and finalized
// exactly once at close; once an exit price is present the realized
// PnL column is guaranteed non-null.
type TradeModel struct {
	ID           int64       `gorm:"column:id;primaryKey"`
	TradeID      string      `gorm:"column:trade_id;uniqueIndex"`
	Account      string      `gorm:"column:account;index:idx_trade_account"`
	Symbol       string      `gorm:"column:symbol;index:idx_trade_symbol"`
	Mode         string      `gorm:"column:mode"`
	Side         string      `gorm:"column:side"`
	Quantity     float64     `gorm:"column:quantity"`
	EntryPrice   float64     `gorm:"column:entry_price"`
	ExitPrice    *float64    `gorm:"column:exit_price"`
	RealizedPnL  *float64    `gorm:"column:realized_pnl"`
	MAE          *float64    `gorm:"column:mae"`
	MFE          *float64    `gorm:"column:mfe"`
	Status       TradeStatus `gorm:"column:status;index:idx_trade_status"`
	OpenedAtUnix int64       `gorm:"column:opened_at"`
	ClosedAtUnix *int64      `gorm:"column:closed_at"`
}

func (TradeModel) TableName() string { return "trades" }
