package store

import (
	"context"
	"time"

	"tally/internal/store/model"
)

// Store is the entry point for database access.
type Store interface {
	// Positions returns the snapshot repository.
	Positions() PositionRepository
	// Trades returns the trade history repository.
	Trades() TradeRepository
	// Close closes the store connection.
	Close() error
}

// PositionRepository persists per-key position snapshots. One row per
// (account, symbol); saving replaces, deleting is idempotent.
type PositionRepository interface {
	Save(ctx context.Context, snap *model.PositionSnapshotModel) error
	Delete(ctx context.Context, account, symbol string) error
	List(ctx context.Context) ([]model.PositionSnapshotModel, error)
}

// TradeRepository persists the trade history. A row is inserted when a
// position opens and finalized when it closes, so the latest open row
// doubles as a recovery source when no snapshot survives.
type TradeRepository interface {
	Insert(ctx context.Context, trade *model.TradeModel) error
	Finalize(ctx context.Context, trade *model.TradeModel) error
	LatestOpen(ctx context.Context, account, symbol string) (*model.TradeModel, error)
	ListClosed(ctx context.Context, account string, from, to time.Time, limit int) ([]model.TradeModel, error)
}
