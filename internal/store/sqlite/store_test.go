package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	st, err := NewSqliteStore(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestSnapshotSaveReplacesByKey(t *testing.T) {
	st := newTestStore(t)
	repo := st.Positions()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.PositionSnapshotModel{
		Account: "SIM-1", Symbol: "NQ",
		SchemaVersion: 3,
		StateJSON:     []byte(`{"schema_version":3,"side":"long","entry_price":100}`),
	}))
	require.NoError(t, repo.Save(ctx, &model.PositionSnapshotModel{
		Account: "SIM-1", Symbol: "NQ",
		SchemaVersion: 3,
		StateJSON:     []byte(`{"schema_version":3,"side":"long","entry_price":101}`),
	}))
	require.NoError(t, repo.Save(ctx, &model.PositionSnapshotModel{
		Account: "SIM-1", Symbol: "ES",
		SchemaVersion: 3,
		StateJSON:     []byte(`{"schema_version":3,"side":"short","entry_price":5000}`),
	}))

	snaps, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	// List orders by account then symbol.
	assert.Equal(t, "ES", snaps[0].Symbol)
	assert.Equal(t, "NQ", snaps[1].Symbol)
	assert.Contains(t, string(snaps[1].StateJSON), `"entry_price":101`)
}

func TestSnapshotDeleteIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	repo := st.Positions()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.PositionSnapshotModel{
		Account: "SIM-1", Symbol: "NQ",
		SchemaVersion: 3,
		StateJSON:     []byte(`{"schema_version":3}`),
	}))
	require.NoError(t, repo.Delete(ctx, "SIM-1", "NQ"))
	require.NoError(t, repo.Delete(ctx, "SIM-1", "NQ"))

	snaps, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestTradeInsertAndFinalize(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()
	ctx := context.Background()
	openedAt := time.Now().Add(-time.Hour).UnixMilli()

	require.NoError(t, repo.Insert(ctx, &model.TradeModel{
		TradeID: "SIM-1-NQ-1", Account: "SIM-1", Symbol: "NQ",
		Mode: "sim", Side: "long", Quantity: 1, EntryPrice: 6839.25,
		Status: model.TradeStatusOpen, OpenedAtUnix: openedAt,
	}))

	open, err := repo.LatestOpen(ctx, "SIM-1", "NQ")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Nil(t, open.ExitPrice)

	closedAt := time.Now().UnixMilli()
	require.NoError(t, repo.Finalize(ctx, &model.TradeModel{
		TradeID:      "SIM-1-NQ-1",
		ExitPrice:    floatPtr(6841.25),
		RealizedPnL:  floatPtr(40),
		MAE:          floatPtr(185),
		MFE:          floatPtr(115),
		ClosedAtUnix: int64Ptr(closedAt),
	}))

	open, err = repo.LatestOpen(ctx, "SIM-1", "NQ")
	require.NoError(t, err)
	assert.Nil(t, open, "finalized trade no longer open")

	closed, err := repo.ListClosed(ctx, "SIM-1", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.NotNil(t, closed[0].RealizedPnL)
	assert.Equal(t, 40.0, *closed[0].RealizedPnL)
	assert.Equal(t, model.TradeStatusClosed, closed[0].Status)
}

func TestFinalizeTwiceFails(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &model.TradeModel{
		TradeID: "T-1", Account: "SIM-1", Symbol: "NQ",
		Side: "long", Quantity: 1, EntryPrice: 100,
		Status: model.TradeStatusOpen, OpenedAtUnix: time.Now().UnixMilli(),
	}))

	final := &model.TradeModel{
		TradeID:      "T-1",
		ExitPrice:    floatPtr(101),
		RealizedPnL:  floatPtr(1),
		ClosedAtUnix: int64Ptr(time.Now().UnixMilli()),
	}
	require.NoError(t, repo.Finalize(ctx, final))
	assert.Error(t, repo.Finalize(ctx, final), "row already closed")
}

func TestFinalizeRequiresExitFields(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()

	err := repo.Finalize(context.Background(), &model.TradeModel{TradeID: "T-1"})
	assert.Error(t, err)
}

func TestLatestOpenPicksNewest(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()
	ctx := context.Background()
	base := time.Now().UnixMilli()

	for i, id := range []string{"T-old", "T-new"} {
		require.NoError(t, repo.Insert(ctx, &model.TradeModel{
			TradeID: id, Account: "APEX-330", Symbol: "ES",
			Side: "long", Quantity: 1, EntryPrice: 5000,
			Status: model.TradeStatusOpen, OpenedAtUnix: base + int64(i)*1000,
		}))
	}

	open, err := repo.LatestOpen(ctx, "APEX-330", "ES")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "T-new", open.TradeID)
}

func TestListClosedWindowAndAccountFilter(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	insertClosed := func(id, account string, closedAt time.Time) {
		require.NoError(t, repo.Insert(ctx, &model.TradeModel{
			TradeID: id, Account: account, Symbol: "NQ",
			Side: "long", Quantity: 1, EntryPrice: 100,
			ExitPrice: floatPtr(101), RealizedPnL: floatPtr(1),
			Status:       model.TradeStatusClosed,
			OpenedAtUnix: closedAt.Add(-time.Minute).UnixMilli(),
			ClosedAtUnix: int64Ptr(closedAt.UnixMilli()),
		}))
	}
	insertClosed("T-1", "SIM-1", base)
	insertClosed("T-2", "SIM-1", base.Add(time.Hour))
	insertClosed("T-3", "SIM-2", base.Add(2*time.Hour))

	got, err := repo.ListClosed(ctx, "SIM-1", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "T-2", got[0].TradeID, "newest first")

	got, err = repo.ListClosed(ctx, "", base.Add(30*time.Minute), base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T-2", got[0].TradeID)

	got, err = repo.ListClosed(ctx, "", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDuplicateTradeIDRejected(t *testing.T) {
	st := newTestStore(t)
	repo := st.Trades()
	ctx := context.Background()

	row := func() *model.TradeModel {
		return &model.TradeModel{
			TradeID: "T-dup", Account: "SIM-1", Symbol: "NQ",
			Side: "long", Quantity: 1, EntryPrice: 100,
			Status: model.TradeStatusOpen, OpenedAtUnix: time.Now().UnixMilli(),
		}
	}
	require.NoError(t, repo.Insert(ctx, row()))
	assert.Error(t, repo.Insert(ctx, row()))
}
