package position

import (
	"testing"
	"time"

	"tally/internal/account"
	"tally/internal/diag"
	"tally/internal/event"
	"tally/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(pointValue float64) (*Tracker, *diag.Metrics) {
	metrics := diag.NewMetrics()
	tr := NewTracker(func(string) float64 { return pointValue }, metrics)
	return tr, metrics
}

func openLong(t *testing.T, tr *Tracker, qty, price float64) {
	t.Helper()
	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: qty, Price: price,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Opened)
}

func TestOpenAndWidenExtremes(t *testing.T) {
	tr, _ := newTestTracker(20)
	openLong(t, tr, 1, 6839.25)

	tr.ObservePrice("NQ", 6835.00)
	tr.ObservePrice("NQ", 6845.00)
	tr.ObservePrice("NQ", 6830.00)
	tr.ObservePrice("NQ", 6840.00) // inside the range, must not narrow

	pos, ok := tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	require.True(t, ok)
	assert.Equal(t, 6830.00, pos.TradeMin)
	assert.Equal(t, 6845.00, pos.TradeMax)
	assert.Equal(t, 6840.00, pos.CurrentPrice)
}

func TestLongExcursionsOnClose(t *testing.T) {
	// Long from 6839.25, range [6830, 6845], 1 contract at 20 USD/point.
	tr, _ := newTestTracker(20)
	openLong(t, tr, 1, 6839.25)
	tr.ObservePrice("NQ", 6830.00)
	tr.ObservePrice("NQ", 6845.00)

	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0, Price: 6841.25,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Closed)
	closed := ch.Closed

	assert.InDelta(t, 9.25*20, closed.MAE, 1e-9)
	assert.InDelta(t, 5.75*20, closed.MFE, 1e-9)
	assert.InDelta(t, 2.0*20, closed.RealizedPnL, 1e-9)
	assert.Equal(t, SideLong, closed.Side)
}

func TestShortExcursionsOnClose(t *testing.T) {
	// Short from 6843, range [6835, 6850]: MAE is the rise, MFE the drop.
	tr, _ := newTestTracker(20)
	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: -1, Price: 6843.00,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Opened)
	assert.Equal(t, SideShort, ch.Opened.Side)

	tr.ObservePrice("NQ", 6850.00)
	tr.ObservePrice("NQ", 6835.00)

	ch = tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0, Price: 6840.00,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Closed)

	assert.InDelta(t, 7.0*20, ch.Closed.MAE, 1e-9)
	assert.InDelta(t, 8.0*20, ch.Closed.MFE, 1e-9)
	assert.InDelta(t, 3.0*20, ch.Closed.RealizedPnL, 1e-9)
}

func TestQuantityScalesPnLAndExcursions(t *testing.T) {
	tr, _ := newTestTracker(5)
	openLong(t, tr, 3, 5000.00)
	tr.ObservePrice("NQ", 4998.00)

	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0, Price: 5002.00,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Closed)

	assert.InDelta(t, 2.0*3*5, ch.Closed.RealizedPnL, 1e-9)
	assert.InDelta(t, 2.0*3*5, ch.Closed.MAE, 1e-9)
	assert.InDelta(t, 2.0*3*5, ch.Closed.MFE, 1e-9) // exit widened max to 5002
}

func TestDuplicateCloseIsNoOp(t *testing.T) {
	tr, metrics := newTestTracker(1)
	openLong(t, tr, 1, 100)

	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0, Price: 101,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Closed)

	// Second zero-quantity update for the same flat key.
	ch = tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0, Price: 101,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	assert.Nil(t, ch.Closed)
	assert.Nil(t, ch.Opened)
	assert.False(t, ch.Structural)
	assert.Equal(t, uint64(1), metrics.Snapshot().DuplicateCloses)
}

func TestClosingFillClosesPosition(t *testing.T) {
	tr, metrics := newTestTracker(1)
	openLong(t, tr, 2, 100)

	ch := tr.ApplyFill(event.Fill{
		Account: "SIM-1", Symbol: "NQ", Quantity: 2, Price: 103, Closing: true,
	}, account.ModeSim, time.Now())
	require.NotNil(t, ch.Closed)
	assert.InDelta(t, 3.0*2, ch.Closed.RealizedPnL, 1e-9)

	// The flat key then receives the zero-quantity update: duplicate.
	ch2 := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	assert.Nil(t, ch2.Closed)
	assert.Equal(t, uint64(1), metrics.Snapshot().DuplicateCloses)
}

func TestPartialClosingFillReducesQuantity(t *testing.T) {
	tr, _ := newTestTracker(1)
	openLong(t, tr, 3, 100)

	ch := tr.ApplyFill(event.Fill{
		Account: "SIM-1", Symbol: "NQ", Quantity: 1, Price: 102, Closing: true,
	}, account.ModeSim, time.Now())
	assert.Nil(t, ch.Closed)
	assert.True(t, ch.Structural)

	pos, ok := tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Quantity)
}

func TestExitPriceFallsBackToLastObserved(t *testing.T) {
	tr, _ := newTestTracker(1)
	openLong(t, tr, 1, 100)
	tr.ObservePrice("NQ", 104)

	// Flat update without a price: close at the last observation.
	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 0,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	require.NotNil(t, ch.Closed)
	assert.Equal(t, 104.0, ch.Closed.ExitPrice)
	assert.InDelta(t, 4.0, ch.Closed.RealizedPnL, 1e-9)
}

func TestSecondOpenOnSameKeyMutatesInPlace(t *testing.T) {
	tr, _ := newTestTracker(1)
	openLong(t, tr, 1, 100)

	ch := tr.Apply(event.PositionUpdate{
		Account: "SIM-1", Symbol: "NQ", Quantity: 2, Price: 101, Target: 110, Stop: 95,
	}, account.ModeSim, market.EntryContext{}, time.Now())
	assert.Nil(t, ch.Opened)
	assert.True(t, ch.Structural)

	pos, _ := tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 110.0, pos.Target)
	assert.Equal(t, 95.0, pos.Stop)
	assert.Equal(t, 100.0, pos.EntryPrice, "entry price never rewritten in place")
}

func TestRestoreClearsLiveDerivedFields(t *testing.T) {
	tr, _ := newTestTracker(1)
	tr.Restore(&Open{
		Account: "SIM-1", Symbol: "NQ", Side: SideLong,
		EntryPrice: 100, Quantity: 1,
		TradeMin: 98, TradeMax: 103,
		CurrentPrice: 102, PointsFromEntry: 2, Efficiency: 0.4,
	})

	pos, ok := tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	require.True(t, ok)
	assert.Zero(t, pos.CurrentPrice)
	assert.Zero(t, pos.PointsFromEntry)
	assert.Zero(t, pos.Efficiency)
	assert.Equal(t, 98.0, pos.TradeMin, "extremes survive restore")
	assert.Equal(t, 103.0, pos.TradeMax)

	// Post-restore observation only widens, never resets.
	tr.ObservePrice("NQ", 101)
	pos, _ = tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	assert.Equal(t, 98.0, pos.TradeMin)
	assert.Equal(t, 103.0, pos.TradeMax)
	assert.Equal(t, 101.0, pos.CurrentPrice)
}

func TestObservePriceReturnsWidenedKeysSorted(t *testing.T) {
	tr, _ := newTestTracker(1)
	for _, acc := range []string{"SIM-9", "SIM-1", "SIM-5", "APEX-3"} {
		ch := tr.Apply(event.PositionUpdate{
			Account: acc, Symbol: "NQ", Quantity: 1, Price: 100,
		}, account.ModeSim, market.EntryContext{}, time.Now())
		require.NotNil(t, ch.Opened)
	}

	widened := tr.ObservePrice("NQ", 105)
	require.Len(t, widened, 4)
	want := []Key{
		{Account: "APEX-3", Symbol: "NQ"},
		{Account: "SIM-1", Symbol: "NQ"},
		{Account: "SIM-5", Symbol: "NQ"},
		{Account: "SIM-9", Symbol: "NQ"},
	}
	assert.Equal(t, want, widened)
}

func TestObservePriceIgnoresOtherSymbols(t *testing.T) {
	tr, _ := newTestTracker(1)
	openLong(t, tr, 1, 100)

	widened := tr.ObservePrice("ES", 5000)
	assert.Empty(t, widened)

	pos, _ := tr.Position(Key{Account: "SIM-1", Symbol: "NQ"})
	assert.Equal(t, 100.0, pos.TradeMin)
	assert.Equal(t, 100.0, pos.TradeMax)
}
