package model

import (
	"testing"
	"time"

	"tally/internal/market"
	"tally/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entered := time.UnixMilli(1700000000000)
	updated := time.UnixMilli(1700000500000)
	pos := position.Open{
		Account:    "SIM-1",
		Symbol:     "NQ",
		Side:       position.SideShort,
		EntryPrice: 6843.00,
		Quantity:   2,
		EnteredAt:  entered,
		UpdatedAt:  updated,
		TradeMin:   6835.00,
		TradeMax:   6850.00,
		Target:     6820.00,
		Stop:       6855.00,
		Entry: market.EntryContext{
			EMAFast: 6841.2, EMASlow: 6844.8, RSI: 41.5, Volatility: 12.3, Ready: true,
		},
		// Live-derived fields must never survive a round trip.
		CurrentPrice:    6840.00,
		PointsFromEntry: 3,
		Efficiency:      0.2,
	}

	data, err := EncodeSnapshotState(pos)
	require.NoError(t, err)

	st, err := DecodeSnapshotState(data)
	require.NoError(t, err)
	assert.Equal(t, CurrentSnapshotSchema, st.SchemaVersion)

	got := st.Restore("SIM-1", "NQ")
	assert.Equal(t, position.SideShort, got.Side)
	assert.Equal(t, 6843.00, got.EntryPrice)
	assert.Equal(t, 2.0, got.Quantity)
	assert.True(t, got.EnteredAt.Equal(entered))
	assert.True(t, got.UpdatedAt.Equal(updated))
	assert.Equal(t, 6835.00, got.TradeMin)
	assert.Equal(t, 6850.00, got.TradeMax)
	assert.Equal(t, 6820.00, got.Target)
	assert.Equal(t, 6855.00, got.Stop)
	assert.Equal(t, pos.Entry, got.Entry)
	assert.Zero(t, got.CurrentPrice)
	assert.Zero(t, got.PointsFromEntry)
	assert.Zero(t, got.Efficiency)
}

func TestEncodeOmitsUnsetOptionals(t *testing.T) {
	pos := position.Open{
		Account: "SIM-1", Symbol: "NQ", Side: position.SideLong,
		EntryPrice: 100, Quantity: 1,
		EnteredAt: time.Now(), UpdatedAt: time.Now(),
		TradeMin: 99, TradeMax: 101,
	}
	data, err := EncodeSnapshotState(pos)
	require.NoError(t, err)

	st, err := DecodeSnapshotState(data)
	require.NoError(t, err)
	assert.Nil(t, st.Target)
	assert.Nil(t, st.Stop)
	assert.Nil(t, st.EMAFast)
	assert.Nil(t, st.CtxReady)
}

func TestDecodeLegacyPartialPayload(t *testing.T) {
	// Version 1 snapshots carried only the timer fields.
	data := []byte(`{"schema_version":1,"entry_time":1690000000000,"update_time":1690000300000}`)

	st, err := DecodeSnapshotState(data)
	require.NoError(t, err)

	got := st.Restore("APEX-330", "ES")
	assert.Equal(t, "APEX-330", got.Account)
	assert.Equal(t, "ES", got.Symbol)
	assert.True(t, got.EnteredAt.Equal(time.UnixMilli(1690000000000)))
	assert.True(t, got.UpdatedAt.Equal(time.UnixMilli(1690000300000)))
	assert.Empty(t, string(got.Side))
	assert.Zero(t, got.EntryPrice)
	assert.Zero(t, got.Quantity)
	assert.False(t, got.Entry.Ready)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"truncated json", `{"side":"long"`},
		{"wrong side value", `{"side":"flat"}`},
		{"negative quantity", `{"quantity":-1}`},
		{"side typed as number", `{"side":1}`},
		{"array payload", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSnapshotState([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{"schema_version":2,"side":"long","entry_price":100,"quantity":1,"future_field":true}`)
	st, err := DecodeSnapshotState(data)
	require.NoError(t, err)
	require.NotNil(t, st.Side)
	assert.Equal(t, "long", *st.Side)
}
