package wire

import (
	"testing"
	"time"

	"tally/internal/diag"
	"tally/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(code TypeCode, payload string) RawMessage {
	return RawMessage{Code: code, Payload: []byte(payload), Recv: time.Now()}
}

func TestNormalizePositionUpdate(t *testing.T) {
	metrics := diag.NewMetrics()
	n := NewNormalizer(metrics)

	ev, ok := n.Normalize(raw(CodePositionUpdate,
		`{"account":"SIM-1001","symbol":"NQ","quantity":-2,"avg_price":6843.0,"stop_price":6850}`))
	require.True(t, ok)
	require.Equal(t, event.KindPosition, ev.Kind)
	require.NotNil(t, ev.Position)
	assert.Equal(t, "SIM-1001", ev.Position.Account)
	assert.Equal(t, "NQ", ev.Position.Symbol)
	assert.Equal(t, -2.0, ev.Position.Quantity)
	assert.Equal(t, 6843.0, ev.Position.Price)
	assert.Equal(t, 6850.0, ev.Position.Stop)
	assert.Zero(t, ev.Position.Target)
}

func TestNormalizeAliasPreferenceOrder(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	// Both aliases present: the first registered alias wins.
	ev, ok := n.Normalize(raw(CodeBalanceUpdate,
		`{"account":"A1","cash_balance":1500.5,"balance":9999}`))
	require.True(t, ok)
	assert.Equal(t, 1500.5, ev.Balance.Value)
}

func TestNormalizeBalanceVariants(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	cases := []struct {
		code    TypeCode
		payload string
		want    float64
	}{
		{CodeBalanceUpdate, `{"account":"A1","cash_balance":100}`, 100},
		{CodeAccountInfo, `{"account":"A1","account_balance":200}`, 200},
		{CodeAccountSummary, `{"account":"A1","net_liquidation":300}`, 300},
	}
	for _, tc := range cases {
		ev, ok := n.Normalize(raw(tc.code, tc.payload))
		require.True(t, ok, "code %d", tc.code)
		assert.Equal(t, event.KindBalance, ev.Kind)
		assert.Equal(t, tc.want, ev.Balance.Value)
	}
}

func TestNormalizeStringNumbers(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	ev, ok := n.Normalize(raw(CodeBalanceUpdate, `{"account":"A1","cash_balance":"1234.56"}`))
	require.True(t, ok)
	assert.Equal(t, 1234.56, ev.Balance.Value)
}

func TestNormalizeUnparseableAliasFallsThrough(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	// cash_balance is garbage, sibling alias carries the clean value.
	ev, ok := n.Normalize(raw(CodeBalanceUpdate, `{"account":"A1","cash_balance":"n/a","balance":42}`))
	require.True(t, ok)
	assert.Equal(t, 42.0, ev.Balance.Value)
}

func TestNormalizeRejectsMissingRequired(t *testing.T) {
	metrics := diag.NewMetrics()
	n := NewNormalizer(metrics)

	_, ok := n.Normalize(raw(CodeBalanceUpdate, `{"account":"A1","cash_balance":"garbage"}`))
	require.False(t, ok)
	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.RejectedEvents)
	assert.Equal(t, uint64(1), snap.BalanceRejects)
}

func TestNormalizeUnknownCodeCounted(t *testing.T) {
	metrics := diag.NewMetrics()
	n := NewNormalizer(metrics)

	_, ok := n.Normalize(raw(TypeCode(999), `{"whatever":1}`))
	require.False(t, ok)
	_, ok = n.Normalize(raw(TypeCode(999), `{}`))
	require.False(t, ok)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.UnhandledKinds[999])
	assert.Zero(t, snap.RejectedEvents)
}

func TestNormalizeConnectionAckProducesNothing(t *testing.T) {
	metrics := diag.NewMetrics()
	n := NewNormalizer(metrics)

	_, ok := n.Normalize(raw(CodeConnectionAck, `{"session":"abc"}`))
	require.False(t, ok)
	snap := metrics.Snapshot()
	assert.Zero(t, snap.RejectedEvents)
	assert.Empty(t, snap.UnhandledKinds)
}

func TestNormalizeFillClosingFlag(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	ev, ok := n.Normalize(raw(CodeFill,
		`{"account":"A1","symbol":"ES","qty":1,"fill_price":5000.25,"is_closing":true}`))
	require.True(t, ok)
	require.Equal(t, event.KindFill, ev.Kind)
	assert.True(t, ev.Fill.Closing)
	assert.Equal(t, 5000.25, ev.Fill.Price)
}

func TestNormalizeTick(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())

	ev, ok := n.Normalize(raw(CodeMarketTick, `{"s":"NQ","p":6841.25}`))
	require.True(t, ok)
	assert.Equal(t, event.KindTick, ev.Kind)
	assert.False(t, ev.Critical())
	assert.Equal(t, "NQ", ev.Tick.Symbol)
	assert.Equal(t, 6841.25, ev.Tick.Price)
}

func TestRegisterCustomCode(t *testing.T) {
	n := NewNormalizer(diag.NewMetrics())
	n.Register(TypeCode(300), MessageSpec{
		Kind: event.KindBalance,
		Fields: []FieldSpec{
			{Logical: "account", Aliases: []string{"acct"}, Required: true, Kind: fieldString},
			{Logical: "value", Aliases: []string{"equity"}, Required: true, Kind: fieldNumber},
		},
	})

	ev, ok := n.Normalize(raw(TypeCode(300), `{"acct":"X","equity":77}`))
	require.True(t, ok)
	assert.Equal(t, 77.0, ev.Balance.Value)
}
