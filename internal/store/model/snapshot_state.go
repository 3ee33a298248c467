package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"tally/internal/market"
	"tally/internal/position"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CurrentSnapshotSchema is the version written by this build. Version 1
// snapshots carried only the two timer fields; later versions added the
// extremes, targets and the entry context. Decoding tolerates any
// strict subset: absent fields stay unset, they are never defaulted.
const CurrentSnapshotSchema = 3

// SnapshotState is the wire form of a position snapshot. Every field is
// a pointer so a partial legacy payload round-trips without inventing
// zeroes. Live-derived values have no place here by design of the
// schema itself.
type SnapshotState struct {
	SchemaVersion int      `json:"schema_version,omitempty"`
	Side          *string  `json:"side,omitempty"`
	EntryPrice    *float64 `json:"entry_price,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	EntryTime     *int64   `json:"entry_time,omitempty"`
	UpdateTime    *int64   `json:"update_time,omitempty"`
	TradeMin      *float64 `json:"trade_min,omitempty"`
	TradeMax      *float64 `json:"trade_max,omitempty"`
	Target        *float64 `json:"target,omitempty"`
	Stop          *float64 `json:"stop,omitempty"`
	EMAFast       *float64 `json:"ema_fast,omitempty"`
	EMASlow       *float64 `json:"ema_slow,omitempty"`
	RSI           *float64 `json:"rsi,omitempty"`
	Volatility    *float64 `json:"volatility,omitempty"`
	CtxReady      *bool    `json:"ctx_ready,omitempty"`
}

const snapshotSchema = `{
	"type": "object",
	"properties": {
		"schema_version": {"type": "integer", "minimum": 1},
		"side": {"type": "string", "enum": ["long", "short"]},
		"entry_price": {"type": "number"},
		"quantity": {"type": "number", "minimum": 0},
		"entry_time": {"type": "integer"},
		"update_time": {"type": "integer"},
		"trade_min": {"type": "number"},
		"trade_max": {"type": "number"},
		"target": {"type": "number"},
		"stop": {"type": "number"},
		"ema_fast": {"type": "number"},
		"ema_slow": {"type": "number"},
		"rsi": {"type": "number"},
		"volatility": {"type": "number"},
		"ctx_ready": {"type": "boolean"}
	}
}`

var compiledSnapshotSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchema)

// EncodeSnapshotState serializes the structural subset of an open
// position.
func EncodeSnapshotState(pos position.Open) ([]byte, error) {
	side := string(pos.Side)
	entryUnix := pos.EnteredAt.UnixMilli()
	updateUnix := pos.UpdatedAt.UnixMilli()
	st := SnapshotState{
		SchemaVersion: CurrentSnapshotSchema,
		Side:          &side,
		EntryPrice:    &pos.EntryPrice,
		Quantity:      &pos.Quantity,
		EntryTime:     &entryUnix,
		UpdateTime:    &updateUnix,
		TradeMin:      &pos.TradeMin,
		TradeMax:      &pos.TradeMax,
	}
	if pos.Target > 0 {
		st.Target = &pos.Target
	}
	if pos.Stop > 0 {
		st.Stop = &pos.Stop
	}
	if pos.Entry.Ready {
		st.EMAFast = &pos.Entry.EMAFast
		st.EMASlow = &pos.Entry.EMASlow
		st.RSI = &pos.Entry.RSI
		st.Volatility = &pos.Entry.Volatility
		st.CtxReady = &pos.Entry.Ready
	}
	return json.Marshal(st)
}

// DecodeSnapshotState validates and parses a snapshot payload. A
// payload that is not an object, or types a known field wrongly, is an
// error; callers fall back to trade-history reconstruction.
func DecodeSnapshotState(data []byte) (SnapshotState, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return SnapshotState{}, fmt.Errorf("snapshot payload unreadable: %w", err)
	}
	if err := compiledSnapshotSchema.Validate(normalizeNumbers(generic)); err != nil {
		return SnapshotState{}, fmt.Errorf("snapshot payload invalid: %w", err)
	}
	var st SnapshotState
	if err := json.Unmarshal(data, &st); err != nil {
		return SnapshotState{}, fmt.Errorf("snapshot payload unreadable: %w", err)
	}
	return st, nil
}

// Restore builds an open position from whatever fields the payload
// carried. Live-derived values are left at zero for the tracker to
// recompute from the next observation.
func (st SnapshotState) Restore(accountID, symbol string) *position.Open {
	pos := &position.Open{Account: accountID, Symbol: symbol}
	if st.Side != nil {
		pos.Side = position.Side(*st.Side)
	}
	if st.EntryPrice != nil {
		pos.EntryPrice = *st.EntryPrice
	}
	if st.Quantity != nil {
		pos.Quantity = *st.Quantity
	}
	if st.EntryTime != nil {
		pos.EnteredAt = time.UnixMilli(*st.EntryTime)
	}
	if st.UpdateTime != nil {
		pos.UpdatedAt = time.UnixMilli(*st.UpdateTime)
	}
	if st.TradeMin != nil {
		pos.TradeMin = *st.TradeMin
	}
	if st.TradeMax != nil {
		pos.TradeMax = *st.TradeMax
	}
	if st.Target != nil {
		pos.Target = *st.Target
	}
	if st.Stop != nil {
		pos.Stop = *st.Stop
	}
	ctx := market.EntryContext{}
	if st.EMAFast != nil {
		ctx.EMAFast = *st.EMAFast
	}
	if st.EMASlow != nil {
		ctx.EMASlow = *st.EMASlow
	}
	if st.RSI != nil {
		ctx.RSI = *st.RSI
	}
	if st.Volatility != nil {
		ctx.Volatility = *st.Volatility
	}
	if st.CtxReady != nil {
		ctx.Ready = *st.CtxReady
	}
	pos.Entry = ctx
	return pos
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeNumbers(child)
		}
		return out
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return string(val)
		}
		return f
	default:
		return val
	}
}
