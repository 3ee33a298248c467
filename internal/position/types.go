package position

import (
	"time"

	"tally/internal/account"
	"tally/internal/market"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Key identifies the at-most-one open position slot.
type Key struct {
	Account string
	Symbol  string
}

func (k Key) String() string {
	return k.Account + "|" + k.Symbol
}

// Open is the single tracked position for a (account, symbol) key.
//
// Structural fields survive restarts through the snapshot store.
// Live-derived fields (CurrentPrice, PointsFromEntry, Efficiency) are
// never persisted; after a restore they stay zero until the next price
// observation arrives.
type Open struct {
	Account    string              `json:"account"`
	Symbol     string              `json:"symbol"`
	Side       Side                `json:"side"`
	EntryPrice float64             `json:"entry_price"`
	Quantity   float64             `json:"quantity"` // absolute size
	EnteredAt  time.Time           `json:"entered_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	TradeMin   float64             `json:"trade_min"`
	TradeMax   float64             `json:"trade_max"`
	Target     float64             `json:"target,omitempty"`
	Stop       float64             `json:"stop,omitempty"`
	Entry      market.EntryContext `json:"entry_context"`

	CurrentPrice    float64 `json:"current_price,omitempty"`
	PointsFromEntry float64 `json:"points_from_entry,omitempty"`
	Efficiency      float64 `json:"efficiency,omitempty"`
}

// Closed is the immutable record of one completed round trip.
// RealizedPnL is always computed at close time, zero included; it is
// never written unset once an exit price exists.
type Closed struct {
	ID          string       `json:"id"`
	Account     string       `json:"account"`
	Symbol      string       `json:"symbol"`
	Mode        account.Mode `json:"mode"`
	Side        Side         `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryPrice  float64      `json:"entry_price"`
	ExitPrice   float64      `json:"exit_price"`
	RealizedPnL float64      `json:"realized_pnl"`
	MAE         float64      `json:"mae"`
	MFE         float64      `json:"mfe"`
	OpenedAt    time.Time    `json:"opened_at"`
	ClosedAt    time.Time    `json:"closed_at"`
}
