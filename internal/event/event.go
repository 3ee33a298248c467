// Package event defines the canonical events produced by the wire
// normalizer. Consumers only ever see these types; raw broker payloads
// never cross the queue boundary.
package event

import (
	"fmt"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPosition
	KindBalance
	KindOrder
	KindFill
	KindTick
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindBalance:
		return "balance"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	case KindTick:
		return "tick"
	default:
		return "unknown"
	}
}

// PositionUpdate reports the broker's view of a position. Quantity zero
// means the key is flat.
type PositionUpdate struct {
	Account  string
	Symbol   string
	Quantity float64 // signed: >0 long, <0 short
	Price    float64 // average entry price, or last price on flat updates
	Target   float64 // take-profit price, 0 if not set
	Stop     float64 // stop price, 0 if not set
}

// BalanceUpdate carries a broker-reported account balance value.
type BalanceUpdate struct {
	Account string
	Value   float64
}

// OrderUpdate reports an order state change.
type OrderUpdate struct {
	Account  string
	Symbol   string
	OrderID  string
	Status   string
	Side     string
	Quantity float64
	Price    float64
}

// Fill reports an execution.
type Fill struct {
	Account  string
	Symbol   string
	OrderID  string
	Side     string
	Quantity float64
	Price    float64
	Closing  bool // true when the fill reduces or closes an open position
}

// Tick is a market-data price observation.
type Tick struct {
	Symbol string
	Price  float64
}

// Event is the closed variant passed through the queue. Exactly one of
// the payload pointers is non-nil, matching Kind.
type Event struct {
	Kind Kind
	At   time.Time

	Position *PositionUpdate
	Balance  *BalanceUpdate
	Order    *OrderUpdate
	Fill     *Fill
	Tick     *Tick
}

// Key returns the per-account/per-symbol ordering key. Ticks key on the
// symbol alone; balance updates key on the account alone.
func (e Event) Key() string {
	switch e.Kind {
	case KindPosition:
		return e.Position.Account + "|" + e.Position.Symbol
	case KindBalance:
		return e.Balance.Account + "|"
	case KindOrder:
		return e.Order.Account + "|" + e.Order.Symbol
	case KindFill:
		return e.Fill.Account + "|" + e.Fill.Symbol
	case KindTick:
		return "|" + e.Tick.Symbol
	default:
		return ""
	}
}

// Critical reports whether the event may never be dropped by the queue.
func (e Event) Critical() bool {
	return e.Kind != KindTick
}

func (e Event) String() string {
	return fmt.Sprintf("event{%s key=%s}", e.Kind, e.Key())
}
