package wire

import "time"

// TypeCode 是券商线协议里的消息类型码。
type TypeCode int

// Builtin type codes. The broker wire identifies every frame by a small
// integer; codes outside this set are counted and dropped.
const (
	CodeConnectionAck  TypeCode = 100
	CodePositionUpdate TypeCode = 155
	CodeOrderUpdate    TypeCode = 156
	CodeFill           TypeCode = 157
	CodeBalanceUpdate  TypeCode = 160
	CodeAccountInfo    TypeCode = 161
	CodeAccountSummary TypeCode = 162
	CodeMarketTick     TypeCode = 250
)

// RawMessage is a single inbound frame: a type code plus the
// loosely-typed JSON payload exactly as received.
type RawMessage struct {
	Code    TypeCode
	Payload []byte
	Recv    time.Time
}
