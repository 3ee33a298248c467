package wire

import (
	"strconv"
	"strings"

	"tally/internal/diag"
	"tally/internal/event"
	"tally/internal/logger"

	"github.com/tidwall/gjson"
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldNumber
	fieldBool
)

// FieldSpec binds one logical field to its payload aliases. The alias
// slice is a preference order: when several alias keys are present in
// the same payload, the first registered alias wins.
type FieldSpec struct {
	Logical  string
	Aliases  []string
	Required bool
	Kind     fieldKind
}

// MessageSpec maps one wire type code onto a canonical event kind.
// A Kind of event.KindUnknown marks a control frame that is understood
// but produces no event (e.g. the connection ack).
type MessageSpec struct {
	Kind event.Kind
	// Quiet suppresses per-message debug tracing for high-frequency
	// kinds so tick storms don't flood the log.
	Quiet  bool
	Fields []FieldSpec
}

// Normalizer converts raw frames into canonical events via a type-code
// registry. Supporting a new broker message kind means registering a
// spec, never touching consumers.
type Normalizer struct {
	registry map[TypeCode]MessageSpec
	metrics  *diag.Metrics
}

func NewNormalizer(metrics *diag.Metrics) *Normalizer {
	n := &Normalizer{
		registry: make(map[TypeCode]MessageSpec),
		metrics:  metrics,
	}
	n.registerBuiltins()
	return n
}

// Register adds or replaces the spec for a type code.
func (n *Normalizer) Register(code TypeCode, spec MessageSpec) {
	n.registry[code] = spec
}

func (n *Normalizer) registerBuiltins() {
	str := func(logical string, required bool, aliases ...string) FieldSpec {
		return FieldSpec{Logical: logical, Aliases: aliases, Required: required, Kind: fieldString}
	}
	num := func(logical string, required bool, aliases ...string) FieldSpec {
		return FieldSpec{Logical: logical, Aliases: aliases, Required: required, Kind: fieldNumber}
	}
	boolean := func(logical string, aliases ...string) FieldSpec {
		return FieldSpec{Logical: logical, Aliases: aliases, Kind: fieldBool}
	}

	n.Register(CodeConnectionAck, MessageSpec{Kind: event.KindUnknown})

	n.Register(CodePositionUpdate, MessageSpec{
		Kind: event.KindPosition,
		Fields: []FieldSpec{
			str("account", true, "account", "account_id", "AccountId"),
			str("symbol", true, "symbol", "instrument", "Instrument"),
			num("quantity", true, "quantity", "qty", "position_quantity"),
			num("price", false, "price", "avg_price", "average_price", "last_price"),
			num("target", false, "target", "target_price", "profit_target"),
			num("stop", false, "stop", "stop_price", "stop_loss"),
		},
	})

	n.Register(CodeOrderUpdate, MessageSpec{
		Kind: event.KindOrder,
		Fields: []FieldSpec{
			str("account", true, "account", "account_id", "AccountId"),
			str("symbol", true, "symbol", "instrument"),
			str("order_id", true, "order_id", "client_order_id", "OrderId"),
			str("status", true, "status", "order_status"),
			str("side", false, "side", "order_side"),
			num("quantity", false, "quantity", "qty"),
			num("price", false, "price", "limit_price"),
		},
	})

	n.Register(CodeFill, MessageSpec{
		Kind: event.KindFill,
		Fields: []FieldSpec{
			str("account", true, "account", "account_id"),
			str("symbol", true, "symbol", "instrument"),
			str("order_id", false, "order_id", "exec_order_id"),
			str("side", false, "side"),
			num("quantity", true, "quantity", "qty", "fill_quantity"),
			num("price", true, "price", "fill_price", "exec_price"),
			boolean("closing", "closing", "is_closing", "reduce_only"),
		},
	})

	// The broker reports account balance through three message variants,
	// each labeling the value differently.
	balanceFields := func(valueAliases ...string) []FieldSpec {
		return []FieldSpec{
			str("account", true, "account", "account_id", "AccountId"),
			num("value", true, valueAliases...),
		}
	}
	n.Register(CodeBalanceUpdate, MessageSpec{
		Kind:   event.KindBalance,
		Fields: balanceFields("cash_balance", "balance", "CashBalance"),
	})
	n.Register(CodeAccountInfo, MessageSpec{
		Kind:   event.KindBalance,
		Fields: balanceFields("account_balance", "AccountBalance", "balance"),
	})
	n.Register(CodeAccountSummary, MessageSpec{
		Kind:   event.KindBalance,
		Fields: balanceFields("net_liquidation", "settlement_balance", "balance"),
	})

	n.Register(CodeMarketTick, MessageSpec{
		Kind:  event.KindTick,
		Quiet: true,
		Fields: []FieldSpec{
			str("symbol", true, "symbol", "instrument", "s"),
			num("price", true, "price", "last", "last_price", "p"),
		},
	})
}

// Normalize converts a raw frame into zero or one canonical event.
// The second return value is false when the frame produced no event,
// whether dropped, rejected, or a pure control frame.
func (n *Normalizer) Normalize(msg RawMessage) (event.Event, bool) {
	spec, ok := n.registry[msg.Code]
	if !ok {
		n.metrics.IncUnhandledKind(int(msg.Code))
		logger.Diagf("unhandled message code %d, dropped", msg.Code)
		return event.Event{}, false
	}
	if spec.Kind == event.KindUnknown {
		return event.Event{}, false
	}

	fields, missing := resolveFields(msg.Payload, spec.Fields)
	if missing != "" {
		n.metrics.IncRejectedEvent()
		if msg.Code == CodeBalanceUpdate || msg.Code == CodeAccountInfo || msg.Code == CodeAccountSummary {
			n.metrics.IncBalanceReject()
		}
		if !spec.Quiet {
			logger.Diagf("message code %d rejected: no usable alias for %q", msg.Code, missing)
		}
		return event.Event{}, false
	}

	ev := buildEvent(spec.Kind, fields)
	ev.At = msg.Recv
	if !spec.Quiet {
		logger.Debugf("normalized code %d -> %s", msg.Code, ev.Kind)
	}
	return ev, true
}

type fieldValue struct {
	str string
	num float64
	b   bool
}

// resolveFields applies the alias preference order exhaustively. It
// returns the logical name of the first required field that has no
// usable alias, or "" when all required fields resolved.
func resolveFields(payload []byte, specs []FieldSpec) (map[string]fieldValue, string) {
	out := make(map[string]fieldValue, len(specs))
	for _, fs := range specs {
		val, ok := resolveAlias(payload, fs)
		if !ok {
			if fs.Required {
				return nil, fs.Logical
			}
			continue
		}
		out[fs.Logical] = val
	}
	return out, ""
}

func resolveAlias(payload []byte, fs FieldSpec) (fieldValue, bool) {
	for _, alias := range fs.Aliases {
		res := gjson.GetBytes(payload, alias)
		if !res.Exists() {
			continue
		}
		switch fs.Kind {
		case fieldString:
			s := strings.TrimSpace(res.String())
			if s == "" {
				continue
			}
			return fieldValue{str: s}, true
		case fieldNumber:
			if f, ok := numericValue(res); ok {
				return fieldValue{num: f}, true
			}
			// Present but unparseable: keep scanning later aliases,
			// a sibling key may carry the clean value.
		case fieldBool:
			return fieldValue{b: res.Bool()}, true
		}
	}
	return fieldValue{}, false
}

func numericValue(res gjson.Result) (float64, bool) {
	switch res.Type {
	case gjson.Number:
		return res.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func buildEvent(kind event.Kind, f map[string]fieldValue) event.Event {
	switch kind {
	case event.KindPosition:
		return event.Event{Kind: kind, Position: &event.PositionUpdate{
			Account:  f["account"].str,
			Symbol:   f["symbol"].str,
			Quantity: f["quantity"].num,
			Price:    f["price"].num,
			Target:   f["target"].num,
			Stop:     f["stop"].num,
		}}
	case event.KindBalance:
		return event.Event{Kind: kind, Balance: &event.BalanceUpdate{
			Account: f["account"].str,
			Value:   f["value"].num,
		}}
	case event.KindOrder:
		return event.Event{Kind: kind, Order: &event.OrderUpdate{
			Account:  f["account"].str,
			Symbol:   f["symbol"].str,
			OrderID:  f["order_id"].str,
			Status:   f["status"].str,
			Side:     f["side"].str,
			Quantity: f["quantity"].num,
			Price:    f["price"].num,
		}}
	case event.KindFill:
		return event.Event{Kind: kind, Fill: &event.Fill{
			Account:  f["account"].str,
			Symbol:   f["symbol"].str,
			OrderID:  f["order_id"].str,
			Side:     f["side"].str,
			Quantity: f["quantity"].num,
			Price:    f["price"].num,
			Closing:  f["closing"].b,
		}}
	case event.KindTick:
		return event.Event{Kind: kind, Tick: &event.Tick{
			Symbol: f["symbol"].str,
			Price:  f["price"].num,
		}}
	default:
		return event.Event{}
	}
}
