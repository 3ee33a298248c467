package account

import (
	"math"
	"sort"
	"time"

	"tally/internal/diag"
	"tally/internal/logger"

	"github.com/shopspring/decimal"
)

// Source tags who is allowed to mutate a balance-of-record.
type Source string

const (
	SourceBroker Source = "broker"
	SourceLocal  Source = "local"
)

// BalanceChange is the single notification emitted for every accepted
// balance mutation. Rejected updates never produce one.
type BalanceChange struct {
	Account  string          `json:"account"`
	Mode     Mode            `json:"mode"`
	Previous decimal.Decimal `json:"previous"`
	New      decimal.Decimal `json:"new"`
	Source   Source          `json:"source"`
	At       time.Time       `json:"at"`
}

type record struct {
	mode           Mode
	balance        decimal.Decimal
	source         Source
	updatedAt      time.Time
	baselined      bool
	brokerDiscards uint64
}

// View is a read-only copy of one account record.
type View struct {
	Account        string    `json:"account"`
	Mode           Mode      `json:"mode"`
	Balance        float64   `json:"balance"`
	Source         Source    `json:"source"`
	UpdatedAt      time.Time `json:"updated_at"`
	BrokerDiscards uint64    `json:"broker_discards,omitempty"`
}

// Ledger owns balance-of-record per account. The mode, and with it the
// authoritative source, is resolved once per account and never changes
// for the rest of the session.
//
// Ledger is not internally synchronized: every mutation happens on the
// single consumer goroutine, which is what makes the accept/reject
// decisions race-free without per-field locking.
type Ledger struct {
	rule     Rule
	metrics  *diag.Metrics
	accounts map[string]*record
}

func NewLedger(rule Rule, metrics *diag.Metrics) *Ledger {
	return &Ledger{
		rule:     rule,
		metrics:  metrics,
		accounts: make(map[string]*record),
	}
}

// ModeOf resolves the account's mode, fixing it for the session on
// first sight of the identifier.
func (l *Ledger) ModeOf(accountID string) Mode {
	return l.ensure(accountID).mode
}

func (l *Ledger) ensure(accountID string) *record {
	rec, ok := l.accounts[accountID]
	if !ok {
		rec = &record{
			mode:    l.rule.Resolve(accountID),
			balance: decimal.Zero,
			source:  SourceLocal,
		}
		if rec.mode == ModeLive {
			rec.source = SourceBroker
		}
		l.accounts[accountID] = rec
		logger.Infof("account %s registered as %s (%s authoritative)", accountID, rec.mode, rec.source)
	}
	return rec
}

// ApplyBroker handles a broker-reported balance value.
//
// LIVE: the value overwrites the stored balance unconditionally.
// SIM: the value is counted and discarded; this is an expected,
// by-design discard, never an error.
func (l *Ledger) ApplyBroker(accountID string, value float64, at time.Time) (BalanceChange, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		l.metrics.IncBalanceReject()
		logger.Diagf("balance update for %s rejected: non-finite value", accountID)
		return BalanceChange{}, false
	}
	rec := l.ensure(accountID)
	if rec.mode == ModeSim {
		rec.brokerDiscards++
		l.metrics.IncSimBalanceDiscard()
		logger.Diagf("SIM account %s: broker balance %.2f discarded (local authoritative)", accountID, value)
		return BalanceChange{}, false
	}
	prev := rec.balance
	rec.balance = decimal.NewFromFloat(value)
	rec.source = SourceBroker
	rec.updatedAt = at
	return BalanceChange{
		Account:  accountID,
		Mode:     rec.mode,
		Previous: prev,
		New:      rec.balance,
		Source:   SourceBroker,
		At:       at,
	}, true
}

// ApplyRealized applies a closed trade's realized PnL. Only SIM
// balances mutate; for LIVE accounts the locally computed figure is
// informational and the broker feed remains the balance-of-record.
func (l *Ledger) ApplyRealized(accountID string, pnl decimal.Decimal, at time.Time) (BalanceChange, bool) {
	rec := l.ensure(accountID)
	if rec.mode != ModeSim {
		logger.Debugf("LIVE account %s: realized pnl %s informational only", accountID, pnl)
		return BalanceChange{}, false
	}
	prev := rec.balance
	rec.balance = rec.balance.Add(pnl)
	rec.source = SourceLocal
	rec.updatedAt = at
	return BalanceChange{
		Account:  accountID,
		Mode:     rec.mode,
		Previous: prev,
		New:      rec.balance,
		Source:   SourceLocal,
		At:       at,
	}, true
}

// SetBaseline seeds a SIM account's balance exactly once, at session
// start or snapshot restore. Repeat calls are no-ops.
func (l *Ledger) SetBaseline(accountID string, value decimal.Decimal, at time.Time) (BalanceChange, bool) {
	rec := l.ensure(accountID)
	if rec.mode != ModeSim || rec.baselined {
		return BalanceChange{}, false
	}
	prev := rec.balance
	rec.balance = value
	rec.baselined = true
	rec.source = SourceLocal
	rec.updatedAt = at
	return BalanceChange{
		Account:  accountID,
		Mode:     rec.mode,
		Previous: prev,
		New:      rec.balance,
		Source:   SourceLocal,
		At:       at,
	}, true
}

// Balance returns the current balance-of-record for an account.
func (l *Ledger) Balance(accountID string) (decimal.Decimal, bool) {
	rec, ok := l.accounts[accountID]
	if !ok {
		return decimal.Zero, false
	}
	return rec.balance, true
}

// Views returns read-only copies of all account records, sorted by
// account id for stable output.
func (l *Ledger) Views() []View {
	out := make([]View, 0, len(l.accounts))
	for id, rec := range l.accounts {
		bal, _ := rec.balance.Float64()
		out = append(out, View{
			Account:        id,
			Mode:           rec.mode,
			Balance:        bal,
			Source:         rec.source,
			UpdatedAt:      rec.updatedAt,
			BrokerDiscards: rec.brokerDiscards,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}
