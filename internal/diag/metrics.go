package diag

import (
	"sync"
	"sync/atomic"
)

// Metrics collects lightweight counters for protocol and persistence
// diagnostics. All methods are safe for concurrent use; the ingestion
// goroutines and the consumer loop both increment counters.
type Metrics struct {
	mu             sync.Mutex
	unhandledKinds map[int]uint64

	rejectedEvents     uint64
	balanceRejects     uint64
	simBalanceDiscards uint64
	duplicateCloses    uint64
	tickDrops          uint64
	writeRetries       uint64
	writeFailures      uint64
	degradedRecoveries uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UnhandledKinds     map[int]uint64 `json:"unhandled_kinds,omitempty"`
	RejectedEvents     uint64         `json:"rejected_events"`
	BalanceRejects     uint64         `json:"balance_rejects"`
	SimBalanceDiscards uint64         `json:"sim_balance_discards"`
	DuplicateCloses    uint64         `json:"duplicate_closes"`
	TickDrops          uint64         `json:"tick_drops"`
	WriteRetries       uint64         `json:"write_retries"`
	WriteFailures      uint64         `json:"write_failures"`
	DegradedRecoveries uint64         `json:"degraded_recoveries"`
}

func NewMetrics() *Metrics {
	return &Metrics{unhandledKinds: make(map[int]uint64)}
}

// IncUnhandledKind records a message with a type code missing from the
// normalizer registry.
func (m *Metrics) IncUnhandledKind(code int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.unhandledKinds[code]++
	m.mu.Unlock()
}

func (m *Metrics) IncRejectedEvent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejectedEvents, 1)
}

func (m *Metrics) IncBalanceReject() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.balanceRejects, 1)
}

func (m *Metrics) IncSimBalanceDiscard() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.simBalanceDiscards, 1)
}

func (m *Metrics) IncDuplicateClose() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicateCloses, 1)
}

func (m *Metrics) IncTickDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tickDrops, 1)
}

func (m *Metrics) IncWriteRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.writeRetries, 1)
}

func (m *Metrics) IncWriteFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.writeFailures, 1)
}

func (m *Metrics) IncDegradedRecovery() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.degradedRecoveries, 1)
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		RejectedEvents:     atomic.LoadUint64(&m.rejectedEvents),
		BalanceRejects:     atomic.LoadUint64(&m.balanceRejects),
		SimBalanceDiscards: atomic.LoadUint64(&m.simBalanceDiscards),
		DuplicateCloses:    atomic.LoadUint64(&m.duplicateCloses),
		TickDrops:          atomic.LoadUint64(&m.tickDrops),
		WriteRetries:       atomic.LoadUint64(&m.writeRetries),
		WriteFailures:      atomic.LoadUint64(&m.writeFailures),
		DegradedRecoveries: atomic.LoadUint64(&m.degradedRecoveries),
	}
	m.mu.Lock()
	if len(m.unhandledKinds) > 0 {
		snap.UnhandledKinds = make(map[int]uint64, len(m.unhandledKinds))
		for code, n := range m.unhandledKinds {
			snap.UnhandledKinds[code] = n
		}
	}
	m.mu.Unlock()
	return snap
}
