package position

import (
	"sort"
	"time"

	"tally/internal/account"
	"tally/internal/diag"
	"tally/internal/event"
	"tally/internal/logger"
	"tally/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Change describes what a position event did to the tracked state.
type Change struct {
	Opened     *Open
	Closed     *Closed
	Structural bool // quantity/extremes/target/stop changed, snapshot is stale
}

// Tracker owns every open position and turns open→close round trips
// into exactly one Closed record each. Like the ledger it runs on the
// single consumer goroutine and needs no internal locking.
type Tracker struct {
	metrics    *diag.Metrics
	pointValue func(symbol string) float64
	open       map[Key]*Open
	lastClosed map[Key]time.Time
}

func NewTracker(pointValue func(string) float64, metrics *diag.Metrics) *Tracker {
	if pointValue == nil {
		pointValue = func(string) float64 { return 1 }
	}
	return &Tracker{
		metrics:    metrics,
		pointValue: pointValue,
		open:       make(map[Key]*Open),
		lastClosed: make(map[Key]time.Time),
	}
}

// Apply processes a canonical position update. A nonzero quantity opens
// or mutates the key's position; the explicit zero-quantity transition
// is the authoritative close trigger.
func (t *Tracker) Apply(up event.PositionUpdate, mode account.Mode, entry market.EntryContext, at time.Time) Change {
	key := Key{Account: up.Account, Symbol: up.Symbol}
	pos := t.open[key]

	if up.Quantity == 0 {
		if pos == nil {
			if _, closedBefore := t.lastClosed[key]; closedBefore {
				t.metrics.IncDuplicateClose()
				logger.Diagf("duplicate close for %s ignored", key)
			}
			return Change{}
		}
		closed := t.close(key, pos, mode, up.Price, at)
		return Change{Closed: closed, Structural: true}
	}

	if pos == nil {
		pos = t.openPosition(key, up, entry, at)
		return Change{Opened: pos, Structural: true}
	}

	structural := false
	if qty := abs(up.Quantity); qty != pos.Quantity {
		pos.Quantity = qty
		structural = true
	}
	if up.Target > 0 && up.Target != pos.Target {
		pos.Target = up.Target
		structural = true
	}
	if up.Stop > 0 && up.Stop != pos.Stop {
		pos.Stop = up.Stop
		structural = true
	}
	if up.Price > 0 {
		if t.observe(pos, up.Price) {
			structural = true
		}
	}
	if structural {
		pos.UpdatedAt = at
	}
	return Change{Structural: structural}
}

// ApplyFill processes an execution. A closing fill is the second legal
// close trigger; it closes an open position at the fill price, and is
// a duplicate-close no-op when the key is already flat.
func (t *Tracker) ApplyFill(f event.Fill, mode account.Mode, at time.Time) Change {
	key := Key{Account: f.Account, Symbol: f.Symbol}
	pos := t.open[key]
	if pos == nil {
		if f.Closing {
			t.metrics.IncDuplicateClose()
			logger.Diagf("closing fill for flat key %s ignored", key)
		}
		return Change{}
	}
	if f.Closing && f.Quantity >= pos.Quantity {
		closed := t.close(key, pos, mode, f.Price, at)
		return Change{Closed: closed, Structural: true}
	}
	structural := false
	if f.Closing && f.Quantity > 0 {
		pos.Quantity -= f.Quantity
		structural = true
	}
	if f.Price > 0 && t.observe(pos, f.Price) {
		structural = true
	}
	if structural {
		pos.UpdatedAt = at
	}
	return Change{Structural: structural}
}

// ObservePrice feeds a market tick to every open position on the
// symbol. It returns the keys whose extremes widened (snapshot-relevant)
// in stable order.
func (t *Tracker) ObservePrice(symbol string, price float64) []Key {
	if price <= 0 {
		return nil
	}
	var widened []Key
	for key, pos := range t.open {
		if key.Symbol != symbol {
			continue
		}
		if t.observe(pos, price) {
			widened = append(widened, key)
		}
	}
	sort.Slice(widened, func(i, j int) bool {
		if widened[i].Account != widened[j].Account {
			return widened[i].Account < widened[j].Account
		}
		return widened[i].Symbol < widened[j].Symbol
	})
	return widened
}

// Restore reinstates a recovered position. Live-derived fields are
// cleared no matter what the caller hands in.
func (t *Tracker) Restore(pos *Open) {
	if pos == nil || pos.Account == "" || pos.Symbol == "" {
		return
	}
	cp := *pos
	cp.CurrentPrice = 0
	cp.PointsFromEntry = 0
	cp.Efficiency = 0
	t.open[Key{Account: cp.Account, Symbol: cp.Symbol}] = &cp
}

// Position returns the open position for a key, if any.
func (t *Tracker) Position(key Key) (*Open, bool) {
	pos, ok := t.open[key]
	return pos, ok
}

// OpenPositions returns copies of all open positions.
func (t *Tracker) OpenPositions() []Open {
	out := make([]Open, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, *pos)
	}
	return out
}

func (t *Tracker) openPosition(key Key, up event.PositionUpdate, entry market.EntryContext, at time.Time) *Open {
	side := SideLong
	if up.Quantity < 0 {
		side = SideShort
	}
	pos := &Open{
		Account:    up.Account,
		Symbol:     up.Symbol,
		Side:       side,
		EntryPrice: up.Price,
		Quantity:   abs(up.Quantity),
		EnteredAt:  at,
		UpdatedAt:  at,
		TradeMin:   up.Price,
		TradeMax:   up.Price,
		Target:     up.Target,
		Stop:       up.Stop,
		Entry:      entry,
	}
	t.open[key] = pos
	logger.Infof("position opened %s %s qty=%.2f entry=%.2f", key, side, pos.Quantity, pos.EntryPrice)
	return pos
}

// observe widens the trade extremes (monotonic, never narrowed) and
// refreshes the live-derived fields.
func (t *Tracker) observe(pos *Open, price float64) bool {
	widened := false
	if pos.TradeMin == 0 || price < pos.TradeMin {
		pos.TradeMin = price
		widened = true
	}
	if price > pos.TradeMax {
		pos.TradeMax = price
		widened = true
	}
	pos.CurrentPrice = price
	dir := 1.0
	if pos.Side == SideShort {
		dir = -1
	}
	pos.PointsFromEntry = (price - pos.EntryPrice) * dir
	if span := pos.TradeMax - pos.TradeMin; span > 0 {
		pos.Efficiency = pos.PointsFromEntry / span
	}
	return widened
}

func (t *Tracker) close(key Key, pos *Open, mode account.Mode, exitPrice float64, at time.Time) *Closed {
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}
	t.observe(pos, exitPrice)

	pv := t.pointValue(pos.Symbol)
	if pv <= 0 {
		pv = 1
	}
	scale := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pv))

	signed := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(pos.EntryPrice))
	if pos.Side == SideShort {
		signed = signed.Neg()
	}
	realized, _ := signed.Mul(scale).Float64()

	mae, mfe := excursions(pos)
	maeScaled, _ := decimal.NewFromFloat(mae).Mul(scale).Float64()
	mfeScaled, _ := decimal.NewFromFloat(mfe).Mul(scale).Float64()

	closed := &Closed{
		ID:          uuid.NewString(),
		Account:     pos.Account,
		Symbol:      pos.Symbol,
		Mode:        mode,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realized,
		MAE:         maeScaled,
		MFE:         mfeScaled,
		OpenedAt:    pos.EnteredAt,
		ClosedAt:    at,
	}
	delete(t.open, key)
	t.lastClosed[key] = at
	logger.Infof("position closed %s %s exit=%.2f pnl=%.2f mae=%.2f mfe=%.2f",
		key, pos.Side, exitPrice, realized, maeScaled, mfeScaled)
	return closed
}

// excursions returns the per-point MAE/MFE, direction-aware and never
// negative regardless of side.
func excursions(pos *Open) (mae, mfe float64) {
	if pos.TradeMin == 0 && pos.TradeMax == 0 {
		return 0, 0
	}
	if pos.Side == SideLong {
		mae = pos.EntryPrice - pos.TradeMin
		mfe = pos.TradeMax - pos.EntryPrice
	} else {
		mae = pos.TradeMax - pos.EntryPrice
		mfe = pos.EntryPrice - pos.TradeMin
	}
	if mae < 0 {
		mae = 0
	}
	if mfe < 0 {
		mfe = 0
	}
	return mae, mfe
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
