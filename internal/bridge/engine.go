package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"tally/internal/account"
	"tally/internal/bus"
	"tally/internal/diag"
	"tally/internal/event"
	"tally/internal/journal"
	"tally/internal/logger"
	"tally/internal/market"
	"tally/internal/position"
	"tally/internal/store"
	"tally/internal/store/model"
	"tally/internal/wire"

	"github.com/shopspring/decimal"
)

// Engine is the single consumer of the event queue. All ledger and
// tracker mutations happen on its loop goroutine, so neither needs
// internal locking.
//
// Architecture:
// - Ingest runs on the feed goroutines: normalize, enqueue, return.
// - Run drains the queue sequentially and applies each event.
// - Read paths (HTTP) see an atomically swapped immutable StateView.
// - Persistence is debounced for routine churn and immediate for
//   lifecycle transitions (open, close).
type Engine struct {
	normalizer *wire.Normalizer
	queue      *bus.Queue
	ledger     *account.Ledger
	tracker    *position.Tracker
	store      store.Store
	journal    *journal.EventJournal
	metrics    *diag.Metrics

	windows    map[string]*market.Window
	windowSize int

	simBaseline decimal.Decimal

	debounce    time.Duration
	dirty       map[position.Key]struct{}
	flushDue    time.Time
	wakePending bool

	tradeRefs  map[position.Key]string
	lastOrders map[string]event.OrderUpdate

	stateView    atomic.Value
	viewThrottle time.Duration
	lastView     time.Time
}

// StateView is the immutable read model handed to the HTTP layer.
type StateView struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Accounts    []account.View      `json:"accounts"`
	Positions   []position.Open     `json:"positions"`
	Orders      []event.OrderUpdate `json:"orders,omitempty"`
}

// Options 聚合引擎依赖与调优参数。
type Options struct {
	Normalizer *wire.Normalizer
	Queue      *bus.Queue
	Ledger     *account.Ledger
	Tracker    *position.Tracker
	Store      store.Store
	Journal    *journal.EventJournal
	Metrics    *diag.Metrics

	SnapshotDebounce time.Duration
	SimBaselineUSD   float64
	WindowSize       int
}

func NewEngine(opts Options) *Engine {
	debounce := opts.SnapshotDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	e := &Engine{
		normalizer:   opts.Normalizer,
		queue:        opts.Queue,
		ledger:       opts.Ledger,
		tracker:      opts.Tracker,
		store:        opts.Store,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		windows:      make(map[string]*market.Window),
		windowSize:   opts.WindowSize,
		simBaseline:  decimal.NewFromFloat(opts.SimBaselineUSD),
		debounce:     debounce,
		dirty:        make(map[position.Key]struct{}),
		tradeRefs:    make(map[position.Key]string),
		lastOrders:   make(map[string]event.OrderUpdate),
		viewThrottle: 50 * time.Millisecond,
	}
	e.refreshView(true)
	return e
}

// Ingest normalizes one raw frame and enqueues the resulting event.
// It runs on the feed goroutine and never blocks on the consumer.
func (e *Engine) Ingest(msg wire.RawMessage) {
	ev, ok := e.normalizer.Normalize(msg)
	if !ok {
		return
	}
	if err := e.queue.Publish(ev); err != nil {
		logger.Warnf("event %s dropped at shutdown: %v", ev.Kind, err)
	}
}

// Run consumes the queue until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("bridge engine started")
	e.queue.Run(ctx, e.handle)
	logger.Infof("bridge engine stopping")
	return nil
}

// Shutdown drains everything still enqueued, then persists a final
// snapshot for every open position. The queue must see no further
// ingestion after this is called.
func (e *Engine) Shutdown(ctx context.Context) {
	e.queue.Close()
	e.queue.Drain(e.handle)
	for _, pos := range e.tracker.OpenPositions() {
		e.dirty[position.Key{Account: pos.Account, Symbol: pos.Symbol}] = struct{}{}
	}
	e.flush()
	e.refreshView(true)
	logger.Infof("bridge engine shut down, final snapshot persisted")
}

// Snapshot returns the latest published read model.
func (e *Engine) Snapshot() StateView {
	val := e.stateView.Load()
	if val == nil {
		return StateView{GeneratedAt: time.Now()}
	}
	return val.(StateView)
}

// handle applies one event. It is the only place state mutates.
func (e *Engine) handle(ev event.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine panic handling %s: %v", ev.Kind, r)
			debug.PrintStack()
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("slow event %s took %v", ev.Kind, dur)
		}
	}()

	switch ev.Kind {
	case event.KindBalance:
		e.handleBalance(ev)
	case event.KindPosition:
		e.handlePosition(ev)
	case event.KindFill:
		e.handleFill(ev)
	case event.KindOrder:
		e.handleOrder(ev)
	case event.KindTick:
		e.handleTick(ev)
	default:
		// Internal wakeup for a pending debounced flush.
		e.wakePending = false
	}
	e.maybeFlush()
	e.refreshView(false)
}

func (e *Engine) handleBalance(ev event.Event) {
	up := ev.Balance
	if ch, ok := e.ledger.ApplyBroker(up.Account, up.Value, ev.At); ok {
		e.emitBalanceChange(ch)
	}
}

func (e *Engine) handlePosition(ev event.Event) {
	up := ev.Position
	mode := e.ledger.ModeOf(up.Account)
	if mode == account.ModeSim {
		if ch, ok := e.ledger.SetBaseline(up.Account, e.simBaseline, ev.At); ok {
			e.emitBalanceChange(ch)
		}
	}

	entry := market.EntryContext{}
	if w := e.windows[up.Symbol]; w != nil {
		entry = w.Context()
	}

	change := e.tracker.Apply(*up, mode, entry, ev.At)
	e.applyChange(position.Key{Account: up.Account, Symbol: up.Symbol}, change, ev.At)
}

func (e *Engine) handleFill(ev event.Event) {
	f := ev.Fill
	mode := e.ledger.ModeOf(f.Account)
	change := e.tracker.ApplyFill(*f, mode, ev.At)
	e.applyChange(position.Key{Account: f.Account, Symbol: f.Symbol}, change, ev.At)
}

func (e *Engine) handleOrder(ev event.Event) {
	up := ev.Order
	e.lastOrders[up.Account+"|"+up.Symbol+"|"+up.OrderID] = *up
	logger.Debugf("order %s %s/%s status=%s", up.OrderID, up.Account, up.Symbol, up.Status)
}

func (e *Engine) handleTick(ev event.Event) {
	t := ev.Tick
	w := e.windows[t.Symbol]
	if w == nil {
		w = market.NewWindow(e.windowSize)
		e.windows[t.Symbol] = w
	}
	w.Push(t.Price)
	for _, key := range e.tracker.ObservePrice(t.Symbol, t.Price) {
		e.markDirty(key)
	}
}

// applyChange routes a tracker change into persistence. Opens and
// closes hit the database on the spot; in-place mutation rides the
// debounced snapshot path.
func (e *Engine) applyChange(key position.Key, change position.Change, at time.Time) {
	if change.Opened != nil {
		pos := change.Opened
		mode := e.ledger.ModeOf(pos.Account)
		row := &model.TradeModel{
			TradeID:      newTradeRef(key, at),
			Account:      pos.Account,
			Symbol:       pos.Symbol,
			Mode:         string(mode),
			Side:         string(pos.Side),
			Quantity:     pos.Quantity,
			EntryPrice:   pos.EntryPrice,
			Status:       model.TradeStatusOpen,
			OpenedAtUnix: pos.EnteredAt.UnixMilli(),
		}
		e.writeWithRetry("trade open", func(ctx context.Context) error {
			return e.store.Trades().Insert(ctx, row)
		})
		e.tradeRefs[key] = row.TradeID
		e.markDirty(key)
		return
	}

	if change.Closed != nil {
		e.finalizeClose(change.Closed, at)
		return
	}

	if change.Structural {
		e.markDirty(key)
	}
}

func (e *Engine) finalizeClose(closed *position.Closed, at time.Time) {
	key := position.Key{Account: closed.Account, Symbol: closed.Symbol}

	tradeRef := e.tradeRefs[key]
	delete(e.tradeRefs, key)

	exit := closed.ExitPrice
	pnl := closed.RealizedPnL
	mae := closed.MAE
	mfe := closed.MFE
	closedAt := closed.ClosedAt.UnixMilli()
	row := &model.TradeModel{
		TradeID:      tradeRef,
		Account:      closed.Account,
		Symbol:       closed.Symbol,
		Mode:         string(closed.Mode),
		Side:         string(closed.Side),
		Quantity:     closed.Quantity,
		EntryPrice:   closed.EntryPrice,
		ExitPrice:    &exit,
		RealizedPnL:  &pnl,
		MAE:          &mae,
		MFE:          &mfe,
		Status:       model.TradeStatusClosed,
		OpenedAtUnix: closed.OpenedAt.UnixMilli(),
		ClosedAtUnix: &closedAt,
	}
	if tradeRef == "" {
		// No open row to finalize (recovered without history); record
		// the whole trade in one insert.
		row.TradeID = closed.ID
		e.writeWithRetry("trade close", func(ctx context.Context) error {
			return e.store.Trades().Insert(ctx, row)
		})
	} else {
		e.writeWithRetry("trade close", func(ctx context.Context) error {
			return e.store.Trades().Finalize(ctx, row)
		})
	}
	e.writeWithRetry("snapshot delete", func(ctx context.Context) error {
		return e.store.Positions().Delete(ctx, key.Account, key.Symbol)
	})
	delete(e.dirty, key)

	if ch, ok := e.ledger.ApplyRealized(closed.Account, decimal.NewFromFloat(closed.RealizedPnL), at); ok {
		e.emitBalanceChange(ch)
	}

	if e.journal != nil {
		if err := e.journal.Record(context.Background(), journal.CategoryTrade, closed.Account, closed.Symbol, closed); err != nil {
			logger.Warnf("trade journal write failed: %v", err)
		}
	}
	e.refreshView(true)
}

// emitBalanceChange is the single notification path for accepted
// balance mutations.
func (e *Engine) emitBalanceChange(ch account.BalanceChange) {
	logger.Infof("balance %s [%s] %s -> %s (%s)",
		ch.Account, ch.Mode, ch.Previous.StringFixed(2), ch.New.StringFixed(2), ch.Source)
	if e.journal != nil {
		if err := e.journal.Record(context.Background(), journal.CategoryBalance, ch.Account, "", ch); err != nil {
			logger.Warnf("balance journal write failed: %v", err)
		}
	}
	e.refreshView(true)
}

func (e *Engine) markDirty(key position.Key) {
	e.dirty[key] = struct{}{}
	if e.flushDue.IsZero() || len(e.dirty) == 1 {
		e.flushDue = time.Now().Add(e.debounce)
	}
	e.scheduleWake()
}

// scheduleWake arms a timer that pushes an internal wakeup through the
// queue so a quiet feed still gets its debounced flush.
func (e *Engine) scheduleWake() {
	if e.wakePending {
		return
	}
	e.wakePending = true
	delay := time.Until(e.flushDue)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		_ = e.queue.Publish(event.Event{At: time.Now()})
	})
}

func (e *Engine) maybeFlush() {
	if len(e.dirty) == 0 {
		return
	}
	if time.Now().Before(e.flushDue) {
		e.scheduleWake()
		return
	}
	e.flush()
}

// flush persists every pending snapshot write, structural fields only.
func (e *Engine) flush() {
	for key := range e.dirty {
		pos, ok := e.tracker.Position(key)
		if !ok {
			delete(e.dirty, key)
			continue
		}
		payload, err := model.EncodeSnapshotState(*pos)
		if err != nil {
			logger.Errorf("snapshot encode failed for %s: %v", key, err)
			delete(e.dirty, key)
			continue
		}
		snap := &model.PositionSnapshotModel{
			Account:       key.Account,
			Symbol:        key.Symbol,
			SchemaVersion: model.CurrentSnapshotSchema,
			StateJSON:     payload,
			UpdatedAtUnix: time.Now().UnixMilli(),
		}
		e.writeWithRetry("snapshot save", func(ctx context.Context) error {
			return e.store.Positions().Save(ctx, snap)
		})
		delete(e.dirty, key)
	}
	e.flushDue = time.Time{}
}

// writeWithRetry performs one durable write with exactly one retry.
// A second failure is surfaced through diagnostics; in-memory state is
// already ahead of the database and stays authoritative.
func (e *Engine) writeWithRetry(label string, op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := op(ctx)
	if err == nil {
		return
	}
	e.metrics.IncWriteRetry()
	logger.Warnf("%s failed, retrying once: %v", label, err)
	if err = op(ctx); err != nil {
		e.metrics.IncWriteFailure()
		logger.Errorf("%s failed after retry: %v", label, err)
	}
}

func (e *Engine) refreshView(force bool) {
	if !force && e.viewThrottle > 0 && !e.lastView.IsZero() {
		if time.Since(e.lastView) < e.viewThrottle {
			return
		}
	}
	positions := e.tracker.OpenPositions()
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Account != positions[j].Account {
			return positions[i].Account < positions[j].Account
		}
		return positions[i].Symbol < positions[j].Symbol
	})
	orders := make([]event.OrderUpdate, 0, len(e.lastOrders))
	for _, o := range e.lastOrders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	e.stateView.Store(StateView{
		GeneratedAt: time.Now(),
		Accounts:    e.ledger.Views(),
		Positions:   positions,
		Orders:      orders,
	})
	e.lastView = time.Now()
}

func newTradeRef(key position.Key, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", key.Account, key.Symbol, at.UnixNano())
}
