// Package bus is the only bridge between the ingestion goroutines and
// the single consumer goroutine. Enqueue never blocks ingestion;
// consumption is strictly sequential, which is what lets the ledger
// and the tracker run without internal locks.
package bus

import (
	"context"
	"errors"
	"sync"

	"tally/internal/diag"
	"tally/internal/event"
)

var ErrClosed = errors.New("event queue closed")

// Queue carries canonical events across the context boundary.
//
// Critical events (balance, position, order, fill) ride an unbounded
// FIFO and are never dropped. Ticks ride a bounded lane that sheds the
// oldest entry under sustained overload. A single FIFO per lane keeps
// per-key relative order intact end-to-end.
type Queue struct {
	mu     sync.Mutex
	buf    []event.Event
	closed bool

	notify chan struct{}
	ticks  chan event.Event

	metrics *diag.Metrics
}

func NewQueue(tickCapacity int, metrics *diag.Metrics) *Queue {
	if tickCapacity <= 0 {
		tickCapacity = 256
	}
	return &Queue{
		notify:  make(chan struct{}, 1),
		ticks:   make(chan event.Event, tickCapacity),
		metrics: metrics,
	}
}

// Publish enqueues one event without ever blocking the caller.
func (q *Queue) Publish(ev event.Event) error {
	if !ev.Critical() {
		for {
			select {
			case q.ticks <- ev:
				return nil
			default:
			}
			// Tick lane full: shed the oldest observation and retry.
			select {
			case <-q.ticks:
				q.metrics.IncTickDrop()
			default:
			}
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the queue from accepting new critical events. Events
// already enqueued stay available for draining.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return event.Event{}, false
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	return ev, true
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Run consumes events one at a time until the context is cancelled.
// Critical events are always drained ahead of buffered ticks so a tick
// storm can never starve a balance or close event.
func (q *Queue) Run(ctx context.Context, handler func(event.Event)) {
	for {
		if ev, ok := q.pop(); ok {
			handler(ev)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case ev := <-q.ticks:
			handler(ev)
		}
	}
}

// Drain processes everything still enqueued after Close. It is the
// shutdown path: the final snapshot must reflect the last fully
// processed event.
func (q *Queue) Drain(handler func(event.Event)) {
	for {
		if ev, ok := q.pop(); ok {
			handler(ev)
			continue
		}
		select {
		case ev := <-q.ticks:
			handler(ev)
			continue
		default:
		}
		return
	}
}

// Depth reports how many critical events are waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
