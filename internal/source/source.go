// Package source contains the feed adapters that produce raw wire
// frames. Adapters only read and emit; all interpretation happens in
// the normalizer on the other side of the queue.
package source

import (
	"context"

	"tally/internal/wire"
)

// Emit hands one raw frame to the ingestion side of the bridge. It
// must be cheap and non-blocking for the caller.
type Emit func(wire.RawMessage)

// Source is a runnable feed adapter.
type Source interface {
	Name() string
	// Run blocks until the context is cancelled or the source fails
	// permanently. Transient failures reconnect internally.
	Run(ctx context.Context, emit Emit) error
}
