// Package quote defines the market-data feed contract consumed by the
// stream manager. Implementations bridge one live vendor session; session
// lifecycle (restart, backoff, symbol reload) is owned by the caller.
package quote

import (
	"context"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
)

// Handler receives callbacks from a feed session. Callbacks are invoked
// from the session's read goroutine and must not block.
type Handler interface {
	// OnTick delivers one raw tick. Normalization is the caller's job.
	OnTick(tick marketdata.Tick)

	// OnError reports a recoverable session error. The session keeps
	// running.
	OnError(err error)

	// OnDisconnect reports session death. No further callbacks follow
	// until a new session is connected.
	OnDisconnect(err error)
}

// Feed is one subscription session to the external market-data vendor.
// A Feed is single-use: after Close or a disconnect it cannot be reused,
// the caller creates a fresh one.
type Feed interface {
	// Connect dials and authenticates the session.
	Connect(ctx context.Context) error

	// Subscribe adds symbols to the live subscription. On error the
	// previously subscribed set is left intact.
	Subscribe(symbols []string) error

	// Unsubscribe removes symbols from the live subscription. On error
	// the previously subscribed set is left intact.
	Unsubscribe(symbols []string) error

	// Subscribed returns the currently subscribed symbols.
	Subscribed() []string

	// Close tears the session down. Idempotent.
	Close() error
}

// Factory creates a fresh session wired to the given handler.
type Factory func(h Handler) Feed
