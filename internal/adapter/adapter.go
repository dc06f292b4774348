// Package adapter defines the pull-style event source contract (C10)
// shared by the historical and live adapters.
package adapter

import (
	"context"

	"marketdata-trust-engine/pkg/types"
)

// Adapter is a source of market-data events. StreamEvents returns a
// channel of events and a channel that carries at most one terminal
// error; both channels close when the source is exhausted or ctx is
// canceled. Close is idempotent. The live adapter's Close also cancels an
// in-flight StreamEvents iteration; the historical adapter's Close does
// nothing, and its iteration ends only when ctx is canceled or the
// recordings are exhausted.
type Adapter interface {
	StreamEvents(ctx context.Context) (<-chan types.Event, <-chan error)
	Close() error
}
