package orderbook

import (
	"time"

	"marketdata-trust-engine/pkg/types"
)

// Replayer applies ORDERBOOK events to a Book, tracking whether the book
// is currently mid-snapshot-phase. Grounded on orderbook/replayer.py: the
// first snapshot row clears the book and opens the phase; subsequent
// snapshot rows keep adding to it; the first delta closes the phase; a
// snapshot row arriving after deltas restarts the phase (clear + rebuild).
type Replayer struct {
	Book *Book

	snapshotActive bool
}

// NewReplayer returns a replayer backed by a fresh book with the given
// depth limit.
func NewReplayer(depthLimit int) *Replayer {
	return &Replayer{Book: New(depthLimit)}
}

// OnEvent applies an ORDERBOOK event. Non-orderbook events are ignored.
// Events with an invalid side or non-numeric price/amount are silently
// dropped — the sanitizer is expected to have already quarantined them.
func (r *Replayer) OnEvent(ev types.Event, now time.Time) {
	if ev.Stream != types.StreamOrderBook || ev.OrderBook == nil {
		return
	}
	data := ev.OrderBook
	if data.Side != "bid" && data.Side != "ask" {
		return
	}
	if data.Price == nil || data.Amount == nil {
		return
	}
	price, _ := data.Price.Float64()
	amount, _ := data.Amount.Float64()

	isSnapshot := data.IsSnapshot != nil && *data.IsSnapshot
	if isSnapshot {
		if !r.snapshotActive {
			r.Book.Clear()
			r.snapshotActive = true
		}
		r.Book.ApplySnapshot(data.Side, price, amount, now, ev.EventTs)
	} else {
		r.snapshotActive = false
		r.Book.ApplyDelta(data.Side, price, amount, now, ev.EventTs)
	}
}

// Snapshot returns the current top-of-book. Safe to call concurrently
// with OnEvent as long as both are serialized by the engine's lock, or
// called from a context holding the same lock — Book.Top is itself
// RWMutex-guarded so no additional synchronization is required here.
func (r *Replayer) Snapshot() types.BookTop {
	return r.Book.Top()
}
