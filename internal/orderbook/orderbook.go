// Package orderbook implements the price-ladder book (C1) and the
// snapshot/delta replayer that feeds it from the event stream (C2).
//
// Grounded on the teacher's internal/market/book.go RWMutex-guarded
// accessor pattern; the write/trim/top algorithms follow
// orderbook/orderbook.py from the reference Python implementation.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"marketdata-trust-engine/pkg/types"
)

// Book holds two price→amount ladders and supports depth-limited
// snapshot/delta application plus top-of-book queries. All methods are
// safe for concurrent use; the ingest path is the only mutator.
type Book struct {
	mu sync.RWMutex

	depthLimit int
	bids       map[float64]float64
	asks       map[float64]float64

	lastUpdate  time.Time
	lastEventTs *int64
}

// New returns an empty book with the given per-side depth limit. A
// depthLimit <= 0 disables trimming.
func New(depthLimit int) *Book {
	return &Book{
		depthLimit: depthLimit,
		bids:       make(map[float64]float64),
		asks:       make(map[float64]float64),
	}
}

// ApplySnapshot unconditionally writes amount at price on the given side.
func (b *Book) ApplySnapshot(side string, price, amount float64, now time.Time, eventTs *int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if side == "bid" {
		b.bids[price] = amount
	} else {
		b.asks[price] = amount
	}
	b.trimLocked()
	b.lastUpdate = now
	if eventTs != nil {
		b.lastEventTs = eventTs
	}
}

// ApplyDelta removes the level if amount <= 0, otherwise writes it.
func (b *Book) ApplyDelta(side string, price, amount float64, now time.Time, eventTs *int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ladder := b.bids
	if side != "bid" {
		ladder = b.asks
	}
	if amount <= 0 {
		delete(ladder, price)
	} else {
		ladder[price] = amount
	}
	b.trimLocked()
	b.lastUpdate = now
	if eventTs != nil {
		b.lastEventTs = eventTs
	}
}

// Clear empties both ladders, used when a new snapshot phase begins.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
}

// trimLocked drops the lowest bids / highest asks once a side exceeds the
// configured depth limit. Caller must hold b.mu.
func (b *Book) trimLocked() {
	if b.depthLimit <= 0 {
		return
	}
	if over := len(b.bids) - b.depthLimit; over > 0 {
		prices := make([]float64, 0, len(b.bids))
		for p := range b.bids {
			prices = append(prices, p)
		}
		sort.Float64s(prices) // ascending: lowest first
		for _, p := range prices[:over] {
			delete(b.bids, p)
		}
	}
	if over := len(b.asks) - b.depthLimit; over > 0 {
		prices := make([]float64, 0, len(b.asks))
		for p := range b.asks {
			prices = append(prices, p)
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(prices))) // descending: highest first
		for _, p := range prices[:over] {
			delete(b.asks, p)
		}
	}
}

// Top scans both ladders for best bid / best ask and derives mid/spread.
// BestBid and BestAsk are nil while their side is empty; Mid and Spread
// are nil until both sides hold at least one level. Crossing
// (best bid >= best ask) is not corrected here — it is an observable
// condition the trust layer reports on.
func (b *Book) Top() types.BookTop {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bb, bbOK := bestPrice(b.bids, true)
	ba, baOK := bestPrice(b.asks, false)

	top := types.BookTop{}
	if bbOK {
		top.BestBid = &bb
	}
	if baOK {
		top.BestAsk = &ba
	}
	if bbOK && baOK {
		mid := (bb + ba) / 2.0
		spread := ba - bb
		top.Mid = &mid
		top.Spread = &spread
	}
	return top
}

// LastEventTs returns the event_ts of the most recent applied update, if
// any update carried one.
func (b *Book) LastEventTs() *int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastEventTs
}

func bestPrice(levels map[float64]float64, wantMax bool) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	first := true
	var best float64
	for p := range levels {
		if first || (wantMax && p > best) || (!wantMax && p < best) {
			best = p
			first = false
		}
	}
	return best, true
}
