package orderbook

import (
	"testing"
	"time"
)

func TestApplySnapshotAndTop(t *testing.T) {
	t.Parallel()

	b := New(10)
	now := time.Now()
	b.ApplySnapshot("bid", 100.0, 1.5, now, nil)
	b.ApplySnapshot("ask", 101.0, 2.0, now, nil)

	top := b.Top()
	if top.BestBid == nil || *top.BestBid != 100.0 {
		t.Fatalf("BestBid = %v, want 100.0", top.BestBid)
	}
	if top.BestAsk == nil || *top.BestAsk != 101.0 {
		t.Fatalf("BestAsk = %v, want 101.0", top.BestAsk)
	}
	if top.Mid == nil || *top.Mid != 100.5 {
		t.Fatalf("Mid = %v, want 100.5", top.Mid)
	}
	if top.Spread == nil || *top.Spread != 1.0 {
		t.Fatalf("Spread = %v, want 1.0", top.Spread)
	}
}

func TestApplyDeltaRemovesZeroAmount(t *testing.T) {
	t.Parallel()

	b := New(10)
	now := time.Now()
	b.ApplyDelta("bid", 100.0, 1.0, now, nil)
	b.ApplyDelta("bid", 100.0, 0, now, nil)

	top := b.Top()
	if top.BestBid != nil {
		t.Fatalf("BestBid = %v, want nil after zero-amount delta", *top.BestBid)
	}
}

func TestTrimDropsLowestBidsHighestAsks(t *testing.T) {
	t.Parallel()

	b := New(2)
	now := time.Now()
	b.ApplySnapshot("bid", 100.0, 1, now, nil)
	b.ApplySnapshot("bid", 99.0, 1, now, nil)
	b.ApplySnapshot("bid", 98.0, 1, now, nil) // should drop 98.0 (lowest)

	b.ApplySnapshot("ask", 101.0, 1, now, nil)
	b.ApplySnapshot("ask", 102.0, 1, now, nil)
	b.ApplySnapshot("ask", 103.0, 1, now, nil) // should drop 103.0 (highest)

	if len(b.bids) != 2 {
		t.Fatalf("len(bids) = %d, want 2", len(b.bids))
	}
	if _, ok := b.bids[98.0]; ok {
		t.Error("lowest bid 98.0 should have been trimmed")
	}
	if len(b.asks) != 2 {
		t.Fatalf("len(asks) = %d, want 2", len(b.asks))
	}
	if _, ok := b.asks[103.0]; ok {
		t.Error("highest ask 103.0 should have been trimmed")
	}
}

func TestTopEmptyBookIsNil(t *testing.T) {
	t.Parallel()

	b := New(10)
	top := b.Top()
	if top.BestBid != nil || top.BestAsk != nil || top.Mid != nil || top.Spread != nil {
		t.Error("empty book should have all-nil top")
	}
}

func TestCrossedMarketIsObservable(t *testing.T) {
	t.Parallel()

	b := New(10)
	now := time.Now()
	b.ApplySnapshot("bid", 100.0, 1, now, nil)
	b.ApplySnapshot("ask", 99.0, 1, now, nil)

	top := b.Top()
	if !(*top.BestBid >= *top.BestAsk) {
		t.Fatal("expected crossed market (bid >= ask) to be retained, not corrected")
	}
}
