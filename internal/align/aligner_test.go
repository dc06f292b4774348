package align

import (
	"testing"

	"marketdata-trust-engine/pkg/types"
)

func evAt(ts int64) types.Event {
	t := ts
	return types.Event{EventTs: &t}
}

func TestWatermarkEmission_S1(t *testing.T) {
	t.Parallel()

	a := New(100_000, 1_000_000)

	_, s1 := a.Align(evAt(1_000_000))
	if s1.Emitted != 0 {
		t.Fatalf("push1 emitted = %d, want 0", s1.Emitted)
	}

	emitted2, s2 := a.Align(evAt(900_000))
	if len(emitted2) != 1 || *emitted2[0].EventTs != 900_000 {
		t.Fatalf("push2 emitted = %v, want [900000]", emitted2)
	}
	_ = s2

	emitted3, _ := a.Align(evAt(1_200_000))
	if len(emitted3) != 1 || *emitted3[0].EventTs != 1_000_000 {
		t.Fatalf("push3 emitted = %v, want [1000000]", emitted3)
	}
}

func TestForcedFlush_S2(t *testing.T) {
	t.Parallel()

	a := New(100_000, 1_000_000)

	a.Align(evAt(1_000_000))
	emitted, stats := a.Align(evAt(3_000_000))

	if !stats.ForcedFlush {
		t.Error("expected ForcedFlush = true")
	}
	if len(emitted) != 1 || *emitted[0].EventTs != 1_000_000 {
		t.Fatalf("emitted = %v, want [1000000]", emitted)
	}
	if stats.BufferLen != 1 {
		t.Errorf("BufferLen = %d, want 1 (3000000 still buffered)", stats.BufferLen)
	}
}

func TestNullEventTsPassesThroughImmediately(t *testing.T) {
	t.Parallel()

	a := New(100_000, 1_000_000)
	emitted, stats := a.Align(types.Event{EventTs: nil})

	if len(emitted) != 1 {
		t.Fatalf("expected immediate pass-through, got %d emitted", len(emitted))
	}
	if stats.Emitted != 1 {
		t.Errorf("stats.Emitted = %d, want 1", stats.Emitted)
	}
}

func TestMonotonicNonDecreasingOrder(t *testing.T) {
	t.Parallel()

	a := New(50_000, 500_000)
	var allEmitted []types.Event
	pushes := []int64{100, 300, 200, 150, 900, 250, 1_000_000}
	for _, ts := range pushes {
		e, _ := a.Align(evAt(ts))
		allEmitted = append(allEmitted, e...)
	}

	for i := 1; i < len(allEmitted); i++ {
		if *allEmitted[i].EventTs < *allEmitted[i-1].EventTs {
			t.Fatalf("non-decreasing order violated at %d: %d < %d", i, *allEmitted[i].EventTs, *allEmitted[i-1].EventTs)
		}
	}
}
