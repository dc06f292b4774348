// Package align implements the watermark-based time aligner (C3): a
// bounded-lateness reorder buffer over a min-heap keyed on event_ts.
//
// Ported from core/time_alignment.py; the heap is built on container/heap
// since the reference pack has no third-party priority-queue library (see
// DESIGN.md).
package align

import (
	"container/heap"

	"marketdata-trust-engine/pkg/types"
)

// Stats describes the outcome of a single Align call.
type Stats struct {
	Pushed      int
	Emitted     int
	Late        int
	ForcedFlush bool
	BufferLen   int
}

type heapItem struct {
	eventTs int64
	tie     int64
	ev      types.Event
}

type eventHeap []heapItem

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].eventTs != h[j].eventTs {
		return h[i].eventTs < h[j].eventTs
	}
	return h[i].tie < h[j].tie
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Aligner reorders events within a configured lateness budget and emits
// them in non-decreasing event_ts order, forcing a flush if buffering
// would otherwise grow unbounded.
type Aligner struct {
	allowedLatenessUs int64
	maxBufferUs       int64

	heap          eventHeap
	tie           int64
	lastEventTs   *int64
	prevWatermark int64
	haveWatermark bool
}

// New returns an Aligner with the given lateness and buffer budgets, in
// microseconds.
func New(allowedLatenessUs, maxBufferUs int64) *Aligner {
	return &Aligner{
		allowedLatenessUs: allowedLatenessUs,
		maxBufferUs:       maxBufferUs,
	}
}

// Align implements the 7-step contract from spec.md §4.3.
func (a *Aligner) Align(ev types.Event) ([]types.Event, Stats) {
	if ev.EventTs == nil {
		return []types.Event{ev}, Stats{Pushed: 0, Emitted: 1}
	}

	eventTs := *ev.EventTs

	if a.lastEventTs == nil || eventTs > *a.lastEventTs {
		a.lastEventTs = &eventTs
	}

	var late int
	if a.haveWatermark && eventTs < a.prevWatermark {
		late = 1
	}

	heap.Push(&a.heap, heapItem{eventTs: eventTs, tie: a.tie, ev: ev})
	a.tie++

	watermark := *a.lastEventTs - a.allowedLatenessUs
	forcedFlush := false

	if len(a.heap) > 0 {
		oldestTs := a.heap[0].eventTs
		if (watermark - oldestTs) > a.maxBufferUs {
			watermark = oldestTs + a.maxBufferUs
			forcedFlush = true
		}
	}

	var emitted []types.Event
	for len(a.heap) > 0 && a.heap[0].eventTs <= watermark {
		item := heap.Pop(&a.heap).(heapItem)
		emitted = append(emitted, item.ev)
	}

	a.prevWatermark = watermark
	a.haveWatermark = true

	return emitted, Stats{
		Pushed:      1,
		Emitted:     len(emitted),
		Late:        late,
		ForcedFlush: forcedFlush,
		BufferLen:   len(a.heap),
	}
}
