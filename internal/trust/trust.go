// Package trust implements the rolling-window data-trust policy (C5):
// per-stream quarantine/late/forced/buffer rate scoring plus order-book
// and trade anomaly checks, reduced to a single global verdict.
//
// Ported from core/data_trust.py. This port additionally wires up
// out-of-order and duplicate-event-id detection, which the Python source
// computed but never updated (see SPEC_FULL.md §4 resolved open
// questions).
package trust

import (
	"fmt"
	"strings"

	"marketdata-trust-engine/internal/align"
	"marketdata-trust-engine/pkg/types"
)

// Thresholds holds the degraded/untrusted rate pairs for the four rolling
// axes, plus the order-book and trade anomaly thresholds.
type Thresholds struct {
	WindowEvents int

	QuarantineUntrustedRate float64

	LateDegradedRate   float64
	LateUntrustedRate  float64
	ForcedDegradedRate float64
	ForcedUntrustedRate float64

	BufferLenDegraded  int
	BufferLenUntrusted int

	SpreadExplodeBps float64

	FatFingerDegradedBps  float64
	FatFingerUntrustedBps float64

	TradeJumpDegradedBps float64
}

// BookSnapshotter provides a non-mutating view of top-of-book, used for
// the crossed-market/spread/fat-finger checks.
type BookSnapshotter interface {
	Snapshot() types.BookTop
}

type alignWindow struct {
	emitted []int
	late    []int
	forced  []int
	buffer  []int

	emittedSum int
	lateSum    int
	forcedSum  int
	lastBuffer int
}

func (w *alignWindow) push(cap int, emitted, late int, forced bool, bufLen int) {
	f := 0
	if forced {
		f = 1
	}
	w.emitted = append(w.emitted, emitted)
	w.late = append(w.late, late)
	w.forced = append(w.forced, f)
	w.buffer = append(w.buffer, bufLen)
	w.emittedSum += emitted
	w.lateSum += late
	w.forcedSum += f
	w.lastBuffer = bufLen

	for len(w.emitted) > cap {
		w.emittedSum -= w.emitted[0]
		w.lateSum -= w.late[0]
		w.forcedSum -= w.forced[0]
		w.emitted = w.emitted[1:]
		w.late = w.late[1:]
		w.forced = w.forced[1:]
		w.buffer = w.buffer[1:]
	}
}

type sanWindow struct {
	flags []int
	sum   int
}

func (w *sanWindow) push(cap int, quarantined bool) {
	v := 0
	if quarantined {
		v = 1
	}
	w.flags = append(w.flags, v)
	w.sum += v
	for len(w.flags) > cap {
		w.sum -= w.flags[0]
		w.flags = w.flags[1:]
	}
}

type streamState struct {
	align alignWindow
	san   sanWindow

	lastTradePrice *float64
	lastEventTs    *int64
	lastEventID    *string

	verdict types.DataTrustState
	reason  string
}

// Policy is the global data-trust reducer across all four streams.
type Policy struct {
	cfg   Thresholds
	book  BookSnapshotter
	state map[types.Stream]*streamState
}

// New returns a Policy with fresh per-stream windows. book is consulted
// for the crossed-market / fat-finger checks; it may be nil if the
// orderbook stream is not in use (the checks are then skipped).
func New(cfg Thresholds, book BookSnapshotter) *Policy {
	p := &Policy{cfg: cfg, book: book, state: make(map[types.Stream]*streamState)}
	for _, s := range types.Streams {
		p.state[s] = &streamState{verdict: types.DataTrustDegraded}
	}
	return p
}

func (p *Policy) streamState(s types.Stream) *streamState {
	st, ok := p.state[s]
	if !ok {
		st = &streamState{verdict: types.DataTrustDegraded}
		p.state[s] = st
	}
	return st
}

// OnBatch records the alignment stats for a batch emitted for stream s.
func (p *Policy) OnBatch(s types.Stream, stats align.Stats) {
	st := p.streamState(s)
	st.align.push(p.cfg.WindowEvents, stats.Emitted, stats.Late, stats.ForcedFlush, stats.BufferLen)
}

// OnEvent records the sanitization flag for ev and recomputes stream s's
// verdict, returning (verdict, reason).
func (p *Policy) OnEvent(s types.Stream, san types.SanitizationState, ev types.Event) (types.DataTrustState, string) {
	st := p.streamState(s)
	st.san.push(p.cfg.WindowEvents, san == types.SanitizationQuarantine)

	var untrusted, degraded []string

	qRate := 0.0
	if n := len(st.san.flags); n > 0 {
		qRate = float64(st.san.sum) / float64(n)
	}
	lateRate := float64(st.align.lateSum) / float64(maxInt(1, st.align.emittedSum))
	forcedRate := float64(st.align.forcedSum) / float64(maxInt(1, st.align.emittedSum))
	buf := st.align.lastBuffer

	if qRate >= p.cfg.QuarantineUntrustedRate {
		untrusted = append(untrusted, fmt.Sprintf("quarantine_rate=%.4f", qRate))
	}
	if lateRate >= p.cfg.LateUntrustedRate {
		untrusted = append(untrusted, fmt.Sprintf("late_rate=%.4f", lateRate))
	}
	if forcedRate >= p.cfg.ForcedUntrustedRate {
		untrusted = append(untrusted, fmt.Sprintf("forced_rate=%.4f", forcedRate))
	}
	if buf >= p.cfg.BufferLenUntrusted {
		untrusted = append(untrusted, fmt.Sprintf("buffer_len=%d", buf))
	}

	if san == types.SanitizationQuarantine {
		degraded = append(degraded, "sanitization_quarantine")
	}
	if lateRate >= p.cfg.LateDegradedRate {
		degraded = append(degraded, fmt.Sprintf("late_rate=%.4f", lateRate))
	}
	if forcedRate >= p.cfg.ForcedDegradedRate {
		degraded = append(degraded, fmt.Sprintf("forced_rate=%.4f", forcedRate))
	}
	if buf >= p.cfg.BufferLenDegraded {
		degraded = append(degraded, fmt.Sprintf("buffer_len=%d", buf))
	}

	// Out-of-order / duplicate-event-id detection (wired, unlike the
	// Python source — see package doc comment).
	if ev.EventTs != nil {
		if st.lastEventTs != nil && *ev.EventTs < *st.lastEventTs {
			degraded = append(degraded, "out_of_order_ts")
		}
		ts := *ev.EventTs
		st.lastEventTs = &ts
	}
	if ev.EventID != nil {
		if st.lastEventID != nil && *ev.EventID == *st.lastEventID {
			degraded = append(degraded, "duplicate_event_id")
		}
		id := *ev.EventID
		st.lastEventID = &id
	}

	if s == types.StreamOrderBook && p.book != nil {
		top := p.book.Snapshot()
		if top.BestBid != nil && top.BestAsk != nil {
			if *top.BestBid >= *top.BestAsk {
				untrusted = append(untrusted, "crossed_market")
			}
			if top.Mid != nil && *top.Mid != 0 {
				spreadBps := (*top.BestAsk - *top.BestBid) / *top.Mid * 10000
				if spreadBps > p.cfg.SpreadExplodeBps {
					degraded = append(degraded, fmt.Sprintf("spread_explode_bps=%.2f", spreadBps))
				}
			}
		}
	}

	if s == types.StreamTrades && ev.Trade != nil && ev.Trade.Price != nil && p.book != nil {
		top := p.book.Snapshot()
		price, _ := ev.Trade.Price.Float64()
		if top.Mid != nil && *top.Mid != 0 {
			diffBps := absF(price-*top.Mid) / *top.Mid * 10000
			if diffBps >= p.cfg.FatFingerUntrustedBps {
				untrusted = append(untrusted, fmt.Sprintf("fat_finger_bps=%.2f", diffBps))
			} else if diffBps >= p.cfg.FatFingerDegradedBps {
				degraded = append(degraded, fmt.Sprintf("fat_finger_bps=%.2f", diffBps))
			}
		}
		if st.lastTradePrice != nil && *st.lastTradePrice > 0 {
			jumpBps := absF(price-*st.lastTradePrice) / *st.lastTradePrice * 10000
			if jumpBps >= p.cfg.TradeJumpDegradedBps {
				degraded = append(degraded, fmt.Sprintf("trade_jump_bps=%.2f", jumpBps))
			}
		}
		st.lastTradePrice = &price
	}

	switch {
	case len(untrusted) > 0:
		st.verdict = types.DataTrustUntrusted
		st.reason = strings.Join(untrusted, ",")
	case len(degraded) > 0:
		st.verdict = types.DataTrustDegraded
		st.reason = strings.Join(degraded, ",")
	default:
		st.verdict = types.DataTrustTrusted
		st.reason = ""
	}

	return st.verdict, st.reason
}

// Global reduces all four per-stream verdicts to one: any UNTRUSTED wins,
// else any DEGRADED, else TRUSTED. Streams that have not been evaluated
// by OnEvent yet (no reason recorded) are skipped. Reasons are joined as
// "stream:reason" pairs.
func (p *Policy) Global() (types.DataTrustState, string) {
	var untrustedReasons, degradedReasons []string
	for _, s := range types.Streams {
		st := p.state[s]
		if st == nil || st.reason == "" {
			continue
		}
		switch st.verdict {
		case types.DataTrustUntrusted:
			untrustedReasons = append(untrustedReasons, fmt.Sprintf("%s:%s", s, st.reason))
		case types.DataTrustDegraded:
			degradedReasons = append(degradedReasons, fmt.Sprintf("%s:%s", s, st.reason))
		}
	}
	if len(untrustedReasons) > 0 {
		return types.DataTrustUntrusted, strings.Join(untrustedReasons, ", ")
	}
	if len(degradedReasons) > 0 {
		return types.DataTrustDegraded, strings.Join(degradedReasons, ", ")
	}
	return types.DataTrustTrusted, ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
