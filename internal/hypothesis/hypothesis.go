// Package hypothesis implements cross-source price consensus scoring
// with stabilization hysteresis (C6).
//
// Ported from core/hypothesis.py. Per SPEC_FULL.md §4, the consensus gate
// is preserved exactly as the source computes it: it requires witnesses
// whose count is >= len(Stream kinds) (4). The candidates are lob_mid,
// mark, index, last and the current trade/liquidation print, so the book
// mid plus the three ticker prices pass the gate without any trade or
// liquidation witness.
package hypothesis

import (
	"fmt"

	"marketdata-trust-engine/pkg/types"
)

// Thresholds configures the divergence gates and the stabilization
// window.
type Thresholds struct {
	WeakPriceDivergeBps    float64
	InvalidPriceDivergeBps float64
	StableMinDurationUs    int64
}

// BookSnapshotter provides a non-mutating view of top-of-book.
type BookSnapshotter interface {
	Snapshot() types.BookTop
}

// Policy tracks last-known mark/index/last prices and the current
// hypothesis state.
type Policy struct {
	cfg  Thresholds
	book BookSnapshotter

	lastMark  *float64
	lastIndex *float64
	lastLast  *float64

	state       types.HypothesisState
	stableSince *int64
}

// New returns a Policy starting in the pessimistic INVALID state.
func New(cfg Thresholds, book BookSnapshotter) *Policy {
	return &Policy{cfg: cfg, book: book, state: types.HypothesisInvalid}
}

// Verify consumes ev (updating cached ticker-derived prices as needed)
// and returns the current hypothesis state and a reason string.
func (p *Policy) Verify(ev types.Event, nowUs int64) (types.HypothesisState, string) {
	if ev.Stream == types.StreamTicker && ev.Ticker != nil {
		if ev.Ticker.MarkPrice != nil {
			v, _ := ev.Ticker.MarkPrice.Float64()
			p.lastMark = &v
		}
		if ev.Ticker.IndexPrice != nil {
			v, _ := ev.Ticker.IndexPrice.Float64()
			p.lastIndex = &v
		}
		if ev.Ticker.LastPrice != nil {
			v, _ := ev.Ticker.LastPrice.Float64()
			p.lastLast = &v
		}
	}

	witnesses := p.collectPrices(ev)

	if len(witnesses) < len(types.Streams) {
		return p.state, fmt.Sprintf("insufficient_sources=%d", len(witnesses))
	}

	worstBps, worstPair := consensus(witnesses)

	switch {
	case worstBps >= p.cfg.InvalidPriceDivergeBps:
		p.state = types.HypothesisInvalid
		p.stableSince = nil
		return p.state, fmt.Sprintf("price_diverge_bps=%.2f pair=%s", worstBps, worstPair)
	case worstBps >= p.cfg.WeakPriceDivergeBps:
		p.state = types.HypothesisWeakening
		p.stableSince = nil
		return p.state, fmt.Sprintf("price_diverge_bps=%.2f pair=%s", worstBps, worstPair)
	default:
		if p.stableSince == nil {
			now := nowUs
			p.stableSince = &now
			return p.state, "stabilizing"
		}
		elapsed := nowUs - *p.stableSince
		if elapsed < p.cfg.StableMinDurationUs {
			return p.state, "stabilizing"
		}
		p.state = types.HypothesisValid
		return p.state, fmt.Sprintf("price_diverge_bps=%.2f pair=%s", worstBps, worstPair)
	}
}

type witness struct {
	key   string
	value float64
}

func (p *Policy) collectPrices(ev types.Event) []witness {
	var out []witness
	if p.book != nil {
		top := p.book.Snapshot()
		if top.Mid != nil && *top.Mid > 0 {
			out = append(out, witness{"lob_mid", *top.Mid})
		}
	}
	if p.lastMark != nil && *p.lastMark > 0 {
		out = append(out, witness{"mark", *p.lastMark})
	}
	if p.lastIndex != nil && *p.lastIndex > 0 {
		out = append(out, witness{"index", *p.lastIndex})
	}
	if p.lastLast != nil && *p.lastLast > 0 {
		out = append(out, witness{"last", *p.lastLast})
	}
	if (ev.Stream == types.StreamTrades || ev.Stream == types.StreamLiquidations) && ev.Trade != nil && ev.Trade.Price != nil {
		v, _ := ev.Trade.Price.Float64()
		if v > 0 {
			out = append(out, witness{string(ev.Stream), v})
		}
	}
	return out
}

// consensus computes the worst pairwise divergence in basis points over
// all i<j pairs in collection order, tie-broken by first occurrence.
func consensus(witnesses []witness) (float64, string) {
	var worst float64
	var worstPair string
	for i := 0; i < len(witnesses); i++ {
		for j := i + 1; j < len(witnesses); j++ {
			pi, pj := witnesses[i], witnesses[j]
			if pj.value == 0 {
				continue
			}
			bps := absF(pi.value-pj.value) / pj.value * 10000
			if bps > worst {
				worst = bps
				worstPair = fmt.Sprintf("%s~%s", pi.key, pj.key)
			}
		}
	}
	return worst, worstPair
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
