package trust

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"marketdata-trust-engine/internal/align"
	"marketdata-trust-engine/pkg/types"
)

type fakeBook struct {
	top types.BookTop
}

func (f fakeBook) Snapshot() types.BookTop { return f.top }

func f64(v float64) *float64 { return &v }

func defaultThresholds() Thresholds {
	return Thresholds{
		WindowEvents:            20,
		QuarantineUntrustedRate: 0.5,
		LateDegradedRate:        0.2,
		LateUntrustedRate:       0.5,
		ForcedDegradedRate:      0.2,
		ForcedUntrustedRate:     0.5,
		BufferLenDegraded:       50,
		BufferLenUntrusted:      100,
		SpreadExplodeBps:        50,
		FatFingerDegradedBps:    100,
		FatFingerUntrustedBps:   500,
		TradeJumpDegradedBps:    100,
	}
}

func TestCrossedMarketUntrusted_S3(t *testing.T) {
	t.Parallel()

	book := fakeBook{top: types.BookTop{BestBid: f64(100), BestAsk: f64(99), Mid: f64(99.5)}}
	p := New(defaultThresholds(), book)

	// The crossed book is flagged on the orderbook stream; after the next
	// trade, the global verdict still carries that stream's reason.
	p.OnBatch(types.StreamOrderBook, align.Stats{Emitted: 1})
	p.OnEvent(types.StreamOrderBook, types.SanitizationAccept, types.Event{Stream: types.StreamOrderBook})

	p.OnBatch(types.StreamTrades, align.Stats{Emitted: 1})
	price := decimal.NewFromFloat(99.5)
	p.OnEvent(types.StreamTrades, types.SanitizationAccept, types.Event{
		Stream: types.StreamTrades,
		Trade:  &types.TradeData{Price: &price},
	})

	verdict, reason := p.Global()

	if verdict != types.DataTrustUntrusted {
		t.Fatalf("verdict = %v, want UNTRUSTED", verdict)
	}
	if !strings.Contains(reason, "crossed_market") {
		t.Errorf("reason = %q, want to contain crossed_market", reason)
	}
}

func TestQuarantineRateDrivesUntrusted(t *testing.T) {
	t.Parallel()

	p := New(defaultThresholds(), nil)
	for i := 0; i < 10; i++ {
		p.OnBatch(types.StreamTicker, align.Stats{Emitted: 1})
		verdict, _ := p.OnEvent(types.StreamTicker, types.SanitizationQuarantine, types.Event{Stream: types.StreamTicker})
		if i == 9 {
			if verdict != types.DataTrustUntrusted {
				t.Fatalf("verdict after sustained quarantine = %v, want UNTRUSTED", verdict)
			}
		}
	}
}

func TestGlobalReductionPrecedence(t *testing.T) {
	t.Parallel()

	p := New(defaultThresholds(), nil)
	p.OnBatch(types.StreamTrades, align.Stats{Emitted: 1})
	p.OnEvent(types.StreamTrades, types.SanitizationAccept, types.Event{Stream: types.StreamTrades})

	p.OnBatch(types.StreamTicker, align.Stats{Emitted: 1})
	for i := 0; i < 10; i++ {
		p.OnEvent(types.StreamTicker, types.SanitizationQuarantine, types.Event{Stream: types.StreamTicker})
	}

	verdict, reason := p.Global()
	if verdict != types.DataTrustUntrusted {
		t.Fatalf("global verdict = %v, want UNTRUSTED", verdict)
	}
	if !strings.Contains(reason, "ticker:") {
		t.Errorf("reason = %q, want to reference ticker stream", reason)
	}
}

func TestOutOfOrderTsDegrades(t *testing.T) {
	t.Parallel()

	p := New(defaultThresholds(), nil)
	t1 := int64(1000)
	t2 := int64(500)

	p.OnBatch(types.StreamTrades, align.Stats{Emitted: 1})
	p.OnEvent(types.StreamTrades, types.SanitizationAccept, types.Event{Stream: types.StreamTrades, EventTs: &t1})

	p.OnBatch(types.StreamTrades, align.Stats{Emitted: 1})
	verdict, reason := p.OnEvent(types.StreamTrades, types.SanitizationAccept, types.Event{Stream: types.StreamTrades, EventTs: &t2})

	if verdict != types.DataTrustDegraded {
		t.Fatalf("verdict = %v, want DEGRADED", verdict)
	}
	if !strings.Contains(reason, "out_of_order_ts") {
		t.Errorf("reason = %q, want out_of_order_ts", reason)
	}
}
