package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"marketdata-trust-engine/internal/hypothesis"
	"marketdata-trust-engine/internal/sanitize"
	"marketdata-trust-engine/internal/stats"
	"marketdata-trust-engine/internal/trust"
	"marketdata-trust-engine/pkg/types"
)

type fakeWriter struct {
	mu          sync.Mutex
	transitions []StateTransitionRecord
	decisions   []DecisionRecord
	summary     *stats.Summary
}

func (w *fakeWriter) WriteStateTransition(rec StateTransitionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transitions = append(w.transitions, rec)
	return nil
}
func (w *fakeWriter) WriteDecision(rec DecisionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.decisions = append(w.decisions, rec)
	return nil
}
func (w *fakeWriter) WriteSummary(s stats.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summary = &s
	return nil
}

func testConfig() Config {
	return Config{
		AllowedLatenessUs: 100_000,
		MaxBufferUs:       1_000_000,
		DepthLimit:        50,
		Sanitize:          sanitize.Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"},
		Trust: trust.Thresholds{
			WindowEvents:            20,
			QuarantineUntrustedRate: 0.5,
			LateDegradedRate:        0.3,
			LateUntrustedRate:       0.6,
			ForcedDegradedRate:      0.3,
			ForcedUntrustedRate:     0.6,
			BufferLenDegraded:       50,
			BufferLenUntrusted:      100,
			SpreadExplodeBps:        50,
			FatFingerDegradedBps:    100,
			FatFingerUntrustedBps:   500,
			TradeJumpDegradedBps:    200,
		},
		Hypothesis: hypothesis.Thresholds{
			WeakPriceDivergeBps:    10,
			InvalidPriceDivergeBps: 50,
			StableMinDurationUs:    1_000_000,
		},
		StallThresholds: StallThresholds{
			types.StreamTrades:       5_000_000,
			types.StreamOrderBook:    5_000_000,
			types.StreamLiquidations: 5_000_000,
			types.StreamTicker:       5_000_000,
		},
	}
}

func dptr(f float64) *decimal.Decimal { d := decimal.NewFromFloat(f); return &d }
func sptr(s string) *string           { return &s }
func i64p(v int64) *int64             { return &v }

// tsSeq hands out strictly increasing, widely-spaced event timestamps so
// the time aligner flushes every pushed event on the very next push
// (delta >> allowed_lateness_us used in testConfig).
type tsSeq struct{ n int64 }

func (s *tsSeq) next() int64 {
	return atomic.AddInt64(&s.n, 1_000_000)
}

func obEvent(ts int64, side string, price, amount float64, snapshot bool) types.Event {
	snap := snapshot
	return types.Event{
		Stream:   types.StreamOrderBook,
		Exchange: sptr("binance-futures"),
		Symbol:   sptr("btcusdt"),
		EventTs:  i64p(ts),
		OrderBook: &types.OrderBookData{
			IsSnapshot: &snap,
			Side:       side,
			Price:      dptr(price),
			Amount:     dptr(amount),
		},
	}
}

func tradeEvent(ts int64, price float64) types.Event {
	return types.Event{
		Stream:   types.StreamTrades,
		Exchange: sptr("binance-futures"),
		Symbol:   sptr("btcusdt"),
		EventTs:  i64p(ts),
		Trade:    &types.TradeData{Side: "buy", Price: dptr(price), Amount: dptr(1)},
	}
}

func TestCrossedMarketHalts_S3(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	e := New(testConfig(), w, nil)
	seq := &tsSeq{}

	e.Ingest(obEvent(seq.next(), "bid", 100, 1, true))
	e.Ingest(obEvent(seq.next(), "ask", 99, 1, true)) // crossed: bid >= ask
	e.Ingest(tradeEvent(seq.next(), 99.5))
	e.Ingest(tradeEvent(seq.next(), 99.5)) // one more push to flush the prior buffered event

	if e.state.DataTrust != types.DataTrustUntrusted {
		t.Fatalf("DataTrust = %v, want UNTRUSTED", e.state.DataTrust)
	}
	if e.state.Decision != types.DecisionHalted {
		t.Fatalf("Decision = %v, want HALTED", e.state.Decision)
	}
}

func TestOrderbookQuarantineNeverMutatesBook(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	e := New(testConfig(), w, nil)
	seq := &tsSeq{}

	bad := types.Event{
		Stream:    types.StreamOrderBook,
		Exchange:  sptr("binance-futures"),
		Symbol:    sptr("btcusdt"),
		EventTs:   i64p(seq.next()),
		OrderBook: &types.OrderBookData{IsSnapshot: nil, Side: "bid", Price: dptr(100), Amount: dptr(1)},
	}
	e.Ingest(bad)
	e.Ingest(tradeEvent(seq.next(), 100)) // flush

	top := e.replayer.Snapshot()
	if top.BestBid != nil {
		t.Error("quarantined orderbook event should never mutate the book")
	}
}

func TestStallTick_S6(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	e := New(testConfig(), w, nil)
	seq := &tsSeq{}

	e.Ingest(tradeEvent(seq.next(), 100))
	e.Ingest(obEvent(seq.next(), "bid", 100, 1, true))
	liq := tradeEvent(seq.next(), 100)
	liq.Stream = types.StreamLiquidations
	e.Ingest(liq)
	tick := types.Event{
		Stream:   types.StreamTicker,
		Exchange: sptr("binance-futures"),
		Symbol:   sptr("btcusdt"),
		EventTs:  i64p(seq.next()),
		Ticker: &types.TickerData{
			FundingTimestamp: i64p(1), FundingRate: dptr(0.0001), OpenInterest: dptr(100),
			LastPrice: dptr(100), IndexPrice: dptr(100), MarkPrice: dptr(100),
		},
	}
	e.Ingest(tick)
	e.Ingest(tradeEvent(seq.next(), 100)) // flush trailing buffered event

	// Force trades stream to look stale by rewriting its last-ingest time.
	e.mu.Lock()
	e.lastIngestByStream[types.StreamTrades] = nowUs() - 10_000_000
	e.mu.Unlock()

	e.Tick(nowUs())

	if e.state.DataTrust != types.DataTrustDegraded {
		t.Errorf("DataTrust = %v, want DEGRADED after stall", e.state.DataTrust)
	}
	if e.state.Hypothesis != types.HypothesisWeakening {
		t.Errorf("Hypothesis = %v, want WEAKENING after stall", e.state.Hypothesis)
	}
	if e.state.Decision != types.DecisionRestricted && e.state.Decision != types.DecisionHalted {
		t.Errorf("Decision = %v, want RESTRICTED or HALTED after stall", e.state.Decision)
	}
}

func TestTotalEventsInvariant(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	e := New(testConfig(), w, nil)
	seq := &tsSeq{}

	for i := 0; i < 6; i++ {
		e.Ingest(tradeEvent(seq.next(), 100))
	}

	summary := e.stats.Finalize(nowUs())
	var sum int64
	for _, v := range summary.EventsByState.Decision {
		sum += v
	}
	if sum != summary.TotalEvents {
		t.Errorf("sum(events_by_state.decision) = %d, want total_events = %d", sum, summary.TotalEvents)
	}
}

func TestShutdownEmitsFinalDecisionAndSummary(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	e := New(testConfig(), w, nil)
	seq := &tsSeq{}
	e.Ingest(tradeEvent(seq.next(), 100))
	e.Ingest(tradeEvent(seq.next(), 100))

	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if w.summary == nil {
		t.Fatal("expected summary to be written")
	}
	if len(w.decisions) == 0 {
		t.Fatal("expected at least one decision record")
	}
}
