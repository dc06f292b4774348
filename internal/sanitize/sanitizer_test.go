package sanitize

import (
	"testing"

	"github.com/shopspring/decimal"
	"marketdata-trust-engine/pkg/types"
)

func dptr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func i64ptr(v int64) *int64 { return &v }

func fullTicker() *types.TickerData {
	return &types.TickerData{
		FundingTimestamp: i64ptr(1000),
		FundingRate:      dptr(0.0001),
		OpenInterest:     dptr(500),
		LastPrice:        dptr(100),
		IndexPrice:       dptr(100.1),
		MarkPrice:        dptr(100.2),
	}
}

func baseEvent(stream types.Stream) types.Event {
	exch := "binance-futures"
	sym := "btcusdt"
	return types.Event{Stream: stream, Exchange: &exch, Symbol: &sym}
}

func TestTickerRepairScenario_S4(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})

	// First event: all six required fields present (predicted_funding_rate omitted, which is fine) -> ACCEPT
	ev1 := baseEvent(types.StreamTicker)
	ev1.Ticker = fullTicker()
	state1, _, _ := s.Sanitize(ev1)
	if state1 != types.SanitizationAccept {
		t.Fatalf("event1 state = %v, want ACCEPT", state1)
	}

	// Second event: drops open_interest -> REPAIR from cache
	ev2 := baseEvent(types.StreamTicker)
	ev2.Ticker = fullTicker()
	ev2.Ticker.OpenInterest = nil
	state2, fixed2, reason2 := s.Sanitize(ev2)
	if state2 != types.SanitizationRepair {
		t.Fatalf("event2 state = %v, want REPAIR", state2)
	}
	if reason2 != "repair_ticker_merge_cache" {
		t.Errorf("event2 reason = %q, want repair_ticker_merge_cache", reason2)
	}
	if fixed2.Ticker.OpenInterest == nil {
		t.Error("event2 open_interest should have been filled from cache")
	}
}

func TestTickerQuarantineWhenFieldNeverCached(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})

	ev := baseEvent(types.StreamTicker)
	tk := fullTicker()
	tk.IndexPrice = nil
	ev.Ticker = tk

	state, _, reason := s.Sanitize(ev)
	if state != types.SanitizationQuarantine {
		t.Fatalf("state = %v, want QUARANTINE", state)
	}
	if reason != "ticker_missing_fields:index_price" {
		t.Errorf("reason = %q, want ticker_missing_fields:index_price", reason)
	}
}

func TestTradeMissingFieldsQuarantined(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})
	ev := baseEvent(types.StreamTrades)
	ev.Trade = &types.TradeData{Side: "buy"} // missing price/amount

	state, _, reason := s.Sanitize(ev)
	if state != types.SanitizationQuarantine || reason != "trade_missing_fields" {
		t.Fatalf("got (%v, %q), want (QUARANTINE, trade_missing_fields)", state, reason)
	}
}

func TestOrderBookInvalidIsSnapshot(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})
	ev := baseEvent(types.StreamOrderBook)
	ev.OrderBook = &types.OrderBookData{IsSnapshot: nil, Side: "bid", Price: dptr(1), Amount: dptr(1)}

	state, _, reason := s.Sanitize(ev)
	if state != types.SanitizationQuarantine || reason != "orderbook_invalid_is_snapshot" {
		t.Fatalf("got (%v, %q), want (QUARANTINE, orderbook_invalid_is_snapshot)", state, reason)
	}
}

func TestMissingExchangeRepairedToDefault(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})
	sym := "btcusdt"
	ev := types.Event{
		Stream: types.StreamTrades,
		Symbol: &sym,
		Trade:  &types.TradeData{Side: "buy", Price: dptr(1), Amount: dptr(1)},
	}

	state, fixed, reason := s.Sanitize(ev)
	if state != types.SanitizationRepair {
		t.Fatalf("state = %v, want REPAIR", state)
	}
	if reason != "repair_exchange_default" {
		t.Errorf("reason = %q, want repair_exchange_default", reason)
	}
	if fixed.Exchange == nil || *fixed.Exchange != "binance-futures" {
		t.Error("exchange should have been repaired to default")
	}
}

func TestUnknownStreamQuarantined(t *testing.T) {
	t.Parallel()

	s := New(Config{DefaultExchange: "binance-futures", DefaultSymbol: "btcusdt"})
	ev := baseEvent(types.Stream("unknown"))

	state, _, reason := s.Sanitize(ev)
	if state != types.SanitizationQuarantine || reason != "unknown_stream" {
		t.Fatalf("got (%v, %q), want (QUARANTINE, unknown_stream)", state, reason)
	}
}
