// Package types defines the shared data structures that flow through the
// decision engine: the tagged-union Event record and its per-stream
// payloads, plus the small value types (BookTop, EngineState) that the
// policy components exchange.
//
// ————————————————————————————————————————————————
// Streams
// ————————————————————————————————————————————————
package types

import "github.com/shopspring/decimal"

// Stream identifies which market-data channel an Event belongs to. Values
// match the lowercase strings used on the wire and in output records.
type Stream string

const (
	StreamTrades       Stream = "trades"
	StreamOrderBook    Stream = "orderbook"
	StreamLiquidations Stream = "liquidations"
	StreamTicker       Stream = "ticker"
)

// Streams lists every known stream kind in a fixed order; len(Streams) is
// the witness-cardinality threshold used by the hypothesis policy.
var Streams = []Stream{StreamTrades, StreamOrderBook, StreamLiquidations, StreamTicker}

func (s Stream) String() string { return string(s) }

// ————————————————————————————————————————————————
// Event payloads
// ————————————————————————————————————————————————

// TradeData is the payload for StreamTrades and StreamLiquidations events.
type TradeData struct {
	Side   string           `json:"side"`
	Price  *decimal.Decimal `json:"price"`
	Amount *decimal.Decimal `json:"amount"`

	// Diagnostic fields carried from the original recording; not required
	// by any policy, present for payload fidelity.
	TsHour    *int   `json:"ts_hour,omitempty"`
	TsMinute  *int   `json:"ts_minute,omitempty"`
	TsSecond  *int   `json:"ts_second,omitempty"`
	LatencyUs *int64 `json:"latency_us,omitempty"`
}

// OrderBookData is the payload for StreamOrderBook events.
type OrderBookData struct {
	IsSnapshot *bool            `json:"is_snapshot"`
	Side       string           `json:"side"`
	Price      *decimal.Decimal `json:"price"`
	Amount     *decimal.Decimal `json:"amount"`

	// Raw depth-diff sequence numbers, carried through for diagnostics.
	FirstUpdateID *int64 `json:"U,omitempty"`
	FinalUpdateID *int64 `json:"u,omitempty"`
	PrevFinalID   *int64 `json:"pu,omitempty"`
}

// TickerData is the payload for StreamTicker events. Every field is a
// pointer so that "missing" and "zero" remain distinguishable — required
// for the sanitizer's carry-forward cache semantics.
type TickerData struct {
	FundingTimestamp     *int64           `json:"funding_timestamp"`
	FundingRate          *decimal.Decimal `json:"funding_rate"`
	PredictedFundingRate *decimal.Decimal `json:"predicted_funding_rate"`
	OpenInterest         *decimal.Decimal `json:"open_interest"`
	LastPrice            *decimal.Decimal `json:"last_price"`
	IndexPrice           *decimal.Decimal `json:"index_price"`
	MarkPrice            *decimal.Decimal `json:"mark_price"`
}

// Clone returns a shallow copy with independently-settable pointer fields,
// used by the sanitizer when repairing a ticker event against the cache.
func (t *TickerData) Clone() *TickerData {
	if t == nil {
		return &TickerData{}
	}
	c := *t
	return &c
}

// ————————————————————————————————————————————————
// Event
// ————————————————————————————————————————————————

// Event is an immutable record ingested from an adapter. EventTs and
// IngestTs are microseconds since the Unix epoch; EventTs may be nil for
// events that should pass through the time aligner immediately.
type Event struct {
	Stream   Stream
	Exchange *string
	Symbol   *string
	EventTs  *int64
	IngestTs int64
	EventID  *string

	Trade     *TradeData
	OrderBook *OrderBookData
	Ticker    *TickerData
}

// Clone returns a value copy of the event with fresh payload pointers, so
// repairs never mutate the original adapter-owned record.
func (e Event) Clone() Event {
	c := e
	if e.Trade != nil {
		t := *e.Trade
		c.Trade = &t
	}
	if e.OrderBook != nil {
		o := *e.OrderBook
		c.OrderBook = &o
	}
	if e.Ticker != nil {
		c.Ticker = e.Ticker.Clone()
	}
	return c
}

// ————————————————————————————————————————————————
// Order book value types
// ————————————————————————————————————————————————

// BookTop is a point-in-time snapshot of top-of-book. BestBid and BestAsk
// are nil while their side is empty; Mid and Spread are nil until both
// sides of the book have at least one level.
type BookTop struct {
	BestBid *float64
	BestAsk *float64
	Mid     *float64
	Spread  *float64
}

// ————————————————————————————————————————————————
// Engine state
// ————————————————————————————————————————————————

type SanitizationState string

const (
	SanitizationAccept     SanitizationState = "ACCEPT"
	SanitizationRepair     SanitizationState = "REPAIR"
	SanitizationQuarantine SanitizationState = "QUARANTINE"
)

type DataTrustState string

const (
	DataTrustTrusted   DataTrustState = "TRUSTED"
	DataTrustDegraded  DataTrustState = "DEGRADED"
	DataTrustUntrusted DataTrustState = "UNTRUSTED"
)

type HypothesisState string

const (
	HypothesisValid     HypothesisState = "VALID"
	HypothesisWeakening HypothesisState = "WEAKENING"
	HypothesisInvalid   HypothesisState = "INVALID"
)

type DecisionState string

const (
	DecisionAllowed    DecisionState = "ALLOWED"
	DecisionRestricted DecisionState = "RESTRICTED"
	DecisionHalted     DecisionState = "HALTED"
)

// EngineState is the four-axis state-machine snapshot. Zero value is not
// meaningful; use NewEngineState for the pessimistic initial values.
type EngineState struct {
	Sanitization SanitizationState
	DataTrust    DataTrustState
	Hypothesis   HypothesisState
	Decision     DecisionState
}

// NewEngineState returns the pessimistic initial state mandated by the
// data model: QUARANTINE / DEGRADED / WEAKENING / RESTRICTED.
func NewEngineState() EngineState {
	return EngineState{
		Sanitization: SanitizationQuarantine,
		DataTrust:    DataTrustDegraded,
		Hypothesis:   HypothesisWeakening,
		Decision:     DecisionRestricted,
	}
}
