// Package live implements the realtime Binance-futures adapter (C10,
// realtime mode): a combined-stream WebSocket feed (aggTrade, depth@100ms,
// forceOrder, markPrice@1s, ticker) bootstrapped with a REST depth
// snapshot and backed by a background open-interest poller. Ported from
// adapters/binance_ws_adapter.py, with the reconnect loop generalized to
// the teacher's exponential-backoff pattern (internal/exchange/ws.go).
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketdata-trust-engine/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 4096
)

// Config tunes the adapter. BaseURL and RestBaseURL default to Binance's
// production endpoints when empty.
type Config struct {
	Symbol             string
	BaseURL            string
	RestBaseURL        string
	ReconnectDelay     time.Duration
	MaxReconnectDelay  time.Duration
	OpenInterestPoll   time.Duration
	SnapshotDepthLimit int
}

const (
	defaultWSBase   = "wss://fstream.binance.com/stream?streams="
	defaultRESTBase = "https://fapi.binance.com"
)

// Adapter streams live market-data events for one Binance-futures symbol.
type Adapter struct {
	cfg        Config
	symbol     string
	exchange   string
	httpClient *resty.Client
	logger     *slog.Logger

	tickerMu sync.Mutex
	ticker   tickerCache

	conn   *websocket.Conn
	connMu sync.Mutex

	cancel context.CancelFunc
	closed chan struct{}
}

// tickerCache holds the carry-forward state the adapter merges into every
// TICKER event it emits, mirroring the Python adapter's _ticker_data dict.
type tickerCache struct {
	fundingTimestamp     *int64
	fundingRate          *float64
	predictedFundingRate *float64
	openInterest         *float64
	lastPrice            *float64
	indexPrice           *float64
	markPrice            *float64
}

// New builds an adapter for cfg.Symbol. cfg.BaseURL/RestBaseURL default to
// Binance's production endpoints when empty.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWSBase
	}
	if cfg.RestBaseURL == "" {
		cfg.RestBaseURL = defaultRESTBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	symbol := strings.ToLower(cfg.Symbol)
	return &Adapter{
		cfg:      cfg,
		symbol:   symbol,
		exchange: "binance-futures",
		httpClient: resty.New().
			SetBaseURL(cfg.RestBaseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		logger: logger.With("component", "live_adapter", "symbol", symbol),
		closed: make(chan struct{}),
	}
}

// StreamEvents bootstraps the order book via REST, starts the open
// interest poller, and runs the WebSocket read loop with exponential
// backoff reconnection until ctx is canceled.
func (a *Adapter) StreamEvents(ctx context.Context) (<-chan types.Event, <-chan error) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	out := make(chan types.Event, eventBufferSize)
	errCh := make(chan error, 1)

	snapshot, err := a.fetchSnapshot()
	if err != nil {
		errCh <- fmt.Errorf("fetch orderbook snapshot: %w", err)
		close(out)
		close(errCh)
		return out, errCh
	}

	go func() {
		defer close(out)
		defer close(errCh)

		for _, ev := range snapshot {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.pollOpenInterest(ctx, out)
		}()
		go func() {
			defer wg.Done()
			if err := a.runWithBackoff(ctx, out); err != nil && ctx.Err() == nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}()
		wg.Wait()
	}()

	return out, errCh
}

// Close cancels any in-flight StreamEvents iteration and closes the
// underlying connection.
func (a *Adapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Adapter) streamsURL() string {
	streams := []string{
		a.symbol + "@aggTrade",
		a.symbol + "@depth@100ms",
		a.symbol + "@forceOrder",
		a.symbol + "@markPrice@1s",
		a.symbol + "@ticker",
	}
	return a.cfg.BaseURL + strings.Join(streams, "/")
}

func (a *Adapter) runWithBackoff(ctx context.Context, out chan<- types.Event) error {
	delay := a.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := a.cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	for {
		err := a.connectAndRead(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (a *Adapter) connectAndRead(ctx context.Context, out chan<- types.Event) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.streamsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	defer func() {
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	a.logger.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		ingestTs := nowUs()
		for _, ev := range a.toEvents(ingestTs, msg) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (a *Adapter) toEvents(ingestTs int64, msg []byte) []types.Event {
	var env combinedEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		a.logger.Debug("ignoring non-json ws message")
		return nil
	}

	switch env.Stream {
	case a.symbol + "@aggTrade":
		return a.tradeEvents(ingestTs, env.Data)
	case a.symbol + "@depth@100ms":
		return a.depthEvents(ingestTs, env.Data)
	case a.symbol + "@forceOrder":
		return a.liquidationEvents(ingestTs, env.Data)
	case a.symbol + "@markPrice@1s":
		return a.markPriceEvents(ingestTs, env.Data)
	case a.symbol + "@ticker":
		return a.tickerEvents(ingestTs, env.Data)
	default:
		return nil
	}
}

func (a *Adapter) symbolUpper() string { return strings.ToUpper(a.symbol) }

func msToUs(ms int64) int64 { return ms * 1000 }

func nowUs() int64 { return time.Now().UnixMicro() }

// tsClock splits an event_ts (microseconds since epoch, UTC) into its
// hour/minute/second components, matching the original adapter's
// datetime.fromtimestamp(event_ts/1e6).hour/.minute/.second.
func tsClock(eventTsUs int64) (hour, minute, second *int) {
	t := time.UnixMicro(eventTsUs).UTC()
	h, m, s := t.Hour(), t.Minute(), t.Second()
	return &h, &m, &s
}

type aggTradeMsg struct {
	EventTimeMs int64  `json:"E"`
	AggTradeID  int64  `json:"a"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
	BuyerMaker  bool   `json:"m"`
}

func (a *Adapter) tradeEvents(ingestTs int64, raw json.RawMessage) []types.Event {
	var m aggTradeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Error("unmarshal aggTrade", "error", err)
		return nil
	}
	eventTs := msToUs(m.EventTimeMs)
	side := "buy"
	if m.BuyerMaker {
		side = "sell"
	}
	eventID := strconv.FormatInt(m.AggTradeID, 10)
	hour, minute, second := tsClock(eventTs)
	return []types.Event{{
		Stream:   types.StreamTrades,
		Exchange: &a.exchange,
		Symbol:   strPtr(a.symbolUpper()),
		EventTs:  &eventTs,
		IngestTs: ingestTs,
		EventID:  &eventID,
		Trade: &types.TradeData{
			Side:      side,
			Price:     parseDecimal(m.Price),
			Amount:    parseDecimal(m.Quantity),
			LatencyUs: i64Ptr(ingestTs - eventTs),
			TsHour:    hour,
			TsMinute:  minute,
			TsSecond:  second,
		},
	}}
}

type depthMsg struct {
	EventTimeMs   int64      `json:"E"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	PrevFinalID   int64      `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (a *Adapter) depthEvents(ingestTs int64, raw json.RawMessage) []types.Event {
	var m depthMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Error("unmarshal depth", "error", err)
		return nil
	}
	eventTs := msToUs(m.EventTimeMs)
	eventID := strconv.FormatInt(m.FinalUpdateID, 10)

	var out []types.Event
	snap := false
	for _, lvl := range m.Bids {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, types.Event{
			Stream:   types.StreamOrderBook,
			Exchange: &a.exchange,
			Symbol:   strPtr(a.symbolUpper()),
			EventTs:  &eventTs,
			IngestTs: ingestTs,
			EventID:  &eventID,
			OrderBook: &types.OrderBookData{
				IsSnapshot:    &snap,
				Side:          "bid",
				Price:         parseDecimal(lvl[0]),
				Amount:        parseDecimal(lvl[1]),
				FirstUpdateID: &m.FirstUpdateID,
				FinalUpdateID: &m.FinalUpdateID,
				PrevFinalID:   &m.PrevFinalID,
			},
		})
	}
	for _, lvl := range m.Asks {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, types.Event{
			Stream:   types.StreamOrderBook,
			Exchange: &a.exchange,
			Symbol:   strPtr(a.symbolUpper()),
			EventTs:  &eventTs,
			IngestTs: ingestTs,
			EventID:  &eventID,
			OrderBook: &types.OrderBookData{
				IsSnapshot:    &snap,
				Side:          "ask",
				Price:         parseDecimal(lvl[0]),
				Amount:        parseDecimal(lvl[1]),
				FirstUpdateID: &m.FirstUpdateID,
				FinalUpdateID: &m.FinalUpdateID,
				PrevFinalID:   &m.PrevFinalID,
			},
		})
	}
	return out
}

type forceOrderMsg struct {
	EventTimeMs int64 `json:"E"`
	Order       struct {
		Side     string `json:"S"`
		Price    string `json:"p"`
		Quantity string `json:"q"`
		OrderID  int64  `json:"i"`
	} `json:"o"`
}

func (a *Adapter) liquidationEvents(ingestTs int64, raw json.RawMessage) []types.Event {
	var m forceOrderMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Error("unmarshal forceOrder", "error", err)
		return nil
	}
	eventTs := msToUs(m.EventTimeMs)
	eventID := strconv.FormatInt(m.Order.OrderID, 10)
	hour, minute, second := tsClock(eventTs)
	return []types.Event{{
		Stream:   types.StreamLiquidations,
		Exchange: &a.exchange,
		Symbol:   strPtr(a.symbolUpper()),
		EventTs:  &eventTs,
		IngestTs: ingestTs,
		EventID:  &eventID,
		Trade: &types.TradeData{
			Side:      strings.ToLower(m.Order.Side),
			Price:     parseDecimal(m.Order.Price),
			Amount:    parseDecimal(m.Order.Quantity),
			LatencyUs: i64Ptr(ingestTs - eventTs),
			TsHour:    hour,
			TsMinute:  minute,
			TsSecond:  second,
		},
	}}
}

type markPriceMsg struct {
	EventTimeMs    int64  `json:"E"`
	FundingTimeMs  int64  `json:"T"`
	FundingRate    string `json:"r"`
	IndexPrice     string `json:"i"`
	MarkPrice      string `json:"p"`
}

func (a *Adapter) markPriceEvents(ingestTs int64, raw json.RawMessage) []types.Event {
	var m markPriceMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Error("unmarshal markPrice", "error", err)
		return nil
	}
	eventTs := msToUs(m.EventTimeMs)
	fundingTs := msToUs(m.FundingTimeMs)

	a.tickerMu.Lock()
	a.ticker.fundingTimestamp = &fundingTs
	a.ticker.fundingRate = floatPtr(m.FundingRate)
	a.ticker.indexPrice = floatPtr(m.IndexPrice)
	a.ticker.markPrice = floatPtr(m.MarkPrice)
	snap := a.ticker
	a.tickerMu.Unlock()

	return []types.Event{a.tickerEventFromCache(eventTs, ingestTs, snap)}
}

type tickerMsg struct {
	EventTimeMs int64  `json:"E"`
	LastPrice   string `json:"c"`
}

func (a *Adapter) tickerEvents(ingestTs int64, raw json.RawMessage) []types.Event {
	var m tickerMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Error("unmarshal ticker", "error", err)
		return nil
	}
	eventTs := msToUs(m.EventTimeMs)

	a.tickerMu.Lock()
	a.ticker.lastPrice = floatPtr(m.LastPrice)
	snap := a.ticker
	a.tickerMu.Unlock()

	return []types.Event{a.tickerEventFromCache(eventTs, ingestTs, snap)}
}

func (a *Adapter) tickerEventFromCache(eventTs, ingestTs int64, snap tickerCache) types.Event {
	return types.Event{
		Stream:   types.StreamTicker,
		Exchange: &a.exchange,
		Symbol:   strPtr(a.symbolUpper()),
		EventTs:  &eventTs,
		IngestTs: ingestTs,
		Ticker: &types.TickerData{
			FundingTimestamp:     snap.fundingTimestamp,
			FundingRate:          floatPtrToDecimal(snap.fundingRate),
			PredictedFundingRate: floatPtrToDecimal(snap.predictedFundingRate),
			OpenInterest:         floatPtrToDecimal(snap.openInterest),
			LastPrice:            floatPtrToDecimal(snap.lastPrice),
			IndexPrice:           floatPtrToDecimal(snap.indexPrice),
			MarkPrice:            floatPtrToDecimal(snap.markPrice),
		},
	}
}

// pollOpenInterest fetches GET /fapi/v1/openInterest on a fixed interval
// and merges the result into the ticker cache, same as the Python
// adapter's background poller thread.
func (a *Adapter) pollOpenInterest(ctx context.Context, out chan<- types.Event) {
	interval := a.cfg.OpenInterestPoll
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var resp struct {
			OpenInterest string `json:"openInterest"`
			TimeMs       int64  `json:"time"`
		}
		r, err := a.httpClient.R().
			SetQueryParam("symbol", a.symbolUpper()).
			SetResult(&resp).
			Get("/fapi/v1/openInterest")
		if err != nil || r.IsError() {
			a.logger.Warn("open interest poll failed", "error", err)
			continue
		}

		ingestTs := nowUs()
		eventTs := msToUs(resp.TimeMs)

		a.tickerMu.Lock()
		a.ticker.openInterest = floatPtr(resp.OpenInterest)
		snap := a.ticker
		a.tickerMu.Unlock()

		ev := a.tickerEventFromCache(eventTs, ingestTs, snap)
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) fetchSnapshot() ([]types.Event, error) {
	var resp struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		EventTimeMs  int64      `json:"E"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	limit := a.cfg.SnapshotDepthLimit
	if limit <= 0 {
		limit = 1000
	}
	r, err := a.httpClient.R().
		SetQueryParam("symbol", a.symbolUpper()).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&resp).
		Get("/fapi/v1/depth")
	if err != nil {
		return nil, err
	}
	if r.IsError() {
		return nil, fmt.Errorf("depth snapshot: status %d", r.StatusCode())
	}

	ingestTs := nowUs()
	eventTs := msToUs(resp.EventTimeMs)
	eventID := strconv.FormatInt(resp.LastUpdateID, 10)

	var out []types.Event
	snap := true
	for _, lvl := range resp.Bids {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, types.Event{
			Stream: types.StreamOrderBook, Exchange: &a.exchange, Symbol: strPtr(a.symbolUpper()),
			EventTs: &eventTs, IngestTs: ingestTs, EventID: &eventID,
			OrderBook: &types.OrderBookData{IsSnapshot: &snap, Side: "bid", Price: parseDecimal(lvl[0]), Amount: parseDecimal(lvl[1])},
		})
	}
	for _, lvl := range resp.Asks {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, types.Event{
			Stream: types.StreamOrderBook, Exchange: &a.exchange, Symbol: strPtr(a.symbolUpper()),
			EventTs: &eventTs, IngestTs: ingestTs, EventID: &eventID,
			OrderBook: &types.OrderBookData{IsSnapshot: &snap, Side: "ask", Price: parseDecimal(lvl[0]), Amount: parseDecimal(lvl[1])},
		})
	}
	return out, nil
}

func parseDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func floatPtr(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func floatPtrToDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }
