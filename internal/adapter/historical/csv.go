// Package historical implements the replay adapter (C10, historical mode):
// it reads the four per-stream CSV(.gz) recordings under a directory and
// merges them into a single ingest_ts-ordered event stream, optionally
// sleeping between events to approximate real-time pacing. Ported from
// adapters/csv_adapter.py.
package historical

import (
	"compress/gzip"
	"container/heap"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketdata-trust-engine/pkg/types"
)

// Config tunes replay pacing.
type Config struct {
	ReplaySpeed    float64       // 0 disables pacing; replay as fast as possible
	MaxReplaySleep time.Duration // cap on the per-event sleep
}

// Adapter replays the four stream recordings under Dir in ingest_ts order.
type Adapter struct {
	dir   string
	cfg   Config
	files map[types.Stream]string
}

// New resolves {trades,orderbook,liquidations,ticker}.csv(.gz) under dir.
// As in the Python adapter, all four files are required: a missing file
// is a fatal startup error, not an optional stream.
func New(dir string, cfg Config) (*Adapter, error) {
	files := make(map[types.Stream]string, len(types.Streams))
	for _, s := range types.Streams {
		path, err := findFile(dir, string(s))
		if err != nil {
			return nil, err
		}
		files[s] = path
	}
	return &Adapter{dir: dir, cfg: cfg, files: files}, nil
}

func findFile(dir, name string) (string, error) {
	gz := filepath.Join(dir, name+".csv.gz")
	if _, err := os.Stat(gz); err == nil {
		return gz, nil
	}
	plain := filepath.Join(dir, name+".csv")
	if _, err := os.Stat(plain); err == nil {
		return plain, nil
	}
	return "", fmt.Errorf("missing %s.csv(.gz) under %s", name, dir)
}

// rowReader yields events from one stream's CSV file, closing the
// underlying file(s) when exhausted or when closed early.
type rowReader struct {
	stream types.Stream
	f      *os.File
	gz     *gzip.Reader
	r      *csv.Reader
	header []string
}

func openRowReader(stream types.Stream, path string) (*rowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rr := &rowReader{stream: stream, f: f}
	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		rr.gz = gz
		src = gz
	}
	rr.r = csv.NewReader(src)
	rr.r.FieldsPerRecord = -1
	header, err := rr.r.Read()
	if err != nil {
		rr.close()
		if err == io.EOF {
			rr.header = nil
			return rr, nil
		}
		return nil, err
	}
	rr.header = header
	return rr, nil
}

func (rr *rowReader) close() {
	if rr.gz != nil {
		rr.gz.Close()
	}
	if rr.f != nil {
		rr.f.Close()
	}
}

// next returns the next event, or nil when the file is exhausted.
func (rr *rowReader) next() (*types.Event, error) {
	if rr.header == nil {
		return nil, nil
	}
	record, err := rr.r.Read()
	if err == io.EOF {
		rr.close()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row := make(map[string]string, len(rr.header))
	for i, col := range rr.header {
		if i < len(record) {
			row[col] = record[i]
		}
	}
	return rowToEvent(rr.stream, row), nil
}

func rowToEvent(stream types.Stream, row map[string]string) *types.Event {
	eventTs := toInt(row["timestamp"])
	ingestTs := toInt(row["local_timestamp"])

	ev := &types.Event{
		Stream:   stream,
		Exchange: toStrPtr(row["exchange"]),
		Symbol:   toStrPtr(row["symbol"]),
		EventTs:  eventTs,
		EventID:  toStrPtr(row["id"]),
	}
	if ingestTs != nil {
		ev.IngestTs = *ingestTs
	}

	switch stream {
	case types.StreamTrades, types.StreamLiquidations:
		ev.Trade = &types.TradeData{
			Side:   strOrEmpty(row["side"]),
			Price:  toDecimal(row["price"]),
			Amount: toDecimal(row["amount"]),
		}
		if eventTs != nil && ingestTs != nil {
			lat := *ingestTs - *eventTs
			ev.Trade.LatencyUs = &lat
		}
		if eventTs != nil {
			ev.Trade.TsHour, ev.Trade.TsMinute, ev.Trade.TsSecond = tsClock(*eventTs)
		}
	case types.StreamOrderBook:
		ev.OrderBook = &types.OrderBookData{
			IsSnapshot: toBoolPtr(row["is_snapshot"]),
			Side:       strOrEmpty(row["side"]),
			Price:      toDecimal(row["price"]),
			Amount:     toDecimal(row["amount"]),
		}
	case types.StreamTicker:
		ev.Ticker = &types.TickerData{
			FundingTimestamp:     toInt(row["funding_timestamp"]),
			FundingRate:          toDecimal(row["funding_rate"]),
			PredictedFundingRate: toDecimal(row["predicted_funding_rate"]),
			OpenInterest:         toDecimal(row["open_interest"]),
			LastPrice:            toDecimal(row["last_price"]),
			IndexPrice:           toDecimal(row["index_price"]),
			MarkPrice:            toDecimal(row["mark_price"]),
		}
	}
	return ev
}

// heapItem is one pending event in the cross-stream merge-by-ingest_ts
// priority queue.
type heapItem struct {
	ingestTs int64
	tie      int64
	reader   *rowReader
	event    *types.Event
}

type eventHeap []*heapItem

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].ingestTs != h[j].ingestTs {
		return h[i].ingestTs < h[j].ingestTs
	}
	return h[i].tie < h[j].tie
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// StreamEvents opens all four files and merges them in ingest_ts order,
// sleeping between events (scaled by ReplaySpeed, capped at
// MaxReplaySleep) when pacing is enabled. Both channels close when the
// recordings are exhausted or ctx is canceled.
func (a *Adapter) StreamEvents(ctx context.Context) (<-chan types.Event, <-chan error) {
	out := make(chan types.Event, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		h := &eventHeap{}
		heap.Init(h)
		var tie int64
		readers := make([]*rowReader, 0, len(types.Streams))

		for _, s := range types.Streams {
			rr, err := openRowReader(s, a.files[s])
			if err != nil {
				errCh <- fmt.Errorf("open %s: %w", s, err)
				return
			}
			readers = append(readers, rr)
			first, err := rr.next()
			if err != nil {
				errCh <- fmt.Errorf("read %s: %w", s, err)
				return
			}
			if first != nil {
				heap.Push(h, &heapItem{ingestTs: first.IngestTs, tie: tie, reader: rr, event: first})
				tie++
			}
		}
		defer func() {
			for _, rr := range readers {
				rr.close()
			}
		}()

		var prevIngest *int64
		for h.Len() > 0 {
			item := heap.Pop(h).(*heapItem)

			if a.cfg.ReplaySpeed > 0 && prevIngest != nil {
				delta := item.ingestTs - *prevIngest
				if delta > 0 {
					sleep := time.Duration(float64(delta) * float64(time.Microsecond) * a.cfg.ReplaySpeed)
					if a.cfg.MaxReplaySleep > 0 && sleep > a.cfg.MaxReplaySleep {
						sleep = a.cfg.MaxReplaySleep
					}
					select {
					case <-time.After(sleep):
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case out <- *item.event:
			case <-ctx.Done():
				return
			}
			ingestTs := item.ingestTs
			prevIngest = &ingestTs

			nxt, err := item.reader.next()
			if err != nil {
				errCh <- fmt.Errorf("read next event: %w", err)
				return
			}
			if nxt != nil {
				heap.Push(h, &heapItem{ingestTs: nxt.IngestTs, tie: tie, reader: item.reader, event: nxt})
				tie++
			}
		}
	}()

	return out, errCh
}

// Close is a no-op: StreamEvents closes its own files as it exhausts or
// abandons each reader.
func (a *Adapter) Close() error { return nil }

func toInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func toDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func toBoolPtr(s string) *bool {
	switch strings.ToLower(s) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	default:
		return nil
	}
}

func toStrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(s string) string { return s }

// tsClock splits an event_ts (microseconds since epoch, UTC) into its
// hour/minute/second components, matching the original adapter's
// datetime.fromtimestamp(event_ts/1e6).hour/.minute/.second.
func tsClock(eventTsUs int64) (hour, minute, second *int) {
	t := time.UnixMicro(eventTsUs).UTC()
	h, m, s := t.Hour(), t.Minute(), t.Second()
	return &h, &m, &s
}
