// Package sanitize implements the per-event field validator/repairer
// (C4), including the ticker carry-forward cache.
//
// Ported from core/sanitization.py, with one translation fix: the
// original's exchange-repair branch references an undefined `reason`
// variable (a NameError in Python); here the reason is correctly
// appended to the returned reasons.
package sanitize

import (
	"fmt"
	"strings"

	"marketdata-trust-engine/pkg/types"
)

// Config holds the defaults the sanitizer repairs missing exchange/symbol
// fields to.
type Config struct {
	DefaultExchange string
	DefaultSymbol   string
}

// tickerCache holds the last-seen non-null value for each required
// ticker field, enabling carry-forward repair across events.
type tickerCache struct {
	fundingTimestamp     *int64
	fundingRate          *float64
	predictedFundingRate *float64
	openInterest         *float64
	lastPrice            *float64
	indexPrice           *float64
	markPrice            *float64
}

// Sanitizer validates and repairs events for one exchange/symbol pair.
type Sanitizer struct {
	cfg   Config
	cache tickerCache
}

// New returns a Sanitizer configured with default exchange/symbol values.
func New(cfg Config) *Sanitizer {
	return &Sanitizer{cfg: cfg}
}

// Sanitize validates ev and returns the resulting state, the (possibly
// repaired) event, and a reason string (empty for ACCEPT).
func (s *Sanitizer) Sanitize(ev types.Event) (types.SanitizationState, types.Event, string) {
	out := ev.Clone()
	var reasons []string
	repaired := false

	if out.Exchange == nil {
		def := s.cfg.DefaultExchange
		out.Exchange = &def
		reasons = append(reasons, "repair_exchange_default")
		repaired = true
	} else if s.cfg.DefaultExchange != "" && *out.Exchange != s.cfg.DefaultExchange {
		return types.SanitizationQuarantine, ev, "missing_exchange"
	}

	if out.Symbol == nil {
		if s.cfg.DefaultSymbol != "" {
			def := s.cfg.DefaultSymbol
			out.Symbol = &def
			reasons = append(reasons, "repair_symbol_default")
			repaired = true
		} else {
			return types.SanitizationQuarantine, ev, "missing_symbol"
		}
	} else if s.cfg.DefaultSymbol != "" && *out.Symbol != s.cfg.DefaultSymbol {
		return types.SanitizationQuarantine, ev, "missing_symbol"
	}

	switch out.Stream {
	case types.StreamTrades:
		if out.Trade == nil || out.Trade.Price == nil || out.Trade.Amount == nil || out.Trade.Side == "" {
			return types.SanitizationQuarantine, ev, "trade_missing_fields"
		}
	case types.StreamLiquidations:
		if out.Trade == nil || out.Trade.Price == nil || out.Trade.Amount == nil || out.Trade.Side == "" {
			return types.SanitizationQuarantine, ev, "liq_missing_fields"
		}
	case types.StreamOrderBook:
		if out.OrderBook == nil {
			return types.SanitizationQuarantine, ev, "orderbook_missing_fields"
		}
		if out.OrderBook.IsSnapshot == nil {
			return types.SanitizationQuarantine, ev, "orderbook_invalid_is_snapshot"
		}
		if out.OrderBook.Side == "" || out.OrderBook.Price == nil || out.OrderBook.Amount == nil {
			return types.SanitizationQuarantine, ev, "orderbook_missing_fields"
		}
	case types.StreamTicker:
		state, missing := s.sanitizeTicker(&out)
		if state == types.SanitizationQuarantine {
			return types.SanitizationQuarantine, ev, fmt.Sprintf("ticker_missing_fields:%s", strings.Join(missing, ","))
		}
		if state == types.SanitizationRepair {
			repaired = true
			reasons = append(reasons, "repair_ticker_merge_cache")
		}
	default:
		return types.SanitizationQuarantine, ev, "unknown_stream"
	}

	if !repaired {
		return types.SanitizationAccept, out, ""
	}
	return types.SanitizationRepair, out, strings.Join(reasons, ",")
}

// sanitizeTicker merges the event's ticker fields with the carry-forward
// cache. Returns ACCEPT if the event was complete on its own, REPAIR if
// any required field had to be filled from cache, or QUARANTINE (with the list of
// still-missing required field names) if a required field has neither a
// fresh value nor a cached one. predicted_funding_rate is tracked but
// never required.
func (s *Sanitizer) sanitizeTicker(ev *types.Event) (types.SanitizationState, []string) {
	if ev.Ticker == nil {
		ev.Ticker = &types.TickerData{}
	}
	data := ev.Ticker
	completeInPayload := true
	usedCache := false

	fillInt := func(field **int64, cached **int64) {
		if *field == nil {
			completeInPayload = false
			if *cached != nil {
				v := **cached
				*field = &v
				usedCache = true
			}
		} else {
			v := **field
			*cached = &v
		}
	}
	fillFloat := func(field **float64, cached **float64, required bool) {
		if *field == nil {
			if required {
				completeInPayload = false
			}
			if *cached != nil {
				v := **cached
				*field = &v
				if required {
					usedCache = true
				}
			}
		} else {
			v := **field
			*cached = &v
		}
	}

	fillInt(&data.FundingTimestamp, &s.cache.fundingTimestamp)

	fundingRate := decimalToFloatPtr(data.FundingRate)
	fillFloat(&fundingRate, &s.cache.fundingRate, true)
	data.FundingRate = floatPtrToDecimal(fundingRate)

	predicted := decimalToFloatPtr(data.PredictedFundingRate)
	fillFloat(&predicted, &s.cache.predictedFundingRate, false)
	data.PredictedFundingRate = floatPtrToDecimal(predicted)

	openInterest := decimalToFloatPtr(data.OpenInterest)
	fillFloat(&openInterest, &s.cache.openInterest, true)
	data.OpenInterest = floatPtrToDecimal(openInterest)

	lastPrice := decimalToFloatPtr(data.LastPrice)
	fillFloat(&lastPrice, &s.cache.lastPrice, true)
	data.LastPrice = floatPtrToDecimal(lastPrice)

	indexPrice := decimalToFloatPtr(data.IndexPrice)
	fillFloat(&indexPrice, &s.cache.indexPrice, true)
	data.IndexPrice = floatPtrToDecimal(indexPrice)

	markPrice := decimalToFloatPtr(data.MarkPrice)
	fillFloat(&markPrice, &s.cache.markPrice, true)
	data.MarkPrice = floatPtrToDecimal(markPrice)

	var missing []string
	if data.FundingTimestamp == nil {
		missing = append(missing, "funding_timestamp")
	}
	if data.FundingRate == nil {
		missing = append(missing, "funding_rate")
	}
	if data.OpenInterest == nil {
		missing = append(missing, "open_interest")
	}
	if data.LastPrice == nil {
		missing = append(missing, "last_price")
	}
	if data.IndexPrice == nil {
		missing = append(missing, "index_price")
	}
	if data.MarkPrice == nil {
		missing = append(missing, "mark_price")
	}
	if len(missing) > 0 {
		return types.SanitizationQuarantine, missing
	}
	if completeInPayload && !usedCache {
		return types.SanitizationAccept, nil
	}
	return types.SanitizationRepair, nil
}
