package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewEngineStateIsPessimistic(t *testing.T) {
	t.Parallel()

	s := NewEngineState()
	if s.Sanitization != SanitizationQuarantine {
		t.Errorf("Sanitization = %v, want QUARANTINE", s.Sanitization)
	}
	if s.DataTrust != DataTrustDegraded {
		t.Errorf("DataTrust = %v, want DEGRADED", s.DataTrust)
	}
	if s.Hypothesis != HypothesisWeakening {
		t.Errorf("Hypothesis = %v, want WEAKENING", s.Hypothesis)
	}
	if s.Decision != DecisionRestricted {
		t.Errorf("Decision = %v, want RESTRICTED", s.Decision)
	}
}

func TestEventCloneIndependentPayload(t *testing.T) {
	t.Parallel()

	price := decimal.NewFromFloat(100.5)
	ev := Event{
		Stream: StreamTrades,
		Trade:  &TradeData{Side: "buy", Price: &price},
	}

	clone := ev.Clone()
	clone.Trade.Side = "sell"

	if ev.Trade.Side != "buy" {
		t.Errorf("original mutated via clone: Side = %v", ev.Trade.Side)
	}
}

func TestTickerDataCloneNil(t *testing.T) {
	t.Parallel()

	var tk *TickerData
	c := tk.Clone()
	if c == nil {
		t.Fatal("Clone of nil TickerData returned nil")
	}
}
