package stats

import "marketdata-trust-engine/pkg/types"

// EngineStats accumulates event totals, per-axis event counts, and the
// four dwell trackers (sanitization, data_trust, hypothesis, decision).
type EngineStats struct {
	TotalEvents      int64
	QuarantineEvents int64
	RepairEvents     int64

	byTrust    map[types.DataTrustState]int64
	byHypo     map[types.HypothesisState]int64
	byDecision map[types.DecisionState]int64

	SanDwell      *Dwell
	TrustDwell    *Dwell
	HypoDwell     *Dwell
	DecisionDwell *Dwell
}

// NewEngineStats initializes all four dwell trackers in the pessimistic
// initial state, at startUs.
func NewEngineStats(startUs int64) *EngineStats {
	init := types.NewEngineState()
	return &EngineStats{
		byTrust:       make(map[types.DataTrustState]int64),
		byHypo:        make(map[types.HypothesisState]int64),
		byDecision:    make(map[types.DecisionState]int64),
		SanDwell:      NewDwell(string(init.Sanitization), startUs),
		TrustDwell:    NewDwell(string(init.DataTrust), startUs),
		HypoDwell:     NewDwell(string(init.Hypothesis), startUs),
		DecisionDwell: NewDwell(string(init.Decision), startUs),
	}
}

// OnEvent records one processed event's resulting state tuple.
func (s *EngineStats) OnEvent(san types.SanitizationState, trust types.DataTrustState, hyp types.HypothesisState, dec types.DecisionState) {
	s.TotalEvents++
	switch san {
	case types.SanitizationQuarantine:
		s.QuarantineEvents++
	case types.SanitizationRepair:
		s.RepairEvents++
	}
	s.byTrust[trust]++
	s.byHypo[hyp]++
	s.byDecision[dec]++
}

// SwitchSan, SwitchTrust, SwitchHypo, SwitchDecision drive the respective
// dwell tracker.
func (s *EngineStats) SwitchSan(label string, nowUs int64)      { s.SanDwell.Switch(label, nowUs) }
func (s *EngineStats) SwitchTrust(label string, nowUs int64)    { s.TrustDwell.Switch(label, nowUs) }
func (s *EngineStats) SwitchHypo(label string, nowUs int64)     { s.HypoDwell.Switch(label, nowUs) }
func (s *EngineStats) SwitchDecision(label string, nowUs int64) { s.DecisionDwell.Switch(label, nowUs) }

// Summary is the JSON-serializable shape emitted as summary.json.
type Summary struct {
	TotalEvents      int64 `json:"total_events"`
	QuarantineEvents int64 `json:"quarantine_events"`
	RepairEvents     int64 `json:"repair_events"`

	EventsByState struct {
		DataTrust  map[string]int64 `json:"data_trust"`
		Hypothesis map[string]int64 `json:"hypothesis"`
		Decision   map[string]int64 `json:"decision"`
	} `json:"events_by_state"`

	Dwell struct {
		Sanitization DwellSnapshot `json:"sanitization"`
		DataTrust    DwellSnapshot `json:"data_trust"`
		Hypothesis   DwellSnapshot `json:"hypothesis"`
		Decision     DwellSnapshot `json:"decision"`
	} `json:"dwell"`
}

// DwellSnapshot is the {total_us, avg_us} pair for one axis.
type DwellSnapshot struct {
	TotalUs map[string]int64   `json:"total_us"`
	AvgUs   map[string]float64 `json:"avg_us"`
}

// Finalize closes all four dwell trackers at nowUs (satisfying the dwell
// invariant that their totals sum to elapsed time) and returns the
// summary structure for the output writer.
func (s *EngineStats) Finalize(nowUs int64) Summary {
	s.SanDwell.Close(nowUs)
	s.TrustDwell.Close(nowUs)
	s.HypoDwell.Close(nowUs)
	s.DecisionDwell.Close(nowUs)

	var out Summary
	out.TotalEvents = s.TotalEvents
	out.QuarantineEvents = s.QuarantineEvents
	out.RepairEvents = s.RepairEvents

	out.EventsByState.DataTrust = stringifyKeys(s.byTrust)
	out.EventsByState.Hypothesis = stringifyKeysH(s.byHypo)
	out.EventsByState.Decision = stringifyKeysD(s.byDecision)

	out.Dwell.Sanitization = snap(s.SanDwell)
	out.Dwell.DataTrust = snap(s.TrustDwell)
	out.Dwell.Hypothesis = snap(s.HypoDwell)
	out.Dwell.Decision = snap(s.DecisionDwell)

	return out
}

func snap(d *Dwell) DwellSnapshot {
	total, avg := d.Snapshot()
	return DwellSnapshot{TotalUs: total, AvgUs: avg}
}

func stringifyKeys(m map[types.DataTrustState]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func stringifyKeysH(m map[types.HypothesisState]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func stringifyKeysD(m map[types.DecisionState]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
