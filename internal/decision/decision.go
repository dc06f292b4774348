// Package decision implements the pure (data_trust, hypothesis) ->
// decision reducer (C7). Ported from core/decision.py.
package decision

import "marketdata-trust-engine/pkg/types"

// Compute returns the decision for the given trust/hypothesis pair.
// Precedence: UNTRUSTED or INVALID overrides to HALTED; DEGRADED or
// WEAKENING floors at RESTRICTED; otherwise ALLOWED.
func Compute(trust types.DataTrustState, hyp types.HypothesisState) types.DecisionState {
	if trust == types.DataTrustDegraded || hyp == types.HypothesisWeakening {
		if trust == types.DataTrustUntrusted || hyp == types.HypothesisInvalid {
			return types.DecisionHalted
		}
		return types.DecisionRestricted
	}
	if trust == types.DataTrustUntrusted || hyp == types.HypothesisInvalid {
		return types.DecisionHalted
	}
	return types.DecisionAllowed
}
