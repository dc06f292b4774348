package decision

import (
	"testing"

	"marketdata-trust-engine/pkg/types"
)

func TestComputeTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		trust types.DataTrustState
		hyp   types.HypothesisState
		want  types.DecisionState
	}{
		{types.DataTrustUntrusted, types.HypothesisValid, types.DecisionHalted},
		{types.DataTrustUntrusted, types.HypothesisWeakening, types.DecisionHalted},
		{types.DataTrustUntrusted, types.HypothesisInvalid, types.DecisionHalted},
		{types.DataTrustTrusted, types.HypothesisInvalid, types.DecisionHalted},
		{types.DataTrustDegraded, types.HypothesisInvalid, types.DecisionHalted},
		{types.DataTrustDegraded, types.HypothesisValid, types.DecisionRestricted},
		{types.DataTrustDegraded, types.HypothesisWeakening, types.DecisionRestricted},
		{types.DataTrustTrusted, types.HypothesisWeakening, types.DecisionRestricted},
		{types.DataTrustTrusted, types.HypothesisValid, types.DecisionAllowed},
	}

	for _, c := range cases {
		got := Compute(c.trust, c.hyp)
		if got != c.want {
			t.Errorf("Compute(%v, %v) = %v, want %v", c.trust, c.hyp, got, c.want)
		}
	}
}

func TestComputeIsPure(t *testing.T) {
	t.Parallel()

	a := Compute(types.DataTrustDegraded, types.HypothesisWeakening)
	b := Compute(types.DataTrustDegraded, types.HypothesisWeakening)
	if a != b {
		t.Error("Compute should be a pure function of its inputs")
	}
}
