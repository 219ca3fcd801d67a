package specialists

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func TestFixedSet_OrderAndIDs(t *testing.T) {
	set := FixedSet()
	require.Len(t, set, 4)
	assert.Equal(t, types.CategoryMSE, set[0].ID())
	assert.Equal(t, types.CategoryHydraulic, set[1].ID())
	assert.Equal(t, types.CategoryWellControl, set[2].ID())
	assert.Equal(t, types.CategoryFormation, set[3].ID())
}

func TestMSESpecialist_SeverityLadder(t *testing.T) {
	sp := mseSpecialist{}
	cases := []struct {
		eff  float64
		want types.Severity
	}{
		{85, types.SeverityLow},
		{70, types.SeverityMedium},
		{55, types.SeverityHigh},
		{40, types.SeverityCritical},
	}
	for _, c := range cases {
		m := types.Metrics{MSEEfficiency: c.eff, MSEEfficiencyOK: true}
		vote := sp.Evaluate(types.Ticket{}, m, nil, Thresholds{})
		assert.Equal(t, c.want, vote.Severity, "efficiency %.0f", c.eff)
	}
}

func TestMSESpecialist_BaselineNotReady(t *testing.T) {
	sp := mseSpecialist{}
	vote := sp.Evaluate(types.Ticket{}, types.Metrics{MSEEfficiencyOK: false}, nil, Thresholds{})
	assert.Equal(t, types.SeverityLow, vote.Severity)
	assert.Contains(t, vote.Rationale, "cannot evaluate")
}

func TestHydraulicSpecialist_CannotVerifyWithoutFractureGradient(t *testing.T) {
	sp := hydraulicSpecialist{}
	vote := sp.Evaluate(types.Ticket{}, types.Metrics{ECDMarginOK: false}, nil, Thresholds{})
	assert.Equal(t, types.SeverityLow, vote.Severity)
	assert.Contains(t, vote.Rationale, "cannot verify")
}

func TestHydraulicSpecialist_ThresholdLadder(t *testing.T) {
	sp := hydraulicSpecialist{}
	th := Thresholds{ECDMarginWarningPPG: 0.7, ECDMarginCriticalPPG: 0.3}

	vote := sp.Evaluate(types.Ticket{}, types.Metrics{ECDMargin: 1.0, ECDMarginOK: true}, nil, th)
	assert.Equal(t, types.SeverityLow, vote.Severity)

	vote = sp.Evaluate(types.Ticket{}, types.Metrics{ECDMargin: 0.5, ECDMarginOK: true}, nil, th)
	assert.Equal(t, types.SeverityHigh, vote.Severity)

	vote = sp.Evaluate(types.Ticket{}, types.Metrics{ECDMargin: 0.1, ECDMarginOK: true}, nil, th)
	assert.Equal(t, types.SeverityCritical, vote.Severity)
}

func TestWellControlSpecialist_FlowBalanceLadder(t *testing.T) {
	sp := wellControlSpecialist{}
	th := Thresholds{FlowImbalanceWarningGPM: 5, FlowImbalanceCriticalGPM: 10}

	vote := sp.Evaluate(types.Ticket{}, types.Metrics{FlowBalance: 2}, nil, th)
	assert.Equal(t, types.SeverityLow, vote.Severity)

	vote = sp.Evaluate(types.Ticket{}, types.Metrics{FlowBalance: 7}, nil, th)
	assert.Equal(t, types.SeverityHigh, vote.Severity)

	vote = sp.Evaluate(types.Ticket{}, types.Metrics{FlowBalance: 11}, nil, th)
	assert.Equal(t, types.SeverityCritical, vote.Severity)

	// Signed magnitude: a large negative imbalance (losing returns) is just
	// as critical as a large positive one (gaining returns).
	vote = sp.Evaluate(types.Ticket{}, types.Metrics{FlowBalance: -11}, nil, th)
	assert.Equal(t, types.SeverityCritical, vote.Severity)
}

func TestFormationSpecialist_DExponentUnavailable(t *testing.T) {
	sp := formationSpecialist{}
	vote := sp.Evaluate(types.Ticket{}, types.Metrics{DExponentOK: false}, nil, Thresholds{})
	assert.Equal(t, types.SeverityLow, vote.Severity)
	assert.Contains(t, vote.Rationale, "unavailable")
}

func TestFormationSpecialist_ShiftSeverity(t *testing.T) {
	sp := formationSpecialist{}
	th := Thresholds{DExponentShiftThreshold: 0.15}
	window := make([]types.HistoryEntry, 10)
	for i := range window {
		window[i] = types.HistoryEntry{Metrics: types.Metrics{DExponent: 1.0, DExponentOK: true}}
	}
	current := types.Metrics{DExponent: 1.4, DExponentOK: true}
	vote := sp.Evaluate(types.Ticket{}, current, window, th)
	assert.Equal(t, types.SeverityCritical, vote.Severity, "40%% shift should exceed 2x threshold")
}
