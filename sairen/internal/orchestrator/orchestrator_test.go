package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func votes(mse, hyd, wc, form types.Severity) []types.SpecialistVote {
	return []types.SpecialistVote{
		{SpecialistID: types.CategoryMSE, Severity: mse},
		{SpecialistID: types.CategoryHydraulic, Severity: hyd},
		{SpecialistID: types.CategoryWellControl, Severity: wc},
		{SpecialistID: types.CategoryFormation, Severity: form},
	}
}

func TestVote_WeightsSumToOne(t *testing.T) {
	base := DefaultWeights(types.CampaignProduction)
	result := Vote(votes(types.SeverityLow, types.SeverityLow, types.SeverityLow, types.SeverityLow), base, 0)
	sum := 0.0
	for _, v := range result.Votes {
		sum += v.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestVote_RegimeZeroFallbackToEqualWeights(t *testing.T) {
	pathological := EnsembleWeights{MSE: 0, Hydraulic: 0, WellControl: 0, Formation: 0}
	result := Vote(votes(types.SeverityLow, types.SeverityLow, types.SeverityLow, types.SeverityLow), pathological, 0)
	for _, v := range result.Votes {
		assert.InDelta(t, 0.25, v.Weight, 1e-9)
	}
}

func TestVote_WellControlCriticalForcesCriticalRegardlessOfScore(t *testing.T) {
	base := DefaultWeights(types.CampaignProduction)
	result := Vote(votes(types.SeverityLow, types.SeverityLow, types.SeverityCritical, types.SeverityLow), base, 0)
	assert.Equal(t, types.SeverityCritical, result.FinalSeverity)
	assert.Equal(t, types.RiskCritical, result.RiskLevel)
}

func TestVote_SeverityBoundaryIsStrictGreaterThan(t *testing.T) {
	// Construct weights/severities that land the weighted score at exactly
	// 2.5: with equal 0.25 weights, (Low=1)*0.25*2 + (High=3)*0.25*2 = 2.0;
	// use Medium(2)+High(3)+Medium(2)+High(3) at 0.25 each = 2.5 exactly.
	equal := EnsembleWeights{MSE: 0.25, Hydraulic: 0.25, WellControl: 0.25, Formation: 0.25}
	result := Vote(votes(types.SeverityMedium, types.SeverityHigh, types.SeverityMedium, types.SeverityHigh), equal, 0)
	assert.InDelta(t, 2.5, result.EfficiencyScore, 1e-9)
	assert.Equal(t, types.SeverityMedium, result.FinalSeverity, "exactly 2.5 must land on Medium, not High")
}

func TestVote_RegimeIDOutOfRangeClampsToUnstable(t *testing.T) {
	base := DefaultWeights(types.CampaignProduction)
	result := Vote(votes(types.SeverityLow, types.SeverityLow, types.SeverityLow, types.SeverityLow), base, 99)
	assert.Equal(t, 3, result.RegimeID)
	assert.Equal(t, "unstable", result.RegimeLabel)
}

func TestVote_RiskLevelMapping(t *testing.T) {
	base := DefaultWeights(types.CampaignProduction)

	result := Vote(votes(types.SeverityLow, types.SeverityLow, types.SeverityLow, types.SeverityLow), base, 0)
	assert.Equal(t, types.RiskLow, result.RiskLevel)

	result = Vote(votes(types.SeverityCritical, types.SeverityCritical, types.SeverityLow, types.SeverityCritical), base, 0)
	assert.Equal(t, types.RiskHigh, result.RiskLevel)
}

func TestRegimeProfileFor_ClampsNegativeToLast(t *testing.T) {
	p := RegimeProfileFor(-1)
	assert.Equal(t, "unstable", p.Label)
}
