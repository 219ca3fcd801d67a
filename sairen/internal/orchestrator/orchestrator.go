// Package orchestrator fuses the four specialist votes into a single
// weighted verdict, applying campaign weights, regime multipliers, and the
// non-overridable Well Control safety override.
package orchestrator

import "github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"

// EnsembleWeights are the base per-specialist weights for one campaign; they
// must sum to 1.0 (validated at config load time).
type EnsembleWeights struct {
	MSE, Hydraulic, WellControl, Formation float64
}

// DefaultWeights returns the spec's per-campaign base weights.
func DefaultWeights(campaign types.Campaign) EnsembleWeights {
	if campaign == types.CampaignPandA {
		return EnsembleWeights{MSE: 0.15, Hydraulic: 0.35, WellControl: 0.40, Formation: 0.10}
	}
	return EnsembleWeights{MSE: 0.25, Hydraulic: 0.25, WellControl: 0.30, Formation: 0.20}
}

// RegimeProfile is the per-specialist multiplier applied for one of the four
// fixed regimes (0: Baseline, 1: Hydraulic-stress, 2: High-WOB, 3: Unstable).
type RegimeProfile struct {
	MSE, Hydraulic, WellControl, Formation float64
	Label                                  string
}

var regimeProfiles = [4]RegimeProfile{
	{MSE: 1.0, Hydraulic: 1.0, WellControl: 1.0, Formation: 1.0, Label: "baseline"},
	{MSE: 0.8, Hydraulic: 1.4, WellControl: 1.0, Formation: 0.8, Label: "hydraulic-stress"},
	{MSE: 1.4, Hydraulic: 0.8, WellControl: 0.9, Formation: 1.1, Label: "high-wob"},
	{MSE: 0.7, Hydraulic: 1.0, WellControl: 1.5, Formation: 0.8, Label: "unstable"},
}

// RegimeProfileFor clamps out-of-range ids to the last profile (Unstable).
func RegimeProfileFor(regimeID int) RegimeProfile {
	if regimeID < 0 || regimeID >= len(regimeProfiles) {
		return regimeProfiles[len(regimeProfiles)-1]
	}
	return regimeProfiles[regimeID]
}

// Result is the orchestrator's fused verdict, returned to the advisory
// composer for cooldown handling and recommendation assembly.
type Result = types.VotingResult

// Vote fuses votes (one per specialist, order not significant) into a
// VotingResult using the base weights and the regime id.
func Vote(votes []types.SpecialistVote, base EnsembleWeights, regimeID int) Result {
	profile := RegimeProfileFor(regimeID)

	weighted := make(map[types.Category]float64, 4)
	weighted[types.CategoryMSE] = base.MSE * profile.MSE
	weighted[types.CategoryHydraulic] = base.Hydraulic * profile.Hydraulic
	weighted[types.CategoryWellControl] = base.WellControl * profile.WellControl
	weighted[types.CategoryFormation] = base.Formation * profile.Formation

	sum := weighted[types.CategoryMSE] + weighted[types.CategoryHydraulic] + weighted[types.CategoryWellControl] + weighted[types.CategoryFormation]
	if sum <= 0 {
		weighted[types.CategoryMSE] = 0.25
		weighted[types.CategoryHydraulic] = 0.25
		weighted[types.CategoryWellControl] = 0.25
		weighted[types.CategoryFormation] = 0.25
		sum = 1.0
	} else {
		for cat := range weighted {
			weighted[cat] /= sum
		}
	}

	score := 0.0
	wellControlCritical := false
	out := make([]types.SpecialistVote, 0, len(votes))
	for _, v := range votes {
		w := weighted[v.SpecialistID]
		v.Weight = w
		out = append(out, v)
		score += w * v.Severity.Ordinal()
		if v.SpecialistID == types.CategoryWellControl && v.Severity == types.SeverityCritical {
			wellControlCritical = true
		}
	}

	finalSeverity := severityFromScore(score)
	if wellControlCritical {
		finalSeverity = types.SeverityCritical
	}

	return Result{
		Votes:           out,
		FinalSeverity:   finalSeverity,
		RiskLevel:       riskFromSeverity(finalSeverity),
		EfficiencyScore: score,
		RegimeID:        clampRegime(regimeID),
		RegimeLabel:     profile.Label,
	}
}

// severityFromScore maps the weighted score to FinalSeverity using strict
// greater-than boundaries, so an exact 2.5 lands on Medium, not High.
func severityFromScore(score float64) types.Severity {
	switch {
	case score > 3.25:
		return types.SeverityCritical
	case score > 2.5:
		return types.SeverityHigh
	case score > 1.5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func riskFromSeverity(s types.Severity) types.RiskLevel {
	switch s {
	case types.SeverityMedium:
		return types.RiskElevated
	case types.SeverityHigh:
		return types.RiskHigh
	case types.SeverityCritical:
		return types.RiskCritical
	default:
		return types.RiskLow
	}
}

func clampRegime(regimeID int) int {
	if regimeID < 0 || regimeID >= len(regimeProfiles) {
		return len(regimeProfiles) - 1
	}
	return regimeID
}
