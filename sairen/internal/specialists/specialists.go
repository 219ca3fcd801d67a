// Package specialists implements the four fixed domain evaluators that vote
// on a confirmed ticket: MSE, Hydraulic, Well Control and Formation. Each
// satisfies the same Specialist contract so the orchestrator can dispatch
// over a fixed-size slice without a registry.
package specialists

import (
	"fmt"
	"math"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// Thresholds carries the campaign-specific constants the specialists need.
type Thresholds struct {
	Campaign types.Campaign

	ECDMarginWarningPPG  float64
	ECDMarginCriticalPPG float64

	FlowImbalanceWarningGPM  float64
	FlowImbalanceCriticalGPM float64

	DExponentShiftThreshold float64
}

// DefaultThresholds returns the default thresholds; every campaign gets the
// same values, including the 5/10 gpm Well Control thresholds.
func DefaultThresholds(campaign types.Campaign) Thresholds {
	t := Thresholds{
		Campaign:                campaign,
		ECDMarginWarningPPG:     0.7,
		ECDMarginCriticalPPG:    0.3,
		FlowImbalanceWarningGPM: 5,
		FlowImbalanceCriticalGPM: 10,
		DExponentShiftThreshold: 0.15,
	}
	return t
}

// Specialist evaluates one confirmed ticket and returns its vote.
type Specialist interface {
	ID() types.Category
	Evaluate(ticket types.Ticket, metrics types.Metrics, window []types.HistoryEntry, thresholds Thresholds) types.SpecialistVote
}

// FixedSet returns the four specialists in a stable order matching the
// orchestrator's ensemble-weight ordering (MSE, Hydraulic, WellControl,
// Formation).
func FixedSet() [4]Specialist {
	return [4]Specialist{mseSpecialist{}, hydraulicSpecialist{}, wellControlSpecialist{}, formationSpecialist{}}
}

type mseSpecialist struct{}

func (mseSpecialist) ID() types.Category { return types.CategoryMSE }

func (mseSpecialist) Evaluate(ticket types.Ticket, m types.Metrics, _ []types.HistoryEntry, _ Thresholds) types.SpecialistVote {
	if !m.MSEEfficiencyOK {
		return types.SpecialistVote{SpecialistID: types.CategoryMSE, Severity: types.SeverityLow, Rationale: "MSE efficiency baseline not ready; cannot evaluate"}
	}
	eff := m.MSEEfficiency
	var sev types.Severity
	switch {
	case eff >= 80:
		sev = types.SeverityLow
	case eff >= 65:
		sev = types.SeverityMedium
	case eff >= 50:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityCritical
	}
	return types.SpecialistVote{
		SpecialistID: types.CategoryMSE,
		Severity:     sev,
		Rationale:    fmt.Sprintf("MSE efficiency %.1f%% vs baseline", eff),
	}
}

type hydraulicSpecialist struct{}

func (hydraulicSpecialist) ID() types.Category { return types.CategoryHydraulic }

func (hydraulicSpecialist) Evaluate(ticket types.Ticket, m types.Metrics, window []types.HistoryEntry, th Thresholds) types.SpecialistVote {
	if !m.ECDMarginOK {
		return types.SpecialistVote{SpecialistID: types.CategoryHydraulic, Severity: types.SeverityLow, Rationale: "fracture gradient unavailable; cannot verify ECD margin"}
	}
	margin := m.ECDMargin
	var sev types.Severity
	switch {
	case margin < th.ECDMarginCriticalPPG:
		sev = types.SeverityCritical
	case margin < th.ECDMarginWarningPPG:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityLow
	}

	// window is newest-first, so window[0] is the packet under evaluation.
	var currentSPP float64
	if len(window) > 0 {
		currentSPP = window[0].Packet.SPP
	}
	if sppDev := sppDeviation(window, currentSPP); sppDev > 2 && sev < types.SeverityMedium {
		sev = types.SeverityMedium
	}

	return types.SpecialistVote{
		SpecialistID: types.CategoryHydraulic,
		Severity:     sev,
		Rationale:    fmt.Sprintf("ECD margin %.2f ppg", margin),
	}
}

func sppDeviation(window []types.HistoryEntry, current float64) float64 {
	if len(window) == 0 {
		return 0
	}
	n := len(window)
	if n > 60 {
		window = window[:60]
		n = 60
	}
	var sum float64
	for _, e := range window {
		sum += e.Packet.SPP
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	return math.Abs(current-mean) / mean * 100
}

type wellControlSpecialist struct{}

func (wellControlSpecialist) ID() types.Category { return types.CategoryWellControl }

func (wellControlSpecialist) Evaluate(ticket types.Ticket, m types.Metrics, _ []types.HistoryEntry, th Thresholds) types.SpecialistVote {
	mag := math.Abs(m.FlowBalance)
	var sev types.Severity
	switch {
	case mag > th.FlowImbalanceCriticalGPM:
		sev = types.SeverityCritical
	case mag > th.FlowImbalanceWarningGPM:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityLow
	}
	return types.SpecialistVote{
		SpecialistID: types.CategoryWellControl,
		Severity:     sev,
		Rationale:    fmt.Sprintf("flow balance %.1f gpm (campaign=%s)", m.FlowBalance, th.Campaign),
	}
}

type formationSpecialist struct{}

func (formationSpecialist) ID() types.Category { return types.CategoryFormation }

func (formationSpecialist) Evaluate(ticket types.Ticket, m types.Metrics, window []types.HistoryEntry, th Thresholds) types.SpecialistVote {
	if !m.DExponentOK || len(window) < 2 {
		return types.SpecialistVote{SpecialistID: types.CategoryFormation, Severity: types.SeverityLow, Rationale: "d-exponent unavailable"}
	}
	var sum float64
	n := 0
	for _, e := range window {
		if e.Metrics.DExponentOK {
			sum += e.Metrics.DExponent
			n++
		}
	}
	if n == 0 {
		return types.SpecialistVote{SpecialistID: types.CategoryFormation, Severity: types.SeverityLow, Rationale: "d-exponent unavailable"}
	}
	mean := sum / float64(n)
	if mean == 0 {
		return types.SpecialistVote{SpecialistID: types.CategoryFormation, Severity: types.SeverityLow, Rationale: "formation baseline flat"}
	}
	shift := math.Abs(m.DExponent-mean) / math.Abs(mean)

	var sev types.Severity
	switch {
	case shift > th.DExponentShiftThreshold*2:
		sev = types.SeverityCritical
	case shift > th.DExponentShiftThreshold:
		sev = types.SeverityHigh
	case shift > th.DExponentShiftThreshold/2:
		sev = types.SeverityMedium
	default:
		sev = types.SeverityLow
	}
	return types.SpecialistVote{
		SpecialistID: types.CategoryFormation,
		Severity:     sev,
		Rationale:    fmt.Sprintf("d-exponent shift %.1f%% over window", shift*100),
	}
}
