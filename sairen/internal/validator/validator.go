// Package validator rejects implausible telemetry packets and classifies the
// rig's operating state before any downstream phase sees the packet.
package validator

import (
	"fmt"
	"math"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// Thresholds for the rig-state decision table; all are in the packet's
// native units (gpm, klbs, rpm, ft/min).
type Thresholds struct {
	DrillingMinRPM       float64
	DrillingMinWOBKlbs   float64
	FlowActiveGPM        float64
	MillingMinTorque     float64
	MillingMaxROP        float64
	CementDrillOutMinWOB float64
	CementDrillOutMinTorque float64
	CementDrillOutMaxROP   float64
}

// DefaultThresholds returns the decision-table constants from the rig-state
// classification rules.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DrillingMinRPM:          10,
		DrillingMinWOBKlbs:      5,
		FlowActiveGPM:           50,
		MillingMinTorque:        15,
		MillingMaxROP:           5,
		CementDrillOutMinWOB:    15,
		CementDrillOutMinTorque: 12,
		CementDrillOutMaxROP:    20,
	}
}

// Error describes why a packet was rejected; the pipeline logs it and
// continues rather than propagating it upward.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("packet rejected: %s", e.Reason) }

// Validate rejects packets with non-finite or physically impossible values.
// It never panics and never mutates p.
func Validate(p types.Packet) error {
	fields := map[string]float64{
		"rop": p.ROP, "wob": p.WOB, "rpm": p.RPM, "torque": p.Torque,
		"spp": p.SPP, "hook_load": p.HookLoad, "flow_in": p.FlowInGPM,
		"flow_out": p.FlowOutGPM, "pit_volume": p.PitVolumeBBL,
		"mud_weight": p.MudWeightPPG, "ecd": p.ECD, "gas_units": p.GasUnits,
	}
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &Error{Reason: fmt.Sprintf("%s is non-finite", name)}
		}
	}
	if p.FlowInGPM < 0 || p.FlowOutGPM < 0 {
		return &Error{Reason: "negative flow"}
	}
	if p.PitVolumeBBL < 0 {
		return &Error{Reason: "negative pit volume"}
	}
	if p.RPM < 0 {
		return &Error{Reason: "negative rpm"}
	}
	if p.SPP < 0 || p.SPP > 25000 {
		return &Error{Reason: "spp outside [0,25000] psi"}
	}
	if p.ECD < 0 || p.ECD > 25000 {
		return &Error{Reason: "ecd outside [0,25000]"}
	}
	return nil
}

// Classify assigns a RigState to a validated packet using the decision
// table, with the two P&A campaign sub-states layered on top.
func Classify(p types.Packet, t Thresholds) types.RigState {
	onBottom := p.OnBottom
	highRPM := p.RPM >= t.DrillingMinRPM
	highWOB := p.WOB >= t.DrillingMinWOBKlbs
	flowing := p.FlowInGPM >= t.FlowActiveGPM
	significantBlockMove := math.Abs(p.BlockVelocityFPM) > 1.0

	if p.Campaign == types.CampaignPandA {
		if p.Torque > t.MillingMinTorque && p.ROP < t.MillingMaxROP {
			return types.RigStateMilling
		}
		if p.WOB > t.CementDrillOutMinWOB && p.Torque > t.CementDrillOutMinTorque && p.ROP < t.CementDrillOutMaxROP {
			return types.RigStateCementDrillOut
		}
	}

	switch {
	case onBottom && highRPM && highWOB && flowing:
		return types.RigStateDrilling
	case onBottom && highRPM && p.BlockVelocityFPM > 1.0:
		return types.RigStateReaming
	case (!onBottom || !highRPM) && flowing && !highWOB:
		return types.RigStateCirculating
	case significantBlockMove && !flowing:
		return types.RigStateTripping
	case !highRPM && !highWOB && !flowing:
		return types.RigStateStaticConnection
	default:
		return types.RigStateUnknown
	}
}
