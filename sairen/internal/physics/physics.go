// Package physics derives MSE, d-exponent, ECD margin and related metrics
// from a packet (and, where needed, the previous packet). Every function in
// this package is pure and never panics: unusable inputs degrade to a
// flagged, previous-value-carried result rather than propagating an error.
package physics

import (
	"math"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

const (
	mseMin = 1000.0
	mseMax = 500000.0
)

// Config carries the campaign-configured constants the formulas need that
// are not present on the packet itself.
type Config struct {
	BitDiameterIn    float64
	NormalMudWeightPPG float64
}

// Compute derives Metrics for packet, given the previous packet (zero value
// if this is the first packet seen) and the MSE baseline if known (baseline
// OK is false before the baseline manager has locked a threshold).
func Compute(p types.Packet, prev types.Packet, havePrev bool, cfg Config, mseBaseline float64, mseBaselineOK bool, prevMSE float64) types.Metrics {
	m := types.Metrics{}

	m.MSE = computeMSE(p, cfg, prevMSE)

	if d, ok := computeDExponent(p, cfg); ok {
		m.DExponent = d
		m.DExponentOK = true
		if p.MudWeightPPG > 0 && cfg.NormalMudWeightPPG > 0 {
			m.DXC = d * cfg.NormalMudWeightPPG / p.MudWeightPPG
			m.DXCOK = true
		}
	}

	if p.HasFractureGrad {
		m.ECDMargin = p.FractureGradient - p.ECD
		m.ECDMarginOK = true
	}

	m.FlowBalance = p.FlowOutGPM - p.FlowInGPM

	if havePrev {
		dt := p.Timestamp - prev.Timestamp
		if dt > 0 {
			m.PitRateBBLPerMin = (p.PitVolumeBBL - prev.PitVolumeBBL) / (dt / 60.0)
		}
	}

	if mseBaselineOK && m.MSE > 0 {
		eff := 100.0 * mseBaseline / m.MSE
		if eff > 100 {
			eff = 100
		}
		m.MSEEfficiency = eff
		m.MSEEfficiencyOK = true
	} else {
		m.MSEEfficiency = -1
		m.MSEEfficiencyOK = false
	}

	if m.MSEEfficiencyOK && m.MSEEfficiency < 50 {
		m.AnomalyFlags = append(m.AnomalyFlags, types.FlagMSEEfficiencyLow)
	}
	if m.ECDMarginOK && m.ECDMargin < 0.5 {
		m.AnomalyFlags = append(m.AnomalyFlags, types.FlagECDMarginLow)
	}

	return m
}

// computeMSE implements the mechanical specific energy formula, clamped to
// a physically plausible range and falling back to the previous valid value
// on non-finite inputs (e.g. ROP == 0).
func computeMSE(p types.Packet, cfg Config, prevMSE float64) float64 {
	d := cfg.BitDiameterIn
	if d <= 0 || p.ROP <= 0 {
		return clampOrFallback(prevMSE, prevMSE)
	}
	term1 := (480.0 * p.WOB) / (math.Pi * d * d * p.ROP)
	term2 := (4.0 * math.Pi * p.RPM * p.Torque) / (d * d * p.ROP)
	mse := term1 + term2
	return clampOrFallback(mse, prevMSE)
}

func clampOrFallback(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		if fallback < mseMin || fallback > mseMax || math.IsNaN(fallback) {
			return mseMin
		}
		return fallback
	}
	if v < mseMin {
		return mseMin
	}
	if v > mseMax {
		return mseMax
	}
	return v
}

// computeDExponent implements the normalized rate-of-penetration exponent.
// It is skipped (ok=false) whenever either logarithm argument would be <= 0.
func computeDExponent(p types.Packet, cfg Config) (float64, bool) {
	d := cfg.BitDiameterIn
	if d <= 0 || p.RPM <= 0 || p.WOB <= 0 {
		return 0, false
	}
	arg1 := p.ROP / (60.0 * p.RPM)
	arg2 := (12.0 * p.WOB) / (1e6 * d)
	if arg1 <= 0 || arg2 <= 0 {
		return 0, false
	}
	val := math.Log(arg1) / math.Log(arg2)
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, false
	}
	return val, true
}
