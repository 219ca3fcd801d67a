// Package causal cross-correlates candidate leading parameters against MSE
// over a lagged window of recent history, surfacing the strongest leads for
// the advisory composer to cite in its recommendation text.
package causal

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

const (
	minHistoryEntries = 20
	maxLagSeconds     = 20
	minAbsR           = 0.45
	maxLeads          = 3
)

var candidateParameters = []string{"wob", "rpm", "torque", "spp", "rop"}

// Detect cross-correlates each candidate parameter against MSE at lags 1..20
// seconds using Pearson r on mean-centered values, excluding the current
// packet to avoid self-correlation. It returns up to 3 leads with |r| >= 0.45,
// sorted by |r| descending. Entries must be ordered oldest-first.
func Detect(entries []types.HistoryEntry) []types.CausalLead {
	if len(entries) < minHistoryEntries {
		return nil
	}
	// The newest entry is the packet being processed; leave it out.
	entries = entries[:len(entries)-1]

	mse := make([]float64, len(entries))
	for i, e := range entries {
		mse[i] = e.Metrics.MSE
	}

	var leads []types.CausalLead
	for _, param := range candidateParameters {
		series := extract(entries, param)
		maxLag := maxLagSeconds
		if maxLag > len(entries)-1 {
			maxLag = len(entries) - 1
		}
		for lag := 1; lag <= maxLag; lag++ {
			x := series[:len(series)-lag]
			y := mse[lag:]
			if len(x) < 2 || len(y) < 2 {
				continue
			}
			r := stat.Correlation(x, y, nil)
			if isUnusable(r) {
				continue
			}
			if abs(r) >= minAbsR {
				leads = append(leads, types.CausalLead{ParameterID: param, LagSeconds: lag, R: r})
			}
		}
	}

	sort.SliceStable(leads, func(i, j int) bool { return abs(leads[i].R) > abs(leads[j].R) })
	if len(leads) > maxLeads {
		leads = leads[:maxLeads]
	}
	return leads
}

func extract(entries []types.HistoryEntry, param string) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		switch param {
		case "wob":
			out[i] = e.Packet.WOB
		case "rpm":
			out[i] = e.Packet.RPM
		case "torque":
			out[i] = e.Packet.Torque
		case "spp":
			out[i] = e.Packet.SPP
		case "rop":
			out[i] = e.Packet.ROP
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func isUnusable(v float64) bool { return v != v } // NaN check without importing math twice
