// Package strategic confirms, rejects, or marks uncertain a tactical ticket
// by fitting a trend to recent history and checking cumulative-damage
// thresholds, so transient spikes don't reach the specialist set.
package strategic

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

const trendWindow = 30

// CumulativeLimits carries the category-specific cumulative indicator
// ceilings used by rule 4.
type CumulativeLimits struct {
	MechanicalDamageCritical      float64
	WellControlGasMigrationCritical float64
}

// DefaultCumulativeLimits returns placeholder ceilings; no configuration key
// sets them, and the engine facade uses these values as they are.
func DefaultCumulativeLimits() CumulativeLimits {
	return CumulativeLimits{MechanicalDamageCritical: 100, WellControlGasMigrationCritical: 50}
}

// Verify evaluates ticket against the history ring (entries newest-first,
// as returned by history.Ring.SnapshotLast, and ringCapacity the ring's
// configured capacity N) and returns a verdict plus a possibly-escalated
// severity.
func Verify(ticket types.Ticket, entries []types.HistoryEntry, ringCapacity int, limits CumulativeLimits) (types.VerifierVerdict, types.Severity) {
	n := len(entries)

	// Rule 1: data confidence. "Fewer than ceil(0.6*N) entries present"
	// compares against the ring's configured capacity, not how many
	// entries happen to have been requested or returned.
	required := int(math.Ceil(0.6 * float64(ringCapacity)))
	if n < required {
		return types.VerifierUncertain, ticket.InitialSeverity
	}

	window := entries
	if len(window) > trendWindow {
		window = window[:trendWindow]
	}
	xs, ys := buildSeries(window, ticket.TriggerMetricID)

	if len(xs) < 3 {
		return types.VerifierUncertain, ticket.InitialSeverity
	}

	alpha, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, slope)

	maxZ := 0.0
	for _, e := range window {
		z := zScoreFor(e, ticket.TriggerMetricID)
		if math.Abs(z) > maxZ {
			maxZ = math.Abs(z)
		}
	}

	// Rule 2: trend consistency.
	if r2 < 0.5 && maxZ < 3 {
		return types.VerifierRejected, ticket.InitialSeverity
	}

	// Rule 3: acceleration.
	if slope > 0 && r2 >= 0.7 {
		return types.VerifierConfirmed, ticket.InitialSeverity
	}

	// Rule 4: cumulative threshold.
	cumulative := cumulativeIndicator(window, ticket.Category)
	limit := limitFor(ticket.Category, limits)
	if limit > 0 && cumulative > limit {
		return types.VerifierConfirmed, escalate(ticket.InitialSeverity)
	}

	// Rule 5: default.
	return types.VerifierUncertain, ticket.InitialSeverity
}

func buildSeries(window []types.HistoryEntry, metricID string) (xs, ys []float64) {
	xs = make([]float64, len(window))
	ys = make([]float64, len(window))
	for i, e := range window {
		xs[i] = e.Packet.Timestamp
		ys[i] = metricValue(e, metricID)
	}
	return xs, ys
}

func metricValue(e types.HistoryEntry, metricID string) float64 {
	switch metricID {
	case "mse":
		return e.Metrics.MSE
	case "mse_efficiency":
		return e.Metrics.MSEEfficiency
	case "flow_balance":
		return e.Metrics.FlowBalance
	case "ecd_margin":
		return e.Metrics.ECDMargin
	case "d_exponent":
		return e.Metrics.DExponent
	default:
		return e.Metrics.MSE
	}
}

func zScoreFor(e types.HistoryEntry, metricID string) float64 {
	// Without a baseline reference at this layer, lean on the signed
	// magnitude of the metric itself as a coarse proxy for the window-local
	// max-z gate; the baseline manager's own z-scores already gated ticket
	// creation upstream in the tactical gate.
	return metricValue(e, metricID)
}

func cumulativeIndicator(window []types.HistoryEntry, category types.Category) float64 {
	switch category {
	case types.CategoryWellControl:
		var sum float64
		for _, e := range window {
			if e.Metrics.FlowBalance > 0 {
				sum += e.Metrics.FlowBalance
			}
		}
		return sum
	default:
		var sum float64
		for _, e := range window {
			if e.Metrics.MSEEfficiencyOK && e.Metrics.MSEEfficiency < 80 {
				sum += 80 - e.Metrics.MSEEfficiency
			}
		}
		return sum
	}
}

func limitFor(category types.Category, limits CumulativeLimits) float64 {
	if category == types.CategoryWellControl {
		return limits.WellControlGasMigrationCritical
	}
	return limits.MechanicalDamageCritical
}

func escalate(s types.Severity) types.Severity {
	if s < types.SeverityCritical {
		return s + 1
	}
	return s
}
