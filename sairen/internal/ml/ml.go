// Package ml implements the background analyzer: a periodic batch job that
// filters a window of recent history down to clean drilling samples,
// segments out formation transitions, correlates parameters against ROP and
// MSE, and picks the operating bin that maximizes a composite score of
// rate, efficiency and stability.
package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// Config governs binning resolution and campaign composite weights.
type Config struct {
	WOBBins        int
	RPMBins        int
	MinBinSamples  int
	CompositeWeights CompositeWeights
}

// CompositeWeights are the per-campaign weights on normalized ROP,
// normalized MSE efficiency and stability that form the composite score.
type CompositeWeights struct {
	ROP, MSEEfficiency, Stability float64
}

// DefaultConfig returns the spec's default binning resolution.
func DefaultConfig(campaign types.Campaign) Config {
	weights := CompositeWeights{ROP: 0.5, MSEEfficiency: 0.3, Stability: 0.2}
	if campaign == types.CampaignPandA {
		weights = CompositeWeights{ROP: 0.25, MSEEfficiency: 0.45, Stability: 0.30}
	}
	return Config{WOBBins: 8, RPMBins: 6, MinBinSamples: 10, CompositeWeights: weights}
}

const (
	minValidForSegmentation = 360
	dysfunctionWindow       = 10
	formationWindow         = 60
	formationShiftThreshold = 0.15
)

// Analyze runs the full pipeline over entries (oldest-first) and returns a
// report. Analyze never panics; every failure mode is a typed report status.
func Analyze(entries []types.HistoryEntry, cfg Config, campaign types.Campaign, wellID, field string) types.MLReport {
	base := types.MLReport{Campaign: campaign, WellID: wellID, FieldName: field}

	quality := qualityFilter(entries)
	if len(quality) == 0 {
		base.Status = types.MLStatusAllDataRejected
		base.FailureReason = "all samples rejected by quality filter"
		return base
	}

	clean, _ := dysfunctionFilter(quality)
	if len(clean) < minValidForSegmentation {
		base.Status = types.MLStatusInsufficientData
		base.FailureReason = "insufficient valid samples after dysfunction filter"
		return base
	}

	segment, formationLabel, ok := largestFormationSegment(clean)
	if !ok {
		base.Status = types.MLStatusUnstableFormation
		base.FailureReason = "no stable formation segment of sufficient size"
		return base
	}

	correlations := correlate(segment)

	bins := buildBins(segment, cfg)
	winner, sampleCount, found := pickWinningBin(bins, cfg)
	if !found {
		base.Status = types.MLStatusInsufficientData
		base.FailureReason = "no bin met minimum sample threshold"
		return base
	}

	base.Status = types.MLStatusSuccess
	base.OptimalWOB = winner.wobRange
	base.OptimalRPM = winner.rpmRange
	base.OptimalFlow = winner.flowRange
	base.CompositeScore = winner.composite
	base.StabilityScore = winner.stability
	base.Correlations = correlations
	base.BinSampleCount = sampleCount
	base.ConfidenceTier = confidenceTier(len(segment))
	base.FormationEstimate = formationLabel
	return base
}

// qualityFilter drops samples with implausible or off-bottom readings.
func qualityFilter(entries []types.HistoryEntry) []types.HistoryEntry {
	out := make([]types.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		p := e.Packet
		m := e.Metrics
		if p.WOB < 5 || p.RPM < 40 {
			continue
		}
		if m.MSE < 1000 || m.MSE > 500000 {
			continue
		}
		if p.ROP < 1 || p.ROP > 500 {
			continue
		}
		if p.RigState != types.RigStateDrilling && p.RigState != types.RigStateReaming {
			continue
		}
		out = append(out, e)
	}
	return out
}

// dysfunctionFilter drops samples whose rolling 10-sample window shows
// mechanical dysfunction signatures; it returns the surviving samples and a
// count of drops per reason (diagnostic only, not surfaced on the report).
func dysfunctionFilter(entries []types.HistoryEntry) ([]types.HistoryEntry, map[string]int) {
	reasons := map[string]int{}
	if len(entries) < dysfunctionWindow {
		return entries, reasons
	}
	out := make([]types.HistoryEntry, 0, len(entries))
	for i := range entries {
		lo := i - dysfunctionWindow + 1
		if lo < 0 {
			lo = 0
		}
		window := entries[lo : i+1]
		if isDysfunctional(window, reasons) {
			continue
		}
		out = append(out, entries[i])
	}
	return out, reasons
}

func isDysfunctional(window []types.HistoryEntry, reasons map[string]int) bool {
	torques := make([]float64, len(window))
	for i, e := range window {
		torques[i] = e.Packet.Torque
	}
	if cov(torques) > 0.12 {
		reasons["torque_cv"]++
		return true
	}
	if len(window) >= 2 {
		first, last := window[0], window[len(window)-1]
		torqueDelta := relDelta(first.Packet.Torque, last.Packet.Torque)
		sppDelta := math.Abs(last.Packet.SPP - first.Packet.SPP)
		if torqueDelta > 0.10 && sppDelta > 75 {
			reasons["torque_spp_delta"]++
			return true
		}
		wobTrend := relDelta(first.Packet.WOB, last.Packet.WOB)
		ropTrend := relDelta(first.Packet.ROP, last.Packet.ROP)
		if wobTrend > 0.03 && ropTrend < 0.01 {
			reasons["wob_up_rop_flat"]++
			return true
		}
	}
	last := window[len(window)-1]
	if last.Metrics.MSEEfficiencyOK && last.Metrics.MSEEfficiency < 50 {
		reasons["mse_efficiency_low"]++
		return true
	}
	return false
}

func cov(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := stat.Mean(values, nil)
	if mean == 0 {
		return 0
	}
	std := stat.StdDev(values, nil)
	return std / math.Abs(mean)
}

func relDelta(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / math.Abs(a)
}

// largestFormationSegment scans for d-exponent window-mean shifts greater
// than 15% and keeps the largest contiguous segment between shifts.
func largestFormationSegment(entries []types.HistoryEntry) ([]types.HistoryEntry, string, bool) {
	if len(entries) == 0 {
		return nil, "", false
	}
	boundaries := []int{0}
	for i := formationWindow; i < len(entries); i += formationWindow {
		lo1 := i - formationWindow
		hi1 := i
		lo2 := i
		hi2 := i + formationWindow
		if hi2 > len(entries) {
			hi2 = len(entries)
		}
		mean1 := meanDExponent(entries[lo1:hi1])
		mean2 := meanDExponent(entries[lo2:hi2])
		if mean1 == 0 {
			continue
		}
		if math.Abs(mean2-mean1)/math.Abs(mean1) > formationShiftThreshold {
			boundaries = append(boundaries, i)
		}
	}
	boundaries = append(boundaries, len(entries))

	bestStart, bestEnd := 0, 0
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end-start > bestEnd-bestStart {
			bestStart, bestEnd = start, end
		}
	}
	segment := entries[bestStart:bestEnd]
	if len(segment) < minValidForSegmentation {
		return nil, "", false
	}
	return segment, formationLabelFor(segment), true
}

func meanDExponent(entries []types.HistoryEntry) float64 {
	var sum float64
	n := 0
	for _, e := range entries {
		if e.Metrics.DExponentOK {
			sum += e.Metrics.DExponent
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func formationLabelFor(entries []types.HistoryEntry) string {
	mean := meanDExponent(entries)
	switch {
	case mean < 1.0:
		return "soft"
	case mean < 2.0:
		return "medium"
	default:
		return "hard"
	}
}

// correlate computes Pearson r and Student's-t p-value between each
// candidate parameter and each target metric. Pairs are retained regardless
// of significance, flagged low-confidence when p >= 0.05.
func correlate(entries []types.HistoryEntry) []types.Correlation {
	params := map[string][]float64{
		"wob":  extractField(entries, "wob"),
		"rpm":  extractField(entries, "rpm"),
		"flow": extractField(entries, "flow"),
	}
	targets := map[string][]float64{
		"rop": extractField(entries, "rop"),
		"mse": extractField(entries, "mse"),
	}

	n := len(entries)
	var out []types.Correlation
	for pname, xs := range params {
		for tname, ys := range targets {
			r := stat.Correlation(xs, ys, nil)
			p := pValueForCorrelation(r, n)
			out = append(out, types.Correlation{
				Parameter:     pname,
				Target:        tname,
				R:             r,
				PValue:        p,
				LowConfidence: p >= 0.05,
			})
		}
	}
	return out
}

// pValueForCorrelation computes the two-sided p-value for a Pearson r using
// the standard t-transform and Student's-t distribution.
func pValueForCorrelation(r float64, n int) float64 {
	if n < 3 {
		return 1.0
	}
	df := float64(n - 2)
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := r * math.Sqrt(df/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	cdf := dist.CDF(-math.Abs(t))
	return 2 * cdf
}

func extractField(entries []types.HistoryEntry, field string) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		switch field {
		case "wob":
			out[i] = e.Packet.WOB
		case "rpm":
			out[i] = e.Packet.RPM
		case "flow":
			out[i] = e.Packet.FlowInGPM
		case "rop":
			out[i] = e.Packet.ROP
		case "mse":
			out[i] = e.Metrics.MSE
		}
	}
	return out
}

type bin struct {
	wobLo, wobHi float64
	rpmLo, rpmHi float64
	rops         []float64
	mseEffs      []float64
	flows        []float64
	stabilities  []float64
}

// buildBins constructs an 8x6 (configurable) grid over the observed
// (WOB, RPM) ranges and assigns each sample to its bin.
func buildBins(entries []types.HistoryEntry, cfg Config) [][]*bin {
	wobMin, wobMax := rangeOf(entries, "wob")
	rpmMin, rpmMax := rangeOf(entries, "rpm")

	wobBins := cfg.WOBBins
	rpmBins := cfg.RPMBins
	if wobBins <= 0 {
		wobBins = 8
	}
	if rpmBins <= 0 {
		rpmBins = 6
	}

	grid := make([][]*bin, wobBins)
	wobSpan := wobMax - wobMin
	rpmSpan := rpmMax - rpmMin
	if wobSpan <= 0 {
		wobSpan = 1
	}
	if rpmSpan <= 0 {
		rpmSpan = 1
	}
	for i := 0; i < wobBins; i++ {
		grid[i] = make([]*bin, rpmBins)
		for j := 0; j < rpmBins; j++ {
			grid[i][j] = &bin{
				wobLo: wobMin + wobSpan*float64(i)/float64(wobBins),
				wobHi: wobMin + wobSpan*float64(i+1)/float64(wobBins),
				rpmLo: rpmMin + rpmSpan*float64(j)/float64(rpmBins),
				rpmHi: rpmMin + rpmSpan*float64(j+1)/float64(rpmBins),
			}
		}
	}

	for _, e := range entries {
		i := binIndex(e.Packet.WOB, wobMin, wobSpan, wobBins)
		j := binIndex(e.Packet.RPM, rpmMin, rpmSpan, rpmBins)
		b := grid[i][j]
		b.rops = append(b.rops, e.Packet.ROP)
		if e.Metrics.MSEEfficiencyOK {
			b.mseEffs = append(b.mseEffs, e.Metrics.MSEEfficiency)
		}
		b.flows = append(b.flows, e.Packet.FlowInGPM)
		b.stabilities = append(b.stabilities, stabilityFor(e))
	}
	return grid
}

func binIndex(v, lo, span float64, count int) int {
	idx := int((v - lo) / span * float64(count))
	if idx < 0 {
		idx = 0
	}
	if idx >= count {
		idx = count - 1
	}
	return idx
}

func rangeOf(entries []types.HistoryEntry, field string) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, e := range entries {
		var v float64
		switch field {
		case "wob":
			v = e.Packet.WOB
		case "rpm":
			v = e.Packet.RPM
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// stabilityFor computes 1 minus a weighted sum of dysfunction-proximity
// penalties for a single sample.
func stabilityFor(e types.HistoryEntry) float64 {
	penalty := 0.0
	if e.Metrics.MSEEfficiencyOK && e.Metrics.MSEEfficiency < 70 {
		penalty += (70 - e.Metrics.MSEEfficiency) / 70 * 0.5
	}
	if math.Abs(e.Metrics.FlowBalance) > 2 {
		penalty += 0.2
	}
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}

type winningBin struct {
	wobRange, rpmRange, flowRange types.OperatingRange
	composite, stability          float64
}

// pickWinningBin normalizes median ROP/efficiency/stability across bins
// with sufficient samples, computes the campaign-weighted composite score,
// and returns the maximizing bin.
func pickWinningBin(grid [][]*bin, cfg Config) (winningBin, int, bool) {
	type candidate struct {
		b                       *bin
		medROP, medEff, medStab float64
		count                   int
	}
	var candidates []candidate
	for _, row := range grid {
		for _, b := range row {
			if len(b.rops) < cfg.MinBinSamples {
				continue
			}
			candidates = append(candidates, candidate{
				b:      b,
				medROP: median(b.rops),
				medEff: median(b.mseEffs),
				medStab: median(b.stabilities),
				count:  len(b.rops),
			})
		}
	}
	if len(candidates) == 0 {
		return winningBin{}, 0, false
	}

	rops := make([]float64, len(candidates))
	effs := make([]float64, len(candidates))
	stabs := make([]float64, len(candidates))
	for i, c := range candidates {
		rops[i] = c.medROP
		effs[i] = c.medEff
		stabs[i] = c.medStab
	}
	minROP, maxROP := minMax(rops)
	minEff, maxEff := minMax(effs)
	minStab, maxStab := minMax(stabs)

	bestIdx := -1
	bestScore := math.Inf(-1)
	bestNormStab := 0.0
	for i, c := range candidates {
		normROP := normalize(c.medROP, minROP, maxROP)
		normEff := normalize(c.medEff, minEff, maxEff)
		normStab := normalize(c.medStab, minStab, maxStab)
		score := cfg.CompositeWeights.ROP*normROP + cfg.CompositeWeights.MSEEfficiency*normEff + cfg.CompositeWeights.Stability*normStab
		if score > bestScore {
			bestScore = score
			bestIdx = i
			bestNormStab = normStab
		}
	}
	win := candidates[bestIdx]
	return winningBin{
		wobRange:  types.OperatingRange{Median: (win.b.wobLo + win.b.wobHi) / 2, Min: win.b.wobLo, Max: win.b.wobHi},
		rpmRange:  types.OperatingRange{Median: (win.b.rpmLo + win.b.rpmHi) / 2, Min: win.b.rpmLo, Max: win.b.rpmHi},
		flowRange: rangeStats(win.b.flows),
		composite: bestScore,
		stability: bestNormStab,
	}, win.count, true
}

func minMax(values []float64) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0.5
	}
	return (v - min) / (max - min)
}

func rangeStats(values []float64) types.OperatingRange {
	if len(values) == 0 {
		return types.OperatingRange{}
	}
	min, max := minMax(values)
	return types.OperatingRange{Median: median(values), Min: min, Max: max}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sortFloats(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sortFloats(values []float64) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
}

func confidenceTier(n int) types.ConfidenceTier {
	switch {
	case n < 360:
		return types.ConfidenceInsufficient
	case n < 720:
		return types.ConfidenceLow
	case n < 1800:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceHigh
	}
}
