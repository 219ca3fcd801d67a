// Package tactical runs the six sequential gating rules that decide whether
// a packet's anomalous reading becomes a Ticket, including per-category
// cooldown and pattern debounce state.
package tactical

import (
	"sync"
	"time"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// CooldownConfig controls rule 3 (per-category cooldown) and rule 6
// (pattern debounce).
type CooldownConfig struct {
	PerCategoryPackets  int
	PerCategoryDepthFt  float64
	PerCategorySeconds  float64
	PatternDebounceRuns int
}

// DefaultCooldownConfig returns conservative defaults; callers typically
// override from configuration.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{PerCategoryPackets: 30, PerCategoryDepthFt: 5, PerCategorySeconds: 60, PatternDebounceRuns: 3}
}

// Signal carries the per-rule evidence the gate needs; upstream phases
// (baseline manager, adaptive conformal wrapper, corroboration scorer)
// populate it before calling Evaluate.
type Signal struct {
	RigState         types.RigState
	Category         types.Category
	Pattern          string
	TriggerMetricID  string
	TriggerValue     float64
	WorstZScore      float64
	AnomalyDetected  bool
	Breaches         []types.ThresholdBreach
	BitDepthFt       float64
	PacketIndex      int64
	WallClock        time.Time
	ConformalInInterval bool
	HasCorroboration    bool
	CorroborationScore  float64
	IsMechanicalPattern bool
}

type categoryState struct {
	mu               sync.Mutex
	lastPacketIndex  int64
	lastDepthFt      float64
	lastWallClock    time.Time
	haveFired        bool
	debounceStreak   int
}

// Gate owns the per-category cooldown and debounce state; it is not shared
// outside the hot path and therefore needs no sharding.
type Gate struct {
	cfg        CooldownConfig
	mu         sync.Mutex
	categories map[types.Category]*categoryState
}

// New constructs a Gate with the given cooldown configuration.
func New(cfg CooldownConfig) *Gate {
	return &Gate{cfg: cfg, categories: make(map[types.Category]*categoryState)}
}

func (g *Gate) stateFor(cat types.Category) *categoryState {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs := g.categories[cat]
	if cs == nil {
		cs = &categoryState{}
		g.categories[cat] = cs
	}
	return cs
}

// Evaluate runs the six sequential rules. It returns the Ticket and true on
// pass, or a zero Ticket and false if any rule suppresses emission.
func (g *Gate) Evaluate(sig Signal) (types.Ticket, bool) {
	isWellControl := sig.Category == types.CategoryWellControl

	// Rule 1: rig state.
	if !isWellControl {
		if sig.RigState != types.RigStateDrilling && sig.RigState != types.RigStateReaming {
			return types.Ticket{}, false
		}
	}

	// Rule 2: anomaly detected.
	if !sig.AnomalyDetected {
		return types.Ticket{}, false
	}

	cs := g.stateFor(sig.Category)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	// Rule 3: per-category cooldown. Suppress until all three elapsed
	// conditions hold; the first ticket in a category always passes.
	if cs.haveFired {
		packetsElapsed := sig.PacketIndex-cs.lastPacketIndex >= int64(g.cfg.PerCategoryPackets)
		depthElapsed := abs(sig.BitDepthFt-cs.lastDepthFt) >= g.cfg.PerCategoryDepthFt
		secondsElapsed := sig.WallClock.Sub(cs.lastWallClock).Seconds() >= g.cfg.PerCategorySeconds
		cooldownElapsed := packetsElapsed && depthElapsed && secondsElapsed
		if !cooldownElapsed {
			return types.Ticket{}, false
		}
	}

	if !isWellControl {
		// Rule 4: conformal corroboration.
		if sig.ConformalInInterval {
			return types.Ticket{}, false
		}
		// Rule 5: corroboration channel, only enforced when available.
		if sig.HasCorroboration && sig.CorroborationScore < 0.3 {
			return types.Ticket{}, false
		}
		// Rule 6: pattern debounce for mechanical/founder patterns.
		if sig.IsMechanicalPattern {
			cs.debounceStreak++
			if cs.debounceStreak < g.cfg.PatternDebounceRuns {
				return types.Ticket{}, false
			}
		} else {
			cs.debounceStreak = 0
		}
	}

	cs.haveFired = true
	cs.lastPacketIndex = sig.PacketIndex
	cs.lastDepthFt = sig.BitDepthFt
	cs.lastWallClock = sig.WallClock

	return types.Ticket{
		Category:        sig.Category,
		Pattern:         sig.Pattern,
		TriggerMetricID: sig.TriggerMetricID,
		TriggerValue:    sig.TriggerValue,
		Breaches:        sig.Breaches,
		InitialSeverity: severityFromZScore(sig.WorstZScore),
		RigState:        sig.RigState,
	}, true
}

func severityFromZScore(z float64) types.Severity {
	az := abs(z)
	switch {
	case az >= 5:
		return types.SeverityCritical
	case az >= 4:
		return types.SeverityHigh
	case az >= 3:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
