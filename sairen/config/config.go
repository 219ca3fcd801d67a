// Package config loads, validates and hot-reloads well_config.toml. Search
// order is $SAIREN_CONFIG, then ./well_config.toml, then compiled defaults.
// Every value is validated at load time; an invalid config is a fatal
// startup error (exit code 1), never a partially-applied one.
package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Config is the root configuration document. Field names match the TOML
// table/key names from the recognized-options list.
type Config struct {
	Baseline       BaselineConfig       `toml:"baseline"`
	Thresholds     ThresholdsConfig     `toml:"thresholds"`
	EnsembleWeights EnsembleWeightsConfig `toml:"ensemble_weights"`
	Campaign       CampaignConfig       `toml:"campaign"`
	History        HistoryConfig        `toml:"history"`
	ML             MLConfig             `toml:"ml"`
	Cooldown       CooldownConfig       `toml:"cooldown"`
}

type BaselineConfig struct {
	MinSamples         int     `toml:"min_samples"`
	WarningSigma       float64 `toml:"warning_sigma"`
	CriticalSigma      float64 `toml:"critical_sigma"`
	OutlierFractionMax float64 `toml:"outlier_fraction_max"`
}

type ThresholdsConfig struct {
	FlowImbalanceWarning float64 `toml:"flow_imbalance_warning"`
	FlowImbalanceCritical float64 `toml:"flow_imbalance_critical"`
	ECDMarginWarning     float64 `toml:"ecd_margin_warning"`
	ECDMarginCritical    float64 `toml:"ecd_margin_critical"`
	MSEEfficiencyPoor    float64 `toml:"mse_efficiency_poor"`
	MSEEfficiencyWarning float64 `toml:"mse_efficiency_warning"`
	GasUnitsCritical     float64 `toml:"gas_units_critical"`
	DExponentShiftThreshold float64 `toml:"d_exponent_shift_threshold"`
}

type EnsembleWeightsConfig struct {
	MSE         float64 `toml:"mse"`
	Hydraulic   float64 `toml:"hydraulic"`
	WellControl float64 `toml:"well_control"`
	Formation   float64 `toml:"formation"`
}

type CampaignConfig struct {
	Current string `toml:"current"` // "production" | "p&a"
}

type HistoryConfig struct {
	BufferSize int `toml:"buffer_size"`
}

type MLConfig struct {
	IntervalSecs   int `toml:"interval_secs"`
	WOBBins        int `toml:"wob_bins"`
	RPMBins        int `toml:"rpm_bins"`
	MinBinSamples  int `toml:"min_bin_samples"`
}

type CooldownConfig struct {
	CriticalAdvisorySeconds float64 `toml:"critical_advisory_seconds"`
	PerCategoryPackets      int     `toml:"per_category_packets"`
	PerCategoryDepthFt      float64 `toml:"per_category_depth_ft"`
	PerCategorySeconds      float64 `toml:"per_category_seconds"`
}

// Defaults returns the compiled-in configuration used when no file is found
// at any point in the search order.
func Defaults() Config {
	return Config{
		Baseline: BaselineConfig{MinSamples: 1800, WarningSigma: 3.0, CriticalSigma: 5.0, OutlierFractionMax: 0.05},
		Thresholds: ThresholdsConfig{
			FlowImbalanceWarning: 5, FlowImbalanceCritical: 10,
			ECDMarginWarning: 0.7, ECDMarginCritical: 0.3,
			MSEEfficiencyPoor: 50, MSEEfficiencyWarning: 65,
			GasUnitsCritical: 250, DExponentShiftThreshold: 0.15,
		},
		EnsembleWeights: EnsembleWeightsConfig{MSE: 0.25, Hydraulic: 0.25, WellControl: 0.30, Formation: 0.20},
		Campaign:        CampaignConfig{Current: "production"},
		History:         HistoryConfig{BufferSize: 60},
		ML:              MLConfig{IntervalSecs: 3600, WOBBins: 8, RPMBins: 6, MinBinSamples: 10},
		Cooldown:        CooldownConfig{CriticalAdvisorySeconds: 30, PerCategoryPackets: 30, PerCategoryDepthFt: 5, PerCategorySeconds: 60},
	}
}

// SearchPath returns the configuration file path to load, following the
// search order $SAIREN_CONFIG -> ./well_config.toml -> "" (defaults only).
func SearchPath() string {
	if p := os.Getenv("SAIREN_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("well_config.toml"); err == nil {
		return "well_config.toml"
	}
	return ""
}

// Load parses the TOML file at path (if any) over the compiled defaults and
// validates the result. An empty path loads defaults only; SearchPath
// resolves which path to pass.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the load-time invariants: critical thresholds exceed
// their paired warning thresholds, ensemble weights sum to 1.0 within
// tolerance, and every numeric value is finite.
func Validate(cfg Config) error {
	if cfg.Thresholds.FlowImbalanceCritical <= cfg.Thresholds.FlowImbalanceWarning {
		return fmt.Errorf("config: flow_imbalance_critical must exceed flow_imbalance_warning")
	}
	if cfg.Thresholds.ECDMarginCritical >= cfg.Thresholds.ECDMarginWarning {
		return fmt.Errorf("config: ecd_margin_critical must be below ecd_margin_warning")
	}
	if cfg.Thresholds.MSEEfficiencyPoor >= cfg.Thresholds.MSEEfficiencyWarning {
		return fmt.Errorf("config: mse_efficiency_poor must be below mse_efficiency_warning")
	}
	if cfg.Baseline.CriticalSigma <= cfg.Baseline.WarningSigma {
		return fmt.Errorf("config: baseline critical_sigma must exceed warning_sigma")
	}

	sum := cfg.EnsembleWeights.MSE + cfg.EnsembleWeights.Hydraulic + cfg.EnsembleWeights.WellControl + cfg.EnsembleWeights.Formation
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("config: ensemble_weights must sum to 1.0 (got %.9f)", sum)
	}

	if cfg.Campaign.Current != "production" && cfg.Campaign.Current != "p&a" {
		return fmt.Errorf("config: campaign.current must be \"production\" or \"p&a\"")
	}

	return validateFinite(cfg)
}

func validateFinite(cfg Config) error {
	values := map[string]float64{
		"baseline.warning_sigma": cfg.Baseline.WarningSigma, "baseline.critical_sigma": cfg.Baseline.CriticalSigma,
		"baseline.outlier_fraction_max": cfg.Baseline.OutlierFractionMax,
		"thresholds.flow_imbalance_warning": cfg.Thresholds.FlowImbalanceWarning, "thresholds.flow_imbalance_critical": cfg.Thresholds.FlowImbalanceCritical,
		"thresholds.ecd_margin_warning": cfg.Thresholds.ECDMarginWarning, "thresholds.ecd_margin_critical": cfg.Thresholds.ECDMarginCritical,
		"thresholds.mse_efficiency_poor": cfg.Thresholds.MSEEfficiencyPoor, "thresholds.mse_efficiency_warning": cfg.Thresholds.MSEEfficiencyWarning,
		"thresholds.gas_units_critical": cfg.Thresholds.GasUnitsCritical, "thresholds.d_exponent_shift_threshold": cfg.Thresholds.DExponentShiftThreshold,
		"ensemble_weights.mse": cfg.EnsembleWeights.MSE, "ensemble_weights.hydraulic": cfg.EnsembleWeights.Hydraulic,
		"ensemble_weights.well_control": cfg.EnsembleWeights.WellControl, "ensemble_weights.formation": cfg.EnsembleWeights.Formation,
		"cooldown.critical_advisory_seconds": cfg.Cooldown.CriticalAdvisorySeconds, "cooldown.per_category_depth_ft": cfg.Cooldown.PerCategoryDepthFt,
		"cooldown.per_category_seconds": cfg.Cooldown.PerCategorySeconds,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("config: %s is not finite", name)
		}
	}
	return nil
}

// Watcher hot-reloads the configuration file on write, publishing validated
// snapshots on Changes(). Invalid reloads are reported on Errors() and the
// previously loaded config remains in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Config
}

// NewWatcher loads path once (must already be valid) and begins watching
// its containing directory for writes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch dir: %w", err)
	}
	return &Watcher{path: path, watcher: w, current: cfg}, nil
}

// Current returns the most recently validated configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run starts a goroutine that applies validated reloads until ctx is
// canceled, and returns at once. changes and errs are both closed when that
// goroutine exits.
func (w *Watcher) Run(ctx context.Context) (<-chan Config, <-chan error) {
	changes := make(chan Config, 4)
	errs := make(chan error, 4)
	go func() {
		defer close(changes)
		defer close(errs)
		defer w.watcher.Close()
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					errs <- err
					continue
				}
				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()
				changes <- cfg
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}
