package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 1800, cfg.Baseline.MinSamples)
	assert.Equal(t, "production", cfg.Campaign.Current)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_OverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "well_config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[baseline]
min_samples = 900
warning_sigma = 2.5
critical_sigma = 4.0
outlier_fraction_max = 0.05

[thresholds]
flow_imbalance_warning = 5
flow_imbalance_critical = 10
ecd_margin_warning = 0.7
ecd_margin_critical = 0.3
mse_efficiency_poor = 50
mse_efficiency_warning = 65
gas_units_critical = 250
d_exponent_shift_threshold = 0.15

[ensemble_weights]
mse = 0.25
hydraulic = 0.25
well_control = 0.30
formation = 0.20

[campaign]
current = "p&a"

[history]
buffer_size = 120

[ml]
interval_secs = 1800
wob_bins = 8
rpm_bins = 6
min_bin_samples = 10

[cooldown]
critical_advisory_seconds = 30
per_category_packets = 30
per_category_depth_ft = 5
per_category_seconds = 60
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Baseline.MinSamples)
	assert.Equal(t, "p&a", cfg.Campaign.Current)
	assert.Equal(t, 120, cfg.History.BufferSize)
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "well_config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[baseline]
min_samples = 900
bogus_key = 1
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := Defaults()
	cfg.EnsembleWeights.MSE = 0.5
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensemble_weights")
}

func TestValidate_CriticalMustExceedWarning(t *testing.T) {
	cfg := Defaults()
	cfg.Thresholds.FlowImbalanceCritical = cfg.Thresholds.FlowImbalanceWarning
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsNonFiniteValues(t *testing.T) {
	cfg := Defaults()
	cfg.Baseline.WarningSigma = math.NaN()
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsUnknownCampaign(t *testing.T) {
	cfg := Defaults()
	cfg.Campaign.Current = "workover"
	require.Error(t, Validate(cfg))
}

func TestSearchPath_PrefersEnvThenLocalFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SAIREN_CONFIG", "")

	wd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(wd) }()
	require.NoError(t, os.Chdir(dir))

	assert.Equal(t, "", SearchPath())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "well_config.toml"), []byte("[baseline]\nmin_samples=1\n"), 0o644))
	assert.Equal(t, "well_config.toml", SearchPath())

	t.Setenv("SAIREN_CONFIG", "/explicit/path.toml")
	assert.Equal(t, "/explicit/path.toml", SearchPath())
}

func TestWatcher_LoadsValidConfigOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "well_config.toml")
	base := []byte(`
[baseline]
min_samples = 1800
warning_sigma = 3.0
critical_sigma = 5.0
outlier_fraction_max = 0.05
`)
	require.NoError(t, os.WriteFile(path, base, 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	assert.Equal(t, 1800, w.Current().Baseline.MinSamples)
}
