package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func testConfig() Config {
	return Config{MinSamples: 50, WarningSigma: 3.0, CriticalSigma: 5.0, OutlierFractionMax: 0.05, Shards: 8}
}

var mseID = types.EquipmentID{Equipment: "drillstring", Metric: "mse"}

func TestBaseline_LearningToLockedLifecycle(t *testing.T) {
	m := New(testConfig())
	assert.Equal(t, StateUnstarted, m.StateOf(mseID))

	m.StartLearning(mseID)
	assert.Equal(t, StateLearning, m.StateOf(mseID))

	for i := 0; i < 60; i++ {
		v := 99.0
		if i%2 == 0 {
			v = 101.0
		}
		m.Observe(mseID, v)
	}
	thr, err := m.FinalizeLearning(mseID)
	require.NoError(t, err)
	assert.True(t, thr.Locked)
	assert.Equal(t, StateLocked, m.StateOf(mseID))
	assert.InDelta(t, 100.0, thr.Mean, 0.001)
}

func TestBaseline_InsufficientSamplesKeepsLearning(t *testing.T) {
	m := New(testConfig())
	m.StartLearning(mseID)
	for i := 0; i < 10; i++ {
		m.Observe(mseID, 100.0)
	}
	_, err := m.FinalizeLearning(mseID)
	require.ErrorIs(t, err, ErrInsufficientSamples)
	assert.Equal(t, StateLearning, m.StateOf(mseID))
}

func TestBaseline_ContaminatedRetainsAccumulatorForExtendedLearning(t *testing.T) {
	m := New(testConfig())
	m.StartLearning(mseID)
	for i := 0; i < 50; i++ {
		m.Observe(mseID, 100.0)
	}
	// Push the sample past 50 observations so the outlier counter engages,
	// then inject enough outliers to exceed the 5% contamination ceiling.
	for i := 0; i < 10; i++ {
		m.Observe(mseID, 10000.0)
	}
	_, err := m.FinalizeLearning(mseID)
	var contaminated ErrContaminated
	require.ErrorAs(t, err, &contaminated)
	assert.Equal(t, StateLearning, m.StateOf(mseID))
}

func TestBaseline_CheckAnomalyLevels(t *testing.T) {
	thr := Thresholds{Mean: 100, Std: 10, WarningSigma: 3, CriticalSigma: 5}
	_, level := thr.CheckAnomaly(105)
	assert.Equal(t, types.AnomalyNormal, level)

	_, level = thr.CheckAnomaly(135)
	assert.Equal(t, types.AnomalyWarning, level)

	_, level = thr.CheckAnomaly(160)
	assert.Equal(t, types.AnomalyCritical, level)
}

func TestBaseline_SnapshotRoundTrip(t *testing.T) {
	m := New(testConfig())
	m.StartLearning(mseID)
	for i := 0; i < 60; i++ {
		v := 49.0
		if i%2 == 0 {
			v = 51.0
		}
		m.Observe(mseID, v)
	}
	_, err := m.FinalizeLearning(mseID)
	require.NoError(t, err)

	data, err := m.Snapshot()
	require.NoError(t, err)

	restored := New(testConfig())
	require.NoError(t, restored.LoadSnapshot(data))

	thr, ok := restored.Lookup(mseID)
	require.True(t, ok)
	assert.InDelta(t, 50.0, thr.Mean, 0.001)
}

func TestBaseline_ObserveIsNoOpBeforeStartLearning(t *testing.T) {
	m := New(testConfig())
	m.Observe(mseID, 42.0)
	assert.Equal(t, StateUnstarted, m.StateOf(mseID))
}

func TestBaseline_Recommission(t *testing.T) {
	m := New(testConfig())
	m.StartLearning(mseID)
	for i := 0; i < 60; i++ {
		v := 99.0
		if i%2 == 0 {
			v = 101.0
		}
		m.Observe(mseID, v)
	}
	_, err := m.FinalizeLearning(mseID)
	require.NoError(t, err)

	m.Recommission(mseID)
	assert.Equal(t, StateLearning, m.StateOf(mseID))
	_, ok := m.Lookup(mseID)
	assert.False(t, ok)
}
