package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func validPacket() types.Packet {
	return types.Packet{
		ROP: 50, WOB: 20, RPM: 120, Torque: 10, SPP: 2500, HookLoad: 200,
		FlowInGPM: 600, FlowOutGPM: 590, PitVolumeBBL: 400, MudWeightPPG: 10,
		ECD: 10.2, GasUnits: 20, OnBottom: true,
	}
}

func TestValidate_AcceptsWellFormedPacket(t *testing.T) {
	require.NoError(t, Validate(validPacket()))
}

func TestValidate_RejectsNonFiniteField(t *testing.T) {
	p := validPacket()
	p.ROP = math.NaN()
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rop")
}

func TestValidate_RejectsNegativeFlow(t *testing.T) {
	p := validPacket()
	p.FlowInGPM = -1
	require.Error(t, Validate(p))
}

func TestValidate_RejectsOutOfRangeSPP(t *testing.T) {
	p := validPacket()
	p.SPP = 30000
	require.Error(t, Validate(p))
}

func TestClassify_Drilling(t *testing.T) {
	p := validPacket()
	p.OnBottom = true
	p.RPM = 120
	p.WOB = 20
	p.FlowInGPM = 600
	assert.Equal(t, types.RigStateDrilling, Classify(p, DefaultThresholds()))
}

func TestClassify_Reaming(t *testing.T) {
	p := validPacket()
	p.OnBottom = true
	p.RPM = 120
	p.WOB = 0
	p.FlowInGPM = 0
	p.BlockVelocityFPM = 5
	assert.Equal(t, types.RigStateReaming, Classify(p, DefaultThresholds()))
}

func TestClassify_Circulating(t *testing.T) {
	p := validPacket()
	p.OnBottom = false
	p.RPM = 0
	p.WOB = 0
	p.FlowInGPM = 600
	p.BlockVelocityFPM = 0
	assert.Equal(t, types.RigStateCirculating, Classify(p, DefaultThresholds()))
}

func TestClassify_Tripping(t *testing.T) {
	p := validPacket()
	p.OnBottom = false
	p.RPM = 0
	p.WOB = 0
	p.FlowInGPM = 0
	p.BlockVelocityFPM = 50
	assert.Equal(t, types.RigStateTripping, Classify(p, DefaultThresholds()))
}

func TestClassify_PandACampaignMilling(t *testing.T) {
	p := validPacket()
	p.Campaign = types.CampaignPandA
	p.Torque = 20
	p.ROP = 2
	assert.Equal(t, types.RigStateMilling, Classify(p, DefaultThresholds()))
}
