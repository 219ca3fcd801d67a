package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/advisory"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/baseline"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/orchestrator"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/physics"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/specialists"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/strategic"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/tactical"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/validator"
)

func testConfig() Config {
	return Config{
		Physics:       physics.Config{BitDiameterIn: 8.5, NormalMudWeightPPG: 10.0},
		Validator:     validator.DefaultThresholds(),
		Baseline:      baseline.Config{MinSamples: 20, WarningSigma: 3.0, CriticalSigma: 5.0, OutlierFractionMax: 0.2, Shards: 4},
		Cooldown:      tactical.CooldownConfig{PerCategoryPackets: 1, PerCategoryDepthFt: 0, PerCategorySeconds: 0, PatternDebounceRuns: 1},
		CumulativeLim: strategic.DefaultCumulativeLimits(),
		Specialists:   specialists.DefaultThresholds(types.CampaignProduction),
		Weights:       orchestrator.DefaultWeights(types.CampaignProduction),
		Advisory:      advisory.DefaultConfig(),
		HistorySize:   60,
		QueueCapacity: 1024,
	}
}

func drillingPacket(ts float64, flowBalance float64) types.Packet {
	return types.Packet{
		Timestamp: ts, Campaign: types.CampaignProduction, WellID: "well-1",
		BitDepthFt: 10000, ROP: 50, WOB: 20, RPM: 120, Torque: 10,
		SPP: 2500, HookLoad: 200,
		FlowInGPM: 600, FlowOutGPM: 600 + flowBalance,
		PitVolumeBBL: 400, MudWeightPPG: 10, ECD: 10.2,
		HasFractureGrad: true, FractureGradient: 15.0,
		GasUnits: 20, OnBottom: true,
	}
}

// warmUpFlowBalance feeds enough Drilling-state packets with a small
// oscillation in flow balance for the "pumps"/"flow_balance" baseline to
// accumulate a non-degenerate (std > 0) distribution and lock.
func warmUpFlowBalance(t *testing.T, coord *Coordinator) int {
	t.Helper()
	idx := 0
	for i := 0; i < 30; i++ {
		idx++
		noise := 0.2
		if i%2 == 0 {
			noise = -0.2
		}
		coord.Submit(drillingPacket(float64(idx), noise))
	}
	return idx
}

// TestPipeline_DevelopingKickForcesCriticalAdvisory exercises scenario S2:
// once the flow-balance baseline is locked on a quiet well, a widening
// imbalance should trip the Well Control specialist to Critical and force
// the orchestrator's final verdict to Critical regardless of the other
// three votes.
func TestPipeline_DevelopingKickForcesCriticalAdvisory(t *testing.T) {
	cfg := testConfig()
	composer := advisory.New(cfg.Advisory, nil)
	coord := New(cfg, composer, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Run(ctx)
	defer coord.Stop()

	idx := warmUpFlowBalance(t, coord)
	time.Sleep(50 * time.Millisecond)

	imbalances := []float64{6, 8, 11, 14, 18}
	for _, imb := range imbalances {
		idx++
		coord.Submit(drillingPacket(float64(idx), imb))
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case adv := <-coord.Advisories():
			if adv.RiskLevel != types.RiskCritical {
				continue // earlier, smaller imbalances only rate High or Medium
			}
			foundWC := false
			for _, v := range adv.Votes {
				if v.SpecialistID == types.CategoryWellControl {
					foundWC = true
					assert.Equal(t, types.SeverityCritical, v.Severity)
				}
			}
			assert.True(t, foundWC, "expected a well control vote in the final advisory")
			return
		case <-deadline:
			t.Fatal("expected a critical advisory to be emitted")
		}
	}
}

// TestPipeline_NonDrillingStateSuppressesNonWellControlTickets exercises
// tactical rule 1: outside Drilling/Reaming, a non-WellControl category
// (Hydraulic, via ecd_margin) must not reach a ticket even once its
// baseline has locked and the reading has clearly breached it.
func TestPipeline_NonDrillingStateSuppressesNonWellControlTickets(t *testing.T) {
	cfg := testConfig()
	composer := advisory.New(cfg.Advisory, nil)
	coord := New(cfg, composer, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Run(ctx)
	defer coord.Stop()

	idx := 0
	for i := 0; i < 30; i++ {
		idx++
		p := drillingPacket(float64(idx), 0)
		if i%2 == 0 {
			p.ECD = 10.1
		} else {
			p.ECD = 10.3
		}
		coord.Submit(p)
	}
	time.Sleep(50 * time.Millisecond)

	idx++
	p := drillingPacket(float64(idx), 0)
	p.OnBottom = false
	p.WOB = 3 // below DrillingMinWOBKlbs; keeps the packet off Drilling/Reaming
	p.ECD = 20.0
	coord.Submit(p)

	select {
	case <-coord.Advisories():
		t.Fatal("no advisory should be emitted for a Hydraulic breach outside Drilling/Reaming")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPipeline_InvalidPacketDroppedWithoutStalling(t *testing.T) {
	cfg := testConfig()
	composer := advisory.New(cfg.Advisory, nil)
	coord := New(cfg, composer, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Run(ctx)
	defer coord.Stop()

	bad := drillingPacket(1, 0)
	bad.FlowInGPM = -1
	coord.Submit(bad)

	good := drillingPacket(2, 0)
	coord.Submit(good)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, coord.History().Len(), "the invalid packet must be dropped, not pushed to history")
}
