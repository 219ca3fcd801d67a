package strategic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func entryWithMSE(ts, mse float64) types.HistoryEntry {
	return types.HistoryEntry{Packet: types.Packet{Timestamp: ts}, Metrics: types.Metrics{MSE: mse}}
}

func ticketFor(metric string, category types.Category) types.Ticket {
	return types.Ticket{TriggerMetricID: metric, Category: category, InitialSeverity: types.SeverityMedium}
}

func TestVerify_InsufficientHistoryIsUncertain(t *testing.T) {
	entries := []types.HistoryEntry{entryWithMSE(1, 100), entryWithMSE(2, 101)}
	verdict, _ := Verify(ticketFor("mse", types.CategoryMSE), entries, 60, DefaultCumulativeLimits())
	assert.Equal(t, types.VerifierUncertain, verdict)
}

func TestVerify_FlatNoisyWindowIsRejected(t *testing.T) {
	// Rule 2's maxZ gate leans on the trigger metric's own magnitude as a
	// coarse proxy (see strategic.go's zScoreFor doc comment); use a
	// small-magnitude metric (flow_balance, gpm) so a flat, trendless
	// window actually falls under the maxZ<3 gate.
	entries := make([]types.HistoryEntry, 0, 40)
	for i := 0; i < 40; i++ {
		v := 1.0
		if i%2 == 0 {
			v = -1.0
		}
		e := types.HistoryEntry{
			Packet:  types.Packet{Timestamp: float64(40 - i)},
			Metrics: types.Metrics{FlowBalance: v},
		}
		entries = append(entries, e)
	}
	verdict, _ := Verify(ticketFor("flow_balance", types.CategoryMSE), entries, 40, DefaultCumulativeLimits())
	assert.Equal(t, types.VerifierRejected, verdict)
}

func TestVerify_StrongAccelerationIsConfirmed(t *testing.T) {
	// Newest-first: entries[0] is the most recent, so a rising trend in
	// wall-clock order is a descending sequence here.
	entries := make([]types.HistoryEntry, 0, 40)
	for i := 0; i < 40; i++ {
		ts := float64(40 - i)
		mse := 100.0 + ts*50.0
		entries = append(entries, entryWithMSE(ts, mse))
	}
	verdict, _ := Verify(ticketFor("mse", types.CategoryMSE), entries, 40, DefaultCumulativeLimits())
	assert.Equal(t, types.VerifierConfirmed, verdict)
}

func TestVerify_CumulativeThresholdEscalatesSeverity(t *testing.T) {
	entries := make([]types.HistoryEntry, 0, 40)
	for i := 0; i < 40; i++ {
		ts := float64(40 - i)
		e := types.HistoryEntry{
			Packet:  types.Packet{Timestamp: ts},
			Metrics: types.Metrics{FlowBalance: 20, MSE: 100},
		}
		entries = append(entries, e)
	}
	limits := CumulativeLimits{WellControlGasMigrationCritical: 10, MechanicalDamageCritical: 100000}
	ticket := ticketFor("flow_balance", types.CategoryWellControl)
	ticket.InitialSeverity = types.SeverityMedium
	verdict, severity := Verify(ticket, entries, 40, limits)
	assert.Equal(t, types.VerifierConfirmed, verdict)
	assert.Equal(t, types.SeverityHigh, severity, "cumulative breach escalates one severity level")
}

func TestVerify_DefaultIsUncertain(t *testing.T) {
	// Enough history, weak trend (r2 about 0.09 over the 30-entry window) but
	// a maxZ proxy of 400, high enough to skip rejection, and no cumulative
	// breach: falls through to the default uncertain verdict.
	entries := make([]types.HistoryEntry, 0, 40)
	for i := 0; i < 40; i++ {
		ts := float64(40 - i)
		v := 100.0
		if i == 0 {
			v = 400.0 // one spike gives a high maxZ-proxy without a clean trend
		}
		entries = append(entries, entryWithMSE(ts, v))
	}
	verdict, _ := Verify(ticketFor("mse", types.CategoryMSE), entries, 40, DefaultCumulativeLimits())
	assert.Equal(t, types.VerifierUncertain, verdict)
}
