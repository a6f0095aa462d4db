package eval

import (
	"testing"

	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(n int, arousal float64) []state.AffectState {
	out := make([]state.AffectState, n)
	for i := range out {
		out[i] = state.AffectState{Arousal: arousal, Habituation: 0.01 * float64(i)}
	}
	return out
}

func TestEvalPassesOnTrackedTrajectory(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(flat(20, 0.6), 0.6)

	require.True(t, result.Passed, result.Reason)
	rmse, ok := result.Metric(MetricTrackingRMSE)
	require.True(t, ok)
	assert.InDelta(t, 0, rmse.Value, 1e-12)

	flow, _ := result.Metric(MetricFlowRatio)
	assert.Equal(t, 1.0, flow.Value)

	hab, _ := result.Metric(MetricMaxHabituation)
	assert.InDelta(t, 0.19, hab.Value, 1e-12)
}

func TestEvalFailsOnTrackingError(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(flat(20, 0.0), 0.6)

	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "tracking rmse")
}

func TestEvalFailsOnBoundsViolation(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	traj := flat(10, 0.6)
	traj[3].Valence = -1.5

	result := h.Run(traj, 0.6)

	assert.False(t, result.Passed)
	bounds, _ := result.Metric(MetricBounds)
	assert.Equal(t, 1.0, bounds.Value)
	assert.False(t, bounds.Pass)
}

func TestEvalSkipsWarmup(t *testing.T) {
	cfg := DefaultEvalConfig()
	cfg.SkipTicks = 5
	h := NewEvalHarness(cfg)

	traj := flat(10, 0.6)
	for i := 0; i < 5; i++ {
		traj[i].Arousal = 0
	}
	result := h.Run(traj, 0.6)
	assert.True(t, result.Passed, result.Reason)
}

func TestEvalMultipleFailures(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	traj := flat(10, 0)
	traj[0].Arousal = 2

	result := h.Run(traj, 0.6)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "2 checks")
}

func TestEvalEmptyTrajectory(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(nil, 0.6)
	assert.True(t, result.Passed)
}
