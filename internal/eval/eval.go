// Package eval scores a closed-loop trajectory: how well arousal tracked the
// set point and whether the clamp invariant held throughout.
package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// Metric names.
const (
	MetricBounds         = "bounds"
	MetricTrackingRMSE   = "tracking_rmse"
	MetricFlowRatio      = "flow_ratio"
	MetricMaxHabituation = "max_habituation"
)

// #region eval-harness
// EvalHarness runs trajectory checks.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run judges trajectory against target arousal.
func (h *EvalHarness) Run(trajectory []state.AffectState, target float64) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	// 1. Clamp invariant on every tick
	violations := 0
	for _, s := range trajectory {
		if !s.InBounds() {
			violations++
		}
	}
	boundsPass := violations == 0
	metrics = append(metrics, EvalMetric{Name: MetricBounds, Value: float64(violations), Pass: boundsPass})
	if !boundsPass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("%d ticks out of range", violations))
	}

	window := trajectory
	if h.config.SkipTicks > 0 && h.config.SkipTicks < len(window) {
		window = window[h.config.SkipTicks:]
	}

	// 2. Tracking error after warm-up
	rmse := trackingRMSE(window, target)
	rmsePass := rmse <= h.config.MaxTrackingRMSE
	metrics = append(metrics, EvalMetric{Name: MetricTrackingRMSE, Value: rmse, Pass: rmsePass})
	if !rmsePass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("tracking rmse %.4f exceeds %.4f", rmse, h.config.MaxTrackingRMSE))
	}

	// 3. Flow-channel occupancy: informational
	ratio := flowRatio(window, target, h.config.FlowBand)
	metrics = append(metrics, EvalMetric{Name: MetricFlowRatio, Value: ratio, Pass: ratio >= h.config.MinFlowRatio})

	// 4. Peak habituation: informational
	var maxHab float64
	for _, s := range trajectory {
		maxHab = math.Max(maxHab, s.Habituation)
	}
	metrics = append(metrics, EvalMetric{Name: MetricMaxHabituation, Value: maxHab, Pass: true})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func trackingRMSE(traj []state.AffectState, target float64) float64 {
	if len(traj) == 0 {
		return 0
	}
	var sum float64
	for _, s := range traj {
		e := s.Arousal - target
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(traj)))
}

func flowRatio(traj []state.AffectState, target, band float64) float64 {
	if len(traj) == 0 {
		return 0
	}
	in := 0
	for _, s := range traj {
		if math.Abs(s.Arousal-target) <= band {
			in++
		}
	}
	return float64(in) / float64(len(traj))
}

// #endregion helpers
