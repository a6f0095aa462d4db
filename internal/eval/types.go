package eval

// #region eval-config
// EvalConfig holds the thresholds a trajectory is judged against.
type EvalConfig struct {
	FlowBand        float64 `mapstructure:"flow_band" yaml:"flow_band"`                 // |arousal − target| within this counts as in the flow channel
	MaxTrackingRMSE float64 `mapstructure:"max_tracking_rmse" yaml:"max_tracking_rmse"` // fail above this
	MinFlowRatio    float64 `mapstructure:"min_flow_ratio" yaml:"min_flow_ratio"`       // informational
	SkipTicks       int     `mapstructure:"skip_ticks" yaml:"skip_ticks"`               // warm-up ticks excluded from tracking metrics
}

// DefaultEvalConfig returns thresholds loose enough for the reference scenario.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		FlowBand:        0.15,
		MaxTrackingRMSE: 0.35,
		MinFlowRatio:    0.3,
		SkipTicks:       5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the outcome of judging one trajectory.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// Metric returns the named metric, if present.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
