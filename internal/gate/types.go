package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoNonFinite  VetoType = "non_finite"
	VetoOutOfRange VetoType = "out_of_range"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds the admission bounds for externally supplied control inputs.
type GateConfig struct {
	MinComponent float64 `mapstructure:"min_component" yaml:"min_component"`
	MaxComponent float64 `mapstructure:"max_component" yaml:"max_component"`
	Strict       bool    `mapstructure:"strict" yaml:"strict"` // out-of-range becomes a hard veto
}

// DefaultGateConfig admits anything finite and scores [0,1] inputs highest.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinComponent: 0,
		MaxComponent: 1,
		Strict:       false,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "admit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal
	SoftScore   float64 // 0-1, fraction of components inside the configured bounds
}

// #endregion gate-decision
