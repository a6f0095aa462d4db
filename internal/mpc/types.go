package mpc

import (
	"errors"
	"math/rand/v2"

	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// #region errors
var (
	// ErrNoCandidate is returned when the optimizer has nothing to choose from.
	ErrNoCandidate = errors.New("no candidate control input")
	// ErrInvalidConfig is returned by New for unusable controller settings.
	ErrInvalidConfig = errors.New("invalid controller config")
)

// #endregion errors

// #region source
// Source is the random generator the optimizer draws candidates from.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns a seeded PCG generator for reproducible runs.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// #endregion source

// #region model-view
// ModelView exposes the live plant coefficients to the predictor.
// *plant.Plant satisfies it.
type ModelView interface {
	Coefficients() plant.Coefficients
}

type staticView struct {
	c plant.Coefficients
}

func (s staticView) Coefficients() plant.Coefficients { return s.c }

// Static wraps a fixed coefficient snapshot as a ModelView.
func Static(c plant.Coefficients) ModelView {
	return staticView{c: c}
}

// #endregion model-view

// #region config
// Config holds the controller settings.
type Config struct {
	TargetArousal       float64 `json:"target_arousal" mapstructure:"target_arousal" yaml:"target_arousal"` // flow-channel set point
	Horizon             int     `json:"horizon" mapstructure:"horizon" yaml:"horizon"`                      // rollout depth, used only when MultiStep is set
	SampleCount         int     `json:"sample_count" mapstructure:"sample_count" yaml:"sample_count"`
	ControlEffortWeight float64 `json:"control_effort_weight" mapstructure:"control_effort_weight" yaml:"control_effort_weight"`
	MultiStep           bool    `json:"multi_step" mapstructure:"multi_step" yaml:"multi_step"`
	Discount            float64 `json:"discount" mapstructure:"discount" yaml:"discount"` // per-step weight of the rollout cost
	Workers             int     `json:"workers" mapstructure:"workers" yaml:"workers"`    // >1 scores candidates in parallel
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		TargetArousal:       0.6,
		Horizon:             3,
		SampleCount:         50,
		ControlEffortWeight: 0.1,
		MultiStep:           false,
		Discount:            1.0,
		Workers:             1,
	}
}

// #endregion config

// #region plan
// Plan is the optimizer's choice together with how it was scored.
type Plan struct {
	Input            state.ControlInput
	Cost             float64
	PredictedArousal float64 // one step ahead
	Index            int     // position of the winner in draw order
	Evaluated        int
}

// #endregion plan
