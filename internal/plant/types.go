package plant

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// ErrConfiguration is returned by New when the supplied coefficients are unusable.
var ErrConfiguration = errors.New("plant configuration")

// #region config
// Config enumerates everything the plant needs at construction.
type Config struct {
	InitialState state.AffectState `json:"initial_state" mapstructure:"initial_state" yaml:"initial_state"`
	Inertia      [][]float64       `json:"inertia" mapstructure:"inertia" yaml:"inertia"`       // A: state persistence and coupling
	Efficacy     [][]float64       `json:"efficacy" mapstructure:"efficacy" yaml:"efficacy"`    // K: input → state deltas
	Baseline     []float64         `json:"baseline" mapstructure:"baseline" yaml:"baseline"`    // homeostatic set point
	DecayRate    float64           `json:"decay_rate" mapstructure:"decay_rate" yaml:"decay_rate"`
}

// DefaultConfig returns the reference coefficients.
func DefaultConfig() Config {
	return Config{
		InitialState: state.InitialState(),
		Inertia: [][]float64{
			{0.90, 0.00, 0.00}, // arousal is sticky
			{0.10, 0.85, 0.00}, // valence fluctuates faster
			{0.05, 0.00, 0.99}, // habituation builds slowly and sticks
		},
		Efficacy: [][]float64{
			{0.4, 0.5, 0.2},
			{-0.2, -0.4, -0.1},
			{0.01, 0.01, 0.01},
		},
		Baseline:  []float64{0.1, 0.0, 0.0},
		DecayRate: 0.05,
	}
}

// #endregion config

// #region coefficients
// Coefficients is an immutable snapshot of the plant's dynamics. It is the
// read-only view handed to the controller's predictor.
type Coefficients struct {
	Inertia   linalg.Matrix
	Efficacy  linalg.Matrix
	Baseline  linalg.Vector
	DecayRate float64
}

// NewCoefficients validates cfg and builds the matrices.
func NewCoefficients(cfg Config) (Coefficients, error) {
	a, err := square("inertia", cfg.Inertia)
	if err != nil {
		return Coefficients{}, err
	}
	k, err := square("efficacy", cfg.Efficacy)
	if err != nil {
		return Coefficients{}, err
	}
	if len(cfg.Baseline) != state.Dim {
		return Coefficients{}, fmt.Errorf("%w: baseline has %d components, want %d", ErrConfiguration, len(cfg.Baseline), state.Dim)
	}
	for i, b := range cfg.Baseline {
		if !finite(b) {
			return Coefficients{}, fmt.Errorf("%w: baseline[%d] is not finite", ErrConfiguration, i)
		}
	}
	if !finite(cfg.DecayRate) {
		return Coefficients{}, fmt.Errorf("%w: decay rate is not finite", ErrConfiguration)
	}
	return Coefficients{
		Inertia:   a,
		Efficacy:  k,
		Baseline:  linalg.NewVector(cfg.Baseline...),
		DecayRate: cfg.DecayRate,
	}, nil
}

// Config converts the snapshot back into its plain form.
func (c Coefficients) Config(initial state.AffectState) Config {
	return Config{
		InitialState: initial,
		Inertia:      c.Inertia.Rows(),
		Efficacy:     c.Efficacy.Rows(),
		Baseline:     c.Baseline.Data(),
		DecayRate:    c.DecayRate,
	}
}

func square(name string, rows [][]float64) (linalg.Matrix, error) {
	if len(rows) != state.Dim {
		return linalg.Matrix{}, fmt.Errorf("%w: %s has %d rows, want %d", ErrConfiguration, name, len(rows), state.Dim)
	}
	for i, row := range rows {
		if len(row) != state.Dim {
			return linalg.Matrix{}, fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrConfiguration, name, i, len(row), state.Dim)
		}
		for j, v := range row {
			if !finite(v) {
				return linalg.Matrix{}, fmt.Errorf("%w: %s[%d][%d] is not finite", ErrConfiguration, name, i, j)
			}
		}
	}
	m, err := linalg.NewMatrix(rows)
	if err != nil {
		return linalg.Matrix{}, fmt.Errorf("%w: %s: %v", ErrConfiguration, name, err)
	}
	return m, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// #endregion coefficients
