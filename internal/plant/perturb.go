package plant

import (
	"fmt"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// The functions in this file are the scenario-scripting escape hatch. They
// are never called from Step; Perturbations counts every use so tests can
// tell an organically reached state from an injected one.

// #region override
// StateOverride names the components to replace; nil fields are left alone.
type StateOverride struct {
	Arousal     *float64 `json:"arousal,omitempty"`
	Valence     *float64 `json:"valence,omitempty"`
	Habituation *float64 `json:"habituation,omitempty"`
}

// Override builds a StateOverride that replaces the whole state.
func Override(s state.AffectState) StateOverride {
	return StateOverride{Arousal: Value(s.Arousal), Valence: Value(s.Valence), Habituation: Value(s.Habituation)}
}

// Value returns a pointer to v, for building overrides inline.
func Value(v float64) *float64 {
	return &v
}

// Empty reports whether o changes nothing.
func (o StateOverride) Empty() bool {
	return o.Arousal == nil && o.Valence == nil && o.Habituation == nil
}

// Validate rejects non-finite components, which Clamp cannot bring back
// into range.
func (o StateOverride) Validate() error {
	fields := []struct {
		name string
		v    *float64
	}{{"arousal", o.Arousal}, {"valence", o.Valence}, {"habituation", o.Habituation}}
	for _, f := range fields {
		if f.v != nil && !finite(*f.v) {
			return fmt.Errorf("%w: forced %s is not finite", ErrConfiguration, f.name)
		}
	}
	return nil
}

// Apply returns s with the overridden components replaced and clamped.
func (o StateOverride) Apply(s state.AffectState) state.AffectState {
	if o.Arousal != nil {
		s.Arousal = *o.Arousal
	}
	if o.Valence != nil {
		s.Valence = *o.Valence
	}
	if o.Habituation != nil {
		s.Habituation = *o.Habituation
	}
	return s.Clamp()
}

// #endregion override

// #region force-state
// ForceState replaces some or all of the current state. Forced values are
// clamped so the range invariant holds after the mutation; a non-finite
// value leaves the plant untouched and returns ErrConfiguration.
func (p *Plant) ForceState(o StateOverride) (state.AffectState, error) {
	if err := o.Validate(); err != nil {
		return p.current, err
	}
	p.perturbations++
	p.current = o.Apply(p.current)
	return p.current, nil
}

// #endregion force-state

// #region inertia
// SetInertiaCoefficient overwrites A[row][col].
func (p *Plant) SetInertiaCoefficient(row, col int, value float64) error {
	if !finite(value) {
		return fmt.Errorf("%w: inertia[%d][%d] is not finite", ErrConfiguration, row, col)
	}
	a, err := p.coeffs.Inertia.With(row, col, value)
	if err != nil {
		return fmt.Errorf("set inertia coefficient: %w", err)
	}
	p.perturbations++
	p.coeffs.Inertia = a
	return nil
}

// InertiaCoefficient reads A[row][col].
func (p *Plant) InertiaCoefficient(row, col int) (float64, error) {
	if !p.coeffs.Inertia.Contains(row, col) {
		return 0, fmt.Errorf("inertia coefficient (%d,%d): %w", row, col, linalg.ErrIndexOutOfRange)
	}
	return p.coeffs.Inertia.At(row, col), nil
}

// #endregion inertia

// Perturbations returns how many times the perturbation surface mutated the plant.
func (p *Plant) Perturbations() int {
	return p.perturbations
}
