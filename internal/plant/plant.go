// Package plant implements the affect state-space model: a clamped linear
// update whose input efficacy is damped by habituation.
package plant

import (
	"fmt"

	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// #region plant
// Plant owns the affect state and the coefficients that evolve it.
// It is not safe for concurrent use; callers serialize access.
type Plant struct {
	initial       state.AffectState
	defaults      Coefficients
	coeffs        Coefficients
	current       state.AffectState
	perturbations int
}

// New validates cfg and returns a plant positioned at cfg.InitialState.
func New(cfg Config) (*Plant, error) {
	coeffs, err := NewCoefficients(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.InitialState.InBounds() {
		return nil, fmt.Errorf("%w: initial state %s out of range", ErrConfiguration, cfg.InitialState)
	}
	return &Plant{
		initial:  cfg.InitialState,
		defaults: coeffs,
		coeffs:   coeffs,
		current:  cfg.InitialState,
	}, nil
}

// Current returns the current state.
func (p *Plant) Current() state.AffectState {
	return p.current
}

// Coefficients returns a snapshot of the live coefficients, including any
// perturbation applied so far.
func (p *Plant) Coefficients() Coefficients {
	return p.coeffs
}

// Step advances the state by one tick under input u and returns the new state.
func (p *Plant) Step(u state.ControlInput) state.AffectState {
	next, err := Propagate(p.coeffs, p.current, u)
	if err != nil {
		// Coefficients are validated at construction and perturbation keeps them 3×3.
		panic(fmt.Sprintf("plant: propagate: %v", err))
	}
	p.current = next
	return next
}

// Reset restores the initial state and the constructed coefficients.
func (p *Plant) Reset() {
	p.current = p.initial
	p.coeffs = p.defaults
	p.perturbations = 0
}

// #endregion plant

// #region propagate
// Propagate is the pure update equation:
//
//	x' = clamp(A·x + K·(u·(1−h)) − decay·(x − baseline))
//
// where h is the habituation component of x.
func Propagate(c Coefficients, x state.AffectState, u state.ControlInput) (state.AffectState, error) {
	xv := x.Vector()

	inertia, err := c.Inertia.MulVec(xv)
	if err != nil {
		return state.AffectState{}, fmt.Errorf("inertia term: %w", err)
	}

	habFactor := 1.0 - x.Habituation
	input, err := c.Efficacy.MulVec(u.Vector().Scale(habFactor))
	if err != nil {
		return state.AffectState{}, fmt.Errorf("input term: %w", err)
	}

	offset, err := xv.Sub(c.Baseline)
	if err != nil {
		return state.AffectState{}, fmt.Errorf("decay term: %w", err)
	}
	decay := offset.Scale(c.DecayRate)

	raw, err := inertia.Add(input)
	if err != nil {
		return state.AffectState{}, err
	}
	raw, err = raw.Sub(decay)
	if err != nil {
		return state.AffectState{}, err
	}

	next, err := state.StateFromVector(raw)
	if err != nil {
		return state.AffectState{}, err
	}
	return next.Clamp(), nil
}

// #endregion propagate
