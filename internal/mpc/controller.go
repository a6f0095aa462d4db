// Package mpc implements a receding-horizon controller that picks control
// inputs by random shooting: draw candidates, predict their effect with the
// plant's own coefficients, keep the cheapest.
package mpc

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"golang.org/x/sync/errgroup"
)

// #region controller
// Controller holds immutable settings, a view onto the plant and a random source.
// It keeps no state between calls beyond what the source itself carries.
type Controller struct {
	cfg   Config
	model ModelView
	src   Source
}

// New validates cfg. A SampleCount of zero is accepted; Optimize then fails
// with ErrNoCandidate.
func New(cfg Config, model ModelView, src Source) (*Controller, error) {
	switch {
	case model == nil:
		return nil, fmt.Errorf("%w: nil model view", ErrInvalidConfig)
	case src == nil:
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	case cfg.SampleCount < 0:
		return nil, fmt.Errorf("%w: sample count %d", ErrInvalidConfig, cfg.SampleCount)
	case cfg.Horizon < 1:
		return nil, fmt.Errorf("%w: horizon %d", ErrInvalidConfig, cfg.Horizon)
	case cfg.ControlEffortWeight < 0 || math.IsNaN(cfg.ControlEffortWeight):
		return nil, fmt.Errorf("%w: control effort weight %v", ErrInvalidConfig, cfg.ControlEffortWeight)
	case math.IsNaN(cfg.TargetArousal) || math.IsInf(cfg.TargetArousal, 0):
		return nil, fmt.Errorf("%w: target arousal %v", ErrInvalidConfig, cfg.TargetArousal)
	case cfg.MultiStep && !(cfg.Discount > 0 && cfg.Discount <= 1):
		return nil, fmt.Errorf("%w: discount %v outside (0,1]", ErrInvalidConfig, cfg.Discount)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Controller{cfg: cfg, model: model, src: src}, nil
}

// Config returns the controller settings.
func (c *Controller) Config() Config {
	return c.cfg
}

// Optimize returns the best sampled control input for the current state.
func (c *Controller) Optimize(current state.AffectState) (state.ControlInput, error) {
	p, err := c.Plan(current)
	if err != nil {
		return state.ControlInput{}, err
	}
	return p.Input, nil
}

// Plan draws SampleCount candidates, scores each and returns the cheapest.
// Ties keep the earliest draw.
func (c *Controller) Plan(current state.AffectState) (Plan, error) {
	n := c.cfg.SampleCount
	if n == 0 {
		return Plan{}, ErrNoCandidate
	}
	coeffs := c.model.Coefficients()

	// Draw sequentially so the source is consumed in the same order no
	// matter how scoring is scheduled.
	cands := make([]state.ControlInput, n)
	for i := range cands {
		cands[i] = state.ControlInput{
			Luminance: c.src.Float64(),
			Sonics:    c.src.Float64(),
			Geometry:  c.src.Float64(),
		}
	}

	scores := make([]score, n)
	if c.cfg.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for i := range cands {
			g.Go(func() error {
				s, err := c.score(coeffs, current, cands[i])
				scores[i] = s
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return Plan{}, err
		}
	} else {
		for i := range cands {
			s, err := c.score(coeffs, current, cands[i])
			if err != nil {
				return Plan{}, err
			}
			scores[i] = s
		}
	}

	best := -1
	minCost := math.Inf(1)
	for i, s := range scores {
		if s.cost < minCost {
			minCost = s.cost
			best = i
		}
	}
	if best < 0 {
		return Plan{}, fmt.Errorf("%w: no candidate had a finite cost", ErrNoCandidate)
	}

	return Plan{
		Input:            cands[best],
		Cost:             scores[best].cost,
		PredictedArousal: scores[best].predicted,
		Index:            best,
		Evaluated:        n,
	}, nil
}

// #endregion controller

// #region scoring
type score struct {
	cost      float64
	predicted float64
}

// score computes tracking error plus control effort for one candidate.
func (c *Controller) score(coeffs plant.Coefficients, x state.AffectState, u state.ControlInput) (score, error) {
	effort := c.cfg.ControlEffortWeight * u.Vector().Magnitude()

	if !c.cfg.MultiStep {
		pred, err := PredictArousal(coeffs, x, u)
		if err != nil {
			return score{}, err
		}
		e := pred - c.cfg.TargetArousal
		return score{cost: e*e + effort, predicted: pred}, nil
	}

	// Hold u for the whole horizon and roll the full model forward.
	var tracking, first float64
	weight := 1.0
	for k := 0; k < c.cfg.Horizon; k++ {
		next, err := plant.Propagate(coeffs, x, u)
		if err != nil {
			return score{}, fmt.Errorf("rollout step %d: %w", k, err)
		}
		if k == 0 {
			first = next.Arousal
		}
		e := next.Arousal - c.cfg.TargetArousal
		tracking += weight * e * e
		weight *= c.cfg.Discount
		x = next
	}
	return score{cost: tracking + effort, predicted: first}, nil
}

// PredictArousal is the arousal row of the plant equation, unclamped:
//
//	A[0]·x + (K[0]·u)·(1−h) − (x_a − baseline_a)·decay
//
// It reads the coefficients it is given, so it cannot drift from the plant.
func PredictArousal(coeffs plant.Coefficients, x state.AffectState, u state.ControlInput) (float64, error) {
	ar, _ := coeffs.Inertia.Dims()
	kr, _ := coeffs.Efficacy.Dims()
	if ar == 0 || kr == 0 || coeffs.Baseline.Len() == 0 {
		return 0, fmt.Errorf("predict arousal: %w (empty coefficients)", linalg.ErrDimensionMismatch)
	}
	inertia, err := coeffs.Inertia.Row(state.Arousal).Dot(x.Vector())
	if err != nil {
		return 0, fmt.Errorf("predict arousal: %w", err)
	}
	force, err := coeffs.Efficacy.Row(state.Arousal).Dot(u.Vector())
	if err != nil {
		return 0, fmt.Errorf("predict arousal: %w", err)
	}
	force *= 1.0 - x.Habituation
	decay := (x.Arousal - coeffs.Baseline.At(state.Arousal)) * coeffs.DecayRate
	return inertia + force - decay, nil
}

// #endregion scoring
