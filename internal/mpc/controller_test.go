package mpc

import (
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqSource replays a fixed sequence, cycling when exhausted.
type seqSource struct {
	vals []float64
	i    int
}

func (s *seqSource) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func defaultPlant(t *testing.T) *plant.Plant {
	t.Helper()
	p, err := plant.New(plant.DefaultConfig())
	require.NoError(t, err)
	return p
}

func newController(t *testing.T, cfg Config, model ModelView, src Source) *Controller {
	t.Helper()
	c, err := New(cfg, model, src)
	require.NoError(t, err)
	return c
}

func TestPredictArousalMatchesReferenceFormula(t *testing.T) {
	coeffs := defaultPlant(t).Coefficients()
	rng := rand.New(rand.NewPCG(3, 4))

	for i := 0; i < 500; i++ {
		x := state.AffectState{Arousal: rng.Float64(), Valence: rng.Float64()*2 - 1, Habituation: rng.Float64()}
		u := state.ControlInput{Luminance: rng.Float64(), Sonics: rng.Float64(), Geometry: rng.Float64()}

		hab := 1.0 - x.Habituation
		force := (u.Luminance*0.4 + u.Sonics*0.5 + u.Geometry*0.2) * hab
		want := x.Arousal*0.9 + force - (x.Arousal-0.1)*0.05

		got, err := PredictArousal(coeffs, x, u)
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-12)
	}
}

func TestPredictArousalAgreesWithPlant(t *testing.T) {
	coeffs := defaultPlant(t).Coefficients()
	x := state.AffectState{Arousal: 0.3, Valence: 0.1, Habituation: 0.2}
	u := state.ControlInput{Luminance: 0.3, Sonics: 0.2, Geometry: 0.1}

	pred, err := PredictArousal(coeffs, x, u)
	require.NoError(t, err)
	next, err := plant.Propagate(coeffs, x, u)
	require.NoError(t, err)
	assert.InDelta(t, next.Arousal, pred, 1e-12)
}

func TestPredictArousalEmptyCoefficients(t *testing.T) {
	_, err := PredictArousal(plant.Coefficients{}, state.InitialState(), state.ControlInput{})
	assert.Error(t, err)
}

func TestOptimizeDeterministicWithSeed(t *testing.T) {
	p := defaultPlant(t)
	a := newController(t, DefaultConfig(), p, NewSource(42))
	b := newController(t, DefaultConfig(), p, NewSource(42))

	for i := 0; i < 5; i++ {
		ua, err := a.Optimize(p.Current())
		require.NoError(t, err)
		ub, err := b.Optimize(p.Current())
		require.NoError(t, err)
		assert.Equal(t, ua, ub)
	}
}

func TestOptimizeZeroSamplesFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleCount = 0
	c := newController(t, cfg, defaultPlant(t), NewSource(1))

	u, err := c.Optimize(state.InitialState())
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, state.ControlInput{}, u)
}

func TestOptimizeOutputInUnitCube(t *testing.T) {
	c := newController(t, DefaultConfig(), defaultPlant(t), NewSource(9))
	for i := 0; i < 20; i++ {
		u, err := c.Optimize(state.InitialState())
		require.NoError(t, err)
		for _, v := range []float64{u.Luminance, u.Sonics, u.Geometry} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}
}

func TestPlanReturnsMinimumCost(t *testing.T) {
	p := defaultPlant(t)
	cfg := DefaultConfig()
	c := newController(t, cfg, p, NewSource(7))
	x := state.AffectState{Arousal: 0.4, Valence: -0.1, Habituation: 0.3}

	plan, err := c.Plan(x)
	require.NoError(t, err)
	assert.Equal(t, cfg.SampleCount, plan.Evaluated)

	replay := NewSource(7)
	for i := 0; i < cfg.SampleCount; i++ {
		u := state.ControlInput{Luminance: replay.Float64(), Sonics: replay.Float64(), Geometry: replay.Float64()}
		pred, err := PredictArousal(p.Coefficients(), x, u)
		require.NoError(t, err)
		e := pred - cfg.TargetArousal
		cost := e*e + cfg.ControlEffortWeight*u.Vector().Magnitude()
		if i == plan.Index {
			assert.Equal(t, u, plan.Input)
			assert.InDelta(t, cost, plan.Cost, 1e-12)
			continue
		}
		if i < plan.Index {
			assert.Greater(t, cost, plan.Cost, "earlier candidate %d should not tie or beat the winner", i)
		} else {
			assert.GreaterOrEqual(t, cost, plan.Cost)
		}
	}
}

func TestTieKeepsFirstDrawn(t *testing.T) {
	for _, workers := range []int{1, 4} {
		cfg := DefaultConfig()
		cfg.Workers = workers
		src := &seqSource{vals: []float64{0.3, 0.6, 0.1}}
		c := newController(t, cfg, defaultPlant(t), src)

		plan, err := c.Plan(state.InitialState())
		require.NoError(t, err)
		assert.Equal(t, 0, plan.Index, "workers=%d", workers)
	}
}

func tieCoefficients(t *testing.T) plant.Coefficients {
	t.Helper()
	cfg := plant.DefaultConfig()
	cfg.Efficacy[0] = []float64{0.5, 0.5, 0.5}
	cfg.Baseline = []float64{0, 0, 0}
	coeffs, err := plant.NewCoefficients(cfg)
	require.NoError(t, err)
	return coeffs
}

func TestTieBetweenDistinctCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetArousal = 0.75
	cfg.ControlEffortWeight = 0
	cfg.SampleCount = 3
	model := Static(tieCoefficients(t))

	// Both permutations predict exactly 0.75; the last draw predicts 0.
	forward := &seqSource{vals: []float64{0.25, 0.5, 0.75, 0.75, 0.5, 0.25, 0, 0, 0}}
	c := newController(t, cfg, model, forward)
	u, err := c.Optimize(state.AffectState{})
	require.NoError(t, err)
	assert.Equal(t, state.ControlInput{Luminance: 0.25, Sonics: 0.5, Geometry: 0.75}, u)

	reversed := &seqSource{vals: []float64{0.75, 0.5, 0.25, 0.25, 0.5, 0.75, 0, 0, 0}}
	c = newController(t, cfg, model, reversed)
	u, err = c.Optimize(state.AffectState{})
	require.NoError(t, err)
	assert.Equal(t, state.ControlInput{Luminance: 0.75, Sonics: 0.5, Geometry: 0.25}, u)
}

func TestParallelScoringMatchesSequential(t *testing.T) {
	p := defaultPlant(t)
	seq := DefaultConfig()
	par := DefaultConfig()
	par.Workers = 8
	par.SampleCount = 200
	seq.SampleCount = 200

	a := newController(t, seq, p, NewSource(11))
	b := newController(t, par, p, NewSource(11))

	for i := 0; i < 5; i++ {
		pa, err := a.Plan(p.Current())
		require.NoError(t, err)
		pb, err := b.Plan(p.Current())
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestControllerReadsLiveCoefficients(t *testing.T) {
	p := defaultPlant(t)
	cfg := DefaultConfig()
	cfg.SampleCount = 1
	c := newController(t, cfg, p, &seqSource{vals: []float64{0.5}})

	before, err := c.Plan(p.Current())
	require.NoError(t, err)

	require.NoError(t, p.SetInertiaCoefficient(0, 0, 0.5))
	after, err := c.Plan(p.Current())
	require.NoError(t, err)

	assert.InDelta(t, (0.9-0.5)*p.Current().Arousal, before.PredictedArousal-after.PredictedArousal, 1e-12)
}

func TestMultiStepHorizonOneMatchesOneStep(t *testing.T) {
	p := defaultPlant(t)
	one := DefaultConfig()
	multi := DefaultConfig()
	multi.MultiStep = true
	multi.Horizon = 1

	a := newController(t, one, p, NewSource(5))
	b := newController(t, multi, p, NewSource(5))

	pa, err := a.Plan(p.Current())
	require.NoError(t, err)
	pb, err := b.Plan(p.Current())
	require.NoError(t, err)

	// The winner sits well inside the clamp range, so both scorings agree on it.
	assert.Equal(t, pa.Index, pb.Index)
	assert.InDelta(t, pa.Cost, pb.Cost, 1e-12)
}

func TestMultiStepLongerHorizonCostsMore(t *testing.T) {
	p := defaultPlant(t)
	short := DefaultConfig()
	short.MultiStep = true
	short.Horizon = 1
	long := short
	long.Horizon = 3

	a := newController(t, short, p, NewSource(21))
	b := newController(t, long, p, NewSource(21))

	pa, err := a.Plan(p.Current())
	require.NoError(t, err)
	pb, err := b.Plan(p.Current())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pb.Cost, pa.Cost)
}

func TestNewValidation(t *testing.T) {
	p := defaultPlant(t)
	cases := map[string]func(*Config){
		"negative samples": func(c *Config) { c.SampleCount = -1 },
		"zero horizon":     func(c *Config) { c.Horizon = 0 },
		"negative effort":  func(c *Config) { c.ControlEffortWeight = -0.1 },
		"bad discount":     func(c *Config) { c.MultiStep = true; c.Discount = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, p, NewSource(1))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(DefaultConfig(), nil, NewSource(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(DefaultConfig(), p, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewNormalizesWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	c := newController(t, cfg, defaultPlant(t), NewSource(1))
	assert.Equal(t, 1, c.Config().Workers)
}
