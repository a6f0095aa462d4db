package plant

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Plant {
	t.Helper()
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestStepReferenceArithmetic(t *testing.T) {
	p := newDefault(t)

	next := p.Step(state.ControlInput{})

	// arousal:     0.9·0.2 − (0.2−0.1)·0.05
	// valence:     0.1·0.2 + 0.85·0
	// habituation: 0.05·0.2 + 0.99·0
	assert.InDelta(t, 0.175, next.Arousal, 1e-12)
	assert.InDelta(t, 0.02, next.Valence, 1e-12)
	assert.InDelta(t, 0.01, next.Habituation, 1e-12)
	assert.Equal(t, next, p.Current())
}

func TestStepWithInput(t *testing.T) {
	p := newDefault(t)
	mustForce(t, p, Override(state.AffectState{Arousal: 0.2, Valence: 0, Habituation: 0.5}))

	next := p.Step(state.ControlInput{Luminance: 1, Sonics: 1, Geometry: 1})

	// effective input = 0.5 per channel
	assert.InDelta(t, 0.18+0.5*1.1-0.005, next.Arousal, 1e-12)
	assert.InDelta(t, 0.02+0.5*-0.7, next.Valence, 1e-12)
	assert.InDelta(t, 0.01+0.99*0.5+0.5*0.03-0.05*0.5, next.Habituation, 1e-12)
}

func TestFullHabituationCancelsInput(t *testing.T) {
	a := newDefault(t)
	b := newDefault(t)
	full := Override(state.AffectState{Arousal: 0.4, Valence: 0.1, Habituation: 1})
	mustForce(t, a, full)
	mustForce(t, b, full)

	withInput := a.Step(state.ControlInput{Luminance: 1, Sonics: 1, Geometry: 1})
	without := b.Step(state.ControlInput{})
	assert.Equal(t, without, withInput)
}

func TestStepClampInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p := newDefault(t)

	for i := 0; i < 2000; i++ {
		s := state.AffectState{
			Arousal:     rng.Float64(),
			Valence:     rng.Float64()*2 - 1,
			Habituation: rng.Float64(),
		}
		mustForce(t, p, Override(s))
		u := state.ControlInput{
			Luminance: rng.Float64()*10 - 5,
			Sonics:    rng.Float64()*10 - 5,
			Geometry:  rng.Float64()*10 - 5,
		}
		next := p.Step(u)
		require.Truef(t, next.InBounds(), "state %v out of bounds after input %v", next, u)
	}
}

func TestBaselineIsFixedPointWhenInertiaPreservesIt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inertia = linalg.Identity(3).Rows()
	cfg.Baseline = []float64{0.3, 0.1, 0.2}
	cfg.InitialState = state.AffectState{Arousal: 0.3, Valence: 0.1, Habituation: 0.2}
	p, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next := p.Step(state.ControlInput{})
		assert.Equal(t, cfg.InitialState, next)
	}
}

func TestZeroBaselineIsFixedPointOfReferenceDynamics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Baseline = []float64{0, 0, 0}
	cfg.InitialState = state.AffectState{}
	p, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, state.AffectState{}, p.Step(state.ControlInput{}))
}

func TestPropagateIsPure(t *testing.T) {
	p := newDefault(t)
	c := p.Coefficients()
	x := state.AffectState{Arousal: 0.5, Valence: -0.2, Habituation: 0.3}
	u := state.ControlInput{Luminance: 0.2, Sonics: 0.4, Geometry: 0.6}

	a, err := Propagate(c, x, u)
	require.NoError(t, err)
	b, err := Propagate(c, x, u)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, state.InitialState(), p.Current())
}

func TestPropagateRejectsMismatchedCoefficients(t *testing.T) {
	c := Coefficients{
		Inertia:   linalg.Identity(2),
		Efficacy:  linalg.Identity(3),
		Baseline:  linalg.Zeros(3),
		DecayRate: 0.05,
	}
	_, err := Propagate(c, state.InitialState(), state.ControlInput{})
	assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"inertia rows":     func(c *Config) { c.Inertia = c.Inertia[:2] },
		"inertia columns":  func(c *Config) { c.Inertia[1] = []float64{1, 2} },
		"efficacy columns": func(c *Config) { c.Efficacy[0] = []float64{1, 2, 3, 4} },
		"baseline length":  func(c *Config) { c.Baseline = []float64{0.1} },
		"nan entry":        func(c *Config) { c.Inertia[0][0] = math.NaN() },
		"inf decay":        func(c *Config) { c.DecayRate = math.Inf(1) },
		"initial state":    func(c *Config) { c.InitialState.Valence = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestCoefficientsRoundTripConfig(t *testing.T) {
	p := newDefault(t)
	cfg := p.Coefficients().Config(p.Current())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestReset(t *testing.T) {
	p := newDefault(t)
	p.Step(state.ControlInput{Luminance: 1})
	require.NoError(t, p.SetInertiaCoefficient(2, 2, 0.6))

	p.Reset()

	assert.Equal(t, state.InitialState(), p.Current())
	v, err := p.InertiaCoefficient(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.99, v)
	assert.Zero(t, p.Perturbations())
}
