package replay

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/affect-mpc/internal/eval"
	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func scenario(seed uint64, ticks int, events ...Event) *Fixture {
	return &Fixture{
		Seed:       seed,
		Plant:      plant.DefaultConfig(),
		Controller: mpc.DefaultConfig(),
		Ticks:      ticks,
		Events:     events,
	}
}

func mustBuild(t *testing.T, f *Fixture) *Harness {
	t.Helper()
	h, err := f.Build(zerolog.Nop())
	require.NoError(t, err)
	return h
}

func tempStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// #endregion helpers

// 1. Closed loop settles on the set point until the shock disinhibits
// habituation, after which the same input budget overshoots.
func TestRun_ClosedLoopTracksTarget(t *testing.T) {
	f := scenario(42, 60, ShockEvent(30))
	results, err := mustBuild(t, f).Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)
	require.Len(t, results, 60)

	for _, r := range results {
		assert.True(t, r.State.InBounds(), "tick %d out of bounds: %s", r.Tick, r.State)
	}
	mean := func(from, to int) float64 {
		var sum float64
		for _, r := range results[from:to] {
			sum += r.State.Arousal
		}
		return sum / float64(to-from)
	}

	assert.Greater(t, results[0].State.Arousal, plant.DefaultConfig().InitialState.Arousal)
	assert.InDelta(t, f.Controller.TargetArousal, mean(20, 30), 0.1)
	assert.Greater(t, results[29].State.Habituation, 0.4)

	assert.Greater(t, results[31].State.Arousal, 0.8)
	assert.Less(t, results[59].State.Habituation, 0.2)
	assert.Greater(t, mean(31, 60), mean(10, 30)+0.1)

	res := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(Trajectory(results), f.Controller.TargetArousal)
	bounds, ok := res.Metric(eval.MetricBounds)
	require.True(t, ok)
	assert.True(t, bounds.Pass)
}

// 2. Same seed, same trajectory.
func TestRun_Deterministic(t *testing.T) {
	f := scenario(7, 40, ShockEvent(20))
	a, err := mustBuild(t, f).Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)
	b, err := mustBuild(t, f).Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// 3. The shock fires after its tick is recorded and shows up on the next one.
func TestRun_ShockAppliedAfterRecording(t *testing.T) {
	f := scenario(3, 33, ShockEvent(30))
	h := mustBuild(t, f)
	results, err := h.Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)

	assert.Equal(t, []string{"JUMP SCARE"}, results[30].Events)
	assert.Less(t, results[30].State.Arousal, 0.95)
	assert.Equal(t, 2, h.Plant().Perturbations())

	a22, err := h.Plant().InertiaCoefficient(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.6, a22)

	// tick 31 starts from arousal 0.95: 0.9*0.95 - 0.05*(0.95-0.1) = 0.8125 before input
	assert.Greater(t, results[31].State.Arousal, 0.8)
}

// 4. RestoreAfter undoes the inertia edit but not the forced state.
func TestRun_RestoreAfter(t *testing.T) {
	ev := ShockEvent(5)
	ev.RestoreAfter = 3
	f := scenario(1, 12, ev)
	h := mustBuild(t, f)
	results, err := h.Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)

	assert.Equal(t, []string{"restore JUMP SCARE"}, results[8].Events)
	a22, err := h.Plant().InertiaCoefficient(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.99, a22)
	assert.Equal(t, 2, Summarize(results).EventsFired)
}

// 5. No events means the perturbation surface is never touched.
func TestRun_NoEventsNoPerturbations(t *testing.T) {
	f := scenario(9, 20)
	h := mustBuild(t, f)
	_, err := h.Run(context.Background(), f.Ticks, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Plant().Perturbations())
}

// 6. A cancelled context stops the loop between ticks.
func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := scenario(1, 10)
	results, err := mustBuild(t, f).Run(ctx, f.Ticks, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

// 7. Controller errors surface with the tick number.
func TestRun_NoCandidate(t *testing.T) {
	f := scenario(1, 5)
	f.Controller.SampleCount = 0
	_, err := mustBuild(t, f).Run(context.Background(), f.Ticks, nil)
	require.ErrorIs(t, err, mpc.ErrNoCandidate)
	assert.Contains(t, err.Error(), "tick 0")
}

// 8. Bad inertia index in an event aborts the run.
func TestRun_BadEvent(t *testing.T) {
	bad := Event{Name: "bad", Tick: 1, Inertia: []InertiaEdit{{Row: 3, Col: 0, Value: 1}}}
	f := scenario(1, 5, bad)
	results, err := mustBuild(t, f).Run(context.Background(), f.Ticks, f.Events)
	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestRun_PersistKeepsTicksBeforeError(t *testing.T) {
	store := tempStore(t)
	run, err := store.CreateRun(state.RunRecord{Seed: 1})
	require.NoError(t, err)

	bad := Event{Name: "bad", Tick: 3, State: plant.StateOverride{Arousal: plant.Value(math.NaN())}}
	f := scenario(1, 6, bad)
	h := mustBuild(t, f)
	h.Persist(store, run.RunID)
	results, err := h.Run(context.Background(), f.Ticks, f.Events)
	require.ErrorIs(t, err, plant.ErrConfiguration)
	require.Len(t, results, 3)

	ticks, err := store.ListTicks(run.RunID)
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, results[2].State, ticks[2].State)
	assert.True(t, h.Plant().Current().InBounds())
}

func TestRun_NegativeTicks(t *testing.T) {
	_, err := mustBuild(t, scenario(1, 0)).Run(context.Background(), -1, nil)
	require.Error(t, err)
}

// 9. Persisted runs store every tick and the event log.
func TestRun_Persist(t *testing.T) {
	store := tempStore(t)
	f := scenario(11, 15, ShockEvent(10))
	cfg, err := f.ConfigJSON()
	require.NoError(t, err)
	run, err := store.CreateRun(state.RunRecord{Seed: f.Seed, ConfigJSON: cfg})
	require.NoError(t, err)

	h := mustBuild(t, f)
	h.Persist(store, run.RunID)
	results, err := h.Run(context.Background(), f.Ticks, f.Events)
	require.NoError(t, err)

	ticks, err := store.ListTicks(run.RunID)
	require.NoError(t, err)
	require.Len(t, ticks, 15)
	assert.Equal(t, results[14].State, ticks[14].State)
	assert.Equal(t, results[3].Input, ticks[3].Input)

	events, err := logging.ListEvents(store.DB(), run.RunID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{logging.EventRunStart, logging.EventPerturbation, logging.EventRunEnd}, types)
	assert.Equal(t, 10, events[1].Tick)
}

func TestSummarize(t *testing.T) {
	results := []TickResult{
		{Tick: 0, State: state.AffectState{Arousal: 0.2}},
		{Tick: 1, State: state.AffectState{Arousal: 0.8}, Events: []string{"x"}},
		{Tick: 2, State: state.AffectState{Arousal: 0.5, Habituation: 0.1}},
	}
	s := Summarize(results)
	assert.Equal(t, 3, s.TotalTicks)
	assert.Equal(t, 1, s.EventsFired)
	assert.InDelta(t, 0.5, s.MeanArousal, 1e-12)
	assert.Equal(t, 0.8, s.PeakArousal)
	assert.Equal(t, results[2].State, s.FinalState)

	assert.Equal(t, ReplaySummary{}, Summarize(nil))
}

func TestShockEvent(t *testing.T) {
	ev := ShockEvent(30)
	require.NotNil(t, ev.State.Arousal)
	assert.Equal(t, 0.95, *ev.State.Arousal)
	assert.Nil(t, ev.State.Valence)
	assert.Equal(t, []InertiaEdit{{Row: 2, Col: 2, Value: 0.6}}, ev.Inertia)
}
