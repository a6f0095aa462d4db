package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Controller, cfg.Controller)
	assert.Equal(t, d.Simulation, cfg.Simulation)
	assert.Equal(t, d.Plant.Inertia, cfg.Plant.Inertia)
	assert.Equal(t, d.Plant.InitialState, cfg.Plant.InitialState)
	assert.Equal(t, 50, cfg.Controller.SampleCount)
	assert.Equal(t, 0.6, cfg.Controller.TargetArousal)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affect.yaml")
	body := `
controller:
  sample_count: 200
  multi_step: true
plant:
  decay_rate: 0.1
  initial_state:
    arousal: 0.5
simulation:
  shock_tick: -1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Controller.SampleCount)
	assert.True(t, cfg.Controller.MultiStep)
	assert.Equal(t, 3, cfg.Controller.Horizon)
	assert.Equal(t, 0.1, cfg.Plant.DecayRate)
	assert.Equal(t, 0.5, cfg.Plant.InitialState.Arousal)
	assert.Equal(t, -1, cfg.Simulation.ShockTick)
	assert.Equal(t, 60, cfg.Simulation.Ticks)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AFFECT_CONTROLLER_SAMPLE_COUNT", "7")
	t.Setenv("AFFECT_STORE_PATH", "/tmp/other.db")
	t.Setenv("AFFECT_CONTROLLER_SEED", "99")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Controller.SampleCount)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	assert.Equal(t, uint64(99), cfg.Controller.Seed)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	want := Default()
	want.Controller.SampleCount = 123
	want.Controller.Seed = 7
	want.Plant.Inertia[2][2] = 0.6

	require.NoError(t, Write(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 123, got.Controller.SampleCount)
	assert.Equal(t, uint64(7), got.Controller.Seed)
	assert.Equal(t, 0.6, got.Plant.Inertia[2][2])
	assert.Equal(t, want.Plant.Efficacy, got.Plant.Efficacy)
}

func TestScenarioDefaultsToShockAtThirty(t *testing.T) {
	f := Default().Scenario()
	assert.Equal(t, uint64(42), f.Seed)
	assert.Equal(t, 60, f.Ticks)
	require.Len(t, f.Events, 1)
	assert.Equal(t, replay.ShockEvent(30), f.Events[0])
}

func TestScenarioShockDisabled(t *testing.T) {
	cfg := Default()
	cfg.Simulation.ShockTick = -1
	assert.Empty(t, cfg.Scenario().Events)
}

func TestScenarioShockRestore(t *testing.T) {
	cfg := Default()
	cfg.Simulation.ShockRestoreAfter = 5
	cfg.Simulation.ShockArousal = 0.8
	ev := cfg.Scenario().Events[0]
	assert.Equal(t, 5, ev.RestoreAfter)
	assert.Equal(t, 0.8, *ev.State.Arousal)
}
