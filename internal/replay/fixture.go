package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultTolerance bounds per-component deviation when comparing replays.
const DefaultTolerance = 1e-9

// ErrNotReplayable is returned for recorded runs whose inputs did not all
// come from the controller.
var ErrNotReplayable = errors.New("run is not replayable")

// #region fixture-types
// Fixture is everything needed to reproduce a run bit for bit, plus
// optionally what the run is expected to produce. The same JSON, minus
// Expected, is stored as a run's config.
type Fixture struct {
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Seed        uint64           `json:"seed" yaml:"seed"`
	Plant       plant.Config     `json:"plant" yaml:"plant"`
	Controller  mpc.Config       `json:"controller" yaml:"controller"`
	Ticks       int              `json:"ticks" yaml:"ticks"`
	Events      []Event          `json:"events,omitempty" yaml:"events,omitempty"`
	Expected    *ExpectedOutcome `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// ExpectedOutcome is the reference a replay is checked against.
type ExpectedOutcome struct {
	FinalState state.AffectState   `json:"final_state" yaml:"final_state"`
	Trajectory []state.AffectState `json:"trajectory,omitempty" yaml:"trajectory,omitempty"`
	Tolerance  float64             `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// EffectiveTolerance is Tolerance, or DefaultTolerance when unset.
func (e ExpectedOutcome) EffectiveTolerance() float64 {
	if e.Tolerance <= 0 {
		return DefaultTolerance
	}
	return e.Tolerance
}

// Comparison reports how far a replay strayed from its expectation.
type Comparison struct {
	Match          bool
	MaxDeviation   float64
	DivergentTick  int // first tick beyond tolerance, -1 if none
	FinalExpected  state.AffectState
	FinalReplayed  state.AffectState
	TicksCompared  int
	LengthMismatch bool
}

// #endregion fixture-types

// #region fixture-loader
// LoadFixture reads a fixture file. Files ending in .yaml or .yml are
// decoded as YAML, anything else as JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var f Fixture
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse fixture %s: %w", path, err)
		}
		if f.Ticks < 0 {
			return nil, fmt.Errorf("parse fixture %s: negative tick count %d", path, f.Ticks)
		}
		return &f, nil
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes fixture JSON.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if f.Ticks < 0 {
		return nil, fmt.Errorf("parse fixture: negative tick count %d", f.Ticks)
	}
	return &f, nil
}

// Save writes f as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ConfigJSON is the fixture without its expectation, as stored with a run.
func (f *Fixture) ConfigJSON() (string, error) {
	c := *f
	c.Expected = nil
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}
	return string(data), nil
}

// #endregion fixture-loader

// #region build
// Build constructs a fresh plant, a controller seeded from f.Seed that reads
// the plant's live coefficients, and a harness around them.
func (f *Fixture) Build(logger zerolog.Logger) (*Harness, error) {
	p, err := plant.New(f.Plant)
	if err != nil {
		return nil, fmt.Errorf("build plant: %w", err)
	}
	c, err := mpc.New(f.Controller, p, mpc.NewSource(f.Seed))
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	return NewHarness(p, c, logger), nil
}

// FixtureFromRun rebuilds a fixture from a stored run and attaches its
// recorded trajectory as the expectation. Perturbations an interactive
// session wrote to events become fixture events; a session that stepped an
// external input yields ErrNotReplayable.
func FixtureFromRun(run state.RunRecord, ticks []state.TickRecord, events []logging.EventEntry) (*Fixture, error) {
	if run.ConfigJSON == "" {
		return nil, fmt.Errorf("run %s has no stored config", run.RunID)
	}
	f, err := ParseFixture([]byte(run.ConfigJSON))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.RunID, err)
	}
	f.Seed = run.Seed
	if f.Ticks == 0 {
		f.Ticks = len(ticks)
	}
	if err := f.addSessionEvents(events); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.RunID, err)
	}
	if len(ticks) == 0 {
		return f, nil
	}
	traj := make([]state.AffectState, len(ticks))
	for i, t := range ticks {
		traj[i] = t.State
	}
	f.Expected = &ExpectedOutcome{
		FinalState: traj[len(traj)-1],
		Trajectory: traj,
		Tolerance:  DefaultTolerance,
	}
	return f, nil
}

// addSessionEvents converts session perturbations into events. A session
// entry at tick k was applied before tick k was planned, which is after
// tick k-1 in harness terms; entries before the first tick edit the plant
// config instead.
func (f *Fixture) addSessionEvents(entries []logging.EventEntry) error {
	for _, e := range entries {
		switch e.EventType {
		case logging.EventExternalStep:
			return fmt.Errorf("%w: tick %d stepped an external input", ErrNotReplayable, e.Tick)

		case logging.EventForceState:
			var o plant.StateOverride
			if err := json.Unmarshal([]byte(e.DetailJSON), &o); err != nil {
				return fmt.Errorf("decode %s at tick %d: %w", e.Name, e.Tick, err)
			}
			if err := o.Validate(); err != nil {
				return fmt.Errorf("%s at tick %d: %w", e.Name, e.Tick, err)
			}
			if e.Tick == 0 {
				f.Plant.InitialState = o.Apply(f.Plant.InitialState)
				continue
			}
			f.Events = append(f.Events, Event{Name: e.Name, Tick: e.Tick - 1, State: o})

		case logging.EventSetInertia:
			var edit InertiaEdit
			if err := json.Unmarshal([]byte(e.DetailJSON), &edit); err != nil {
				return fmt.Errorf("decode %s at tick %d: %w", e.Name, e.Tick, err)
			}
			if e.Tick == 0 {
				if edit.Row < 0 || edit.Row >= len(f.Plant.Inertia) ||
					edit.Col < 0 || edit.Col >= len(f.Plant.Inertia[edit.Row]) {
					return fmt.Errorf("%s (%d,%d): outside the inertia matrix", e.Name, edit.Row, edit.Col)
				}
				f.Plant.Inertia[edit.Row][edit.Col] = edit.Value
				continue
			}
			f.Events = append(f.Events, Event{Name: e.Name, Tick: e.Tick - 1, Inertia: []InertiaEdit{edit}})
		}
	}
	return nil
}

// #endregion build

// #region compare
// Compare checks replayed results against exp. With a recorded trajectory
// every tick is compared; otherwise only the final state.
func Compare(exp ExpectedOutcome, results []TickResult) Comparison {
	tol := exp.EffectiveTolerance()
	c := Comparison{DivergentTick: -1, FinalExpected: exp.FinalState}
	if len(results) > 0 {
		c.FinalReplayed = results[len(results)-1].State
	}

	if len(exp.Trajectory) > 0 {
		n := min(len(exp.Trajectory), len(results))
		c.LengthMismatch = len(exp.Trajectory) != len(results)
		for i := 0; i < n; i++ {
			d := Deviation(exp.Trajectory[i], results[i].State)
			c.MaxDeviation = math.Max(c.MaxDeviation, d)
			if d > tol && c.DivergentTick < 0 {
				c.DivergentTick = results[i].Tick
			}
		}
		c.TicksCompared = n
	}

	final := Deviation(exp.FinalState, c.FinalReplayed)
	c.MaxDeviation = math.Max(c.MaxDeviation, final)
	c.Match = !c.LengthMismatch && c.DivergentTick < 0 && final <= tol && len(results) > 0
	return c
}

// Deviation is the largest per-component difference between a and b.
func Deviation(a, b state.AffectState) float64 {
	return math.Max(math.Abs(a.Arousal-b.Arousal),
		math.Max(math.Abs(a.Valence-b.Valence), math.Abs(a.Habituation-b.Habituation)))
}

// #endregion compare
