// Package transport exposes one plant/controller session over gRPC as
// affect.v1.PlantService. Messages are google.protobuf.Struct values so no
// generated code is needed on either side.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/affect-mpc/internal/gate"
	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/rs/zerolog"
)

// ErrRejected is returned when the gate vetoes a submitted input.
var ErrRejected = errors.New("input rejected")

// #region types
// TickOutcome is the result of one closed-loop tick.
type TickOutcome struct {
	Tick             int
	Input            state.ControlInput
	State            state.AffectState
	Cost             float64
	PredictedArousal float64
}

// Snapshot is the session's observable state.
type Snapshot struct {
	State         state.AffectState
	Tick          int
	Perturbations int
}

// #endregion types

// #region session
// Session serializes every call onto one plant and its controller.
type Session struct {
	mu     sync.Mutex
	plant  *plant.Plant
	ctrl   *mpc.Controller
	gate   *gate.Gate
	logger zerolog.Logger
	tick   int

	store *state.Store
	runID string
}

// NewSession wraps a plant and a controller that reads its coefficients.
func NewSession(p *plant.Plant, c *mpc.Controller, g *gate.Gate, logger zerolog.Logger) *Session {
	return &Session{plant: p, ctrl: c, gate: g, logger: logger}
}

// Persist records subsequent ticks and perturbations under runID.
func (s *Session) Persist(store *state.Store, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	s.runID = runID
}

// Optimize returns the controller's choice for the current state without
// stepping the plant.
func (s *Session) Optimize() (mpc.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Plan(s.plant.Current())
}

// Step applies an externally chosen input after it passes the gate.
func (s *Session) Step(u state.ControlInput) (state.AffectState, gate.GateDecision, error) {
	d := s.gate.Evaluate(u)
	if d.Vetoed {
		s.logger.Warn().Str("reason", d.Reason).Msg("step rejected")
		return state.AffectState{}, d, fmt.Errorf("%w: %s", ErrRejected, d.Reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.plant.Step(u)
	if err := s.record(TickOutcome{Tick: s.tick, Input: u, State: next}); err != nil {
		return next, d, err
	}
	s.event(logging.EventExternalStep, u)
	s.tick++
	return next, d, nil
}

// Tick runs one optimize → step cycle.
func (s *Session) Tick() (TickOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.ctrl.Plan(s.plant.Current())
	if err != nil {
		return TickOutcome{}, fmt.Errorf("tick %d: %w", s.tick, err)
	}
	out := TickOutcome{
		Tick:             s.tick,
		Input:            plan.Input,
		State:            s.plant.Step(plan.Input),
		Cost:             plan.Cost,
		PredictedArousal: plan.PredictedArousal,
	}
	if err := s.record(out); err != nil {
		return out, err
	}
	s.tick++
	s.logger.Debug().Int("tick", out.Tick).Float64("arousal", out.State.Arousal).Float64("cost", out.Cost).Msg("tick")
	return out, nil
}

// State returns the current snapshot.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.plant.Current(), Tick: s.tick, Perturbations: s.plant.Perturbations()}
}

// ForceState overrides some or all of the state.
func (s *Session) ForceState(o plant.StateOverride) (state.AffectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.plant.ForceState(o)
	if err != nil {
		return next, err
	}
	s.event(logging.EventForceState, o)
	s.logger.Warn().Int("tick", s.tick).Str("state", next.String()).Msg("state forced")
	return next, nil
}

// SetInertia overwrites A[row][col] and returns the previous value.
func (s *Session) SetInertia(row, col int, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.plant.InertiaCoefficient(row, col)
	if err != nil {
		return 0, err
	}
	if err := s.plant.SetInertiaCoefficient(row, col, value); err != nil {
		return 0, err
	}
	s.event(logging.EventSetInertia, map[string]any{"row": row, "col": col, "value": value, "previous": prev})
	s.logger.Warn().Int("row", row).Int("col", col).Float64("value", value).Float64("previous", prev).Msg("inertia changed")
	return prev, nil
}

func (s *Session) record(out TickOutcome) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.AppendTick(state.TickRecord{
		RunID:            s.runID,
		Tick:             out.Tick,
		State:            out.State,
		Input:            out.Input,
		Cost:             out.Cost,
		PredictedArousal: out.PredictedArousal,
	}); err != nil {
		return fmt.Errorf("persist tick %d: %w", out.Tick, err)
	}
	return nil
}

// event writes to event_log; the entry's tick is the next tick to run.
func (s *Session) event(name string, detail any) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(detail)
	if err != nil {
		s.logger.Error().Err(err).Str("event", name).Msg("marshal event detail")
		return
	}
	if err := logging.LogEvent(s.store.DB(), logging.EventEntry{
		RunID:      s.runID,
		Tick:       s.tick,
		EventType:  name,
		Name:       name,
		DetailJSON: string(data),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.logger.Error().Err(err).Str("event", name).Msg("event log write failed")
	}
}

// #endregion session
