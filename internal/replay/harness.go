// Package replay drives the closed loop: the controller picks an input, the
// plant steps, the tick is recorded, then any scripted event fires.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/rs/zerolog"
)

// #region types
// InertiaEdit overwrites one inertia coefficient.
type InertiaEdit struct {
	Row   int     `json:"row" yaml:"row"`
	Col   int     `json:"col" yaml:"col"`
	Value float64 `json:"value" yaml:"value"`
}

// Event is an out-of-band mutation applied after tick Tick is recorded.
type Event struct {
	Name         string              `json:"name" yaml:"name"`
	Tick         int                 `json:"tick" yaml:"tick"`
	State        plant.StateOverride `json:"state" yaml:"state"`
	Inertia      []InertiaEdit       `json:"inertia,omitempty" yaml:"inertia,omitempty"`
	RestoreAfter int                 `json:"restore_after,omitempty" yaml:"restore_after,omitempty"` // ticks until inertia edits are undone; 0 keeps them
}

// ShockEvent is the jump scare: arousal forced to 0.95 and habituation
// persistence dropped to 0.6.
func ShockEvent(tick int) Event {
	return Event{
		Name:    "JUMP SCARE",
		Tick:    tick,
		State:   plant.StateOverride{Arousal: plant.Value(0.95)},
		Inertia: []InertiaEdit{{Row: state.Habituation, Col: state.Habituation, Value: 0.6}},
	}
}

// TickResult is one row of the trajectory.
type TickResult struct {
	Tick             int                `json:"tick"`
	Input            state.ControlInput `json:"input"`
	State            state.AffectState  `json:"state"` // after the step, before events
	Cost             float64            `json:"cost"`
	PredictedArousal float64            `json:"predicted_arousal"`
	Events           []string           `json:"events,omitempty"`
}

// ReplaySummary provides aggregate stats from a run.
type ReplaySummary struct {
	TotalTicks  int
	EventsFired int
	MeanArousal float64
	PeakArousal float64
	FinalState  state.AffectState
}

type pendingRestore struct {
	at    int
	name  string
	edits []InertiaEdit
}

// #endregion types

// #region harness
// Harness owns one plant/controller pair for the duration of a run.
type Harness struct {
	plant  *plant.Plant
	ctrl   *mpc.Controller
	logger zerolog.Logger

	store *state.Store
	runID string
}

// NewHarness wires a plant and a controller that reads its coefficients.
func NewHarness(p *plant.Plant, c *mpc.Controller, logger zerolog.Logger) *Harness {
	return &Harness{plant: p, ctrl: c, logger: logger}
}

// Persist records every tick and event of subsequent runs under runID.
func (h *Harness) Persist(store *state.Store, runID string) {
	h.store = store
	h.runID = runID
}

// Plant returns the plant being driven.
func (h *Harness) Plant() *plant.Plant {
	return h.plant
}

// RunID returns the run ticks are persisted under, if any.
func (h *Harness) RunID() string {
	return h.runID
}

// #endregion harness

// #region run
// Run executes ticks iterations of optimize → step → record → events.
// On error the ticks completed so far are returned. When persisting, ticks
// are written in one batch as the run returns, including on error.
func (h *Harness) Run(ctx context.Context, ticks int, events []Event) (results []TickResult, err error) {
	if ticks < 0 {
		return nil, fmt.Errorf("tick count %d is negative", ticks)
	}

	byTick := make(map[int][]Event, len(events))
	for _, ev := range events {
		byTick[ev.Tick] = append(byTick[ev.Tick], ev)
	}

	results = make([]TickResult, 0, ticks)
	var restores []pendingRestore

	var pending []state.TickRecord
	defer func() {
		if ferr := h.flush(pending); ferr != nil && err == nil {
			err = ferr
		}
	}()

	h.logEvent(0, logging.EventRunStart, "run", map[string]any{"ticks": ticks, "events": len(events)})
	h.logger.Info().Str("run_id", h.runID).Int("ticks", ticks).Int("events", len(events)).Msg("run started")

	for t := 0; t < ticks; t++ {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("stopped before tick %d: %w", t, err)
		}

		// 1. Controller decides input
		plan, err := h.ctrl.Plan(h.plant.Current())
		if err != nil {
			return results, fmt.Errorf("tick %d: %w", t, err)
		}

		// 2. Plant evolves
		next := h.plant.Step(plan.Input)

		// 3. Record
		res := TickResult{
			Tick:             t,
			Input:            plan.Input,
			State:            next,
			Cost:             plan.Cost,
			PredictedArousal: plan.PredictedArousal,
		}

		// 4. Scheduled restores, then events for this tick
		remaining := restores[:0]
		for _, r := range restores {
			if r.at != t {
				remaining = append(remaining, r)
				continue
			}
			if err := h.applyInertia(r.edits); err != nil {
				return results, fmt.Errorf("tick %d restore %q: %w", t, r.name, err)
			}
			res.Events = append(res.Events, "restore "+r.name)
			h.logEvent(t, logging.EventRestore, r.name, r.edits)
			h.logger.Info().Int("tick", t).Str("event", r.name).Msg("inertia restored")
		}
		restores = remaining

		for _, ev := range byTick[t] {
			undo, err := h.apply(ev)
			if err != nil {
				return results, fmt.Errorf("tick %d event %q: %w", t, ev.Name, err)
			}
			if ev.RestoreAfter > 0 && len(undo) > 0 {
				restores = append(restores, pendingRestore{at: t + ev.RestoreAfter, name: ev.Name, edits: undo})
			}
			res.Events = append(res.Events, ev.Name)
			h.logEvent(t, logging.EventPerturbation, ev.Name, ev)
			h.logger.Warn().Int("tick", t).Str("event", ev.Name).
				Float64("arousal", h.plant.Current().Arousal).Msg("perturbation applied")
		}

		if h.store != nil {
			pending = append(pending, state.TickRecord{
				RunID:            h.runID,
				Tick:             t,
				State:            res.State,
				Input:            res.Input,
				Cost:             res.Cost,
				PredictedArousal: res.PredictedArousal,
			})
		}

		h.logger.Debug().Int("tick", t).
			Float64("arousal", next.Arousal).
			Float64("valence", next.Valence).
			Float64("habituation", next.Habituation).
			Float64("cost", plan.Cost).
			Msg("tick")

		results = append(results, res)
	}

	final := h.plant.Current()
	h.logEvent(ticks, logging.EventRunEnd, "run", final)
	h.logger.Info().Str("run_id", h.runID).Str("final", final.String()).Msg("run finished")
	return results, nil
}

func (h *Harness) flush(recs []state.TickRecord) error {
	if h.store == nil || len(recs) == 0 {
		return nil
	}
	if err := h.store.AppendTicks(recs); err != nil {
		return fmt.Errorf("persist %d ticks: %w", len(recs), err)
	}
	return nil
}

// apply performs ev on the plant and returns the edits that undo its
// inertia changes.
func (h *Harness) apply(ev Event) ([]InertiaEdit, error) {
	undo := make([]InertiaEdit, 0, len(ev.Inertia))
	for _, e := range ev.Inertia {
		prev, err := h.plant.InertiaCoefficient(e.Row, e.Col)
		if err != nil {
			return nil, err
		}
		undo = append(undo, InertiaEdit{Row: e.Row, Col: e.Col, Value: prev})
	}
	if !ev.State.Empty() {
		if _, err := h.plant.ForceState(ev.State); err != nil {
			return nil, err
		}
	}
	if err := h.applyInertia(ev.Inertia); err != nil {
		return nil, err
	}
	return undo, nil
}

func (h *Harness) applyInertia(edits []InertiaEdit) error {
	for _, e := range edits {
		if err := h.plant.SetInertiaCoefficient(e.Row, e.Col, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// logEvent writes to event_log when persisting. Failures are logged, not
// returned, so provenance never aborts a run.
func (h *Harness) logEvent(tick int, eventType, name string, detail any) {
	if h.store == nil {
		return
	}
	data, err := json.Marshal(detail)
	if err != nil {
		h.logger.Error().Err(err).Str("event", name).Msg("marshal event detail")
		return
	}
	if err := logging.LogEvent(h.store.DB(), logging.EventEntry{
		RunID:      h.runID,
		Tick:       tick,
		EventType:  eventType,
		Name:       name,
		DetailJSON: string(data),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		h.logger.Error().Err(err).Str("event", name).Msg("event log write failed")
	}
}

// #endregion run

// #region summarize
// Summarize computes aggregate stats from tick results.
func Summarize(results []TickResult) ReplaySummary {
	s := ReplaySummary{TotalTicks: len(results)}
	if len(results) == 0 {
		return s
	}
	var sum float64
	for _, r := range results {
		sum += r.State.Arousal
		if r.State.Arousal > s.PeakArousal {
			s.PeakArousal = r.State.Arousal
		}
		s.EventsFired += len(r.Events)
	}
	s.MeanArousal = sum / float64(len(results))
	s.FinalState = results[len(results)-1].State
	return s
}

// Trajectory extracts the post-step states.
func Trajectory(results []TickResult) []state.AffectState {
	out := make([]state.AffectState, len(results))
	for i, r := range results {
		out[i] = r.State
	}
	return out
}

// #endregion summarize
