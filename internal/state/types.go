package state

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
)

// #region ranges
// Closed ranges for each affect component.
const (
	ArousalMin     = 0.0
	ArousalMax     = 1.0
	ValenceMin     = -1.0
	ValenceMax     = 1.0
	HabituationMin = 0.0
	HabituationMax = 1.0
)

// Dim is the dimension of both the state and the control vector.
const Dim = 3

// Component indices into the state vector.
const (
	Arousal = iota
	Valence
	Habituation
)

// #endregion ranges

// #region affect-state
// AffectState is the (arousal, valence, habituation) triple owned by the plant.
type AffectState struct {
	Arousal     float64 `json:"arousal"`
	Valence     float64 `json:"valence"`
	Habituation float64 `json:"habituation"`
}

// InitialState is the state every run starts from: calm, neutral, fresh.
func InitialState() AffectState {
	return AffectState{Arousal: 0.2, Valence: 0.0, Habituation: 0.0}
}

// Vector returns the state as a 3-vector.
func (s AffectState) Vector() linalg.Vector {
	return linalg.NewVector(s.Arousal, s.Valence, s.Habituation)
}

// StateFromVector converts a 3-vector back into a state without clamping.
func StateFromVector(v linalg.Vector) (AffectState, error) {
	if v.Len() != Dim {
		return AffectState{}, fmt.Errorf("state from vector: %w (%d vs %d)", linalg.ErrDimensionMismatch, Dim, v.Len())
	}
	return AffectState{Arousal: v.At(Arousal), Valence: v.At(Valence), Habituation: v.At(Habituation)}, nil
}

// Clamp saturates every component into its range.
func (s AffectState) Clamp() AffectState {
	return AffectState{
		Arousal:     clamp(s.Arousal, ArousalMin, ArousalMax),
		Valence:     clamp(s.Valence, ValenceMin, ValenceMax),
		Habituation: clamp(s.Habituation, HabituationMin, HabituationMax),
	}
}

// InBounds reports whether every component lies in its closed range.
func (s AffectState) InBounds() bool {
	return s.Arousal >= ArousalMin && s.Arousal <= ArousalMax &&
		s.Valence >= ValenceMin && s.Valence <= ValenceMax &&
		s.Habituation >= HabituationMin && s.Habituation <= HabituationMax
}

func (s AffectState) String() string {
	return fmt.Sprintf("(a=%.3f v=%.3f h=%.3f)", s.Arousal, s.Valence, s.Habituation)
}

// #endregion affect-state

// #region control-input
// ControlInput is the (luminance, sonics, geometry) triple chosen by the controller.
// Components are meant to lie in [0,1] but nothing enforces it.
type ControlInput struct {
	Luminance float64 `json:"luminance"`
	Sonics    float64 `json:"sonics"`
	Geometry  float64 `json:"geometry"`
}

// Vector returns the input as a 3-vector.
func (u ControlInput) Vector() linalg.Vector {
	return linalg.NewVector(u.Luminance, u.Sonics, u.Geometry)
}

// InputFromVector converts a 3-vector into a control input.
func InputFromVector(v linalg.Vector) (ControlInput, error) {
	if v.Len() != Dim {
		return ControlInput{}, fmt.Errorf("input from vector: %w (%d vs %d)", linalg.ErrDimensionMismatch, Dim, v.Len())
	}
	return ControlInput{Luminance: v.At(0), Sonics: v.At(1), Geometry: v.At(2)}, nil
}

// String matches the "[L, S, G]" column of the simulation table.
func (u ControlInput) String() string {
	return u.Vector().String()
}

// #endregion control-input

// #region records
// RunRecord describes one persisted simulation run.
type RunRecord struct {
	RunID      string
	Seed       uint64
	ConfigJSON string
	CreatedAt  time.Time
}

// TickRecord is one row of a run's trajectory.
type TickRecord struct {
	RunID            string
	Tick             int
	State            AffectState
	Input            ControlInput
	Cost             float64
	PredictedArousal float64
	CreatedAt        time.Time
}

// #endregion records

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
