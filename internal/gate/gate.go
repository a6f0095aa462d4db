// Package gate screens control inputs that arrive from outside the control
// loop before they reach the plant.
package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/affect-mpc/internal/state"
)

// #region gate
// Gate evaluates whether a submitted control input may be applied.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks hard vetoes first, then scores range conformance.
func (g *Gate) Evaluate(u state.ControlInput) GateDecision {
	var vetoes []VetoSignal

	components := []struct {
		name  string
		value float64
	}{
		{"luminance", u.Luminance},
		{"sonics", u.Sonics},
		{"geometry", u.Geometry},
	}

	inRange := 0
	for _, c := range components {
		// 1. NaN/Inf would poison the state vector
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoNonFinite,
				Reason: fmt.Sprintf("%s is not finite", c.name),
			})
			continue
		}
		// 2. Range: soft unless strict
		if c.value < g.config.MinComponent || c.value > g.config.MaxComponent {
			if g.config.Strict {
				vetoes = append(vetoes, VetoSignal{
					Type:   VetoOutOfRange,
					Reason: fmt.Sprintf("%s %.4f outside [%.2f, %.2f]", c.name, c.value, g.config.MinComponent, g.config.MaxComponent),
				})
			}
			continue
		}
		inRange++
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}

	score := float64(inRange) / float64(len(components))
	return GateDecision{
		Action:    "admit",
		Reason:    fmt.Sprintf("passed gate: soft_score=%.4f", score),
		SoftScore: score,
	}
}

// #endregion gate
