// Package walk implements the single-attempt simulator for the counter walk.
//
// A counter starts at zero and takes one step per iteration: up with a
// probability that depends only on its current value, down otherwise, never
// going below zero. An attempt ends when the counter reaches the target or
// the iteration cap is hit.
package walk

import (
	"fmt"
	"math"
)

// DefaultIterationSafetyCap bounds a single attempt when no tighter cap is set.
const DefaultIterationSafetyCap = 1_000_000

// MaxTargetValue is the largest target a batch may seek. Completed runs are
// at least this long, and the density grid is one row taller.
const MaxTargetValue = 100

// Params are the simulation parameters shared by every attempt in a batch.
type Params struct {
	// InitialProb is the up-probability at counter value zero. Range: (0, 1].
	InitialProb float64 `json:"initial_prob" yaml:"initial_prob"`

	// DecayFactor multiplies the up-probability once per unit of progress.
	// Below 1 progress gets harder, above 1 it accelerates. Range: (0, 2].
	DecayFactor float64 `json:"decay_factor" yaml:"decay_factor"`

	// TargetValue is the counter value that completes an attempt.
	// Range: [1, MaxTargetValue].
	TargetValue int `json:"target_value" yaml:"target_value"`

	// IterationSafetyCap abandons an attempt after this many steps.
	IterationSafetyCap int `json:"iteration_safety_cap" yaml:"iteration_safety_cap"`
}

// DefaultParams returns a moderately hard parameter set.
func DefaultParams() Params {
	return Params{
		InitialProb:        0.5,
		DecayFactor:        0.98,
		TargetValue:        20,
		IterationSafetyCap: DefaultIterationSafetyCap,
	}
}

// UpProbability returns the clamped probability of stepping up from counter.
func (p Params) UpProbability(counter int) float64 {
	pUp := p.InitialProb * math.Pow(p.DecayFactor, float64(counter))
	switch {
	case math.IsNaN(pUp) || pUp < 0:
		return 0
	case pUp > 1:
		return 1
	default:
		return pUp
	}
}

// Validate checks every parameter and reports all problems at once.
// It returns nil when the parameters are usable.
func (p Params) Validate() error {
	var problems []string
	if !(p.InitialProb > 0 && p.InitialProb <= 1) {
		problems = append(problems, fmt.Sprintf("initial_prob must be in (0, 1], got %g", p.InitialProb))
	}
	if !(p.DecayFactor > 0 && p.DecayFactor <= 2) {
		problems = append(problems, fmt.Sprintf("decay_factor must be in (0, 2], got %g", p.DecayFactor))
	}
	if p.TargetValue < 1 || p.TargetValue > MaxTargetValue {
		problems = append(problems, fmt.Sprintf("target_value must be between 1 and %d, got %d", MaxTargetValue, p.TargetValue))
	}
	if p.IterationSafetyCap < 1 {
		problems = append(problems, fmt.Sprintf("iteration_safety_cap must be a positive integer, got %d", p.IterationSafetyCap))
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
