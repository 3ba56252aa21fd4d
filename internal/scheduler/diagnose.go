package scheduler

import (
	"fmt"
	"time"

	"github.com/nvandessel/seekwalk/internal/walk"
)

// Diagnosis explains a batch that found no successful attempt after every
// phase was spent.
type Diagnosis struct {
	Unreachable  bool          `json:"unreachable"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
	BestProgress int           `json:"best_progress"`
	// HardestStep is the up-probability at the value just below the best
	// progress reached, where attempts stalled.
	HardestStep float64 `json:"hardest_step"`
	Suggestion  string  `json:"suggestion,omitempty"`
}

// Diagnose reports whether the batch ended without any success after the
// last phase, and suggests parameter changes.
func (r BatchResult) Diagnose(params walk.Params) Diagnosis {
	d := Diagnosis{
		Attempts: r.TotalAttempts,
		Elapsed:  r.Elapsed,
	}
	exhausted := r.Aborted || (r.HitTimeLimit && r.Phase.Terminal())
	if r.SuccessfulAttempts > 0 || !exhausted {
		return d
	}

	d.Unreachable = true
	for _, a := range r.FailedAttempts {
		for _, v := range a.Path {
			if v > d.BestProgress {
				d.BestProgress = v
			}
		}
	}
	d.HardestStep = params.UpProbability(d.BestProgress)

	switch {
	case params.DecayFactor < 1:
		d.Suggestion = fmt.Sprintf(
			"attempts stalled near %d of %d where the up-probability is %.3g; raise decay_factor toward 1 or lower target_value",
			d.BestProgress, params.TargetValue, d.HardestStep)
	case params.InitialProb < 0.5:
		d.Suggestion = fmt.Sprintf(
			"attempts stalled near %d of %d; raise initial_prob above 0.5 or lower target_value",
			d.BestProgress, params.TargetValue)
	default:
		d.Suggestion = fmt.Sprintf(
			"attempts stalled near %d of %d; lower target_value or raise iteration_safety_cap",
			d.BestProgress, params.TargetValue)
	}
	return d
}
