package walk

import "time"

// DefaultCheckpointEvery is how many iterations pass between checkpoints
// inside one attempt.
const DefaultCheckpointEvery = 10_000

// Reason says why an attempt ended.
type Reason string

const (
	ReasonSuccess        Reason = "success"
	ReasonIterationLimit Reason = "iteration_limit"
	ReasonTimeLimit      Reason = "time_limit"
)

// Path is the sequence of counter values visited by one attempt.
// Path[0] is always 0. A completed path ends with the target value.
type Path []int

// Steps returns the number of transitions recorded in the path.
func (p Path) Steps() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Last returns the final counter value, or -1 for an empty path.
func (p Path) Last() int {
	if len(p) == 0 {
		return -1
	}
	return p[len(p)-1]
}

// AttemptResult is the outcome of one simulated attempt.
type AttemptResult struct {
	Path       Path          `json:"path"`
	Completed  bool          `json:"completed"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
	Reason     Reason        `json:"reason"`
}

// Caps tightens the limits of a single attempt beyond Params.
// The zero value applies only Params.IterationSafetyCap.
type Caps struct {
	// MaxIterations lowers the iteration cap when positive.
	MaxIterations int

	// MaxDuration abandons the attempt once exceeded. It is only checked at
	// checkpoints, so the attempt may overrun by up to CheckpointEvery steps.
	MaxDuration time.Duration

	// CheckpointEvery sets the checkpoint cadence. Defaults to
	// DefaultCheckpointEvery.
	CheckpointEvery int

	// Checkpoint is called with the iteration count at every checkpoint.
	Checkpoint func(iterations int)

	// Now is the clock used for Elapsed and MaxDuration. Defaults to time.Now.
	Now func() time.Time
}

func (c Caps) iterationCap(p Params) int {
	limit := p.IterationSafetyCap
	if c.MaxIterations > 0 && (limit <= 0 || c.MaxIterations < limit) {
		limit = c.MaxIterations
	}
	return limit
}

// Simulate runs one attempt from counter zero toward p.TargetValue.
//
// Each iteration records the pre-transition value, then steps up with
// probability p.UpProbability(counter) or down (floored at zero) otherwise.
// Simulate touches no shared state apart from drawing from src.
func Simulate(p Params, src Source, caps Caps) AttemptResult {
	now := caps.Now
	if now == nil {
		now = time.Now
	}
	every := caps.CheckpointEvery
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	limit := caps.iterationCap(p)

	start := now()
	path := make(Path, 0, initialPathCapacity(p.TargetValue, limit))
	counter := 0
	iterations := 0
	reason := ReasonIterationLimit

	for counter < p.TargetValue && iterations < limit {
		pUp := p.UpProbability(counter)
		path = append(path, counter)
		if src.Float64() < pUp {
			counter++
		} else if counter > 0 {
			counter--
		}
		iterations++

		if iterations%every == 0 {
			if caps.Checkpoint != nil {
				caps.Checkpoint(iterations)
			}
			if caps.MaxDuration > 0 && now().Sub(start) >= caps.MaxDuration && counter < p.TargetValue {
				reason = ReasonTimeLimit
				break
			}
		}
	}

	completed := counter == p.TargetValue
	if completed {
		path = append(path, counter)
		reason = ReasonSuccess
	}

	return AttemptResult{
		Path:       path,
		Completed:  completed,
		Iterations: iterations,
		Elapsed:    now().Sub(start),
		Reason:     reason,
	}
}

// initialPathCapacity guesses a path capacity without over-allocating for
// attempts that may run to a very large cap.
func initialPathCapacity(target, limit int) int {
	c := 4*target + 1
	if c > limit+1 {
		c = limit + 1
	}
	if c < 1 {
		c = 1
	}
	return c
}
