package scheduler

import (
	"time"

	"github.com/nvandessel/seekwalk/internal/walk"
)

// BatchState is the mutable state of one logical "seek N successes"
// operation. It is owned by a single Scheduler call at a time and is passed
// back in to continue the same batch.
type BatchState struct {
	Phase              Phase                `json:"phase"`
	CompletedRuns      []walk.Path          `json:"completed_runs"`
	FailedAttempts     []walk.AttemptResult `json:"failed_attempts"`
	TotalAttempts      int                  `json:"total_attempts"`
	SuccessfulAttempts int                  `json:"successful_attempts"`

	// StartedAt is the wall-clock time the batch first became active.
	StartedAt time.Time `json:"started_at"`
	// PausedAt is set while the batch is not being driven.
	PausedAt time.Time `json:"paused_at"`
	// PausedTotal sums every completed paused interval.
	PausedTotal time.Duration `json:"paused_total"`
	// Pauses counts completed paused intervals.
	Pauses int `json:"pauses"`

	// PhaseStart is the active elapsed time at which Phase began.
	PhaseStart time.Duration `json:"phase_start"`
	// Warned records that the soft safety warning was issued.
	Warned bool `json:"warned"`
}

// NewBatchState starts an independent batch in phase.
func NewBatchState(phase Phase) *BatchState {
	return &BatchState{Phase: phase}
}

// Paused reports whether the batch is currently frozen.
func (s *BatchState) Paused() bool {
	return !s.PausedAt.IsZero()
}

// ActiveElapsed is wall-clock time since the batch started minus every
// paused interval, including one still in progress.
func (s *BatchState) ActiveElapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if s.Paused() {
		end = s.PausedAt
	}
	d := end.Sub(s.StartedAt) - s.PausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// PhaseElapsed is the active time spent in the current phase.
func (s *BatchState) PhaseElapsed(now time.Time) time.Duration {
	d := s.ActiveElapsed(now) - s.PhaseStart
	if d < 0 {
		return 0
	}
	return d
}

// resume marks the batch active, closing any open paused interval.
func (s *BatchState) resume(now time.Time) {
	if s.StartedAt.IsZero() {
		s.StartedAt = now
		s.PausedAt = time.Time{}
		return
	}
	if s.Paused() {
		if gap := now.Sub(s.PausedAt); gap > 0 {
			s.PausedTotal += gap
		}
		s.PausedAt = time.Time{}
		s.Pauses++
	}
}

// pause freezes active time accounting at now.
func (s *BatchState) pause(now time.Time) {
	if s.StartedAt.IsZero() || s.Paused() {
		return
	}
	s.PausedAt = now
}

// advance moves to the next phase and resets the phase-local budget.
// It reports whether the phase changed.
func (s *BatchState) advance(now time.Time) bool {
	if s.Phase.Terminal() {
		return false
	}
	s.Phase = s.Phase.Next()
	s.PhaseStart = s.ActiveElapsed(now)
	return true
}

// record appends an attempt outcome in issue order.
func (s *BatchState) record(a walk.AttemptResult) {
	s.TotalAttempts++
	if a.Completed {
		s.SuccessfulAttempts++
		s.CompletedRuns = append(s.CompletedRuns, a.Path)
		return
	}
	s.FailedAttempts = append(s.FailedAttempts, a)
}

// Action is the scheduler's next move for a batch.
type Action int

const (
	ActionAttempt Action = iota
	ActionReached
	ActionStopped
	ActionBudgetExceeded
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionAttempt:
		return "attempt"
	case ActionReached:
		return "reached"
	case ActionStopped:
		return "stopped"
	case ActionBudgetExceeded:
		return "budget_exceeded"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is the result of one scheduler step.
type Decision struct {
	Action Action
	// Warn is set the first time the soft safety threshold is crossed.
	Warn bool
}

// Decide is the pure transition function of the batch loop. It inspects the
// state at now and picks the next action. Reaching the target and external
// stops take priority over any budget.
func Decide(s *BatchState, b Budget, desired int, now time.Time, stopRequested bool) Decision {
	if s.SuccessfulAttempts >= desired {
		return Decision{Action: ActionReached}
	}
	if stopRequested {
		return Decision{Action: ActionStopped}
	}

	active := s.ActiveElapsed(now)
	if b.HardAbort > 0 && active >= b.HardAbort {
		return Decision{Action: ActionAbort}
	}
	if b.Total > 0 && s.PhaseElapsed(now) >= b.Total {
		return Decision{Action: ActionBudgetExceeded}
	}

	d := Decision{Action: ActionAttempt}
	if b.SoftWarning > 0 && active >= b.SoftWarning && !s.Warned {
		d.Warn = true
	}
	return d
}

// BatchResult is the snapshot returned after each Seek. All partial results
// are included regardless of how the batch ended.
type BatchResult struct {
	CompletedRuns       []walk.Path          `json:"completed_runs"`
	FailedAttempts      []walk.AttemptResult `json:"failed_attempts"`
	TotalAttempts       int                  `json:"total_attempts"`
	SuccessfulAttempts  int                  `json:"successful_attempts"`
	DesiredCount        int                  `json:"desired_count"`
	ReachedDesiredCount bool                 `json:"reached_desired_count"`
	HitTimeLimit        bool                 `json:"hit_time_limit"`
	WasStopped          bool                 `json:"was_stopped"`
	Aborted             bool                 `json:"aborted"`
	SafetyWarning       bool                 `json:"safety_warning"`
	HasAnyData          bool                 `json:"has_any_data"`
	Phase               Phase                `json:"phase"`
	Elapsed             time.Duration        `json:"elapsed"`
}

// CanContinue reports whether a later phase could still make progress.
func (r BatchResult) CanContinue() bool {
	return r.HitTimeLimit && !r.Aborted && !r.ReachedDesiredCount && !r.Phase.Terminal()
}

func (s *BatchState) result(desired int, now time.Time) BatchResult {
	return BatchResult{
		CompletedRuns:       s.CompletedRuns,
		FailedAttempts:      s.FailedAttempts,
		TotalAttempts:       s.TotalAttempts,
		SuccessfulAttempts:  s.SuccessfulAttempts,
		DesiredCount:        desired,
		ReachedDesiredCount: s.SuccessfulAttempts >= desired,
		HasAnyData:          s.SuccessfulAttempts > 0,
		SafetyWarning:       s.Warned,
		Phase:               s.Phase,
		Elapsed:             s.ActiveElapsed(now),
	}
}
