// Package scheduler drives repeated walk attempts until a batch reaches its
// desired number of successes, runs out of time budget, or is stopped.
//
// A batch moves through three phases with growing budgets (initial, extended,
// unlimited). Its state lives in a BatchState value that callers pass back in
// to resume after a stop or to continue into the next phase. Time budgets
// measure active time only: intervals during which no Seek call is driving
// the batch are subtracted from wall-clock time.
//
// Usage:
//
//	s := scheduler.New(walk.NewSource(seed), scheduler.WithObserver(obs))
//	state := scheduler.NewBatchState(scheduler.PhaseInitial)
//	res, err := s.Seek(ctx, 100, params, state)
//	if res.CanContinue() {
//	    res, err = s.Continue(ctx, 100, params, state)
//	}
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/seekwalk/internal/logging"
	"github.com/nvandessel/seekwalk/internal/telemetry"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// MaxDesiredSuccesses is the largest batch a caller may request.
const MaxDesiredSuccesses = 5000

// AttemptFunc runs a single attempt. The default wraps walk.Simulate.
type AttemptFunc func(params walk.Params, caps walk.Caps) walk.AttemptResult

// Scheduler runs batches of attempts. One Scheduler drives at most one Seek
// at a time; Stop may be called from any goroutine.
type Scheduler struct {
	attempt  AttemptFunc
	now      func() time.Time
	yielder  Yielder
	observer Observer
	cadence  Cadence
	budgets  map[Phase]Budget
	tracer   trace.Tracer

	logger *slog.Logger
	events *logging.EventLogger

	stop atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now. Attempts use the same clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithYielder sets the suspension capability.
func WithYielder(y Yielder) Option {
	return func(s *Scheduler) { s.yielder = y }
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithCadence sets the yield cadence.
func WithCadence(c Cadence) Option {
	return func(s *Scheduler) { s.cadence = c }
}

// WithBudget overrides the budget of one phase.
func WithBudget(p Phase, b Budget) Option {
	return func(s *Scheduler) { s.budgets[p] = b }
}

// WithAttemptFunc replaces the simulator, mainly for tests.
func WithAttemptFunc(f AttemptFunc) Option {
	return func(s *Scheduler) { s.attempt = f }
}

// New creates a Scheduler that draws randomness from src.
func New(src walk.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		attempt: func(p walk.Params, c walk.Caps) walk.AttemptResult {
			return walk.Simulate(p, src, c)
		},
		now:     time.Now,
		yielder: NopYielder{},
		cadence: DefaultCadence(),
		budgets: map[Phase]Budget{
			PhaseInitial:   DefaultBudget(PhaseInitial),
			PhaseExtended:  DefaultBudget(PhaseExtended),
			PhaseUnlimited: DefaultBudget(PhaseUnlimited),
		},
		tracer: telemetry.Tracer("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the structured logger and event logger for observability.
func (s *Scheduler) SetLogger(logger *slog.Logger, events *logging.EventLogger) {
	s.logger = logger
	s.events = events
}

// Budget returns the budget applied to phase p.
func (s *Scheduler) Budget(p Phase) Budget {
	if b, ok := s.budgets[p]; ok {
		return b
	}
	return DefaultBudget(p)
}

// Stop asks the running Seek to return after the current attempt. A stop
// requested between calls is held for the next Seek or Continue, which
// returns stopped before running any attempt. The request is cleared once a
// Seek reports it. The batch can be resumed by calling Seek again with the
// same state.
func (s *Scheduler) Stop() {
	s.stop.Store(true)
}

func (s *Scheduler) stopRequested(ctx context.Context) bool {
	return s.stop.Load() || ctx.Err() != nil
}

// Seek runs attempts in state's current phase until desired successes are
// reached, the phase budget is spent, the batch is stopped, or the hard
// safety threshold is crossed. A nil state starts a fresh batch in the
// initial phase.
//
// Only invalid input is returned as an error, before any attempt runs.
// Every other outcome is reported through the BatchResult flags.
func (s *Scheduler) Seek(ctx context.Context, desired int, params walk.Params, state *BatchState) (BatchResult, error) {
	if err := validateRequest(desired, params); err != nil {
		return BatchResult{}, err
	}
	if state == nil {
		state = NewBatchState(PhaseInitial)
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.Seek", trace.WithAttributes(
		attribute.String("seekwalk.phase", state.Phase.String()),
		attribute.Int("seekwalk.desired", desired),
		attribute.Int("seekwalk.target_value", params.TargetValue),
		attribute.Int("seekwalk.prior_attempts", state.TotalAttempts),
	))
	defer span.End()

	budget := s.Budget(state.Phase)

	start := s.now()
	resumed := state.Paused()
	state.resume(start)
	if s.logger != nil {
		s.logger.Debug("seek started",
			"phase", state.Phase.String(),
			"desired", desired,
			"successes", state.SuccessfulAttempts,
			"attempts", state.TotalAttempts,
			"resumed", resumed)
	}

	lastYield := state.ActiveElapsed(start)
	successesAtYield := state.SuccessfulAttempts
	var outcome Action

	for {
		d := Decide(state, budget, desired, s.now(), s.stopRequested(ctx))
		if d.Warn {
			state.Warned = true
			s.safetyWarning(ctx, state, budget)
		}
		if d.Action != ActionAttempt {
			outcome = d.Action
			break
		}

		res := s.attempt(params, s.caps(ctx, budget, state, desired))
		state.record(res)
		if s.logger != nil {
			s.logger.Log(ctx, logging.LevelTrace, "attempt finished",
				"attempt", state.TotalAttempts,
				"completed", res.Completed,
				"iterations", res.Iterations,
				"reason", string(res.Reason))
		}

		active := state.ActiveElapsed(s.now())
		byTime := s.cadence.Interval > 0 && active-lastYield >= s.cadence.Interval
		bySuccess := s.cadence.Successes > 0 && state.SuccessfulAttempts-successesAtYield >= s.cadence.Successes
		if byTime || bySuccess {
			s.yieldPoint(ctx, state, desired, 0)
			lastYield = active
			successesAtYield = state.SuccessfulAttempts
		}
	}

	end := s.now()
	state.pause(end)

	result := state.result(desired, end)
	switch outcome {
	case ActionStopped:
		s.stop.Store(false)
		result.WasStopped = true
	case ActionBudgetExceeded:
		result.HitTimeLimit = true
	case ActionAbort:
		result.HitTimeLimit = true
		result.Aborted = true
		s.abort(ctx, state, budget, end)
		span.SetStatus(codes.Error, "hard safety threshold exceeded")
	}

	s.notify(ctx, Progress{
		SuccessfulAttempts: state.SuccessfulAttempts,
		DesiredCount:       desired,
		TotalAttempts:      state.TotalAttempts,
		Elapsed:            result.Elapsed,
		Phase:              state.Phase,
	})

	span.SetAttributes(
		attribute.String("seekwalk.outcome", outcome.String()),
		attribute.Int("seekwalk.attempts", state.TotalAttempts),
		attribute.Int("seekwalk.successes", state.SuccessfulAttempts),
		attribute.Int64("seekwalk.elapsed_ms", result.Elapsed.Milliseconds()),
	)
	if s.logger != nil {
		s.logger.Debug("seek finished",
			"phase", state.Phase.String(),
			"outcome", outcome.String(),
			"successes", state.SuccessfulAttempts,
			"attempts", state.TotalAttempts,
			"elapsed", result.Elapsed)
	}

	return result, nil
}

// Continue advances state to the next phase and keeps seeking. All prior
// attempts and successes carry over. In the unlimited phase it behaves like
// Seek.
func (s *Scheduler) Continue(ctx context.Context, desired int, params walk.Params, state *BatchState) (BatchResult, error) {
	if state == nil {
		return BatchResult{}, fmt.Errorf("continue requires a batch state")
	}
	if err := validateRequest(desired, params); err != nil {
		return BatchResult{}, err
	}
	// A pending stop keeps the batch in its current phase.
	if !s.stop.Load() {
		s.transition(state)
	}
	return s.Seek(ctx, desired, params, state)
}

// Run seeks through every remaining phase until the batch reaches desired,
// is stopped, or is aborted by the safety threshold.
func (s *Scheduler) Run(ctx context.Context, desired int, params walk.Params, state *BatchState) (BatchResult, error) {
	if state == nil {
		state = NewBatchState(PhaseInitial)
	}
	for {
		res, err := s.Seek(ctx, desired, params, state)
		if err != nil {
			return res, err
		}
		if !res.CanContinue() {
			return res, nil
		}
		s.transition(state)
	}
}

func (s *Scheduler) transition(state *BatchState) {
	from := state.Phase
	if !state.advance(s.now()) {
		return
	}
	if s.logger != nil {
		s.logger.Info("time budget exhausted, escalating phase",
			"from", from.String(),
			"to", state.Phase.String(),
			"successes", state.SuccessfulAttempts,
			"attempts", state.TotalAttempts)
	}
	s.events.Log(map[string]any{
		"event":      "phase_transition",
		"from":       from.String(),
		"to":         state.Phase.String(),
		"attempts":   state.TotalAttempts,
		"successes":  state.SuccessfulAttempts,
		"elapsed_ms": state.ActiveElapsed(s.now()).Milliseconds(),
	})
}

func (s *Scheduler) caps(ctx context.Context, b Budget, state *BatchState, desired int) walk.Caps {
	return walk.Caps{
		MaxIterations:   b.IterationCap,
		MaxDuration:     b.PerAttempt,
		CheckpointEvery: s.cadence.Iterations,
		Now:             s.now,
		Checkpoint: func(iterations int) {
			s.yieldPoint(ctx, state, desired, iterations)
		},
	}
}

// yieldPoint suspends and reports progress. It never mutates state.
func (s *Scheduler) yieldPoint(ctx context.Context, state *BatchState, desired, iterations int) {
	s.yielder.Yield(ctx)
	s.notify(ctx, Progress{
		SuccessfulAttempts: state.SuccessfulAttempts,
		DesiredCount:       desired,
		TotalAttempts:      state.TotalAttempts,
		Elapsed:            state.ActiveElapsed(s.now()),
		Phase:              state.Phase,
		AttemptIterations:  iterations,
	})
}

// notify calls the observer, isolating the batch from its failures.
func (s *Scheduler) notify(ctx context.Context, p Progress) {
	if s.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.observerFailed(ctx, fmt.Errorf("observer panic: %v", r))
		}
	}()
	if err := s.observer.Observe(p); err != nil {
		s.observerFailed(ctx, err)
	}
}

func (s *Scheduler) observerFailed(ctx context.Context, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "progress observer failed", "error", err)
	}
	s.events.Log(map[string]any{
		"event": "observer_failure",
		"error": err.Error(),
	})
}

func (s *Scheduler) safetyWarning(ctx context.Context, state *BatchState, b Budget) {
	elapsed := state.ActiveElapsed(s.now())
	if s.logger != nil {
		s.logger.WarnContext(ctx, "batch exceeded soft safety threshold",
			"elapsed", elapsed,
			"threshold", b.SoftWarning,
			"hard_abort", b.HardAbort,
			"successes", state.SuccessfulAttempts,
			"attempts", state.TotalAttempts)
	}
	s.events.Log(map[string]any{
		"event":        "safety_warning",
		"elapsed_ms":   elapsed.Milliseconds(),
		"threshold_ms": b.SoftWarning.Milliseconds(),
		"attempts":     state.TotalAttempts,
		"successes":    state.SuccessfulAttempts,
	})
}

func (s *Scheduler) abort(ctx context.Context, state *BatchState, b Budget, now time.Time) {
	elapsed := state.ActiveElapsed(now)
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "batch aborted at hard safety threshold",
			"elapsed", elapsed,
			"threshold", b.HardAbort,
			"successes", state.SuccessfulAttempts,
			"attempts", state.TotalAttempts)
	}
	s.events.Log(map[string]any{
		"event":        "safety_abort",
		"elapsed_ms":   elapsed.Milliseconds(),
		"threshold_ms": b.HardAbort.Milliseconds(),
		"attempts":     state.TotalAttempts,
		"successes":    state.SuccessfulAttempts,
	})
}

func validateRequest(desired int, params walk.Params) error {
	ve := &walk.ValidationError{}
	if desired < 1 || desired > MaxDesiredSuccesses {
		ve.Problems = append(ve.Problems,
			fmt.Sprintf("desired successes must be in [1, %d], got %d", MaxDesiredSuccesses, desired))
	}
	ve.Merge(params.Validate())
	return ve.Err()
}
