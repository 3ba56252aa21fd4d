package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/seekwalk/internal/logging"
	"github.com/nvandessel/seekwalk/internal/walk"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fixedAttempt returns an AttemptFunc that advances the clock by cost and
// succeeds when succeed(n) is true for the n-th call (1-based).
func fixedAttempt(clock *fakeClock, cost time.Duration, succeed func(n int) bool) (AttemptFunc, *int) {
	calls := 0
	return func(p walk.Params, c walk.Caps) walk.AttemptResult {
		calls++
		clock.Advance(cost)
		if succeed(calls) {
			path := make(walk.Path, p.TargetValue+1)
			for i := range path {
				path[i] = i
			}
			return walk.AttemptResult{Path: path, Completed: true, Iterations: p.TargetValue, Elapsed: cost, Reason: walk.ReasonSuccess}
		}
		return walk.AttemptResult{Path: walk.Path{0, 1, 0}, Iterations: 3, Elapsed: cost, Reason: walk.ReasonIterationLimit}
	}, &calls
}

func testParams() walk.Params {
	return walk.Params{InitialProb: 0.5, DecayFactor: 1, TargetValue: 3, IterationSafetyCap: 1000}
}

func always(int) bool { return true }
func never(int) bool  { return false }

func TestSeek_StopsAtDesiredCount(t *testing.T) {
	clock := newFakeClock()
	attempt, calls := fixedAttempt(clock, 50*time.Millisecond, always)
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	state := NewBatchState(PhaseInitial)
	res, err := s.Seek(context.Background(), 5, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	if !res.ReachedDesiredCount {
		t.Error("expected ReachedDesiredCount")
	}
	if res.HitTimeLimit {
		t.Error("expected HitTimeLimit = false")
	}
	if res.WasStopped {
		t.Error("expected WasStopped = false")
	}
	if *calls != 5 || res.TotalAttempts != 5 || res.SuccessfulAttempts != 5 {
		t.Errorf("calls=%d attempts=%d successes=%d, want 5/5/5", *calls, res.TotalAttempts, res.SuccessfulAttempts)
	}
	if res.Elapsed != 250*time.Millisecond {
		t.Errorf("Elapsed = %v, want 250ms", res.Elapsed)
	}
	if !res.HasAnyData {
		t.Error("expected HasAnyData")
	}
	if res.Phase != PhaseInitial {
		t.Errorf("Phase = %v, want initial", res.Phase)
	}
}

func TestSeek_InitialBudgetExceeded(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, 50*time.Millisecond, never)
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	state := NewBatchState(PhaseInitial)
	res, err := s.Seek(context.Background(), 5, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	if !res.HitTimeLimit {
		t.Fatal("expected HitTimeLimit")
	}
	if res.TotalAttempts != 40 {
		t.Errorf("TotalAttempts = %d, want 40", res.TotalAttempts)
	}
	if len(res.FailedAttempts) != 40 {
		t.Errorf("len(FailedAttempts) = %d, want 40", len(res.FailedAttempts))
	}
	if res.HasAnyData {
		t.Error("expected HasAnyData = false")
	}
	if !res.CanContinue() {
		t.Error("initial phase exhaustion should allow continuation")
	}

	// Resuming in the same phase spends no more budget.
	again, err := s.Seek(context.Background(), 5, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if again.TotalAttempts != 40 || !again.HitTimeLimit {
		t.Errorf("resume in exhausted phase: attempts=%d hit=%v", again.TotalAttempts, again.HitTimeLimit)
	}
}

func TestContinue_CarriesForwardAttempts(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, 50*time.Millisecond, func(n int) bool { return n%10 == 0 })
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	state := NewBatchState(PhaseInitial)
	first, err := s.Seek(context.Background(), 1000, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if first.TotalAttempts != 40 || first.SuccessfulAttempts != 4 {
		t.Fatalf("initial: attempts=%d successes=%d, want 40/4", first.TotalAttempts, first.SuccessfulAttempts)
	}

	second, err := s.Continue(context.Background(), 1000, testParams(), state)
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if second.Phase != PhaseExtended {
		t.Errorf("Phase = %v, want extended", second.Phase)
	}
	if second.TotalAttempts != 240 {
		t.Errorf("TotalAttempts = %d, want 240", second.TotalAttempts)
	}
	if second.SuccessfulAttempts != 24 {
		t.Errorf("SuccessfulAttempts = %d, want 24", second.SuccessfulAttempts)
	}
	if len(second.CompletedRuns) != 24 {
		t.Errorf("len(CompletedRuns) = %d, want 24", len(second.CompletedRuns))
	}
	if second.Elapsed != 12*time.Second {
		t.Errorf("Elapsed = %v, want 12s", second.Elapsed)
	}
}

func TestRun_EscalatesAndAborts(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, time.Second, never)
	var events bytes.Buffer
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))
	s.SetLogger(logging.Discard(), logging.NewEventWriter(&events))

	params := walk.Params{InitialProb: 0.2, DecayFactor: 0.5, TargetValue: 40, IterationSafetyCap: 1000}
	res, err := s.Run(context.Background(), 10, params, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Phase != PhaseUnlimited {
		t.Errorf("Phase = %v, want unlimited", res.Phase)
	}
	if !res.Aborted || !res.HitTimeLimit {
		t.Errorf("Aborted=%v HitTimeLimit=%v, want both true", res.Aborted, res.HitTimeLimit)
	}
	if !res.SafetyWarning {
		t.Error("expected SafetyWarning after crossing the soft threshold")
	}
	if res.TotalAttempts != 300 {
		t.Errorf("TotalAttempts = %d, want 300", res.TotalAttempts)
	}
	if res.Elapsed != 300*time.Second {
		t.Errorf("Elapsed = %v, want 300s", res.Elapsed)
	}
	if res.CanContinue() {
		t.Error("aborted batch must not continue")
	}

	diag := res.Diagnose(params)
	if !diag.Unreachable {
		t.Fatal("expected unreachable diagnosis")
	}
	if diag.BestProgress != 1 {
		t.Errorf("BestProgress = %d, want 1", diag.BestProgress)
	}
	if !strings.Contains(diag.Suggestion, "decay_factor") {
		t.Errorf("Suggestion = %q, want mention of decay_factor", diag.Suggestion)
	}

	log := events.String()
	for _, want := range []string{`"to":"extended"`, `"to":"unlimited"`, `"event":"safety_warning"`, `"event":"safety_abort"`} {
		if !strings.Contains(log, want) {
			t.Errorf("event log missing %s:\n%s", want, log)
		}
	}
	if n := strings.Count(log, `"event":"safety_warning"`); n != 1 {
		t.Errorf("safety_warning logged %d times, want 1", n)
	}
}

func TestSeek_PauseResumeConservesCounts(t *testing.T) {
	clock := newFakeClock()
	var s *Scheduler
	attempt, _ := fixedAttempt(clock, 50*time.Millisecond, func(n int) bool {
		if n == 3 {
			s.Stop()
		}
		return true
	})
	s = New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	wallStart := clock.Now()
	state := NewBatchState(PhaseInitial)
	first, err := s.Seek(context.Background(), 10, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !first.WasStopped {
		t.Fatal("expected WasStopped")
	}
	if first.SuccessfulAttempts != 3 || first.TotalAttempts != 3 {
		t.Fatalf("stopped at successes=%d attempts=%d, want 3/3", first.SuccessfulAttempts, first.TotalAttempts)
	}
	if !state.Paused() {
		t.Error("state should be paused after stop")
	}

	clock.Advance(5 * time.Second)
	if got := state.ActiveElapsed(clock.Now()); got != 150*time.Millisecond {
		t.Errorf("ActiveElapsed while paused = %v, want 150ms", got)
	}

	second, err := s.Seek(context.Background(), 10, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if second.WasStopped {
		t.Error("resumed seek should not report stopped")
	}
	if !second.ReachedDesiredCount || second.TotalAttempts != 10 {
		t.Errorf("resumed: reached=%v attempts=%d", second.ReachedDesiredCount, second.TotalAttempts)
	}
	if second.Phase != PhaseInitial {
		t.Errorf("resume changed phase to %v", second.Phase)
	}
	if second.Elapsed != 500*time.Millisecond {
		t.Errorf("Elapsed = %v, want 500ms", second.Elapsed)
	}

	wall := clock.Now().Sub(wallStart)
	if second.Elapsed != wall-state.PausedTotal {
		t.Errorf("Elapsed %v != wall %v - paused %v", second.Elapsed, wall, state.PausedTotal)
	}
	if state.PausedTotal != 5*time.Second {
		t.Errorf("PausedTotal = %v, want 5s", state.PausedTotal)
	}
}

func TestSeek_StopBetweenCallsIsHeld(t *testing.T) {
	clock := newFakeClock()
	attempt, calls := fixedAttempt(clock, 50*time.Millisecond, always)
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	state := NewBatchState(PhaseInitial)
	s.Stop()
	res, err := s.Seek(context.Background(), 5, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !res.WasStopped || *calls != 0 {
		t.Fatalf("pending stop: WasStopped=%v attempts=%d, want stopped with no attempts", res.WasStopped, *calls)
	}

	res, err = s.Seek(context.Background(), 5, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if res.WasStopped || !res.ReachedDesiredCount || *calls != 5 {
		t.Errorf("after stop was reported: WasStopped=%v reached=%v attempts=%d", res.WasStopped, res.ReachedDesiredCount, *calls)
	}
}

func TestContinue_PendingStopKeepsPhase(t *testing.T) {
	clock := newFakeClock()
	attempt, calls := fixedAttempt(clock, 50*time.Millisecond, never)
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	state := NewBatchState(PhaseInitial)
	first, err := s.Seek(context.Background(), 3, testParams(), state)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !first.CanContinue() {
		t.Fatalf("expected a continuable result, got %+v", first)
	}
	spent := *calls

	// Stop arrives while the caller decides whether to continue.
	s.Stop()
	res, err := s.Continue(context.Background(), 3, testParams(), state)
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if !res.WasStopped {
		t.Error("Continue should report the pending stop")
	}
	if *calls != spent {
		t.Errorf("Continue ran %d attempts after a stop", *calls-spent)
	}
	if state.Phase != PhaseInitial {
		t.Errorf("phase = %v, want initial", state.Phase)
	}
}

func TestSeek_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	attempt, calls := fixedAttempt(clock, 50*time.Millisecond, always)
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(attempt))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Seek(ctx, 5, testParams(), NewBatchState(PhaseInitial))
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !res.WasStopped {
		t.Error("expected WasStopped for cancelled context")
	}
	if *calls != 0 {
		t.Errorf("expected no attempts, got %d", *calls)
	}
}

func TestSeek_ObserverFailureIsolated(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, 10*time.Millisecond, always)
	var events bytes.Buffer

	calls := 0
	obs := ObserverFunc(func(p Progress) error {
		calls++
		if calls%2 == 0 {
			panic("observer exploded")
		}
		return errors.New("observer unavailable")
	})

	s := New(walk.NewSource(1),
		WithClock(clock.Now),
		WithAttemptFunc(attempt),
		WithObserver(obs),
		WithCadence(Cadence{Successes: 1}),
	)
	s.SetLogger(logging.Discard(), logging.NewEventWriter(&events))

	res, err := s.Seek(context.Background(), 6, testParams(), nil)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !res.ReachedDesiredCount {
		t.Error("observer failures must not abort the batch")
	}
	if calls != 7 {
		t.Errorf("observer calls = %d, want 7 (6 yields + final)", calls)
	}
	if !strings.Contains(events.String(), "observer_failure") {
		t.Error("expected observer_failure event")
	}
}

func TestSeek_ProgressCadence(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, 10*time.Millisecond, always)

	var seen []Progress
	s := New(walk.NewSource(1),
		WithClock(clock.Now),
		WithAttemptFunc(attempt),
		WithObserver(ObserverFunc(func(p Progress) error {
			seen = append(seen, p)
			return nil
		})),
		WithCadence(Cadence{Successes: 2}),
	)

	if _, err := s.Seek(context.Background(), 6, testParams(), nil); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	want := []int{2, 4, 6, 6}
	if len(seen) != len(want) {
		t.Fatalf("got %d progress reports, want %d: %+v", len(seen), len(want), seen)
	}
	for i, p := range seen {
		if p.SuccessfulAttempts != want[i] {
			t.Errorf("report %d: successes = %d, want %d", i, p.SuccessfulAttempts, want[i])
		}
		if p.DesiredCount != 6 {
			t.Errorf("report %d: desired = %d, want 6", i, p.DesiredCount)
		}
	}
}

func TestSeek_IntervalCadence(t *testing.T) {
	clock := newFakeClock()
	attempt, _ := fixedAttempt(clock, 40*time.Millisecond, never)

	reports := 0
	s := New(walk.NewSource(1),
		WithClock(clock.Now),
		WithAttemptFunc(attempt),
		WithObserver(ObserverFunc(func(Progress) error { reports++; return nil })),
		WithCadence(Cadence{Interval: 200 * time.Millisecond}),
		WithBudget(PhaseInitial, Budget{Total: time.Second}),
	)

	res, err := s.Seek(context.Background(), 1, testParams(), nil)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if res.TotalAttempts != 25 {
		t.Fatalf("TotalAttempts = %d, want 25", res.TotalAttempts)
	}
	// One yield per 200ms of active time plus the final report.
	if reports != 6 {
		t.Errorf("reports = %d, want 6", reports)
	}
}

func TestSeek_MidAttemptCheckpoints(t *testing.T) {
	clock := newFakeClock()
	src := walk.NewSource(3)

	var mid []int
	s := New(src,
		WithClock(clock.Now),
		WithCadence(Cadence{Iterations: 25}),
		WithBudget(PhaseInitial, Budget{Total: time.Second, IterationCap: 100}),
		WithObserver(ObserverFunc(func(p Progress) error {
			if p.AttemptIterations > 0 {
				mid = append(mid, p.AttemptIterations)
			}
			return nil
		})),
	)
	s.attempt = func(p walk.Params, c walk.Caps) walk.AttemptResult {
		clock.Advance(250 * time.Millisecond)
		return walk.Simulate(p, src, c)
	}

	params := walk.Params{InitialProb: 0.001, DecayFactor: 1, TargetValue: 50, IterationSafetyCap: 100_000}
	res, err := s.Seek(context.Background(), 1, params, nil)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if res.TotalAttempts != 4 {
		t.Fatalf("TotalAttempts = %d, want 4", res.TotalAttempts)
	}
	for _, a := range res.FailedAttempts {
		if a.Iterations != 100 {
			t.Errorf("phase iteration cap not applied: %d iterations", a.Iterations)
		}
	}
	if len(mid) != 16 {
		t.Errorf("mid-attempt checkpoints = %d, want 16", len(mid))
	}
}

func TestSeek_AttemptsRecordedInOrder(t *testing.T) {
	clock := newFakeClock()
	n := 0
	s := New(walk.NewSource(1), WithClock(clock.Now), WithAttemptFunc(func(p walk.Params, c walk.Caps) walk.AttemptResult {
		n++
		clock.Advance(time.Millisecond)
		path := make(walk.Path, n)
		return walk.AttemptResult{Path: path, Completed: n%2 == 0, Iterations: n}
	}))

	res, err := s.Seek(context.Background(), 4, testParams(), nil)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	for i, run := range res.CompletedRuns {
		if want := 2 * (i + 1); len(run) != want {
			t.Errorf("CompletedRuns[%d] has length %d, want %d", i, len(run), want)
		}
	}
	for i, a := range res.FailedAttempts {
		if want := 2*i + 1; a.Iterations != want {
			t.Errorf("FailedAttempts[%d].Iterations = %d, want %d", i, a.Iterations, want)
		}
	}
}

func TestSeek_InvalidInput(t *testing.T) {
	called := false
	s := New(walk.NewSource(1), WithAttemptFunc(func(walk.Params, walk.Caps) walk.AttemptResult {
		called = true
		return walk.AttemptResult{}
	}))

	_, err := s.Seek(context.Background(), 0, walk.Params{InitialProb: 0, DecayFactor: 3, TargetValue: 5, IterationSafetyCap: 10}, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if problems := walk.Problems(err); len(problems) != 3 {
		t.Errorf("problems = %v, want 3 entries", problems)
	}
	if called {
		t.Error("no attempt may run before validation passes")
	}
}

func TestSeek_RealSimulatorScenario(t *testing.T) {
	s := New(walk.NewSource(99))
	params := walk.Params{InitialProb: 1, DecayFactor: 1, TargetValue: 3, IterationSafetyCap: 100}

	res, err := s.Seek(context.Background(), 50, params, nil)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !res.ReachedDesiredCount || res.TotalAttempts != 50 {
		t.Fatalf("reached=%v attempts=%d", res.ReachedDesiredCount, res.TotalAttempts)
	}
	for _, run := range res.CompletedRuns {
		if len(run) != 4 || run[3] != 3 {
			t.Errorf("unexpected path %v", run)
		}
	}
}

func TestDecide(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	budget := Budget{Total: 2 * time.Second, SoftWarning: time.Second, HardAbort: 3 * time.Second}

	tests := []struct {
		name    string
		state   BatchState
		elapsed time.Duration
		stop    bool
		want    Decision
	}{
		{"attempt", BatchState{StartedAt: start}, 0, false, Decision{Action: ActionAttempt}},
		{"reached beats stop", BatchState{StartedAt: start, SuccessfulAttempts: 5}, 0, true, Decision{Action: ActionReached}},
		{"reached beats budget", BatchState{StartedAt: start, SuccessfulAttempts: 5}, 10 * time.Second, false, Decision{Action: ActionReached}},
		{"stop beats budget", BatchState{StartedAt: start}, 10 * time.Second, true, Decision{Action: ActionStopped}},
		{"budget exceeded", BatchState{StartedAt: start, Warned: true}, 2 * time.Second, false, Decision{Action: ActionBudgetExceeded}},
		{"abort", BatchState{StartedAt: start}, 3 * time.Second, false, Decision{Action: ActionAbort}},
		{"warn once", BatchState{StartedAt: start}, 1500 * time.Millisecond, false, Decision{Action: ActionAttempt, Warn: true}},
		{"already warned", BatchState{StartedAt: start, Warned: true}, 1500 * time.Millisecond, false, Decision{Action: ActionAttempt}},
		{"phase budget is phase-local", BatchState{StartedAt: start, PhaseStart: time.Second, Warned: true}, 2500 * time.Millisecond, false, Decision{Action: ActionAttempt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(&tt.state, budget, 5, start.Add(tt.elapsed), tt.stop)
			if got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPhase(t *testing.T) {
	if PhaseInitial.Next() != PhaseExtended || PhaseExtended.Next() != PhaseUnlimited || PhaseUnlimited.Next() != PhaseUnlimited {
		t.Error("phases must progress initial -> extended -> unlimited and stay there")
	}
	for _, p := range []Phase{PhaseInitial, PhaseExtended, PhaseUnlimited} {
		got, err := ParsePhase(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePhase(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePhase("forever"); err == nil {
		t.Error("expected error for unknown phase")
	}

	b := DefaultBudget(PhaseInitial)
	if b.Total != 2*time.Second || b.PerAttempt != 500*time.Millisecond {
		t.Errorf("initial budget = %+v", b)
	}
	b = DefaultBudget(PhaseExtended)
	if b.Total != 10*time.Second || b.PerAttempt != 2*time.Second {
		t.Errorf("extended budget = %+v", b)
	}
	b = DefaultBudget(PhaseUnlimited)
	if b.Total != 0 || b.PerAttempt != 30*time.Second || b.SoftWarning != time.Minute || b.HardAbort != 5*time.Minute {
		t.Errorf("unlimited budget = %+v", b)
	}
}
