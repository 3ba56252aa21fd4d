package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// sureParams always step up, so every attempt completes in TargetValue steps.
func sureParams() walk.Params {
	return walk.Params{InitialProb: 1, DecayFactor: 1, TargetValue: 3, IterationSafetyCap: 100}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// failingAttempts never complete and cost a second each, so the initial
// phase runs out of time after a few attempts.
func failingAttempts(clock *fakeClock) scheduler.Option {
	return scheduler.WithAttemptFunc(func(p walk.Params, c walk.Caps) walk.AttemptResult {
		clock.t = clock.t.Add(time.Second)
		return walk.AttemptResult{Path: walk.Path{0, 1, 0}, Iterations: 2, Reason: walk.ReasonIterationLimit}
	})
}

func timedOut(clock *fakeClock) Option {
	return WithSchedulerOptions(scheduler.WithClock(clock.Now), failingAttempts(clock))
}

func TestNew_Validation(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name string
		req  Request
	}{
		{"zero desired", Request{Params: sureParams(), Desired: 0}},
		{"too many desired", Request{Params: sureParams(), Desired: scheduler.MaxDesiredSuccesses + 1}},
		{"bad params", Request{Params: walk.Params{InitialProb: 2, DecayFactor: 1, TargetValue: 3, IterationSafetyCap: 10}, Desired: 1}},
		{"target above limit", Request{Params: walk.Params{InitialProb: 1, DecayFactor: 1, TargetValue: walk.MaxTargetValue + 1, IterationSafetyCap: 10}, Desired: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(cfg, tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_ResolvesSeedAndLabel(t *testing.T) {
	s, err := New(config.Default(), Request{Params: sureParams(), Desired: 1, Label: "  sweep\n<b>one</b> "})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := s.Request()
	if req.Seed == 0 {
		t.Error("seed was not resolved")
	}
	if req.Label != "sweep one" {
		t.Errorf("Label = %q, want %q", req.Label, "sweep one")
	}
	if s.Outcome() != nil {
		t.Error("Outcome before Seek should be nil")
	}
}

func TestRequestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.DesiredSuccesses = 7
	cfg.Simulation.Seed = 42
	cfg.Scheduler.AutoContinue = true

	req := RequestFromConfig(cfg)
	if req.Desired != 7 || req.Seed != 42 || !req.AutoContinue {
		t.Errorf("RequestFromConfig = %+v", req)
	}
	if req.Params != cfg.Params() {
		t.Errorf("Params = %+v, want %+v", req.Params, cfg.Params())
	}
}

func TestSeek_RecordsBatch(t *testing.T) {
	ctx := context.Background()
	hs := store.NewInMemoryStore()
	s, err := New(config.Default(), Request{Params: sureParams(), Desired: 5, Seed: 9, Label: "sure"}, WithStore(hs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := s.Seek(ctx)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if out.Summary.Status != "complete" {
		t.Errorf("Status = %q, want complete", out.Summary.Status)
	}
	if out.BatchID == "" {
		t.Fatal("BatchID is empty")
	}
	if out.Seed != 9 {
		t.Errorf("Seed = %d, want 9", out.Seed)
	}

	b, err := hs.GetBatch(ctx, out.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(b.Runs) != 5 {
		t.Errorf("stored %d runs, want 5", len(b.Runs))
	}
	if b.Label != "sure" || b.Seed != 9 {
		t.Errorf("stored batch = label %q seed %d", b.Label, b.Seed)
	}
}

func TestSeek_WithoutStore(t *testing.T) {
	s, err := New(config.Default(), Request{Params: sureParams(), Desired: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := s.Seek(context.Background())
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if out.BatchID != "" {
		t.Errorf("BatchID = %q, want empty without a store", out.BatchID)
	}
	if out.Result.SuccessfulAttempts != 2 {
		t.Errorf("successes = %d, want 2", out.Result.SuccessfulAttempts)
	}
}

func TestContinue_ReplacesStoredBatch(t *testing.T) {
	ctx := context.Background()
	hs := store.NewInMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	s, err := New(config.Default(), Request{Params: sureParams(), Desired: 5, Seed: 1}, WithStore(hs), timedOut(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := s.Seek(ctx)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !first.Summary.CanContinue {
		t.Fatalf("initial phase should be continuable, got %+v", first.Summary)
	}

	second, err := s.Continue(ctx)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if second.BatchID != first.BatchID {
		t.Errorf("Continue stored a new batch %s, want %s", second.BatchID, first.BatchID)
	}
	if second.Result.TotalAttempts <= first.Result.TotalAttempts {
		t.Errorf("attempts did not carry over: %d then %d", first.Result.TotalAttempts, second.Result.TotalAttempts)
	}
	if second.Result.Phase != scheduler.PhaseExtended {
		t.Errorf("Phase = %v, want extended", second.Result.Phase)
	}

	batches, err := hs.ListBatches(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("store holds %d batches, want 1", len(batches))
	}
	if batches[0].TotalAttempts != second.Result.TotalAttempts {
		t.Errorf("stored attempts = %d, want %d", batches[0].TotalAttempts, second.Result.TotalAttempts)
	}
}

// brokenReplaceStore saves normally but fails every replacement.
type brokenReplaceStore struct {
	*store.InMemoryStore
}

func (brokenReplaceStore) ReplaceBatch(context.Context, *store.Batch) (string, error) {
	return "", errors.New("disk full")
}

func TestContinue_FailedReplaceKeepsStoredBatch(t *testing.T) {
	ctx := context.Background()
	hs := brokenReplaceStore{store.NewInMemoryStore()}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	s, err := New(config.Default(), Request{Params: sureParams(), Desired: 5, Seed: 1}, WithStore(hs), timedOut(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := s.Seek(ctx)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if _, err := s.Continue(ctx); err == nil {
		t.Fatal("Continue should report the failed replacement")
	}

	kept, err := hs.GetBatch(ctx, first.BatchID)
	if err != nil {
		t.Fatalf("earlier copy was lost: %v", err)
	}
	if kept.TotalAttempts != first.Result.TotalAttempts {
		t.Errorf("stored attempts = %d, want %d", kept.TotalAttempts, first.Result.TotalAttempts)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	hs := store.NewInMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := config.Default()

	s, err := New(cfg, Request{Params: sureParams(), Desired: 5, Seed: 3, Label: "resume me"}, WithStore(hs), timedOut(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := s.Seek(ctx)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := SaveState(s, dir); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	snap, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if snap.BatchID != first.BatchID {
		t.Errorf("snapshot BatchID = %q, want %q", snap.BatchID, first.BatchID)
	}
	if snap.Request.Label != "resume me" || snap.Request.Seed != 3 {
		t.Errorf("snapshot request = %+v", snap.Request)
	}
	if snap.State.TotalAttempts != first.Result.TotalAttempts {
		t.Errorf("snapshot attempts = %d, want %d", snap.State.TotalAttempts, first.Result.TotalAttempts)
	}

	resumed, err := Resume(cfg, snap, WithStore(hs), timedOut(clock))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	out, err := resumed.Continue(ctx)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if out.BatchID != first.BatchID {
		t.Errorf("resumed BatchID = %q, want %q", out.BatchID, first.BatchID)
	}
	if out.Result.TotalAttempts <= first.Result.TotalAttempts {
		t.Errorf("resumed attempts = %d, want more than %d", out.Result.TotalAttempts, first.Result.TotalAttempts)
	}

	if err := ClearState(dir); err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	if err := ClearState(dir); err != nil {
		t.Fatalf("second ClearState: %v", err)
	}
	if _, err := LoadState(dir); !errors.Is(err, ErrNoState) {
		t.Errorf("LoadState after clear = %v, want ErrNoState", err)
	}
}

func TestResume_RequiresState(t *testing.T) {
	if _, err := Resume(config.Default(), Snapshot{Request: Request{Params: sureParams(), Desired: 1}}); err == nil {
		t.Error("expected error for snapshot without state")
	}
}
