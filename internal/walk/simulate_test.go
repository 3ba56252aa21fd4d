package walk

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSimulate_CertainSuccess(t *testing.T) {
	p := Params{InitialProb: 1.0, DecayFactor: 1.0, TargetValue: 3, IterationSafetyCap: 100}
	src := NewSource(1)

	for i := 0; i < 20; i++ {
		got := Simulate(p, src, Caps{})
		if !got.Completed {
			t.Fatalf("attempt %d: expected completion", i)
		}
		if got.Iterations != 3 {
			t.Errorf("attempt %d: Iterations = %d, want 3", i, got.Iterations)
		}
		if want := (Path{0, 1, 2, 3}); !reflect.DeepEqual(got.Path, want) {
			t.Errorf("attempt %d: Path = %v, want %v", i, got.Path, want)
		}
		if got.Reason != ReasonSuccess {
			t.Errorf("attempt %d: Reason = %q, want %q", i, got.Reason, ReasonSuccess)
		}
	}
}

func TestSimulate_IterationLimit(t *testing.T) {
	p := Params{InitialProb: 0.001, DecayFactor: 1.0, TargetValue: 50, IterationSafetyCap: 100}
	got := Simulate(p, NewSource(7), Caps{})

	if got.Completed {
		t.Error("expected attempt to be abandoned")
	}
	if got.Reason != ReasonIterationLimit {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonIterationLimit)
	}
	if got.Iterations != 100 {
		t.Errorf("Iterations = %d, want 100", got.Iterations)
	}
	if len(got.Path) != 100 {
		t.Errorf("len(Path) = %d, want 100", len(got.Path))
	}
}

func TestSimulate_CapOverride(t *testing.T) {
	p := Params{InitialProb: 0.001, DecayFactor: 1.0, TargetValue: 50, IterationSafetyCap: 1000}
	got := Simulate(p, NewSource(3), Caps{MaxIterations: 40})
	if got.Iterations != 40 {
		t.Errorf("Iterations = %d, want 40", got.Iterations)
	}

	// A looser override never raises the safety cap.
	got = Simulate(Params{InitialProb: 0.001, DecayFactor: 1, TargetValue: 50, IterationSafetyCap: 30}, NewSource(3), Caps{MaxIterations: 500})
	if got.Iterations != 30 {
		t.Errorf("Iterations = %d, want 30", got.Iterations)
	}
}

func TestSimulate_FloorSelfLoop(t *testing.T) {
	// Draw sequence: down at 0, up, down, down at 0, up, up.
	src := &FixedSource{Values: []float64{0.9, 0.1, 0.9, 0.9, 0.1, 0.1}}
	p := Params{InitialProb: 0.5, DecayFactor: 1.0, TargetValue: 2, IterationSafetyCap: 100}

	got := Simulate(p, src, Caps{})
	want := Path{0, 0, 1, 0, 0, 1, 2}
	if !reflect.DeepEqual(got.Path, want) {
		t.Errorf("Path = %v, want %v", got.Path, want)
	}
	if got.Iterations != 6 {
		t.Errorf("Iterations = %d, want 6", got.Iterations)
	}
}

func TestSimulate_PathValidity(t *testing.T) {
	cases := []Params{
		{InitialProb: 0.5, DecayFactor: 1.0, TargetValue: 10, IterationSafetyCap: 5000},
		{InitialProb: 0.3, DecayFactor: 1.5, TargetValue: 20, IterationSafetyCap: 5000},
		{InitialProb: 0.9, DecayFactor: 0.7, TargetValue: 15, IterationSafetyCap: 5000},
		{InitialProb: 0.05, DecayFactor: 2.0, TargetValue: 8, IterationSafetyCap: 5000},
	}

	for ci, p := range cases {
		src := NewSource(int64(ci + 11))
		for i := 0; i < 50; i++ {
			res := Simulate(p, src, Caps{})
			path := res.Path
			if len(path) == 0 || path[0] != 0 {
				t.Fatalf("case %d attempt %d: path must start at 0, got %v", ci, i, path)
			}
			for j := 1; j < len(path); j++ {
				d := path[j] - path[j-1]
				switch d {
				case 1, -1:
				case 0:
					if path[j-1] != 0 {
						t.Fatalf("case %d attempt %d: zero delta at value %d (index %d)", ci, i, path[j-1], j)
					}
				default:
					t.Fatalf("case %d attempt %d: invalid delta %d at index %d", ci, i, d, j)
				}
				if path[j] < 0 {
					t.Fatalf("case %d attempt %d: negative value at %d", ci, i, j)
				}
			}
			if res.Completed != (path.Last() == p.TargetValue) {
				t.Errorf("case %d attempt %d: Completed=%v but last=%d", ci, i, res.Completed, path.Last())
			}
			if res.Completed && res.Reason != ReasonSuccess {
				t.Errorf("case %d attempt %d: completed with reason %q", ci, i, res.Reason)
			}
			if !res.Completed && res.Reason == ReasonSuccess {
				t.Errorf("case %d attempt %d: abandoned with reason success", ci, i)
			}
		}
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	p := Params{InitialProb: 0.6, DecayFactor: 0.95, TargetValue: 12, IterationSafetyCap: 10000}
	a := Simulate(p, NewSource(42), Caps{})
	b := Simulate(p, NewSource(42), Caps{})
	if !reflect.DeepEqual(a.Path, b.Path) {
		t.Error("same seed produced different paths")
	}
}

func TestSimulate_Checkpoint(t *testing.T) {
	p := Params{InitialProb: 0.001, DecayFactor: 1.0, TargetValue: 50, IterationSafetyCap: 1000}
	var seen []int
	Simulate(p, NewSource(5), Caps{
		CheckpointEvery: 250,
		Checkpoint:      func(it int) { seen = append(seen, it) },
	})
	want := []int{250, 500, 750, 1000}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("checkpoints = %v, want %v", seen, want)
	}
}

func TestSimulate_TimeLimit(t *testing.T) {
	base := time.Unix(0, 0)
	calls := 0
	now := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 100 * time.Millisecond)
	}

	p := Params{InitialProb: 0.001, DecayFactor: 1.0, TargetValue: 50, IterationSafetyCap: 1_000_000}
	got := Simulate(p, NewSource(9), Caps{
		MaxDuration:     250 * time.Millisecond,
		CheckpointEvery: 10,
		Now:             now,
	})

	if got.Reason != ReasonTimeLimit {
		t.Fatalf("Reason = %q, want %q", got.Reason, ReasonTimeLimit)
	}
	if got.Completed {
		t.Error("time-limited attempt must not be completed")
	}
	if got.Iterations%10 != 0 {
		t.Errorf("Iterations = %d, want a multiple of the checkpoint cadence", got.Iterations)
	}
}

func TestUpProbability_Clamp(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		counter int
		want    float64
	}{
		{"plain", Params{InitialProb: 0.5, DecayFactor: 1}, 10, 0.5},
		{"growth clamps to one", Params{InitialProb: 0.9, DecayFactor: 2}, 5, 1},
		{"decay", Params{InitialProb: 0.8, DecayFactor: 0.5}, 2, 0.2},
		{"underflow stays in range", Params{InitialProb: 0.5, DecayFactor: 0.01}, 400, 0},
		{"overflow clamps", Params{InitialProb: 1, DecayFactor: 2}, 5000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.params.UpProbability(tt.counter)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("UpProbability(%d) = %v, want %v", tt.counter, got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("UpProbability(%d) = %v, outside [0,1]", tt.counter, got)
			}
		})
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("DefaultParams().Validate() = %v", err)
	}

	bad := Params{InitialProb: 0, DecayFactor: 2.5, TargetValue: 0, IterationSafetyCap: -1}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	problems := Problems(err)
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(problems), problems)
	}
	if !strings.Contains(err.Error(), "initial_prob") {
		t.Errorf("error should mention initial_prob: %v", err)
	}
}

func TestParams_ValidateTargetRange(t *testing.T) {
	tests := []struct {
		target int
		ok     bool
	}{
		{0, false},
		{1, true},
		{MaxTargetValue, true},
		{MaxTargetValue + 1, false},
		{200000, false},
	}
	for _, tt := range tests {
		p := Params{InitialProb: 1, DecayFactor: 1, TargetValue: tt.target, IterationSafetyCap: 10}
		if err := p.Validate(); (err == nil) != tt.ok {
			t.Errorf("TargetValue %d: Validate() = %v, want ok=%v", tt.target, err, tt.ok)
		}
	}
}

func TestValidationError_Merge(t *testing.T) {
	ve := &ValidationError{}
	if ve.Err() != nil {
		t.Error("empty ValidationError should report nil")
	}
	ve.Merge(Params{InitialProb: 2, DecayFactor: 1, TargetValue: 1, IterationSafetyCap: 1}.Validate())
	ve.Merge(nil)
	if len(ve.Problems) != 1 {
		t.Fatalf("expected 1 problem, got %v", ve.Problems)
	}
	if ve.Err() == nil {
		t.Error("non-empty ValidationError should report itself")
	}
}
