package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// step is one call in a limiter script: advance the fake clock, then Allow.
type step struct {
	advance time.Duration
	key     string
	want    bool
}

func TestAllow_Scripts(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst int
		steps []step
	}{
		{
			name: "burst then reject", rate: 1, burst: 3,
			steps: []step{{0, "a", true}, {0, "a", true}, {0, "a", true}, {0, "a", false}},
		},
		{
			name: "refill after wait", rate: 10, burst: 2,
			steps: []step{{0, "a", true}, {0, "a", true}, {0, "a", false}, {200 * time.Millisecond, "a", true}},
		},
		{
			name: "keys are independent", rate: 1, burst: 1,
			steps: []step{{0, "a", true}, {0, "a", false}, {0, "b", true}},
		},
		{
			name: "refill capped at burst", rate: 100, burst: 2,
			steps: []step{
				{0, "a", true}, {0, "a", true},
				{10 * time.Second, "a", true}, {0, "a", true}, {0, "a", false},
			},
		},
		{
			name: "fractional tokens accumulate", rate: 2, burst: 1,
			steps: []step{{0, "a", true}, {250 * time.Millisecond, "a", false}, {250 * time.Millisecond, "a", true}},
		},
		{
			name: "zero rate never refills", rate: 0, burst: 1,
			steps: []step{{0, "a", true}, {time.Hour, "a", false}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Unix(1_700_000_000, 0)
			l := NewLimiter(tt.rate, tt.burst)
			l.nowFunc = func() time.Time { return now }
			for i, s := range tt.steps {
				now = now.Add(s.advance)
				if got := l.Allow(s.key); got != s.want {
					t.Fatalf("step %d (%s): Allow = %v, want %v", i, s.key, got, s.want)
				}
			}
		})
	}
}

func TestAllow_ConcurrentCallersShareBurst(t *testing.T) {
	now := time.Now()
	l := NewLimiter(1, 50)
	l.nowFunc = func() time.Time { return now }

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 50 {
		t.Errorf("granted %d, want exactly the burst of 50", granted)
	}
}

func TestReserve_RetryAfter(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2.0, 1) // one token every 500ms
	l.nowFunc = func() time.Time { return now }

	if _, ok := l.Reserve("k"); !ok {
		t.Fatal("first reservation should succeed")
	}
	wait, ok := l.Reserve("k")
	if ok {
		t.Fatal("second reservation should be throttled")
	}
	if wait != 500*time.Millisecond {
		t.Errorf("retryAfter = %v, want 500ms", wait)
	}

	now = now.Add(200 * time.Millisecond)
	wait, _ = l.Reserve("k")
	if d := wait - 300*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("retryAfter after 200ms = %v, want ~300ms", wait)
	}
}

func TestReserve_ZeroRateHasNoRetry(t *testing.T) {
	l := NewLimiter(0, 1)
	l.Reserve("k")
	wait, ok := l.Reserve("k")
	if ok || wait != 0 {
		t.Errorf("Reserve = (%v, %v), want (0, false)", wait, ok)
	}
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(30, 4)
	if l.rate != 0.5 {
		t.Errorf("rate = %f, want 0.5", l.rate)
	}
	if l.burst != 4 {
		t.Errorf("burst = %d, want 4", l.burst)
	}
}

func TestToolRateLimits(t *testing.T) {
	limiters := NewToolLimiters()

	tests := []struct {
		tool  string
		burst int
	}{
		{"seekwalk_simulate", 2},
		{"seekwalk_density", 5},
		{"seekwalk_cell", 20},
		{"seekwalk_history", 10},
		{"seekwalk_export", 2},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			limiter, ok := limiters[tt.tool]
			if !ok {
				t.Fatalf("missing rate limiter for tool: %s", tt.tool)
			}
			if limiter.burst != tt.burst {
				t.Errorf("burst = %d, want %d", limiter.burst, tt.burst)
			}
		})
	}
}

func TestCheckLimit(t *testing.T) {
	limiters := NewToolLimiters()

	if err := CheckLimit(limiters, "seekwalk_history"); err != nil {
		t.Errorf("unexpected error for seekwalk_history: %v", err)
	}

	// Unknown tool should pass (no limiter = no limit)
	if err := CheckLimit(limiters, "unknown_tool"); err != nil {
		t.Errorf("unexpected error for unknown tool: %v", err)
	}

	// Exhaust seekwalk_simulate (burst=2)
	CheckLimit(limiters, "seekwalk_simulate")
	CheckLimit(limiters, "seekwalk_simulate")
	err := CheckLimit(limiters, "seekwalk_simulate")
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError after burst exhaustion, got %v", err)
	}
	if limitErr.Tool != "seekwalk_simulate" || limitErr.RetryAfter <= 0 {
		t.Errorf("LimitError = %+v", limitErr)
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("error = %q", err.Error())
	}
}
