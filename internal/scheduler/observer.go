package scheduler

import (
	"context"
	"runtime"
	"time"
)

// Progress is reported to the Observer at every yield point.
type Progress struct {
	SuccessfulAttempts int           `json:"successful_attempts"`
	DesiredCount       int           `json:"desired_count"`
	TotalAttempts      int           `json:"total_attempts"`
	Elapsed            time.Duration `json:"elapsed"`
	Phase              Phase         `json:"phase"`
	// AttemptIterations is non-zero for checkpoints inside a running attempt.
	AttemptIterations int `json:"attempt_iterations,omitempty"`
}

// Observer receives progress notifications. Observers must not block for
// long; errors and panics are logged and otherwise ignored.
type Observer interface {
	Observe(Progress) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress) error

// Observe calls f(p).
func (f ObserverFunc) Observe(p Progress) error { return f(p) }

// Yielder hands control back to the host at suspension points.
type Yielder interface {
	Yield(ctx context.Context)
}

// NopYielder never suspends. Use it when the host has real threads.
type NopYielder struct{}

// Yield does nothing.
func (NopYielder) Yield(context.Context) {}

// GoschedYielder lets other goroutines run at every suspension point.
type GoschedYielder struct{}

// Yield calls runtime.Gosched.
func (GoschedYielder) Yield(context.Context) { runtime.Gosched() }

// Cadence sets how often the scheduler yields.
type Cadence struct {
	// Iterations between checkpoints inside one attempt.
	Iterations int `json:"iterations" yaml:"iterations"`
	// Interval of active time between yields across attempts.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Successes newly achieved between yields across attempts.
	Successes int `json:"successes" yaml:"successes"`
}

// DefaultCadence returns the default yield cadence.
func DefaultCadence() Cadence {
	return Cadence{
		Iterations: 10_000,
		Interval:   100 * time.Millisecond,
		Successes:  25,
	}
}
