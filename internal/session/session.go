// Package session drives one batch from configuration through the phased
// scheduler into the history store. A session can be stopped, persisted to
// disk, and resumed by a later process.
//
// All public methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/logging"
	"github.com/nvandessel/seekwalk/internal/sanitize"
	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// Request describes the batch a session collects.
type Request struct {
	Params  walk.Params `json:"params"`
	Desired int         `json:"desired"`
	// Seed fixes the random source; zero draws a fresh one.
	Seed  int64  `json:"seed"`
	Label string `json:"label,omitempty"`
	// AutoContinue escalates through every phase in one call.
	AutoContinue bool `json:"auto_continue"`
}

// Validate reports every out-of-range field of r.
func (r Request) Validate() error {
	ve := &walk.ValidationError{}
	if r.Desired < 1 || r.Desired > scheduler.MaxDesiredSuccesses {
		ve.Problems = append(ve.Problems, fmt.Sprintf("desired_successes must be between 1 and %d, got %d",
			scheduler.MaxDesiredSuccesses, r.Desired))
	}
	ve.Merge(r.Params.Validate())
	return ve.Err()
}

// RequestFromConfig builds a Request from the simulation section of cfg.
func RequestFromConfig(cfg *config.SeekwalkConfig) Request {
	return Request{
		Params:       cfg.Params(),
		Desired:      cfg.Simulation.DesiredSuccesses,
		Seed:         cfg.Simulation.Seed,
		AutoContinue: cfg.Scheduler.AutoContinue,
	}
}

// Outcome is the latest result of a session.
type Outcome struct {
	BatchID   string                `json:"batch_id,omitempty"`
	Seed      int64                 `json:"seed"`
	Params    walk.Params           `json:"params"`
	Result    scheduler.BatchResult `json:"-"`
	Summary   summary.Summary       `json:"summary"`
	Diagnosis scheduler.Diagnosis   `json:"diagnosis"`
}

// Session owns a scheduler and the state of the batch it is filling.
type Session struct {
	mu      sync.Mutex
	req     Request
	sched   *scheduler.Scheduler
	state   *scheduler.BatchState
	store   store.HistoryStore
	logger  *slog.Logger
	events  *logging.EventLogger
	batchID string
	last    *Outcome
}

// Option configures a Session.
type Option func(*options)

type options struct {
	store     store.HistoryStore
	logger    *slog.Logger
	events    *logging.EventLogger
	schedOpts []scheduler.Option
	state     *scheduler.BatchState
	batchID   string
}

// WithStore records every outcome in hs.
func WithStore(hs store.HistoryStore) Option {
	return func(o *options) { o.store = hs }
}

// WithLogger sets the structured logger and event logger.
func WithLogger(logger *slog.Logger, events *logging.EventLogger) Option {
	return func(o *options) {
		o.logger = logger
		o.events = events
	}
}

// WithSchedulerOptions passes extra options to the scheduler, after the
// budgets taken from configuration.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.schedOpts = append(o.schedOpts, opts...) }
}

func withState(state *scheduler.BatchState, batchID string) Option {
	return func(o *options) {
		o.state = state
		o.batchID = batchID
	}
}

// New validates req and prepares a session in the initial phase.
func New(cfg *config.SeekwalkConfig, req Request, opts ...Option) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Seed == 0 {
		seed, err := walk.NewSeed()
		if err != nil {
			return nil, err
		}
		req.Seed = seed
	}
	req.Label = sanitize.Label(req.Label)

	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	state := o.state
	if state == nil {
		state = scheduler.NewBatchState(scheduler.PhaseInitial)
	}

	schedOpts := make([]scheduler.Option, 0, 3+len(o.schedOpts))
	for _, p := range []scheduler.Phase{scheduler.PhaseInitial, scheduler.PhaseExtended, scheduler.PhaseUnlimited} {
		schedOpts = append(schedOpts, scheduler.WithBudget(p, cfg.Scheduler.Budget(p)))
	}
	schedOpts = append(schedOpts, o.schedOpts...)

	// A resumed batch continues on a stream derived from its attempt count
	// so the resumed runs differ from the ones already collected.
	src := walk.NewSource(req.Seed + int64(state.TotalAttempts))
	sched := scheduler.New(src, schedOpts...)
	sched.SetLogger(o.logger, o.events)

	return &Session{
		req:     req,
		sched:   sched,
		state:   state,
		store:   o.store,
		logger:  o.logger,
		events:  o.events,
		batchID: o.batchID,
	}, nil
}

// Request returns the request with its resolved seed.
func (s *Session) Request() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// Seek collects runs in the current phase, or through every phase when the
// request asks for AutoContinue, and records the outcome.
func (s *Session) Seek(ctx context.Context) (*Outcome, error) {
	return s.step(ctx, func(ctx context.Context) (scheduler.BatchResult, error) {
		if s.req.AutoContinue {
			return s.sched.Run(ctx, s.req.Desired, s.req.Params, s.state)
		}
		return s.sched.Seek(ctx, s.req.Desired, s.req.Params, s.state)
	})
}

// Continue moves to the next phase and keeps collecting. Prior runs and
// attempts carry over.
func (s *Session) Continue(ctx context.Context) (*Outcome, error) {
	return s.step(ctx, func(ctx context.Context) (scheduler.BatchResult, error) {
		if s.req.AutoContinue {
			return s.sched.Run(ctx, s.req.Desired, s.req.Params, s.state)
		}
		return s.sched.Continue(ctx, s.req.Desired, s.req.Params, s.state)
	})
}

// Stop asks a running Seek or Continue to return after the current attempt.
func (s *Session) Stop() { s.sched.Stop() }

// Outcome returns the latest outcome, or nil before the first Seek.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) step(ctx context.Context, run func(context.Context) (scheduler.BatchResult, error)) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := run(ctx)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Seed:      s.req.Seed,
		Params:    s.req.Params,
		Result:    res,
		Summary:   summary.Summarize(res),
		Diagnosis: res.Diagnose(s.req.Params),
	}

	if s.store != nil && res.TotalAttempts > 0 {
		id, err := s.record(ctx, res)
		if err != nil {
			return nil, err
		}
		s.batchID = id
	}
	out.BatchID = s.batchID
	s.last = out

	s.logger.Info("batch outcome",
		"batch_id", out.BatchID,
		"status", out.Summary.Status,
		"phase", out.Summary.Phase,
		"successes", res.SuccessfulAttempts,
		"attempts", res.TotalAttempts)
	if out.Diagnosis.Unreachable {
		s.logger.Warn("target looks unreachable", "suggestion", out.Diagnosis.Suggestion)
	}
	s.events.Log(map[string]any{
		"event":     "batch_outcome",
		"batch_id":  out.BatchID,
		"status":    out.Summary.Status,
		"phase":     out.Summary.Phase,
		"successes": res.SuccessfulAttempts,
		"attempts":  res.TotalAttempts,
	})
	return out, nil
}

// record saves res, replacing the copy stored by an earlier step.
func (s *Session) record(ctx context.Context, res scheduler.BatchResult) (string, error) {
	b := store.NewBatch(s.req.Params, s.req.Seed, res)
	b.Label = s.req.Label

	if s.batchID == "" {
		id, err := s.store.SaveBatch(ctx, b)
		if err != nil {
			return "", fmt.Errorf("save batch: %w", err)
		}
		return id, nil
	}

	b.ID = s.batchID
	prev, err := s.store.GetBatch(ctx, s.batchID)
	switch {
	case err == nil:
		b.ID = prev.ID
		b.CreatedAt = prev.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("load batch %s: %w", s.batchID, err)
	}

	id, err := s.store.ReplaceBatch(ctx, b)
	if err != nil {
		return "", fmt.Errorf("replace batch %s: %w", b.ID, err)
	}
	return id, nil
}
