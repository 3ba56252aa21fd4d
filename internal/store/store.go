// Package store defines the HistoryStore interface for recording finished
// batches and their completed runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// ErrNotFound is returned when no batch matches an ID.
var ErrNotFound = errors.New("batch not found")

// ErrAmbiguousID is returned when an ID prefix matches several batches.
var ErrAmbiguousID = errors.New("batch id prefix is ambiguous")

// Batch is one recorded batch. Failed attempts are kept only as a count.
type Batch struct {
	ID        string      `json:"id"`
	Label     string      `json:"label,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Seed      int64       `json:"seed"`
	Params    walk.Params `json:"params"`

	DesiredCount       int             `json:"desired_count"`
	TotalAttempts      int             `json:"total_attempts"`
	SuccessfulAttempts int             `json:"successful_attempts"`
	FailedAttempts     int             `json:"failed_attempts"`
	Phase              scheduler.Phase `json:"phase"`
	Status             string          `json:"status"`
	Elapsed            time.Duration   `json:"elapsed"`

	HitTimeLimit  bool `json:"hit_time_limit"`
	WasStopped    bool `json:"was_stopped"`
	Aborted       bool `json:"aborted"`
	SafetyWarning bool `json:"safety_warning"`

	// Runs is filled by GetBatch and left empty by ListBatches.
	Runs []walk.Path `json:"runs,omitempty"`
}

// NewBatch captures a scheduler result for storage.
func NewBatch(params walk.Params, seed int64, r scheduler.BatchResult) *Batch {
	return &Batch{
		Seed:               seed,
		Params:             params,
		DesiredCount:       r.DesiredCount,
		TotalAttempts:      r.TotalAttempts,
		SuccessfulAttempts: r.SuccessfulAttempts,
		FailedAttempts:     len(r.FailedAttempts),
		Phase:              r.Phase,
		Status:             summary.Status(r),
		Elapsed:            r.Elapsed,
		HitTimeLimit:       r.HitTimeLimit,
		WasStopped:         r.WasStopped,
		Aborted:            r.Aborted,
		SafetyWarning:      r.SafetyWarning,
		Runs:               r.CompletedRuns,
	}
}

// Result rebuilds the scheduler view of the batch, without failed attempt
// paths.
func (b *Batch) Result() scheduler.BatchResult {
	return scheduler.BatchResult{
		CompletedRuns:       b.Runs,
		TotalAttempts:       b.TotalAttempts,
		SuccessfulAttempts:  b.SuccessfulAttempts,
		DesiredCount:        b.DesiredCount,
		ReachedDesiredCount: b.DesiredCount > 0 && b.SuccessfulAttempts >= b.DesiredCount,
		HitTimeLimit:        b.HitTimeLimit,
		WasStopped:          b.WasStopped,
		Aborted:             b.Aborted,
		SafetyWarning:       b.SafetyWarning,
		HasAnyData:          b.SuccessfulAttempts > 0,
		Phase:               b.Phase,
		Elapsed:             b.Elapsed,
	}
}

// ListOptions filters ListBatches.
type ListOptions struct {
	// Limit caps the number of batches returned. Zero means no cap.
	Limit int
	// Status keeps only batches with this status when non-empty.
	Status string
}

// HistoryStore defines the interface for recording and querying batches.
type HistoryStore interface {
	// SaveBatch stores b and its runs, assigning an ID and creation time
	// when missing. It returns the batch ID.
	SaveBatch(ctx context.Context, b *Batch) (string, error)

	// ReplaceBatch stores b under its exact ID, swapping out any batch
	// already stored there. The old copy survives if the write fails.
	ReplaceBatch(ctx context.Context, b *Batch) (string, error)

	// GetBatch returns the batch with the given ID or unique ID prefix,
	// including its runs.
	GetBatch(ctx context.Context, id string) (*Batch, error)

	// ListBatches returns batches newest first, without runs.
	ListBatches(ctx context.Context, opts ListOptions) ([]Batch, error)

	// DeleteBatch removes a batch and its runs.
	DeleteBatch(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
