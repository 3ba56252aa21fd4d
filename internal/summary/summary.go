// Package summary derives scalar statistics from a batch result.
package summary

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// PathStats describes the step counts of completed runs.
type PathStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// Summary is the headline view of one batch.
type Summary struct {
	Phase              string        `json:"phase"`
	Elapsed            time.Duration `json:"elapsed"`
	TotalAttempts      int           `json:"total_attempts"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	DesiredCount       int           `json:"desired_count"`
	CompletionRate     float64       `json:"completion_rate"`
	PathLength         PathStats     `json:"path_length"`
	Status             string        `json:"status"`
	CanContinue        bool          `json:"can_continue"`
	SafetyWarning      bool          `json:"safety_warning,omitempty"`
}

// Summarize computes a Summary. The completion rate is 0 when no attempt ran.
func Summarize(r scheduler.BatchResult) Summary {
	s := Summary{
		Phase:              r.Phase.String(),
		Elapsed:            r.Elapsed,
		TotalAttempts:      r.TotalAttempts,
		SuccessfulAttempts: r.SuccessfulAttempts,
		DesiredCount:       r.DesiredCount,
		PathLength:         Paths(r.CompletedRuns),
		Status:             Status(r),
		CanContinue:        r.CanContinue(),
		SafetyWarning:      r.SafetyWarning,
	}
	if r.TotalAttempts > 0 {
		s.CompletionRate = float64(r.SuccessfulAttempts) / float64(r.TotalAttempts)
	}
	return s
}

// Status names how the batch ended.
func Status(r scheduler.BatchResult) string {
	switch {
	case r.ReachedDesiredCount:
		return "complete"
	case r.Aborted:
		return "aborted"
	case r.WasStopped:
		return "stopped"
	case r.HitTimeLimit:
		return "time_limit"
	default:
		return "incomplete"
	}
}

// Paths computes step-count statistics, where a path of n values has n-1
// steps.
func Paths(runs []walk.Path) PathStats {
	if len(runs) == 0 {
		return PathStats{}
	}
	steps := make([]int, len(runs))
	sum := 0
	for i, r := range runs {
		steps[i] = r.Steps()
		sum += steps[i]
	}
	sort.Ints(steps)

	n := len(steps)
	st := PathStats{
		Count: n,
		Mean:  float64(sum) / float64(n),
		Min:   steps[0],
		Max:   steps[n-1],
	}
	if n%2 == 1 {
		st.Median = float64(steps[n/2])
	} else {
		st.Median = float64(steps[n/2-1]+steps[n/2]) / 2
	}

	var sq float64
	for _, v := range steps {
		d := float64(v) - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(n))
	return st
}

// Bucket is one histogram bar covering steps in [Lo, Hi].
type Bucket struct {
	Lo    int `json:"lo"`
	Hi    int `json:"hi"`
	Count int `json:"count"`
}

// Label renders the bucket range for chart axes.
func (b Bucket) Label() string {
	if b.Lo == b.Hi {
		return fmt.Sprintf("%d", b.Lo)
	}
	return fmt.Sprintf("%d-%d", b.Lo, b.Hi)
}

// Histogram splits the step counts of runs into at most buckets equal-width
// ranges between the shortest and longest run.
func Histogram(runs []walk.Path, buckets int) []Bucket {
	if len(runs) == 0 || buckets <= 0 {
		return nil
	}
	st := Paths(runs)
	span := st.Max - st.Min + 1
	if buckets > span {
		buckets = span
	}
	width := (span + buckets - 1) / buckets

	out := make([]Bucket, 0, buckets)
	for lo := st.Min; lo <= st.Max; lo += width {
		hi := lo + width - 1
		if hi > st.Max {
			hi = st.Max
		}
		out = append(out, Bucket{Lo: lo, Hi: hi})
	}
	for _, r := range runs {
		out[(r.Steps()-st.Min)/width].Count++
	}
	return out
}
