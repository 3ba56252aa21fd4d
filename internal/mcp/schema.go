package mcp

import (
	"time"

	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// SimulateInput defines the input for the seekwalk_simulate tool. Zero
// values fall back to the server configuration.
type SimulateInput struct {
	InitialProb      float64 `json:"initial_prob,omitempty" jsonschema:"up-probability at counter zero, in (0, 1]"`
	DecayFactor      float64 `json:"decay_factor,omitempty" jsonschema:"multiplier applied to the up-probability per unit of progress, in (0, 2]"`
	TargetValue      int     `json:"target_value,omitempty" jsonschema:"counter value that completes a run (1 to 100)"`
	DesiredSuccesses int     `json:"desired_successes,omitempty" jsonschema:"number of completed runs to collect (1 to 5000)"`
	Seed             int64   `json:"seed,omitempty" jsonschema:"random seed for a reproducible batch; 0 picks a fresh seed"`
	Label            string  `json:"label,omitempty" jsonschema:"free text label stored with the batch"`
	AutoContinue     bool    `json:"auto_continue,omitempty" jsonschema:"escalate through the extended and unlimited phases without stopping"`
}

// SimulateOutput defines the output for the seekwalk_simulate tool.
type SimulateOutput struct {
	BatchID   string              `json:"batch_id,omitempty" jsonschema:"ID of the stored batch"`
	Seed      int64               `json:"seed" jsonschema:"seed the batch ran with"`
	Params    walk.Params         `json:"params" jsonschema:"walk parameters used"`
	Summary   summary.Summary     `json:"summary" jsonschema:"headline statistics of the batch"`
	Diagnosis scheduler.Diagnosis `json:"diagnosis" jsonschema:"reachability diagnosis when no run completed"`
	Message   string              `json:"message" jsonschema:"human readable result"`
}

// DensityInput defines the input for the seekwalk_density tool.
type DensityInput struct {
	BatchID string `json:"batch_id,omitempty" jsonschema:"batch ID or unique prefix; empty selects the newest batch"`
	Mode    string `json:"mode,omitempty" jsonschema:"full, peak, lines or combined (default full)"`
	Scaling string `json:"scaling,omitempty" jsonschema:"linear, sqrt, log or percentile (default linear)"`
	Format  string `json:"format,omitempty" jsonschema:"ascii or html (default ascii)"`
	Cols    int    `json:"cols,omitempty" jsonschema:"ASCII chart width in columns (default 100)"`
}

// DensityOutput defines the output for the seekwalk_density tool.
type DensityOutput struct {
	BatchID       string `json:"batch_id" jsonschema:"ID of the rendered batch"`
	Mode          string `json:"mode" jsonschema:"presentation mode"`
	Scaling       string `json:"scaling" jsonschema:"color scaling"`
	Height        int    `json:"height" jsonschema:"grid rows (target value + 1)"`
	Width         int    `json:"width" jsonschema:"grid time bins"`
	Runs          int    `json:"runs" jsonschema:"completed runs aggregated"`
	MaxPathLength int    `json:"max_path_length" jsonschema:"length of the longest run"`
	MaxVertical   int    `json:"max_vertical" jsonschema:"largest vertical-channel count"`
	MaxHorizontal int    `json:"max_horizontal" jsonschema:"largest horizontal-channel count"`
	Format        string `json:"format" jsonschema:"format of rendering"`
	Rendering     string `json:"rendering" jsonschema:"ASCII chart or HTML page"`
}

// CellInput defines the input for the seekwalk_cell tool.
type CellInput struct {
	BatchID string `json:"batch_id,omitempty" jsonschema:"batch ID or unique prefix; empty selects the newest batch"`
	Mode    string `json:"mode,omitempty" jsonschema:"full or peak aggregation (default full)"`
	Value   int    `json:"value" jsonschema:"counter value (grid row)"`
	Bin     int    `json:"bin" jsonschema:"time bin (grid column)"`
}

// CellOutput defines the output for the seekwalk_cell tool.
type CellOutput struct {
	BatchID        string `json:"batch_id" jsonschema:"ID of the batch"`
	Value          int    `json:"value" jsonschema:"counter value"`
	Bin            int    `json:"bin" jsonschema:"time bin"`
	Vertical       int    `json:"vertical" jsonschema:"runs marking this cell"`
	Horizontal     int    `json:"horizontal" jsonschema:"observations in this cell"`
	FirstIteration int    `json:"first_iteration" jsonschema:"first iteration mapped to the bin"`
	LastIteration  int    `json:"last_iteration" jsonschema:"last iteration mapped to the bin"`
}

// HistoryInput defines the input for the seekwalk_history tool.
type HistoryInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum batches to return (default 20)"`
	Status string `json:"status,omitempty" jsonschema:"only batches with this status: complete, incomplete, stopped, time_limit or aborted"`
}

// HistoryOutput defines the output for the seekwalk_history tool.
type HistoryOutput struct {
	Batches []BatchListItem `json:"batches" jsonschema:"stored batches, newest first"`
	Count   int             `json:"count" jsonschema:"number of batches returned"`
}

// BatchListItem provides a list view of a stored batch.
type BatchListItem struct {
	ID                 string        `json:"id"`
	Label              string        `json:"label,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	Status             string        `json:"status"`
	Phase              string        `json:"phase"`
	TargetValue        int           `json:"target_value"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	DesiredCount       int           `json:"desired_count"`
	TotalAttempts      int           `json:"total_attempts"`
	Elapsed            time.Duration `json:"elapsed"`
}

// ExportInput defines the input for the seekwalk_export tool.
type ExportInput struct {
	BatchID    string `json:"batch_id" jsonschema:"batch ID or unique prefix to export"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"archive path under ~/.seekwalk/archives; empty generates a name"`
	Compressed *bool  `json:"compressed,omitempty" jsonschema:"gzip the archive payload (default true)"`
}

// ExportOutput defines the output for the seekwalk_export tool.
type ExportOutput struct {
	BatchID string `json:"batch_id" jsonschema:"ID of the exported batch"`
	Path    string `json:"path" jsonschema:"archive file written"`
	Runs    int    `json:"runs" jsonschema:"runs in the archive"`
	Size    string `json:"size" jsonschema:"archive size"`
	Message string `json:"message" jsonschema:"human readable result"`
}
