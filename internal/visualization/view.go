// Package visualization renders density views of a batch as ASCII, HTML and
// PNG, and serves them over a local HTTP server.
package visualization

import (
	"fmt"
	"strings"

	"github.com/nvandessel/seekwalk/internal/density"
	"github.com/nvandessel/seekwalk/internal/scaling"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// Mode selects what a view draws.
type Mode string

const (
	// ModeFull draws the full-trace density.
	ModeFull Mode = "full"
	// ModePeak draws the peak-trajectory density.
	ModePeak Mode = "peak"
	// ModeLines draws individual run traces without a density layer.
	ModeLines Mode = "lines"
	// ModeCombined overlays run traces on the full-trace density.
	ModeCombined Mode = "combined"
)

// ParseMode resolves a presentation mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFull, ModePeak, ModeLines, ModeCombined:
		return m, nil
	case "":
		return ModeFull, nil
	default:
		return ModeFull, fmt.Errorf("unknown visualization mode %q (valid: full, peak, lines, combined)", s)
	}
}

// DensityMode is the aggregation used for the density layer.
func (m Mode) DensityMode() density.Mode {
	if m == ModePeak || m == ModeLines {
		return density.ModePeak
	}
	return density.ModeFullTrace
}

// DrawsDensity reports whether the mode shows a density layer.
func (m Mode) DrawsDensity() bool { return m != ModeLines }

// DrawsTraces reports whether the mode shows individual runs.
func (m Mode) DrawsTraces() bool { return m == ModeLines || m == ModeCombined }

// DefaultMaxTraces bounds the traces drawn in lines and combined modes.
const DefaultMaxTraces = 50

// Options configure Prepare.
type Options struct {
	Mode      Mode
	Scaling   scaling.Kind
	MaxTraces int
	Title     string
}

// View is everything a renderer needs for one batch.
type View struct {
	Title       string          `json:"title"`
	Mode        Mode            `json:"mode"`
	TargetValue int             `json:"target_value"`
	Layers      scaling.Layered `json:"layers"`
	// Traces hold per-bin peaks of the first runs, -1 past a run's end.
	Traces [][]int `json:"traces,omitempty"`
}

// Prepare bins runs into a density grid, normalizes it and extracts traces.
func Prepare(runs []walk.Path, params walk.Params, opts Options) *View {
	mode := opts.Mode
	if mode == "" {
		mode = ModeFull
	}
	kind := opts.Scaling
	if kind == "" {
		kind = scaling.Linear
	}

	grid := density.Build(runs, mode.DensityMode(), params.TargetValue+1)
	v := &View{
		Title:       opts.Title,
		Mode:        mode,
		TargetValue: params.TargetValue,
		Layers:      scaling.Layers(grid, kind),
	}

	if mode.DrawsTraces() {
		limit := opts.MaxTraces
		if limit <= 0 {
			limit = DefaultMaxTraces
		}
		if limit > len(runs) {
			limit = len(runs)
		}
		v.Traces = make([][]int, 0, limit)
		for _, run := range runs[:limit] {
			v.Traces = append(v.Traces, density.Trace(run, grid.MaxPathLength, grid.Width))
		}
	}
	return v
}

// Grid returns the raw density grid behind the view.
func (v *View) Grid() *density.Grid { return v.Layers.Raw }

// Rescale returns a copy of v recolored under kind.
func (v *View) Rescale(kind scaling.Kind) *View {
	out := *v
	out.Layers = v.Layers.Rescale(kind)
	return &out
}
