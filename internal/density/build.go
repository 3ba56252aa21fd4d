package density

import "github.com/nvandessel/seekwalk/internal/walk"

// Build aggregates runs into a fresh Grid of gridHeight rows (normally
// TargetValue+1) and min(longest path, MaxWidth) columns. All runs share one
// time axis, so shorter runs occupy fewer bins.
//
// Values outside [0, gridHeight) are clamped onto the nearest row.
func Build(runs []walk.Path, mode Mode, gridHeight int) *Grid {
	maxLen := 0
	for _, run := range runs {
		if len(run) > maxLen {
			maxLen = len(run)
		}
	}
	if gridHeight < 1 {
		gridHeight = 1
	}
	width := WidthFor(maxLen)

	g := &Grid{
		Mode:          mode,
		Height:        gridHeight,
		Width:         width,
		Runs:          len(runs),
		MaxPathLength: maxLen,
		Vertical:      NewMatrix(gridHeight, width),
		Horizontal:    NewMatrix(gridHeight, width),
	}
	if width == 0 {
		return g
	}

	switch mode {
	case ModePeak:
		g.buildPeak(runs)
	default:
		g.buildFullTrace(runs)
	}
	return g
}

func (g *Grid) row(v int) int {
	if v < 0 {
		return 0
	}
	if v >= g.Height {
		return g.Height - 1
	}
	return v
}

// buildFullTrace counts each distinct value once per run and bin in the
// vertical channel and every visit in the horizontal channel.
func (g *Grid) buildFullTrace(runs []walk.Path) {
	// seen[y] == token marks y as already counted for the current (run, bin).
	seen := make([]int, g.Height)
	token := 0

	for _, run := range runs {
		bin := -1
		for i, v := range run {
			y := g.row(v)
			x := BinOf(i, g.MaxPathLength, g.Width)
			if x != bin {
				token++
				bin = x
			}
			g.Horizontal.add(y, x, 1)
			if seen[y] != token {
				seen[y] = token
				g.Vertical.add(y, x, 1)
			}
		}
	}
}

// buildPeak records one mark per run and bin at the bin's peak value, with
// the bin's observation count in the horizontal channel.
func (g *Grid) buildPeak(runs []walk.Path) {
	for _, run := range runs {
		bin, peak, count := -1, 0, 0
		for i, v := range run {
			y := g.row(v)
			x := BinOf(i, g.MaxPathLength, g.Width)
			if x != bin {
				if bin >= 0 {
					g.Vertical.add(peak, bin, 1)
					g.Horizontal.add(peak, bin, count)
				}
				bin, peak, count = x, y, 0
			}
			if y > peak {
				peak = y
			}
			count++
		}
		if bin >= 0 {
			g.Vertical.add(peak, bin, 1)
			g.Horizontal.add(peak, bin, count)
		}
	}
}

// Trace returns the peak value of run in each of width bins on a time axis
// of maxLen iterations. Bins the run never reaches hold -1.
func Trace(run walk.Path, maxLen, width int) []int {
	out := make([]int, width)
	for i := range out {
		out[i] = -1
	}
	if width == 0 {
		return out
	}
	for i, v := range run {
		x := BinOf(i, maxLen, width)
		if x >= width {
			break
		}
		if v > out[x] {
			out[x] = v
		}
	}
	return out
}
