package visualization

import (
	"fmt"
	"io"
	"strings"
)

// shades maps a normalized value onto a character, dark to bright.
const shades = " .:-=+*#%@"

// traceMark is drawn where a run trace passes in lines and combined modes.
const traceMark = 'o'

// DefaultASCIIWidth is the number of columns RenderASCII uses when cols <= 0.
const DefaultASCIIWidth = 100

// RenderASCII draws v as a text heatmap with the target value on top and
// time running left to right. Bins are merged into at most cols columns by
// taking the maximum of each merged span.
func RenderASCII(w io.Writer, v *View, cols int) error {
	g := v.Grid()
	if g == nil || g.Width == 0 {
		_, err := fmt.Fprintln(w, "(no completed runs)")
		return err
	}
	if cols <= 0 {
		cols = DefaultASCIIWidth
	}
	if cols > g.Width {
		cols = g.Width
	}

	canvas := make([][]byte, g.Height)
	for y := range canvas {
		canvas[y] = []byte(strings.Repeat(" ", cols))
	}

	if v.Mode.DrawsDensity() {
		for y := 0; y < g.Height; y++ {
			for c := 0; c < cols; c++ {
				lo, hi := span(c, cols, g.Width)
				best := 0.0
				for x := lo; x < hi; x++ {
					if val := v.Layers.Color.At(y, x); val > best {
						best = val
					}
				}
				canvas[y][c] = shade(best)
			}
		}
	}

	if v.Mode.DrawsTraces() {
		for _, tr := range v.Traces {
			for c := 0; c < cols; c++ {
				lo, hi := span(c, cols, g.Width)
				peak := -1
				for x := lo; x < hi && x < len(tr); x++ {
					if tr[x] > peak {
						peak = tr[x]
					}
				}
				if peak >= 0 && peak < g.Height {
					canvas[peak][c] = traceMark
				}
			}
		}
	}

	var b strings.Builder
	if v.Title != "" {
		fmt.Fprintf(&b, "%s\n", v.Title)
	}
	fmt.Fprintf(&b, "mode=%s scaling=%s runs=%d longest=%d bins=%d\n",
		v.Mode, v.Layers.Kind, g.Runs, g.MaxPathLength, g.Width)

	labelEvery := 1
	if g.Height > 25 {
		labelEvery = (g.Height + 24) / 25
	}
	for y := g.Height - 1; y >= 0; y-- {
		label := ""
		if y%labelEvery == 0 || y == g.Height-1 {
			label = fmt.Sprintf("%d", y)
		}
		fmt.Fprintf(&b, "%4s |%s|\n", label, canvas[y])
	}
	fmt.Fprintf(&b, "     +%s+\n", strings.Repeat("-", cols))
	last := g.MaxPathLength - 1
	if last < 0 {
		last = 0
	}
	right := fmt.Sprintf("%d", last)
	pad := cols - 1 - len(right)
	if pad < 1 {
		pad = 1
	}
	fmt.Fprintf(&b, "      0%s%s\n", strings.Repeat(" ", pad), right)

	_, err := io.WriteString(w, b.String())
	return err
}

// span returns the bin range [lo, hi) merged into column c.
func span(c, cols, width int) (lo, hi int) {
	lo = c * width / cols
	hi = (c + 1) * width / cols
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func shade(v float64) byte {
	if v <= 0 {
		return shades[0]
	}
	i := 1 + int(v*float64(len(shades)-2)+0.5)
	if i >= len(shades) {
		i = len(shades) - 1
	}
	return shades[i]
}
