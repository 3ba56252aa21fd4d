// Package density bins a set of walk paths into two parallel 2-D count grids
// indexed by counter value and time bin.
//
// The vertical grid counts runs present in a cell; the horizontal grid
// counts raw (run, iteration) observations. Time is compressed into at most
// MaxWidth bins, so one run can visit a cell many times within a bin and the
// horizontal count is always at least the vertical one.
package density

import (
	"fmt"
	"strings"
)

// MaxWidth is the largest number of time bins in a grid.
const MaxWidth = 1000

// Mode selects how a run's visits within one time bin are aggregated.
type Mode int

const (
	// ModeFullTrace marks every distinct value a run visits in a bin.
	ModeFullTrace Mode = iota
	// ModePeak keeps only the highest value a run reaches in a bin.
	ModePeak
)

func (m Mode) String() string {
	switch m {
	case ModeFullTrace:
		return "full"
	case ModePeak:
		return "peak"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts "full" (or "full-trace") and "peak" (or "peak-trajectory").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "full-trace", "":
		return ModeFullTrace, nil
	case "peak", "peak-trajectory":
		return ModePeak, nil
	default:
		return ModeFullTrace, fmt.Errorf("unknown density mode %q (valid: full, peak)", s)
	}
}

// Matrix is a dense row-major integer matrix allocated up front.
type Matrix struct {
	Rows  int   `json:"rows"`
	Cols  int   `json:"cols"`
	Cells []int `json:"cells"`
}

// NewMatrix allocates a zeroed rows × cols matrix.
func NewMatrix(rows, cols int) Matrix {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return Matrix{Rows: rows, Cols: cols, Cells: make([]int, rows*cols)}
}

// At returns the cell at row y, column x, or 0 when out of range.
func (m Matrix) At(y, x int) int {
	if y < 0 || y >= m.Rows || x < 0 || x >= m.Cols {
		return 0
	}
	return m.Cells[y*m.Cols+x]
}

func (m Matrix) add(y, x, v int) {
	m.Cells[y*m.Cols+x] += v
}

// Max returns the largest cell value, or 0 for an empty matrix.
func (m Matrix) Max() int {
	maxV := 0
	for _, v := range m.Cells {
		if v > maxV {
			maxV = v
		}
	}
	return maxV
}

// Sum returns the total over all cells.
func (m Matrix) Sum() int {
	total := 0
	for _, v := range m.Cells {
		total += v
	}
	return total
}

// ColumnSum returns the total of column x.
func (m Matrix) ColumnSum(x int) int {
	if x < 0 || x >= m.Cols {
		return 0
	}
	total := 0
	for y := 0; y < m.Rows; y++ {
		total += m.Cells[y*m.Cols+x]
	}
	return total
}

// Grid holds both density channels for one visualization request.
// It is not modified after Build returns.
type Grid struct {
	Mode          Mode   `json:"mode"`
	Height        int    `json:"height"`
	Width         int    `json:"width"`
	Runs          int    `json:"runs"`
	MaxPathLength int    `json:"max_path_length"`
	Vertical      Matrix `json:"vertical"`
	Horizontal    Matrix `json:"horizontal"`
}

// VerticalAt returns the run-presence count at (value y, bin x).
func (g *Grid) VerticalAt(y, x int) int { return g.Vertical.At(y, x) }

// HorizontalAt returns the observation count at (value y, bin x).
func (g *Grid) HorizontalAt(y, x int) int { return g.Horizontal.At(y, x) }

// Cell describes one grid cell for point-wise inspection.
type Cell struct {
	Value      int `json:"value"`
	Bin        int `json:"bin"`
	Vertical   int `json:"vertical"`
	Horizontal int `json:"horizontal"`
	// FirstIteration and LastIteration bound the iterations mapped to Bin.
	FirstIteration int `json:"first_iteration"`
	LastIteration  int `json:"last_iteration"`
}

// Cell returns the raw counts and iteration span of (value y, bin x).
func (g *Grid) Cell(y, x int) (Cell, error) {
	if y < 0 || y >= g.Height || x < 0 || x >= g.Width {
		return Cell{}, fmt.Errorf("cell (%d, %d) outside %dx%d grid", y, x, g.Height, g.Width)
	}
	first, last := BinSpan(x, g.MaxPathLength, g.Width)
	return Cell{
		Value:          y,
		Bin:            x,
		Vertical:       g.Vertical.At(y, x),
		Horizontal:     g.Horizontal.At(y, x),
		FirstIteration: first,
		LastIteration:  last,
	}, nil
}

// WidthFor returns the number of bins used for paths up to maxLen long.
func WidthFor(maxLen int) int {
	if maxLen > MaxWidth {
		return MaxWidth
	}
	if maxLen < 0 {
		return 0
	}
	return maxLen
}

// BinOf maps iteration i on a shared time axis of maxLen iterations onto
// one of width bins.
func BinOf(i, maxLen, width int) int {
	if width <= 0 {
		return 0
	}
	if maxLen <= width {
		return i
	}
	x := int(int64(i) * int64(width) / int64(maxLen))
	if x >= width {
		x = width - 1
	}
	return x
}

// BinSpan returns the first and last iteration that BinOf maps to bin x.
func BinSpan(x, maxLen, width int) (first, last int) {
	if width <= 0 || maxLen <= width {
		return x, x
	}
	// Smallest i with i*width/maxLen >= x.
	first = int((int64(x)*int64(maxLen) + int64(width) - 1) / int64(width))
	last = int((int64(x+1)*int64(maxLen)+int64(width)-1)/int64(width)) - 1
	if last >= maxLen {
		last = maxLen - 1
	}
	return first, last
}
