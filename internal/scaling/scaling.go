// Package scaling maps raw density counts onto [0,1] for presentation.
//
// Every transform is monotone and maps a raw 0 to 0. Normalizing is a pure
// function of the raw matrix, so callers may switch kinds without
// re-simulating.
package scaling

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nvandessel/seekwalk/internal/density"
)

// Kind names a color-scaling transform.
type Kind string

const (
	Linear     Kind = "linear"
	Sqrt       Kind = "sqrt"
	Log        Kind = "log"
	Percentile Kind = "percentile"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{Linear, Sqrt, Log, Percentile}

// ParseKind resolves a kind name, defaulting to Linear for "".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return Linear, nil
	}
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return Linear, fmt.Errorf("unknown color scaling %q (valid: linear, sqrt, log, percentile)", s)
}

// Field is a row-major matrix of normalized values in [0,1].
type Field struct {
	Rows   int       `json:"rows"`
	Cols   int       `json:"cols"`
	Values []float64 `json:"values"`
}

// At returns the value at row y, column x, or 0 when out of range.
func (f Field) At(y, x int) float64 {
	if y < 0 || y >= f.Rows || x < 0 || x >= f.Cols {
		return 0
	}
	return f.Values[y*f.Cols+x]
}

func newField(m density.Matrix) Field {
	return Field{Rows: m.Rows, Cols: m.Cols, Values: make([]float64, len(m.Cells))}
}

// Normalize applies kind to every cell of m. A matrix with no positive
// cell normalizes to all zeros.
func Normalize(m density.Matrix, kind Kind) Field {
	f := newField(m)
	maxV := m.Max()
	if maxV <= 0 {
		return f
	}

	if kind == Percentile {
		ranks := percentileRanks(m.Cells)
		for i, v := range m.Cells {
			if v > 0 {
				f.Values[i] = ranks[v]
			}
		}
		return f
	}

	scale := transform(kind)
	denom := scale(float64(maxV))
	for i, v := range m.Cells {
		if v > 0 {
			f.Values[i] = clamp01(scale(float64(v)) / denom)
		}
	}
	return f
}

func transform(kind Kind) func(float64) float64 {
	switch kind {
	case Sqrt:
		return math.Sqrt
	case Log:
		return math.Log1p
	default:
		return func(v float64) float64 { return v }
	}
}

// percentileRanks maps each distinct positive value to (rank+1)/n over the
// n distinct positive values, so the largest value maps to 1.
func percentileRanks(cells []int) map[int]float64 {
	seen := make(map[int]struct{})
	for _, v := range cells {
		if v > 0 {
			seen[v] = struct{}{}
		}
	}
	distinct := make([]int, 0, len(seen))
	for v := range seen {
		distinct = append(distinct, v)
	}
	sort.Ints(distinct)

	ranks := make(map[int]float64, len(distinct))
	n := float64(len(distinct))
	for i, v := range distinct {
		ranks[v] = float64(i+1) / n
	}
	return ranks
}

// Alpha normalizes the horizontal channel as sqrt(v / max), independent of
// the color kind.
func Alpha(m density.Matrix) Field {
	f := newField(m)
	maxV := m.Max()
	if maxV <= 0 {
		return f
	}
	for i, v := range m.Cells {
		if v > 0 {
			f.Values[i] = clamp01(math.Sqrt(float64(v) / float64(maxV)))
		}
	}
	return f
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Layered is the presentation-ready form of a grid: a color field from the
// vertical channel, an alpha field from the horizontal channel, and the raw
// grid for point-wise lookups.
type Layered struct {
	Kind  Kind          `json:"kind"`
	Color Field         `json:"color"`
	Alpha Field         `json:"alpha"`
	Raw   *density.Grid `json:"raw"`
}

// Layers normalizes both channels of g.
func Layers(g *density.Grid, kind Kind) Layered {
	return Layered{
		Kind:  kind,
		Color: Normalize(g.Vertical, kind),
		Alpha: Alpha(g.Horizontal),
		Raw:   g,
	}
}

// Rescale returns l recolored under kind, reusing the raw grid.
func (l Layered) Rescale(kind Kind) Layered {
	if l.Raw == nil {
		return Layered{Kind: kind}
	}
	return Layered{
		Kind:  kind,
		Color: Normalize(l.Raw.Vertical, kind),
		Alpha: l.Alpha,
		Raw:   l.Raw,
	}
}
