package visualization

import (
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/nvandessel/seekwalk/internal/summary"
)

// RenderHistogramPNG draws a path-length histogram as a PNG bar chart.
func RenderHistogramPNG(w io.Writer, buckets []summary.Bucket, title string) error {
	if len(buckets) == 0 {
		return fmt.Errorf("histogram has no buckets")
	}

	const barWidth, barSpacing = 40, 8
	bars := make([]chart.Value, len(buckets))
	maxCount := 0
	for i, b := range buckets {
		bars[i] = chart.Value{Value: float64(b.Count), Label: b.Label()}
		if b.Count > maxCount {
			maxCount = b.Count
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	graph := chart.BarChart{
		Title:      title,
		Width:      120 + len(bars)*(barWidth+barSpacing),
		Height:     400,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		XAxis:      chart.Style{FontSize: 8.0},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 9.0},
			Range: &chart.ContinuousRange{Min: 0, Max: float64(maxCount)},
		},
		Bars: bars,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	return nil
}

// RenderTracesPNG draws the traces of v as a line chart of counter value
// against time bin.
func RenderTracesPNG(w io.Writer, v *View) error {
	var series []chart.Series
	for i, tr := range v.Traces {
		var xs, ys []float64
		for x, y := range tr {
			if y < 0 {
				break
			}
			xs = append(xs, float64(x))
			ys = append(ys, float64(y))
		}
		if len(xs) < 2 {
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("run %d", i+1),
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: chart.GetDefaultColor(i).WithAlpha(160), StrokeWidth: 1.5},
		})
	}
	if len(series) == 0 {
		return fmt.Errorf("no traces long enough to plot")
	}

	graph := chart.Chart{
		Title:  v.Title,
		Width:  1000,
		Height: 400,
		XAxis: chart.XAxis{
			Name:  "time bin",
			Style: chart.Style{FontSize: 9.0},
		},
		YAxis: chart.YAxis{
			Name:  "counter",
			Style: chart.Style{FontSize: 9.0},
			Range: &chart.ContinuousRange{Min: 0, Max: float64(v.TargetValue)},
		},
		Series: series,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render traces: %w", err)
	}
	return nil
}
