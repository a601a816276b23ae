package render

import (
	"bytes"
	"fmt"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"fingerviz/internal/sensor"
)

// Axis colours match the classic matplotlib palette used by the desktop tool.
var (
	seriesX = drawing.ColorFromHex("1f77b4")
	seriesY = drawing.ColorFromHex("ff7f0e")
	seriesZ = drawing.ColorFromHex("2ca02c")
)

// DisplacementRangeMM is the fixed Y range of the time-series graphs.
const DisplacementRangeMM = 100.0

func lineStyle(c drawing.Color) chart.Style {
	return chart.Style{StrokeColor: c, StrokeWidth: 2.2}
}

// TimeSeries renders one sensor's X/Y/Z window as a PNG line chart. The
// newest sample is on the right.
func TimeSeries(width, height int, s sensor.Series) ([]byte, error) {
	n := len(s.X)
	if n < 2 {
		return nil, fmt.Errorf("series too short (%d samples)", n)
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	graph := chart.Chart{
		Title:      fmt.Sprintf("Sensor %d - X, Y, Z Displacement", s.Sensor+1),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 12}},
		XAxis: chart.XAxis{
			Name:  "Time (samples)",
			Range: &chart.ContinuousRange{Min: 0, Max: float64(n - 1)},
		},
		YAxis: chart.YAxis{
			Name:  "Displacement (mm)",
			Range: &chart.ContinuousRange{Min: -DisplacementRangeMM, Max: DisplacementRangeMM},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "X-axis", XValues: xs, YValues: clampAll(s.X), Style: lineStyle(seriesX)},
			chart.ContinuousSeries{Name: "Y-axis", XValues: xs, YValues: clampAll(s.Y), Style: lineStyle(seriesY)},
			chart.ContinuousSeries{Name: "Z-axis", XValues: xs, YValues: clampAll(s.Z), Style: lineStyle(seriesZ)},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// clampAll keeps out-of-range spikes on the plot edge instead of drawing
// past the axes.
func clampAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = Clamp(x, -DisplacementRangeMM, DisplacementRangeMM)
	}
	return out
}
