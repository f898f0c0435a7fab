package chart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"
	gochart "github.com/wcharczuk/go-chart/v2"
)

// ErrNotEnoughPoints is returned for series shorter than two points.
var ErrNotEnoughPoints = errors.New("at least two points are required")

// Point is one dated rate value.
type Point struct {
	Date  time.Time
	Value decimal.Decimal
}

// Options control the rendered image.
type Options struct {
	Title  string
	YLabel string
	Width  int
	Height int
}

// RenderPNG renders points as a line chart and returns the PNG bytes.
func RenderPNG(points []Point, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, points, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render writes the PNG chart of points to w.
func Render(w io.Writer, points []Point, opts Options) error {
	if len(points) < 2 {
		return ErrNotEnoughPoints
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 576
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Date
		y[i] = p.Value.InexactFloat64()
	}

	rateFormatter := func(v interface{}) string {
		return gochart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := gochart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			ValueFormatter: gochart.TimeDateValueFormatter,
		},
		YAxis: gochart.YAxis{
			Name:           opts.YLabel,
			ValueFormatter: rateFormatter,
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    opts.YLabel,
				XValues: x,
				YValues: y,
				Style: gochart.Style{
					StrokeWidth: 3,
					DotWidth:    4,
				},
			},
		},
	}

	if err := graph.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// Downsample keeps at most max evenly spaced points, always including both ends.
func Downsample(points []Point, max int) []Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}
