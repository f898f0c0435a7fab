package chart

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func series(n int) []Point {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Date: start.AddDate(0, 0, i), Value: decimal.NewFromInt(int64(90 + i))}
	}
	return points
}

func TestRenderPNG(t *testing.T) {
	img, err := RenderPNG(series(7), Options{Title: "USD", YLabel: "RUB", Width: 400, Height: 300})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("output is not a PNG")
	}
}

func TestRenderRejectsShortSeries(t *testing.T) {
	if _, err := RenderPNG(series(1), Options{}); !errors.Is(err, ErrNotEnoughPoints) {
		t.Fatalf("expected ErrNotEnoughPoints, got %v", err)
	}
}

func TestDownsample(t *testing.T) {
	in := series(10)
	out := Downsample(in, 4)
	if len(out) != 4 {
		t.Fatalf("len = %d", len(out))
	}
	if !out[0].Date.Equal(in[0].Date) || !out[3].Date.Equal(in[9].Date) {
		t.Fatal("both ends must be kept")
	}
	if got := Downsample(in, 20); len(got) != 10 {
		t.Fatal("short series are returned unchanged")
	}
}
