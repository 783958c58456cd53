package crowd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentsIntersect(t *testing.T) {
	tests := []struct {
		name           string
		a1, a2, b1, b2 Point
		want           bool
	}{
		{
			name: "crossing at right angles",
			a1:   Point{0, 0}, a2: Point{1, 1},
			b1: Point{0, 1}, b2: Point{1, 0},
			want: true,
		},
		{
			name: "parallel segments",
			a1:   Point{0, 0}, a2: Point{1, 0},
			b1: Point{0, 1}, b2: Point{1, 1},
			want: false,
		},
		{
			name: "disjoint segments",
			a1:   Point{0, 0}, a2: Point{0.1, 0.1},
			b1: Point{0.8, 0.8}, b2: Point{0.9, 0.9},
			want: false,
		},
		{
			name: "movement across horizontal gate",
			a1:   Point{0.5, 0.55}, a2: Point{0.5, 0.65},
			b1: Point{0.1, 0.6}, b2: Point{0.9, 0.6},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, segmentsIntersect(tt.a1, tt.a2, tt.b1, tt.b2))
		})
	}
}

func TestPointInPolygon(t *testing.T) {
	square := []Point{{0.2, 0.2}, {0.8, 0.2}, {0.8, 0.8}, {0.2, 0.8}}

	assert.True(t, pointInPolygon(Point{0.5, 0.5}, square), "centroid should be inside")
	assert.False(t, pointInPolygon(Point{0.9, 0.9}, square), "outside corner")
	assert.False(t, pointInPolygon(Point{0.1, 0.5}, square), "left of polygon")

	// Degenerate polygons never contain anything
	assert.False(t, pointInPolygon(Point{0.5, 0.5}, nil))
	assert.False(t, pointInPolygon(Point{0.5, 0.5}, []Point{{0, 0}, {1, 1}}))
}

func TestAngleDegrees(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		want   float64
	}{
		{"right", 1, 0, 0},
		{"down", 0, 1, 90},
		{"left", -1, 0, 180},
		{"up", 0, -1, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, angleDegrees(tt.dx, tt.dy), 1e-9)
		})
	}
}

func TestAngleDifference(t *testing.T) {
	assert.InDelta(t, 0.0, angleDifference(90, 90), 1e-9)
	assert.InDelta(t, 180.0, angleDifference(0, 180), 1e-9)
	// Wraparound takes the short way
	assert.InDelta(t, 20.0, angleDifference(350, 10), 1e-9)
	assert.InDelta(t, 90.0, angleDifference(45, 315), 1e-9)

	for deg := 0.0; deg < 360; deg += 17 {
		d := angleDifference(deg, 360-deg)
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 180.0)
	}
}

func TestPersonNormalized(t *testing.T) {
	// Percent-style coordinates are scaled down
	p := Person{ID: "a", X: 50, Y: 25, Width: 5, Height: 12}.Normalized()
	assert.InDelta(t, 0.5, p.X, 1e-9)
	assert.InDelta(t, 0.25, p.Y, 1e-9)
	assert.InDelta(t, 0.05, p.Width, 1e-9)
	assert.InDelta(t, 0.12, p.Height, 1e-9)

	// Already-normalized values pass through
	q := Person{ID: "b", X: 0.4, Y: 0.9, Width: 0.03, Height: 0.1}.Normalized()
	assert.Equal(t, 0.4, q.X)
	assert.Equal(t, 0.9, q.Y)
}
