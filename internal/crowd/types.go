// Package crowd implements the per-session crowd analytics core: gate
// crossing counts, flow and counter-flow analysis, dwell-zone tracking,
// behavioral anomaly detection, and metrics aggregation. Each analyzer is a
// self-contained stateful component advanced once per tracked-person
// snapshot ("tick") and safe for concurrent reads.
package crowd

import "time"

// Point is a position in normalized frame coordinates ([0,1] on both axes).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Person is one tracked-person record for a single tick, as produced by the
// upstream detector/tracker. Coordinates and box size are normalized to
// [0,1]; values above 1 are treated as percentages.
type Person struct {
	ID         string    `json:"id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Normalized returns a copy of p with coordinates and box size scaled into
// [0,1]. Upstream trackers emit either normalized or percentage coordinates;
// anything above 1 is interpreted as a percentage. Missing (zero) fields are
// already the safe default.
func (p Person) Normalized() Person {
	if p.X > 1 || p.Y > 1 {
		p.X /= 100
		p.Y /= 100
	}
	if p.Width > 1 || p.Height > 1 {
		p.Width /= 100
		p.Height /= 100
	}
	return p
}

// Position returns the person's position as a Point.
func (p Person) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// trackPoint is one entry in a per-track trajectory buffer.
type trackPoint struct {
	pos Point
	at  time.Time
}

// appendBounded appends pt and evicts oldest entries beyond max.
func appendBounded(buf []trackPoint, pt trackPoint, max int) []trackPoint {
	buf = append(buf, pt)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
