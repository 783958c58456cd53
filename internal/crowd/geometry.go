package crowd

import "math"

// crossSign computes the z component of the cross product (p2-p1)×(p3-p1).
// Its sign tells which side of the directed line p1→p2 the point p3 lies on.
func crossSign(p1, p2, p3 Point) float64 {
	return (p2.X-p1.X)*(p3.Y-p1.Y) - (p2.Y-p1.Y)*(p3.X-p1.X)
}

// segmentsIntersect reports whether segments a1→a2 and b1→b2 properly
// intersect, using the same-side cross-product test on both segment pairs.
// Collinear touches are not counted as crossings.
func segmentsIntersect(a1, a2, b1, b2 Point) bool {
	d1 := crossSign(b1, b2, a1)
	d2 := crossSign(b1, b2, a2)
	d3 := crossSign(a1, a2, b1)
	d4 := crossSign(a1, a2, b2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// pointInPolygon reports whether p lies inside the polygon using the
// ray-casting parity test.
func pointInPolygon(p Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// angleDegrees converts a movement vector to an angle in degrees in
// [0, 360), with 0 = right and 90 = down (image coordinates).
func angleDegrees(dx, dy float64) float64 {
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// angleDifference returns the shortest-arc difference between two angles in
// degrees. The result is always in [0, 180].
func angleDifference(a, b float64) float64 {
	diff := math.Abs(a - b)
	diff = math.Mod(diff, 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}
