package memindex

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// geometryIntersects reports whether g shares at least one point with b.
// Boundaries count, matching ST_Intersects.
func geometryIntersects(b orb.Bound, g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Point:
		return b.Contains(t)
	case orb.MultiPoint:
		for _, p := range t {
			if b.Contains(p) {
				return true
			}
		}
		return false
	case orb.LineString:
		return pathIntersects(b, t, false)
	case orb.MultiLineString:
		for _, ls := range t {
			if pathIntersects(b, ls, false) {
				return true
			}
		}
		return false
	case orb.Ring:
		return polygonIntersects(b, orb.Polygon{t})
	case orb.Polygon:
		return polygonIntersects(b, t)
	case orb.MultiPolygon:
		for _, p := range t {
			if polygonIntersects(b, p) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, sub := range t {
			if geometryIntersects(b, sub) {
				return true
			}
		}
		return false
	case orb.Bound:
		return b.Intersects(t)
	default:
		return false
	}
}

// polygonIntersects tests ring vertices and edges against the box, then the
// box corners against the polygon. A box lying inside a hole fails all three.
func polygonIntersects(b orb.Bound, p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, r := range p {
		if pathIntersects(b, orb.LineString(r), true) {
			return true
		}
	}
	for _, c := range corners(b) {
		if planar.PolygonContains(p, c) {
			return true
		}
	}
	return false
}

// pathIntersects reports whether any vertex lies in b or any segment
// crosses an edge of b. closed adds the segment from the last vertex back to
// the first.
func pathIntersects(b orb.Bound, pts orb.LineString, closed bool) bool {
	for _, p := range pts {
		if b.Contains(p) {
			return true
		}
	}
	edges := boxEdges(b)
	n := len(pts)
	segs := n - 1
	if closed && n > 1 {
		segs = n
	}
	for i := 0; i < segs; i++ {
		a, c := pts[i], pts[(i+1)%n]
		for _, e := range edges {
			if segmentsIntersect(a, c, e[0], e[1]) {
				return true
			}
		}
	}
	return false
}

func corners(b orb.Bound) [4]orb.Point {
	return [4]orb.Point{
		b.Min,
		{b.Max.X(), b.Min.Y()},
		b.Max,
		{b.Min.X(), b.Max.Y()},
	}
}

func boxEdges(b orb.Bound) [4][2]orb.Point {
	c := corners(b)
	return [4][2]orb.Point{{c[0], c[1]}, {c[1], c[2]}, {c[2], c[3]}, {c[3], c[0]}}
}

// segmentsIntersect is the orientation test, inclusive of touching and
// collinear overlap.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func orient(a, b, c orb.Point) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

func onSegment(a, b, p orb.Point) bool {
	return min(a.X(), b.X()) <= p.X() && p.X() <= max(a.X(), b.X()) &&
		min(a.Y(), b.Y()) <= p.Y() && p.Y() <= max(a.Y(), b.Y())
}
