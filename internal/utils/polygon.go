package utils

import (
	"math"
	"sort"
)

// SimplifyPolygon reduces the number of points in a polyline using the
// Douglas–Peucker algorithm with tolerance epsilon. Endpoints are kept.
func SimplifyPolygon(pts []Point, epsilon float64) []Point {
	if len(pts) <= 3 || epsilon <= 0 {
		return append([]Point(nil), pts...)
	}
	keep := make([]bool, len(pts))
	keep[0] = true
	keep[len(pts)-1] = true
	dpSimplify(pts, 0, len(pts)-1, epsilon, keep)
	out := make([]Point, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

func dpSimplify(pts []Point, start, end int, eps float64, keep []bool) {
	if end <= start+1 {
		return
	}
	maxDist, index := -1.0, -1
	for i := start + 1; i < end; i++ {
		if d := perpendicularDistance(pts[i], pts[start], pts[end]); d > maxDist {
			maxDist, index = d, i
		}
	}
	if maxDist > eps {
		keep[index] = true
		dpSimplify(pts, start, index, eps, keep)
		dpSimplify(pts, index, end, eps, keep)
	}
}

// perpendicularDistance is the distance from p to the line through a and b.
func perpendicularDistance(p, a, b Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	if vx == 0 && vy == 0 {
		return Dist(p, a)
	}
	return math.Abs((p.X-a.X)*vy-(p.Y-a.Y)*vx) / math.Hypot(vx, vy)
}

// ConvexHull computes the convex hull of a set of points using the
// monotone chain algorithm. The hull is returned without repeating the
// first point.
func ConvexHull(pts []Point) []Point {
	if len(pts) <= 1 {
		return append([]Point(nil), pts...)
	}
	p := append([]Point(nil), pts...)
	sort.Slice(p, func(i, j int) bool {
		if p[i].X != p[j].X {
			return p[i].X < p[j].X
		}
		return p[i].Y < p[j].Y
	})
	p = removeDuplicatePoints(p)
	if len(p) <= 1 {
		return p
	}
	lower := halfHull(p, 0, len(p), 1)
	upper := halfHull(p, len(p)-1, -1, -1)
	hull := make([]Point, 0, len(lower)+len(upper)-2)
	hull = append(hull, lower[:len(lower)-1]...)
	hull = append(hull, upper[:len(upper)-1]...)
	return hull
}

func halfHull(p []Point, from, to, step int) []Point {
	h := make([]Point, 0, len(p))
	for i := from; i != to; i += step {
		for len(h) >= 2 && cross(h[len(h)-2], h[len(h)-1], p[i]) <= 0 {
			h = h[:len(h)-1]
		}
		h = append(h, p[i])
	}
	return h
}

func removeDuplicatePoints(p []Point) []Point {
	q := p[:1]
	for _, pt := range p[1:] {
		if last := q[len(q)-1]; pt.X != last.X || pt.Y != last.Y {
			q = append(q, pt)
		}
	}
	return q
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// PolygonArea returns the absolute area of a simple polygon (shoelace).
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	s := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(s) / 2
}

// MinimumAreaRectangle computes the minimum-area enclosing rectangle with
// rotating calipers over the convex hull.
func MinimumAreaRectangle(pts []Point) []Point {
	hull := ConvexHull(pts)
	switch len(hull) {
	case 0:
		return nil
	case 1:
		p := hull[0]
		return []Point{p, {p.X + 1, p.Y}, {p.X + 1, p.Y + 1}, {p.X, p.Y + 1}}
	case 2:
		a, b := hull[0], hull[1]
		return []Point{a, b, {b.X, b.Y + 1}, {a.X, a.Y + 1}}
	}

	bestArea := math.Inf(1)
	var u, v Point
	var minS, maxS, minT, maxT float64
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		l := Dist(a, b)
		if l == 0 {
			continue
		}
		eu := Point{(b.X - a.X) / l, (b.Y - a.Y) / l}
		ev := Point{-eu.Y, eu.X}
		s0, s1 := math.Inf(1), math.Inf(-1)
		t0, t1 := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			s := p.X*eu.X + p.Y*eu.Y
			t := p.X*ev.X + p.Y*ev.Y
			s0, s1 = math.Min(s0, s), math.Max(s1, s)
			t0, t1 = math.Min(t0, t), math.Max(t1, t)
		}
		if area := (s1 - s0) * (t1 - t0); area < bestArea {
			bestArea = area
			u, v = eu, ev
			minS, maxS, minT, maxT = s0, s1, t0, t1
		}
	}
	corner := func(s, t float64) Point {
		return Point{X: u.X*s + v.X*t, Y: u.Y*s + v.Y*t}
	}
	return []Point{corner(minS, minT), corner(maxS, minT), corner(maxS, maxT), corner(minS, maxT)}
}

// QuadFromHull picks the four hull vertices spanning the largest
// quadrilateral: the two mutually farthest points plus the farthest point on
// each side of the line through them. ok is false for degenerate hulls.
func QuadFromHull(hull []Point) (quad [4]Point, ok bool) {
	if len(hull) < 4 {
		return quad, false
	}
	var c Point
	for _, p := range hull {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(hull))
	c.Y /= float64(len(hull))

	a := farthestFrom(hull, c)
	b := farthestFrom(hull, a)
	if Dist(a, b) == 0 {
		return quad, false
	}
	var left, right Point
	bestL, bestR := 0.0, 0.0
	for _, p := range hull {
		d := cross(a, b, p)
		if d > bestL {
			bestL, left = d, p
		}
		if -d > bestR {
			bestR, right = -d, p
		}
	}
	if bestL == 0 || bestR == 0 {
		return quad, false
	}
	return OrderQuad([4]Point{a, left, b, right}), true
}

func farthestFrom(pts []Point, o Point) Point {
	best, bestD := pts[0], -1.0
	for _, p := range pts {
		if d := Dist(o, p); d > bestD {
			best, bestD = p, d
		}
	}
	return best
}

// OrderQuad orders corners as top-left, top-right, bottom-right, bottom-left.
func OrderQuad(q [4]Point) [4]Point {
	var c Point
	for _, p := range q {
		c.X += p.X / 4
		c.Y += p.Y / 4
	}
	pts := q[:]
	sorted := append([]Point(nil), pts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Atan2(sorted[i].Y-c.Y, sorted[i].X-c.X) < math.Atan2(sorted[j].Y-c.Y, sorted[j].X-c.X)
	})
	start := 0
	for i := 1; i < 4; i++ {
		if sorted[i].X+sorted[i].Y < sorted[start].X+sorted[start].Y {
			start = i
		}
	}
	var out [4]Point
	for i := range 4 {
		out[i] = sorted[(start+i)%4]
	}
	return out
}

// CornerDeviation returns the largest deviation, in degrees, of any interior
// angle of the quadrilateral from 90°.
func CornerDeviation(q [4]Point) float64 {
	worst := 0.0
	for i := range 4 {
		prev, cur, next := q[(i+3)%4], q[i], q[(i+1)%4]
		ax, ay := prev.X-cur.X, prev.Y-cur.Y
		bx, by := next.X-cur.X, next.Y-cur.Y
		la, lb := math.Hypot(ax, ay), math.Hypot(bx, by)
		if la == 0 || lb == 0 {
			return 90
		}
		cos := (ax*bx + ay*by) / (la * lb)
		cos = math.Max(-1, math.Min(1, cos))
		dev := math.Abs(math.Acos(cos)*180/math.Pi - 90)
		worst = math.Max(worst, dev)
	}
	return worst
}

// QuadSize returns the mean width and mean height of an ordered quad.
func QuadSize(q [4]Point) (w, h float64) {
	w = (Dist(q[0], q[1]) + Dist(q[3], q[2])) / 2
	h = (Dist(q[0], q[3]) + Dist(q[1], q[2])) / 2
	return w, h
}
