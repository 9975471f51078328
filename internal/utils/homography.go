package utils

import "math"

// Homography is a 3x3 projective transform in row-major order with H[8] = 1.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography { return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// ComputeHomography solves for H mapping p[i] to q[i]. ok is false when the
// points are degenerate (three collinear, repeated).
func ComputeHomography(p, q [4]Point) (Homography, bool) {
	var a [8][8]float64
	var b [8]float64
	for i := range 4 {
		X, Y := p[i].X, p[i].Y
		x, y := q[i].X, q[i].Y
		r := 2 * i
		// x = (h0 X + h1 Y + h2) / (h6 X + h7 Y + 1)
		a[r] = [8]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x}
		b[r] = x
		// y = (h3 X + h4 Y + h5) / (h6 X + h7 Y + 1)
		a[r+1] = [8]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y}
		b[r+1] = y
	}
	h, ok := solve8x8(a, b)
	if !ok {
		return Homography{}, false
	}
	return Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// Similarity builds the transform x' = s·R(θ)·x + t as a Homography.
func Similarity(scale, theta, tx, ty float64) Homography {
	c, s := scale*math.Cos(theta), scale*math.Sin(theta)
	return Homography{c, -s, tx, s, c, ty, 0, 0, 1}
}

// FitSimilarity returns the least-squares similarity mapping src onto dst.
// It needs at least two distinct point pairs.
func FitSimilarity(src, dst []Point) (Homography, bool) {
	n := len(src)
	if n < 2 || len(dst) != n {
		return Homography{}, false
	}
	var sc, dc Point
	for i := range n {
		sc.X += src[i].X / float64(n)
		sc.Y += src[i].Y / float64(n)
		dc.X += dst[i].X / float64(n)
		dc.Y += dst[i].Y / float64(n)
	}
	var sxx, sab, sba float64
	for i := range n {
		ax, ay := src[i].X-sc.X, src[i].Y-sc.Y
		bx, by := dst[i].X-dc.X, dst[i].Y-dc.Y
		sxx += ax*ax + ay*ay
		sab += ax*bx + ay*by
		sba += ax*by - ay*bx
	}
	if sxx == 0 {
		return Homography{}, false
	}
	a, b := sab/sxx, sba/sxx
	tx := dc.X - (a*sc.X - b*sc.Y)
	ty := dc.Y - (b*sc.X + a*sc.Y)
	return Homography{a, -b, tx, b, a, ty, 0, 0, 1}, true
}

// Apply maps (x, y) through h. Points at infinity map far outside any image.
func (h Homography) Apply(x, y float64) (float64, float64) {
	d := h[6]*x + h[7]*y + h[8]
	if d == 0 {
		return -1e9, -1e9
	}
	return (h[0]*x + h[1]*y + h[2]) / d, (h[3]*x + h[4]*y + h[5]) / d
}

// ApplyPoint is Apply for a Point.
func (h Homography) ApplyPoint(p Point) Point {
	x, y := h.Apply(p.X, p.Y)
	return Point{X: x, Y: y}
}

// Compose returns h∘g: the transform applying g first, then h.
func (h Homography) Compose(g Homography) Homography {
	var m Homography
	for r := range 3 {
		for c := range 3 {
			m[r*3+c] = h[r*3]*g[c] + h[r*3+1]*g[3+c] + h[r*3+2]*g[6+c]
		}
	}
	if m[8] != 0 && m[8] != 1 {
		d := m[8]
		for i := range m {
			m[i] /= d
		}
	}
	return m
}

// Rotation returns the in-plane rotation of the linear part, in degrees.
func (h Homography) Rotation() float64 {
	return math.Atan2(h[3]-h[1], h[0]+h[4]) * 180 / math.Pi
}

// Gauss-Jordan elimination with partial pivoting.
func solve8x8(m [8][8]float64, v [8]float64) ([8]float64, bool) {
	for col := range 8 {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [8]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]

		div := m[col][col]
		for c := col; c < 8; c++ {
			m[col][c] /= div
		}
		v[col] /= div

		for r := range 8 {
			if r == col || m[r][col] == 0 {
				continue
			}
			f := m[r][col]
			for c := col; c < 8; c++ {
				m[r][c] -= f * m[col][c]
			}
			v[r] -= f * v[col]
		}
	}
	return v, true
}
