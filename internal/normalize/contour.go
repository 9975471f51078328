package normalize

import "github.com/MeKo-Tech/omr/internal/utils"

// 8-neighbourhood in clockwise order starting east (y grows downwards).
var (
	mooreDX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	mooreDY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// traceOuterContour follows the outer boundary of a labeled component with
// Moore-neighbour tracing and returns pixel-centre vertices with collinear
// runs collapsed.
func traceOuterContour(labels []int32, w, h int, c component) []utils.Point {
	is := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == c.label
	}

	// Raster order guarantees the first pixel lies on the outer boundary with
	// its west neighbour outside.
	sx, sy := -1, -1
	for y := c.minY; y <= c.maxY && sx < 0; y++ {
		for x := c.minX; x <= c.maxX; x++ {
			if is(x, y) {
				sx, sy = x, y
				break
			}
		}
	}
	if sx < 0 {
		return nil
	}

	pts := []utils.Point{{X: float64(sx), Y: float64(sy)}}
	add := func(x, y int) {
		p := utils.Point{X: float64(x), Y: float64(y)}
		n := len(pts)
		if n > 0 && pts[n-1] == p {
			return
		}
		if n >= 2 {
			a, b := pts[n-2], pts[n-1]
			if collinear(a, b, p) {
				pts = pts[:n-1]
			}
		}
		pts = append(pts, p)
	}

	cx, cy := sx, sy
	bx, by := sx-1, sy
	startBX, startBY := bx, by
	for steps := 0; steps < 4*c.count+8; steps++ {
		dir := 0
		for i := range 8 {
			if mooreDX[i] == bx-cx && mooreDY[i] == by-cy {
				dir = i
				break
			}
		}
		found := false
		for k := 1; k <= 8; k++ {
			i := (dir + k) % 8
			tx, ty := cx+mooreDX[i], cy+mooreDY[i]
			if is(tx, ty) {
				pi := (dir + k - 1) % 8
				bx, by = cx+mooreDX[pi], cy+mooreDY[pi]
				cx, cy = tx, ty
				found = true
				break
			}
		}
		if !found {
			break // isolated pixel
		}
		if cx == sx && cy == sy && bx == startBX && by == startBY {
			break
		}
		add(cx, cy)
	}
	if len(pts) >= 2 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	// Collapse runs that wrap around the start vertex.
	for len(pts) > 3 && collinear(pts[len(pts)-2], pts[len(pts)-1], pts[0]) {
		pts = pts[:len(pts)-1]
	}
	for len(pts) > 3 && collinear(pts[len(pts)-1], pts[0], pts[1]) {
		pts = pts[1:]
	}
	return pts
}

func collinear(a, b, p utils.Point) bool {
	return (b.X-a.X)*(p.Y-b.Y)-(b.Y-a.Y)*(p.X-b.X) == 0
}
