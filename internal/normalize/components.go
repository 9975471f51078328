package normalize

import "container/list"

// component holds statistics for one 4-connected region of a mask.
type component struct {
	label      int32
	count      int
	sumX, sumY float64
	minX, minY int
	maxX, maxY int
}

func (c component) width() int  { return c.maxX - c.minX + 1 }
func (c component) height() int { return c.maxY - c.minY + 1 }

// centroid in pixel-centre coordinates.
func (c component) centroid() (float64, float64) {
	return c.sumX / float64(c.count), c.sumY / float64(c.count)
}

// labelComponents finds the 4-connected components of mask. Labels start at 1;
// 0 marks background.
func labelComponents(mask []bool, w, h int) ([]component, []int32) {
	labels := make([]int32, w*h)
	var comps []component
	next := int32(1)
	for y := range h {
		for x := range w {
			i := y*w + x
			if mask[i] && labels[i] == 0 {
				comps = append(comps, floodComponent(mask, labels, w, h, x, y, next))
				next++
			}
		}
	}
	return comps, labels
}

func floodComponent(mask []bool, labels []int32, w, h, sx, sy int, label int32) component {
	c := component{label: label, minX: sx, minY: sy, maxX: sx, maxY: sy}
	q := list.New()
	q.PushBack(sy*w + sx)
	labels[sy*w+sx] = label

	dirs := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	for q.Len() > 0 {
		e := q.Front()
		q.Remove(e)
		ci, _ := e.Value.(int)
		cx, cy := ci%w, ci/w

		c.count++
		c.sumX += float64(cx)
		c.sumY += float64(cy)
		c.minX, c.maxX = min(c.minX, cx), max(c.maxX, cx)
		c.minY, c.maxY = min(c.minY, cy), max(c.maxY, cy)

		for _, d := range dirs {
			nx, ny := cx+d[0], cy+d[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			ni := ny*w + nx
			if mask[ni] && labels[ni] == 0 {
				labels[ni] = label
				q.PushBack(ni)
			}
		}
	}
	return c
}
