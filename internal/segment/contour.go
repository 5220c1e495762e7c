package segment

import (
	"image"
	"math"
)

// Region is one external contour of a binary mask.
type Region struct {
	Bounds image.Rectangle
	Area   float64 // polygon area enclosed by the traced border
	Pixels int
	Border []image.Point
}

// moore lists the 8 neighbours clockwise starting west (y grows downward).
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func mooreIndex(d image.Point) int {
	for i, m := range moore {
		if m == d {
			return i
		}
	}
	return -1
}

// ExternalContours returns the outer contours of the 8-connected foreground components of a zero-origin mask.
// Components sitting inside a hole of another component are not external and are skipped.
func ExternalContours(m *image.Gray) []Region {
	w, h := m.Bounds().Dx(), m.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil
	}
	fg := func(x, y int) bool { return m.Pix[y*m.Stride+x] != 0 }

	labels := make([]int, w*h)
	var sizes []int
	var boxes []image.Rectangle
	var starts []image.Point

	queue := make([]image.Point, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !fg(x, y) || labels[y*w+x] != 0 {
				continue
			}
			id := len(sizes) + 1
			labels[y*w+x] = id
			box := image.Rect(x, y, x+1, y+1)
			count := 0
			queue = append(queue[:0], image.Pt(x, y))
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				count++
				box = box.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, d := range moore {
					q := p.Add(d)
					if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
						continue
					}
					if fg(q.X, q.Y) && labels[q.Y*w+q.X] == 0 {
						labels[q.Y*w+q.X] = id
						queue = append(queue, q)
					}
				}
			}
			sizes = append(sizes, count)
			boxes = append(boxes, box)
			starts = append(starts, image.Pt(x, y))
		}
	}
	if len(sizes) == 0 {
		return nil
	}

	external := outerComponents(labels, w, h, len(sizes))

	regions := make([]Region, 0, len(sizes))
	for i := range sizes {
		id := i + 1
		if !external[id] {
			continue
		}
		border := traceBorder(labels, w, h, id, starts[i])
		regions = append(regions, Region{
			Bounds: boxes[i],
			Area:   polygonArea(border),
			Pixels: sizes[i],
			Border: border,
		})
	}
	return regions
}

// outerComponents flood-fills the background reachable from the image edge (4-connected) and marks every
// component touching the edge or that background.
func outerComponents(labels []int, w, h, n int) []bool {
	external := make([]bool, n+1)
	outside := make([]bool, w*h)
	var queue []int

	seed := func(x, y int) {
		i := y*w + x
		if id := labels[i]; id != 0 {
			external[id] = true
			return
		}
		if !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		for _, d := range [4]image.Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			xx, yy := x+d.X, y+d.Y
			if xx < 0 || yy < 0 || xx >= w || yy >= h {
				continue
			}
			j := yy*w + xx
			if id := labels[j]; id != 0 {
				external[id] = true
				continue
			}
			if !outside[j] {
				outside[j] = true
				queue = append(queue, j)
			}
		}
	}
	return external
}

// traceBorder walks the outer border of component id clockwise with Moore-neighbour tracing.
// start must be the first pixel of the component in raster order, so its west neighbour is background.
func traceBorder(labels []int, w, h, id int, start image.Point) []image.Point {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == id
	}
	step := func(p image.Point, back int) (image.Point, int, bool) {
		for k := 1; k <= 8; k++ {
			idx := (back + k) % 8
			c := p.Add(moore[idx])
			if inside(c) {
				prev := p.Add(moore[(back+k-1)%8])
				return c, mooreIndex(prev.Sub(c)), true
			}
		}
		return p, back, false
	}

	border := []image.Point{start}
	first, firstBack, ok := step(start, 0)
	if !ok {
		return border
	}

	p, back := first, firstBack
	limit := 4*w*h + 8
	for n := 0; n < limit; n++ {
		if p == start {
			next, nextBack, _ := step(p, back)
			if next == first {
				break
			}
			border = append(border, p)
			p, back = next, nextBack
			continue
		}
		border = append(border, p)
		p, back, _ = step(p, back)
	}
	return border
}

// polygonArea is the shoelace area of a closed polygon through the given vertices.
func polygonArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum int
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(float64(sum)) / 2
}
