package geometry

import (
	"fmt"
	"math"
	"sort"
)

// Quad is a four-point crop region. Rotation accumulates the angle applied by
// rotate gestures, in radians.
type Quad struct {
	Points   [4]Point `json:"points"`
	Rotation float64  `json:"rotation"`
}

func (q Quad) String() string {
	return fmt.Sprintf("quad(%s %s %s %s rot=%.1fdeg)", q.Points[0], q.Points[1], q.Points[2], q.Points[3], q.RotationDegrees())
}

func (q Quad) RotationDegrees() float64 { return q.Rotation * 180 / math.Pi }

// DefaultQuad is the default rect expressed as TL, TR, BR, BL corners.
func DefaultQuad(bounds Size, cfg Config) Quad {
	return Quad{Points: DefaultRect(bounds, 0, cfg).Corners()}
}

func (q Quad) Centroid() Point {
	var c Point
	for _, p := range q.Points {
		c.X += p.X
		c.Y += p.Y
	}
	return Point{X: c.X / 4, Y: c.Y / 4}
}

// Area is the absolute shoelace area, assuming the points go around the quad.
func (q Quad) Area() float64 {
	var s float64
	for i := range q.Points {
		a, b := q.Points[i], q.Points[(i+1)%4]
		s += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(s) / 2
}

// MinEdge returns the length of the shortest side.
func (q Quad) MinEdge() float64 {
	m := math.Inf(1)
	for i := range q.Points {
		m = math.Min(m, q.Points[i].Dist(q.Points[(i+1)%4]))
	}
	return m
}

// Degenerate reports whether the quad has collapsed to a line or a point.
func (q Quad) Degenerate() bool {
	return q.Area() < 1 || q.MinEdge() < 1
}

// Contains reports whether p lies inside the quad (even-odd rule).
func (q Quad) Contains(p Point) bool {
	in := false
	for i, j := 0, 3; i < 4; j, i = i, i+1 {
		a, b := q.Points[i], q.Points[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// RotateHandle is placed offset pixels outward from the midpoint of the top edge.
func (q Quad) RotateHandle(offset float64) Point {
	mid := Point{X: (q.Points[0].X + q.Points[1].X) / 2, Y: (q.Points[0].Y + q.Points[1].Y) / 2}
	out := mid.Sub(q.Centroid())
	n := math.Hypot(out.X, out.Y)
	if n == 0 {
		return Point{X: mid.X, Y: mid.Y - offset}
	}
	return Point{X: mid.X + out.X/n*offset, Y: mid.Y + out.Y/n*offset}
}

// HandleAt hit-tests the corners first, then the rotate handle.
func (q Quad) HandleAt(p Point, radius, rotateOffset float64) Handle {
	best, bestDist := HandleNone, radius
	for i, c := range q.Points {
		if d := c.Dist(p); d <= bestDist {
			best, bestDist = cornerHandles[i], d
		}
	}
	if best != HandleNone {
		return best
	}
	if q.RotateHandle(rotateOffset).Dist(p) <= radius {
		return HandleRotate
	}
	return HandleNone
}

// OrderCorners sorts points on y then x and returns them as TL, TR, BR, BL.
func OrderCorners(pts [4]Point) [4]Point {
	s := pts
	sort.SliceStable(s[:], func(i, j int) bool {
		if s[i].Y != s[j].Y {
			return s[i].Y < s[j].Y
		}
		return s[i].X < s[j].X
	})
	top, bottom := [2]Point{s[0], s[1]}, [2]Point{s[2], s[3]}
	if top[0].X > top[1].X {
		top[0], top[1] = top[1], top[0]
	}
	if bottom[0].X > bottom[1].X {
		bottom[0], bottom[1] = bottom[1], bottom[0]
	}
	return [4]Point{top[0], top[1], bottom[1], bottom[0]}
}

func cornerIndex(h Handle) int {
	for i, c := range cornerHandles {
		if c == h {
			return i
		}
	}
	return -1
}

// moveQuadCorner moves one corner, clamped to bounds. ok is false when the
// result would violate the edge floor.
func moveQuadCorner(origin Quad, h Handle, delta Point, bounds Size, cfg Config) (Quad, bool) {
	i := cornerIndex(h)
	if i < 0 {
		return origin, false
	}
	out := origin
	p := origin.Points[i].Add(delta)
	out.Points[i] = Point{X: clamp(p.X, 0, bounds.W), Y: clamp(p.Y, 0, bounds.H)}
	minSize := cfg.minSizeFor(bounds)
	prev, next := out.Points[(i+3)%4], out.Points[(i+1)%4]
	if out.Points[i].Dist(prev) < minSize || out.Points[i].Dist(next) < minSize {
		return origin, false
	}
	return out, true
}

// moveQuad translates every corner, keeping them inside bounds. A rotated
// quad may already overhang an edge; then only moves that grow the overhang
// are blocked, and a zero delta never moves it.
func moveQuad(origin Quad, delta Point, bounds Size) Quad {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range origin.Points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	dx := clamp(delta.X, math.Min(0, -minX), math.Max(0, bounds.W-maxX))
	dy := clamp(delta.Y, math.Min(0, -minY), math.Max(0, bounds.H-maxY))
	out := origin
	for i := range out.Points {
		out.Points[i] = origin.Points[i].Add(Point{X: dx, Y: dy})
	}
	return out
}

// rotateQuad rotates origin around its centroid by the angle swept from
// startPointer to pointer. Corners may leave the image.
func rotateQuad(origin Quad, startPointer, pointer Point) Quad {
	c := origin.Centroid()
	a0 := math.Atan2(startPointer.Y-c.Y, startPointer.X-c.X)
	a1 := math.Atan2(pointer.Y-c.Y, pointer.X-c.X)
	angle := a1 - a0
	sin, cos := math.Sincos(angle)
	out := origin
	for i, p := range origin.Points {
		v := p.Sub(c)
		out.Points[i] = Point{X: c.X + v.X*cos - v.Y*sin, Y: c.Y + v.X*sin + v.Y*cos}
	}
	out.Rotation = origin.Rotation + angle
	return out
}
