package geometry

import (
	"errors"
	"math"
)

// ErrDegenerate is returned when four correspondences do not define an
// invertible projective transform.
var ErrDegenerate = errors.New("degenerate point configuration")

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// SolveHomography returns H with H(src[i]) = dst[i] for all four points.
func SolveHomography(src, dst [4]Point) (Homography, error) {
	if hasCollinearTriple(src) || hasCollinearTriple(dst) {
		return Homography{}, ErrDegenerate
	}
	// 8 unknowns, h[8] fixed to 1.
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-10 {
			return Homography{}, ErrDegenerate
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = a[i][8] / a[i][i]
	}
	h[8] = 1
	if !h.invertible() {
		return Homography{}, ErrDegenerate
	}
	return h, nil
}

// hasCollinearTriple reports whether any three of the points are collinear
// or coincident; no projective transform is defined for such a set.
func hasCollinearTriple(pts [4]Point) bool {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				a, b := pts[j].Sub(pts[i]), pts[k].Sub(pts[i])
				cross := a.X*b.Y - a.Y*b.X
				if math.Abs(cross) <= 1e-9*math.Hypot(a.X, a.Y)*math.Hypot(b.X, b.Y) {
					return true
				}
			}
		}
	}
	return false
}

func (h Homography) det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// invertible compares the determinant against the scale of the linear part,
// so the check does not depend on the pixel units.
func (h Homography) invertible() bool {
	scale := 0.0
	for _, v := range h[:6] {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		return false
	}
	return math.Abs(h.det()) > 1e-9*scale*scale
}

// Apply maps p through h.
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// Invert returns the inverse transform.
func (h Homography) Invert() (Homography, error) {
	d := h.det()
	if d == 0 || !h.invertible() {
		return Homography{}, ErrDegenerate
	}
	inv := Homography{
		h[4]*h[8] - h[5]*h[7], h[2]*h[7] - h[1]*h[8], h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8], h[0]*h[8] - h[2]*h[6], h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6], h[1]*h[6] - h[0]*h[7], h[0]*h[4] - h[1]*h[3],
	}
	for i := range inv {
		inv[i] /= d
	}
	return inv, nil
}

// RectCorners returns the TL, TR, BR, BL corners of a w x h rectangle at the origin.
func RectCorners(w, h float64) [4]Point {
	return [4]Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
}
