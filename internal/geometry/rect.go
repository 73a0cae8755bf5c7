package geometry

import (
	"fmt"
	"math"
)

// Handle identifies a grab point on a region.
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTopRight
	HandleBottomRight
	HandleBottomLeft
	HandleRotate
)

var handleNames = map[Handle]string{
	HandleNone:        "none",
	HandleTopLeft:     "top-left",
	HandleTopRight:    "top-right",
	HandleBottomRight: "bottom-right",
	HandleBottomLeft:  "bottom-left",
	HandleRotate:      "rotate",
}

func (h Handle) String() string { return handleNames[h] }

// cornerHandles maps corner index (TL, TR, BR, BL) to its handle.
var cornerHandles = [4]Handle{HandleTopLeft, HandleTopRight, HandleBottomRight, HandleBottomLeft}

// Rect is an axis-aligned crop region. AspectRatio is width/height, 0 when unlocked.
type Rect struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	AspectRatio float64 `json:"aspectRatio,omitempty"`
}

func (r Rect) String() string {
	return fmt.Sprintf("rect(x=%.1f,y=%.1f,w=%.1f,h=%.1f,ratio=%.3f)", r.X, r.Y, r.Width, r.Height, r.AspectRatio)
}

// DefaultRect centers a rect covering cfg.DefaultFraction of the image. With a
// ratio the largest box of that ratio inside the fraction is used.
func DefaultRect(bounds Size, aspectRatio float64, cfg Config) Rect {
	bw, bh := bounds.W*cfg.DefaultFraction, bounds.H*cfg.DefaultFraction
	w, h := bw, bh
	if aspectRatio > 0 {
		if bw/bh > aspectRatio {
			w = bh * aspectRatio
		} else {
			h = bw / aspectRatio
		}
	}
	r := Rect{
		X:           (bounds.W - w) / 2,
		Y:           (bounds.H - h) / 2,
		Width:       w,
		Height:      h,
		AspectRatio: aspectRatio,
	}
	return r.fit(bounds, cfg.minSizeFor(bounds))
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Corners returns TL, TR, BR, BL.
func (r Rect) Corners() [4]Point {
	return [4]Point{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
}

// HandleAt returns the corner handle closest to p within radius.
func (r Rect) HandleAt(p Point, radius float64) Handle {
	best, bestDist := HandleNone, radius
	for i, c := range r.Corners() {
		if d := c.Dist(p); d <= bestDist {
			best, bestDist = cornerHandles[i], d
		}
	}
	return best
}

// moveRect translates origin by delta, keeping it inside bounds.
func moveRect(origin Rect, delta Point, bounds Size) Rect {
	out := origin
	out.X = clamp(origin.X+delta.X, 0, math.Max(0, bounds.W-origin.Width))
	out.Y = clamp(origin.Y+delta.Y, 0, math.Max(0, bounds.H-origin.Height))
	return out
}

// resizeRect drags handle h of origin by delta. The opposite corner stays
// pinned and the delta is damped.
func resizeRect(origin Rect, h Handle, delta Point, bounds Size, cfg Config) Rect {
	d := Point{X: delta.X * cfg.Damping, Y: delta.Y * cfg.Damping}

	// anchor is the pinned corner; sx/sy point from the anchor to the dragged corner.
	var ax, ay, sx, sy float64
	switch h {
	case HandleTopLeft:
		ax, ay, sx, sy = origin.X+origin.Width, origin.Y+origin.Height, -1, -1
	case HandleTopRight:
		ax, ay, sx, sy = origin.X, origin.Y+origin.Height, 1, -1
	case HandleBottomRight:
		ax, ay, sx, sy = origin.X, origin.Y, 1, 1
	case HandleBottomLeft:
		ax, ay, sx, sy = origin.X+origin.Width, origin.Y, -1, 1
	default:
		return origin
	}

	w := origin.Width + sx*d.X
	ht := origin.Height + sy*d.Y
	w, ht = constrainSize(w, ht, spanFrom(ax, sx, bounds.W), spanFrom(ay, sy, bounds.H), origin.AspectRatio, cfg.minSizeFor(bounds))

	out := origin
	out.Width, out.Height = w, ht
	out.X = ax
	if sx < 0 {
		out.X = ax - w
	}
	out.Y = ay
	if sy < 0 {
		out.Y = ay - ht
	}
	return out.fit(bounds, cfg.minSizeFor(bounds))
}

// spanFrom is the room available from anchor a in direction s.
func spanFrom(a, s, limit float64) float64 {
	if s < 0 {
		return a
	}
	return limit - a
}

// constrainSize clamps w and h to [minSize, max] and, when ratio is set,
// derives h from w after all other adjustments.
func constrainSize(w, h, maxW, maxH, ratio, minSize float64) (float64, float64) {
	if ratio > 0 {
		maxW = math.Min(maxW, maxH*ratio)
		minW := math.Max(minSize, minSize*ratio)
		if minW > maxW {
			minW = maxW
		}
		w = clamp(w, minW, maxW)
		return w, w / ratio
	}
	lowW, lowH := math.Min(minSize, maxW), math.Min(minSize, maxH)
	return clamp(w, lowW, maxW), clamp(h, lowH, maxH)
}

// fit pulls r back inside bounds without changing its size where possible.
func (r Rect) fit(bounds Size, minSize float64) Rect {
	r.Width, r.Height = constrainSize(r.Width, r.Height, bounds.W, bounds.H, r.AspectRatio, minSize)
	r.X = clamp(r.X, 0, bounds.W-r.Width)
	r.Y = clamp(r.Y, 0, bounds.H-r.Height)
	return r
}

// withWidth sets the width keeping the top-left corner, honoring the lock.
func (r Rect) withWidth(w float64, bounds Size, minSize float64) Rect {
	ht := r.Height
	if r.AspectRatio > 0 {
		ht = w / r.AspectRatio
	}
	r.Width, r.Height = constrainSize(w, ht, bounds.W-r.X, bounds.H-r.Y, r.AspectRatio, minSize)
	return r.fit(bounds, minSize)
}

// withHeight sets the height; a locked ratio converts it to a width edit.
func (r Rect) withHeight(h float64, bounds Size, minSize float64) Rect {
	if r.AspectRatio > 0 {
		return r.withWidth(h*r.AspectRatio, bounds, minSize)
	}
	r.Width, r.Height = constrainSize(r.Width, h, bounds.W-r.X, bounds.H-r.Y, 0, minSize)
	return r.fit(bounds, minSize)
}
