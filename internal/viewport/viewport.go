// Package viewport maps pointer positions between the screen and image pixels.
//
// Screen points are relative to the top-left corner of the container. The
// image is fitted inside the container (contain), multiplied by the zoom
// scale, and centered.
package viewport

import (
	"math"

	"cropkit/internal/geometry"
)

type Transform struct {
	// Scale is the user zoom factor on top of the fit.
	Scale     float64       `json:"scale"`
	Container geometry.Size `json:"container"`
	Natural   geometry.Size `json:"natural"`
	// Displayed is the fitted size at Scale 1.
	Displayed geometry.Size `json:"displayed"`
}

// New fits natural into container at scale 1.
func New(natural, container geometry.Size) Transform {
	t := Transform{Scale: 1, Natural: natural}
	return t.Resize(container)
}

// Resize recomputes the fit after a container resize notification. The zoom
// scale is kept.
func (t Transform) Resize(container geometry.Size) Transform {
	t.Container = container
	t.Displayed = fit(t.Natural, container)
	return t
}

// WithScale sets the zoom factor. Non-positive scales are ignored.
func (t Transform) WithScale(scale float64) Transform {
	if scale > 0 && !math.IsInf(scale, 0) {
		t.Scale = scale
	}
	return t
}

// WithNatural swaps the image, keeping container and zoom.
func (t Transform) WithNatural(natural geometry.Size) Transform {
	t.Natural = natural
	return t.Resize(t.Container)
}

func fit(natural, container geometry.Size) geometry.Size {
	if natural.Empty() {
		return geometry.Size{}
	}
	if container.Empty() {
		return natural
	}
	k := math.Min(container.W/natural.W, container.H/natural.H)
	return geometry.Size{W: natural.W * k, H: natural.H * k}
}

// ratio is natural pixels per screen pixel.
func (t Transform) ratio() (float64, float64) {
	if t.Displayed.Empty() || t.Scale <= 0 {
		return 1, 1
	}
	return t.Natural.W / (t.Displayed.W * t.Scale), t.Natural.H / (t.Displayed.H * t.Scale)
}

// origin is the screen position of the image's top-left corner.
func (t Transform) origin() geometry.Point {
	if t.Container.Empty() {
		return geometry.Point{}
	}
	return geometry.Point{
		X: (t.Container.W - t.Displayed.W*t.Scale) / 2,
		Y: (t.Container.H - t.Displayed.H*t.Scale) / 2,
	}
}

// ToImage converts a screen point to image pixels, clamped to the image.
func (t Transform) ToImage(p geometry.Point) geometry.Point {
	rx, ry := t.ratio()
	o := t.origin()
	x := (p.X - o.X) * rx
	y := (p.Y - o.Y) * ry
	return geometry.Point{
		X: math.Max(0, math.Min(t.Natural.W, x)),
		Y: math.Max(0, math.Min(t.Natural.H, y)),
	}
}

// ToScreen converts image pixels to a screen point.
func (t Transform) ToScreen(p geometry.Point) geometry.Point {
	rx, ry := t.ratio()
	o := t.origin()
	return geometry.Point{X: p.X/rx + o.X, Y: p.Y/ry + o.Y}
}

// ToImageDistance converts a screen length, such as a handle radius, to image pixels.
func (t Transform) ToImageDistance(d float64) float64 {
	rx, _ := t.ratio()
	return d * rx
}

// NaturalToDisplayed is the ratio used to scale regions expressed in
// displayed pixels back to the natural image.
func (t Transform) NaturalToDisplayed() float64 {
	if t.Displayed.W <= 0 {
		return 1
	}
	return t.Natural.W / t.Displayed.W
}
