package viewport

import (
	"math"
	"testing"

	"cropkit/internal/geometry"
)

func pt(x, y float64) geometry.Point { return geometry.Point{X: x, Y: y} }

func closeTo(a, b geometry.Point) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestFit(t *testing.T) {
	tr := New(geometry.Size{W: 1600, H: 1200}, geometry.Size{W: 800, H: 800})
	if tr.Displayed != (geometry.Size{W: 800, H: 600}) {
		t.Fatalf("displayed = %+v", tr.Displayed)
	}
	if got := tr.NaturalToDisplayed(); got != 2 {
		t.Errorf("NaturalToDisplayed = %v, want 2", got)
	}
	// image is centered vertically: top edge at y=100
	if got := tr.ToImage(pt(0, 100)); !closeTo(got, pt(0, 0)) {
		t.Errorf("ToImage(top-left) = %v", got)
	}
	if got := tr.ToImage(pt(400, 400)); !closeTo(got, pt(800, 600)) {
		t.Errorf("ToImage(center) = %v", got)
	}
}

func TestRoundTripUnderZoom(t *testing.T) {
	tr := New(geometry.Size{W: 1000, H: 500}, geometry.Size{W: 500, H: 500})
	for _, scale := range []float64{0.5, 1, 1.75, 3} {
		z := tr.WithScale(scale)
		for _, p := range []geometry.Point{pt(0, 0), pt(123, 456), pt(1000, 500), pt(999.5, 0.25)} {
			if got := z.ToImage(z.ToScreen(p)); !closeTo(got, p) {
				t.Errorf("scale %v: round trip of %v gave %v", scale, p, got)
			}
		}
	}
}

func TestToImageClamps(t *testing.T) {
	tr := New(geometry.Size{W: 800, H: 600}, geometry.Size{W: 800, H: 600}).WithScale(2)
	if got := tr.ToImage(pt(-500, -500)); !closeTo(got, pt(0, 0)) {
		t.Errorf("ToImage below bounds = %v", got)
	}
	if got := tr.ToImage(pt(5000, 5000)); !closeTo(got, pt(800, 600)) {
		t.Errorf("ToImage above bounds = %v", got)
	}
}

func TestResizeKeepsScale(t *testing.T) {
	tr := New(geometry.Size{W: 800, H: 600}, geometry.Size{W: 400, H: 300}).WithScale(2)
	tr = tr.Resize(geometry.Size{W: 800, H: 600})
	if tr.Scale != 2 {
		t.Fatalf("scale lost on resize: %v", tr.Scale)
	}
	// displayed 800x600 at 2x is 1600x1200 centered in 800x600: origin (-400,-300)
	if got := tr.ToImage(pt(400, 300)); !closeTo(got, pt(400, 300)) {
		t.Errorf("center maps to %v", got)
	}
	if d := tr.ToImageDistance(12); d != 6 {
		t.Errorf("ToImageDistance(12) = %v, want 6", d)
	}
}

func TestWithScaleIgnoresInvalid(t *testing.T) {
	tr := New(geometry.Size{W: 10, H: 10}, geometry.Size{W: 10, H: 10})
	if tr.WithScale(0).Scale != 1 || tr.WithScale(-2).Scale != 1 {
		t.Error("non-positive scale accepted")
	}
}
