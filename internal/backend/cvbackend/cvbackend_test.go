package cvbackend

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"cropkit/internal/backend"
	"cropkit/internal/geometry"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	b := New()
	src := solid(6, 4, color.NRGBA{R: 200, G: 30, B: 90, A: 10})
	src.SetNRGBA(2, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	buf, err := b.FromImage(src)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()
	if buf.Size() != image.Pt(6, 4) || buf.Channels() != 3 {
		t.Fatalf("buffer %v x%d", buf.Size(), buf.Channels())
	}
	out, err := b.ToImage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{R: 200, G: 30, B: 90, A: 255}) {
		t.Errorf("(0,0) = %v", got)
	}
	if got := out.NRGBAAt(2, 1); got != (color.NRGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Errorf("(2,1) = %v", got)
	}
}

func TestLinearTransformSaturates(t *testing.T) {
	b := New()
	buf, _ := b.FromImage(solid(2, 2, color.NRGBA{R: 10, G: 128, B: 250, A: 255}))
	defer buf.Release()
	out, err := b.LinearTransform(buf, 2, -128)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	img, _ := b.ToImage(out)
	if got := img.NRGBAAt(1, 1); got != (color.NRGBA{R: 0, G: 128, B: 255, A: 255}) {
		t.Errorf("got %v", got)
	}
}

func TestReleaseTwice(t *testing.T) {
	b := New()
	buf, _ := b.FromImage(solid(2, 2, color.NRGBA{A: 255}))
	if err := buf.Release(); err != nil {
		t.Fatal(err)
	}
	if err := buf.Release(); !errors.Is(err, backend.ErrReleased) {
		t.Errorf("second release err = %v", err)
	}
	if b.Live() != 0 {
		t.Errorf("Live = %d", b.Live())
	}
}

func TestWarpRejectsCollinear(t *testing.T) {
	b := New()
	buf, _ := b.FromImage(solid(10, 10, color.NRGBA{R: 9, A: 255}))
	defer buf.Release()
	line := [4]geometry.Point{{X: 0, Y: 0}, {X: 3, Y: 3}, {X: 6, Y: 6}, {X: 9, Y: 9}}
	if _, err := b.WarpPerspective(buf, line, image.Pt(5, 5)); !errors.Is(err, geometry.ErrDegenerate) {
		t.Errorf("err = %v", err)
	}
}
