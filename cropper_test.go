package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"

	"github.com/disintegration/imaging"

	"cropkit/internal/backend/gobackend"
	"cropkit/internal/encode"
	"cropkit/internal/enhance"
	"cropkit/internal/extract"
	"cropkit/internal/geometry"
	"cropkit/internal/superres"
)

func encodedGradient(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gradient(w, h), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestProcessor(initial bool) *ImageProcessor {
	pass := enhance.DefaultInitialPass()
	pass.Enabled = initial
	return NewImageProcessor(gobackend.New(), superres.NewLanczos, pass, image.Pt(60, 80))
}

func TestImageProcessor(t *testing.T) {
	src := encodedGradient(t, 200, 100)
	pngOut := encode.Options{Format: encode.PNG, Quality: 90}

	tests := []struct {
		name  string
		task  Task
		w, h  int
		check func(t *testing.T, img image.Image)
	}{
		{
			name: "enhance keeps size",
			task: Task{Settings: enhance.DefaultSettings(), Encode: pngOut},
			w:    200, h: 100,
		},
		{
			name: "relative crop",
			task: Task{Crop: &Crop{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.5}, Settings: enhance.DefaultSettings(), Encode: pngOut},
			w:    100, h: 50,
			check: func(t *testing.T, img image.Image) {
				// identity settings and no initial pass leave pixels untouched
				want := gradient(200, 100).NRGBAAt(50, 50)
				got := imaging.Clone(img).NRGBAAt(0, 0)
				if got != want {
					t.Fatalf("origin pixel = %v, want %v", got, want)
				}
			},
		},
		{
			name: "perspective",
			task: Task{Corners: &Corners{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9}}, Settings: enhance.DefaultSettings(), Encode: pngOut},
			w:    60, h: 80,
		},
		{
			name: "ai upscale",
			task: Task{Settings: func() enhance.Settings {
				s := enhance.DefaultSettings()
				s.Mode, s.AIScale = enhance.ModeAI, 2
				return s
			}(), Encode: pngOut},
			w: 400, h: 200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			res, err := newTestProcessor(false).Process(context.Background(), bytes.NewReader(src), &out, tt.task)
			if err != nil {
				t.Fatal(err)
			}
			if res.Width != tt.w || res.Height != tt.h {
				t.Fatalf("result %dx%d, want %dx%d", res.Width, res.Height, tt.w, tt.h)
			}
			img, err := imaging.Decode(&out)
			if err != nil {
				t.Fatal(err)
			}
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Fatalf("written image %v", b)
			}
			if tt.check != nil {
				tt.check(t, img)
			}
		})
	}
}

func TestImageProcessorRejects(t *testing.T) {
	src := encodedGradient(t, 50, 50)
	var out bytes.Buffer

	collinear := &Corners{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.5}, {X: 0.9, Y: 0.9}, {X: 0.2, Y: 0.2}}
	_, err := newTestProcessor(true).Process(context.Background(), bytes.NewReader(src), &out, Task{
		Corners:  collinear,
		Settings: enhance.DefaultSettings(),
		Encode:   encode.Options{Format: encode.JPEG, Quality: 80},
	})
	var dce *extract.DegenerateCropError
	if !errors.As(err, &dce) {
		t.Fatalf("err = %v, want DegenerateCropError", err)
	}

	_, err = newTestProcessor(true).Process(context.Background(), bytes.NewReader([]byte("garbage")), &out, Task{Settings: enhance.DefaultSettings()})
	if err == nil {
		t.Fatal("garbage decoded")
	}
	if out.Len() != 0 {
		t.Fatal("output written on failure")
	}
}

func TestCornersQuad(t *testing.T) {
	c := Corners{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	q := c.Quad(geometry.Size{W: 300, H: 200})
	if q.Points[2] != (geometry.Point{X: 300, Y: 200}) {
		t.Fatalf("quad = %s", q)
	}
	if err := (Corners{{X: 1.5}}).Validate(); err == nil {
		t.Fatal("corner outside the image accepted")
	}
}
