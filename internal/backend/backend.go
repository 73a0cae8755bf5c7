// Package backend defines the pixel-processing backend used by the extractor
// and the enhancement pipeline.
//
// Backend buffers are owned by the backend, not by the Go garbage collector:
// every Buffer returned from a Backend method must be released exactly once.
// Use a Scope to tie the release of all intermediate buffers of an operation
// to a single deferred call.
package backend

import (
	"errors"
	"image"

	"cropkit/internal/geometry"
)

// ErrReleased is returned when a buffer is used or released after release.
var ErrReleased = errors.New("buffer already released")

// Buffer is a backend-owned pixel buffer.
type Buffer interface {
	Size() image.Point
	Channels() int
	Release() error
}

type ColorConversion int

const (
	RGBToHSV ColorConversion = iota
	HSVToRGB
)

func (c ColorConversion) String() string {
	if c == HSVToRGB {
		return "hsv->rgb"
	}
	return "rgb->hsv"
}

// Kernel is a square convolution kernel in row-major order.
type Kernel struct {
	Size    int
	Weights []float64
}

// Sharpen returns a normalised 3x3 sharpening kernel with the given center
// weight. The four edge neighbours each get (1-center)/4, so the kernel sums
// to one and flat regions keep their brightness. A center of 2.5 gives edge
// weights of -0.375 rather than a fixed -0.5.
func Sharpen(center float64) Kernel {
	n := (1 - center) / 4
	return Kernel{Size: 3, Weights: []float64{
		0, n, 0,
		n, center, n,
		0, n, 0,
	}}
}

// Backend is the set of primitives the core needs. Every method returns a
// new buffer and leaves its inputs untouched. Channel values are clamped to
// [0,255] by every operation; in HSV buffers saturation and value use that
// range and hue is backend specific.
type Backend interface {
	Name() string
	// Ready reports whether the backend finished initializing.
	Ready() bool

	// FromImage copies img into a 3-channel color buffer, dropping alpha.
	FromImage(img image.Image) (Buffer, error)
	// ToImage renders a 3-channel color buffer to an opaque image.
	ToImage(b Buffer) (*image.NRGBA, error)

	// LUT maps every channel value through table.
	LUT(src Buffer, table *[256]uint8) (Buffer, error)
	// LinearTransform computes in*alpha + beta per channel.
	LinearTransform(src Buffer, alpha, beta float64) (Buffer, error)
	ConvertColor(src Buffer, code ColorConversion) (Buffer, error)
	Split(src Buffer) ([]Buffer, error)
	Merge(channels []Buffer) (Buffer, error)
	Filter2D(src Buffer, k Kernel) (Buffer, error)
	// WarpPerspective maps quad (TL, TR, BR, BL in source pixels) onto a
	// size.X x size.Y buffer. Samples outside the source are zero.
	WarpPerspective(src Buffer, quad [4]geometry.Point, size image.Point) (Buffer, error)
}
