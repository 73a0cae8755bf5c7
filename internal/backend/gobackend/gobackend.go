// Package gobackend is a pure Go pixel backend. Buffers are float32 planes
// allocated outside any pool and accounted for explicitly, so leaks show up in
// Live the same way they would with a native library.
package gobackend

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/sourcegraph/conc/pool"

	"cropkit/internal/backend"
	"cropkit/internal/geometry"
)

var errForeignBuffer = errors.New("buffer does not belong to this backend")

type Backend struct {
	workers int
	live    atomic.Int64
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{workers: runtime.NumCPU()}
}

func (b *Backend) Name() string { return "go" }
func (b *Backend) Ready() bool  { return true }

// Live is the number of buffers allocated and not yet released.
func (b *Backend) Live() int64 { return b.live.Load() }

type buffer struct {
	owner    *Backend
	w, h     int
	planes   [][]float32
	released atomic.Bool
}

func (b *Backend) alloc(w, h, channels int) *buffer {
	buf := &buffer{owner: b, w: w, h: h, planes: make([][]float32, channels)}
	for i := range buf.planes {
		buf.planes[i] = make([]float32, w*h)
	}
	b.live.Add(1)
	return buf
}

func (buf *buffer) Size() image.Point { return image.Pt(buf.w, buf.h) }
func (buf *buffer) Channels() int     { return len(buf.planes) }

func (buf *buffer) Release() error {
	if !buf.released.CompareAndSwap(false, true) {
		return backend.ErrReleased
	}
	buf.planes = nil
	buf.owner.live.Add(-1)
	return nil
}

func (b *Backend) get(src backend.Buffer) (*buffer, error) {
	buf, ok := src.(*buffer)
	if !ok || buf.owner != b {
		return nil, errForeignBuffer
	}
	if buf.released.Load() {
		return nil, backend.ErrReleased
	}
	return buf, nil
}

// rows runs fn over [0,h) split into row bands on a bounded pool.
func (b *Backend) rows(h int, fn func(y int)) {
	step := max(1, h/(b.workers*4))
	p := pool.New().WithMaxGoroutines(b.workers)
	for y0 := 0; y0 < h; y0 += step {
		y1 := min(y0+step, h)
		p.Go(func() {
			for y := y0; y < y1; y++ {
				fn(y)
			}
		})
	}
	p.Wait()
}

func clamp255(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return v
}

func (b *Backend) FromImage(img image.Image) (backend.Buffer, error) {
	src, ok := img.(*image.NRGBA)
	if !ok {
		src = imaging.Clone(img)
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := b.alloc(w, h, 3)
	r, g, bl := out.planes[0], out.planes[1], out.planes[2]
	b.rows(h, func(y int) {
		row := src.Pix[(y)*src.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			r[i] = float32(row[x*4])
			g[i] = float32(row[x*4+1])
			bl[i] = float32(row[x*4+2])
		}
	})
	return out, nil
}

func (b *Backend) ToImage(src backend.Buffer) (*image.NRGBA, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if len(buf.planes) != 3 {
		return nil, fmt.Errorf("to image: want 3 channels, got %d", len(buf.planes))
	}
	img := image.NewNRGBA(image.Rect(0, 0, buf.w, buf.h))
	b.rows(buf.h, func(y int) {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < buf.w; x++ {
			i := y*buf.w + x
			for c := 0; c < 3; c++ {
				row[x*4+c] = uint8(math.Round(float64(clamp255(buf.planes[c][i]))))
			}
			row[x*4+3] = 0xff
		}
	})
	return img, nil
}

// mapPlanes applies fn to every sample of every channel.
func (b *Backend) mapPlanes(src backend.Buffer, fn func(v float32) float32) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	out := b.alloc(buf.w, buf.h, len(buf.planes))
	b.rows(buf.h, func(y int) {
		lo, hi := y*buf.w, (y+1)*buf.w
		for c, plane := range buf.planes {
			dst := out.planes[c]
			for i := lo; i < hi; i++ {
				dst[i] = fn(plane[i])
			}
		}
	})
	return out, nil
}

func (b *Backend) LUT(src backend.Buffer, table *[256]uint8) (backend.Buffer, error) {
	return b.mapPlanes(src, func(v float32) float32 {
		return float32(table[int(math.Round(float64(clamp255(v))))])
	})
}

func (b *Backend) LinearTransform(src backend.Buffer, alpha, beta float64) (backend.Buffer, error) {
	a, c := float32(alpha), float32(beta)
	return b.mapPlanes(src, func(v float32) float32 {
		return clamp255(v*a + c)
	})
}

func (b *Backend) Split(src backend.Buffer) ([]backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	out := make([]backend.Buffer, len(buf.planes))
	for c, plane := range buf.planes {
		ch := b.alloc(buf.w, buf.h, 1)
		copy(ch.planes[0], plane)
		out[c] = ch
	}
	return out, nil
}

func (b *Backend) Merge(channels []backend.Buffer) (backend.Buffer, error) {
	if len(channels) == 0 {
		return nil, errors.New("merge: no channels")
	}
	bufs := make([]*buffer, len(channels))
	for i, ch := range channels {
		buf, err := b.get(ch)
		if err != nil {
			return nil, fmt.Errorf("merge channel %d: %w", i, err)
		}
		if len(buf.planes) != 1 {
			return nil, fmt.Errorf("merge channel %d: want 1 channel, got %d", i, len(buf.planes))
		}
		if i > 0 && (buf.w != bufs[0].w || buf.h != bufs[0].h) {
			return nil, fmt.Errorf("merge channel %d: size mismatch", i)
		}
		bufs[i] = buf
	}
	out := b.alloc(bufs[0].w, bufs[0].h, len(bufs))
	for c, buf := range bufs {
		copy(out.planes[c], buf.planes[0])
	}
	return out, nil
}

// Filter2D correlates every channel with k. Borders reflect without
// repeating the edge sample (gfedcb|abcdefgh|gfedcba).
func (b *Backend) Filter2D(src backend.Buffer, k backend.Kernel) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if k.Size <= 0 || k.Size%2 == 0 || len(k.Weights) != k.Size*k.Size {
		return nil, fmt.Errorf("filter2d: invalid %dx%d kernel with %d weights", k.Size, k.Size, len(k.Weights))
	}
	r := k.Size / 2
	weights := make([]float32, len(k.Weights))
	for i, w := range k.Weights {
		weights[i] = float32(w)
	}
	out := b.alloc(buf.w, buf.h, len(buf.planes))
	b.rows(buf.h, func(y int) {
		for c, plane := range buf.planes {
			dst := out.planes[c]
			for x := 0; x < buf.w; x++ {
				var sum float32
				for ky := -r; ky <= r; ky++ {
					sy := reflect101(y+ky, buf.h)
					for kx := -r; kx <= r; kx++ {
						wt := weights[(ky+r)*k.Size+kx+r]
						if wt == 0 {
							continue
						}
						sum += wt * plane[sy*buf.w+reflect101(x+kx, buf.w)]
					}
				}
				dst[y*buf.w+x] = clamp255(sum)
			}
		}
	})
	return out, nil
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// WarpPerspective samples the source bilinearly through the homography that
// maps the output rectangle onto quad. Output pixel (x, y) samples source
// position H(x, y), so integer positions are copied exactly.
func (b *Backend) WarpPerspective(src backend.Buffer, quad [4]geometry.Point, size image.Point) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("warp: invalid output size %v", size)
	}
	h, err := geometry.SolveHomography(geometry.RectCorners(float64(size.X), float64(size.Y)), quad)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	out := b.alloc(size.X, size.Y, len(buf.planes))
	b.rows(size.Y, func(y int) {
		for x := 0; x < size.X; x++ {
			p := h.Apply(geometry.Point{X: float64(x), Y: float64(y)})
			for c, plane := range buf.planes {
				out.planes[c][y*size.X+x] = clamp255(buf.bilinear(plane, p.X, p.Y))
			}
		}
	})
	return out, nil
}

// bilinear treats samples outside the buffer as zero.
func (buf *buffer) bilinear(plane []float32, sx, sy float64) float32 {
	// NaN fails every comparison and lands here too.
	if !(sx > -1 && sy > -1 && sx < float64(buf.w) && sy < float64(buf.h)) {
		return 0
	}
	x0, y0 := math.Floor(sx), math.Floor(sy)
	fx, fy := float32(sx-x0), float32(sy-y0)
	ix, iy := int(x0), int(y0)
	at := func(x, y int) float32 {
		if x < 0 || y < 0 || x >= buf.w || y >= buf.h {
			return 0
		}
		return plane[y*buf.w+x]
	}
	v := at(ix, iy) * (1 - fx) * (1 - fy)
	if fx != 0 {
		v += at(ix+1, iy) * fx * (1 - fy)
	}
	if fy != 0 {
		v += at(ix, iy+1) * (1 - fx) * fy
		if fx != 0 {
			v += at(ix+1, iy+1) * fx * fy
		}
	}
	return v
}
