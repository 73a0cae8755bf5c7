// Package cvbackend runs the pixel primitives on OpenCV through gocv.
//
// Color buffers are 8-bit BGR Mats; HSV buffers use OpenCV's 8-bit layout
// with hue in [0,180). Every buffer wraps a Mat that must be closed, which
// Release does.
package cvbackend

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"cropkit/internal/backend"
	"cropkit/internal/geometry"
)

var errForeignBuffer = errors.New("buffer does not belong to this backend")

type Backend struct {
	live atomic.Int64
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "opencv" }
func (b *Backend) Ready() bool  { return true }

// Live is the number of Mats handed out and not yet released.
func (b *Backend) Live() int64 { return b.live.Load() }

type buffer struct {
	owner    *Backend
	mat      gocv.Mat
	released atomic.Bool
}

func (b *Backend) wrap(m gocv.Mat) (*buffer, error) {
	if m.Empty() {
		_ = m.Close()
		return nil, errors.New("opencv returned an empty mat")
	}
	b.live.Add(1)
	return &buffer{owner: b, mat: m}, nil
}

func (buf *buffer) Size() image.Point { return image.Pt(buf.mat.Cols(), buf.mat.Rows()) }
func (buf *buffer) Channels() int     { return buf.mat.Channels() }

func (buf *buffer) Release() error {
	if !buf.released.CompareAndSwap(false, true) {
		return backend.ErrReleased
	}
	buf.owner.live.Add(-1)
	return buf.mat.Close()
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

func (b *Backend) FromImage(img image.Image) (backend.Buffer, error) {
	src, ok := img.(*image.NRGBA)
	if !ok || src.Stride != 4*src.Rect.Dx() {
		src = imaging.Clone(img)
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	rgba, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, src.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to create mat: %w", err)
	}
	defer rgba.Close()

	// CvtColor copies, so the result no longer aliases the Go pixel slice.
	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return b.wrap(bgr)
}

func (b *Backend) ToImage(src backend.Buffer) (*image.NRGBA, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if buf.mat.Channels() != 3 {
		return nil, fmt.Errorf("to image: want 3 channels, got %d", buf.mat.Channels())
	}
	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(buf.mat, &rgba, gocv.ColorBGRToRGBA)

	img := image.NewNRGBA(image.Rect(0, 0, rgba.Cols(), rgba.Rows()))
	copy(img.Pix, rgba.ToBytes())
	return img, nil
}

func (b *Backend) LUT(src backend.Buffer, table *[256]uint8) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	defer lut.Close()
	for i, v := range table {
		lut.SetUCharAt(0, i, v)
	}
	dst := gocv.NewMat()
	gocv.LUT(buf.mat, lut, &dst)
	return b.wrap(dst)
}

func (b *Backend) LinearTransform(src backend.Buffer, alpha, beta float64) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	// 8-bit output saturates to [0,255].
	buf.mat.ConvertToWithParams(&dst, buf.mat.Type(), float32(alpha), float32(beta))
	return b.wrap(dst)
}

func (b *Backend) ConvertColor(src backend.Buffer, code backend.ColorConversion) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	var cv gocv.ColorConversionCode
	switch code {
	case backend.RGBToHSV:
		cv = gocv.ColorBGRToHSV
	case backend.HSVToRGB:
		cv = gocv.ColorHSVToBGR
	default:
		return nil, fmt.Errorf("unsupported color conversion %d", code)
	}
	dst := gocv.NewMat()
	gocv.CvtColor(buf.mat, &dst, cv)
	return b.wrap(dst)
}

// Split returns channels in buffer order, which is B, G, R for color
// buffers and H, S, V for HSV buffers.
func (b *Backend) Split(src backend.Buffer) ([]backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	mats := gocv.Split(buf.mat)
	out := make([]backend.Buffer, 0, len(mats))
	for i, m := range mats {
		ch, err := b.wrap(m)
		if err != nil {
			for _, rest := range mats[i+1:] {
				_ = rest.Close()
			}
			return out, fmt.Errorf("split channel %d: %w", i, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func (b *Backend) Merge(channels []backend.Buffer) (backend.Buffer, error) {
	if len(channels) == 0 {
		return nil, errors.New("merge: no channels")
	}
	mats := make([]gocv.Mat, len(channels))
	for i, ch := range channels {
		buf, err := b.get(ch)
		if err != nil {
			return nil, fmt.Errorf("merge channel %d: %w", i, err)
		}
		mats[i] = buf.mat
	}
	dst := gocv.NewMat()
	gocv.Merge(mats, &dst)
	return b.wrap(dst)
}

func (b *Backend) Filter2D(src backend.Buffer, k backend.Kernel) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if k.Size <= 0 || k.Size%2 == 0 || len(k.Weights) != k.Size*k.Size {
		return nil, fmt.Errorf("filter2d: invalid %dx%d kernel with %d weights", k.Size, k.Size, len(k.Weights))
	}
	kernel := gocv.NewMatWithSize(k.Size, k.Size, gocv.MatTypeCV32F)
	defer kernel.Close()
	for i, w := range k.Weights {
		kernel.SetFloatAt(i/k.Size, i%k.Size, float32(w))
	}
	dst := gocv.NewMat()
	// ddepth -1 keeps the 8-bit depth and saturates.
	gocv.Filter2D(buf.mat, &dst, gocv.MatType(-1), kernel, image.Pt(-1, -1), 0, gocv.BorderReflect101)
	return b.wrap(dst)
}

func (b *Backend) WarpPerspective(src backend.Buffer, quad [4]geometry.Point, size image.Point) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("warp: invalid output size %v", size)
	}
	// getPerspectiveTransform does not report singular input, so the shared
	// solver screens the points first.
	target := geometry.RectCorners(float64(size.X), float64(size.Y))
	if _, err := geometry.SolveHomography(target, quad); err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}

	from := gocv.NewPoint2fVectorFromPoints(toPoint2f(quad))
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(toPoint2f(target))
	defer to.Close()
	m := gocv.GetPerspectiveTransform2f(from, to)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(buf.mat, &dst, m, size, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return b.wrap(dst)
}

func toPoint2f(pts [4]geometry.Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}
