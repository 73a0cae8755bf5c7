// Package extract rasterizes a committed crop region into a new image.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"cropkit/internal/backend"
	"cropkit/internal/geometry"
)

// A4 portrait at 72 dpi.
var DefaultTarget = image.Pt(595, 842)

// DegenerateCropError reports a crop that would produce an empty image.
type DegenerateCropError struct {
	Reason string
}

func (e *DegenerateCropError) Error() string {
	return "degenerate crop: " + e.Reason
}

type Extractor struct {
	backend backend.Backend
	target  image.Point
}

// New returns an extractor warping quads onto target. A zero target selects
// DefaultTarget.
func New(b backend.Backend, target image.Point) *Extractor {
	if target.X <= 0 || target.Y <= 0 {
		target = DefaultTarget
	}
	return &Extractor{backend: b, target: target}
}

func (e *Extractor) Target() image.Point { return e.target }

// Extract dispatches on the region kind. ratio scales rect coordinates from
// displayed to natural pixels; quads are always in natural pixels.
func (e *Extractor) Extract(ctx context.Context, src *image.NRGBA, region geometry.Region, ratio float64) (*image.NRGBA, error) {
	switch {
	case region.Rect != nil:
		return e.ExtractRect(ctx, src, *region.Rect, ratio)
	case region.Quad != nil:
		return e.ExtractQuad(ctx, src, *region.Quad)
	}
	return nil, errors.New("extract: empty region")
}

// ExtractRect copies the rectangle into an image of exactly
// (round(r.Width), round(r.Height)).
func (e *Extractor) ExtractRect(ctx context.Context, src *image.NRGBA, r geometry.Rect, ratio float64) (*image.NRGBA, error) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = 1
	}
	w, h := int(math.Round(r.Width)), int(math.Round(r.Height))
	if w < 1 || h < 1 {
		return nil, &DegenerateCropError{Reason: fmt.Sprintf("rect %s rounds to %dx%d", r, w, h)}
	}
	b := src.Bounds()

	if ratio == 1 {
		at := image.Pt(int(math.Round(r.X)), int(math.Round(r.Y))).Add(b.Min)
		crop := imaging.Crop(src, image.Rectangle{Min: at, Max: at.Add(image.Pt(w, h))})
		if crop.Bounds().Dx() == w && crop.Bounds().Dy() == h {
			return crop, nil
		}
		// Rounding pushed the rect past the edge: pad to the exact size.
		return imaging.Paste(imaging.New(w, h, color.NRGBA{}), crop, image.Point{}), nil
	}

	sr := image.Rect(
		int(math.Round(r.X*ratio)), int(math.Round(r.Y*ratio)),
		int(math.Round((r.X+r.Width)*ratio)), int(math.Round((r.Y+r.Height)*ratio)),
	).Add(b.Min).Intersect(b)
	if sr.Empty() {
		return nil, &DegenerateCropError{Reason: fmt.Sprintf("rect %s is outside the image", r)}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sr, draw.Src, nil)
	log.Ctx(ctx).Debug().
		Stringer("rect", r).
		Float64("ratio", ratio).
		Msg("resampled rect crop")
	return dst, nil
}

// ExtractQuad warps the quad onto the extractor target. Corners are ordered
// first, so any winding is accepted.
func (e *Extractor) ExtractQuad(ctx context.Context, src *image.NRGBA, q geometry.Quad) (*image.NRGBA, error) {
	ordered := geometry.Quad{Points: geometry.OrderCorners(q.Points)}
	if ordered.Degenerate() {
		return nil, &DegenerateCropError{Reason: fmt.Sprintf("quad %s has no area", ordered)}
	}

	scope := backend.NewScope(ctx, e.backend)
	defer scope.Close()

	buf, err := scope.Track(e.backend.FromImage(src))
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	warped, err := scope.Track(e.backend.WarpPerspective(buf, ordered.Points, e.target))
	if errors.Is(err, geometry.ErrDegenerate) {
		return nil, &DegenerateCropError{Reason: fmt.Sprintf("quad %s: %v", ordered, err)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to warp: %w", err)
	}
	out, err := e.backend.ToImage(warped)
	if err != nil {
		return nil, fmt.Errorf("failed to render warp: %w", err)
	}
	if blank(out) {
		return nil, &DegenerateCropError{Reason: "warp produced an empty image"}
	}
	return out, nil
}

// blank samples every tenth of the rows and columns and reports whether all
// sampled color channels are zero.
func blank(img *image.NRGBA) bool {
	b := img.Bounds()
	stepX, stepY := max(1, b.Dx()/10), max(1, b.Dy()/10)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			c := img.NRGBAAt(x, y)
			if c.R|c.G|c.B != 0 {
				return false
			}
		}
	}
	return true
}
