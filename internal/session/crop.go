package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"cropkit/internal/geometry"
)

// StartCrop opens a crop editor over the working image. aspect applies to
// rect crops; 0 leaves the rect unlocked.
func (s *Session) StartCrop(kind CropKind, aspect float64) (geometry.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preprocessed == nil {
		return geometry.Region{}, ErrNoImage
	}
	cfg := s.opts.Geometry
	cfg.HandleRadius = s.viewport.ToImageDistance(cfg.HandleRadius)
	cfg.RotateHandleOffset = s.viewport.ToImageDistance(cfg.RotateHandleOffset)
	bounds := sizeOf(s.preprocessed.Pixels)

	switch kind {
	case CropRect:
		if aspect < 0 {
			return geometry.Region{}, fmt.Errorf("invalid aspect ratio %v", aspect)
		}
		s.editor = geometry.NewRectEditor(bounds, aspect, cfg)
	case CropQuad:
		s.editor = geometry.NewQuadEditor(bounds, cfg)
	default:
		return geometry.Region{}, fmt.Errorf("unknown crop kind %q", kind)
	}
	s.log.Debug().Str("kind", string(kind)).Stringer("region", s.editor.Region()).Msg("crop started")
	return s.editor.Region(), nil
}

// PointerDown starts a gesture at a screen position. Hit radii are taken in
// screen pixels at the current zoom.
func (s *Session) PointerDown(screen geometry.Point) (geometry.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Idle, ErrNoCrop
	}
	cfg := s.opts.Geometry
	s.editor.SetHitRadii(s.viewport.ToImageDistance(cfg.HandleRadius), s.viewport.ToImageDistance(cfg.RotateHandleOffset))
	return s.editor.PointerDown(s.viewport.ToImage(screen)), nil
}

func (s *Session) PointerMove(screen geometry.Point) (geometry.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Region{}, ErrNoCrop
	}
	return s.editor.PointerMove(s.viewport.ToImage(screen)), nil
}

func (s *Session) PointerUp() (geometry.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Region{}, ErrNoCrop
	}
	s.editor.PointerUp()
	return s.editor.Region(), nil
}

func (s *Session) PointerCancel() (geometry.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Region{}, ErrNoCrop
	}
	s.editor.Cancel()
	return s.editor.Region(), nil
}

// SetCropSize applies numeric edits. Zero width or height leaves that side
// alone; a nil aspect keeps the current lock.
func (s *Session) SetCropSize(width, height float64, aspect *float64) (geometry.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Region{}, ErrNoCrop
	}
	if aspect != nil {
		if *aspect < 0 {
			return s.editor.Region(), fmt.Errorf("invalid aspect ratio %v", *aspect)
		}
		s.editor.SetAspectRatio(*aspect)
	}
	if width > 0 {
		s.editor.SetWidth(width)
	}
	if height > 0 {
		s.editor.SetHeight(height)
	}
	return s.editor.Region(), nil
}

// CommitCrop extracts the current region and makes it the working image.
// A pending enhancement is dropped and the initial pass runs again on the
// cropped image.
func (s *Session) CommitCrop(ctx context.Context) (geometry.Region, error) {
	s.mu.Lock()
	if s.editor == nil {
		s.mu.Unlock()
		return geometry.Region{}, ErrNoCrop
	}
	s.editor.PointerUp()
	region := s.editor.Region()
	src, gen := s.preprocessed, s.generation
	s.mu.Unlock()

	s.runner.Cancel()
	out, err := s.extractor.Extract(ctx, src.Pixels, region, 1)
	if err != nil {
		s.fail(gen, "crop", err)
		return region, &TransientOperationError{Op: "crop", Err: err}
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return region, &TransientOperationError{Op: "crop", Err: errors.New("image changed during crop")}
	}
	s.generation++
	gen = s.generation
	s.preprocessed = &Image{Pixels: out, Source: src.Source, Generation: gen}
	s.enhanced, s.fullEnhanced = nil, nil
	s.previews.Revoke(s.previewID)
	s.previewID = ""
	s.initialPending = true
	s.editor = nil
	s.viewport = s.viewport.WithNatural(sizeOf(out))
	s.lastErr = nil
	settings := s.settings
	s.mu.Unlock()

	log.Ctx(ctx).Info().
		Stringer("region", region).
		Int("width", out.Rect.Dx()).
		Int("height", out.Rect.Dy()).
		Uint64("generation", gen).
		Msg("crop committed")
	s.runner.Trigger(settings)
	return region, nil
}

// CancelCrop discards the editor; the working image is unchanged.
func (s *Session) CancelCrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor = nil
}
