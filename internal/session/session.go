// Package session owns the state of one editing session: the working
// buffers, the crop editor, enhancement settings and the preview handles.
//
// Gesture calls run synchronously under the session lock. Enhancement runs
// are debounced, snapshot their inputs, and process without holding the
// lock; a result computed for an older generation of the image is dropped.
package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"cropkit/internal/backend"
	"cropkit/internal/backend/gobackend"
	"cropkit/internal/encode"
	"cropkit/internal/enhance"
	"cropkit/internal/extract"
	"cropkit/internal/geometry"
	"cropkit/internal/superres"
	"cropkit/internal/viewport"
)

// Image is one named working buffer. Buffers are replaced, never modified.
type Image struct {
	Pixels     *image.NRGBA
	Source     string
	Generation uint64
}

func (i *Image) dims() *Dims {
	if i == nil {
		return nil
	}
	b := i.Pixels.Bounds()
	return &Dims{Width: b.Dx(), Height: b.Dy()}
}

type Options struct {
	Backend backend.Backend
	Models  superres.Factory
	// Debounce is the quiet period before settings changes run.
	Debounce time.Duration
	// MaxDimension bounds the long edge of uploads; 0 keeps them as is.
	MaxDimension        int
	PreviewMaxDimension int
	PreviewQuality      int
	Initial             enhance.InitialPass
	// Geometry radii are in screen pixels and converted on crop start.
	Geometry      geometry.Config
	QuadTarget    image.Point
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Models:              superres.NewLanczos,
		Debounce:            300 * time.Millisecond,
		MaxDimension:        800,
		PreviewMaxDimension: 800,
		PreviewQuality:      80,
		Initial:             enhance.DefaultInitialPass(),
		Geometry:            geometry.DefaultConfig(),
		QuadTarget:          extract.DefaultTarget,
		ReadyInterval:       enhance.DefaultPollInterval,
		ReadyTimeout:        enhance.DefaultReadyTimeout,
	}
}

type CropKind string

const (
	CropRect CropKind = "rect"
	CropQuad CropKind = "quad"
)

type Session struct {
	opts      Options
	log       *zerolog.Logger
	pipeline  *enhance.Pipeline
	extractor *extract.Extractor
	models    *superres.Holder
	runner    *Runner[enhance.Settings]
	previews  *Previews

	mu             sync.Mutex
	name           string
	size           int64
	generation     uint64
	raw            *Image
	preprocessed   *Image
	enhanced       *Image
	fullEnhanced   *Image
	initialPending bool
	settings       enhance.Settings
	viewport       viewport.Transform
	editor         *geometry.Editor
	previewID      string
	notReady       map[enhance.Mode]error
	lastErr        error
	runs           int
}

// New creates a session. ctx carries the logger and bounds the lifetime of
// enhancement runs.
func New(ctx context.Context, opts Options) *Session {
	if opts.Backend == nil {
		opts.Backend = gobackend.New()
	}
	if opts.Models == nil {
		opts.Models = superres.NewLanczos
	}
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	s := &Session{
		opts:      opts,
		log:       log.Ctx(ctx),
		pipeline:  enhance.NewPipeline(opts.Backend, opts.Initial),
		extractor: extract.New(opts.Backend, opts.QuadTarget),
		models:    superres.NewHolder(opts.Models),
		previews:  NewPreviews(),
		settings:  enhance.DefaultSettings(),
		notReady:  make(map[enhance.Mode]error),
	}
	s.runner = NewRunner(ctx, opts.Debounce, s.enhance)
	return s
}

// WaitReady blocks until the pixel backend is usable. On timeout the basic
// mode is marked not ready and an *enhance.InitializationError is returned.
func (s *Session) WaitReady(ctx context.Context) error {
	b := s.opts.Backend
	err := enhance.WaitReady(ctx, b.Name()+" backend", b.Ready, s.opts.ReadyInterval, s.opts.ReadyTimeout)
	if err != nil {
		s.markNotReady(enhance.ModeBasic, err)
		return err
	}
	log.Ctx(ctx).Debug().Str("backend", b.Name()).Msg("backend ready")
	return nil
}

func (s *Session) markNotReady(m enhance.Mode, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady[m] = err
	s.lastErr = err
	s.log.Error().Err(err).Str("mode", string(m)).Msg("mode disabled")
}

func (s *Session) modeErr(m enhance.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.notReady[m]; err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModeNotReady, m, err)
	}
	return nil
}

// Load decodes an upload and makes it the working image. Anything derived
// from the previous image is dropped.
func (s *Session) Load(ctx context.Context, name string, r io.Reader, size int64) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return &TransientOperationError{Op: "decode", Err: err}
	}
	var raw *image.NRGBA
	b := img.Bounds()
	if m := s.opts.MaxDimension; m > 0 && max(b.Dx(), b.Dy()) > m {
		raw = imaging.Fit(img, m, m, imaging.Lanczos)
	} else {
		raw = imaging.Clone(img)
	}
	canonical, err := reencode(raw)
	if err != nil {
		return &TransientOperationError{Op: "decode", Err: err}
	}

	s.runner.Cancel()
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.previews.RevokeAll()
	s.previewID = ""
	s.name, s.size = name, size
	s.raw = &Image{Pixels: raw, Source: name, Generation: gen}
	s.preprocessed = &Image{Pixels: canonical, Source: name, Generation: gen}
	s.enhanced, s.fullEnhanced = nil, nil
	s.initialPending = true
	s.editor = nil
	s.viewport = s.viewport.WithNatural(sizeOf(raw))
	s.lastErr = nil
	settings := s.settings
	s.mu.Unlock()

	log.Ctx(ctx).Info().
		Str("name", name).
		Int64("bytes", size).
		Int("width", raw.Rect.Dx()).
		Int("height", raw.Rect.Dy()).
		Uint64("generation", gen).
		Msg("image loaded")
	s.runner.Trigger(settings)
	return nil
}

// reencode round-trips img through PNG. The working copy then never shares
// memory or decoder quirks with the upload, and no pixel changes.
func reencode(img *image.NRGBA) (*image.NRGBA, error) {
	res, err := encode.Encode(img, encode.Options{Format: encode.PNG})
	if err != nil {
		return nil, err
	}
	out, err := imaging.Decode(bytes.NewReader(res.Data))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(out), nil
}

func sizeOf(img *image.NRGBA) geometry.Size {
	return geometry.Size{W: float64(img.Rect.Dx()), H: float64(img.Rect.Dy())}
}

// SetViewport applies a container resize and zoom. A non-positive scale
// keeps the current zoom.
func (s *Session) SetViewport(container geometry.Size, scale float64) viewport.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = s.viewport.Resize(container).WithScale(scale)
	return s.viewport
}

// UpdateSettings stores settings and schedules a debounced run.
func (s *Session) UpdateSettings(settings enhance.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.modeErr(settings.Mode); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	loaded := s.preprocessed != nil
	s.mu.Unlock()
	if loaded {
		s.runner.Trigger(settings)
	}
	return nil
}

func (s *Session) Settings() enhance.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// enhance is the debounced run. It never holds the lock while processing.
func (s *Session) enhance(ctx context.Context, settings enhance.Settings) {
	s.mu.Lock()
	src, gen, initial := s.preprocessed, s.generation, s.initialPending
	s.mu.Unlock()
	if src == nil {
		return
	}
	logger := s.log.With().
		Uint64("generation", gen).
		Str("mode", string(settings.Mode)).
		Logger()
	ctx = logger.WithContext(ctx)

	job, err := s.job(ctx, settings, initial)
	if err != nil {
		s.fail(gen, "enhance", err)
		return
	}
	start := time.Now()
	full, err := s.pipeline.Run(ctx, src.Pixels, job)
	if err != nil {
		s.fail(gen, "enhance", err)
		return
	}
	preview := full
	if m := s.opts.PreviewMaxDimension; m > 0 && max(full.Rect.Dx(), full.Rect.Dy()) > m {
		preview = imaging.Fit(full, m, m, imaging.Lanczos)
	}
	enc, err := encode.Encode(preview, encode.Options{Format: encode.JPEG, Quality: s.opts.PreviewQuality})
	if err != nil {
		s.fail(gen, "encode", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		logger.Debug().Uint64("current", s.generation).Msg("discarding stale enhancement")
		return
	}
	s.fullEnhanced = &Image{Pixels: full, Source: src.Source, Generation: gen}
	s.enhanced = &Image{Pixels: preview, Source: src.Source, Generation: gen}
	s.initialPending = false
	s.lastErr = nil
	old := s.previewID
	s.previewID = s.previews.Put(enc.Data, encode.JPEG.ContentType())
	s.previews.Revoke(old)
	s.runs++
	logger.Info().
		Bool("initial", job.Basic != nil && job.Basic.Initial).
		Dur("took", time.Since(start)).
		Int("preview_bytes", enc.Size).
		Msg("enhanced")
}

func (s *Session) job(ctx context.Context, settings enhance.Settings, initial bool) (enhance.Job, error) {
	if settings.Mode != enhance.ModeAI {
		if err := s.modeErr(enhance.ModeBasic); err != nil {
			return enhance.Job{}, err
		}
		return enhance.Job{Basic: &enhance.BasicJob{Settings: settings, Initial: initial}}, nil
	}
	if err := s.modeErr(enhance.ModeAI); err != nil {
		return enhance.Job{}, err
	}
	model, swapped, err := s.models.Get(settings.AIScale)
	if err != nil {
		ie := &enhance.InitializationError{Component: "super-resolution model", Err: err}
		s.markNotReady(enhance.ModeAI, ie)
		return enhance.Job{}, ie
	}
	if swapped {
		log.Ctx(ctx).Info().Int("scale", settings.AIScale).Msg("constructed super-resolution model")
	}
	if !model.Ready() {
		if err := enhance.WaitReady(ctx, "super-resolution model", model.Ready, s.opts.ReadyInterval, s.opts.ReadyTimeout); err != nil {
			s.markNotReady(enhance.ModeAI, err)
			return enhance.Job{}, err
		}
	}
	return enhance.Job{AI: &enhance.AIJob{Settings: settings, Model: model}}, nil
}

// fail records a failed operation for the generation it ran against.
// Results of earlier runs stay in place.
func (s *Session) fail(gen uint64, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.lastErr = &TransientOperationError{Op: op, Err: err}
	s.log.Warn().Err(err).Str("op", op).Uint64("generation", gen).Msg("operation failed")
}

// Flush runs a pending enhancement immediately and waits for it.
func (s *Session) Flush() { s.runner.Flush() }

// Download encodes the full-resolution result, or the working image when no
// enhancement finished yet.
func (s *Session) Download(ctx context.Context, opts encode.Options) (encode.Result, string, error) {
	s.runner.Flush()
	s.mu.Lock()
	src, name, gen := s.fullEnhanced, s.name, s.generation
	if src == nil {
		src = s.preprocessed
	}
	s.mu.Unlock()
	if src == nil {
		return encode.Result{}, "", ErrNoImage
	}
	res, err := encode.Encode(src.Pixels, opts)
	if err != nil {
		s.fail(gen, "encode", err)
		return encode.Result{}, "", &TransientOperationError{Op: "encode", Err: err}
	}
	log.Ctx(ctx).Info().
		Str("format", string(res.Format)).
		Int("bytes", res.Size).
		Msg("download ready")
	return res, encode.Filename(name, res.Format), nil
}

// EstimateSize reports the byte size Download would produce right now.
func (s *Session) EstimateSize(opts encode.Options) (int, error) {
	s.mu.Lock()
	src := s.fullEnhanced
	if src == nil {
		src = s.preprocessed
	}
	s.mu.Unlock()
	if src == nil {
		return 0, ErrNoImage
	}
	n, err := encode.EstimateSize(src.Pixels, opts)
	if err != nil {
		return 0, &TransientOperationError{Op: "encode", Err: err}
	}
	return n, nil
}

func (s *Session) Preview(id string) (Preview, bool) {
	return s.previews.Get(id)
}

// Reset drops the working image and everything derived from it.
func (s *Session) Reset() {
	s.runner.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.name, s.size = "", 0
	s.raw, s.preprocessed, s.enhanced, s.fullEnhanced = nil, nil, nil, nil
	s.initialPending = false
	s.editor = nil
	s.previews.RevokeAll()
	s.previewID = ""
	s.lastErr = nil
	s.log.Debug().Uint64("generation", s.generation).Msg("session reset")
}

// Close stops pending work and releases the model.
func (s *Session) Close() error {
	s.runner.Close()
	s.previews.RevokeAll()
	if err := s.models.Close(); err != nil {
		return fmt.Errorf("failed to close model: %w", err)
	}
	return nil
}
