package main

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"cropkit/internal/backend"
	"cropkit/internal/encode"
	"cropkit/internal/enhance"
	"cropkit/internal/extract"
	"cropkit/internal/geometry"
	"cropkit/internal/superres"
)

// ImageProcessor is the Processor used by the batch commands. It runs the
// same extractor and pipeline as the interactive editor, on the full-size
// image.
type ImageProcessor struct {
	extractor *extract.Extractor
	pipeline  *enhance.Pipeline
	models    superres.Factory
	initial   bool
}

func NewImageProcessor(b backend.Backend, models superres.Factory, initial enhance.InitialPass, target image.Point) *ImageProcessor {
	return &ImageProcessor{
		extractor: extract.New(b, target),
		pipeline:  enhance.NewPipeline(b, initial),
		models:    models,
		initial:   initial.Enabled,
	}
}

// Process reads an image from r, crops it when the task asks for it, enhances
// it and writes the encoded result to w.
func (p *ImageProcessor) Process(ctx context.Context, r io.Reader, w io.Writer, task Task) (encode.Result, error) {
	decoded, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return encode.Result{}, fmt.Errorf("failed to decode image: %w", err)
	}
	src := imaging.Clone(decoded)
	size := geometry.Size{W: float64(src.Rect.Dx()), H: float64(src.Rect.Dy())}

	switch {
	case task.Crop != nil:
		src, err = p.extractor.ExtractRect(ctx, src, task.Crop.Rect(size), 1)
	case task.Corners != nil:
		src, err = p.extractor.ExtractQuad(ctx, src, task.Corners.Quad(size))
	}
	if err != nil {
		return encode.Result{}, err
	}

	out, err := p.enhance(ctx, src, task.Settings)
	if err != nil {
		return encode.Result{}, err
	}

	res, err := encode.Encode(out, task.Encode)
	if err != nil {
		return encode.Result{}, err
	}
	if _, err := w.Write(res.Data); err != nil {
		return encode.Result{}, fmt.Errorf("failed to write encoded image: %w", err)
	}
	return res, nil
}

func (p *ImageProcessor) enhance(ctx context.Context, src *image.NRGBA, settings enhance.Settings) (*image.NRGBA, error) {
	if settings.Mode != enhance.ModeAI {
		return p.pipeline.Run(ctx, src, enhance.Job{Basic: &enhance.BasicJob{Settings: settings, Initial: p.initial}})
	}

	// operations run concurrently, so each gets its own model
	model, err := p.models(settings.AIScale)
	if err != nil {
		return nil, fmt.Errorf("failed to construct x%d model: %w", settings.AIScale, err)
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int("scale", settings.AIScale).Msg("failed to close model")
		}
	}()
	return p.pipeline.Run(ctx, src, enhance.Job{AI: &enhance.AIJob{Settings: settings, Model: model}})
}
