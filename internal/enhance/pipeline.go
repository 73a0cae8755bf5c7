// Package enhance runs the color enhancement chain over images.
//
// A run converts the input into backend buffers, applies the stages and
// renders the result; every intermediate buffer is released before Run
// returns, whether it succeeds or not.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog/log"

	"cropkit/internal/backend"
	"cropkit/internal/superres"
)

// Job selects the mode of a run. Exactly one field is set.
type Job struct {
	Basic *BasicJob
	AI    *AIJob
}

type BasicJob struct {
	Settings Settings
	// Initial marks the first run after a load or crop commit.
	Initial bool
}

type AIJob struct {
	Settings Settings
	Model    superres.Model
}

type Pipeline struct {
	backend backend.Backend
	initial InitialPass
}

func NewPipeline(b backend.Backend, initial InitialPass) *Pipeline {
	return &Pipeline{backend: b, initial: initial}
}

func (p *Pipeline) Backend() backend.Backend { return p.backend }

func (p *Pipeline) Run(ctx context.Context, img image.Image, job Job) (*image.NRGBA, error) {
	switch {
	case job.Basic != nil:
		return p.runBasic(ctx, img, *job.Basic)
	case job.AI != nil:
		return p.runAI(ctx, img, *job.AI)
	}
	return nil, errors.New("enhance: empty job")
}

func (p *Pipeline) runBasic(ctx context.Context, img image.Image, job BasicJob) (*image.NRGBA, error) {
	scope := backend.NewScope(ctx, p.backend)
	defer scope.Close()

	cur, err := scope.Track(p.backend.FromImage(img))
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	contrast, offset, saturation := job.Settings.factors()
	initial := job.Initial && p.initial.Enabled
	if initial {
		table := gammaTable(p.initial.Gamma)
		if cur, err = scope.Track(p.backend.LUT(cur, &table)); err != nil {
			return nil, fmt.Errorf("gamma: %w", err)
		}
		contrast, offset, saturation = p.initial.Contrast, p.initial.Brightness, p.initial.Saturation
	}

	if cur, err = p.adjust(scope, cur, contrast, offset, saturation); err != nil {
		return nil, err
	}

	if initial {
		if cur, err = scope.Track(p.backend.Filter2D(cur, backend.Sharpen(p.initial.SharpenCenter))); err != nil {
			return nil, fmt.Errorf("sharpen: %w", err)
		}
	}

	log.Ctx(ctx).Debug().
		Bool("initial", initial).
		Float64("contrast", contrast).
		Float64("offset", offset).
		Float64("saturation", saturation).
		Int("buffers", scope.Len()).
		Msg("basic enhancement")
	return p.backend.ToImage(cur)
}

func (p *Pipeline) runAI(ctx context.Context, img image.Image, job AIJob) (*image.NRGBA, error) {
	if job.Model == nil || !job.Model.Ready() {
		return nil, errors.New("super-resolution model is not ready")
	}
	up, err := job.Model.Upscale(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("upscale x%d: %w", job.Model.Scale(), err)
	}

	scope := backend.NewScope(ctx, p.backend)
	defer scope.Close()

	cur, err := scope.Track(p.backend.FromImage(up))
	if err != nil {
		return nil, fmt.Errorf("failed to load upscaled image: %w", err)
	}
	contrast, offset, saturation := job.Settings.factors()
	if cur, err = p.adjust(scope, cur, contrast, offset, saturation); err != nil {
		return nil, err
	}
	return p.backend.ToImage(cur)
}

// adjust applies contrast/brightness and then saturation. Stages that would
// not change the image are skipped, so neutral settings return cur itself.
func (p *Pipeline) adjust(scope *backend.Scope, cur backend.Buffer, contrast, offset, saturation float64) (backend.Buffer, error) {
	var err error
	if contrast != 1 || offset != 0 {
		// (in-128)*c + 128 + off
		if cur, err = scope.Track(p.backend.LinearTransform(cur, contrast, 128*(1-contrast)+offset)); err != nil {
			return nil, fmt.Errorf("contrast: %w", err)
		}
	}
	if saturation == 1 {
		return cur, nil
	}

	hsv, err := scope.Track(p.backend.ConvertColor(cur, backend.RGBToHSV))
	if err != nil {
		return nil, fmt.Errorf("saturation: %w", err)
	}
	ch, err := scope.TrackAll(p.backend.Split(hsv))
	if err != nil {
		return nil, fmt.Errorf("saturation: %w", err)
	}
	if len(ch) != 3 {
		return nil, fmt.Errorf("saturation: split returned %d channels", len(ch))
	}
	s, err := scope.Track(p.backend.LinearTransform(ch[1], saturation, 0))
	if err != nil {
		return nil, fmt.Errorf("saturation: %w", err)
	}
	merged, err := scope.Track(p.backend.Merge([]backend.Buffer{ch[0], s, ch[2]}))
	if err != nil {
		return nil, fmt.Errorf("saturation: %w", err)
	}
	if cur, err = scope.Track(p.backend.ConvertColor(merged, backend.HSVToRGB)); err != nil {
		return nil, fmt.Errorf("saturation: %w", err)
	}
	return cur, nil
}

// gammaTable maps in to 255*(in/255)^(1/gamma).
func gammaTable(gamma float64) [256]uint8 {
	var t [256]uint8
	if gamma <= 0 {
		gamma = 1
	}
	for i := range t {
		v := 255 * math.Pow(float64(i)/255, 1/gamma)
		t[i] = uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
	return t
}
