package enhance

import (
	"errors"
	"fmt"

	"cropkit/internal/superres"
)

type Mode string

const (
	ModeBasic Mode = "basic"
	ModeAI    Mode = "ai"
)

var ErrInvalidSettings = errors.New("invalid enhancement settings")

// Settings are the user-facing enhancement parameters. Brightness, Contrast
// and Saturation are percentages where 100 leaves the image unchanged.
type Settings struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	Quality    int     `json:"quality"`
	Mode       Mode    `json:"mode"`
	AIScale    int     `json:"aiScale"`
}

func DefaultSettings() Settings {
	return Settings{
		Brightness: 100,
		Contrast:   100,
		Saturation: 100,
		Quality:    90,
		Mode:       ModeBasic,
		AIScale:    2,
	}
}

func (s Settings) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"brightness", s.Brightness}, {"contrast", s.Contrast}, {"saturation", s.Saturation}} {
		if !(f.v >= 0 && f.v <= 200) {
			return fmt.Errorf("%w: %s %v outside [0,200]", ErrInvalidSettings, f.name, f.v)
		}
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("%w: quality %d outside [1,100]", ErrInvalidSettings, s.Quality)
	}
	switch s.Mode {
	case ModeBasic, ModeAI:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s.Mode)
	}
	if !superres.ValidScale(s.AIScale) {
		return fmt.Errorf("%w: ai scale %d outside [1,4]", ErrInvalidSettings, s.AIScale)
	}
	return nil
}

// factors converts the percentages into pipeline parameters.
func (s Settings) factors() (contrast, offset, saturation float64) {
	return s.Contrast / 100, (s.Brightness - 100) * 0.5, s.Saturation / 100
}

// InitialPass is the fixed look applied to the first enhancement of a freshly
// loaded or cropped image, overriding the sliders for that one run.
type InitialPass struct {
	Enabled       bool    `json:"enabled"`
	Gamma         float64 `json:"gamma"`
	Contrast      float64 `json:"contrast"`
	Brightness    float64 `json:"brightness"`
	Saturation    float64 `json:"saturation"`
	SharpenCenter float64 `json:"sharpenCenter"`
}

func DefaultInitialPass() InitialPass {
	return InitialPass{
		Enabled:       true,
		Gamma:         1.2,
		Contrast:      1.4,
		Brightness:    20,
		Saturation:    1.3,
		SharpenCenter: 2.5,
	}
}
