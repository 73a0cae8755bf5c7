package enhance

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
	"time"

	"cropkit/internal/backend"
	"cropkit/internal/backend/gobackend"
	"cropkit/internal/superres"
)

func noise(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func flat(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestIdentityAtNeutralSettings(t *testing.T) {
	b := gobackend.New()
	p := NewPipeline(b, DefaultInitialPass())
	src := noise(37, 23, 1)
	out, err := p.Run(context.Background(), src, Job{Basic: &BasicJob{Settings: DefaultSettings()}})
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatalf("byte %d = %d, want %d", i, out.Pix[i], src.Pix[i])
		}
	}
	if b.Live() != 0 {
		t.Errorf("%d buffers leaked", b.Live())
	}
}

func TestDisabledInitialPassIsIdentity(t *testing.T) {
	b := gobackend.New()
	policy := DefaultInitialPass()
	policy.Enabled = false
	p := NewPipeline(b, policy)
	src := noise(9, 9, 2)
	out, err := p.Run(context.Background(), src, Job{Basic: &BasicJob{Settings: DefaultSettings(), Initial: true}})
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatalf("byte %d changed with the initial pass disabled", i)
		}
	}
}

func TestInitialPassOnGray(t *testing.T) {
	b := gobackend.New()
	policy := DefaultInitialPass()
	p := NewPipeline(b, policy)
	// gray has no saturation and the sharpen kernel sums to one, so only
	// gamma and contrast/brightness show on a flat image
	src := flat(8, 8, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	settings := DefaultSettings()
	settings.Contrast = 10 // ignored on the initial pass
	out, err := p.Run(context.Background(), src, Job{Basic: &BasicJob{Settings: settings, Initial: true}})
	if err != nil {
		t.Fatal(err)
	}
	g := math.Round(255 * math.Pow(100.0/255, 1/policy.Gamma))
	want := (g-128)*policy.Contrast + 128 + policy.Brightness
	for _, c := range []uint8{out.Pix[0], out.Pix[1], out.Pix[2]} {
		if math.Abs(float64(c)-want) > 1 {
			t.Fatalf("channel = %d, want %.1f", c, want)
		}
	}
	if b.Live() != 0 {
		t.Errorf("%d buffers leaked", b.Live())
	}
}

func TestContrastBrightnessClamp(t *testing.T) {
	p := NewPipeline(gobackend.New(), DefaultInitialPass())
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 5, G: 5, B: 5, A: 255})

	tests := []struct {
		name       string
		brightness float64
		contrast   float64
		want       [2]uint8
	}{
		{"max", 200, 200, [2]uint8{255, 0}},
		{"dark", 0, 100, [2]uint8{200, 0}},
		{"flat", 100, 0, [2]uint8{128, 128}},
		{"bright", 200, 100, [2]uint8{255, 55}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.Brightness, s.Contrast = tt.brightness, tt.contrast
			out, err := p.Run(context.Background(), src, Job{Basic: &BasicJob{Settings: s}})
			if err != nil {
				t.Fatal(err)
			}
			if got := [2]uint8{out.Pix[0], out.Pix[4]}; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZeroSaturationIsGray(t *testing.T) {
	p := NewPipeline(gobackend.New(), DefaultInitialPass())
	s := DefaultSettings()
	s.Saturation = 0
	out, err := p.Run(context.Background(), noise(16, 16, 3), Job{Basic: &BasicJob{Settings: s}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(out.Pix); i += 4 {
		r, g, b := out.Pix[i], out.Pix[i+1], out.Pix[i+2]
		if r != g || g != b {
			t.Fatalf("pixel %d not gray: %d %d %d", i/4, r, g, b)
		}
	}
}

// failingBackend breaks the HSV conversion after the earlier stages have
// allocated buffers.
type failingBackend struct {
	*gobackend.Backend
}

var errBroken = errors.New("backend broke")

func (f failingBackend) ConvertColor(backend.Buffer, backend.ColorConversion) (backend.Buffer, error) {
	return nil, errBroken
}

func TestBuffersReleasedOnError(t *testing.T) {
	b := gobackend.New()
	p := NewPipeline(failingBackend{b}, DefaultInitialPass())
	_, err := p.Run(context.Background(), noise(10, 10, 4), Job{Basic: &BasicJob{Settings: DefaultSettings(), Initial: true}})
	if !errors.Is(err, errBroken) {
		t.Fatalf("err = %v", err)
	}
	if b.Live() != 0 {
		t.Errorf("%d buffers leaked on the error path", b.Live())
	}
}

func TestAIMode(t *testing.T) {
	b := gobackend.New()
	p := NewPipeline(b, DefaultInitialPass())
	m, _ := superres.NewLanczos(2)
	s := DefaultSettings()
	s.Mode, s.Saturation = ModeAI, 150
	out, err := p.Run(context.Background(), noise(12, 7, 5), Job{AI: &AIJob{Settings: s, Model: m}})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Bounds().Size(); got != image.Pt(24, 14) {
		t.Errorf("size = %v", got)
	}
	if b.Live() != 0 {
		t.Errorf("%d buffers leaked", b.Live())
	}
	if _, err := p.Run(context.Background(), noise(2, 2, 6), Job{AI: &AIJob{Settings: s}}); err == nil {
		t.Error("AI job without a model accepted")
	}
	if _, err := p.Run(context.Background(), noise(2, 2, 6), Job{}); err == nil {
		t.Error("empty job accepted")
	}
}

func TestGammaTable(t *testing.T) {
	tbl := gammaTable(1.2)
	if tbl[0] != 0 || tbl[255] != 255 {
		t.Errorf("endpoints %d %d", tbl[0], tbl[255])
	}
	for i := 1; i < 255; i++ {
		if tbl[i] < tbl[i-1] || tbl[i] < uint8(i) {
			t.Fatalf("table not monotone brightening at %d", i)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []func(*Settings){
		func(s *Settings) { s.Brightness = 201 },
		func(s *Settings) { s.Contrast = -1 },
		func(s *Settings) { s.Saturation = math.NaN() },
		func(s *Settings) { s.Quality = 0 },
		func(s *Settings) { s.Mode = "magic" },
		func(s *Settings) { s.AIScale = 5 },
	}
	for i, mutate := range bad {
		s := DefaultSettings()
		mutate(&s)
		if err := s.Validate(); !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}

func TestWaitReady(t *testing.T) {
	calls := 0
	err := WaitReady(context.Background(), "backend", func() bool {
		calls++
		return calls >= 3
	}, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	err = WaitReady(context.Background(), "model", func() bool { return false }, time.Millisecond, 20*time.Millisecond)
	var ie *InitializationError
	if !errors.As(err, &ie) || ie.Component != "model" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err does not wrap the deadline: %v", err)
	}
}
