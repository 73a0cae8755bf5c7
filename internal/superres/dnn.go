package superres

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// DNN runs an ONNX super-resolution network through OpenCV. The network
// takes an NCHW RGB tensor in [0,1] and returns one scaled by Scale.
type DNN struct {
	mu    sync.Mutex
	scale int
	path  string
	net   gocv.Net
	ready bool
}

// NewDNNFactory loads x{scale}.onnx from dir.
func NewDNNFactory(dir string) Factory {
	return func(scale int) (Model, error) {
		m, err := LoadDNN(filepath.Join(dir, fmt.Sprintf("x%d.onnx", scale)), scale)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func LoadDNN(path string, scale int) (*DNN, error) {
	if !ValidScale(scale) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScale, scale)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}
	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to read network %s", path)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err == nil {
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err == nil {
			log.Debug().Str("model", path).Msg("super-resolution on CUDA")
			return &DNN{scale: scale, path: path, net: net, ready: true}, nil
		}
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	log.Debug().Str("model", path).Msg("super-resolution on CPU")
	return &DNN{scale: scale, path: path, net: net, ready: true}, nil
}

func (d *DNN) Scale() int { return d.scale }

func (d *DNN) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil
	}
	d.ready = false
	return d.net.Close()
}

func (d *DNN) Upscale(ctx context.Context, img image.Image) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, fmt.Errorf("model %s is closed", d.path)
	}

	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	rgba, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, src.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to create mat: %w", err)
	}
	defer rgba.Close()
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	blob := gocv.BlobFromImage(bgr, 1.0/255.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 4 || dims[0] != 1 || dims[1] != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	oh, ow := dims[2], dims[3]
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	if len(data) < 3*oh*ow {
		return nil, fmt.Errorf("output has %d values, want %d", len(data), 3*oh*ow)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, ow, oh))
	plane := oh * ow
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			i := y*ow + x
			p := dst.Pix[y*dst.Stride+x*4:]
			p[0] = unit8(data[i])
			p[1] = unit8(data[plane+i])
			p[2] = unit8(data[2*plane+i])
			p[3] = 0xff
		}
	}
	log.Ctx(ctx).Debug().
		Int("scale", d.scale).
		Int("width", ow).
		Int("height", oh).
		Msg("upscaled")
	return dst, nil
}

// unit8 maps [0,1] to a clamped byte.
func unit8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
