package gobackend

import (
	"fmt"
	"math"

	"cropkit/internal/backend"
)

// ConvertColor converts between RGB and HSV. Hue is kept in degrees
// [0,360); saturation and value use [0,255].
func (b *Backend) ConvertColor(src backend.Buffer, code backend.ColorConversion) (backend.Buffer, error) {
	buf, err := b.get(src)
	if err != nil {
		return nil, err
	}
	if len(buf.planes) != 3 {
		return nil, fmt.Errorf("convert %s: want 3 channels, got %d", code, len(buf.planes))
	}
	var conv func(a, b, c float32) (float32, float32, float32)
	switch code {
	case backend.RGBToHSV:
		conv = rgbToHSV
	case backend.HSVToRGB:
		conv = hsvToRGB
	default:
		return nil, fmt.Errorf("unsupported color conversion %d", code)
	}
	out := b.alloc(buf.w, buf.h, 3)
	b.rows(buf.h, func(y int) {
		for i := y * buf.w; i < (y+1)*buf.w; i++ {
			out.planes[0][i], out.planes[1][i], out.planes[2][i] =
				conv(buf.planes[0][i], buf.planes[1][i], buf.planes[2][i])
		}
	})
	return out, nil
}

func rgbToHSV(r, g, b float32) (h, s, v float32) {
	r, g, b = clamp255(r), clamp255(g), clamp255(b)
	hi := max(r, g, b)
	lo := min(r, g, b)
	v = hi
	d := hi - lo
	if hi == 0 || d == 0 {
		return 0, 0, v
	}
	s = d / hi * 255
	switch hi {
	case r:
		h = 60 * (g - b) / d
	case g:
		h = 60*(b-r)/d + 120
	default:
		h = 60*(r-g)/d + 240
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func hsvToRGB(h, s, v float32) (r, g, b float32) {
	s, v = clamp255(s)/255, clamp255(v)
	if s == 0 {
		return v, v, v
	}
	h = float32(math.Mod(float64(h), 360))
	if h < 0 {
		h += 360
	}
	sector := h / 60
	i := int(sector) % 6
	f := sector - float32(int(sector))
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch i {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
