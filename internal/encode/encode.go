// Package encode turns pipeline output into downloadable bytes.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

type Format string

const (
	JPEG Format = "jpeg"
	WebP Format = "webp"
	PNG  Format = "png"
)

// ParseFormat accepts format names and common extensions. An empty string
// selects JPEG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "jpeg", "jpg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	case "png":
		return PNG, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

func (f Format) Ext() string {
	if f == JPEG {
		return ".jpg"
	}
	return "." + string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

type Options struct {
	Format Format
	// Quality is 1-100; PNG ignores it.
	Quality int
}

type Result struct {
	Data   []byte
	Size   int
	Format Format
	Width  int
	Height int
}

func Encode(img image.Image, opts Options) (Result, error) {
	q := min(max(opts.Quality, 1), 100)
	var buf bytes.Buffer
	var err error
	switch opts.Format {
	case JPEG, "":
		opts.Format = JPEG
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q))
	case WebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(q)})
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		return Result{}, fmt.Errorf("unsupported output format %q", opts.Format)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode %s: %w", opts.Format, err)
	}
	b := img.Bounds()
	return Result{
		Data:   buf.Bytes(),
		Size:   buf.Len(),
		Format: opts.Format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// EstimateSize is the byte size Encode would produce.
func EstimateSize(img image.Image, opts Options) (int, error) {
	r, err := Encode(img, opts)
	if err != nil {
		return 0, err
	}
	return r.Size, nil
}

// Filename suggests a download name derived from the uploaded file name.
func Filename(base string, f Format) string {
	name := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "image"
	}
	return name + "_enhanced" + f.Ext()
}
