package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"cropkit/internal/encode"
	"cropkit/internal/enhance"
	"cropkit/internal/geometry"
)

type Operations = []Operation

type Operation struct {
	Crop        *CropOperation
	Perspective *PerspectiveOperation
	Enhance     *EnhanceOperation
}

// unmarshal
func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "crop":
		var crop CropOperation
		if err := json.Unmarshal(data, &crop); err != nil {
			return fmt.Errorf("failed to unmarshal crop operation: %w", err)
		}
		o.Crop = &crop
	case "perspective":
		var persp PerspectiveOperation
		if err := json.Unmarshal(data, &persp); err != nil {
			return fmt.Errorf("failed to unmarshal perspective operation: %w", err)
		}
		o.Perspective = &persp
	case "enhance":
		var enh EnhanceOperation
		if err := json.Unmarshal(data, &enh); err != nil {
			return fmt.Errorf("failed to unmarshal enhance operation: %w", err)
		}
		o.Enhance = &enh
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Crop != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*CropOperation
		}{"crop", o.Crop})
	case o.Perspective != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*PerspectiveOperation
		}{"perspective", o.Perspective})
	case o.Enhance != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*EnhanceOperation
		}{"enhance", o.Enhance})
	}
	return nil, errors.New("empty operation")
}

type Crop struct {
	// X is the x-coordinate of the top-left corner of the crop rectangle, relative to the image width (0.0 to 1.0).
	X float64 `json:"x"`
	// Y is the y-coordinate of the top-left corner of the crop rectangle, relative to the image height (0.0 to 1.0).
	Y float64 `json:"y"`
	// Width is the width of the crop rectangle, relative to the image width (0.0 to 1.0).
	Width float64 `json:"w"`
	// Height is the height of the crop rectangle, relative to the image height (0.0 to 1.0).
	Height float64 `json:"h"`
}

func (c Crop) String() string {
	return fmt.Sprintf("crop(x=%.2f,y=%.2f,w=%.2f,h=%.2f)", c.X, c.Y, c.Width, c.Height)
}

func (c Crop) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid crop dimensions: %s", c)
	}
	if c.X < 0 || c.Y < 0 || c.X+c.Width > 1.0001 || c.Y+c.Height > 1.0001 {
		return fmt.Errorf("crop rectangle is outside image bounds: %s", c)
	}
	return nil
}

// Rect converts the relative crop into pixels of an image of the given size.
func (c Crop) Rect(size geometry.Size) geometry.Rect {
	return geometry.Rect{
		X:      c.X * size.W,
		Y:      c.Y * size.H,
		Width:  c.Width * size.W,
		Height: c.Height * size.H,
	}
}

// Corners are the four corners of a perspective crop, relative to the image
// size like Crop. Any winding is accepted.
type Corners [4]geometry.Point

func (c Corners) String() string {
	var sb strings.Builder
	sb.WriteString("corners(")
	for i, p := range c {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%.3f,%.3f", p.X, p.Y)
	}
	sb.WriteByte(')')
	return sb.String()
}

func (c Corners) Validate() error {
	for _, p := range c {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("corner outside image bounds: %s", c)
		}
	}
	return nil
}

func (c Corners) Quad(size geometry.Size) geometry.Quad {
	var q geometry.Quad
	for i, p := range c {
		q.Points[i] = geometry.Point{X: p.X * size.W, Y: p.Y * size.H}
	}
	return q
}

// Output controls the enhancement and encoding of an operation's result.
// Missing settings select the defaults; quality falls back to the settings.
type Output struct {
	Settings *enhance.Settings `json:"settings,omitempty"`
	Format   string            `json:"format,omitempty"`
	Quality  int               `json:"quality,omitempty"`
}

func (o Output) resolve() (enhance.Settings, encode.Options, error) {
	settings := enhance.DefaultSettings()
	if o.Settings != nil {
		settings = *o.Settings
	}
	if err := settings.Validate(); err != nil {
		return settings, encode.Options{}, err
	}
	format, err := encode.ParseFormat(o.Format)
	if err != nil {
		return settings, encode.Options{}, err
	}
	quality := settings.Quality
	if o.Quality != 0 {
		quality = o.Quality
	}
	return settings, encode.Options{Format: format, Quality: quality}, nil
}

func (o Output) String() string {
	settings, opts, _ := o.resolve()
	return fmt.Sprintf("%s:%d b=%.1f c=%.1f s=%.1f %s x%d", opts.Format, opts.Quality,
		settings.Brightness, settings.Contrast, settings.Saturation, settings.Mode, settings.AIScale)
}

type CropOperation struct {
	Filename string `json:"filename"`
	Crop     Crop   `json:"crop"`
	Output
}

type PerspectiveOperation struct {
	Filename string  `json:"filename"`
	Corners  Corners `json:"corners"`
	Output
}

type EnhanceOperation struct {
	Filename string `json:"filename"`
	Output
}

// Task is the work a Processor does for one operation.
type Task struct {
	Crop     *Crop
	Corners  *Corners
	Settings enhance.Settings
	Encode   encode.Options
}

type Processor interface {
	Process(ctx context.Context, r io.Reader, w io.Writer, task Task) (encode.Result, error)
}

type OperationExecutor struct {
	BaseDir   string
	OutputDir string
	Processor Processor
}

func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	for _, op := range ops {
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeOperation(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Interface("op", op).
					Msg("failed to execute operation")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) error {
	switch {
	case op.Crop != nil:
		if err := op.Crop.Crop.Validate(); err != nil {
			return err
		}
		return r.execute(ctx, "cropping", op.Crop.Filename, op.Crop.Crop.String(), op.Crop.Output, func(t *Task) {
			t.Crop = &op.Crop.Crop
		})
	case op.Perspective != nil:
		if err := op.Perspective.Corners.Validate(); err != nil {
			return err
		}
		return r.execute(ctx, "straightening", op.Perspective.Filename, op.Perspective.Corners.String(), op.Perspective.Output, func(t *Task) {
			t.Corners = &op.Perspective.Corners
		})
	case op.Enhance != nil:
		return r.execute(ctx, "enhancing", op.Enhance.Filename, "", op.Enhance.Output, nil)
	}
	return nil
}

func (r OperationExecutor) execute(ctx context.Context, verb, filename, region string, out Output, setup func(*Task)) error {
	log.Ctx(ctx).Info().Str("filename", filename).Msg(verb)
	settings, opts, err := out.resolve()
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	task := Task{Settings: settings, Encode: opts}
	if setup != nil {
		setup(&task)
	}

	sourcePath := filepath.Join(r.BaseDir, filename)
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", sourcePath, err)
	}
	defer f.Close()
	var b bytes.Buffer
	res, err := r.Processor.Process(ctx, f, &b, task)
	if err != nil {
		return fmt.Errorf("failed to process %s: %w", filename, err)
	}

	newName := outputName(filename, region+"|"+out.String(), res.Format)
	outPath := filepath.Join(r.OutputDir, newName)
	wf, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", newName, err)
	}
	defer wf.Close()
	if _, err := b.WriteTo(wf); err != nil {
		return fmt.Errorf("failed to write output to file %s: %w", newName, err)
	}
	log.Ctx(ctx).Debug().
		Str("output", outPath).
		Int("width", res.Width).
		Int("height", res.Height).
		Int("bytes", res.Size).
		Msg("saved")
	return nil
}

// outputName derives a stable name from the source and everything that
// shapes the result, so reruns overwrite instead of piling up.
func outputName(filename, params string, f encode.Format) string {
	sum := md5.Sum([]byte(filename + "|" + params))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return fmt.Sprintf("%s-%x%s", base, sum[:8], f.Ext())
}

// readOperations parses one operation per line. Blank lines are skipped.
func readOperations(r io.Reader) (Operations, error) {
	var ops Operations
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var op Operation
		if err := json.Unmarshal(text, &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}
