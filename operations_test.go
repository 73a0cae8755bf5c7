package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cropkit/internal/encode"
	"cropkit/internal/enhance"
)

func TestOperationUnmarshal(t *testing.T) {
	input := `
{"type":"crop","filename":"a.jpg","crop":{"x":0.1,"y":0.2,"w":0.5,"h":0.4}}

{"type":"perspective","filename":"b.png","corners":[{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.9,"y":0.9},{"x":0.1,"y":0.9}],"format":"png"}
{"type":"enhance","filename":"c.webp","settings":{"brightness":120,"contrast":100,"saturation":80,"quality":70,"mode":"basic","aiScale":2},"quality":50}
`
	ops, err := readOperations(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d operations, want 3", len(ops))
	}
	if c := ops[0].Crop; c == nil || c.Filename != "a.jpg" || c.Crop.Width != 0.5 {
		t.Fatalf("crop = %+v", ops[0].Crop)
	}
	if p := ops[1].Perspective; p == nil || p.Corners[2].X != 0.9 || p.Format != "png" {
		t.Fatalf("perspective = %+v", ops[1].Perspective)
	}
	e := ops[2].Enhance
	if e == nil || e.Settings == nil || e.Settings.Brightness != 120 || e.Quality != 50 {
		t.Fatalf("enhance = %+v", ops[2].Enhance)
	}

	data, err := json.Marshal(ops[2])
	if err != nil {
		t.Fatal(err)
	}
	var back Operation
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("re-read %s: %v", data, err)
	}
	if back.Enhance == nil || back.Enhance.Filename != "c.webp" {
		t.Fatalf("marshalled form lost the type: %s", data)
	}
}

func TestOperationUnmarshalErrors(t *testing.T) {
	for _, line := range []string{
		`{"type":"pick","filename":"a.jpg"}`,
		`{"type":"crop","crop":"nope"}`,
		`not json`,
	} {
		if _, err := readOperations(strings.NewReader(line)); err == nil {
			t.Errorf("%s: expected error", line)
		}
	}
}

func TestOutputResolve(t *testing.T) {
	settings, opts, err := Output{}.resolve()
	if err != nil {
		t.Fatal(err)
	}
	if settings != enhance.DefaultSettings() || opts.Format != encode.JPEG || opts.Quality != settings.Quality {
		t.Fatalf("defaults = %+v %+v", settings, opts)
	}

	bad := enhance.DefaultSettings()
	bad.Contrast = 500
	if _, _, err := (Output{Settings: &bad}).resolve(); !errors.Is(err, enhance.ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}
	if _, _, err := (Output{Format: "gif"}).resolve(); err == nil {
		t.Fatal("gif accepted")
	}
}

func TestCropValidate(t *testing.T) {
	tests := []struct {
		crop Crop
		ok   bool
	}{
		{Crop{X: 0, Y: 0, Width: 1, Height: 1}, true},
		{Crop{X: 0.5, Y: 0.5, Width: 0.5, Height: 0.5}, true},
		{Crop{X: 0.1, Y: 0.1, Width: 0, Height: 0.5}, false},
		{Crop{X: 0.6, Y: 0, Width: 0.5, Height: 0.5}, false},
		{Crop{X: -0.1, Y: 0, Width: 0.5, Height: 0.5}, false},
	}
	for _, tt := range tests {
		if err := tt.crop.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok=%v", tt.crop, err, tt.ok)
		}
	}
}

func TestOutputNameIsStable(t *testing.T) {
	a := outputName("dir/page.jpg", "crop|x", encode.WebP)
	if a != outputName("dir/page.jpg", "crop|x", encode.WebP) {
		t.Fatal("same input gave different names")
	}
	if a == outputName("dir/page.jpg", "crop|y", encode.WebP) {
		t.Fatal("different parameters share a name")
	}
	if !strings.HasPrefix(a, "page-") || filepath.Ext(a) != ".webp" {
		t.Fatalf("name = %q", a)
	}
}

type recordingProcessor struct {
	mu    sync.Mutex
	tasks []Task
	fail  string
}

func (p *recordingProcessor) Process(_ context.Context, r io.Reader, w io.Writer, task Task) (encode.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return encode.Result{}, err
	}
	if string(data) == p.fail {
		return encode.Result{}, errors.New("boom")
	}
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	_, err = w.Write(data)
	return encode.Result{Data: data, Size: len(data), Format: task.Encode.Format}, err
}

func TestOperationExecutor(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(base, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	proc := &recordingProcessor{}
	exec := OperationExecutor{BaseDir: base, OutputDir: out, Processor: proc}
	ops := Operations{
		{Crop: &CropOperation{Filename: "a.jpg", Crop: Crop{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.5}}},
		{Perspective: &PerspectiveOperation{Filename: "b.jpg", Output: Output{Format: "png"}}},
		{Enhance: &EnhanceOperation{Filename: "c.jpg", Output: Output{Format: "webp", Quality: 40}}},
	}
	if err := exec.Exec(context.Background(), ops); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("wrote %d files, want 3", len(entries))
	}
	exts := map[string]bool{}
	for _, e := range entries {
		exts[filepath.Ext(e.Name())] = true
	}
	for _, ext := range []string{".jpg", ".png", ".webp"} {
		if !exts[ext] {
			t.Errorf("no %s output among %v", ext, entries)
		}
	}

	var crops, quads int
	for _, task := range proc.tasks {
		if task.Crop != nil {
			crops++
		}
		if task.Corners != nil {
			quads++
		}
		if task.Encode.Format == encode.WebP && task.Encode.Quality != 40 {
			t.Errorf("webp quality = %d, want 40", task.Encode.Quality)
		}
	}
	if crops != 1 || quads != 1 {
		t.Fatalf("crops=%d quads=%d", crops, quads)
	}
}

func TestOperationExecutorErrors(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "bad.jpg"), []byte("bad"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := OperationExecutor{BaseDir: base, OutputDir: t.TempDir(), Processor: &recordingProcessor{fail: "bad"}}

	for name, op := range map[string]Operation{
		"processor":    {Enhance: &EnhanceOperation{Filename: "bad.jpg"}},
		"missing file": {Enhance: &EnhanceOperation{Filename: "nope.jpg"}},
		"bad crop":     {Crop: &CropOperation{Filename: "bad.jpg", Crop: Crop{Width: 2, Height: 1}}},
	} {
		if err := exec.Exec(context.Background(), Operations{op}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if err := exec.Exec(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}
