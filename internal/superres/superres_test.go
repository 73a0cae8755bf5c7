package superres

import (
	"context"
	"errors"
	"image"
	"testing"
)

type fakeModel struct {
	scale  int
	closed bool
}

func (f *fakeModel) Scale() int  { return f.scale }
func (f *fakeModel) Ready() bool { return !f.closed }
func (f *fakeModel) Close() error {
	f.closed = true
	return nil
}
func (f *fakeModel) Upscale(context.Context, image.Image) (*image.NRGBA, error) {
	return nil, errors.New("not implemented")
}

func TestHolderSwapsOnScaleChange(t *testing.T) {
	var built []*fakeModel
	h := NewHolder(func(scale int) (Model, error) {
		m := &fakeModel{scale: scale}
		built = append(built, m)
		return m, nil
	})

	m2, swapped, err := h.Get(2)
	if err != nil || !swapped {
		t.Fatalf("first Get: swapped=%v err=%v", swapped, err)
	}
	again, swapped, _ := h.Get(2)
	if swapped || again != m2 {
		t.Fatal("same scale constructed a new instance")
	}
	m3, swapped, _ := h.Get(3)
	if !swapped || m3 == m2 || m3.Scale() != 3 {
		t.Fatalf("scale change: swapped=%v model=%v", swapped, m3)
	}
	if !built[0].closed {
		t.Error("previous instance not closed")
	}
	if h.Constructed() != 2 || len(built) != 2 {
		t.Errorf("constructed %d instances", h.Constructed())
	}
	if err := h.Close(); err != nil || !built[1].closed || h.Current() != nil {
		t.Errorf("Close: err=%v closed=%v", err, built[1].closed)
	}
}

func TestHolderRejectsScale(t *testing.T) {
	h := NewHolder(NewLanczos)
	for _, s := range []int{0, 5, -1} {
		if _, _, err := h.Get(s); !errors.Is(err, ErrInvalidScale) {
			t.Errorf("scale %d: err = %v", s, err)
		}
	}
}

func TestHolderConstructionFailure(t *testing.T) {
	boom := errors.New("no weights")
	h := NewHolder(func(int) (Model, error) { return nil, boom })
	if _, _, err := h.Get(2); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if h.Current() != nil {
		t.Error("failed construction left a model behind")
	}
}

func TestLanczosUpscale(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 30, 20))
	for _, scale := range []int{1, 2, 4} {
		m, err := NewLanczos(scale)
		if err != nil {
			t.Fatal(err)
		}
		out, err := m.Upscale(context.Background(), src)
		if err != nil {
			t.Fatal(err)
		}
		if got := out.Bounds().Size(); got != image.Pt(30*scale, 20*scale) {
			t.Errorf("x%d: size %v", scale, got)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := NewLanczos(2)
	if _, err := m.Upscale(ctx, src); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled upscale err = %v", err)
	}
}

func TestDNNMissingWeights(t *testing.T) {
	f := NewDNNFactory(t.TempDir())
	if _, err := f(2); err == nil {
		t.Error("missing weights accepted")
	}
}
