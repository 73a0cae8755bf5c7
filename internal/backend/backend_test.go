package backend

import (
	"math"
	"testing"
)

func TestSharpen(t *testing.T) {
	tests := []struct {
		center float64
		edge   float64
	}{
		{center: 2.5, edge: -0.375},
		{center: 3, edge: -0.5},
		{center: 1, edge: 0},
	}
	for _, tt := range tests {
		k := Sharpen(tt.center)
		if k.Size != 3 || len(k.Weights) != 9 {
			t.Fatalf("Sharpen(%v) shape = %d/%d", tt.center, k.Size, len(k.Weights))
		}
		var sum float64
		for i, w := range k.Weights {
			sum += w
			want := 0.0
			switch i {
			case 4:
				want = tt.center
			case 1, 3, 5, 7:
				want = tt.edge
			}
			if math.Abs(w-want) > 1e-9 {
				t.Errorf("Sharpen(%v)[%d] = %v, want %v", tt.center, i, w, want)
			}
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("Sharpen(%v) sums to %v", tt.center, sum)
		}
	}
}
