package interp

import "testing"

func TestGridLinear(t *testing.T) {
	values := []float64{0, 10, 20, 30}

	if got := GridLinear(values, 0, 1, 1.5); got != 15 {
		t.Fatalf("got %v want 15", got)
	}
	if got := GridLinear(values, 0, 1, -5); got != 0 {
		t.Fatalf("below-range got %v want 0 (clamped)", got)
	}
	if got := GridLinear(values, 0, 1, 100); got != 30 {
		t.Fatalf("above-range got %v want 30 (clamped)", got)
	}
	if got := GridLinear(values, 0, 1, 2); got != 20 {
		t.Fatalf("exact grid point got %v want 20", got)
	}
	if got := GridLinear(nil, 0, 1, 0); got != 0 {
		t.Fatalf("empty got %v want 0", got)
	}
}
