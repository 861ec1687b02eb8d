package lightcurve

import (
	"errors"
	"testing"
)

func TestNewValidates(t *testing.T) {
	if _, err := New([]float64{0, 1}, []float64{1}, []float64{0.1, 0.1}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := New([]float64{0}, []float64{0}, []float64{0.1}); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := New([]float64{0, 0}, []float64{1, 1}, []float64{0.1, 0.1}); !errors.Is(err, ErrNonIncreasing) {
		t.Fatalf("expected ErrNonIncreasing, got %v", err)
	}
	if _, err := New([]float64{0, 1}, []float64{1, 1}, []float64{0.1, -1}); !errors.Is(err, ErrNonPositiveError) {
		t.Fatalf("expected ErrNonPositiveError, got %v", err)
	}

	d, err := New([]float64{0, 1, 2}, []float64{1, 2, 3}, []float64{0.1, 0.1, 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if got := d.Step(); got != 1 {
		t.Fatalf("Step() = %v, want 1", got)
	}
}

func TestClone(t *testing.T) {
	d, _ := New([]float64{0, 1}, []float64{1, 2}, []float64{0.1, 0.1})
	c := d.Clone()
	c.Flux[0] = 99
	if d.Flux[0] == 99 {
		t.Fatal("Clone should be independent of the original")
	}
}

func TestNewRegularGrid(t *testing.T) {
	g, err := NewRegularGrid(0, 100, 1, 20, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Time[0] > -20 {
		t.Fatalf("grid should extend backward at least 20: got start %v", g.Time[0])
	}
	if g.Time[len(g.Time)-1] < 130 {
		t.Fatalf("grid should extend forward at least 30: got end %v", g.Time[len(g.Time)-1])
	}
	for i := 1; i < len(g.Time); i++ {
		if diff := g.Time[i] - g.Time[i-1] - 1; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("grid not equispaced at %d: step=%v", i, g.Time[i]-g.Time[i-1])
		}
	}

	if _, err := NewRegularGrid(0, 100, 0, 0, 0); err == nil {
		t.Fatal("expected error for non-positive dt")
	}
	if _, err := NewRegularGrid(10, 5, 1, 0, 0); err == nil {
		t.Fatal("expected error for obsEnd <= obsStart")
	}
}

func TestSetFlux(t *testing.T) {
	d, _ := New([]float64{0, 1, 2}, []float64{0, 0, 0}, []float64{1, 1, 1})
	if err := d.SetFlux([]float64{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Flux[1] != 2 {
		t.Fatalf("Flux[1] = %v, want 2", d.Flux[1])
	}
	if err := d.SetFlux([]float64{1, 2}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
