package pixon

import (
	"math"
	"testing"
)

// quadratic is a simple bowl centered at center, for exercising both
// optimizers against a known minimum.
func quadratic(center []float64) ObjectiveFunc {
	return func(x []float64, grad []float64) (float64, error) {
		v := 0.0
		for i, c := range center {
			d := x[i] - c
			v += d * d
			if grad != nil {
				grad[i] = 2 * d
			}
		}
		return v, nil
	}
}

func TestProbeSearchFindsMinimum(t *testing.T) {
	center := []float64{1.5, -2.0}
	bounds := Bounds{Low: []float64{-10, -10}, Up: []float64{10, 10}}
	opt := ProbeSearch{}

	result, err := opt.Minimize([]float64{0, 0}, bounds, Options{MaxFuncEvals: 5000}, quadratic(center))
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	for i, c := range center {
		if math.Abs(result.X[i]-c) > 0.1 {
			t.Errorf("X[%d] = %v, want near %v", i, result.X[i], c)
		}
	}
}

func TestGradientRefineFindsMinimum(t *testing.T) {
	center := []float64{0.7, 2.2}
	bounds := Bounds{Low: []float64{-10, -10}, Up: []float64{10, 10}}
	opt := GradientRefine{}

	result, err := opt.Minimize([]float64{0, 0}, bounds, Options{MaxFuncEvals: 5000, GradTol: 1e-8}, quadratic(center))
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	for i, c := range center {
		if math.Abs(result.X[i]-c) > 1e-3 {
			t.Errorf("X[%d] = %v, want near %v", i, result.X[i], c)
		}
	}
}

func TestGradientRefineRespectsBounds(t *testing.T) {
	center := []float64{100}
	bounds := Bounds{Low: []float64{-1}, Up: []float64{1}}
	opt := GradientRefine{}

	result, err := opt.Minimize([]float64{0}, bounds, Options{MaxFuncEvals: 2000, GradTol: 1e-10}, quadratic(center))
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if result.X[0] > 1+1e-9 {
		t.Fatalf("X[0] = %v, exceeds upper bound 1", result.X[0])
	}
}

func TestMinimizeRejectsDimensionMismatch(t *testing.T) {
	bounds := Bounds{Low: []float64{0}, Up: []float64{1}}
	for _, opt := range []Optimizer{ProbeSearch{}, GradientRefine{}} {
		if _, err := opt.Minimize([]float64{0, 0}, bounds, Options{}, quadratic([]float64{0, 0})); err != ErrDimensionMismatch {
			t.Errorf("%T: expected ErrDimensionMismatch, got %v", opt, err)
		}
	}
}
