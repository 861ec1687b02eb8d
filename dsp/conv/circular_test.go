package conv

import (
	"math"
	"testing"
)

func TestCircularUnitKernelRoundTrip(t *testing.T) {
	const n = 16
	const dt = 1.0

	c, err := NewCircular(n, n, dt)
	if err != nil {
		t.Fatalf("NewCircular: %v", err)
	}

	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(float64(i)) + 0.3*float64(i)
	}

	if err := c.SetData(signal); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	kernel := make([]float64, c.FFTSize())
	kernel[0] = 1.0 / dt

	out, err := c.Convolve(kernel)
	if err != nil {
		t.Fatalf("Convolve: %v", err)
	}

	var norm float64
	for _, v := range signal {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	for i := range signal {
		if diff := math.Abs(out[i] - signal[i]); diff > 1e-10*norm {
			t.Fatalf("out[%d] = %v, want %v (diff %v)", i, out[i], signal[i], diff)
		}
	}
}

func TestCircularDeltaShift(t *testing.T) {
	const n = 32
	const dt = 0.5
	const shift = 5

	c, err := NewCircular(n, n, dt)
	if err != nil {
		t.Fatalf("NewCircular: %v", err)
	}

	signal := make([]float64, n)
	for i := range signal {
		signal[i] = 1 + 0.3*math.Sin(2*math.Pi*float64(i)/7)
	}
	if err := c.SetData(signal); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	kernel := make([]float64, c.FFTSize())
	kernel[shift] = 1.0 / dt

	out, err := c.Convolve(kernel)
	if err != nil {
		t.Fatalf("Convolve: %v", err)
	}

	for i := shift; i < n; i++ {
		want := signal[i-shift]
		if diff := math.Abs(out[i] - want); diff > 1e-9 {
			t.Fatalf("out[%d] = %v, want %v shifted sample (diff %v)", i, out[i], want, diff)
		}
	}
}

// TestCircularMatchesDirectCircular checks Circular's FFT path against the
// O(n^2) oracle by comparing both over the same ring size: the padded
// n_fft period, with signal and kernel zero-extended to that length.
func TestCircularMatchesDirectCircular(t *testing.T) {
	const n = 8
	const dt = 1.0

	signal := []float64{1, 2, 3, 4, 1, 0, -1, 2}
	kernel := []float64{0.5, 0.25, 0, 0, 0, 0, 0, 0.25}

	c, err := NewCircular(n, n, dt)
	if err != nil {
		t.Fatalf("NewCircular: %v", err)
	}
	if err := c.SetData(signal); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	got, err := c.Convolve(kernel)
	if err != nil {
		t.Fatalf("Convolve: %v", err)
	}

	nFFT := c.FFTSize()
	signalPadded := make([]float64, nFFT)
	kernelPadded := make([]float64, nFFT)
	copy(signalPadded, signal)
	copy(kernelPadded, kernel)

	expectedFull := make([]float64, nFFT)
	DirectCircularTo(expectedFull, signalPadded, kernelPadded)

	for i := 0; i < n; i++ {
		want := expectedFull[i] * dt
		if diff := math.Abs(got[i] - want); diff > 1e-9 {
			t.Fatalf("out[%d] = %v, want %v (diff %v)", i, got[i], want, diff)
		}
	}
}
