package pixon

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/lightcurve"
)

func syntheticContinuum(n int, dt float64) *lightcurve.Data {
	time := make([]float64, n)
	flux := make([]float64, n)
	errs := make([]float64, n)
	for i := range time {
		time[i] = float64(i) * dt
		flux[i] = 1 + 0.3*math.Sin(2*math.Pi*time[i]/50)
		errs[i] = 0.01
	}
	d, _ := lightcurve.New(time, flux, errs)
	return d
}

// deltaLineFromContinuum builds a line light curve that is exactly the
// continuum shifted by lagPixels*dt samples, sampled at every continuum
// grid point inside the valid shifted range.
func deltaLineFromContinuum(cont *lightcurve.Data, lagPixels int, dt float64) *lightcurve.Data {
	var time, flux, errs []float64
	for i := lagPixels; i < cont.Len(); i++ {
		time = append(time, cont.Time[i])
		flux = append(flux, cont.Flux[i-lagPixels])
		errs = append(errs, 0.01)
	}
	d, _ := lightcurve.New(time, flux, errs)
	return d
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TauRangeLow = 0
	cfg.TauRangeUp = 40
	cfg.TauInterval = 1
	cfg.MaxPixonSize = 10
	cfg.PixonSubFactor = 3
	cfg.FixBG = true
	cfg.BG = 0
	return cfg
}

func TestEngineComputeProducesFiniteModel(t *testing.T) {
	cont := syntheticContinuum(200, 1)
	line := deltaLineFromContinuum(cont, 10, 1)
	cfg := testConfig()

	basis, err := NewBasis(cfg.Basis)
	if err != nil {
		t.Fatalf("NewBasis: %v", err)
	}
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	x := e.InitialParams()
	// place a sharp spike at lag 10 (index i0+10 = 10, since TauRangeLow=0)
	x[10] = 3.0
	if err := e.Compute(x); err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for i, v := range e.Image() {
		if v < 0 {
			t.Fatalf("image[%d] = %v, want >= 0", i, v)
		}
	}
	for k, v := range e.ModelLine() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("modelLine[%d] = %v, not finite", k, v)
		}
	}
}

func TestEngineFixedBackgroundClamp(t *testing.T) {
	cont := syntheticContinuum(100, 1)
	line := deltaLineFromContinuum(cont, 5, 1)
	cfg := testConfig()
	cfg.FixBG = true
	cfg.BG = 0.05

	basis, _ := NewBasis(cfg.Basis)
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	x := e.InitialParams()
	if len(x) != e.NTau() {
		t.Fatalf("NParams() = %d, want %d with fixed background", len(x), e.NTau())
	}
	if err := e.Compute(x); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if e.background(x) != 0.05 {
		t.Fatalf("background = %v, want 0.05", e.background(x))
	}
}

func TestEngineFreeBackgroundInBounds(t *testing.T) {
	cont := syntheticContinuum(100, 1)
	line := deltaLineFromContinuum(cont, 5, 1)
	cfg := testConfig()
	cfg.FixBG = false

	basis, _ := NewBasis(cfg.Basis)
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.NParams() != e.NTau()+1 {
		t.Fatalf("NParams() = %d, want %d with free background", e.NParams(), e.NTau()+1)
	}
	bounds := e.Bounds()
	n := e.NTau()
	if bounds.Low[n] != -1 || bounds.Up[n] != 1 {
		t.Fatalf("background bounds = [%v,%v], want [-1,1]", bounds.Low[n], bounds.Up[n])
	}
}

func TestShrinkAdaptiveRespectsFloor(t *testing.T) {
	cont := syntheticContinuum(100, 1)
	line := deltaLineFromContinuum(cont, 5, 1)
	cfg := testConfig()
	cfg.PixonMapLowBound = cfg.MaxPixonSize - 1 // nothing may shrink below the top

	basis, _ := NewBasis(cfg.Basis)
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	x := e.InitialParams()
	if err := e.Compute(x); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if e.ShrinkAdaptive() {
		t.Fatal("ShrinkAdaptive() moved a pixel below the configured floor")
	}
}

func TestObjectiveGradientMatchesCentralDifference(t *testing.T) {
	cont := syntheticContinuum(60, 1)
	line := deltaLineFromContinuum(cont, 5, 1)
	cfg := testConfig()
	cfg.TauRangeUp = 20
	cfg.PixonUniform = true
	cfg.MaxPixonSize = 4

	basis, _ := NewBasis(cfg.Basis)
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Map().SetUniform(len(e.Map().Sizes()) - 1)

	x := e.InitialParams()
	for j := range x[:e.NTau()] {
		x[j] = -2.0
	}
	grad := make([]float64, len(x))
	if _, err := e.Objective(x, grad); err != nil {
		t.Fatalf("Objective: %v", err)
	}

	const h = 1e-5
	// check a handful of interior pixels away from both edges and the clamp
	for _, j := range []int{3, 8, 12} {
		xp := append([]float64{}, x...)
		xm := append([]float64{}, x...)
		xp[j] += h
		xm[j] -= h
		vp, err := e.Objective(xp, nil)
		if err != nil {
			t.Fatalf("Objective(+h): %v", err)
		}
		vm, err := e.Objective(xm, nil)
		if err != nil {
			t.Fatalf("Objective(-h): %v", err)
		}
		numeric := (vp - vm) / (2 * h)
		if diff := math.Abs(numeric - grad[j]); diff > 1e-2*(math.Abs(grad[j])+1) {
			t.Errorf("pixel %d: analytic grad %v, numeric %v (diff %v)", j, grad[j], numeric, diff)
		}
	}
}
