package pixon

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/lightcurve"
)

func syntheticContObs(n int, dt float64) *lightcurve.Data {
	time := make([]float64, n)
	flux := make([]float64, n)
	errs := make([]float64, n)
	for i := range time {
		time[i] = float64(i) * dt * 1.5
		flux[i] = 1 + 0.3*math.Sin(2*math.Pi*time[i]/50)
		errs[i] = 0.02
	}
	d, _ := lightcurve.New(time, flux, errs)
	return d
}

func TestCoupledEngineContOnlyObjectiveFinite(t *testing.T) {
	cfg := testConfig()
	cfg.FixBG = true

	contRecon := syntheticContinuum(100, 1)
	for i := range contRecon.Error {
		contRecon.Error[i] = 0.05
	}
	contObs := syntheticContObs(40, 1)
	line := deltaLineFromContinuum(contRecon, 5, 1)

	basis, _ := NewBasis(cfg.Basis)
	ce, err := NewCoupledEngine(cfg, basis, contRecon, contObs, line)
	if err != nil {
		t.Fatalf("NewCoupledEngine: %v", err)
	}

	x := append([]float64{}, ce.pseudoCont...)
	grad := make([]float64, len(x))
	v, err := ce.ContOnlyObjective(x, grad)
	if err != nil {
		t.Fatalf("ContOnlyObjective: %v", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("objective = %v, not finite", v)
	}
	for i, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("grad[%d] = %v, not finite", i, g)
		}
	}
}

func TestCoupledEngineJointObjectiveFinite(t *testing.T) {
	cfg := testConfig()
	cfg.FixBG = true

	contRecon := syntheticContinuum(80, 1)
	for i := range contRecon.Error {
		contRecon.Error[i] = 0.05
	}
	contObs := syntheticContObs(30, 1)
	line := deltaLineFromContinuum(contRecon, 5, 1)

	basis, _ := NewBasis(cfg.Basis)
	ce, err := NewCoupledEngine(cfg, basis, contRecon, contObs, line)
	if err != nil {
		t.Fatalf("NewCoupledEngine: %v", err)
	}

	nImg := ce.NParams()
	full := make([]float64, nImg+len(ce.pseudoCont))
	copy(full[:nImg], ce.InitialParams())
	copy(full[nImg:], ce.pseudoCont)

	grad := make([]float64, len(full))
	v, err := ce.JointObjective(full, grad)
	if err != nil {
		t.Fatalf("JointObjective: %v", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("objective = %v, not finite", v)
	}
	for i, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("grad[%d] = %v, not finite", i, g)
		}
	}
}
