package pixon

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/drw"
)

func TestDRWCoupledEngineJointObjectiveFinite(t *testing.T) {
	cfg := testConfig()
	cfg.FixBG = true

	contRecon := syntheticContinuum(80, 1)
	for i := range contRecon.Error {
		contRecon.Error[i] = 0.05
	}
	contObs := syntheticContObs(30, 1)
	line := deltaLineFromContinuum(contRecon, 5, 1)

	basis, _ := NewBasis(cfg.Basis)
	theta := drw.Params{LogSigma: math.Log(0.3), LogTau: math.Log(20)}
	de, err := NewDRWCoupledEngine(cfg, basis, contRecon, contObs, line, theta)
	if err != nil {
		t.Fatalf("NewDRWCoupledEngine: %v", err)
	}

	nImg := de.NParams()
	full := make([]float64, nImg+len(de.pseudoCont))
	copy(full[:nImg], de.InitialParams())
	copy(full[nImg:], de.pseudoCont)

	grad := make([]float64, len(full))
	v, err := de.JointObjective(full, grad)
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

func TestDRWCoupledEngineRunJointConverges(t *testing.T) {
	cfg := testConfig()
	cfg.FixBG = true
	cfg.NFEvalMax = 2000

	contRecon := syntheticContinuum(60, 1)
	for i := range contRecon.Error {
		contRecon.Error[i] = 0.05
	}
	contObs := syntheticContObs(25, 1)
	line := deltaLineFromContinuum(contRecon, 5, 1)

	basis, _ := NewBasis(cfg.Basis)
	theta := drw.Params{LogSigma: math.Log(0.3), LogTau: math.Log(20)}
	de, err := NewDRWCoupledEngine(cfg, basis, contRecon, contObs, line, theta)
	if err != nil {
		t.Fatalf("NewDRWCoupledEngine: %v", err)
	}

	probe, refine := ProbeSearch{}, GradientRefine{}
	opts := Options{MaxFuncEvals: cfg.NFEvalMax, FuncTol: cfg.Tol, VarTol: cfg.Tol, GradTol: cfg.Tol}

	res, err := de.RunJoint(probe, refine, opts, 3)
	if err != nil {
		t.Fatalf("RunJoint: %v", err)
	}
	if math.IsNaN(res.ChiSq) || math.IsInf(res.ChiSq, 0) {
		t.Fatalf("ChiSq = %v, not finite", res.ChiSq)
	}
	if len(res.Log) == 0 {
		t.Fatal("expected at least one outer-loop iteration record")
	}
}
