package pixon

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/drw"
	"github.com/cwbudde/algo-dsp/lightcurve"
)

// contDRWJitter is the diagonal loading added to the DRW continuum
// covariance used as a joint-reconstruction prior, guarding against a
// singular semiseparable factorization on a near-degenerate grid.
const contDRWJitter = 1e-8

// DRWCoupledEngine is the joint image+continuum reconstruction mode: the
// full parameter vector is [x (image log-values), b (if free), c
// (continuum)], exactly as in [CoupledEngine], but the continuum side's
// regularizer is a DRW Gaussian-process prior built from hyperparameters
// already fit by an MCMC run, rather than generic pixon entropy. It reuses
// CoupledEngine's continuum pixon-smoothing pipeline and the image-side
// adaptive shrink loop unchanged; only the continuum regularization term
// and its gradient differ.
type DRWCoupledEngine struct {
	*CoupledEngine

	covar *drw.CovarModel

	devBuf       []float64 // smoothCont - refCont, reused across calls
	directRawBuf []float64 // per-grid-point chi^2_c+GP gradient, reused across calls
}

// NewDRWCoupledEngine constructs a DRWCoupledEngine. theta are the DRW
// hyperparameters fit ahead of time over the observed continuum (e.g. by
// [drw.DefaultSampler]); the continuum's Gaussian-process prior covariance
// is built once, over contRecon's regular grid, at those hyperparameters,
// and never refit during reconstruction.
func NewDRWCoupledEngine(cfg Config, basis *Basis, contRecon, contObs, line *lightcurve.Data, theta drw.Params) (*DRWCoupledEngine, error) {
	ce, err := NewCoupledEngine(cfg, basis, contRecon, contObs, line)
	if err != nil {
		return nil, err
	}

	covar, err := drw.NewCovarModel(contRecon.Time, theta.Sigma(), theta.Tau(), contDRWJitter)
	if err != nil {
		return nil, fmt.Errorf("pixon: drw continuum covariance: %w", err)
	}

	n := contRecon.Len()
	return &DRWCoupledEngine{
		CoupledEngine: ce,
		covar:         covar,
		devBuf:        core.EnsureLen(nil, n),
		directRawBuf:  core.EnsureLen(nil, n),
	}, nil
}

// contGPTerm evaluates the DRW Gaussian-process prior (quadratic form plus
// log-determinant of the fitted covariance around the reference continuum)
// at the current smoothed continuum, replacing [CoupledEngine.contEntropy]
// for this engine.
func (d *DRWCoupledEngine) contGPTerm() float64 {
	n := len(d.smoothCont)
	d.devBuf = core.EnsureLen(d.devBuf, n)
	for i, v := range d.smoothCont {
		d.devBuf[i] = v - d.refCont[i]
	}
	return d.covar.QuadForm(d.devBuf) + d.covar.LogDet()
}

// contGPGradientRaw accumulates d(contGPTerm)/dc_i into direct; it must be
// called after [DRWCoupledEngine.contGPTerm] so d.devBuf reflects the
// current continuum.
func (d *DRWCoupledEngine) contGPGradientRaw(direct []float64) {
	gpGrad := d.covar.Solve(d.devBuf)
	for i := range direct {
		direct[i] += 2 * gpGrad[i]
	}
}

// JointObjective evaluates chi^2_line + H_image + chi^2_c + GP_cont over
// the full parameter vector [x (image log-values), b (if free), c
// (continuum)].
func (d *DRWCoupledEngine) JointObjective(full []float64, grad []float64) (float64, error) {
	nImg := d.NParams()
	nCont := len(d.pseudoCont)
	if len(full) != nImg+nCont {
		return 0, fmt.Errorf("pixon: drw joint parameter vector length %d, want %d", len(full), nImg+nCont)
	}
	imgPart := full[:nImg]
	contPart := full[nImg:]

	if err := d.smoothContinuum(contPart); err != nil {
		return 0, err
	}
	if err := d.Compute(imgPart); err != nil {
		return 0, err
	}

	chisqLine := d.ChiSq()
	hImage := d.Entropy()
	chisqCont := d.contChiSq()
	gpTerm := d.contGPTerm()

	if grad != nil {
		d.gradient(imgPart, grad[:nImg])

		d.directRawBuf = core.EnsureLen(d.directRawBuf, nCont)
		direct := d.directRawBuf
		core.Zero(direct)
		d.contDataGradientRaw(direct)
		d.contGPGradientRaw(direct)
		d.contKernelChain(direct, grad[nImg:])
	}

	return chisqLine + hImage + chisqCont + gpTerm, nil
}

// RunJoint drives the joint reconstruction: the full parameter vector
// (x, b, c) is optimized together against [DRWCoupledEngine.JointObjective];
// the image-side pixon map still shrinks under the same adaptive outer loop
// as [Engine.RunAdaptive]. The continuum's own map is fixed at construction
// (the widest table entry) and never shrunk, mirroring a fixed continuum
// smoothing kernel rather than an adaptive one.
func (d *DRWCoupledEngine) RunJoint(probe, refine Optimizer, opts Options, maxOuterIters int) (OuterResult, error) {
	nImg := d.NParams()
	full := make([]float64, nImg+len(d.pseudoCont))
	copy(full[:nImg], d.InitialParams())
	copy(full[nImg:], d.pseudoCont)

	bounds := d.jointBounds()

	var log []IterationRecord
	for iter := 0; ; iter++ {
		res, err := d.optimizeGeneric(probe, refine, full, bounds, opts, d.JointObjective)
		if err != nil {
			return OuterResult{}, err
		}
		full = res.X

		if _, err := d.JointObjective(full, nil); err != nil {
			return OuterResult{}, err
		}
		chisq := d.ChiSq() + d.contChiSq()
		rec := IterationRecord{
			OuterIter: iter,
			Objective: res.Value,
			ChiSq:     chisq,
			NPixEff:   d.pmap.EffectivePixelCount(d.basis),
			MMin:      d.pmap.Min(),
		}

		if chisq <= float64(d.line.Len()+d.contObs.Len()) {
			log = append(log, rec)
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log, Converged: true}, nil
		}
		if maxOuterIters > 0 && iter >= maxOuterIters {
			log = append(log, rec)
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}

		moved := d.ShrinkAdaptive()
		rec.Shrunk = moved
		log = append(log, rec)
		if !moved {
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}
	}
}
