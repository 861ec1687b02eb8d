// Package driver orchestrates the pixon and DRW engines into the four
// run modes, writes the fixed-filename output set for a run, and collects
// the per-outer-iteration diagnostic log.
package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwbudde/algo-dsp/drw"
	"github.com/cwbudde/algo-dsp/lightcurve"
	"github.com/cwbudde/algo-dsp/pixon"
)

// PhaseResult is one reconstruction phase's outer-loop log and final fit
// quality, shared by the continuum-pixon and fixed-DRW-continuum modes.
type PhaseResult struct {
	Log       []pixon.IterationRecord
	ChiSq     float64
	Converged bool
}

// DRWResult is the outcome of fitting and reconstructing the DRW
// continuum model: the posterior-mean parameters, the posterior sample
// count actually drawn, and the reconstruction on the regular grid. Joint
// is populated only in ModeDRWOnly: the joint image+continuum
// reconstruction under the fitted DRW continuum prior.
type DRWResult struct {
	Theta          drw.Params
	SamplePath     string
	NSamples       int
	Reconstruction *lightcurve.Data
	Joint          *PhaseResult
}

// Result is everything driver.Run produces; only the fields matching the
// requested Config.DrvLCModel are populated.
type Result struct {
	Mode int

	ContinuumPixon    *PhaseResult
	DRW               *DRWResult
	FixedDRWContinuum *PhaseResult
}

func defaultOptimizers() (pixon.Optimizer, pixon.Optimizer) {
	return pixon.ProbeSearch{}, pixon.GradientRefine{}
}

func optionsFromConfig(cfg pixon.Config) pixon.Options {
	return pixon.Options{
		MaxFuncEvals: cfg.NFEvalMax,
		FuncTol:      cfg.Tol,
		VarTol:       cfg.Tol,
		GradTol:      cfg.Tol,
	}
}

// Run loads the configured continuum and line light curves, dispatches on
// cfg.DrvLCModel, and writes every output file the selected mode(s)
// produce under cfg.OutputDir.
func Run(cfg pixon.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loader lightcurve.TextLoader
	contObs, err := loader.Load(cfg.ContPath)
	if err != nil {
		return nil, fmt.Errorf("driver: load continuum: %w", err)
	}
	line, err := loader.Load(cfg.LinePath)
	if err != nil {
		return nil, fmt.Errorf("driver: load line: %w", err)
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("driver: create output dir %s: %w", outDir, err)
	}

	basis, err := pixon.NewBasis(cfg.Basis)
	if err != nil {
		return nil, fmt.Errorf("driver: basis: %w", err)
	}

	result := &Result{Mode: cfg.DrvLCModel}

	runContinuumPixon := cfg.DrvLCModel == pixon.ModeContinuumPixon || cfg.DrvLCModel == pixon.ModeAll
	runDRW := cfg.DrvLCModel == pixon.ModeDRWOnly || cfg.DrvLCModel == pixon.ModeFixedDRWContinuum || cfg.DrvLCModel == pixon.ModeAll
	runFixedDRW := cfg.DrvLCModel == pixon.ModeFixedDRWContinuum || cfg.DrvLCModel == pixon.ModeAll

	if runContinuumPixon {
		phase, err := runCoupledContinuumPixon(cfg, outDir, basis, contObs, line)
		if err != nil {
			return nil, err
		}
		result.ContinuumPixon = phase
	}

	var drwResult *DRWResult
	if runDRW {
		drwResult, err = runDRWFit(cfg, outDir, basis, contObs, line)
		if err != nil {
			return nil, err
		}
		result.DRW = drwResult
	}

	if runFixedDRW {
		phase, err := runFixedContinuum(cfg, outDir, basis, drwResult.Reconstruction, line)
		if err != nil {
			return nil, err
		}
		result.FixedDRWContinuum = phase
	}

	return result, nil
}

// continuumGridSpan returns how far the regular continuum grid built for
// a reconstruction must extend past the observed continuum span so that
// a delay convolution over the full tau range has no edge deficit.
func continuumGridSpan(cfg pixon.Config) (tBack, tForward float64) {
	tBack = 0
	if cfg.TauRangeLow < 0 {
		tBack = -cfg.TauRangeLow
	}
	tForward = cfg.TauRangeUp
	if tForward < 0 {
		tForward = 0
	}
	return tBack, tForward
}

func runCoupledContinuumPixon(cfg pixon.Config, outDir string, basis *pixon.Basis, contObs, line *lightcurve.Data) (*PhaseResult, error) {
	tBack, tForward := continuumGridSpan(cfg)
	contRecon, err := lightcurve.NewRegularGrid(contObs.Time[0], contObs.Time[contObs.Len()-1], cfg.TauInterval, tBack, tForward)
	if err != nil {
		return nil, fmt.Errorf("driver: continuum grid: %w", err)
	}

	ce, err := pixon.NewCoupledEngine(cfg, basis, contRecon, contObs, line)
	if err != nil {
		return nil, fmt.Errorf("driver: coupled engine: %w", err)
	}

	probe, refine := defaultOptimizers()
	opts := optionsFromConfig(cfg)

	if _, err := ce.RunWarmup(probe, refine, opts); err != nil {
		return nil, fmt.Errorf("driver: continuum warm-up: %w", err)
	}
	var joint pixon.OuterResult
	if cfg.PixonUniform {
		joint, err = ce.RunUniform(probe, refine, opts, 0)
	} else {
		joint, err = ce.RunJoint(probe, refine, opts, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("driver: joint continuum-pixon optimization: %w", err)
	}

	mode := "pixon"
	set := pixon.NewOutputSet(outDir, mode, basis.Variant().String(), cfg.PixonUniform)
	nImg := ce.NParams()
	x := joint.X[:nImg]
	if err := pixon.WriteAll(set, ce.Engine, x, 1.0); err != nil {
		return nil, fmt.Errorf("driver: write continuum-pixon outputs: %w", err)
	}

	return &PhaseResult{Log: joint.Log, ChiSq: joint.ChiSq, Converged: joint.Converged}, nil
}

func runDRWFit(cfg pixon.Config, outDir string, basis *pixon.Basis, contObs, line *lightcurve.Data) (*DRWResult, error) {
	model, err := drw.NewModel(contObs, cfg.DRWNQ)
	if err != nil {
		return nil, fmt.Errorf("driver: drw model: %w", err)
	}
	model.FixFsys = cfg.DRWFixFsys

	specs := drw.DefaultParamSpecs(cfg.DRWNQ, cfg.DRWFixFsys)
	cb := drw.Callbacks{
		LogLikelihood: func(params []float64) (float64, error) {
			return model.LogLikelihood(drw.ParamsFromVector(params))
		},
	}

	samplePath := filepath.Join(outDir, cfg.DRWSampleFile)
	sampler := drw.DefaultSampler{Seed: cfg.DRWSeed, BurnIn: cfg.DRWBurnIn, Thin: cfg.DRWThin}
	if err := sampler.Run(specs, cb, cfg.DRWNParticles, cfg.DRWNSteps, samplePath); err != nil {
		return nil, fmt.Errorf("driver: drw sampler: %w", err)
	}

	samples, err := drw.ReadPosteriorSamples(samplePath)
	if err != nil {
		return nil, fmt.Errorf("driver: read drw posterior: %w", err)
	}
	meanVec := drw.PosteriorMean(samples)
	theta := drw.ParamsFromVector(meanVec)

	tBack, tForward := continuumGridSpan(cfg)
	grid, err := lightcurve.NewRegularGrid(contObs.Time[0], contObs.Time[contObs.Len()-1], cfg.TauInterval, tBack, tForward)
	if err != nil {
		return nil, fmt.Errorf("driver: drw reconstruction grid: %w", err)
	}
	recon, err := model.Reconstruct(theta, grid.Time)
	if err != nil {
		return nil, fmt.Errorf("driver: drw reconstruction: %w", err)
	}

	if err := lightcurve.WriteText(filepath.Join(outDir, "drw_continuum.txt"), recon); err != nil {
		return nil, fmt.Errorf("driver: write drw reconstruction: %w", err)
	}

	result := &DRWResult{Theta: theta, SamplePath: samplePath, NSamples: len(samples), Reconstruction: recon}

	if cfg.DrvLCModel == pixon.ModeDRWOnly {
		joint, err := runDRWJoint(cfg, outDir, basis, recon, contObs, line, theta)
		if err != nil {
			return nil, err
		}
		result.Joint = joint
	}

	return result, nil
}

// runDRWJoint performs the joint image+continuum reconstruction under the
// DRW continuum prior: the continuum side is regularized by the already-fit
// DRW hyperparameters instead of generic pixon entropy, and contRecon (the
// DRW posterior-mean reconstruction) seeds both the continuum's starting
// point and its +/-5 sigma bound band.
func runDRWJoint(cfg pixon.Config, outDir string, basis *pixon.Basis, contRecon, contObs, line *lightcurve.Data, theta drw.Params) (*PhaseResult, error) {
	de, err := pixon.NewDRWCoupledEngine(cfg, basis, contRecon, contObs, line, theta)
	if err != nil {
		return nil, fmt.Errorf("driver: drw joint engine: %w", err)
	}

	probe, refine := defaultOptimizers()
	opts := optionsFromConfig(cfg)

	joint, err := de.RunJoint(probe, refine, opts, 0)
	if err != nil {
		return nil, fmt.Errorf("driver: drw joint optimization: %w", err)
	}

	set := pixon.NewOutputSet(outDir, "drw", basis.Variant().String(), false)
	nImg := de.NParams()
	x := joint.X[:nImg]
	if err := pixon.WriteAll(set, de.Engine, x, 1.0); err != nil {
		return nil, fmt.Errorf("driver: write drw joint outputs: %w", err)
	}

	return &PhaseResult{Log: joint.Log, ChiSq: joint.ChiSq, Converged: joint.Converged}, nil
}

func runFixedContinuum(cfg pixon.Config, outDir string, basis *pixon.Basis, contFixed, line *lightcurve.Data) (*PhaseResult, error) {
	if contFixed == nil {
		return nil, fmt.Errorf("driver: fixed-continuum mode requires a DRW reconstruction")
	}

	e, err := pixon.NewEngine(cfg, basis, contFixed, line)
	if err != nil {
		return nil, fmt.Errorf("driver: fixed-continuum engine: %w", err)
	}

	probe, refine := defaultOptimizers()
	opts := optionsFromConfig(cfg)

	var outer pixon.OuterResult
	if cfg.PixonUniform {
		outer, err = e.RunUniform(probe, refine, opts, 0)
	} else {
		outer, err = e.RunAdaptive(probe, refine, opts, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("driver: fixed-continuum optimization: %w", err)
	}

	mode := "contfix"
	set := pixon.NewOutputSet(outDir, mode, basis.Variant().String(), cfg.PixonUniform)
	if err := pixon.WriteAll(set, e, outer.X, 1.0); err != nil {
		return nil, fmt.Errorf("driver: write fixed-continuum outputs: %w", err)
	}

	return &PhaseResult{Log: outer.Log, ChiSq: outer.ChiSq, Converged: outer.Converged}, nil
}
