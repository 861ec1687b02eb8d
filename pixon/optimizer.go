package pixon

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Status reports how an Optimizer run ended.
type Status int

// Recognized optimizer return codes. StatusNominal is the only code the
// engine treats as a clean result; every other code triggers the
// probe-then-refine retry described in the engine's outer loop.
const (
	StatusNominal Status = iota
	StatusMaxEvalReached
	StatusFTolReached
	StatusXTolReached
	StatusGTolReached
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusNominal:
		return "nominal"
	case StatusMaxEvalReached:
		return "max_eval_reached"
	case StatusFTolReached:
		return "ftol_reached"
	case StatusXTolReached:
		return "xtol_reached"
	case StatusGTolReached:
		return "gtol_reached"
	default:
		return "failure"
	}
}

// Bounds is a pair of per-variable box constraints; Low and Up must have
// equal length, matching the parameter vector.
type Bounds struct {
	Low []float64
	Up  []float64
}

// Options configures one Optimizer.Minimize call. All four are recognized
// by both the derivative-free probe and the gradient-based refinement,
// though a given implementation may ignore whichever it has no use for.
type Options struct {
	MaxFuncEvals int
	FuncTol      float64
	VarTol       float64
	GradTol      float64
}

// ObjectiveFunc evaluates the objective at x. If grad is non-nil, the
// implementation fills it in place with the gradient at x. Implementations
// must not retain x or grad beyond the call.
type ObjectiveFunc func(x []float64, grad []float64) (float64, error)

// Result is what a Minimize call returns.
type Result struct {
	X           []float64
	Value       float64
	Status      Status
	Evaluations int
}

// Optimizer is the bounded nonlinear optimizer seam: box constraints, a
// value-and-gradient oracle, and a handful of stopping options. The engine
// does not care which concrete algorithm answers this contract, only that
// it respects the bounds and returns a result with an honest Status.
//
// This package ships one derivative-free implementation ([ProbeSearch])
// and one gradient-based implementation ([GradientRefine]) as a reference
// pair; either can be swapped for an external solver implementing the same
// interface.
type Optimizer interface {
	Minimize(x0 []float64, bounds Bounds, opts Options, fn ObjectiveFunc) (Result, error)
}

// ErrDimensionMismatch is returned when x0 and the bounds disagree in length.
var ErrDimensionMismatch = errors.New("pixon: optimizer dimension mismatch")

func project(x []float64, bounds Bounds) {
	for i := range x {
		x[i] = core.Clamp(x[i], bounds.Low[i], bounds.Up[i])
	}
}

// ProbeSearch is a bounded coordinate pattern search (Hooke-Jeeves style):
// it perturbs one coordinate at a time by a shrinking step and accepts any
// move that improves the objective. It never calls the gradient, so it
// tolerates the bootstrap non-smoothness of a cold-started pseudo-image.
type ProbeSearch struct {
	// InitialStep is the starting per-coordinate step as a fraction of
	// each variable's bound range. Defaults to 0.25 if zero.
	InitialStep float64
	// ShrinkFactor halves (by default) the step after a full sweep finds
	// no improving move. Defaults to 0.5 if zero.
	ShrinkFactor float64
}

func (p ProbeSearch) Minimize(x0 []float64, bounds Bounds, opts Options, fn ObjectiveFunc) (Result, error) {
	n := len(x0)
	if len(bounds.Low) != n || len(bounds.Up) != n {
		return Result{}, ErrDimensionMismatch
	}

	initStep := p.InitialStep
	if initStep <= 0 {
		initStep = 0.25
	}
	shrink := p.ShrinkFactor
	if shrink <= 0 || shrink >= 1 {
		shrink = 0.5
	}

	x := make([]float64, n)
	copy(x, x0)
	project(x, bounds)

	step := make([]float64, n)
	for i := range step {
		step[i] = initStep * (bounds.Up[i] - bounds.Low[i])
		if step[i] <= 0 {
			step[i] = initStep
		}
	}

	best, err := fn(x, nil)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: probe search initial evaluation: %w", err)
	}
	evals := 1

	funcTol := opts.FuncTol
	if funcTol <= 0 {
		funcTol = 1e-8
	}
	maxEvals := opts.MaxFuncEvals
	if maxEvals <= 0 {
		maxEvals = 10000
	}

	trial := make([]float64, n)
	status := StatusFTolReached
	for evals < maxEvals {
		improved := false
		for i := 0; i < n; i++ {
			for _, sign := range [2]float64{1, -1} {
				copy(trial, x)
				trial[i] += sign * step[i]
				project(trial, bounds)

				v, err := fn(trial, nil)
				evals++
				if err != nil {
					return Result{}, fmt.Errorf("pixon: probe search evaluation: %w", err)
				}
				if v < best-funcTol {
					best = v
					copy(x, trial)
					improved = true
				}
				if evals >= maxEvals {
					status = StatusMaxEvalReached
					break
				}
			}
			if evals >= maxEvals {
				break
			}
		}
		if evals >= maxEvals {
			status = StatusMaxEvalReached
			break
		}
		if !improved {
			maxStep := 0.0
			for i := range step {
				step[i] *= shrink
				if step[i] > maxStep {
					maxStep = step[i]
				}
			}
			if maxStep < (opts.VarTol + 1e-12) {
				status = StatusXTolReached
				break
			}
		}
	}

	return Result{X: x, Value: best, Status: status, Evaluations: evals}, nil
}

// GradientRefine is a bounded projected-gradient solver with Armijo
// backtracking: it stands in for the truncated-Newton refinement phase
// the engine expects, using the exact analytic gradient the engine
// supplies instead of a Hessian-vector product.
type GradientRefine struct {
	// InitialLearningRate seeds the first step's trust region; it is
	// adapted by backtracking on every iteration. Defaults to 1 if zero.
	InitialLearningRate float64
}

func (g GradientRefine) Minimize(x0 []float64, bounds Bounds, opts Options, fn ObjectiveFunc) (Result, error) {
	n := len(x0)
	if len(bounds.Low) != n || len(bounds.Up) != n {
		return Result{}, ErrDimensionMismatch
	}

	lr := g.InitialLearningRate
	if lr <= 0 {
		lr = 1
	}
	funcTol := opts.FuncTol
	if funcTol <= 0 {
		funcTol = 1e-8
	}
	gradTol := opts.GradTol
	if gradTol <= 0 {
		gradTol = 1e-6
	}
	maxEvals := opts.MaxFuncEvals
	if maxEvals <= 0 {
		maxEvals = 10000
	}

	x := make([]float64, n)
	copy(x, x0)
	project(x, bounds)

	grad := make([]float64, n)
	value, err := fn(x, grad)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: gradient refine initial evaluation: %w", err)
	}
	evals := 1

	trial := make([]float64, n)
	status := StatusFTolReached
	for evals < maxEvals {
		gnorm := 0.0
		for i := range grad {
			// projected-gradient magnitude: zero where the bound is active
			// and the raw gradient pushes further into it.
			pg := grad[i]
			if (x[i] <= bounds.Low[i] && pg > 0) || (x[i] >= bounds.Up[i] && pg < 0) {
				pg = 0
			}
			gnorm += pg * pg
		}
		gnorm = math.Sqrt(gnorm)
		if gnorm <= gradTol {
			status = StatusGTolReached
			break
		}

		step := lr
		accepted := false
		var trialValue float64
		var trialGrad []float64
		for backtrack := 0; backtrack < 30; backtrack++ {
			for i := range trial {
				trial[i] = x[i] - step*grad[i]
			}
			project(trial, bounds)

			tg := make([]float64, n)
			v, err := fn(trial, tg)
			evals++
			if err != nil {
				return Result{}, fmt.Errorf("pixon: gradient refine evaluation: %w", err)
			}
			if v <= value-1e-4*step*gnorm*gnorm {
				trialValue, trialGrad, accepted = v, tg, true
				break
			}
			step *= 0.5
			if evals >= maxEvals {
				break
			}
		}
		if evals >= maxEvals {
			status = StatusMaxEvalReached
			break
		}
		if !accepted {
			status = StatusXTolReached
			break
		}

		moved := 0.0
		for i := range x {
			d := trial[i] - x[i]
			moved += d * d
		}
		if math.Abs(value-trialValue) < funcTol && math.Sqrt(moved) < opts.VarTol+1e-12 {
			copy(x, trial)
			value = trialValue
			status = StatusFTolReached
			break
		}

		copy(x, trial)
		copy(grad, trialGrad)
		value = trialValue
		lr = step * 2
	}

	return Result{X: x, Value: value, Status: status, Evaluations: evals}, nil
}
