package pixon

import (
	"fmt"
	"math"
)

// OuterResult is what RunAdaptive/RunUniform return: the last accepted
// parameter vector and map state, plus the per-iteration diagnostic log
// (objective, effective pixon count, and chi-square at each outer step).
type OuterResult struct {
	X         []float64
	Value     float64
	ChiSq     float64
	Log       []IterationRecord
	Converged bool // true if chi-square <= N_line (good-fit early exit)
}

// optimizeOnce runs the engine's two-call probe-then-refine protocol: a
// derivative-free probe followed by a truncated-Newton-style refinement;
// if the refinement returns a
// non-nominal status, the probe is re-run once before giving up and
// keeping the last accepted iterate.
func (e *Engine) optimizeOnce(probe, refine Optimizer, x0 []float64, opts Options) (Result, error) {
	bounds := e.Bounds()

	probed, err := probe.Minimize(x0, bounds, opts, e.Objective)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: probe stage: %w", err)
	}
	refined, err := refine.Minimize(probed.X, bounds, opts, e.Objective)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: refine stage: %w", err)
	}
	if refined.Status == StatusNominal {
		return refined, nil
	}

	// recovery: re-run the probe once from the refined point, then refine
	// again; a second failure is treated as loop termination and the
	// last accepted (refined) iterate is kept.
	reprobed, err := probe.Minimize(refined.X, bounds, opts, e.Objective)
	if err != nil {
		return refined, nil
	}
	rerefined, err := refine.Minimize(reprobed.X, bounds, opts, e.Objective)
	if err != nil {
		return refined, nil
	}
	return rerefined, nil
}

// RunAdaptive drives the adaptive outer loop: optimize,
// run the per-pixel shrink test, re-optimize if anything shrank, and stop
// when no pixel shrinks, when every pixel's index has reached the
// configured floor, or when chi-square <= N_line (good fit).
func (e *Engine) RunAdaptive(probe, refine Optimizer, opts Options, maxOuterIters int) (OuterResult, error) {
	x := e.InitialParams()
	var log []IterationRecord

	for iter := 0; ; iter++ {
		res, err := e.optimizeOnce(probe, refine, x, opts)
		if err != nil {
			return OuterResult{}, err
		}
		x = res.X

		if err := e.Compute(x); err != nil {
			return OuterResult{}, err
		}
		chisq := e.ChiSq()
		rec := IterationRecord{
			OuterIter: iter,
			Objective: res.Value,
			ChiSq:     chisq,
			NPixEff:   e.pmap.EffectivePixelCount(e.basis),
			MMin:      e.pmap.Min(),
		}

		if chisq <= float64(e.line.Len()) {
			log = append(log, rec)
			return OuterResult{X: x, Value: res.Value, ChiSq: chisq, Log: log, Converged: true}, nil
		}
		if maxOuterIters > 0 && iter >= maxOuterIters {
			log = append(log, rec)
			return OuterResult{X: x, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}

		moved := e.ShrinkAdaptive()
		rec.Shrunk = moved
		log = append(log, rec)
		if !moved {
			return OuterResult{X: x, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}
	}
}

// RunUniform drives the uniform outer loop: every pixel
// shares one size index; each iteration decrements it, re-optimizes, and
// accepts the step only if the total objective drop exceeds the MDL
// threshold. A failed step rolls the map index back to its pre-step value
// and stops.
func (e *Engine) RunUniform(probe, refine Optimizer, opts Options, maxOuterIters int) (OuterResult, error) {
	e.pmap.SetUniform(len(e.pmap.Sizes()) - 1)

	x := e.InitialParams()
	res, err := e.optimizeOnce(probe, refine, x, opts)
	if err != nil {
		return OuterResult{}, err
	}
	x = res.X
	prevValue := res.Value

	if err := e.Compute(x); err != nil {
		return OuterResult{}, err
	}
	log := []IterationRecord{{
		Objective: res.Value,
		ChiSq:     e.ChiSq(),
		NPixEff:   e.pmap.EffectivePixelCount(e.basis),
		MMin:      e.pmap.Min(),
	}}

	floor := e.cfg.PixonMapLowBound
	sizes := e.pmap.Sizes()

	for iter := 1; maxOuterIters <= 0 || iter <= maxOuterIters; iter++ {
		idx := e.pmap.Min()
		if idx <= floor {
			break
		}

		npixEffBefore := e.pmap.EffectivePixelCount(e.basis)
		dn := e.basis.Norm(sizes[idx-1]) - e.basis.Norm(sizes[idx])

		e.pmap.SetUniform(idx - 1)
		trialX := make([]float64, len(x))
		copy(trialX, x)
		res, err := e.optimizeOnce(probe, refine, trialX, opts)
		if err != nil {
			return OuterResult{}, err
		}

		dQ := prevValue - res.Value
		threshold := dn * (1 + e.sigmaCtl/math.Sqrt(2*npixEffBefore))
		if dn <= 0 || dQ <= threshold {
			// roll back: restore the map and keep the previous iterate.
			e.pmap.SetUniform(idx)
			if err := e.Compute(x); err != nil {
				return OuterResult{}, err
			}
			break
		}

		x = res.X
		prevValue = res.Value
		if err := e.Compute(x); err != nil {
			return OuterResult{}, err
		}
		chisq := e.ChiSq()
		log = append(log, IterationRecord{
			OuterIter: iter,
			Objective: res.Value,
			ChiSq:     chisq,
			NPixEff:   e.pmap.EffectivePixelCount(e.basis),
			MMin:      e.pmap.Min(),
			Shrunk:    true,
		})
		if chisq <= float64(e.line.Len()) {
			return OuterResult{X: x, Value: res.Value, ChiSq: chisq, Log: log, Converged: true}, nil
		}
	}

	return OuterResult{X: x, Value: prevValue, ChiSq: e.ChiSq(), Log: log}, nil
}
