package pixon

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/interp"
	"github.com/cwbudde/algo-dsp/internal/vecmath"
	"github.com/cwbudde/algo-dsp/lightcurve"
)

// CoupledEngine extends Engine by making the continuum c(t)
// on the regular grid a free variable, bounded to a +/-5 sigma band around
// a reference reconstruction (typically the DRW posterior mean), and
// smoothed by its own uniform pixon. The embedded Engine's cont field is
// the live (mutated) continuum grid that both engines read from.
type CoupledEngine struct {
	*Engine

	contObs *lightcurve.Data // irregularly sampled observed continuum

	contMap  *Map
	contConv *conv.Circular

	refCont  []float64 // reference continuum (e.g. DRW posterior mean), snapshot at construction
	refSigma []float64 // per-point band half-width before the 5-sigma multiplier

	pseudoCont []float64 // free parameter c~_i, pre-smoothing
	smoothCont []float64 // smoothed c_i fed into the image<->continuum convolution

	contResidual []float64 // interpolated-smoothed-continuum minus observed, at contObs times

	boundsLow, boundsUp []float64 // ContBounds workspace, reused across calls

	directGradBuf, convolvedGradBuf []float64 // JointObjective gradient workspace, reused across calls
	sensitivityBuf                  []float64  // lineSensitivityToContinuum accumulation buffer, reused across calls
	directRawBuf                    []float64  // contDirectGradient's per-grid-point accumulator, reused across calls
}

// NewCoupledEngine constructs a CoupledEngine. contRecon is the regular
// reconstruction grid (its Flux is overwritten every Compute call);
// contObs is the irregularly sampled observed continuum used for chi^2_c.
// contRecon.Flux and contRecon.Error at construction time are snapshotted
// as the +/-5 sigma reference band.
func NewCoupledEngine(cfg Config, basis *Basis, contRecon, contObs, line *lightcurve.Data) (*CoupledEngine, error) {
	e, err := NewEngine(cfg, basis, contRecon, line)
	if err != nil {
		return nil, err
	}

	n := contRecon.Len()
	sizes := cfg.SizeTable()
	topIdx := len(sizes) - 1
	contMap := NewMap(n, sizes, topIdx)

	padCont := int(math.Ceil(2*basis.Support(sizes[topIdx]))) + 2
	contConv, err := conv.NewCircular(n, padCont, 1.0)
	if err != nil {
		return nil, fmt.Errorf("pixon: continuum-smoothing FFT plan: %w", err)
	}

	refCont := core.EnsureLen(nil, n)
	refSigma := core.EnsureLen(nil, n)
	core.CopyInto(refCont, contRecon.Flux)
	for i, s := range contRecon.Error {
		if s <= 0 {
			s = 0.1 * math.Max(math.Abs(refCont[i]), 1e-3)
		}
		refSigma[i] = s
	}

	pseudoCont := core.EnsureLen(nil, n)
	core.CopyInto(pseudoCont, refCont)

	return &CoupledEngine{
		Engine:       e,
		contObs:      contObs,
		contMap:      contMap,
		contConv:     contConv,
		refCont:      refCont,
		refSigma:     refSigma,
		pseudoCont:   pseudoCont,
		smoothCont:   core.EnsureLen(nil, n),
		contResidual: core.EnsureLen(nil, contObs.Len()),
	}, nil
}

// ContBounds returns the +/-5 sigma box constraint band around the
// reference continuum. The returned slices are owned by c and overwritten
// on the next call.
func (c *CoupledEngine) ContBounds() Bounds {
	n := len(c.refCont)
	c.boundsLow = core.EnsureLen(c.boundsLow, n)
	c.boundsUp = core.EnsureLen(c.boundsUp, n)
	for i := range c.boundsLow {
		c.boundsLow[i] = c.refCont[i] - 5*c.refSigma[i]
		c.boundsUp[i] = c.refCont[i] + 5*c.refSigma[i]
	}
	return Bounds{Low: c.boundsLow, Up: c.boundsUp}
}

// smoothContinuum pixon-smooths cTilde with the (uniform) continuum map,
// writing into c.smoothCont and c.cont.Flux.
func (c *CoupledEngine) smoothContinuum(cTilde []float64) error {
	if err := c.contConv.SetData(cTilde); err != nil {
		return fmt.Errorf("pixon: continuum pseudo-signal FFT setup: %w", err)
	}
	sizes := c.contMap.Sizes()
	for _, idx := range c.contMap.ActiveIndices() {
		kernel := WrapSymmetricKernel(c.basis, sizes[idx], c.contConv.FFTSize())
		smoothed, err := c.contConv.Convolve(kernel)
		if err != nil {
			return fmt.Errorf("pixon: continuum-smoothing convolution: %w", err)
		}
		for _, j := range c.contMap.PixelsAt(idx) {
			c.smoothCont[j] = smoothed[j]
		}
	}
	core.CopyInto(c.cont.Flux, c.smoothCont)
	return nil
}

func (c *CoupledEngine) contChiSq() float64 {
	t0 := c.cont.Time[0]
	var chisq float64
	for k, t := range c.contObs.Time {
		model := interp.GridLinear(c.smoothCont, t0, c.dt, t)
		c.contResidual[k] = model - c.contObs.Flux[k]
		s := c.contObs.Error[k]
		chisq += c.contResidual[k] * c.contResidual[k] / (s * s)
	}
	return chisq
}

func (c *CoupledEngine) contEntropy() float64 {
	var itot float64
	for _, v := range c.smoothCont {
		itot += v
	}
	npixEff := c.contMap.EffectivePixelCount(c.basis)
	alpha := math.Log(npixEff) / math.Log(float64(len(c.smoothCont)))

	var h float64
	for _, v := range c.smoothCont {
		frac := v / itot
		h += frac * math.Log(frac+epsPixon)
	}
	return 2 * alpha * h
}

// ContOnlyObjective evaluates chi^2_c + H_c varying only c~ (the warm-up
// phase). It does not touch the image side.
func (c *CoupledEngine) ContOnlyObjective(cTilde []float64, grad []float64) (float64, error) {
	if err := c.smoothContinuum(cTilde); err != nil {
		return 0, err
	}
	chisq := c.contChiSq()
	h := c.contEntropy()

	if grad != nil {
		c.contDirectGradient(grad)
	}
	return chisq + h, nil
}

// contDataGradientRaw accumulates d(chi^2_c)/dc_i into direct, which must
// already be sized len(c.smoothCont) and zeroed by the caller.
func (c *CoupledEngine) contDataGradientRaw(direct []float64) {
	n := len(direct)
	t0 := c.cont.Time[0]
	for k, t := range c.contObs.Time {
		pos := (t - t0) / c.dt
		lo := int(math.Floor(pos))
		frac := pos - float64(lo)
		s := c.contObs.Error[k]
		w := 2 * c.contResidual[k] / (s * s)
		if lo >= 0 && lo < n {
			direct[lo] += w * (1 - frac)
		}
		if lo+1 >= 0 && lo+1 < n {
			direct[lo+1] += w * frac
		}
	}
}

// contEntropyGradientRaw accumulates d(H_c)/dc_i into direct.
func (c *CoupledEngine) contEntropyGradientRaw(direct []float64) {
	var itot float64
	for _, v := range c.smoothCont {
		itot += v
	}
	npixEff := c.contMap.EffectivePixelCount(c.basis)
	alpha := math.Log(npixEff) / math.Log(float64(len(c.smoothCont)))
	for i, v := range c.smoothCont {
		direct[i] += 2 * alpha * (1 + math.Log(v/itot+epsPixon)) / itot
	}
}

// contKernelChain applies the continuum pixon kernel's linear chain rule:
// grad[ip] = sum over the support of direct[i]*basis.Eval(i, ip, size(ip)).
// direct and grad must share the continuum grid length.
func (c *CoupledEngine) contKernelChain(direct, grad []float64) {
	n := len(direct)
	for ip := 0; ip < n; ip++ {
		s := c.contMap.Size(ip)
		w := int(math.Ceil(c.basis.Support(s)))
		lo := ip - w
		if lo < 0 {
			lo = 0
		}
		hi := ip + w
		if hi >= n {
			hi = n - 1
		}
		var acc float64
		for i := lo; i <= hi; i++ {
			acc += direct[i] * c.basis.Eval(i, ip, s)
		}
		grad[ip] = acc
	}
}

// contDirectGradient fills grad with d(chi^2_c + H_c)/d(c~_i), the warm-up
// phase gradient: a linear chain through the continuum's own pixon kernel,
// no exponential factor since c~ is parameterized directly (unlike the
// log-parameterized image).
func (c *CoupledEngine) contDirectGradient(grad []float64) {
	n := len(c.smoothCont)
	c.directRawBuf = core.EnsureLen(c.directRawBuf, n)
	direct := c.directRawBuf
	core.Zero(direct)

	c.contDataGradientRaw(direct)
	c.contEntropyGradientRaw(direct)
	c.contKernelChain(direct, grad)
}

// lineSensitivityToContinuum computes S[i'] = d(chi^2_line)/dc_i', the
// direct sensitivity of the line chi-square to the smoothed continuum
// grid, by scattering each line sample's weighted residual through the
// current image Psi and the interpolation weights used to read the
// continuum off-grid. The pixon kernel chain back to the pseudo-continuum
// is applied by the caller.
func (c *CoupledEngine) lineSensitivityToContinuum() []float64 {
	n := c.cont.Len()
	c.sensitivityBuf = core.EnsureLen(c.sensitivityBuf, n)
	s := c.sensitivityBuf
	core.Zero(s)
	t0 := c.cont.Time[0]

	for kIdx, t := range c.line.Time {
		sigma := c.line.Error[kIdx]
		rw := 2 * c.residual[kIdx] / (sigma * sigma)
		for j, psi := range c.image {
			if psi == 0 {
				continue
			}
			tau := float64(j-c.i0) * c.dt
			pos := (t - tau - t0) / c.dt
			lo := int(math.Floor(pos))
			frac := pos - float64(lo)
			weight := rw * psi
			if lo >= 0 && lo < n {
				s[lo] += weight * (1 - frac)
			}
			if lo+1 >= 0 && lo+1 < n {
				s[lo+1] += weight * frac
			}
		}
	}
	return s
}

// JointObjective evaluates the full coupled objective:
// chi^2_line + H_image + chi^2_c + H_c, over the full parameter vector
// [x (image log-values), b (if free), c~ (continuum)].
func (c *CoupledEngine) JointObjective(full []float64, grad []float64) (float64, error) {
	nImg := c.NParams()
	nCont := len(c.pseudoCont)
	if len(full) != nImg+nCont {
		return 0, fmt.Errorf("pixon: joint parameter vector length %d, want %d", len(full), nImg+nCont)
	}
	imgPart := full[:nImg]
	contPart := full[nImg:]

	if err := c.smoothContinuum(contPart); err != nil {
		return 0, err
	}
	if err := c.Compute(imgPart); err != nil {
		return 0, err
	}

	chisqLine := c.ChiSq()
	hImage := c.Entropy()
	chisqCont := c.contChiSq()
	hCont := c.contEntropy()

	if grad != nil {
		c.gradient(imgPart, grad[:nImg])

		c.directGradBuf = core.EnsureLen(c.directGradBuf, nCont)
		direct := c.directGradBuf
		c.contDirectGradient(direct)
		indirect := c.lineSensitivityToContinuum()

		c.convolvedGradBuf = core.EnsureLen(c.convolvedGradBuf, nCont)
		convolved := c.convolvedGradBuf
		for ip := 0; ip < nCont; ip++ {
			s := c.contMap.Size(ip)
			w := int(math.Ceil(c.basis.Support(s)))
			lo := ip - w
			if lo < 0 {
				lo = 0
			}
			hi := ip + w
			if hi >= nCont {
				hi = nCont - 1
			}
			var acc float64
			for i := lo; i <= hi; i++ {
				acc += indirect[i] * c.basis.Eval(i, ip, s)
			}
			convolved[ip] = acc
		}
		vecmath.AddBlockInPlace(convolved, direct)
		core.CopyInto(grad[nImg:], convolved)
	}

	return chisqLine + hImage + chisqCont + hCont, nil
}

// RunWarmup drives the continuum-only warm-up phase: start
// the continuum map at the top size, minimize chi^2_c+H_c, then shrink it
// one step at a time with the same MDL acceptance test as [Engine.RunUniform],
// stopping on the first failure.
func (c *CoupledEngine) RunWarmup(probe, refine Optimizer, opts Options) (OuterResult, error) {
	c.contMap.SetUniform(len(c.contMap.Sizes()) - 1)
	bounds := c.ContBounds()

	x := append([]float64{}, c.pseudoCont...)
	res, err := c.optimizeGeneric(probe, refine, x, bounds, opts, c.ContOnlyObjective)
	if err != nil {
		return OuterResult{}, err
	}
	x = res.X
	prevValue := res.Value
	copy(c.pseudoCont, x)

	log := []IterationRecord{{Objective: res.Value, NPixEff: c.contMap.EffectivePixelCount(c.basis), MMin: c.contMap.Min()}}

	sizes := c.contMap.Sizes()
	floor := c.cfg.PixonMapLowBound
	for iter := 1; ; iter++ {
		idx := c.contMap.Min()
		if idx <= floor {
			break
		}
		npixEffBefore := c.contMap.EffectivePixelCount(c.basis)
		dn := c.basis.Norm(sizes[idx-1]) - c.basis.Norm(sizes[idx])

		c.contMap.SetUniform(idx - 1)
		trial := append([]float64{}, x...)
		res, err := c.optimizeGeneric(probe, refine, trial, bounds, opts, c.ContOnlyObjective)
		if err != nil {
			return OuterResult{}, err
		}

		dQ := prevValue - res.Value
		threshold := dn * (1 + c.sigmaCtl/math.Sqrt(2*npixEffBefore))
		if dn <= 0 || dQ <= threshold {
			c.contMap.SetUniform(idx)
			if err := c.smoothContinuum(x); err != nil {
				return OuterResult{}, err
			}
			break
		}

		x = res.X
		prevValue = res.Value
		copy(c.pseudoCont, x)
		log = append(log, IterationRecord{OuterIter: iter, Objective: res.Value, NPixEff: c.contMap.EffectivePixelCount(c.basis), MMin: c.contMap.Min(), Shrunk: true})
	}

	if err := c.smoothContinuum(x); err != nil {
		return OuterResult{}, err
	}
	return OuterResult{X: x, Value: prevValue, Log: log}, nil
}

// RunJoint drives the joint phase: the full parameter
// vector (x, b, c~) is optimized together; the image-side pixon map m_j
// still shrinks under the same adaptive outer loop as [Engine.RunAdaptive].
// The uniform counterpart is [CoupledEngine.RunUniform].
func (c *CoupledEngine) RunJoint(probe, refine Optimizer, opts Options, maxOuterIters int) (OuterResult, error) {
	nImg := c.NParams()
	full := make([]float64, nImg+len(c.pseudoCont))
	copy(full[:nImg], c.InitialParams())
	copy(full[nImg:], c.pseudoCont)

	bounds := c.jointBounds()

	var log []IterationRecord
	for iter := 0; ; iter++ {
		res, err := c.optimizeGeneric(probe, refine, full, bounds, opts, c.JointObjective)
		if err != nil {
			return OuterResult{}, err
		}
		full = res.X

		if _, err := c.JointObjective(full, nil); err != nil {
			return OuterResult{}, err
		}
		chisq := c.ChiSq() + c.contChiSq()
		rec := IterationRecord{
			OuterIter: iter,
			Objective: res.Value,
			ChiSq:     chisq,
			NPixEff:   c.pmap.EffectivePixelCount(c.basis),
			MMin:      c.pmap.Min(),
		}

		if chisq <= float64(c.line.Len()+c.contObs.Len()) {
			log = append(log, rec)
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log, Converged: true}, nil
		}
		if maxOuterIters > 0 && iter >= maxOuterIters {
			log = append(log, rec)
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}

		moved := c.ShrinkAdaptive()
		rec.Shrunk = moved
		log = append(log, rec)
		if !moved {
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log}, nil
		}
	}
}

// RunUniform drives the joint phase under the uniform outer loop: every
// image pixel shares one size index, decremented and re-optimized one step
// at a time with the same MDL acceptance test as [Engine.RunUniform]. The
// continuum's own map, set by [CoupledEngine.RunWarmup], is not touched here.
func (c *CoupledEngine) RunUniform(probe, refine Optimizer, opts Options, maxOuterIters int) (OuterResult, error) {
	c.pmap.SetUniform(len(c.pmap.Sizes()) - 1)

	nImg := c.NParams()
	full := make([]float64, nImg+len(c.pseudoCont))
	copy(full[:nImg], c.InitialParams())
	copy(full[nImg:], c.pseudoCont)

	bounds := c.jointBounds()

	res, err := c.optimizeGeneric(probe, refine, full, bounds, opts, c.JointObjective)
	if err != nil {
		return OuterResult{}, err
	}
	full = res.X
	prevValue := res.Value

	if _, err := c.JointObjective(full, nil); err != nil {
		return OuterResult{}, err
	}
	log := []IterationRecord{{
		Objective: res.Value,
		ChiSq:     c.ChiSq() + c.contChiSq(),
		NPixEff:   c.pmap.EffectivePixelCount(c.basis),
		MMin:      c.pmap.Min(),
	}}

	floor := c.cfg.PixonMapLowBound
	sizes := c.pmap.Sizes()

	for iter := 1; maxOuterIters <= 0 || iter <= maxOuterIters; iter++ {
		idx := c.pmap.Min()
		if idx <= floor {
			break
		}

		npixEffBefore := c.pmap.EffectivePixelCount(c.basis)
		dn := c.basis.Norm(sizes[idx-1]) - c.basis.Norm(sizes[idx])

		c.pmap.SetUniform(idx - 1)
		trial := make([]float64, len(full))
		copy(trial, full)
		res, err := c.optimizeGeneric(probe, refine, trial, bounds, opts, c.JointObjective)
		if err != nil {
			return OuterResult{}, err
		}

		dQ := prevValue - res.Value
		threshold := dn * (1 + c.sigmaCtl/math.Sqrt(2*npixEffBefore))
		if dn <= 0 || dQ <= threshold {
			c.pmap.SetUniform(idx)
			if _, err := c.JointObjective(full, nil); err != nil {
				return OuterResult{}, err
			}
			break
		}

		full = res.X
		prevValue = res.Value
		if _, err := c.JointObjective(full, nil); err != nil {
			return OuterResult{}, err
		}
		chisq := c.ChiSq() + c.contChiSq()
		log = append(log, IterationRecord{
			OuterIter: iter,
			Objective: res.Value,
			ChiSq:     chisq,
			NPixEff:   c.pmap.EffectivePixelCount(c.basis),
			MMin:      c.pmap.Min(),
			Shrunk:    true,
		})
		if chisq <= float64(c.line.Len()+c.contObs.Len()) {
			return OuterResult{X: full, Value: res.Value, ChiSq: chisq, Log: log, Converged: true}, nil
		}
	}

	return OuterResult{X: full, Value: prevValue, ChiSq: c.ChiSq() + c.contChiSq(), Log: log}, nil
}

func (c *CoupledEngine) jointBounds() Bounds {
	img := c.Bounds()
	cont := c.ContBounds()
	low := append(append([]float64{}, img.Low...), cont.Low...)
	up := append(append([]float64{}, img.Up...), cont.Up...)
	return Bounds{Low: low, Up: up}
}

// optimizeGeneric is [Engine.optimizeOnce] generalized over an arbitrary
// objective, needed because CoupledEngine runs the probe-then-refine
// protocol against three different objectives (continuum-only, joint, and
// DRWCoupledEngine's DRW-prior joint) that are not methods of Engine itself.
func (c *CoupledEngine) optimizeGeneric(probe, refine Optimizer, x0 []float64, bounds Bounds, opts Options, fn ObjectiveFunc) (Result, error) {
	probed, err := probe.Minimize(x0, bounds, opts, fn)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: coupled probe stage: %w", err)
	}
	refined, err := refine.Minimize(probed.X, bounds, opts, fn)
	if err != nil {
		return Result{}, fmt.Errorf("pixon: coupled refine stage: %w", err)
	}
	if refined.Status == StatusNominal {
		return refined, nil
	}
	reprobed, err := probe.Minimize(refined.X, bounds, opts, fn)
	if err != nil {
		return refined, nil
	}
	rerefined, err := refine.Minimize(reprobed.X, bounds, opts, fn)
	if err != nil {
		return refined, nil
	}
	return rerefined, nil
}
