package pixon

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/interp"
	"github.com/cwbudde/algo-dsp/internal/vecmath"
	"github.com/cwbudde/algo-dsp/lightcurve"
	simd "github.com/cwbudde/algo-vecmath"
)

// epsPixon guards log(0) and division by a vanishing image sum; it is the
// pixel floor the convolved image is clamped to before it appears inside
// any logarithm.
const epsPixon = 1e-100

// ImageBounds are the box constraints on the pseudo-image log-values x_j,
// shared by every pixel. The reference run bounds log-density in
// [-100, 10]; callers with different flux scales may need wider bounds.
var ImageBounds = Bounds{Low: []float64{-100}, Up: []float64{10}}

// BGBounds are the box constraints on the background parameter when it is
// not fixed, in post-normalization units.
var BGBounds = Bounds{Low: []float64{-1}, Up: []float64{1}}

// IterationRecord is one outer-loop step's diagnostic snapshot: the
// objective value, effective pixon count, and chi-square at that outer
// step, returned to the driver in [OuterResult].Log.
type IterationRecord struct {
	OuterIter int
	Objective float64
	ChiSq     float64
	NPixEff   float64
	MMin      int
	Shrunk    bool
}

// Engine is the pixon reconstruction engine: it owns the
// pixon-convolved image model, the chi-square+entropy objective and its
// analytic gradient, and the outer pixon-map adaptation loop. It borrows
// cont and line by reference and never mutates their Time or Error slices.
type Engine struct {
	cfg   Config
	basis *Basis

	cont *lightcurve.Data // regular continuum grid, length nCont
	line *lightcurve.Data // observed line samples, length nLine

	dt  float64
	i0  int // index of zero lag on the delay grid
	nTau int // delay grid / pseudo-image length

	pixonConv *conv.Circular // pseudo-image <-> pixon kernel, dt=1
	lineConv  *conv.Circular // image <-> continuum, dt=dt

	pmap *Map

	fixBG bool
	bgVal float64

	// workspace, sized once at construction
	pseudoImage      []float64
	image            []float64
	modelGrid        []float64
	modelLine        []float64
	residual         []float64
	weightedResidual []float64 // residual[k] / line.Error[k]^2, refreshed every Compute

	invLineVar []float64 // 1/line.Error[k]^2, fixed at construction

	sigmaCtl float64
}

// NewEngine constructs an Engine for one (cont, line) pair. cont must be a
// regular grid ([lightcurve.NewRegularGrid]) sharing the configured
// TauInterval as its step; line is the observed emission-line light curve.
func NewEngine(cfg Config, basis *Basis, cont, line *lightcurve.Data) (*Engine, error) {
	if cont.Len() < 2 || line.Len() < 1 {
		return nil, fmt.Errorf("pixon: engine requires a continuum grid and at least one line sample")
	}
	dt := cont.Step()
	if dt <= 0 {
		return nil, fmt.Errorf("pixon: continuum grid step must be positive, got %g", dt)
	}

	i0 := 0
	if cfg.TauRangeLow < 0 {
		i0 = int(math.Round(-cfg.TauRangeLow / cfg.TauInterval))
	}
	nTau := int(math.Round((cfg.TauRangeUp-cfg.TauRangeLow)/cfg.TauInterval)) + 1
	if nTau < 2 {
		return nil, fmt.Errorf("pixon: delay grid too short (%d points)", nTau)
	}

	sizes := cfg.SizeTable()
	topIdx := len(sizes) - 1
	pmap := NewMap(nTau, sizes, topIdx)

	padImage := int(math.Ceil(2*basis.Support(sizes[topIdx]))) + 2
	pixonConv, err := conv.NewCircular(nTau, padImage, 1.0)
	if err != nil {
		return nil, fmt.Errorf("pixon: pixon-smoothing FFT plan: %w", err)
	}
	lineConv, err := conv.NewCircular(cont.Len(), nTau, dt)
	if err != nil {
		return nil, fmt.Errorf("pixon: image-continuum FFT plan: %w", err)
	}

	invLineVar := make([]float64, line.Len())
	for k, s := range line.Error {
		invLineVar[k] = 1 / (s * s)
	}

	return &Engine{
		cfg:   cfg,
		basis: basis,
		cont:  cont,
		line:  line,
		dt:    dt,
		i0:    i0,
		nTau:  nTau,

		pixonConv: pixonConv,
		lineConv:  lineConv,
		pmap:      pmap,

		fixBG: cfg.FixBG,
		bgVal: cfg.BG,

		pseudoImage:      core.EnsureLen(nil, nTau),
		image:            core.EnsureLen(nil, nTau),
		modelGrid:        core.EnsureLen(nil, cont.Len()),
		modelLine:        core.EnsureLen(nil, line.Len()),
		residual:         core.EnsureLen(nil, line.Len()),
		weightedResidual: core.EnsureLen(nil, line.Len()),
		invLineVar:       invLineVar,

		sigmaCtl: cfg.Sensitivity,
	}, nil
}

// NTau returns the delay-grid / pseudo-image length.
func (e *Engine) NTau() int { return e.nTau }

// I0 returns the index of zero lag.
func (e *Engine) I0() int { return e.i0 }

// DT returns the shared grid step.
func (e *Engine) DT() float64 { return e.dt }

// Map exposes the engine's pixon map, mutated in place by the outer loop.
func (e *Engine) Map() *Map { return e.pmap }

// Image returns the current pixon-smoothed, non-negative transfer
// function. The slice is owned by the engine and overwritten on the next
// Compute call.
func (e *Engine) Image() []float64 { return e.image }

// ModelLine returns the interpolated model evaluated at the observed line
// times, including the background, from the most recent Compute call.
func (e *Engine) ModelLine() []float64 { return e.modelLine }

// Residual returns the most recent per-sample residual i_ell(t_k)+b-ell_k.
func (e *Engine) Residual() []float64 { return e.residual }

// ModelGrid returns ell_model on the continuum grid (no background added)
// from the most recent Compute call.
func (e *Engine) ModelGrid() []float64 { return e.modelGrid }

// NParams returns the parameter-vector length: NTau, plus one for the
// background unless it is fixed.
func (e *Engine) NParams() int {
	if e.fixBG {
		return e.nTau
	}
	return e.nTau + 1
}

// Bounds returns the box constraints for NParams: the bounded
// log-density window for every pixel, plus the background window when
// it is free.
func (e *Engine) Bounds() Bounds {
	n := e.NParams()
	low := make([]float64, n)
	up := make([]float64, n)
	for j := 0; j < e.nTau; j++ {
		low[j] = ImageBounds.Low[0]
		up[j] = ImageBounds.Up[0]
	}
	if !e.fixBG {
		low[e.nTau] = BGBounds.Low[0]
		up[e.nTau] = BGBounds.Up[0]
	}
	return Bounds{Low: low, Up: up}
}

// InitialParams returns a cold-start parameter vector: every pixel at
// log(mean flux density) and, when it is free, the background at the
// configured BG value.
func (e *Engine) InitialParams() []float64 {
	x := make([]float64, e.NParams())
	mean := 0.0
	for _, f := range e.line.Flux {
		mean += f
	}
	mean /= float64(e.line.Len())
	start := math.Log(math.Max(mean, 1e-6) / float64(e.nTau))
	for j := range x[:e.nTau] {
		x[j] = core.Clamp(start, ImageBounds.Low[0], ImageBounds.Up[0])
	}
	if !e.fixBG {
		x[e.nTau] = e.bgVal
	}
	return x
}

func (e *Engine) background(x []float64) float64 {
	if e.fixBG {
		return e.bgVal
	}
	return x[e.nTau]
}

// Compute runs the forward model: pseudo-image,
// pixon-smoothed image, continuum convolution, interpolation, residual. It
// must be called before ChiSq, Entropy, or any gradient routine for the
// same x.
func (e *Engine) Compute(x []float64) error {
	for j := 0; j < e.nTau; j++ {
		e.pseudoImage[j] = math.Exp(x[j])
	}

	if err := e.smoothImage(); err != nil {
		return err
	}

	if err := e.lineConv.SetData(e.cont.Flux); err != nil {
		return fmt.Errorf("pixon: continuum FFT setup: %w", err)
	}
	kernel := WrapShiftedKernel(e.image, e.i0, e.lineConv.FFTSize())
	grid, err := e.lineConv.Convolve(kernel)
	if err != nil {
		return fmt.Errorf("pixon: image-continuum convolution: %w", err)
	}
	core.CopyInto(e.modelGrid, grid)

	b := e.background(x)
	t0 := e.cont.Time[0]
	for k, t := range e.line.Time {
		model := interp.GridLinear(e.modelGrid, t0, e.dt, t)
		e.modelLine[k] = model + b
		e.residual[k] = e.modelLine[k] - e.line.Flux[k]
	}
	simd.MulBlock(e.weightedResidual, e.residual, e.invLineVar)
	return nil
}

// smoothImage applies the per-pixel pixon kernel (step 2 of the forward
// model): one FFT convolution per distinct active size, scattered back
// into e.image at exactly the pixels assigned that size.
func (e *Engine) smoothImage() error {
	if err := e.pixonConv.SetData(e.pseudoImage); err != nil {
		return fmt.Errorf("pixon: pseudo-image FFT setup: %w", err)
	}
	sizes := e.pmap.Sizes()
	for _, idx := range e.pmap.ActiveIndices() {
		kernel := WrapSymmetricKernel(e.basis, sizes[idx], e.pixonConv.FFTSize())
		smoothed, err := e.pixonConv.Convolve(kernel)
		if err != nil {
			return fmt.Errorf("pixon: pixon-smoothing convolution: %w", err)
		}
		for _, j := range e.pmap.PixelsAt(idx) {
			v := smoothed[j]
			if v < epsPixon {
				v = epsPixon
			}
			e.image[j] = v
		}
	}
	return nil
}

// ChiSq returns chi-square for the residual computed by the most recent
// Compute call.
func (e *Engine) ChiSq() float64 {
	return vecmath.DotProduct(e.residual, e.weightedResidual)
}

// imageTotal and alpha are shared by Entropy and its gradient.
func (e *Engine) imageTotal() float64 {
	return vecmath.Sum(e.image)
}

func (e *Engine) alpha() float64 {
	npixEff := e.pmap.EffectivePixelCount(e.basis)
	return math.Log(npixEff) / math.Log(float64(e.nTau))
}

// Entropy returns H for the image computed by the most recent Compute call.
func (e *Engine) Entropy() float64 {
	itot := e.imageTotal()
	alpha := e.alpha()

	var h float64
	for _, v := range e.image {
		frac := v / itot
		h += frac * math.Log(frac+epsPixon)
	}
	return 2 * alpha * h
}

// Objective implements ObjectiveFunc: it runs the forward model, computes
// Q = chi-square + entropy, and (if grad is non-nil) the analytic gradient
// with respect to every parameter.
func (e *Engine) Objective(x []float64, grad []float64) (float64, error) {
	if err := e.Compute(x); err != nil {
		return 0, err
	}
	chisq := e.ChiSq()
	h := e.Entropy()

	if grad != nil {
		e.gradient(x, grad)
	}
	return chisq + h, nil
}

// support returns the inclusive pixel window [lo, hi] within which the
// kernel centered at i with scale s is nonzero.
func (e *Engine) support(i int, s float64) (lo, hi int) {
	w := int(math.Ceil(e.basis.Support(s)))
	lo = i - w
	if lo < 0 {
		lo = 0
	}
	hi = i + w
	if hi >= e.nTau {
		hi = e.nTau - 1
	}
	return lo, hi
}

// contAt linearly interpolates the continuum grid at an arbitrary time,
// treating the continuum as zero outside the grid, the same zero padding
// the image-continuum convolution in Compute applies.
func (e *Engine) contAt(t float64) float64 {
	n := e.cont.Len()
	pos := (t - e.cont.Time[0]) / e.dt
	switch {
	case pos <= -1 || pos >= float64(n):
		return 0
	case pos < 0:
		return (1 + pos) * e.cont.Flux[0]
	case pos > float64(n-1):
		return (float64(n) - pos) * e.cont.Flux[n-1]
	}
	return interp.GridLinear(e.cont.Flux, e.cont.Time[0], e.dt, t)
}

// gradient fills grad with dQ/dx_j for every pixel and, if the background
// is free, dQ/db, using the analytic chi-square+entropy gradient.
func (e *Engine) gradient(x []float64, grad []float64) {
	itot := e.imageTotal()
	alpha := e.alpha()

	for i := 0; i < e.nTau; i++ {
		s := e.pmap.Size(i)
		lo, hi := e.support(i, s)

		var chisqTerm, entropyTerm float64
		for jp := lo; jp <= hi; jp++ {
			k := e.basis.Eval(jp, i, s)
			entropyTerm += k * (1 + math.Log(e.image[jp]/itot+epsPixon))
		}

		for kIdx, t := range e.line.Time {
			var inner float64
			for jp := lo; jp <= hi; jp++ {
				tau := float64(jp-e.i0) * e.dt
				k := e.basis.Eval(jp, i, s)
				inner += k * e.contAt(t-tau)
			}
			sigma := e.line.Error[kIdx]
			chisqTerm += inner * e.residual[kIdx] / (sigma * sigma)
		}

		grad[i] = 2*e.dt*e.pseudoImage[i]*chisqTerm + 2*alpha*e.pseudoImage[i]*entropyTerm/itot
	}

	if !e.fixBG {
		grad[e.nTau] = 2 * vecmath.Sum(e.weightedResidual)
	}
}

// shrinkDelta evaluates the would-be chi-square and entropy gradient
// contribution of replacing pixel i's kernel K(.,.,sHigh) with
// K(.,.,sLow), using the residual and image from the most recent Compute
// call; it is the finite-difference form the shrink test needs,
// built from the same loops as [Engine.gradient] with a kernel difference.
func (e *Engine) shrinkDelta(i int, sHigh, sLow float64) (dChiSq, dH float64) {
	itot := e.imageTotal()
	alpha := e.alpha()

	lo, hi := e.support(i, math.Max(sHigh, sLow))

	var entropyTerm float64
	for jp := lo; jp <= hi; jp++ {
		dk := e.basis.Eval(jp, i, sHigh) - e.basis.Eval(jp, i, sLow)
		entropyTerm += dk * (1 + math.Log(e.image[jp]/itot+epsPixon))
	}

	var chisqTerm float64
	for kIdx, t := range e.line.Time {
		var inner float64
		for jp := lo; jp <= hi; jp++ {
			tau := float64(jp-e.i0) * e.dt
			dk := e.basis.Eval(jp, i, sHigh) - e.basis.Eval(jp, i, sLow)
			inner += dk * e.contAt(t-tau)
		}
		sigma := e.line.Error[kIdx]
		chisqTerm += inner * e.residual[kIdx] / (sigma * sigma)
	}

	dChiSq = 2 * e.dt * e.pseudoImage[i] * chisqTerm
	dH = 2 * alpha * e.pseudoImage[i] * entropyTerm / itot
	return dChiSq, dH
}

// acceptShrink reports whether decreasing the scale from sHigh to sLow at
// pixel i passes the MDL shrink test.
func (e *Engine) acceptShrink(i int, sHigh, sLow float64) bool {
	dChiSq, dH := e.shrinkDelta(i, sHigh, sLow)
	npixEff := e.pmap.EffectivePixelCount(e.basis)
	dn := e.basis.Norm(sLow) - e.basis.Norm(sHigh)
	if dn <= 0 {
		return false
	}
	threshold := dn * (1 + e.sigmaCtl/math.Sqrt(2*npixEff))
	return dChiSq+dH > threshold
}

// ShrinkAdaptive runs one pass of the per-pixel shrink test over every
// pixel whose index is above the configured floor,
// decreasing it by one step wherever the test passes. It must be called
// with the engine's image/residual state already up to date (i.e. right
// after an optimizer run at the current map). It reports whether any
// pixel moved.
func (e *Engine) ShrinkAdaptive() bool {
	floor := e.cfg.PixonMapLowBound
	sizes := e.pmap.Sizes()
	moved := false
	for i := 0; i < e.nTau; i++ {
		idx := e.pmap.Index(i)
		if idx <= floor {
			continue
		}
		if e.acceptShrink(i, sizes[idx], sizes[idx-1]) {
			e.pmap.SetIndex(i, idx-1)
			moved = true
		}
	}
	return moved
}
