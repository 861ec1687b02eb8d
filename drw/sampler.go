package drw

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// PriorKind selects how a ParamSpec's prior density is shaped.
type PriorKind int

const (
	PriorUniform PriorKind = iota
	PriorGaussian
)

// ParamSpec describes one entry of the flat parameter vector a Sampler
// explores: its box bounds, prior shape, and whether it is held fixed.
type ParamSpec struct {
	Name        string
	Low, Up     float64
	Kind        PriorKind
	GaussMean   float64
	GaussSigma  float64
	Fixed       bool
	FixedValue  float64
}

// DefaultParamSpecs returns the prior layout for a Model with the given
// trend order: [log(1+f_sys), log sigma, log tau, q_0..q_{nq-1}],
// with q given a standard-normal prior (it is the Cholesky-whitened trend
// coordinate, not the trend coefficient itself).
func DefaultParamSpecs(nq int, fixFsys bool) []ParamSpec {
	specs := []ParamSpec{
		{Name: "log1pfsys", Low: BoundLogOnePlusFsysLow, Up: BoundLogOnePlusFsysUp, Kind: PriorUniform, Fixed: fixFsys, FixedValue: 0},
		{Name: "logsigma", Low: BoundLogSigmaLow, Up: BoundLogSigmaUp, Kind: PriorUniform},
		{Name: "logtau", Low: BoundLogTauLow, Up: BoundLogTauUp, Kind: PriorUniform},
	}
	for i := 0; i < nq; i++ {
		specs = append(specs, ParamSpec{Name: fmt.Sprintf("q%d", i), Low: -5, Up: 5, Kind: PriorGaussian, GaussMean: 0, GaussSigma: 1})
	}
	return specs
}

// Callbacks is the four-function seam an MCMC collaborator needs: a prior
// sampler, a perturber with its log-Hastings correction, a particle
// printer, and the log-likelihood itself. An external nested-sampling
// implementation consumes exactly this contract; [DefaultSampler] is the
// reference Metropolis implementation shipped in its place.
type Callbacks struct {
	Prior         func(rng *rand.Rand, specs []ParamSpec) []float64
	Perturb       func(rng *rand.Rand, specs []ParamSpec, params []float64) float64
	Print         func(w *bufio.Writer, params []float64) error
	LogLikelihood func(params []float64) (float64, error)
}

// DefaultPrior draws an independent sample from each ParamSpec's prior,
// respecting Fixed entries.
func DefaultPrior(rng *rand.Rand, specs []ParamSpec) []float64 {
	out := make([]float64, len(specs))
	for i, s := range specs {
		if s.Fixed {
			out[i] = s.FixedValue
			continue
		}
		switch s.Kind {
		case PriorGaussian:
			out[i] = s.GaussMean + s.GaussSigma*rng.NormFloat64()
		default:
			out[i] = s.Low + rng.Float64()*(s.Up-s.Low)
		}
	}
	return out
}

// DefaultPerturb proposes a single-coordinate Gaussian random-walk step
// scaled to 10% of each parameter's prior width, reflecting uniform-prior
// coordinates at their bounds; Gaussian-prior coordinates are not reflected.
// Its proposal is symmetric, so the returned log-Hastings correction is 0.
func DefaultPerturb(rng *rand.Rand, specs []ParamSpec, params []float64) float64 {
	free := make([]int, 0, len(specs))
	for i, s := range specs {
		if !s.Fixed {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return 0
	}
	i := free[rng.Intn(len(free))]
	s := specs[i]
	scale := 0.1
	var width float64
	if s.Kind == PriorGaussian {
		width = s.GaussSigma
	} else {
		width = s.Up - s.Low
	}
	params[i] += scale * width * rng.NormFloat64()
	if s.Kind == PriorUniform {
		params[i] = reflect(params[i], s.Low, s.Up)
	}
	return 0
}

func reflect(v, low, up float64) float64 {
	span := up - low
	if span <= 0 {
		return low
	}
	x := math.Mod(v-low, 2*span)
	if x < 0 {
		x += 2 * span
	}
	if x > span {
		x = 2*span - x
	}
	return low + x
}

func logPrior(specs []ParamSpec, params []float64) float64 {
	var lp float64
	for i, s := range specs {
		if s.Fixed {
			continue
		}
		switch s.Kind {
		case PriorGaussian:
			d := (params[i] - s.GaussMean) / s.GaussSigma
			lp += -0.5*d*d - math.Log(s.GaussSigma*math.Sqrt(2*math.Pi))
		default:
			if params[i] < s.Low || params[i] > s.Up {
				return math.Inf(-1)
			}
		}
	}
	return lp
}

// Sampler is the MCMC collaborator interface: given the parameter layout
// and a Callbacks bundle, it produces a posterior sample file at outPath
// in the "# N" + N-row format [ReadPosteriorSamples] parses.
type Sampler interface {
	Run(specs []ParamSpec, cb Callbacks, nParticles, nSteps int, outPath string) error
}

// DefaultSampler is a plain Metropolis-Hastings sampler: nParticles
// independent chains, each run for nSteps single-coordinate proposals,
// with every Thin-th post-burn-in particle state appended to the output file.
// It exists as a reference implementation of the Sampler seam; production
// fits are expected to swap in an external, better-mixing collaborator.
type DefaultSampler struct {
	Seed    int64
	BurnIn  int // steps discarded per chain before recording
	Thin    int // keep every Thin-th post-burn-in step; 1 keeps all
}

func (s DefaultSampler) Run(specs []ParamSpec, cb Callbacks, nParticles, nSteps int, outPath string) error {
	if nParticles <= 0 || nSteps <= 0 {
		return errors.New("drw: nParticles and nSteps must be positive")
	}
	prior := cb.Prior
	if prior == nil {
		prior = DefaultPrior
	}
	perturb := cb.Perturb
	if perturb == nil {
		perturb = DefaultPerturb
	}
	if cb.LogLikelihood == nil {
		return errors.New("drw: Callbacks.LogLikelihood is required")
	}

	thin := s.Thin
	if thin <= 0 {
		thin = 1
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("drw: create %s: %w", outPath, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	kept := make([][]float64, 0, nParticles*nSteps/thin)
	rng := rand.New(rand.NewSource(s.Seed))

	for p := 0; p < nParticles; p++ {
		x := prior(rng, specs)
		lp := logPrior(specs, x)
		ll, err := cb.LogLikelihood(x)
		if err != nil {
			return fmt.Errorf("drw: initial log-likelihood: %w", err)
		}
		cur := lp + ll

		for step := 0; step < nSteps; step++ {
			trial := append([]float64{}, x...)
			logHastings := perturb(rng, specs, trial)

			tlp := logPrior(specs, trial)
			if math.IsInf(tlp, -1) {
				continue
			}
			tll, err := cb.LogLikelihood(trial)
			if err != nil {
				return fmt.Errorf("drw: log-likelihood: %w", err)
			}
			proposed := tlp + tll

			if math.Log(rng.Float64()) < proposed-cur+logHastings {
				x, cur = trial, proposed
			}

			if step >= s.BurnIn && (step-s.BurnIn)%thin == 0 {
				kept = append(kept, append([]float64{}, x...))
			}
		}
	}

	if _, err := fmt.Fprintf(w, "# %d\n", len(kept)); err != nil {
		return fmt.Errorf("drw: write %s: %w", outPath, err)
	}
	for _, row := range kept {
		if cb.Print != nil {
			if err := cb.Print(w, row); err != nil {
				return fmt.Errorf("drw: write %s: %w", outPath, err)
			}
			continue
		}
		if err := writeRow(w, row); err != nil {
			return fmt.Errorf("drw: write %s: %w", outPath, err)
		}
	}
	return w.Flush()
}

func writeRow(w *bufio.Writer, row []float64) error {
	for i, v := range row {
		sep := "  "
		if i == 0 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "%s%.8e", sep, v); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
