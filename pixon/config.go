package pixon

import "fmt"

// Config holds the reconstruction options recognized by the driver layer.
// Every field has a default matching the reference run configuration; a
// zero Config is not directly usable — call [DefaultConfig] and override.
type Config struct {
	ContPath string
	LinePath string

	// TauRangeLow and TauRangeUp bound the reconstructed delay axis, in
	// days. TauRangeLow may be negative to allow pre-onset lags.
	TauRangeLow float64
	TauRangeUp  float64
	// TauInterval is the reconstruction step, shared by the delay grid and
	// the continuum grid.
	TauInterval float64

	Basis Variant

	// PixonSubFactor and PixonSizeFactor scale the pixon size table
	// s_k = (k+1)/PixonSubFactor, up to MaxPixonSize entries.
	PixonSubFactor  float64
	PixonSizeFactor float64
	MaxPixonSize    int
	// PixonMapLowBound is the smallest size index the outer loop will
	// shrink to; reaching it on every pixel ends adaptation.
	PixonMapLowBound int
	// PixonUniform selects the uniform (single shared index) outer loop
	// instead of the per-pixel adaptive one.
	PixonUniform bool

	// DrvLCModel selects the driver mode: 0 continuum-pixon only, 1 DRW
	// only, 2 fixed-DRW-continuum, 3 run all.
	DrvLCModel int

	FixBG bool
	BG    float64

	Tol         float64
	NFEvalMax   int
	Sensitivity float64

	// OutputDir is where the driver writes the fixed-filename output set
	// for a run. Created if missing.
	OutputDir string

	// DRW MCMC fit knobs, consumed by driver's ModeDRWOnly/ModeAll/
	// ModeFixedDRWContinuum branches. DRWNQ is the trend order (default 1,
	// a single DC term); DRWFixFsys holds the systematic-error scale at
	// zero instead of fitting it (default true).
	DRWNQ         int
	DRWFixFsys    bool
	DRWNParticles int
	DRWNSteps     int
	DRWBurnIn     int
	DRWThin       int
	DRWSeed       int64
	DRWSampleFile string
}

// DrvLCModel values, see Config.DrvLCModel.
const (
	ModeContinuumPixon = iota
	ModeDRWOnly
	ModeFixedDRWContinuum
	ModeAll
)

// DefaultConfig returns a Config matching the reference run's defaults.
func DefaultConfig() Config {
	return Config{
		ContPath: "data/con.txt",
		LinePath: "data/line.txt",

		TauRangeLow: 0,
		TauRangeUp:  900,
		TauInterval: 10,

		Basis: VariantGaussian,

		PixonSubFactor:   1,
		PixonSizeFactor:  1,
		MaxPixonSize:     30,
		PixonMapLowBound: 0,
		PixonUniform:     false,

		DrvLCModel: ModeAll,

		FixBG: false,
		BG:    0,

		Tol:         1e-6,
		NFEvalMax:   10000,
		Sensitivity: 1,

		OutputDir: "output",

		DRWNQ:         1,
		DRWFixFsys:    true,
		DRWNParticles: 4,
		DRWNSteps:     2000,
		DRWBurnIn:     500,
		DRWThin:       2,
		DRWSeed:       1,
		DRWSampleFile: "drw_posterior.txt",
	}
}

// Validate checks the recognized options for internal consistency.
func (c Config) Validate() error {
	if c.TauRangeUp <= c.TauRangeLow {
		return fmt.Errorf("pixon: tau_range_up (%g) must exceed tau_range_low (%g)", c.TauRangeUp, c.TauRangeLow)
	}
	if c.TauInterval <= 0 {
		return fmt.Errorf("pixon: tau_interval must be positive, got %g", c.TauInterval)
	}
	if c.PixonSubFactor <= 0 || c.PixonSizeFactor <= 0 {
		return fmt.Errorf("pixon: pixon_sub_factor and pixon_size_factor must be positive")
	}
	if c.MaxPixonSize < 1 {
		return fmt.Errorf("pixon: max_pixon_size must be at least 1, got %d", c.MaxPixonSize)
	}
	if c.PixonMapLowBound < 0 || c.PixonMapLowBound >= c.MaxPixonSize {
		return fmt.Errorf("pixon: pixon_map_low_bound (%d) must be in [0, max_pixon_size)", c.PixonMapLowBound)
	}
	if c.Tol <= 0 {
		return fmt.Errorf("pixon: tol must be positive, got %g", c.Tol)
	}
	if c.NFEvalMax <= 0 {
		return fmt.Errorf("pixon: nfeval_max must be positive, got %d", c.NFEvalMax)
	}
	if c.Sensitivity < 0 {
		return fmt.Errorf("pixon: sensitivity must be non-negative, got %g", c.Sensitivity)
	}
	if c.DrvLCModel < ModeContinuumPixon || c.DrvLCModel > ModeAll {
		return fmt.Errorf("pixon: drv_lc_model %d out of range [0,3]", c.DrvLCModel)
	}
	if c.DRWNQ < 1 {
		return fmt.Errorf("pixon: drw_nq must be at least 1, got %d", c.DRWNQ)
	}
	if c.DRWNParticles <= 0 || c.DRWNSteps <= 0 {
		return fmt.Errorf("pixon: drw_n_particles and drw_n_steps must be positive")
	}
	return nil
}

// SizeTable returns the ordered pixon size table s_k = (k+1)/PixonSubFactor
// * PixonSizeFactor, for k = 0..MaxPixonSize-1.
func (c Config) SizeTable() []float64 {
	sizes := make([]float64, c.MaxPixonSize)
	for k := range sizes {
		sizes[k] = float64(k+1) / c.PixonSubFactor * c.PixonSizeFactor
	}
	return sizes
}
