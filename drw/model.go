// Package drw implements a damped-random-walk (DRW) Gaussian-process
// continuum model: the semiseparable covariance decomposition that
// evaluates the marginal log-likelihood and posterior reconstruction in
// O(N), and the MCMC sampler seam that fits its hyperparameters.
package drw

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/lightcurve"
)

// Params is the DRW parameter vector theta = (log(1+f_sys), log(sigma),
// log(tau), q), with q the length-NQ standardized trend coefficients
// (q_actual = qhat + chol(Cq)*q, not q itself; see [Model.LogLikelihood]).
type Params struct {
	LogOnePlusFsys float64
	LogSigma       float64
	LogTau         float64
	Q              []float64
}

// Vector flattens Params into the parameter vector a [Sampler]
// operates on: [LogOnePlusFsys, LogSigma, LogTau, Q...].
func (p Params) Vector() []float64 {
	v := make([]float64, 3+len(p.Q))
	v[0], v[1], v[2] = p.LogOnePlusFsys, p.LogSigma, p.LogTau
	copy(v[3:], p.Q)
	return v
}

// ParamsFromVector inflates a flat parameter vector back into Params.
func ParamsFromVector(v []float64) Params {
	q := make([]float64, len(v)-3)
	copy(q, v[3:])
	return Params{LogOnePlusFsys: v[0], LogSigma: v[1], LogTau: v[2], Q: q}
}

// Sigma returns the process amplitude exp(LogSigma).
func (p Params) Sigma() float64 { return math.Exp(p.LogSigma) }

// Tau returns the process decay time exp(LogTau).
func (p Params) Tau() float64 { return math.Exp(p.LogTau) }

// Fsys returns the systematic-error scale factor exp(LogOnePlusFsys)-1.
func (p Params) Fsys() float64 { return math.Exp(p.LogOnePlusFsys) - 1 }

// Default prior bounds. LogOnePlusFsys is held at 0 (no systematic
// inflation) when Model.FixFsys is set, as the driver's default
// configuration does; otherwise it is sampled within these bounds.
var (
	BoundLogOnePlusFsysLow = 0.0
	BoundLogOnePlusFsysUp  = math.Log(11)
	BoundLogSigmaLow       = math.Log(1e-6)
	BoundLogSigmaUp        = math.Log(1)
	BoundLogTauLow         = 0.0
	BoundLogTauUp          = math.Log(1e4)
)

// NQ is the default trend order: a single DC term.
const NQ = 1

// Model holds one observed continuum light curve and the trend design
// matrix built from it. It carries no mutable fit state; every evaluation
// is a pure function of theta.
type Model struct {
	Obs    *lightcurve.Data
	NQ     int
	FixFsys bool // if true, LogOnePlusFsys is held at 0 in LogLikelihood

	design [][]float64 // N x NQ trend design matrix L
}

// NewModel constructs a Model over obs with an NQ-term polynomial trend
// design matrix (NQ=1 is the default: a single DC/mean term).
func NewModel(obs *lightcurve.Data, nq int) (*Model, error) {
	if nq < 1 {
		return nil, errors.New("drw: nq must be at least 1")
	}
	n := obs.Len()
	design := make([][]float64, n)
	t0 := obs.Time[0]
	for i := range design {
		row := make([]float64, nq)
		dt := obs.Time[i] - t0
		pow := 1.0
		for k := 0; k < nq; k++ {
			row[k] = pow
			pow *= dt
		}
		design[i] = row
	}
	return &Model{Obs: obs, NQ: nq, design: design}, nil
}

// obsVariance returns the total per-point noise variance sigma_i^2 +
// (f_sys * mean(sigma))^2 used by the likelihood.
func (m *Model) obsVariance(fsys float64) []float64 {
	n := m.Obs.Len()
	var meanSigma float64
	for _, s := range m.Obs.Error {
		meanSigma += s
	}
	meanSigma /= float64(n)
	sysTerm := fsys * meanSigma
	sysTerm *= sysTerm

	out := make([]float64, n)
	for i, s := range m.Obs.Error {
		out[i] = s*s + sysTerm
	}
	return out
}

// LogLikelihood evaluates the trend-marginalized Gaussian log-likelihood
// at theta: builds the semiseparable decomposition from
// (sigma, tau, obsVariance), solves for the marginal trend q-hat and its
// covariance Cq in closed form, substitutes the sampled standardized
// trend q = qhat + chol(Cq)*theta.Q, and returns the resulting Gaussian
// log-density.
func (m *Model) LogLikelihood(theta Params) (float64, error) {
	fsys := theta.Fsys()
	if m.FixFsys {
		fsys = 0
	}
	sigma2 := theta.Sigma() * theta.Sigma()
	tauInv := 1 / theta.Tau()

	ss, err := newSemiseparable(m.Obs.Time, sigma2, tauInv, m.obsVariance(fsys))
	if err != nil {
		return 0, err
	}

	n := m.Obs.Len()
	y := m.Obs.Flux

	// Cq^-1 = L^T C^-1 L ; yq = L^T C^-1 y
	cqInv := make([][]float64, m.NQ)
	for k := range cqInv {
		cqInv[k] = make([]float64, m.NQ)
	}
	yq := make([]float64, m.NQ)

	cInvY := ss.solve(y)
	for k := 0; k < m.NQ; k++ {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = m.design[i][k]
		}
		cInvCol := ss.solve(col)
		for j := 0; j < m.NQ; j++ {
			var s float64
			for i := 0; i < n; i++ {
				s += m.design[i][j] * cInvCol[i]
			}
			cqInv[k][j] = s
		}
		var s float64
		for i := 0; i < n; i++ {
			s += col[i] * cInvY[i]
		}
		yq[k] = s
	}

	cq, err := invertSmall(cqInv)
	if err != nil {
		return 0, fmt.Errorf("drw: trend covariance is singular: %w", err)
	}
	qhat := matVec(cq, yq)

	cqChol, err := cholesky(cq)
	if err != nil {
		return 0, fmt.Errorf("drw: trend covariance Cholesky failed: %w", err)
	}
	q := addVec(qhat, matVec(cqChol, theta.Q))

	resid := make([]float64, n)
	for i := range resid {
		var lq float64
		for k := 0; k < m.NQ; k++ {
			lq += m.design[i][k] * q[k]
		}
		resid[i] = y[i] - lq
	}

	quad := ss.quadForm(resid)
	lndet := ss.logDet()

	logL := -0.5 * (quad + lndet + float64(n)*math.Log(2*math.Pi))
	return logL, nil
}

// ReconstructGrid is the (t, flux, error) output of [Model.Reconstruct].
type ReconstructGrid = lightcurve.Data

// Reconstruct evaluates the posterior mean and variance of the DRW process
// on grid (typically [lightcurve.NewRegularGrid]'s time axis) at the
// posterior-mean parameters theta: s_hat = S C^-1 (y - L qhat), with
// diagonal variance sigma^2 + fsys^2 - (S C^-1 S^T)_ii.
func (m *Model) Reconstruct(theta Params, gridTimes []float64) (*ReconstructGrid, error) {
	fsys := theta.Fsys()
	if m.FixFsys {
		fsys = 0
	}
	sigma := theta.Sigma()
	sigma2 := sigma * sigma
	tau := theta.Tau()
	tauInv := 1 / tau

	ss, err := newSemiseparable(m.Obs.Time, sigma2, tauInv, m.obsVariance(fsys))
	if err != nil {
		return nil, err
	}

	n := m.Obs.Len()
	y := m.Obs.Flux

	cqInv := make([][]float64, m.NQ)
	for k := range cqInv {
		cqInv[k] = make([]float64, m.NQ)
	}
	yq := make([]float64, m.NQ)
	cInvY := ss.solve(y)
	for k := 0; k < m.NQ; k++ {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = m.design[i][k]
		}
		cInvCol := ss.solve(col)
		for j := 0; j < m.NQ; j++ {
			var s float64
			for i := 0; i < n; i++ {
				s += m.design[i][j] * cInvCol[i]
			}
			cqInv[k][j] = s
		}
		var s float64
		for i := 0; i < n; i++ {
			s += col[i] * cInvY[i]
		}
		yq[k] = s
	}
	cq, err := invertSmall(cqInv)
	if err != nil {
		return nil, fmt.Errorf("drw: trend covariance is singular: %w", err)
	}
	qhat := matVec(cq, yq)

	resid := make([]float64, n)
	for i := range resid {
		var lq float64
		for k := 0; k < m.NQ; k++ {
			lq += m.design[i][k] * qhat[k]
		}
		resid[i] = y[i] - lq
	}
	cInvResid := ss.solve(resid)

	nr := len(gridTimes)
	flux := make([]float64, nr)
	errs := make([]float64, nr)
	for i, tr := range gridTimes {
		srow := make([]float64, n)
		for j, td := range m.Obs.Time {
			srow[j] = sigma2 * math.Exp(-math.Abs(tr-td)*tauInv)
		}
		var mean float64
		for j := range srow {
			mean += srow[j] * cInvResid[j]
		}
		flux[i] = mean

		cInvSrow := ss.solve(srow)
		var sCinvSt float64
		for j := range srow {
			sCinvSt += srow[j] * cInvSrow[j]
		}
		variance := sigma2 + fsys*fsys - sCinvSt
		if variance < 0 {
			variance = 0
		}
		errs[i] = math.Sqrt(variance)
	}

	out := &lightcurve.Data{Time: append([]float64{}, gridTimes...), Flux: flux, Error: errs}
	return out, nil
}
