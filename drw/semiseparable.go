package drw

import (
	"errors"
	"math"
)

// semiseparable is the O(N) Kalman-filter factorization of the DRW
// covariance matrix C_ij = sigma2*exp(-|t_i-t_j|/tau) + diag(obsVar):
// a scalar AR(1)-plus-noise state-space model whose forward filter
// yields the same (W, D, phi) semiseparable structure: phi is the
// per-step decay, D is the innovation variance (the diagonal of the
// LDL^T factor C=L D L^T), and gain/rho drive the O(N) triangular
// solves used by [semiseparable.solve] and [semiseparable.quadForm].
type semiseparable struct {
	n     int
	phi   []float64 // phi[i] = exp(-(t[i]-t[i-1])/tau), phi[0] unused
	gain  []float64 // Kalman gain K[i] = Ppred[i]/D[i]
	rho   []float64 // rho[i] = phi[i]*(1-gain[i]), rho[0] unused
	d     []float64 // innovation variance D[i]
}

func newSemiseparable(t []float64, sigma2, tauInv float64, obsVar []float64) (*semiseparable, error) {
	n := len(t)
	if n == 0 {
		return nil, errors.New("drw: empty time series")
	}
	ss := &semiseparable{
		n:    n,
		phi:  make([]float64, n),
		gain: make([]float64, n),
		rho:  make([]float64, n),
		d:    make([]float64, n),
	}

	var ppost float64
	for i := 0; i < n; i++ {
		var ppred float64
		if i == 0 {
			ppred = sigma2
		} else {
			dt := t[i] - t[i-1]
			ss.phi[i] = math.Exp(-dt * tauInv)
			q := sigma2 * (1 - ss.phi[i]*ss.phi[i])
			ppred = ss.phi[i]*ss.phi[i]*ppost + q
		}
		a := obsVar[i]
		d := ppred + a
		if d <= 0 {
			return nil, errors.New("drw: non-positive innovation variance, check sigma/tau/noise")
		}
		ss.d[i] = d
		ss.gain[i] = ppred / d
		ss.rho[i] = ss.phi[i] * (1 - ss.gain[i])
		ppost = ppred * a / d
	}
	return ss, nil
}

// logDet returns log(det(C)) = sum(log(D_i)).
func (ss *semiseparable) logDet() float64 {
	var s float64
	for _, d := range ss.d {
		s += math.Log(d)
	}
	return s
}

// innovations computes e = L^-1 v, the Kalman-filter forward pass applied
// to an arbitrary vector v treated as the data sequence.
func (ss *semiseparable) innovations(v []float64) []float64 {
	n := ss.n
	e := make([]float64, n)
	mpost := make([]float64, n)
	for i := 0; i < n; i++ {
		var mpred float64
		if i > 0 {
			mpred = ss.phi[i] * mpost[i-1]
		}
		e[i] = v[i] - mpred
		mpost[i] = mpred + ss.gain[i]*e[i]
	}
	return e
}

// solve computes C^-1 v in O(N) via forward substitution (innovations,
// equivalent to L^-1 v), elementwise division by D (D^-1), and backward
// substitution for L^-T, derived from the LDL^T factorization implied by
// the Kalman filter above.
func (ss *semiseparable) solve(v []float64) []float64 {
	n := ss.n
	e := ss.innovations(v)
	u := make([]float64, n)
	for i := range u {
		u[i] = e[i] / ss.d[i]
	}

	z := make([]float64, n)
	var g float64
	z[n-1] = u[n-1]
	for j := n - 2; j >= 0; j-- {
		g = ss.phi[j+1]*u[j+1] + ss.rho[j+1]*g
		z[j] = u[j] - ss.gain[j]*g
	}
	return z
}

// quadForm returns v^T C^-1 v = sum(e_i^2 / D_i), with e the forward
// innovations of v.
func (ss *semiseparable) quadForm(v []float64) float64 {
	e := ss.innovations(v)
	var s float64
	for i, ei := range e {
		s += ei * ei / ss.d[i]
	}
	return s
}
