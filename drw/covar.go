package drw

import "fmt"

// CovarModel exposes the O(N) DRW covariance operations a Gaussian-process
// prior term needs — log-determinant, quadratic form, and linear solve —
// built from the same semiseparable decomposition [Model.LogLikelihood]
// uses internally, but over hyperparameters that are already fixed (not
// refit on every call).
type CovarModel struct {
	ss *semiseparable
}

// NewCovarModel builds the semiseparable decomposition of
// C = sigma^2*exp(-|dt|/tau) + jitter*I over times, which must be strictly
// ascending. jitter is a small diagonal loading guarding against a singular
// factorization on a near-degenerate grid.
func NewCovarModel(times []float64, sigma, tau, jitter float64) (*CovarModel, error) {
	if sigma <= 0 || tau <= 0 {
		return nil, fmt.Errorf("drw: covariance sigma (%g) and tau (%g) must be positive", sigma, tau)
	}
	obsVar := make([]float64, len(times))
	for i := range obsVar {
		obsVar[i] = jitter
	}
	ss, err := newSemiseparable(times, sigma*sigma, 1/tau, obsVar)
	if err != nil {
		return nil, err
	}
	return &CovarModel{ss: ss}, nil
}

// LogDet returns log(det(C)).
func (m *CovarModel) LogDet() float64 { return m.ss.logDet() }

// QuadForm returns v^T C^-1 v.
func (m *CovarModel) QuadForm(v []float64) float64 { return m.ss.quadForm(v) }

// Solve returns C^-1 v.
func (m *CovarModel) Solve(v []float64) []float64 { return m.ss.solve(v) }
