package drw

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-dsp/lightcurve"
)

func syntheticDRWSeries(n int, dt, sigma, tau float64, seed int64) *lightcurve.Data {
	rng := rand.New(rand.NewSource(seed))
	time := make([]float64, n)
	flux := make([]float64, n)
	errs := make([]float64, n)
	x := sigma * rng.NormFloat64()
	for i := range time {
		time[i] = float64(i) * dt
		if i > 0 {
			phi := math.Exp(-dt / tau)
			x = phi*x + math.Sqrt(sigma*sigma*(1-phi*phi))*rng.NormFloat64()
		}
		flux[i] = x + 0.01*rng.NormFloat64()
		errs[i] = 0.01
	}
	d, err := lightcurve.New(time, flux, errs)
	if err != nil {
		panic(err)
	}
	return d
}

func TestModelLogLikelihoodFinite(t *testing.T) {
	obs := syntheticDRWSeries(60, 1.0, 0.3, 20.0, 1)
	m, err := NewModel(obs, NQ)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	theta := Params{LogOnePlusFsys: 0, LogSigma: math.Log(0.3), LogTau: math.Log(20), Q: []float64{0}}
	ll, err := m.LogLikelihood(theta)
	if err != nil {
		t.Fatalf("LogLikelihood: %v", err)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		t.Fatalf("log-likelihood = %v, not finite", ll)
	}
}

func TestModelLogLikelihoodPrefersTrueTau(t *testing.T) {
	obs := syntheticDRWSeries(200, 1.0, 0.3, 30.0, 7)
	m, err := NewModel(obs, NQ)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	at := func(logTau float64) float64 {
		theta := Params{LogSigma: math.Log(0.3), LogTau: logTau, Q: []float64{0}}
		ll, err := m.LogLikelihood(theta)
		if err != nil {
			t.Fatalf("LogLikelihood: %v", err)
		}
		return ll
	}

	llTrue := at(math.Log(30))
	llFar := at(math.Log(0.5))
	if llTrue <= llFar {
		t.Errorf("log-likelihood at true tau=30 (%v) should exceed a badly wrong tau=0.5 (%v)", llTrue, llFar)
	}
}

func TestSemiseparableMatchesDenseSolve(t *testing.T) {
	n := 12
	t_ := make([]float64, n)
	obsVar := make([]float64, n)
	rng := rand.New(rand.NewSource(3))
	cur := 0.0
	for i := range t_ {
		cur += 0.5 + rng.Float64()
		t_[i] = cur
		obsVar[i] = 0.02 + 0.01*rng.Float64()
	}
	sigma2 := 0.25
	tauInv := 1.0 / 15.0

	ss, err := newSemiseparable(t_, sigma2, tauInv, obsVar)
	if err != nil {
		t.Fatalf("newSemiseparable: %v", err)
	}

	c := make([][]float64, n)
	for i := range c {
		c[i] = make([]float64, n)
		for j := range c[i] {
			c[i][j] = sigma2 * math.Exp(-math.Abs(t_[i]-t_[j])*tauInv)
		}
		c[i][i] += obsVar[i]
	}

	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}

	got := ss.solve(v)
	want := denseSolve(c, v)
	for i := range got {
		if math.Abs(got[i]-want[i]) > 1e-6*(1+math.Abs(want[i])) {
			t.Errorf("solve[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	gotQuad := ss.quadForm(v)
	wantQuad := dot(v, want)
	if math.Abs(gotQuad-wantQuad) > 1e-6*(1+math.Abs(wantQuad)) {
		t.Errorf("quadForm = %v, want %v", gotQuad, wantQuad)
	}

	gotLogDet := ss.logDet()
	wantLogDet := denseLogDet(c)
	if math.Abs(gotLogDet-wantLogDet) > 1e-5*(1+math.Abs(wantLogDet)) {
		t.Errorf("logDet = %v, want %v", gotLogDet, wantLogDet)
	}
}

// denseSolve solves c*x=v by Gauss-Jordan elimination, as an O(N^3)
// reference to check the O(N) semiseparable solver against.
func denseSolve(c [][]float64, v []float64) []float64 {
	n := len(c)
	aug := make([][]float64, n)
	for i := range aug {
		row := make([]float64, n+1)
		copy(row, c[i])
		row[n] = v[i]
		aug[i] = row
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		pv := aug[col][col]
		for k := col; k <= n; k++ {
			aug[col][k] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			for k := col; k <= n; k++ {
				aug[r][k] -= f * aug[col][k]
			}
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = aug[i][n]
	}
	return out
}

func denseLogDet(c [][]float64) float64 {
	n := len(c)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append([]float64{}, c[i]...)
	}
	var logdet float64
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if pivot != col {
			m[col], m[pivot] = m[pivot], m[col]
		}
		pv := m[col][col]
		logdet += math.Log(math.Abs(pv))
		for r := col + 1; r < n; r++ {
			f := m[r][col] / pv
			for k := col; k < n; k++ {
				m[r][k] -= f * m[col][k]
			}
		}
	}
	return logdet
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestModelReconstructProducesFiniteGrid(t *testing.T) {
	obs := syntheticDRWSeries(50, 1.0, 0.3, 20.0, 4)
	m, err := NewModel(obs, NQ)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	theta := Params{LogSigma: math.Log(0.3), LogTau: math.Log(20), Q: []float64{0}}

	grid := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		grid = append(grid, float64(i)*0.8)
	}
	rec, err := m.Reconstruct(theta, grid)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for i := range rec.Flux {
		if math.IsNaN(rec.Flux[i]) || math.IsInf(rec.Flux[i], 0) {
			t.Fatalf("flux[%d] = %v, not finite", i, rec.Flux[i])
		}
		if rec.Error[i] < 0 || math.IsNaN(rec.Error[i]) {
			t.Fatalf("error[%d] = %v, invalid", i, rec.Error[i])
		}
	}
}
