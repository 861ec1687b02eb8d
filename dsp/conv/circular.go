package conv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Circular is a real-to-complex FFT convolver for a fixed logical length n.
// It caches the forward transform of one signal across many calls to
// Convolve with different kernels, which is the access pattern the pixon
// engine needs: the pseudo-image (or continuum) is transformed once per
// objective evaluation, then convolved against every distinct active pixon
// size.
//
// The transform length n_fft is zero-padded beyond n so that a circular
// convolution over n_fft samples agrees with the linear convolution on the
// first n samples, provided the kernel's one-sided support does not exceed
// the configured padding. Kernels symmetric about zero lag must be passed
// to [Circular.Convolve] pre-wrapped: positive lags at low indices,
// negative lags wrapped to the high end of the n_fft buffer (see
// pixon.WrapSymmetricKernel).
type Circular struct {
	n    int
	nFFT int
	dt   float64

	plan *algofft.Plan[complex128]

	signalFreq []complex128

	timeBuf []complex128
	freqBuf []complex128
	outBuf  []complex128
}

// NewCircular constructs a convolver for logical length n with n_pad extra
// zero-padded samples (n_fft = n+n_pad, raised to 2n when n+n_pad is
// smaller; callers pick n_pad to exceed the largest expected one-sided
// kernel support). dt is the time step used to
// scale the convolution result (∫ ≈ Δt · circular sum).
func NewCircular(n, nPad int, dt float64) (*Circular, error) {
	if n <= 0 {
		return nil, ErrEmptyInput
	}
	if nPad < 0 {
		return nil, ErrInvalidBlockSize
	}

	nFFT := n + nPad
	if nFFT < 2*n {
		nFFT = 2 * n
	}

	plan, err := algofft.NewPlan64(nFFT)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan: %w", err)
	}

	return &Circular{
		n:          n,
		nFFT:       nFFT,
		dt:         dt,
		plan:       plan,
		signalFreq: make([]complex128, nFFT),
		timeBuf:    make([]complex128, nFFT),
		freqBuf:    make([]complex128, nFFT),
		outBuf:     make([]complex128, nFFT),
	}, nil
}

// N returns the logical (unpadded) length.
func (c *Circular) N() int { return c.n }

// FFTSize returns the internal zero-padded transform length.
func (c *Circular) FFTSize() int { return c.nFFT }

// SetData copies signal (length <= n) into the real buffer, zero-pads it to
// n_fft, and forward-transforms it once. Subsequent Convolve calls reuse
// this transform until SetData is called again.
func (c *Circular) SetData(signal []float64) error {
	if len(signal) > c.nFFT {
		return ErrLengthMismatch
	}

	for i := range c.timeBuf {
		c.timeBuf[i] = 0
	}
	for i, v := range signal {
		c.timeBuf[i] = complex(v, 0)
	}

	if err := c.plan.Forward(c.signalFreq, c.timeBuf); err != nil {
		return fmt.Errorf("conv: forward FFT failed: %w", err)
	}
	return nil
}

// Convolve forward-transforms kernel (already wrapped for symmetric support,
// zero-padded to n_fft or shorter), multiplies it pointwise against the
// cached signal transform, inverse-transforms, and returns the first n
// samples scaled by dt.
func (c *Circular) Convolve(kernel []float64) ([]float64, error) {
	if len(kernel) > c.nFFT {
		return nil, ErrLengthMismatch
	}

	for i := range c.timeBuf {
		c.timeBuf[i] = 0
	}
	for i, v := range kernel {
		c.timeBuf[i] = complex(v, 0)
	}

	if err := c.plan.Forward(c.freqBuf, c.timeBuf); err != nil {
		return nil, fmt.Errorf("conv: forward FFT failed: %w", err)
	}

	for i := range c.outBuf {
		c.outBuf[i] = c.freqBuf[i] * c.signalFreq[i]
	}

	if err := c.plan.Inverse(c.outBuf, c.outBuf); err != nil {
		return nil, fmt.Errorf("conv: inverse FFT failed: %w", err)
	}

	scale := c.dt
	out := make([]float64, c.n)
	for i := 0; i < c.n; i++ {
		out[i] = real(c.outBuf[i]) * scale
	}
	return out, nil
}

// ConvolveInto behaves like Convolve but writes into a caller-supplied
// destination of length n, avoiding an allocation per call.
func (c *Circular) ConvolveInto(dst []float64, kernel []float64) error {
	if len(dst) != c.n {
		return ErrLengthMismatch
	}
	out, err := c.Convolve(kernel)
	if err != nil {
		return err
	}
	copy(dst, out)
	return nil
}
