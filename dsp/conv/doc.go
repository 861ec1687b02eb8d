// Package conv provides convolution primitives for the pixon reconstruction
// engine: direct time-domain convolution (used as a correctness oracle in
// tests and for very short kernels) and the [Circular] FFT convolver that
// the pixon engine and the coupled continuum engine drive on every forward
// model evaluation.
//
// # Circular convolution contract
//
// [Circular] is constructed once per logical signal length n, with an
// internal zero-padded transform length chosen large enough that the
// expected kernel supports never wrap into the signal's own tail:
//
//	c, err := conv.NewCircular(n, padding, dt)
//	c.SetData(signal)                 // forward-transforms signal once
//	out, err := c.Convolve(kernel)     // one FFT pair per call, reuses signal's transform
//
// Repeated calls to Convolve with different kernels against the same
// signal (as the pixon engine does when multiple pixon sizes are active)
// amortize the cost of the signal's forward transform across all of them.
package conv
