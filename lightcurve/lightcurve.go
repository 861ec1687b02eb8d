// Package lightcurve holds the light curve data model shared by the DRW
// continuum model and the pixon reconstruction engines: three parallel
// aligned sequences (time, flux, uncertainty) plus the regular-grid
// construction used for reconstructions.
package lightcurve

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by Data construction and grid helpers.
var (
	ErrLengthMismatch   = errors.New("lightcurve: time, flux, and error slices must have equal length")
	ErrTooShort         = errors.New("lightcurve: at least two samples are required")
	ErrNonIncreasing    = errors.New("lightcurve: observation times must be strictly increasing")
	ErrNonPositiveError = errors.New("lightcurve: uncertainties must be positive")
)

// Data is a light curve: observation time, flux, and 1-sigma uncertainty,
// index-aligned across all three slices.
//
// Observed light curves are immutable once loaded. A reconstruction grid
// built with [NewRegularGrid] is mutable in Flux (and Error, for the DRW
// posterior) while a driver overwrites it with model values; its Time
// slice never changes after construction.
type Data struct {
	Time  []float64
	Flux  []float64
	Error []float64
}

// New validates and wraps three parallel slices as a Data.
func New(time, flux, errs []float64) (*Data, error) {
	if len(time) != len(flux) || len(time) != len(errs) {
		return nil, ErrLengthMismatch
	}
	if len(time) < 2 {
		return nil, ErrTooShort
	}
	for i := 1; i < len(time); i++ {
		if time[i] <= time[i-1] {
			return nil, fmt.Errorf("%w: t[%d]=%g <= t[%d]=%g", ErrNonIncreasing, i, time[i], i-1, time[i-1])
		}
	}
	for i, e := range errs {
		if e <= 0 {
			return nil, fmt.Errorf("%w: error[%d]=%g", ErrNonPositiveError, i, e)
		}
	}

	return &Data{Time: time, Flux: flux, Error: errs}, nil
}

// Len returns the number of samples.
func (d *Data) Len() int { return len(d.Time) }

// Step returns the equispaced time step, computed from the first two
// samples. Callers building a regular grid should use [NewRegularGrid]
// instead; this is for light curves that are already known to be regular.
func (d *Data) Step() float64 {
	if len(d.Time) < 2 {
		return 0
	}
	return d.Time[1] - d.Time[0]
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	out := &Data{
		Time:  make([]float64, len(d.Time)),
		Flux:  make([]float64, len(d.Flux)),
		Error: make([]float64, len(d.Error)),
	}
	copy(out.Time, d.Time)
	copy(out.Flux, d.Flux)
	copy(out.Error, d.Error)
	return out
}

// NewRegularGrid builds an equispaced reconstruction grid covering
// [obsStart-tBack, obsEnd+tForward] with step dt, so that a delay
// convolution over the same step has no edge deficit against the
// observed continuum span. Flux and Error are zero-initialized; a driver
// fills them in with model values.
//
// n is chosen as the smallest count of dt-spaced samples that covers the
// requested span; the actual span may extend slightly past tForward to
// land on a grid point.
func NewRegularGrid(obsStart, obsEnd, dt, tBack, tForward float64) (*Data, error) {
	if dt <= 0 {
		return nil, errors.New("lightcurve: grid step must be positive")
	}
	if obsEnd <= obsStart {
		return nil, errors.New("lightcurve: grid requires obsEnd > obsStart")
	}

	start := obsStart - tBack
	end := obsEnd + tForward
	n := int(math.Ceil((end-start)/dt-1e-9)) + 1
	if n < 2 {
		n = 2
	}

	time := make([]float64, n)
	for i := range time {
		time[i] = start + dt*float64(i)
	}

	return &Data{
		Time:  time,
		Flux:  make([]float64, n),
		Error: make([]float64, n),
	}, nil
}

// SetFlux overwrites the flux slice in place; len(flux) must equal d.Len().
func (d *Data) SetFlux(flux []float64) error {
	if len(flux) != len(d.Time) {
		return ErrLengthMismatch
	}
	copy(d.Flux, flux)
	return nil
}
