// Package pixon implements the pixon-based reconstruction engine: the
// pixon kernel basis, the χ²+entropy objective and its analytic gradients,
// the bounded-optimizer seam, and the outer pixon-map adaptation loop.
package pixon

import (
	"errors"
	"fmt"
	"math"
)

// Variant selects which pixon kernel shape an engine uses. The dispatch is
// a single tagged value chosen at construction time and stored on the
// engine (or on a standalone [Basis]), rather than the process-wide
// function-pointer dispatch of the reference implementation this was
// ported from.
type Variant int

// Recognized pixon kernel variants, matching the pixon_basis_type
// configuration values.
const (
	VariantParabloid Variant = iota
	VariantGaussian
	VariantModifiedGaussian
	VariantLorentz
	VariantWendland
	VariantTriangle
	VariantTophat
)

// ErrUnknownVariant is returned by NewBasis for an unrecognized Variant.
var ErrUnknownVariant = errors.New("pixon: unknown basis variant")

func (v Variant) String() string {
	switch v {
	case VariantParabloid:
		return "parabloid"
	case VariantGaussian:
		return "gaussian"
	case VariantModifiedGaussian:
		return "modified_gaussian"
	case VariantLorentz:
		return "lorentz"
	case VariantWendland:
		return "wendland"
	case VariantTriangle:
		return "triangle"
	case VariantTophat:
		return "tophat"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// erf3Over2 = erf(3/sqrt(2)), the fraction of a unit Gaussian's mass within
// +/-3 sigma; it sets the gaussian kernel's normalization so that the
// truncated kernel still integrates to 1 over its support.
var erf3Over2 = math.Erf(3 / math.Sqrt2)

// gaussianEdgeClip is exp(-4.5), the value a unit Gaussian takes at the
// +/-3 sigma truncation boundary — used by the modified-gaussian variant
// to clip the kernel to zero at its edge instead of leaving a step.
var gaussianEdgeClip = math.Exp(-4.5)

// modifiedGaussianAreaFactor is the constant part of the modified
// Gaussian's normalizing integral: s*modifiedGaussianAreaFactor is the
// (unnormalized) area under exp(-0.5(x/s)^2)-gaussianEdgeClip over
// [-3s, 3s].
var modifiedGaussianAreaFactor = math.Sqrt(2*math.Pi)*erf3Over2 - 6*gaussianEdgeClip

// lorentzArctan3 = atan(3), used to renormalize the truncated Lorentzian
// so it integrates to 1 over its +/-3s support.
var lorentzArctan3 = math.Atan(3)

// wendlandAreaFactor is the constant part of the Wendland C2 kernel's
// normalizing integral over its +/-s support.
const wendlandAreaFactor = 2.0 / 3.0

// Basis evaluates one pixon kernel variant. It is immutable after
// construction and holds no per-pixel state, so a single instance can be
// shared by every pixel and every engine using the same variant.
type Basis struct {
	variant Variant
}

// NewBasis constructs a Basis for the given variant.
func NewBasis(v Variant) (*Basis, error) {
	switch v {
	case VariantParabloid, VariantGaussian, VariantModifiedGaussian,
		VariantLorentz, VariantWendland, VariantTriangle, VariantTophat:
		return &Basis{variant: v}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, int(v))
	}
}

// Variant reports the configured kernel shape.
func (b *Basis) Variant() Variant { return b.variant }

// Support returns the one-sided support, in pixels, of the kernel at scale
// s: the kernel is guaranteed zero for |j-i| > Support(s).
func (b *Basis) Support(s float64) float64 {
	switch b.variant {
	case VariantParabloid, VariantGaussian, VariantModifiedGaussian, VariantLorentz:
		return 3 * s
	default: // wendland, triangle, tophat
		return s
	}
}

// Eval returns K(j, i, s): the kernel centered at pixel i, evaluated at
// pixel j, with scale s. It depends only on delta = j-i, so it is
// shift-invariant and symmetric in (i, j).
func (b *Basis) Eval(j, i int, s float64) float64 {
	delta := float64(j - i)
	return b.EvalDelta(delta, s)
}

// EvalDelta is Eval expressed directly in terms of delta = j-i; it is the
// form used when building an FFT kernel row, where only the offset matters.
func (b *Basis) EvalDelta(delta, s float64) float64 {
	if s <= 0 {
		return 0
	}
	ad := math.Abs(delta)

	switch b.variant {
	case VariantParabloid:
		if ad > 3*s {
			return 0
		}
		u := delta / (3 * s)
		return (1 - u*u) / (4 * s)

	case VariantGaussian:
		if ad > 3*s {
			return 0
		}
		return math.Exp(-0.5*delta*delta/(s*s)) / (math.Sqrt(2*math.Pi) * s * erf3Over2)

	case VariantModifiedGaussian:
		if ad > 3*s {
			return 0
		}
		raw := math.Exp(-0.5*delta*delta/(s*s)) - gaussianEdgeClip
		if raw < 0 {
			raw = 0
		}
		return raw / (s * modifiedGaussianAreaFactor)

	case VariantLorentz:
		if ad > 3*s {
			return 0
		}
		return 1 / (2 * s * lorentzArctan3 * (1 + delta*delta/(s*s)))

	case VariantWendland:
		if ad > s {
			return 0
		}
		r := ad / s
		shape := math.Pow(1-r, 4) * (4*r + 1)
		return shape / (s * wendlandAreaFactor)

	case VariantTriangle:
		if ad > s {
			return 0
		}
		return (1 - ad/s) / s

	case VariantTophat:
		if ad > s {
			return 0
		}
		return 1 / (2*s + 1)

	default:
		return 0
	}
}

// Norm returns N(s), the "effective pixel count" weight used by the
// entropy prefactor: it is the kernel's own normalizing prefactor
// (equivalently, its peak value's scale dependence), which shrinks as s
// grows — a wider pixon covers more literal pixels with less density, so
// it contributes fewer effective pixels to N_pix_eff.
func (b *Basis) Norm(s float64) float64 {
	if s <= 0 {
		return 0
	}
	switch b.variant {
	case VariantParabloid:
		return 1 / (4 * s)
	case VariantGaussian:
		return 1 / (math.Sqrt(2*math.Pi) * s * erf3Over2)
	case VariantModifiedGaussian:
		return 1 / (s * modifiedGaussianAreaFactor)
	case VariantLorentz:
		return 1 / (2 * s * lorentzArctan3)
	case VariantWendland:
		return 1 / (s * wendlandAreaFactor)
	case VariantTriangle:
		return 1 / s
	case VariantTophat:
		return 1 / (2*s + 1)
	default:
		return 0
	}
}
