// Package interp provides interpolation primitives used to resample a
// regularly gridded model (continuum or line light curve) onto arbitrary
// query times.
//
// Available methods:
//
//   - [GridLinear]: linear interpolation of a value sampled on an equispaced grid.
package interp
