// Package rbf fits a regularized Gaussian radial-basis-function deformation to
// paired landmarks and evaluates it over a voxel grid.
//
// The pipeline is BuildSystem → Solve → Evaluate; Fit wraps the first two.
// All functions are pure: the only mutable state is the output field handed
// to Evaluate.
package rbf

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kernel evaluates the radius-normalized Gaussian basis centred on center:
//
//	K = exp(-(‖point - center‖ / radius)²)
//
// radius must be positive.
func Kernel(center, point r3.Vec, radius float64) float64 {
	r := r3.Norm(r3.Sub(point, center)) / radius
	return math.Exp(-r * r)
}
