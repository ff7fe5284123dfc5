package registration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/rbf"
)

// Configuration errors. They are reported before any kernel is evaluated.
var (
	ErrNoLandmarks       = errors.New("fixed and moving landmark lists must contain at least one point")
	ErrLandmarkMismatch  = errors.New("fixed and moving landmark lists must be of the same size")
	ErrRadiusCount       = errors.New("the number of RBF radii is more than one but does not match the number of landmarks")
	ErrNonPositiveRadius = errors.New("RBF radii must be positive")
	ErrNegativeStiffness = errors.New("stiffness must be non-negative")
	ErrNoReference       = errors.New("a reference geometry must be specified")
	ErrNoOutput          = errors.New("an output displacement field must be specified")
)

// GeometryProvider supplies the grid the displacement field is sampled on,
// usually by reading the header of a reference volume.
type GeometryProvider interface {
	Geometry() (grid.Geometry, error)
}

// StaticGeometry is a GeometryProvider for a geometry known up front.
type StaticGeometry grid.Geometry

// Geometry implements GeometryProvider.
func (s StaticGeometry) Geometry() (grid.Geometry, error) {
	return grid.Geometry(s), nil
}

// FieldWriter persists a finished displacement field.
type FieldWriter interface {
	WriteField(field *grid.DisplacementField) error
}

// Params holds the registration inputs.
type Params struct {
	// Fixed and Moving are paired by position.
	Fixed  []r3.Vec
	Moving []r3.Vec

	// Radii holds either one radius for every landmark or one per landmark.
	Radii []float64

	// Stiffness weights the smoothness penalty; 0 interpolates.
	Stiffness float64

	// LandmarkFrame is the coordinate convention of Fixed and Moving.
	LandmarkFrame grid.Frame

	// Strategy selects the block or full linear solve.
	Strategy rbf.Strategy

	// NumCores bounds the number of evaluation goroutines; 0 uses all CPUs.
	NumCores int

	Reference GeometryProvider
	Output    FieldWriter

	// Progress optionally receives the evaluated fraction of the grid.
	Progress rbf.ProgressFunc
}

// Validate checks the input contract.
func (p *Params) Validate() error {
	n := len(p.Fixed)
	if n == 0 || len(p.Moving) == 0 {
		return ErrNoLandmarks
	}
	if n != len(p.Moving) {
		return fmt.Errorf("%w (%d fixed, %d moving)", ErrLandmarkMismatch, n, len(p.Moving))
	}
	if _, err := ExpandRadii(p.Radii, n); err != nil {
		return err
	}
	if p.Stiffness < 0 || math.IsNaN(p.Stiffness) {
		return fmt.Errorf("%w, got %g", ErrNegativeStiffness, p.Stiffness)
	}
	if p.Reference == nil {
		return ErrNoReference
	}
	if p.Output == nil {
		return ErrNoOutput
	}
	return nil
}

// ExpandRadii returns one radius per landmark. A single radius is broadcast
// to all n landmarks; otherwise the count must equal n.
func ExpandRadii(radii []float64, n int) ([]float64, error) {
	if len(radii) == 0 {
		return nil, fmt.Errorf("%w: no radius given", ErrNonPositiveRadius)
	}
	if len(radii) > 1 && len(radii) != n {
		return nil, fmt.Errorf("%w (%d radii, %d landmarks)", ErrRadiusCount, len(radii), n)
	}

	out := make([]float64, n)
	for i := range out {
		r := radii[0]
		if len(radii) > 1 {
			r = radii[i]
		}
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: radius %d is %g", ErrNonPositiveRadius, i, r)
		}
		out[i] = r
	}
	return out, nil
}
