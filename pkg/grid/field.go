package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DisplacementField is a dense 3-component vector image. Data holds the x, y
// and z components of each voxel consecutively, voxels in LinearIndex order.
type DisplacementField struct {
	Geometry Geometry
	Data     []float64
}

// NewDisplacementField allocates a zeroed field on the given geometry.
func NewDisplacementField(g Geometry) (*DisplacementField, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field geometry: %w", err)
	}
	return &DisplacementField{
		Geometry: g,
		Data:     make([]float64, 3*g.NumVoxels()),
	}, nil
}

// At returns the vector stored at voxel (i, j, k).
func (f *DisplacementField) At(i, j, k int) r3.Vec {
	o := 3 * f.Geometry.LinearIndex(i, j, k)
	return r3.Vec{X: f.Data[o], Y: f.Data[o+1], Z: f.Data[o+2]}
}

// Set stores v at voxel (i, j, k).
func (f *DisplacementField) Set(i, j, k int, v r3.Vec) {
	f.SetLinear(f.Geometry.LinearIndex(i, j, k), v)
}

// SetLinear stores v at the voxel with the given linear index.
func (f *DisplacementField) SetLinear(linear int, v r3.Vec) {
	o := 3 * linear
	f.Data[o] = v.X
	f.Data[o+1] = v.Y
	f.Data[o+2] = v.Z
}

// Magnitude returns the per-voxel vector length in LinearIndex order.
func (f *DisplacementField) Magnitude() []float64 {
	n := f.Geometry.NumVoxels()
	out := make([]float64, n)
	for l := 0; l < n; l++ {
		o := 3 * l
		out[l] = math.Sqrt(f.Data[o]*f.Data[o] + f.Data[o+1]*f.Data[o+1] + f.Data[o+2]*f.Data[o+2])
	}
	return out
}
