// Package grid describes the voxel lattice a displacement field is sampled on.
// It owns the index to physical-point mapping (size, origin, spacing and
// direction cosines) and the dense vector buffer written by the evaluator.
package grid

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Frame names the anatomical coordinate convention physical points are
// expressed in. LPS and RAS differ by the sign of the x and y axes.
type Frame int

const (
	// LPS is the left-posterior-superior convention used by ITK and NRRD files.
	LPS Frame = iota
	// RAS is the right-anterior-superior convention used by Slicer markups.
	RAS
)

// String returns the short name of the frame.
func (f Frame) String() string {
	switch f {
	case LPS:
		return "LPS"
	case RAS:
		return "RAS"
	default:
		return fmt.Sprintf("Frame(%d)", int(f))
	}
}

// ParseFrame accepts "LPS"/"RAS" (case insensitive) and the long NRRD space names.
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lps", "left-posterior-superior":
		return LPS, nil
	case "ras", "right-anterior-superior":
		return RAS, nil
	default:
		return LPS, fmt.Errorf("unknown coordinate frame %q (must be LPS or RAS)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Frame) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Frame) UnmarshalText(text []byte) error {
	parsed, err := ParseFrame(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Convert maps p from frame f into frame to. The mapping is its own inverse.
func (f Frame) Convert(p r3.Vec, to Frame) r3.Vec {
	if f == to {
		return p
	}
	return r3.Vec{X: -p.X, Y: -p.Y, Z: p.Z}
}

// Geometry is the affine index to physical-point map of a voxel grid:
//
//	p = Origin + Direction · (Spacing ⊙ index)
//
// Direction is stored row-major; its columns are the unit axis directions.
type Geometry struct {
	Size      [3]int     `yaml:"size"`
	Origin    [3]float64 `yaml:"origin"`
	Spacing   [3]float64 `yaml:"spacing"`
	Direction [9]float64 `yaml:"direction"`
	Frame     Frame      `yaml:"frame"`
}

// IdentityDirection is the direction matrix of an axis-aligned grid.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// NewGeometry returns an axis-aligned LPS geometry with unit spacing at the origin.
func NewGeometry(nx, ny, nz int) Geometry {
	return Geometry{
		Size:      [3]int{nx, ny, nz},
		Spacing:   [3]float64{1, 1, 1},
		Direction: IdentityDirection,
		Frame:     LPS,
	}
}

// Validate checks that the geometry describes a non-empty grid with a usable
// affine map.
func (g Geometry) Validate() error {
	for d, n := range g.Size {
		if n <= 0 {
			return fmt.Errorf("grid size along axis %d must be positive, got %d", d, n)
		}
	}
	for d, s := range g.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("grid spacing along axis %d must be positive and finite, got %g", d, s)
		}
	}
	det := g.Direction[0]*(g.Direction[4]*g.Direction[8]-g.Direction[5]*g.Direction[7]) -
		g.Direction[1]*(g.Direction[3]*g.Direction[8]-g.Direction[5]*g.Direction[6]) +
		g.Direction[2]*(g.Direction[3]*g.Direction[7]-g.Direction[4]*g.Direction[6])
	if math.Abs(det) < 1e-12 {
		return fmt.Errorf("grid direction matrix is singular")
	}
	return nil
}

// NumVoxels returns the total number of voxels in the grid.
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// LinearIndex returns the buffer offset of voxel (i, j, k); x varies fastest.
func (g Geometry) LinearIndex(i, j, k int) int {
	return i + g.Size[0]*(j+g.Size[1]*k)
}

// VoxelIndex is the inverse of LinearIndex.
func (g Geometry) VoxelIndex(linear int) (i, j, k int) {
	i = linear % g.Size[0]
	linear /= g.Size[0]
	j = linear % g.Size[1]
	k = linear / g.Size[1]
	return i, j, k
}

// IndexToPhysical maps a (possibly fractional) voxel index to a physical point
// in the geometry's frame.
func (g Geometry) IndexToPhysical(i, j, k float64) r3.Vec {
	si := i * g.Spacing[0]
	sj := j * g.Spacing[1]
	sk := k * g.Spacing[2]
	d := &g.Direction
	return r3.Vec{
		X: g.Origin[0] + d[0]*si + d[1]*sj + d[2]*sk,
		Y: g.Origin[1] + d[3]*si + d[4]*sj + d[5]*sk,
		Z: g.Origin[2] + d[6]*si + d[7]*sj + d[8]*sk,
	}
}

// Axis returns the physical step taken when index d grows by one voxel.
func (g Geometry) Axis(d int) r3.Vec {
	return r3.Vec{
		X: g.Direction[d] * g.Spacing[d],
		Y: g.Direction[3+d] * g.Spacing[d],
		Z: g.Direction[6+d] * g.Spacing[d],
	}
}
