package models

import (
	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

// Landmark is a single control point
type Landmark struct {
	// Label is the point name shown in the markups editor
	Label string

	// Position is the physical location in mm
	Position r3.Vec

	// Radius is the per-point RBF support radius in mm; zero when unset
	Radius float64
}

// LandmarkSet is an ordered list of landmarks expressed in one frame
type LandmarkSet struct {
	Frame  grid.Frame
	Points []Landmark
}

// NewLandmarkSet builds a set from bare [x, y, z] positions
func NewLandmarkSet(frame grid.Frame, positions [][3]float64) *LandmarkSet {
	set := &LandmarkSet{Frame: frame, Points: make([]Landmark, len(positions))}
	for i, p := range positions {
		set.Points[i].Position = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}
	return set
}

// Len returns the number of landmarks
func (s *LandmarkSet) Len() int {
	return len(s.Points)
}

// Positions returns the landmark positions converted to frame to
func (s *LandmarkSet) Positions(to grid.Frame) []r3.Vec {
	out := make([]r3.Vec, len(s.Points))
	for i, p := range s.Points {
		out[i] = s.Frame.Convert(p.Position, to)
	}
	return out
}

// HasRadii reports whether any landmark carries its own radius
func (s *LandmarkSet) HasRadii() bool {
	for _, p := range s.Points {
		if p.Radius != 0 {
			return true
		}
	}
	return false
}

// Radii returns one radius per landmark, taking fallback[i] where a point
// has no radius of its own. fallback must already hold one entry per point.
func (s *LandmarkSet) Radii(fallback []float64) []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		if p.Radius != 0 {
			out[i] = p.Radius
		} else {
			out[i] = fallback[i]
		}
	}
	return out
}
