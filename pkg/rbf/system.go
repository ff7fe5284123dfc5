package rbf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"rbfwarp/pkg/grid"
)

// Problem is a landmark registration to be fitted. Fixed[i] and Moving[i]
// form a pair; Radii holds one positive support radius per pair.
type Problem struct {
	Fixed     []r3.Vec
	Moving    []r3.Vec
	Radii     []float64
	Stiffness float64

	// Frame is the coordinate convention of Fixed and Moving.
	Frame grid.Frame
}

// Len returns the number of landmark pairs.
func (p Problem) Len() int { return len(p.Fixed) }

// Validate checks the structural preconditions of the system builder.
func (p Problem) Validate() error {
	n := len(p.Fixed)
	switch {
	case n == 0:
		return errors.New("rbf: no landmarks")
	case len(p.Moving) != n:
		return fmt.Errorf("rbf: %d fixed landmarks but %d moving landmarks", n, len(p.Moving))
	case len(p.Radii) != n:
		return fmt.Errorf("rbf: %d landmarks but %d radii", n, len(p.Radii))
	case p.Stiffness < 0 || math.IsNaN(p.Stiffness):
		return fmt.Errorf("rbf: stiffness must be non-negative, got %g", p.Stiffness)
	}
	for i, r := range p.Radii {
		if !(r > 0) {
			return fmt.Errorf("rbf: radius %d must be positive, got %g", i, r)
		}
	}
	return nil
}

// MeanRadius returns the arithmetic mean of the per-landmark radii.
func (p Problem) MeanRadius() float64 {
	return stat.Mean(p.Radii, nil)
}

// System is the normal-equations system of the fit. The coefficient matrix is
// identical for the three axes, so it is kept once as the N×N block A; column
// d of B is the right-hand side of axis d.
type System struct {
	A *mat.SymDense
	B *mat.Dense
}

// kernelTable returns Φ with Φ(k, i) = K(f_k, f_i, r_k): row k holds the
// kernel of landmark k sampled at every landmark.
func kernelTable(fixed []r3.Vec, radii []float64) *mat.Dense {
	n := len(fixed)
	phi := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		row := phi.RawRowView(k)
		for i := 0; i < n; i++ {
			row[i] = Kernel(fixed[k], fixed[i], radii[k])
		}
	}
	return phi
}

// BaseMatrix returns A0 = ΦᵀΦ, i.e.
//
//	A0(i,j) = Σ_k K(f_i, f_k, r_k) · K(f_j, f_k, r_k)
//
// stored symmetrically.
func BaseMatrix(fixed []r3.Vec, radii []float64) *mat.SymDense {
	phi := kernelTable(fixed, radii)
	a0 := mat.NewSymDense(len(fixed), nil)
	a0.SymOuterK(1, phi.T())
	return a0
}

// Regularization returns the smoothing-energy matrix added to A0, before
// scaling by stiffness.
func Regularization(fixed []r3.Vec, radii []float64, meanRadius float64) *mat.SymDense {
	n := len(fixed)
	prefactor := math.Pow(math.Sqrt(math.Pi/2), 3) / meanRadius
	reg := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		reg.SetSym(i, i, 15*prefactor)
		for j := i + 1; j < n; j++ {
			dist := r3.Norm(r3.Sub(fixed[i], fixed[j]))
			r2 := (dist / radii[i]) * (dist / radii[j])
			e := math.Exp(-r2 / 2)
			if e == 0 {
				// Far apart or tiny radii: the polynomial factor would overflow.
				continue
			}
			d := r2 - 5
			reg.SetSym(i, j, prefactor*e*(-10+d*d))
		}
	}
	return reg
}

// BuildSystem assembles A = A0 + stiffness·R and the per-axis right-hand
// sides b_i[d] = -Σ_j K(f_i, f_j, r_j)·(f_j - m_j)[d].
func BuildSystem(p Problem) (*System, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Len()

	phi := kernelTable(p.Fixed, p.Radii)

	a := mat.NewSymDense(n, nil)
	a.SymOuterK(1, phi.T())
	if p.Stiffness != 0 {
		a.AddSym(a, scaledSym(p.Stiffness, Regularization(p.Fixed, p.Radii, p.MeanRadius())))
	}

	delta := mat.NewDense(n, 3, nil)
	for j := 0; j < n; j++ {
		d := r3.Sub(p.Fixed[j], p.Moving[j])
		delta.SetRow(j, []float64{d.X, d.Y, d.Z})
	}
	b := mat.NewDense(n, 3, nil)
	b.Mul(phi.T(), delta)
	b.Scale(-1, b)

	return &System{A: a, B: b}, nil
}

func scaledSym(f float64, s *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.ScaleSym(f, s)
	return out
}

// Full expands the block system to the 3N×3N form with row 3i+d holding
// landmark i, axis d.
func (s *System) Full() (*mat.Dense, *mat.VecDense) {
	n := s.A.SymmetricDim()
	a := mat.NewDense(3*n, 3*n, nil)
	b := mat.NewVecDense(3*n, nil)
	for i := 0; i < n; i++ {
		for d := 0; d < 3; d++ {
			b.SetVec(3*i+d, s.B.At(i, d))
			for j := 0; j < n; j++ {
				a.Set(3*i+d, 3*j+d, s.A.At(i, j))
			}
		}
	}
	return a, b
}
