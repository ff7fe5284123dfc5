package rbf

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// SingularValueCutoff is the relative threshold below which singular values
// are treated as zero: σ ≤ SingularValueCutoff·σmax is discarded.
const SingularValueCutoff = 1e-6

// Strategy selects how the block-structured system is solved.
type Strategy int

const (
	// Block factors the shared N×N matrix once and solves the three axes as
	// three right-hand sides.
	Block Strategy = iota
	// Full assembles and factors the complete 3N×3N system.
	Full
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Block:
		return "block"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses "block" or "full".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "":
		return Block, nil
	case "full":
		return Full, nil
	default:
		return Block, fmt.Errorf("unknown solve strategy %q (must be block or full)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Solve returns the minimum-norm least-squares solution X of A·X = B using a
// singular value decomposition truncated at SingularValueCutoff. Rank
// deficient systems are approximated rather than rejected; an error is only
// returned if the decomposition itself fails to converge.
func Solve(a, b mat.Matrix) (*mat.Dense, error) {
	_, c := a.Dims()
	_, bc := b.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("rbf: singular value decomposition did not converge")
	}

	rank := svd.Rank(SingularValueCutoff)
	if rank == 0 {
		return mat.NewDense(c, bc, nil), nil
	}

	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	return &x, nil
}

// Fit builds and solves the system for p and returns the fitted model.
func Fit(p Problem, strategy Strategy) (*Model, error) {
	sys, err := BuildSystem(p)
	if err != nil {
		return nil, err
	}

	n := p.Len()
	coeffs := make([]r3.Vec, n)

	switch strategy {
	case Block:
		x, err := Solve(sys.A, sys.B)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			coeffs[i] = r3.Vec{X: x.At(i, 0), Y: x.At(i, 1), Z: x.At(i, 2)}
		}
	case Full:
		a, b := sys.Full()
		x, err := Solve(a, b)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			coeffs[i] = r3.Vec{X: x.At(3*i, 0), Y: x.At(3*i+1, 0), Z: x.At(3*i+2, 0)}
		}
	default:
		return nil, fmt.Errorf("rbf: unknown solve strategy %v", strategy)
	}

	m := &Model{
		Centers:      make([]r3.Vec, n),
		Radii:        make([]float64, n),
		Coefficients: coeffs,
		Frame:        p.Frame,
	}
	copy(m.Centers, p.Fixed)
	copy(m.Radii, p.Radii)
	return m, nil
}
