package rbf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

// Model is a fitted RBF deformation. It is read-only once Fit returns and may
// be shared between goroutines.
type Model struct {
	Centers      []r3.Vec
	Radii        []float64
	Coefficients []r3.Vec

	// Frame is the convention of Centers and of the vectors returned by At.
	Frame grid.Frame
}

// Len returns the number of basis functions.
func (m *Model) Len() int { return len(m.Centers) }

// At returns Σ_l c_l·K(f_l, p, r_l) for a point p in the model's frame.
func (m *Model) At(p r3.Vec) r3.Vec {
	var v r3.Vec
	for l, c := range m.Centers {
		k := Kernel(c, p, m.Radii[l])
		w := m.Coefficients[l]
		v.X += w.X * k
		v.Y += w.Y * k
		v.Z += w.Z * k
	}
	return v
}

// ProgressFunc receives the fraction of voxels evaluated so far, in [0, 1].
// Calls are serialized and the fraction never decreases.
type ProgressFunc func(fraction float64)

// EvalOptions tunes Evaluate.
type EvalOptions struct {
	// Workers is the number of goroutines; zero means runtime.NumCPU().
	Workers int
	// Progress, if set, is called after every completed row of voxels.
	Progress ProgressFunc
}

// Evaluate writes the model's displacement at every voxel of field.
//
// Voxel centres are mapped to physical space with the field geometry. When the
// geometry frame differs from the model frame the point is converted before
// the kernel sum and the resulting vector converted back, so the field is
// always expressed in the geometry's own frame.
//
// Rows of voxels (fixed j, k) are split into contiguous ranges, one per
// worker; every voxel is written exactly once. Evaluate returns ctx.Err() if
// the context is cancelled before all rows are done.
func Evaluate(ctx context.Context, m *Model, field *grid.DisplacementField, opts EvalOptions) error {
	if m == nil || m.Len() == 0 {
		return errors.New("rbf: empty model")
	}
	if field == nil {
		return errors.New("rbf: nil displacement field")
	}

	geom := field.Geometry
	if err := geom.Validate(); err != nil {
		return fmt.Errorf("rbf: %w", err)
	}
	if len(field.Data) != 3*geom.NumVoxels() {
		return errors.New("rbf: displacement field buffer does not match its geometry")
	}

	nx, ny := geom.Size[0], geom.Size[1]
	rows := geom.Size[1] * geom.Size[2]
	total := float64(geom.NumVoxels())

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > rows {
		workers = rows
	}
	rowsPerWorker := (rows + workers - 1) / workers

	var (
		mu   sync.Mutex
		done int
	)
	report := func(n int) {
		if opts.Progress == nil {
			return
		}
		mu.Lock()
		done += n
		opts.Progress(float64(done) / total)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, rows)
		if start >= end {
			continue
		}

		g.Go(func() error {
			for row := start; row < end; row++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				j, k := row%ny, row/ny
				base := geom.LinearIndex(0, j, k)
				for i := 0; i < nx; i++ {
					p := geom.IndexToPhysical(float64(i), float64(j), float64(k))
					v := m.At(geom.Frame.Convert(p, m.Frame))
					field.SetLinear(base+i, m.Frame.Convert(v, geom.Frame))
				}
				report(nx)
			}
			return nil
		})
	}

	return g.Wait()
}
