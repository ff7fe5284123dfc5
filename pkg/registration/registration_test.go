package registration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/rbf"
)

// memoryWriter keeps the written field for inspection.
type memoryWriter struct {
	field *grid.DisplacementField
	err   error
}

func (w *memoryWriter) WriteField(f *grid.DisplacementField) error {
	if w.err != nil {
		return w.err
	}
	w.field = f
	return nil
}

type failingGeometry struct{ err error }

func (g failingGeometry) Geometry() (grid.Geometry, error) { return grid.Geometry{}, g.err }

func createTestParams(w FieldWriter) *Params {
	geom := grid.NewGeometry(11, 3, 3)
	geom.Origin = [3]float64{0, -1, -1}

	return &Params{
		Fixed:     []r3.Vec{{X: 0}, {X: 10}},
		Moving:    []r3.Vec{{X: 1}, {X: 10}},
		Radii:     []float64{5},
		Stiffness: 0.1,
		Reference: StaticGeometry(geom),
		Output:    w,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(p *Params)
		want   error
	}{
		{"no landmarks", func(p *Params) { p.Fixed, p.Moving = nil, nil }, ErrNoLandmarks},
		{"no moving", func(p *Params) { p.Moving = nil }, ErrNoLandmarks},
		{"mismatch", func(p *Params) { p.Moving = p.Moving[:1] }, ErrLandmarkMismatch},
		{"radius count", func(p *Params) { p.Radii = []float64{5, 6, 7} }, ErrRadiusCount},
		{"no radius", func(p *Params) { p.Radii = nil }, ErrNonPositiveRadius},
		{"zero radius", func(p *Params) { p.Radii = []float64{5, 0} }, ErrNonPositiveRadius},
		{"negative stiffness", func(p *Params) { p.Stiffness = -0.5 }, ErrNegativeStiffness},
		{"no reference", func(p *Params) { p.Reference = nil }, ErrNoReference},
		{"no output", func(p *Params) { p.Output = nil }, ErrNoOutput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := &memoryWriter{}
			p := createTestParams(w)
			tc.mutate(p)

			err := p.Validate()
			assert.ErrorIs(t, err, tc.want)

			_, err = NewRegistration(p, quietLogger()).Process(context.Background())
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, w.field, "nothing may be written on a configuration error")
		})
	}
}

func TestExpandRadii(t *testing.T) {
	r, err := ExpandRadii([]float64{30}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 30, 30, 30}, r)

	r, err = ExpandRadii([]float64{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, r)

	_, err = ExpandRadii([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrRadiusCount)

	_, err = ExpandRadii([]float64{-1}, 3)
	assert.ErrorIs(t, err, ErrNonPositiveRadius)

	_, err = ExpandRadii([]float64{math.Inf(1)}, 1)
	assert.ErrorIs(t, err, ErrNonPositiveRadius)
}

func TestAnalyzeSpacing(t *testing.T) {
	report := AnalyzeSpacing([]r3.Vec{{X: 1}})
	assert.True(t, math.IsInf(report.MinSpacing, 1))
	assert.Empty(t, report.Duplicates)

	fixed := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 3, Y: 4, Z: 0},
		{X: 20, Y: 0, Z: 0},
		{X: 20, Y: 0, Z: 0},
		{X: 0, Y: 0, Z: 10},
	}
	report = AnalyzeSpacing(fixed)

	assert.InDelta(t, 5, report.Nearest[0], 1e-12)
	assert.InDelta(t, 5, report.Nearest[1], 1e-12)
	assert.InDelta(t, 0, report.Nearest[2], 1e-12)
	assert.InDelta(t, 0, report.Nearest[3], 1e-12)
	assert.InDelta(t, 10, report.Nearest[4], 1e-12)
	assert.Equal(t, 0.0, report.MinSpacing)
	assert.ElementsMatch(t, []int{2, 3}, report.Duplicates)

	// The input order must be untouched by the tree build.
	assert.Equal(t, r3.Vec{X: 3, Y: 4}, fixed[1])
}

func TestProcessTwoLandmarks(t *testing.T) {
	w := &memoryWriter{}
	p := createTestParams(w)

	var fractions []float64
	p.Progress = func(f float64) { fractions = append(fractions, f) }

	reg := NewRegistration(p, quietLogger())
	field, err := reg.Process(context.Background())
	require.NoError(t, err)
	require.Same(t, field, w.field)

	// Voxel (0,1,1) sits on the displaced landmark, (10,1,1) on the anchor.
	near := field.At(0, 1, 1)
	assert.Greater(t, near.X, 0.5)
	assert.Less(t, near.X, 1.05)
	assert.Less(t, r3.Norm(field.At(10, 1, 1)), 0.1)

	metrics := reg.GetMetrics()
	assert.Len(t, metrics.Residuals, 2)
	assert.Zero(t, metrics.NonFinite)
	assert.LessOrEqual(t, metrics.MaxDisplacement, 1.5)
	assert.InDelta(t, 10, metrics.MinLandmarkSpacing, 1e-12)
	assert.GreaterOrEqual(t, metrics.MaxResidual, metrics.MeanResidual)
	assert.GreaterOrEqual(t, metrics.RMSE, metrics.MeanResidual-1e-12)

	require.NotNil(t, reg.Model())
	assert.Equal(t, []float64{5, 5}, reg.Model().Radii, "single radius is broadcast")

	require.NotEmpty(t, fractions)
	assert.InDelta(t, 1, fractions[len(fractions)-1], 1e-15)
}

func TestProcessInterpolatesWithoutStiffness(t *testing.T) {
	w := &memoryWriter{}
	p := createTestParams(w)
	p.Fixed = []r3.Vec{{X: 2, Y: 0, Z: 0}}
	p.Moving = []r3.Vec{{X: 3, Y: 1, Z: -1}}
	p.Stiffness = 0
	p.Strategy = rbf.Full

	reg := NewRegistration(p, quietLogger())
	_, err := reg.Process(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0, reg.GetMetrics().RMSE, 1e-10)
	// Voxel (2,1,1) is the fixed landmark.
	got := w.field.At(2, 1, 1)
	assert.InDelta(t, 1, got.X, 1e-10)
	assert.InDelta(t, 1, got.Y, 1e-10)
	assert.InDelta(t, -1, got.Z, 1e-10)
}

func TestProcessDuplicateLandmarksWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	w := &memoryWriter{}
	p := createTestParams(w)
	p.Fixed = []r3.Vec{{X: 5}, {X: 5}}
	p.Moving = []r3.Vec{{X: 6}, {X: 5, Y: 2}}

	reg := NewRegistration(p, logger)
	_, err := reg.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, reg.GetMetrics().DuplicateLandmarks)
	assert.Zero(t, reg.GetMetrics().NonFinite)
	assert.Contains(t, buf.String(), "coincident fixed landmarks")
}

func TestProcessSurfacesIOErrors(t *testing.T) {
	ioErr := errors.New("disk on fire")

	p := createTestParams(&memoryWriter{})
	p.Reference = failingGeometry{err: ioErr}
	_, err := NewRegistration(p, quietLogger()).Process(context.Background())
	assert.ErrorIs(t, err, ioErr)

	p = createTestParams(&memoryWriter{err: ioErr})
	_, err = NewRegistration(p, quietLogger()).Process(context.Background())
	assert.ErrorIs(t, err, ioErr)
}

func TestProcessCancelled(t *testing.T) {
	w := &memoryWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRegistration(createTestParams(w), quietLogger()).Process(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, w.field)
}

func TestCalculateRMSE(t *testing.T) {
	assert.Zero(t, calculateRMSE(nil))
	assert.InDelta(t, math.Sqrt(12.5), calculateRMSE([]float64{3, 4}), 1e-12)
}
