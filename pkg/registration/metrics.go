package registration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/rbf"
)

// Metrics describes how well the fitted field honours the landmarks and how
// large the resulting deformation is.
type Metrics struct {
	// Residuals[i] is ‖field(f_i) − (m_i − f_i)‖ in mm, evaluated on the
	// continuous model rather than the grid.
	Residuals []float64

	// RMSE, MeanResidual and MaxResidual summarize Residuals.
	RMSE         float64
	MeanResidual float64
	MaxResidual  float64

	// MaxDisplacement and MeanDisplacement are taken over every voxel.
	MaxDisplacement  float64
	MeanDisplacement float64

	// NonFinite counts NaN or infinite field components; it should be zero.
	NonFinite int

	// MinLandmarkSpacing is the smallest distance between two fixed landmarks.
	MinLandmarkSpacing float64
	DuplicateLandmarks int
}

// landmarkResiduals returns the fit error of the model at every fixed landmark.
func landmarkResiduals(model *rbf.Model, fixed, moving []r3.Vec) []float64 {
	residuals := make([]float64, len(fixed))
	for i := range fixed {
		want := r3.Sub(moving[i], fixed[i])
		residuals[i] = r3.Norm(r3.Sub(model.At(fixed[i]), want))
	}
	return residuals
}

// calculateRMSE returns the root mean square of values.
func calculateRMSE(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(values, values) / float64(len(values)))
}

// calculateMetrics fills in the landmark and field statistics.
func calculateMetrics(model *rbf.Model, fixed, moving []r3.Vec, field *grid.DisplacementField, spacing SpacingReport) Metrics {
	m := Metrics{
		Residuals:          landmarkResiduals(model, fixed, moving),
		MinLandmarkSpacing: spacing.MinSpacing,
		DuplicateLandmarks: len(spacing.Duplicates),
	}
	m.RMSE = calculateRMSE(m.Residuals)
	m.MeanResidual = stat.Mean(m.Residuals, nil)
	m.MaxResidual = floats.Max(m.Residuals)

	for _, v := range field.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m.NonFinite++
		}
	}

	magnitude := field.Magnitude()
	if len(magnitude) > 0 {
		m.MaxDisplacement = floats.Max(magnitude)
		m.MeanDisplacement = stat.Mean(magnitude, nil)
	}
	return m
}
