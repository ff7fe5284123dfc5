// Package registration runs a complete landmark registration: it validates
// the inputs, fits the RBF model, samples it on the reference grid and hands
// the displacement field to a writer.
package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/rbf"
)

// Registration handles one landmark-to-field run.
//
// The process consists of:
// 1. Validating landmarks, radii, stiffness and the output target
// 2. Checking landmark spacing for coincident points
// 3. Building and solving the regularized RBF system
// 4. Evaluating the fitted model on every voxel of the reference grid
// 5. Computing residual metrics and writing the field
type Registration struct {
	params *Params
	logger *log.Logger

	model   *rbf.Model
	metrics Metrics
}

// NewRegistration creates a registration for params. A nil logger uses
// log.Default().
func NewRegistration(params *Params, logger *log.Logger) *Registration {
	if logger == nil {
		logger = log.Default()
	}
	return &Registration{params: params, logger: logger}
}

// Process runs the pipeline and returns the displacement field that was
// handed to the output writer.
func (r *Registration) Process(ctx context.Context) (*grid.DisplacementField, error) {
	p := r.params
	if err := p.Validate(); err != nil {
		return nil, err
	}

	radii, err := ExpandRadii(p.Radii, len(p.Fixed))
	if err != nil {
		return nil, err
	}

	spacing := AnalyzeSpacing(p.Fixed)
	for _, i := range spacing.Duplicates {
		r.logger.Warn("coincident fixed landmarks; only their combined displacement can be fitted", "landmark", i)
	}

	problem := rbf.Problem{
		Fixed:     p.Fixed,
		Moving:    p.Moving,
		Radii:     radii,
		Stiffness: p.Stiffness,
		Frame:     p.LandmarkFrame,
	}
	r.logger.Info("Fitting RBF coefficients",
		"landmarks", problem.Len(),
		"meanRadius", problem.MeanRadius(),
		"stiffness", p.Stiffness,
		"strategy", p.Strategy)

	start := time.Now()
	model, err := rbf.Fit(problem, p.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to fit RBF coefficients: %w", err)
	}
	r.model = model
	r.logger.Debug("Coefficients solved", "elapsed", time.Since(start).Round(time.Millisecond))

	geom, err := p.Reference.Geometry()
	if err != nil {
		return nil, fmt.Errorf("failed to read reference geometry: %w", err)
	}
	field, err := grid.NewDisplacementField(geom)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Evaluating displacement field",
		"size", fmt.Sprintf("%d×%d×%d", geom.Size[0], geom.Size[1], geom.Size[2]),
		"frame", geom.Frame,
		"landmarkFrame", p.LandmarkFrame)

	start = time.Now()
	opts := rbf.EvalOptions{Workers: p.NumCores, Progress: r.progress()}
	if err := rbf.Evaluate(ctx, model, field, opts); err != nil {
		return nil, fmt.Errorf("failed to evaluate displacement field: %w", err)
	}
	r.logger.Info("Displacement field evaluated", "elapsed", time.Since(start).Round(time.Millisecond))

	r.metrics = calculateMetrics(model, p.Fixed, p.Moving, field, spacing)
	if r.metrics.NonFinite > 0 {
		r.logger.Warn("displacement field contains non-finite values", "count", r.metrics.NonFinite)
	}

	if err := p.Output.WriteField(field); err != nil {
		return nil, fmt.Errorf("failed to write displacement field: %w", err)
	}
	return field, nil
}

// progress returns the evaluator callback: it forwards to the caller's
// Progress and logs every 10%.
func (r *Registration) progress() rbf.ProgressFunc {
	next := 0.1
	return func(fraction float64) {
		if r.params.Progress != nil {
			r.params.Progress(fraction)
		}
		if fraction+1e-9 < next {
			return
		}
		r.logger.Debug("Evaluating", "progress", fmt.Sprintf("%.0f%%", fraction*100))
		for next <= fraction+1e-9 {
			next += 0.1
		}
	}
}

// GetMetrics returns the metrics of the last successful Process call.
func (r *Registration) GetMetrics() Metrics {
	return r.metrics
}

// Model returns the fitted model, or nil before Process has fitted one.
func (r *Registration) Model() *rbf.Model {
	return r.model
}
