package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rbfwarp/internal/models"
	"rbfwarp/pkg/config"
	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/markups"
	"rbfwarp/pkg/nrrd"
	"rbfwarp/pkg/rbf"
	"rbfwarp/pkg/registration"
	"rbfwarp/pkg/visualization"
)

// registerOpts holds the command-line flags for the register command. Flags
// that are set override the matching configuration entries.
type registerOpts struct {
	config     string    // YAML configuration file
	fixed      string    // fixed landmarks (.fcsv)
	moving     string    // moving landmarks (.fcsv)
	reference  string    // reference volume (.nrrd/.nhdr)
	output     string    // displacement field output (.nrrd)
	stiffness  float64   // smoothness weight
	radii      []float64 // one global radius or one per landmark
	strategy   string    // "block" or "full"
	cores      int       // evaluation goroutines
	previewDir string    // magnitude preview images
	compress   bool      // gzip the field data
}

func (c *CLI) registerCommand() *cobra.Command {
	opts := registerOpts{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Compute a displacement field from landmark pairs",
		Long: `Fit a regularized RBF model to fixed/moving landmark pairs and sample it on
the grid of a reference volume. Inputs can come from a YAML configuration
(see init-config), from flags, or both; flags take precedence.`,
		Example: `  rbfwarp register --fixed fixed.fcsv --moving moving.fcsv --reference t1.nrrd -o warp.nrrd
  rbfwarp register -c rbfwarp.yaml --stiffness 0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(opts.config)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			return c.runRegister(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.fixed, "fixed", "", "fixed landmarks markups file (.fcsv)")
	cmd.Flags().StringVar(&opts.moving, "moving", "", "moving landmarks markups file (.fcsv)")
	cmd.Flags().StringVar(&opts.reference, "reference", "", "reference volume defining the output grid (.nrrd)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output displacement field (.nrrd)")
	cmd.Flags().Float64Var(&opts.stiffness, "stiffness", 0.1, "smoothness weight (0 interpolates the landmarks)")
	cmd.Flags().Float64SliceVar(&opts.radii, "radius", []float64{config.DefaultRadius}, "RBF radius in mm, global or one per landmark")
	cmd.Flags().StringVar(&opts.strategy, "strategy", rbf.Block.String(), "linear solve strategy: block or full")
	cmd.Flags().IntVar(&opts.cores, "cores", 0, "number of CPU cores for field evaluation (0 = all)")
	cmd.Flags().StringVar(&opts.previewDir, "preview-dir", "", "write displacement magnitude previews to this directory")
	cmd.Flags().BoolVar(&opts.compress, "compress", false, "gzip the displacement field data")

	return cmd
}

// loadConfig returns the configuration at path, or the defaults when path
// is empty.
func (c *CLI) loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.Logger.Warn("Configuration file not found, using defaults", "path", path)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// apply copies every flag the user set into cfg.
func (o *registerOpts) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("fixed") {
		cfg.Landmarks.FixedFile = o.fixed
	}
	if flags.Changed("moving") {
		cfg.Landmarks.MovingFile = o.moving
	}
	if flags.Changed("reference") {
		cfg.Reference.File = o.reference
	}
	if flags.Changed("output") {
		cfg.Output.DisplacementField = o.output
	}
	if flags.Changed("stiffness") {
		cfg.Registration.Stiffness = o.stiffness
	}
	if flags.Changed("radius") {
		cfg.Registration.Radii = o.radii
	}
	if flags.Changed("strategy") {
		s, err := rbf.ParseStrategy(o.strategy)
		if err != nil {
			return err
		}
		cfg.Registration.Strategy = s
	}
	if flags.Changed("cores") {
		cfg.Processing.NumCores = o.cores
	}
	if flags.Changed("preview-dir") {
		cfg.Output.PreviewDir = o.previewDir
	}
	if flags.Changed("compress") {
		cfg.Output.Compress = o.compress
	}
	return nil
}

func (c *CLI) runRegister(ctx context.Context, cfg *config.Config) error {
	if cfg.Output.Verbose {
		c.SetLogLevel(LogDebug)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	params, err := buildParams(cfg)
	if err != nil {
		return err
	}

	prog := newProgress(c.Logger)
	reg := registration.NewRegistration(params, c.Logger)
	field, err := reg.Process(ctx)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Displacement field written to %s", cfg.Output.DisplacementField))

	m := reg.GetMetrics()
	c.Logger.Info("Landmark fit",
		"rmse", fmt.Sprintf("%.4f mm", m.RMSE),
		"maxResidual", fmt.Sprintf("%.4f mm", m.MaxResidual))
	c.Logger.Info("Displacement",
		"max", fmt.Sprintf("%.3f mm", m.MaxDisplacement),
		"mean", fmt.Sprintf("%.3f mm", m.MeanDisplacement))

	if cfg.Output.PreviewDir != "" {
		return c.savePreviews(field, cfg.Output.PreviewDir)
	}
	return nil
}

// buildParams resolves the configured inputs into registration parameters.
// Both landmark sets are expressed in the frame of the fixed set.
func buildParams(cfg *config.Config) (*registration.Params, error) {
	fixed, err := loadLandmarks(cfg.Landmarks.FixedFile, cfg.Landmarks.Fixed, cfg.Landmarks.Frame)
	if err != nil {
		return nil, fmt.Errorf("loading fixed landmarks: %w", err)
	}
	moving, err := loadLandmarks(cfg.Landmarks.MovingFile, cfg.Landmarks.Moving, cfg.Landmarks.Frame)
	if err != nil {
		return nil, fmt.Errorf("loading moving landmarks: %w", err)
	}

	// Radii stored with the moving points override the configured ones.
	radii := cfg.Registration.Radii
	if moving.HasRadii() && moving.Len() == fixed.Len() {
		base, err := registration.ExpandRadii(radii, moving.Len())
		if err != nil {
			return nil, err
		}
		radii = moving.Radii(base)
	}

	var reference registration.GeometryProvider
	if cfg.Reference.File != "" {
		reference = nrrd.Reference(cfg.Reference.File)
	} else {
		reference = registration.StaticGeometry(*cfg.Reference.Geometry)
	}

	frame := fixed.Frame
	return &registration.Params{
		Fixed:         fixed.Positions(frame),
		Moving:        moving.Positions(frame),
		Radii:         radii,
		Stiffness:     cfg.Registration.Stiffness,
		LandmarkFrame: frame,
		Strategy:      cfg.Registration.Strategy,
		NumCores:      cfg.Processing.NumCores,
		Reference:     reference,
		Output:        nrrd.Writer{Path: cfg.Output.DisplacementField, Compress: cfg.Output.Compress},
	}, nil
}

func loadLandmarks(file string, inline [][3]float64, frame grid.Frame) (*models.LandmarkSet, error) {
	if file != "" {
		return markups.ReadFile(file)
	}
	return models.NewLandmarkSet(frame, inline), nil
}

func (c *CLI) savePreviews(field *grid.DisplacementField, dir string) error {
	viewer := visualization.NewViewer(field)
	files, err := viewer.SaveCentralSlices(dir)
	if err != nil {
		return fmt.Errorf("saving previews: %w", err)
	}
	for _, f := range files {
		c.Logger.Debug("Preview saved", "file", f)
	}
	c.Logger.Info("Previews written", "dir", dir, "white", fmt.Sprintf("%.3f mm", viewer.MaxMagnitude()))
	return nil
}
