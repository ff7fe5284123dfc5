// Package config provides configuration loading and management for rbfwarp.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"rbfwarp/pkg/grid"
	"rbfwarp/pkg/rbf"
)

// DefaultRadius is the RBF support radius in mm used when none is given.
const DefaultRadius = 30.0

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Stiffness weights the smoothness penalty against the landmark fit
		Stiffness float64 `yaml:"stiffness"`

		// Radii is either one global RBF radius or one radius per landmark, in mm
		Radii []float64 `yaml:"radii"`

		// Strategy selects the "block" (N×N, three right-hand sides) or "full" (3N×3N) solve
		Strategy rbf.Strategy `yaml:"strategy"`
	} `yaml:"registration"`

	// Landmark inputs
	Landmarks struct {
		// Frame is the coordinate convention of the inline points (LPS or RAS)
		Frame grid.Frame `yaml:"frame"`

		// Fixed and Moving are inline [x, y, z] points paired by position
		Fixed  [][3]float64 `yaml:"fixed,omitempty"`
		Moving [][3]float64 `yaml:"moving,omitempty"`

		// FixedFile and MovingFile are Slicer markups (.fcsv) files; they take
		// precedence over the inline points
		FixedFile  string `yaml:"fixedFile,omitempty"`
		MovingFile string `yaml:"movingFile,omitempty"`
	} `yaml:"landmarks"`

	// Reference grid
	Reference struct {
		// File is a NRRD volume whose header defines the output grid
		File string `yaml:"file,omitempty"`

		// Geometry is used when File is empty
		Geometry *grid.Geometry `yaml:"geometry,omitempty"`
	} `yaml:"reference"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for field evaluation
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// DisplacementField is the NRRD file the field is written to
		DisplacementField string `yaml:"displacementField"`

		// Compress writes the field with gzip encoding
		Compress bool `yaml:"compress"`

		// PreviewDir, if set, receives displacement-magnitude slice images
		PreviewDir string `yaml:"previewDir,omitempty"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.Stiffness = 0.1
	cfg.Registration.Radii = []float64{DefaultRadius}
	cfg.Registration.Strategy = rbf.Block

	// Slicer markups are stored in RAS
	cfg.Landmarks.Frame = grid.RAS

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Output.DisplacementField = "displacement.nrrd"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks settings that can be verified without touching the inputs.
func (c *Config) Validate() error {
	if c.Registration.Stiffness < 0 {
		return fmt.Errorf("registration.stiffness must be non-negative, got %g", c.Registration.Stiffness)
	}
	if len(c.Registration.Radii) == 0 {
		return errors.New("registration.radii must contain at least one radius")
	}
	if c.Landmarks.FixedFile == "" && len(c.Landmarks.Fixed) == 0 {
		return errors.New("landmarks: no fixed landmarks given (fixed or fixedFile)")
	}
	if c.Landmarks.MovingFile == "" && len(c.Landmarks.Moving) == 0 {
		return errors.New("landmarks: no moving landmarks given (moving or movingFile)")
	}
	if c.Reference.File == "" && c.Reference.Geometry == nil {
		return errors.New("reference: either file or geometry must be given")
	}
	if c.Reference.File == "" {
		if err := c.Reference.Geometry.Validate(); err != nil {
			return fmt.Errorf("reference.geometry: %w", err)
		}
	}
	if c.Output.DisplacementField == "" {
		return errors.New("output.displacementField must be specified")
	}
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("processing.numCores must be non-negative, got %d", c.Processing.NumCores)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Relative input paths are resolved against the config file
	dir := filepath.Dir(configPath)
	cfg.Landmarks.FixedFile = resolve(dir, cfg.Landmarks.FixedFile)
	cfg.Landmarks.MovingFile = resolve(dir, cfg.Landmarks.MovingFile)
	cfg.Reference.File = resolve(dir, cfg.Reference.File)

	// An inline geometry without direction cosines is axis-aligned
	if g := cfg.Reference.Geometry; g != nil && g.Direction == ([9]float64{}) {
		g.Direction = grid.IdentityDirection
	}

	return cfg, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
