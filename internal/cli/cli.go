// Package cli implements the rbfwarp command-line interface.
//
// # Commands
//
//   - register: fit the landmark RBF model and write the displacement field
//   - inspect: summarize an existing displacement field and render previews
//   - init-config: write a default YAML configuration
//
// All commands support --verbose (-v) for debug-level logging, which
// includes evaluation progress.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// defaultConfigFile is used by init-config when no path is given.
const defaultConfigFile = "rbfwarp.yaml"

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance logging to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "rbfwarp",
		Short:        "rbfwarp turns landmark corrections into dense displacement fields",
		Long:         `rbfwarp fits a regularized Gaussian radial basis function model to pairs of fixed and moving landmarks and samples it on the grid of a reference volume, producing a displacement field that ITK and Slicer can apply as a transform.`,
		SilenceUsage: true,
	}

	root.AddCommand(c.registerCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.initConfigCommand())

	return root
}
