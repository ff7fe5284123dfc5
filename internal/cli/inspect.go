package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rbfwarp/pkg/nrrd"
)

func (c *CLI) inspectCommand() *cobra.Command {
	var previewDir string

	cmd := &cobra.Command{
		Use:   "inspect <field.nrrd>",
		Short: "Summarize a displacement field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := nrrd.ReadField(args[0])
			if err != nil {
				return err
			}

			g := field.Geometry
			c.Logger.Info("Grid",
				"size", fmt.Sprintf("%d×%d×%d", g.Size[0], g.Size[1], g.Size[2]),
				"spacing", fmt.Sprintf("%g×%g×%g mm", g.Spacing[0], g.Spacing[1], g.Spacing[2]),
				"origin", fmt.Sprintf("(%g, %g, %g)", g.Origin[0], g.Origin[1], g.Origin[2]),
				"frame", g.Frame)

			magnitude := field.Magnitude()
			mean, std := stat.MeanStdDev(magnitude, nil)
			c.Logger.Info("Displacement",
				"max", fmt.Sprintf("%.3f mm", floats.Max(magnitude)),
				"mean", fmt.Sprintf("%.3f mm", mean),
				"std", fmt.Sprintf("%.3f mm", std))

			if previewDir != "" {
				return c.savePreviews(field, previewDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&previewDir, "preview-dir", "", "write displacement magnitude previews to this directory")
	return cmd
}
