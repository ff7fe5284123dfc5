// Package visualization renders quick-look images of a displacement field.
// Each pixel shows the displacement magnitude of one voxel, scaled so the
// largest displacement in the field is white.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"rbfwarp/pkg/grid"
)

// Viewer extracts magnitude slices from a displacement field
type Viewer struct {
	// magnitude holds the per-voxel displacement length in mm
	magnitude []float64

	// dimensions of the field
	width  int
	height int
	depth  int

	// spacing is the voxel size along each axis in mm
	spacing [3]float64

	// maxMagnitude maps to full white; zero for an all-zero field
	maxMagnitude float64
}

// NewViewer creates a viewer for the given field
func NewViewer(field *grid.DisplacementField) *Viewer {
	g := field.Geometry
	v := &Viewer{
		magnitude: field.Magnitude(),
		width:     g.Size[0],
		height:    g.Size[1],
		depth:     g.Size[2],
		spacing:   g.Spacing,
	}
	for _, m := range v.magnitude {
		if !math.IsNaN(m) && !math.IsInf(m, 0) {
			v.maxMagnitude = math.Max(v.maxMagnitude, m)
		}
	}
	return v
}

// MaxMagnitude returns the displacement length that maps to white
func (v *Viewer) MaxMagnitude() float64 {
	return v.maxMagnitude
}

func (v *Viewer) gray(idx int) color.Gray16 {
	if v.maxMagnitude == 0 {
		return color.Gray16{}
	}
	m := v.magnitude[idx]
	if math.IsNaN(m) {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, m/v.maxMagnitude*65535)))}
}

// ExtractSlice extracts a 2D magnitude slice along the specified axis.
// Pixels map one to one onto voxels.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(z*v.width*v.height+y*v.width+position))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(z*v.width*v.height+position*v.width+x))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(position*v.width*v.height+y*v.width+x))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// pixelSpacing returns the physical width and height of one slice pixel
func (v *Viewer) pixelSpacing(axis string) (sx, sy float64) {
	switch axis {
	case "x", "X":
		return v.spacing[2], v.spacing[1]
	case "y", "Y":
		return v.spacing[0], v.spacing[2]
	default:
		return v.spacing[0], v.spacing[1]
	}
}

// ScaleToAspect resamples a slice so its pixels are square in physical
// space. The finer of the two spacings is kept.
func (v *Viewer) ScaleToAspect(img image.Image, axis string) image.Image {
	sx, sy := v.pixelSpacing(axis)
	unit := floats.Min([]float64{sx, sy})
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * sx / unit))
	h := int(math.Round(float64(b.Dy()) * sy / unit))
	if w == b.Dx() && h == b.Dy() {
		return img
	}

	dst := image.NewGray16(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

func sliceFilename(outputDir, axis string, pos int) string {
	return filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := v.axisLength(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		if err := v.SaveSlice(v.ScaleToAspect(img, axis), sliceFilename(outputDir, axis, pos)); err != nil {
			return err
		}
	}

	return nil
}

// SaveCentralSlices saves the middle slice along each axis and returns the
// written file names
func (v *Viewer) SaveCentralSlices(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var files []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.axisLength(axis)
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return files, err
		}
		name := sliceFilename(outputDir, axis, n/2)
		if err := v.SaveSlice(v.ScaleToAspect(img, axis), name); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}
