package visualization

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

// createTestField builds a field whose displacement is (0, 0, z) at slice z
func createTestField(t *testing.T, width, height, depth int) *grid.DisplacementField {
	t.Helper()
	field, err := grid.NewDisplacementField(grid.NewGeometry(width, height, depth))
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				field.Set(x, y, z, r3.Vec{Z: float64(z)})
			}
		}
	}
	return field
}

// TestNewViewer verifies that a new viewer is created with the correct parameters
func TestNewViewer(t *testing.T) {
	width, height, depth := 10, 8, 5
	field := createTestField(t, width, height, depth)
	field.Set(0, 0, 0, r3.Vec{X: math.NaN()})

	viewer := NewViewer(field)

	if viewer.width != width || viewer.height != height || viewer.depth != depth {
		t.Errorf("Expected dimensions %dx%dx%d, got %dx%dx%d",
			width, height, depth, viewer.width, viewer.height, viewer.depth)
	}

	if len(viewer.magnitude) != width*height*depth {
		t.Errorf("Expected %d magnitudes, got %d", width*height*depth, len(viewer.magnitude))
	}

	// NaN voxels must not poison the scale
	if viewer.MaxMagnitude() != float64(depth-1) {
		t.Errorf("Expected max magnitude %d, got %f", depth-1, viewer.MaxMagnitude())
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the field
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	viewer := NewViewer(createTestField(t, width, height, depth))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expectedValue := uint16(float64(z) / float64(depth-1) * 65535)
		centerValue := img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(centerValue)-float64(expectedValue)) > 1.0 {
			t.Errorf("Expected Z slice value ~%d at center, got %d", expectedValue, centerValue)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}
	// Column z of an X slice carries the magnitude of slice z
	if got := imgX.Gray16At(depth-1, 0).Y; got != 65535 {
		t.Errorf("Expected white in last column of X slice, got %d", got)
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestExtractSliceZeroField verifies that an undeformed field renders black
func TestExtractSliceZeroField(t *testing.T) {
	field, err := grid.NewDisplacementField(grid.NewGeometry(4, 4, 4))
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	img, err := NewViewer(field).ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatal("Expected an all-black slice for a zero field")
		}
	}
}

// TestScaleToAspect verifies that anisotropic voxels are resampled to square pixels
func TestScaleToAspect(t *testing.T) {
	field := createTestField(t, 6, 4, 3)
	field.Geometry.Spacing = [3]float64{1, 1, 3}
	viewer := NewViewer(field)

	imgZ, _ := viewer.ExtractSlice("z", 1)
	if scaled := viewer.ScaleToAspect(imgZ, "z"); scaled != imgZ {
		t.Error("Expected isotropic Z slice to be returned unchanged")
	}

	imgY, _ := viewer.ExtractSlice("y", 1)
	scaled := viewer.ScaleToAspect(imgY, "y")
	if b := scaled.Bounds(); b.Dx() != 6 || b.Dy() != 9 {
		t.Errorf("Expected scaled Y slice dimensions 6x9, got %dx%d", b.Dx(), b.Dy())
	}
}

// TestSaveSlice verifies that slices can be saved to disk
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	viewer := NewViewer(createTestField(t, 10, 10, 5))
	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "test_slice.jpg")
	if err := viewer.SaveSlice(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 5, 3
	viewer := NewViewer(createTestField(t, width, height, depth))

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveCentralSlices verifies that one preview per axis is written
func TestSaveCentralSlices(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	viewer := NewViewer(createTestField(t, 7, 5, 3))
	outputDir := filepath.Join(t.TempDir(), "preview")

	files, err := viewer.SaveCentralSlices(outputDir)
	if err != nil {
		t.Fatalf("Failed to save central slices: %v", err)
	}

	expected := []string{"slice_x_003.jpg", "slice_y_002.jpg", "slice_z_001.jpg"}
	if len(files) != len(expected) {
		t.Fatalf("Expected %d files, got %d", len(expected), len(files))
	}
	for i, name := range expected {
		if files[i] != filepath.Join(outputDir, name) {
			t.Errorf("Expected file %s, got %s", name, files[i])
		}
		if _, err := os.Stat(files[i]); err != nil {
			t.Errorf("Preview not written: %v", err)
		}
	}
}
