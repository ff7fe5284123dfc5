package markups

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

const slicerFile = `# Markups fiducial file version = 4.11
# CoordinateSystem = LPS
# columns = id,x,y,z,ow,ox,oy,oz,vis,sel,lock,label,desc,associatedNodeID
vtkMRMLMarkupsFiducialNode_0,-1.5,20,3,0,0,0,1,1,1,0,F-1,15,
vtkMRMLMarkupsFiducialNode_1,4,5.25,-6,0,0,0,1,1,1,0,"STN, left",,vtkMRMLScalarVolumeNode1

vtkMRMLMarkupsFiducialNode_2,7,8,9,0,0,0,1,1,1,0,F-3,near the AC,
`

func TestRead(t *testing.T) {
	set, err := Read(strings.NewReader(slicerFile))
	require.NoError(t, err)

	assert.Equal(t, grid.LPS, set.Frame)
	require.Equal(t, 3, set.Len())

	assert.Equal(t, r3.Vec{X: -1.5, Y: 20, Z: 3}, set.Points[0].Position)
	assert.Equal(t, "F-1", set.Points[0].Label)
	assert.Equal(t, 15.0, set.Points[0].Radius)

	assert.Equal(t, "STN, left", set.Points[1].Label)
	assert.Zero(t, set.Points[1].Radius)
	assert.Zero(t, set.Points[2].Radius, "free text is not a radius")
	assert.True(t, set.HasRadii())
}

func TestReadCoordinateSystem(t *testing.T) {
	testCases := []struct {
		header string
		want   grid.Frame
	}{
		{"", grid.RAS},
		{"# CoordinateSystem = 0\n", grid.RAS},
		{"# CoordinateSystem = 1\n", grid.LPS},
		{"# CoordinateSystem = RAS\n", grid.RAS},
		{"# CoordinateSystem = LPS\n", grid.LPS},
	}

	for _, tc := range testCases {
		t.Run(strings.TrimSpace(tc.header), func(t *testing.T) {
			set, err := Read(strings.NewReader(tc.header + "a,1,2,3\n"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, set.Frame)
			assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, set.Points[0].Position)
		})
	}
}

func TestReadCustomColumns(t *testing.T) {
	data := "# columns = label,desc,z,y,x\nP1,2.5,3,2,1\n"
	set, err := Read(strings.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, 1, set.Len())
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, set.Points[0].Position)
	assert.Equal(t, "P1", set.Points[0].Label)
	assert.Equal(t, 2.5, set.Points[0].Radius)
}

func TestReadErrors(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"bad coordinate", "a,1,two,3\n"},
		{"short record", "a,1,2\n"},
		{"bad frame", "# CoordinateSystem = IJK\n"},
		{"no xyz columns", "# columns = id,label\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moving.fcsv")
	require.NoError(t, os.WriteFile(path, []byte(slicerFile), 0644))

	set, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.fcsv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
