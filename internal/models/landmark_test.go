package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

func TestNewLandmarkSet(t *testing.T) {
	set := NewLandmarkSet(grid.RAS, [][3]float64{{1, 2, 3}, {-4, 5, 6}})

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, set.Points[0].Position)
	assert.False(t, set.HasRadii())

	assert.Equal(t, set.Positions(grid.RAS)[1], r3.Vec{X: -4, Y: 5, Z: 6})
	assert.Equal(t, []r3.Vec{{X: -1, Y: -2, Z: 3}, {X: 4, Y: -5, Z: 6}}, set.Positions(grid.LPS))
}

func TestLandmarkSetRadii(t *testing.T) {
	set := NewLandmarkSet(grid.LPS, [][3]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
	set.Points[1].Radius = 12

	assert.True(t, set.HasRadii())
	assert.Equal(t, []float64{30, 12, 30}, set.Radii([]float64{30, 30, 30}))
	assert.Equal(t, []float64{5, 12, 7}, set.Radii([]float64{5, 6, 7}))
}
