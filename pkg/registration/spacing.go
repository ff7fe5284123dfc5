package registration

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// DuplicateTolerance is the distance (mm) below which two fixed landmarks
// are reported as coincident.
const DuplicateTolerance = 1e-6

// landmarkPoint is a fixed landmark that remembers its position in the
// input list, since kdtree.New reorders its backing slice.
type landmarkPoint struct {
	r3.Vec
	index int
}

// Compare implements the kdtree.Comparable interface
func (p landmarkPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(landmarkPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p landmarkPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p landmarkPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(landmarkPoint)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

// landmarkPoints satisfies kdtree.Interface
type landmarkPoints []landmarkPoint

func (p landmarkPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p landmarkPoints) Len() int                              { return len(p) }
func (p landmarkPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p landmarkPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(landmarkPlane{landmarkPoints: p, Dim: d}, kdtree.MedianOfRandoms(landmarkPlane{landmarkPoints: p, Dim: d}, 100))
}

// landmarkPlane implements sort.Interface and kdtree.SortSlicer
type landmarkPlane struct {
	landmarkPoints
	kdtree.Dim
}

func (p landmarkPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.landmarkPoints[i].X < p.landmarkPoints[j].X
	case 1:
		return p.landmarkPoints[i].Y < p.landmarkPoints[j].Y
	case 2:
		return p.landmarkPoints[i].Z < p.landmarkPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p landmarkPlane) Slice(start, end int) kdtree.SortSlicer {
	return landmarkPlane{landmarkPoints: p.landmarkPoints[start:end], Dim: p.Dim}
}

func (p landmarkPlane) Swap(i, j int) {
	p.landmarkPoints[i], p.landmarkPoints[j] = p.landmarkPoints[j], p.landmarkPoints[i]
}

// SpacingReport summarizes how close the fixed landmarks are to each other.
// Coincident landmarks are accepted by the solver but only their combined
// effect can be fitted.
type SpacingReport struct {
	// Nearest[i] is the distance from landmark i to its closest neighbour.
	Nearest []float64
	// MinSpacing is the smallest entry of Nearest (+Inf for one landmark).
	MinSpacing float64
	// Duplicates lists landmarks that have a coincident neighbour.
	Duplicates []int
}

// AnalyzeSpacing finds the nearest neighbour of every fixed landmark.
func AnalyzeSpacing(fixed []r3.Vec) SpacingReport {
	report := SpacingReport{
		Nearest:    make([]float64, len(fixed)),
		MinSpacing: math.Inf(1),
	}
	if len(fixed) < 2 {
		for i := range report.Nearest {
			report.Nearest[i] = math.Inf(1)
		}
		return report
	}

	points := make(landmarkPoints, len(fixed))
	for i, f := range fixed {
		points[i] = landmarkPoint{Vec: f, index: i}
	}
	tree := kdtree.New(points, true)

	for i, f := range fixed {
		// The query point itself is always among the two nearest.
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, landmarkPoint{Vec: f, index: i})

		nearest := math.Inf(1)
		for _, c := range keeper.Heap {
			p, ok := c.Comparable.(landmarkPoint)
			if !ok || p.index == i {
				continue
			}
			nearest = math.Min(nearest, math.Sqrt(c.Dist))
		}

		report.Nearest[i] = nearest
		report.MinSpacing = math.Min(report.MinSpacing, nearest)
		if nearest < DuplicateTolerance {
			report.Duplicates = append(report.Duplicates, i)
		}
	}
	return report
}
