package kdkmeans

import "math"

// Unassigned marks a Point without an id or without a centroid.
const Unassigned = -1

// equalTol is the per-coordinate tolerance used by Point.Equal.
const equalTol = 1e-6

// Point is a fixed-dimension coordinate vector with an identity.
//
// Assigned holds the index of the centroid the point was last assigned to,
// or Unassigned before the first filtering pass. It is a lookup key into the
// centroid slice owned by the driver, never an owning reference.
type Point struct {
	Coords   []float64
	ID       int
	Assigned int
}

// NewPoint copies coords into a new unassigned Point.
func NewPoint(coords []float64, id int) Point {
	c := make([]float64, len(coords))
	copy(c, coords)
	return Point{Coords: c, ID: id, Assigned: Unassigned}
}

// PointsFromRows converts row-major data into points with sequential ids.
// Every row must have the same, non-zero dimension.
func PointsFromRows(rows [][]float64) ([]Point, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, invalidConfig("points must have at least one dimension")
	}
	points := make([]Point, len(rows))
	for i, row := range rows {
		if err := checkDims(dims, len(row)); err != nil {
			return nil, err
		}
		points[i] = NewPoint(row, i)
	}
	return points, nil
}

// Dims returns the dimensionality of p.
func (p Point) Dims() int { return len(p.Coords) }

// Equal reports whether every coordinate of p and q differs by at most 1e-6.
// Comparing points of different dimension returns a *DimensionMismatchError.
func (p Point) Equal(q Point) (bool, error) {
	if err := checkDims(p.Dims(), q.Dims()); err != nil {
		return false, err
	}
	for i, v := range p.Coords {
		if math.Abs(v-q.Coords[i]) > equalTol {
			return false, nil
		}
	}
	return true, nil
}

// Add returns the componentwise sum p+q.
func (p Point) Add(q Point) (Point, error) {
	if err := checkDims(p.Dims(), q.Dims()); err != nil {
		return Point{}, err
	}
	out := NewPoint(p.Coords, Unassigned)
	for i, v := range q.Coords {
		out.Coords[i] += v
	}
	return out, nil
}

// Sub returns the componentwise difference p-q.
func (p Point) Sub(q Point) (Point, error) {
	if err := checkDims(p.Dims(), q.Dims()); err != nil {
		return Point{}, err
	}
	out := NewPoint(p.Coords, Unassigned)
	for i, v := range q.Coords {
		out.Coords[i] -= v
	}
	return out, nil
}

// Labels returns the Assigned centroid index of every point, in order.
func Labels(points []Point) []int {
	labels := make([]int, len(points))
	for i := range points {
		labels[i] = points[i].Assigned
	}
	return labels
}
