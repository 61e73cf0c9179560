package kdkmeans

// Centroid is a cluster center. Coords hold the current estimate and the
// embedded Accumulator holds the in-progress sums for the next one.
type Centroid struct {
	Point
	Accumulator
}

// NewCentroid returns a centroid at coords with a zeroed accumulator.
func NewCentroid(coords []float64, id int) Centroid {
	return Centroid{
		Point:       NewPoint(coords, id),
		Accumulator: NewAccumulator(len(coords)),
	}
}

// Normalize moves the centroid to the mean of its accumulated points.
// A centroid that attracted no points keeps its coordinates and
// ErrEmptyCluster is returned.
func (c *Centroid) Normalize() error {
	if !c.Mean(c.Coords) {
		return ErrEmptyCluster
	}
	return nil
}

// Reset zeroes the accumulator, leaving the coordinates alone.
func (c *Centroid) Reset() { c.Accumulator.Reset() }

// snapshotCoords copies the coordinates of every centroid.
func snapshotCoords(centroids []Centroid) [][]float64 {
	out := make([][]float64, len(centroids))
	for i := range centroids {
		out[i] = append([]float64(nil), centroids[i].Coords...)
	}
	return out
}
