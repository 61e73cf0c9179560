package kdkmeans

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

// AssignBruteForce assigns every point to its nearest centroid by comparing
// it against all of them, and accumulates the points into the centroids'
// accumulators. Ties go to the lowest centroid index, the same rule the
// filtering algorithm uses, so both produce the same labels.
//
// Distances are computed on numWorkers goroutines; accumulation runs in point
// order afterwards so the sums do not depend on the worker count.
func AssignBruteForce(points []Point, centroids []Centroid, metric DistanceMetric, numWorkers int) (FilterStats, error) {
	var stats FilterStats
	if len(points) == 0 {
		return stats, nil
	}
	if len(centroids) == 0 {
		return stats, errors.New("kdkmeans: brute-force assignment needs at least one centroid")
	}
	if metric == nil {
		metric = EuclideanMetric{}
	}

	dims := points[0].Dims()
	for i := range centroids {
		c := &centroids[i]
		if err := checkDims(dims, c.Dims()); err != nil {
			return stats, err
		}
		if c.Sum == nil {
			c.Sum = make([]float64, dims)
		}
	}
	for i := range points {
		if err := checkDims(dims, points[i].Dims()); err != nil {
			return stats, err
		}
	}

	parallelRanges(len(points), numWorkers, func(start, end int) {
		for i := start; i < end; i++ {
			points[i].Assigned = nearestCentroid(points[i].Coords, centroids, metric)
		}
	})

	for i := range points {
		centroids[points[i].Assigned].merge(points[i].Coords, 1)
	}

	stats.LeavesResolved = len(points)
	return stats, nil
}

func nearestCentroid(coords []float64, centroids []Centroid, metric DistanceMetric) int {
	best := 0
	bestDist := metric.ReducedDistance(centroids[0].Coords, coords)
	for j := 1; j < len(centroids); j++ {
		if d := metric.ReducedDistance(centroids[j].Coords, coords); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// Inertia returns the sum of squared distances from every assigned point to
// its centroid. Unassigned points are skipped.
func Inertia(points []Point, centroids []Centroid, metric DistanceMetric, numWorkers int) float64 {
	if metric == nil {
		metric = EuclideanMetric{}
	}
	sq := make([]float64, len(points))
	parallelRanges(len(points), numWorkers, func(start, end int) {
		for i := start; i < end; i++ {
			a := points[i].Assigned
			if a < 0 || a >= len(centroids) {
				continue
			}
			d := metric.Distance(points[i].Coords, centroids[a].Coords)
			sq[i] = d * d
		}
	})
	return floats.Sum(sq)
}
