package kdkmeans

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// InitMethod selects a built-in centroid initialization strategy.
type InitMethod string

const (
	InitRandom      InitMethod = "random"
	InitMostDistant InitMethod = "most_distant"
	InitProvided    InitMethod = "provided"
)

// Initializer chooses the starting centroids for a run. It is called once,
// after the tree is built and before the first iteration.
type Initializer interface {
	Initialize(points []Point, k int) ([]Centroid, error)
}

// RandomInit samples k distinct points uniformly without replacement.
type RandomInit struct {
	Rand *rand.Rand
}

// Initialize implements Initializer.
func (r RandomInit) Initialize(points []Point, k int) ([]Centroid, error) {
	if err := checkInitArgs(points, k); err != nil {
		return nil, err
	}
	rng := r.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	// Partial Fisher-Yates: the first k slots end up a uniform sample.
	perm := make([]int, len(points))
	for i := range perm {
		perm[i] = i
	}
	centroids := make([]Centroid, k)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(perm)-i)
		perm[i], perm[j] = perm[j], perm[i]
		centroids[i] = NewCentroid(points[perm[i]].Coords, i)
	}
	return centroids, nil
}

// MostDistantInit picks a random first centroid and then, k-1 times, the
// point whose distance to its nearest chosen centroid is largest.
type MostDistantInit struct {
	Rand    *rand.Rand
	Metric  DistanceMetric
	Workers int
}

// Initialize implements Initializer.
func (m MostDistantInit) Initialize(points []Point, k int) ([]Centroid, error) {
	if err := checkInitArgs(points, k); err != nil {
		return nil, err
	}
	rng := m.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	metric := m.Metric
	if metric == nil {
		metric = EuclideanMetric{}
	}

	centroids := make([]Centroid, 0, k)
	first := rng.IntN(len(points))
	centroids = append(centroids, NewCentroid(points[first].Coords, 0))

	// minDist[i] is the distance from point i to its nearest chosen centroid,
	// updated incrementally as centroids are added.
	minDist := make([]float64, len(points))
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}
	for len(centroids) < k {
		last := centroids[len(centroids)-1].Coords
		parallelRanges(len(points), m.Workers, func(start, end int) {
			for i := start; i < end; i++ {
				if d := metric.Distance(points[i].Coords, last); d < minDist[i] {
					minDist[i] = d
				}
			}
		})

		farthest := 0
		for i, d := range minDist {
			if d > minDist[farthest] {
				farthest = i
			}
		}
		centroids = append(centroids, NewCentroid(points[farthest].Coords, len(centroids)))
	}
	return centroids, nil
}

// ProvidedInit uses explicit starting coordinates.
type ProvidedInit struct {
	Coords [][]float64
}

// Initialize implements Initializer. k must equal len(Coords).
func (p ProvidedInit) Initialize(points []Point, k int) ([]Centroid, error) {
	if len(p.Coords) != k {
		return nil, invalidConfig("%d initial centroids provided for K=%d", len(p.Coords), k)
	}
	dims := 0
	if len(points) > 0 {
		dims = points[0].Dims()
	}
	centroids := make([]Centroid, k)
	for i, c := range p.Coords {
		if dims > 0 {
			if err := checkDims(dims, len(c)); err != nil {
				return nil, err
			}
		}
		centroids[i] = NewCentroid(c, i)
	}
	return centroids, nil
}

func checkInitArgs(points []Point, k int) error {
	if k <= 0 {
		return invalidConfig("K must be > 0, got %d", k)
	}
	if len(points) < k {
		return fmt.Errorf("%w: %d points, K=%d", ErrTooFewPoints, len(points), k)
	}
	return nil
}
