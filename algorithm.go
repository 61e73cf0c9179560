package kdkmeans

// Algorithm selects how points are assigned to centroids each iteration.
type Algorithm string

const (
	AlgorithmAuto      Algorithm = "auto"
	AlgorithmFiltering Algorithm = "filtering"
	AlgorithmBrute     Algorithm = "brute"
)

// FilteringValidMetric reports whether the filtering algorithm is exact for
// the metric. Its pruning test compares two centroids at a single corner of
// a cell, which only bounds the whole cell under Euclidean distance.
func FilteringValidMetric(m DistanceMetric) bool {
	switch v := m.(type) {
	case EuclideanMetric, *EuclideanMetric:
		return true
	case MinkowskiMetric:
		return v.P == 2
	default:
		return false
	}
}

// selectAlgorithm resolves AlgorithmAuto into a concrete algorithm choice
// based on the metric, and validates that a forced choice is compatible with
// the metric.
func selectAlgorithm(cfg Config) (Algorithm, error) {
	switch cfg.Algorithm {
	case AlgorithmAuto:
		if FilteringValidMetric(cfg.Metric) {
			return AlgorithmFiltering, nil
		}
		return AlgorithmBrute, nil
	case AlgorithmFiltering:
		if !FilteringValidMetric(cfg.Metric) {
			return "", invalidConfig("metric %s is not supported by the filtering algorithm", metricName(cfg.Metric))
		}
	}
	return cfg.Algorithm, nil
}

// assigner runs one assignment pass: every point gets its nearest centroid
// and every centroid accumulates the points it won.
type assigner interface {
	Run(centroids []Centroid) (FilterStats, error)
}

// bruteAssigner compares every point with every centroid.
type bruteAssigner struct {
	points  []Point
	metric  DistanceMetric
	workers int
}

func (b bruteAssigner) Run(centroids []Centroid) (FilterStats, error) {
	return AssignBruteForce(b.points, centroids, b.metric, b.workers)
}
