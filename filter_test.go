package kdkmeans

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func centroidsAt(coords ...[]float64) []Centroid {
	out := make([]Centroid, len(coords))
	for i, c := range coords {
		out[i] = NewCentroid(c, i)
	}
	return out
}

// pickCentroids uses every step-th point as a starting centroid.
func pickCentroids(points []Point, k, step int) []Centroid {
	out := make([]Centroid, k)
	for i := range out {
		out[i] = NewCentroid(points[(i*step)%len(points)].Coords, i)
	}
	return out
}

func copyPoints(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = NewPoint(p.Coords, p.ID)
	}
	return out
}

// --- Filtering tests ---

func TestFilter_ConservesCountAndSum(t *testing.T) {
	points := randomPoints(100, 2, 21)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := pickCentroids(points, 4, 25)
	_, err = NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)

	total := 0
	sum := make([]float64, 2)
	for _, c := range centroids {
		total += c.Count
		floats.Add(sum, c.Sum)
	}
	assert.Equal(t, 100, total)
	assert.InDeltaSlice(t, tree.SubtreeSum(tree.Root()), sum, 1e-9)
}

func TestFilter_MatchesBruteForce(t *testing.T) {
	points := randomPoints(20, 2, 22)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	filtered := pickCentroids(points, 3, 7)
	_, err = NewFilter(tree, EuclideanMetric{}).Run(filtered)
	require.NoError(t, err)
	filterLabels := Labels(points)

	brutePoints := copyPoints(points)
	brute := pickCentroids(points, 3, 7)
	_, err = AssignBruteForce(brutePoints, brute, EuclideanMetric{}, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(Labels(brutePoints), filterLabels); diff != "" {
		t.Errorf("labels differ (-brute +filter):\n%s", diff)
	}
	for j := range brute {
		assert.Equal(t, brute[j].Count, filtered[j].Count, "centroid %d count", j)
		assert.InDeltaSlice(t, brute[j].Sum, filtered[j].Sum, 1e-9, "centroid %d sum", j)
	}
}

func TestFilter_MatchesBruteForce_Random(t *testing.T) {
	for seed := uint64(1); seed <= 10; seed++ {
		points := randomPoints(400, 3, seed)
		tree, err := NewKDTree(points)
		require.NoError(t, err)

		k := 2 + int(seed)%7
		filtered := pickCentroids(points, k, 37)
		_, err = NewFilter(tree, nil).Run(filtered)
		require.NoError(t, err)

		brutePoints := copyPoints(points)
		brute := pickCentroids(points, k, 37)
		_, err = AssignBruteForce(brutePoints, brute, nil, 1)
		require.NoError(t, err)

		// Random coordinates make exact distance ties vanishingly unlikely,
		// so the labels must agree point for point.
		if diff := cmp.Diff(Labels(brutePoints), Labels(points)); diff != "" {
			t.Errorf("seed=%d: labels differ (-brute +filter):\n%s", seed, diff)
		}
	}
}

func TestFilter_EveryPointAssigned(t *testing.T) {
	points := randomPoints(257, 2, 23)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := pickCentroids(points, 5, 51)
	_, err = NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)

	counts := make([]int, len(centroids))
	for _, p := range points {
		if p.Assigned < 0 || p.Assigned >= len(centroids) {
			t.Fatalf("point %d: Assigned = %d", p.ID, p.Assigned)
		}
		counts[p.Assigned]++
	}
	for j, c := range centroids {
		if counts[j] != c.Count {
			t.Errorf("centroid %d: %d points stamped, Count = %d", j, counts[j], c.Count)
		}
	}
}

func TestFilter_ParallelMatchesSequential(t *testing.T) {
	points := randomPoints(2000, 3, 24)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	seq := pickCentroids(points, 8, 250)
	seqStats, err := NewFilter(tree, nil, WithWorkers(1)).Run(seq)
	require.NoError(t, err)
	seqLabels := Labels(points)

	for _, depth := range []int{1, 3, 6} {
		par := pickCentroids(points, 8, 250)
		parStats, err := NewFilter(tree, nil, WithWorkers(8), WithParallelDepth(depth)).Run(par)
		require.NoError(t, err)

		assert.Equal(t, seqStats, parStats, "depth=%d", depth)
		assert.Equal(t, seqLabels, Labels(points), "depth=%d", depth)
		for j := range seq {
			assert.Equal(t, seq[j].Count, par[j].Count, "depth=%d centroid %d", depth, j)
			assert.InDeltaSlice(t, seq[j].Sum, par[j].Sum, 1e-9, "depth=%d centroid %d", depth, j)
		}
	}
}

func TestFilter_SingleCentroidTakesEverything(t *testing.T) {
	points := randomPoints(50, 2, 25)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{-1000, -1000})
	stats, err := NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)

	assert.Equal(t, 50, centroids[0].Count)
	// One candidate resolves at the root: a single node visited.
	assert.Equal(t, 1, stats.NodesVisited)
	assert.Equal(t, 1, stats.SubtreesResolved)
	for _, p := range points {
		assert.Equal(t, 0, p.Assigned)
	}
}

func TestFilter_PrunesFarCentroids(t *testing.T) {
	// Two tight groups far apart; each centroid sits on one group.
	var flat []float64
	for i := 0; i < 16; i++ {
		flat = append(flat, float64(i%4)*0.1, float64(i/4)*0.1)
		flat = append(flat, 100+float64(i%4)*0.1, float64(i/4)*0.1)
	}
	points := pointsFromFlat(2, flat...)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{0.15, 0.15}, []float64{100.15, 0.15})
	stats, err := NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)

	assert.Equal(t, 16, centroids[0].Count)
	assert.Equal(t, 16, centroids[1].Count)
	assert.Greater(t, stats.CandidatesPruned, 0)
	assert.Greater(t, stats.SubtreesResolved, 0)
	assert.Less(t, stats.NodesVisited, tree.NumNodes())
}

func TestFilter_TieGoesToLowerIndex(t *testing.T) {
	points := pointsFromFlat(1, 0)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{-1}, []float64{1})
	_, err = NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)
	assert.Equal(t, 0, points[0].Assigned)
}

func TestFilter_DoesNotResetCentroids(t *testing.T) {
	points := randomPoints(10, 2, 26)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{50, 50})
	f := NewFilter(tree, nil)
	_, err = f.Run(centroids)
	require.NoError(t, err)
	_, err = f.Run(centroids)
	require.NoError(t, err)
	assert.Equal(t, 20, centroids[0].Count)
}

func TestFilter_DuplicatePoints(t *testing.T) {
	points := make([]Point, 9)
	for i := range points {
		points[i] = NewPoint([]float64{2, 2}, i)
	}
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{0, 0}, []float64{3, 3})
	_, err = NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)
	assert.Equal(t, 0, centroids[0].Count)
	assert.Equal(t, 9, centroids[1].Count)
	assert.Equal(t, []float64{18, 18}, centroids[1].Sum)
}

// --- Edge cases ---

func TestFilter_EmptyTree(t *testing.T) {
	tree, err := NewKDTree(nil)
	require.NoError(t, err)

	centroids := centroidsAt([]float64{0, 0})
	stats, err := NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)
	assert.Equal(t, FilterStats{}, stats)
	assert.Equal(t, 0, centroids[0].Count)
}

func TestFilter_NoCentroids(t *testing.T) {
	tree, err := NewKDTree(randomPoints(5, 2, 27))
	require.NoError(t, err)
	_, err = NewFilter(tree, nil).Run(nil)
	require.Error(t, err)
}

func TestFilter_CentroidDimensionMismatch(t *testing.T) {
	tree, err := NewKDTree(randomPoints(5, 2, 28))
	require.NoError(t, err)
	_, err = NewFilter(tree, nil).Run(centroidsAt([]float64{0, 0, 0}))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFilter_AllocatesMissingSum(t *testing.T) {
	points := randomPoints(5, 2, 29)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	centroids := []Centroid{{Point: NewPoint([]float64{0, 0}, 0)}}
	_, err = NewFilter(tree, nil).Run(centroids)
	require.NoError(t, err)
	assert.Equal(t, 5, centroids[0].Count)
	assert.Len(t, centroids[0].Sum, 2)
}

// --- isFarther ---

func TestIsFarther(t *testing.T) {
	r := &filterRun{
		f:      &Filter{metric: EuclideanMetric{}},
		coords: [][]float64{{0, 0}, {10, 0}, {1, 0}},
	}
	lo, hi := []float64{-1, -1}, []float64{1, 1}
	vH := make([]float64, 2)

	// Centroid 1 is beyond the cell; even the cell corner nearest to it is
	// closer to centroid 0.
	assert.True(t, r.isFarther(1, 0, lo, hi, vH))
	assert.Equal(t, []float64{1, 1}, vH)

	// Centroid 2 sits inside the cell, so it is closer for some points.
	assert.False(t, r.isFarther(2, 0, lo, hi, vH))
}

func TestIsFarther_ExactBoundIsKept(t *testing.T) {
	r := &filterRun{
		f:      &Filter{metric: EuclideanMetric{}},
		coords: [][]float64{{0}, {2}},
	}
	// At the corner x=1 both centroids are equally far: not strictly farther.
	assert.False(t, r.isFarther(1, 0, []float64{-1}, []float64{1}, make([]float64, 1)))
}

func TestFilterStats_Add(t *testing.T) {
	s := FilterStats{NodesVisited: 1, LeavesResolved: 2, SubtreesResolved: 3, CandidatesPruned: 4}
	s.Add(FilterStats{NodesVisited: 10, LeavesResolved: 20, SubtreesResolved: 30, CandidatesPruned: 40})
	assert.Equal(t, FilterStats{NodesVisited: 11, LeavesResolved: 22, SubtreesResolved: 33, CandidatesPruned: 44}, s)
}
