package kdkmeans

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// randomPoints returns n points uniform in [0, 100)^dims.
func randomPoints(n, dims int, seed uint64) []Point {
	rng := rand.New(rand.NewPCG(seed, seed))
	points := make([]Point, n)
	coords := make([]float64, dims)
	for i := range points {
		for j := range coords {
			coords[j] = rng.Float64() * 100
		}
		points[i] = NewPoint(coords, i)
	}
	return points
}

func pointsFromFlat(dims int, flat ...float64) []Point {
	points := make([]Point, len(flat)/dims)
	for i := range points {
		points[i] = NewPoint(flat[i*dims:(i+1)*dims], i)
	}
	return points
}

// --- Construction tests ---

func TestKDTree_Construction_BasicProperties(t *testing.T) {
	// 6 points in 2D
	points := pointsFromFlat(2,
		0, 0,
		1, 0,
		2, 0,
		0, 3,
		1, 3,
		2, 3,
	)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	if tree.Len() != 6 {
		t.Errorf("Len() = %d, want 6", tree.Len())
	}
	if tree.Dims() != 2 {
		t.Errorf("Dims() = %d, want 2", tree.Dims())
	}
	if tree.NumNodes() != 11 {
		t.Errorf("NumNodes() = %d, want 11", tree.NumNodes())
	}
	if tree.Root() != 0 {
		t.Errorf("Root() = %d, want 0", tree.Root())
	}

	// idx should be a permutation of 0..n-1.
	seen := make(map[int]bool)
	for _, v := range tree.subtreePoints(tree.Root()) {
		if v < 0 || v >= 6 {
			t.Errorf("index array contains out-of-range index %d", v)
		}
		if seen[v] {
			t.Errorf("index array contains duplicate index %d", v)
		}
		seen[v] = true
	}
}

func TestKDTree_LeafCountEqualsPoints(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 64, 100} {
		tree, err := NewKDTree(randomPoints(n, 3, uint64(n)))
		require.NoError(t, err)

		leaves, internal := 0, 0
		tree.Walk(func(node NodeID, _ int) bool {
			if tree.IsLeaf(node) {
				leaves++
				if tree.SubtreeCount(node) != 1 {
					t.Errorf("n=%d: leaf %d has count %d, want 1", n, node, tree.SubtreeCount(node))
				}
			} else {
				internal++
			}
			return true
		})
		if leaves != n {
			t.Errorf("n=%d: %d leaves, want %d", n, leaves, n)
		}
		if internal != n-1 {
			t.Errorf("n=%d: %d internal nodes, want %d", n, internal, n-1)
		}
	}
}

func TestKDTree_RootSummary(t *testing.T) {
	points := randomPoints(100, 3, 1)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	want := make([]float64, 3)
	for _, p := range points {
		floats.Add(want, p.Coords)
	}
	root := tree.Root()
	assert.Equal(t, 100, tree.SubtreeCount(root))
	assert.InDeltaSlice(t, want, tree.SubtreeSum(root), 1e-9)
}

func TestKDTree_InternalSummaryIsSumOfChildren(t *testing.T) {
	tree, err := NewKDTree(randomPoints(50, 2, 2))
	require.NoError(t, err)

	tree.Walk(func(node NodeID, _ int) bool {
		if tree.IsLeaf(node) {
			return true
		}
		l, r := tree.Children(node)
		if got := tree.SubtreeCount(l) + tree.SubtreeCount(r); got != tree.SubtreeCount(node) {
			t.Errorf("node %d: children count %d, want %d", node, got, tree.SubtreeCount(node))
		}
		sum := make([]float64, 2)
		floats.AddTo(sum, tree.SubtreeSum(l), tree.SubtreeSum(r))
		if !floats.EqualApprox(sum, tree.SubtreeSum(node), 1e-9) {
			t.Errorf("node %d: children sum %v, want %v", node, sum, tree.SubtreeSum(node))
		}
		return true
	})
}

func TestKDTree_BoundsContainSubtreePoints(t *testing.T) {
	points := randomPoints(200, 3, 3)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	tree.Walk(func(node NodeID, _ int) bool {
		lo, hi := tree.Bounds(node)
		for _, pi := range tree.subtreePoints(node) {
			for j, v := range points[pi].Coords {
				if v < lo[j] || v > hi[j] {
					t.Errorf("node %d: point %d coord %d = %v outside [%v, %v]", node, pi, j, v, lo[j], hi[j])
				}
			}
		}
		return true
	})
}

func TestKDTree_LeafBoundsAreThePoint(t *testing.T) {
	points := randomPoints(20, 2, 4)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	tree.Walk(func(node NodeID, _ int) bool {
		if !tree.IsLeaf(node) {
			return true
		}
		lo, hi := tree.Bounds(node)
		p := points[tree.LeafPoint(node)].Coords
		assert.Equal(t, p, lo)
		assert.Equal(t, p, hi)
		assert.Equal(t, p, tree.SubtreeSum(node))
		return true
	})
}

// Every point of the left subtree is <= every point of the right subtree on
// the node's split axis.
func TestKDTree_PartitionProperty(t *testing.T) {
	points := randomPoints(300, 3, 5)
	tree, err := NewKDTree(points)
	require.NoError(t, err)

	tree.Walk(func(node NodeID, depth int) bool {
		if tree.IsLeaf(node) {
			return true
		}
		axis := depth % tree.Dims()
		l, r := tree.Children(node)
		_, leftHi := tree.Bounds(l)
		rightLo, _ := tree.Bounds(r)
		if leftHi[axis] > rightLo[axis] {
			t.Errorf("node %d axis %d: left max %v > right min %v", node, axis, leftHi[axis], rightLo[axis])
		}
		// Left gets floor(count/2) points.
		if got, want := tree.SubtreeCount(l), tree.SubtreeCount(node)/2; got != want {
			t.Errorf("node %d: left count %d, want %d", node, got, want)
		}
		return true
	})
}

func TestKDTree_ArenaLayout(t *testing.T) {
	tree, err := NewKDTree(randomPoints(37, 2, 6))
	require.NoError(t, err)

	tree.Walk(func(node NodeID, _ int) bool {
		if tree.IsLeaf(node) {
			return true
		}
		l, r := tree.Children(node)
		if l != node+1 {
			t.Errorf("node %d: left child %d, want %d", node, l, node+1)
		}
		if want := l + NodeID(2*tree.SubtreeCount(l)-1); r != want {
			t.Errorf("node %d: right child %d, want %d", node, r, want)
		}
		return true
	})
}

func TestKDTree_DoesNotReorderPoints(t *testing.T) {
	points := randomPoints(50, 2, 7)
	before := make([][]float64, len(points))
	for i, p := range points {
		before[i] = append([]float64(nil), p.Coords...)
	}
	_, err := NewKDTree(points)
	require.NoError(t, err)

	for i, p := range points {
		if p.ID != i {
			t.Errorf("points[%d].ID = %d, want %d", i, p.ID, i)
		}
		if diff := cmp.Diff(before[i], p.Coords); diff != "" {
			t.Errorf("points[%d] changed (-want +got):\n%s", i, diff)
		}
	}
}

func TestKDTree_DuplicatePoints(t *testing.T) {
	points := make([]Point, 33)
	for i := range points {
		points[i] = NewPoint([]float64{1, 1}, i)
	}
	tree, err := NewKDTree(points)
	require.NoError(t, err)
	assert.Equal(t, 65, tree.NumNodes())
	assert.Equal(t, []float64{33, 33}, tree.SubtreeSum(tree.Root()))
}

func TestKDTree_ParallelBuildMatchesSequential(t *testing.T) {
	points := randomPoints(500, 3, 8)
	seq, err := NewKDTree(points, WithTreeWorkers(1))
	require.NoError(t, err)

	for _, depth := range []int{1, 2, 4, 10} {
		par, err := NewKDTree(points, WithTreeWorkers(8), WithTreeParallelDepth(depth))
		require.NoError(t, err)

		if diff := cmp.Diff(seq.idx, par.idx); diff != "" {
			t.Errorf("depth=%d: permutation differs (-seq +par):\n%s", depth, diff)
		}
		assert.Equal(t, seq.counts, par.counts, "depth=%d", depth)
		assert.Equal(t, seq.sums, par.sums, "depth=%d", depth)
		assert.Equal(t, seq.boundsMin, par.boundsMin, "depth=%d", depth)
		assert.Equal(t, seq.boundsMax, par.boundsMax, "depth=%d", depth)
	}
}

func TestKDTree_Height(t *testing.T) {
	tree, err := NewKDTree(randomPoints(64, 2, 9))
	require.NoError(t, err)
	// Median splits keep the tree balanced.
	assert.Equal(t, 6, tree.Height())
}

func TestKDTree_WalkSkipsChildren(t *testing.T) {
	tree, err := NewKDTree(randomPoints(10, 2, 10))
	require.NoError(t, err)

	visited := 0
	tree.Walk(func(NodeID, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

// --- Edge cases ---

func TestKDTree_Empty(t *testing.T) {
	tree, err := NewKDTree(nil)
	require.NoError(t, err)
	assert.Equal(t, NoNode, tree.Root())
	assert.Equal(t, 0, tree.Len())
	assert.Equal(t, 0, tree.NumNodes())
	tree.Walk(func(NodeID, int) bool {
		t.Error("Walk visited a node of an empty tree")
		return true
	})
}

func TestKDTree_SinglePoint(t *testing.T) {
	tree, err := NewKDTree(pointsFromFlat(3, 1, 2, 3))
	require.NoError(t, err)
	root := tree.Root()
	assert.True(t, tree.IsLeaf(root))
	assert.Equal(t, 0, tree.LeafPoint(root))
	assert.Equal(t, 0, tree.Height())
}

func TestKDTree_DimensionMismatch(t *testing.T) {
	points := []Point{
		NewPoint([]float64{0, 0}, 0),
		NewPoint([]float64{1, 1, 1}, 1),
	}
	_, err := NewKDTree(points)
	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm), "got %v", err)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestKDTree_ZeroDimensions(t *testing.T) {
	_, err := NewKDTree([]Point{{ID: 0}})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKDTree_LeafPointOnInternalNode(t *testing.T) {
	tree, err := NewKDTree(randomPoints(4, 2, 11))
	require.NoError(t, err)
	assert.Equal(t, Unassigned, tree.LeafPoint(tree.Root()))
}

func TestSelectByDimension_MatchesSort(t *testing.T) {
	rng := rand.New(rand.NewPCG(12, 12))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.IntN(60)
		points := make([]Point, n)
		for i := range points {
			// few distinct values to exercise the equal-key band
			points[i] = NewPoint([]float64{float64(rng.IntN(5))}, i)
		}
		tree := &KDTree{points: points, idx: make([]int, n)}
		for i := range tree.idx {
			tree.idx[i] = i
		}
		k := rng.IntN(n)
		tree.selectByDimension(0, n, k, 0)

		keys := make([]float64, n)
		for i, pi := range tree.idx {
			keys[i] = points[pi].Coords[0]
		}
		sorted := append([]float64(nil), keys...)
		sort.Float64s(sorted)
		if keys[k] != sorted[k] {
			t.Fatalf("trial %d: keys[%d] = %v, want %v", trial, k, keys[k], sorted[k])
		}
		for i := 0; i < k; i++ {
			if keys[i] > keys[k] {
				t.Errorf("trial %d: keys[%d] = %v > pivot %v", trial, i, keys[i], keys[k])
			}
		}
		for i := k + 1; i < n; i++ {
			if keys[i] < keys[k] {
				t.Errorf("trial %d: keys[%d] = %v < pivot %v", trial, i, keys[i], keys[k])
			}
		}
	}
}

func TestMedianOfThree(t *testing.T) {
	cases := [][4]float64{
		{1, 2, 3, 2},
		{3, 2, 1, 2},
		{2, 3, 1, 2},
		{1, 1, 2, 1},
		{5, 5, 5, 5},
	}
	for _, c := range cases {
		if got := medianOfThree(c[0], c[1], c[2]); got != c[3] {
			t.Errorf("medianOfThree(%v, %v, %v) = %v, want %v", c[0], c[1], c[2], got, c[3])
		}
	}
}
