package kdkmeans

import (
	"math"
	"runtime"

	"gonum.org/v1/gonum/floats"
)

// NodeID addresses a node of a KDTree. NoNode stands for a missing child or
// the root of an empty tree.
type NodeID int32

const NoNode NodeID = -1

// KDTree is a KD-tree over a fixed point set, built once and then read by
// every filtering pass. Each node records the axis-aligned bounding box of
// its subtree and the sum and count of the points below it; leaves hold
// exactly one point.
//
// Nodes are stored in pre-order in flat arrays:
//   - a subtree over m points occupies exactly 2m-1 consecutive slots
//   - the left child of node s is s+1; the right child follows the left subtree
//   - bounds and sums are stored as node*dims + j
//
// The tree borrows the caller's points. It never reorders them; it permutes
// an index array instead, so points[i] keeps its identity.
type KDTree struct {
	points []Point
	n      int
	dims   int
	idx    []int // permutation: tree-order position → point index

	left   []NodeID
	right  []NodeID
	start  []int // first tree-order position covered by the node
	counts []int
	// sums[node*dims + j] = sum of feature j over the subtree
	sums []float64
	// boundsMin[node*dims + j] = min value of feature j in node
	boundsMin []float64
	// boundsMax[node*dims + j] = max value of feature j in node
	boundsMax []float64

	height int
	fork   forker
}

// TreeOption configures NewKDTree.
type TreeOption func(*treeOptions)

type treeOptions struct {
	workers       int
	parallelDepth int
}

// WithTreeWorkers sets the number of goroutines the build may use.
// Values <= 1 build sequentially.
func WithTreeWorkers(n int) TreeOption {
	return func(o *treeOptions) { o.workers = n }
}

// WithTreeParallelDepth sets the recursion depth below which the build stops
// forking. Negative means ceil(log2(workers)).
func WithTreeParallelDepth(d int) TreeOption {
	return func(o *treeOptions) { o.parallelDepth = d }
}

// NewKDTree builds a KD-tree over points. All points must share one non-zero
// dimension. An empty point set yields a tree whose Root is NoNode.
func NewKDTree(points []Point, opts ...TreeOption) (*KDTree, error) {
	o := treeOptions{workers: runtime.NumCPU(), parallelDepth: -1}
	for _, opt := range opts {
		opt(&o)
	}

	n := len(points)
	t := &KDTree{points: points, n: n, fork: newForker(o.workers, o.parallelDepth)}
	if n == 0 {
		return t, nil
	}

	t.dims = points[0].Dims()
	if t.dims == 0 {
		return nil, invalidConfig("points must have at least one dimension")
	}
	for i := range points {
		if err := checkDims(t.dims, points[i].Dims()); err != nil {
			return nil, err
		}
	}

	t.idx = make([]int, n)
	for i := range t.idx {
		t.idx[i] = i
	}

	numNodes := 2*n - 1
	t.left = make([]NodeID, numNodes)
	t.right = make([]NodeID, numNodes)
	t.start = make([]int, numNodes)
	t.counts = make([]int, numNodes)
	t.sums = make([]float64, numNodes*t.dims)
	t.boundsMin = make([]float64, numNodes*t.dims)
	t.boundsMax = make([]float64, numNodes*t.dims)

	t.buildNode(0, 0, n, 0)
	t.height = t.measureHeight()
	return t, nil
}

// buildNode builds the subtree for idxArray[start:end] into slot nodeID.
// Sibling subtrees touch disjoint slots and disjoint index ranges, so they
// can be built concurrently.
func (t *KDTree) buildNode(nodeID NodeID, start, end, depth int) {
	count := end - start
	t.start[nodeID] = start
	t.counts[nodeID] = count
	t.computeNodeSummary(nodeID, start, end)

	if count == 1 {
		t.left[nodeID] = NoNode
		t.right[nodeID] = NoNode
		return
	}

	axis := depth % t.dims
	half := count / 2
	t.selectByDimension(start, end, half, axis)
	mid := start + half

	leftID := nodeID + 1
	rightID := nodeID + NodeID(2*half)
	t.left[nodeID] = leftID
	t.right[nodeID] = rightID

	t.fork.fork(depth,
		func() { t.buildNode(leftID, start, mid, depth+1) },
		func() { t.buildNode(rightID, mid, end, depth+1) },
	)
}

// computeNodeSummary computes the subtree sum and the min/max per dimension
// for points idxArray[start:end].
func (t *KDTree) computeNodeSummary(nodeID NodeID, start, end int) {
	base := int(nodeID) * t.dims
	sum := t.sums[base : base+t.dims]
	lo := t.boundsMin[base : base+t.dims]
	hi := t.boundsMax[base : base+t.dims]
	for d := 0; d < t.dims; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		coords := t.points[t.idx[i]].Coords
		floats.Add(sum, coords)
		for d, v := range coords {
			if v < lo[d] {
				lo[d] = v
			}
			if v > hi[d] {
				hi[d] = v
			}
		}
	}
}

// selectByDimension partially orders idxArray[start:end] so that the element
// at relative position k is the one a full sort would put there, everything
// before it is <= and everything after it is >= on dim. This is nth_element:
// a quickselect with median-of-three pivots and a three-way partition, so
// runs of equal keys cannot stall it.
func (t *KDTree) selectByDimension(start, end, k, dim int) {
	sub := t.idx[start:end]
	key := func(i int) float64 { return t.points[sub[i]].Coords[dim] }

	lo, hi := 0, len(sub)-1
	for lo < hi {
		pivot := medianOfThree(key(lo), key(lo+(hi-lo)/2), key(hi))

		lt, i, gt := lo, lo, hi
		for i <= gt {
			v := key(i)
			switch {
			case v < pivot:
				sub[lt], sub[i] = sub[i], sub[lt]
				lt++
				i++
			case v > pivot:
				sub[i], sub[gt] = sub[gt], sub[i]
				gt--
			default:
				i++
			}
		}

		// [lo, lt) < pivot, [lt, gt] == pivot, (gt, hi] > pivot
		switch {
		case k < lt:
			hi = lt - 1
		case k > gt:
			lo = gt + 1
		default:
			return
		}
	}
}

func medianOfThree(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}

// measureHeight returns the number of edges on the longest root-to-leaf path.
func (t *KDTree) measureHeight() int {
	h := 0
	t.Walk(func(_ NodeID, depth int) bool {
		if depth > h {
			h = depth
		}
		return true
	})
	return h
}

// Root returns the root node, or NoNode for an empty tree.
func (t *KDTree) Root() NodeID {
	if t.n == 0 {
		return NoNode
	}
	return 0
}

// Len returns the number of points in the tree.
func (t *KDTree) Len() int { return t.n }

// Dims returns the dimensionality of the indexed points, 0 for an empty tree.
func (t *KDTree) Dims() int { return t.dims }

// NumNodes returns the number of nodes, always 2*Len()-1 for a non-empty tree.
func (t *KDTree) NumNodes() int { return len(t.counts) }

// Height returns the length of the longest root-to-leaf path.
func (t *KDTree) Height() int { return t.height }

// Points returns the borrowed point slice.
func (t *KDTree) Points() []Point { return t.points }

// IsLeaf reports whether node holds a single point.
func (t *KDTree) IsLeaf(node NodeID) bool { return t.left[node] == NoNode }

// Children returns the left and right children, both NoNode for a leaf.
func (t *KDTree) Children(node NodeID) (left, right NodeID) {
	return t.left[node], t.right[node]
}

// Bounds returns the bounding box of node. The slices alias tree storage and
// must not be modified.
func (t *KDTree) Bounds(node NodeID) (lo, hi []float64) {
	base := int(node) * t.dims
	return t.boundsMin[base : base+t.dims : base+t.dims], t.boundsMax[base : base+t.dims : base+t.dims]
}

// SubtreeSum returns the coordinate sum of every point below node. The slice
// aliases tree storage and must not be modified.
func (t *KDTree) SubtreeSum(node NodeID) []float64 {
	base := int(node) * t.dims
	return t.sums[base : base+t.dims : base+t.dims]
}

// SubtreeCount returns the number of points below node.
func (t *KDTree) SubtreeCount(node NodeID) int { return t.counts[node] }

// LeafPoint returns the index into Points of the point held by a leaf, or
// Unassigned for an internal node.
func (t *KDTree) LeafPoint(node NodeID) int {
	if !t.IsLeaf(node) {
		return Unassigned
	}
	return t.idx[t.start[node]]
}

// subtreePoints returns the indices of every point below node.
func (t *KDTree) subtreePoints(node NodeID) []int {
	s := t.start[node]
	return t.idx[s : s+t.counts[node]]
}

// Walk visits nodes in pre-order. fn returns false to skip the children of
// the node it was called with. The traversal uses an explicit stack, so
// depth is bounded only by memory.
func (t *KDTree) Walk(fn func(node NodeID, depth int) bool) {
	if t.n == 0 {
		return
	}
	type frame struct {
		node  NodeID
		depth int
	}
	stack := []frame{{node: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth) || t.IsLeaf(f.node) {
			continue
		}
		stack = append(stack,
			frame{node: t.right[f.node], depth: f.depth + 1},
			frame{node: t.left[f.node], depth: f.depth + 1},
		)
	}
}
