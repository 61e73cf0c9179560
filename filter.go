package kdkmeans

import (
	"errors"
	"runtime"
)

// FilterStats counts the work done by one or more filtering passes.
type FilterStats struct {
	// NodesVisited is the number of tree nodes the traversal entered.
	NodesVisited int
	// LeavesResolved is the number of leaves assigned individually.
	LeavesResolved int
	// SubtreesResolved is the number of internal nodes whose whole subtree
	// went to a single surviving candidate.
	SubtreesResolved int
	// CandidatesPruned is the number of candidate eliminations by the
	// bounding-box test, summed over all visited nodes.
	CandidatesPruned int
}

// Add accumulates o into s.
func (s *FilterStats) Add(o FilterStats) {
	s.NodesVisited += o.NodesVisited
	s.LeavesResolved += o.LeavesResolved
	s.SubtreesResolved += o.SubtreesResolved
	s.CandidatesPruned += o.CandidatesPruned
}

// Filter assigns the points of a KDTree to their nearest centroid with the
// Kanungo et al. filtering algorithm. At each node the candidate centroids
// that are provably farther than the best one from every point of the node's
// cell are dropped; once a single candidate survives, the node's whole
// subtree is credited to it in one step.
type Filter struct {
	tree   *KDTree
	metric DistanceMetric
	fork   forker
}

// FilterOption configures NewFilter.
type FilterOption func(*filterOptions)

type filterOptions struct {
	workers       int
	parallelDepth int
}

// WithWorkers sets the number of goroutines a filtering pass may use.
func WithWorkers(n int) FilterOption {
	return func(o *filterOptions) { o.workers = n }
}

// WithParallelDepth sets the tree depth below which a filtering pass stops
// forking. Negative means ceil(log2(workers)).
func WithParallelDepth(d int) FilterOption {
	return func(o *filterOptions) { o.parallelDepth = d }
}

// NewFilter returns a Filter over tree. A nil metric means Euclidean.
func NewFilter(tree *KDTree, metric DistanceMetric, opts ...FilterOption) *Filter {
	o := filterOptions{workers: runtime.NumCPU(), parallelDepth: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if metric == nil {
		metric = EuclideanMetric{}
	}
	return &Filter{tree: tree, metric: metric, fork: newForker(o.workers, o.parallelDepth)}
}

// Run performs one filtering pass. Every point of the tree gets its Assigned
// field set to the index of its nearest centroid, and every centroid's
// accumulator receives the sum and count of the points it won.
//
// Run does not reset the centroids. The counts it adds sum to the number of
// points in the tree, so callers reset centroids beforehand when they want
// the accumulators to describe exactly this pass.
func (f *Filter) Run(centroids []Centroid) (FilterStats, error) {
	var stats FilterStats
	root := f.tree.Root()
	if root == NoNode {
		return stats, nil
	}
	if len(centroids) == 0 {
		return stats, errors.New("kdkmeans: filter needs at least one centroid")
	}

	dims := f.tree.Dims()
	coords := make([][]float64, len(centroids))
	for i := range centroids {
		c := &centroids[i]
		if err := checkDims(dims, c.Dims()); err != nil {
			return stats, err
		}
		if c.Sum == nil {
			c.Sum = make([]float64, dims)
		} else if err := checkDims(dims, len(c.Sum)); err != nil {
			return stats, err
		}
		coords[i] = c.Coords
	}

	r := &filterRun{
		f:      f,
		coords: coords,
		points: f.tree.points,
		k:      len(centroids),
		dims:   dims,
	}
	candidates := make([]int, len(centroids))
	for i := range candidates {
		candidates[i] = i
	}

	b := r.newBranch()
	r.filterNode(root, candidates, 0, b)

	for i := range centroids {
		centroids[i].merge(b.acc[i].Sum, b.acc[i].Count)
	}
	return b.stats, nil
}

// filterRun is the read-mostly state shared by all branches of one pass.
type filterRun struct {
	f      *Filter
	coords [][]float64
	points []Point
	k      int
	dims   int
}

// filterBranch is owned by exactly one goroutine. Forked branches start
// with zeroed partial accumulators that are merged into the parent at the
// join, so concurrent leaves never write shared centroid state.
type filterBranch struct {
	acc   []Accumulator
	stats FilterStats
	mid   []float64
	vH    []float64
}

func (r *filterRun) newBranch() *filterBranch {
	return &filterBranch{
		acc: newAccumulators(r.k, r.dims),
		mid: make([]float64, r.dims),
		vH:  make([]float64, r.dims),
	}
}

func (b *filterBranch) join(o *filterBranch) {
	for i := range b.acc {
		b.acc[i].merge(o.acc[i].Sum, o.acc[i].Count)
	}
	b.stats.Add(o.stats)
}

func (r *filterRun) filterNode(node NodeID, candidates []int, depth int, b *filterBranch) {
	if node == NoNode {
		return
	}
	t := r.f.tree
	b.stats.NodesVisited++

	sum := t.SubtreeSum(node)
	count := t.SubtreeCount(node)

	if t.IsLeaf(node) {
		zStar := r.closest(candidates, sum)
		b.acc[zStar].merge(sum, count)
		r.points[t.LeafPoint(node)].Assigned = zStar
		b.stats.LeavesResolved++
		return
	}

	lo, hi := t.Bounds(node)
	for i := range b.mid {
		b.mid[i] = (lo[i] + hi[i]) / 2
	}
	zStar := r.closest(candidates, b.mid)

	filtered := make([]int, 0, len(candidates))
	for _, z := range candidates {
		if z == zStar || !r.isFarther(z, zStar, lo, hi, b.vH) {
			filtered = append(filtered, z)
		}
	}
	b.stats.CandidatesPruned += len(candidates) - len(filtered)

	if len(filtered) == 1 {
		b.acc[zStar].merge(sum, count)
		r.stamp(node, zStar)
		b.stats.SubtreesResolved++
		return
	}

	left, right := t.Children(node)
	if !r.f.fork.parallel(depth) {
		r.filterNode(left, filtered, depth+1, b)
		r.filterNode(right, filtered, depth+1, b)
		return
	}
	lb := r.newBranch()
	r.f.fork.fork(depth,
		func() { r.filterNode(left, filtered, depth+1, lb) },
		func() { r.filterNode(right, filtered, depth+1, b) },
	)
	b.join(lb)
}

// closest returns the candidate nearest to target. Ties go to the earliest
// candidate: a later one must be strictly closer to replace it.
func (r *filterRun) closest(candidates []int, target []float64) int {
	best := candidates[0]
	bestDist := r.f.metric.ReducedDistance(r.coords[best], target)
	for _, c := range candidates[1:] {
		if d := r.f.metric.ReducedDistance(r.coords[c], target); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// isFarther reports whether candidate z is farther than zStar from every
// point of the cell [lo, hi]. It checks the cell corner vH that lies
// farthest in the direction of z - zStar; if zStar is closer even there, it
// is closer everywhere in the cell.
func (r *filterRun) isFarther(z, zStar int, lo, hi, vH []float64) bool {
	zc, sc := r.coords[z], r.coords[zStar]
	for i := range vH {
		if zc[i]-sc[i] >= 0 {
			vH[i] = hi[i]
		} else {
			vH[i] = lo[i]
		}
	}
	return r.f.metric.ReducedDistance(zc, vH) > r.f.metric.ReducedDistance(sc, vH)
}

// stamp records centroid as the assignment of every point below node. A
// subtree's points are contiguous in the tree's index permutation, so this
// is a flat loop rather than a walk.
func (r *filterRun) stamp(node NodeID, centroid int) {
	for _, pi := range r.f.tree.subtreePoints(node) {
		r.points[pi].Assigned = centroid
	}
}
