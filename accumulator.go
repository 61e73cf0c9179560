package kdkmeans

import "gonum.org/v1/gonum/floats"

// Accumulator is a running coordinate sum and point count. Tree nodes carry
// one computed at build time over their subtree; centroids carry one that is
// reset and refilled on every iteration.
type Accumulator struct {
	Sum   []float64
	Count int
}

// NewAccumulator returns a zeroed accumulator of the given dimension.
func NewAccumulator(dims int) Accumulator {
	return Accumulator{Sum: make([]float64, dims)}
}

// Reset zeroes Sum and Count in place.
func (a *Accumulator) Reset() {
	clear(a.Sum)
	a.Count = 0
}

// Merge adds other into a. Merging is associative and commutative, so
// partial accumulators can be combined in any order.
func (a *Accumulator) Merge(other Accumulator) error {
	if err := checkDims(len(a.Sum), len(other.Sum)); err != nil {
		return err
	}
	a.merge(other.Sum, other.Count)
	return nil
}

// merge is Merge without the dimension check, for callers that validated
// dimensions up front.
func (a *Accumulator) merge(sum []float64, count int) {
	floats.Add(a.Sum, sum)
	a.Count += count
}

// AddPoint accumulates a single point.
func (a *Accumulator) AddPoint(coords []float64) error {
	if err := checkDims(len(a.Sum), len(coords)); err != nil {
		return err
	}
	a.merge(coords, 1)
	return nil
}

// Mean writes Sum/Count into dst. It returns false, leaving dst untouched,
// when nothing has been accumulated.
func (a *Accumulator) Mean(dst []float64) bool {
	if a.Count == 0 {
		return false
	}
	floats.ScaleTo(dst, 1/float64(a.Count), a.Sum)
	return true
}

// newAccumulators allocates k zeroed accumulators sharing one backing array.
func newAccumulators(k, dims int) []Accumulator {
	backing := make([]float64, k*dims)
	accs := make([]Accumulator, k)
	for i := range accs {
		accs[i].Sum = backing[i*dims : (i+1)*dims : (i+1)*dims]
	}
	return accs
}
