package kdkmeans

import (
	"math/bits"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultParallelDepth returns ceil(log2(workers)): the recursion depth up to
// which a binary fork-join keeps spawning, so that the number of concurrent
// branches roughly matches the number of workers.
func defaultParallelDepth(workers int) int {
	if workers <= 1 {
		return 0
	}
	return bits.Len(uint(workers - 1))
}

// forker runs the two halves of a binary recursion concurrently while the
// recursion is shallower than maxDepth, and sequentially below it.
type forker struct {
	maxDepth int
}

func newForker(workers, parallelDepth int) forker {
	if parallelDepth < 0 {
		parallelDepth = defaultParallelDepth(workers)
	}
	return forker{maxDepth: parallelDepth}
}

// parallel reports whether fork would run its halves concurrently at depth.
func (f forker) parallel(depth int) bool { return depth < f.maxDepth }

// fork runs left and right and returns once both have finished. The right
// half runs on the calling goroutine.
func (f forker) fork(depth int, left, right func()) {
	if !f.parallel(depth) {
		left()
		right()
		return
	}
	var g errgroup.Group
	g.Go(func() error {
		left()
		return nil
	})
	right()
	_ = g.Wait()
}

// parallelRanges splits [0, n) into contiguous ranges, one per worker, and
// calls fn on each range concurrently. Ranges never overlap, so fn may write
// to per-index state without synchronization. Falls back to a single call
// when numWorkers <= 1.
func parallelRanges(n, numWorkers int, fn func(start, end int)) {
	if numWorkers <= 1 || n <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	rowsPerWorker := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > n {
			endRow = n
		}
		if startRow >= n {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}
