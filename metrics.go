package kdkmeans

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from a clustering run.
// Implement it to feed a monitoring system; the kdkmeans command ships a
// Prometheus implementation.
type MetricsCollector interface {
	// RecordBuild is called once the KD-tree over points has been built.
	RecordBuild(points int, duration time.Duration)

	// RecordIteration is called after every filter-and-normalize iteration.
	RecordIteration(iteration int, displacement float64, stats FilterStats, duration time.Duration)

	// RecordFit is called when Fit returns a result.
	RecordFit(iterations int, converged bool, duration time.Duration)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration)                           {}
func (NoopMetricsCollector) RecordIteration(int, float64, FilterStats, time.Duration) {}
func (NoopMetricsCollector) RecordFit(int, bool, time.Duration)                       {}

// BasicMetricsCollector keeps running totals in memory. It is safe for
// concurrent use.
type BasicMetricsCollector struct {
	Builds           atomic.Int64
	BuildNanos       atomic.Int64
	Iterations       atomic.Int64
	IterationNanos   atomic.Int64
	NodesVisited     atomic.Int64
	SubtreesResolved atomic.Int64
	CandidatesPruned atomic.Int64
	Fits             atomic.Int64
	FitsConverged    atomic.Int64
	lastDisplacement atomic.Uint64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_ int, duration time.Duration) {
	b.Builds.Add(1)
	b.BuildNanos.Add(duration.Nanoseconds())
}

// RecordIteration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIteration(_ int, displacement float64, stats FilterStats, duration time.Duration) {
	b.Iterations.Add(1)
	b.IterationNanos.Add(duration.Nanoseconds())
	b.NodesVisited.Add(int64(stats.NodesVisited))
	b.SubtreesResolved.Add(int64(stats.SubtreesResolved))
	b.CandidatesPruned.Add(int64(stats.CandidatesPruned))
	b.lastDisplacement.Store(math.Float64bits(displacement))
}

// RecordFit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFit(_ int, converged bool, _ time.Duration) {
	b.Fits.Add(1)
	if converged {
		b.FitsConverged.Add(1)
	}
}

// LastDisplacement returns the mean displacement of the latest iteration.
func (b *BasicMetricsCollector) LastDisplacement() float64 {
	return math.Float64frombits(b.lastDisplacement.Load())
}
