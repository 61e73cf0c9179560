package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TrevorS/kdkmeans"
)

// promCollector implements kdkmeans.MetricsCollector on Prometheus metrics.
type promCollector struct {
	buildSeconds     prometheus.Histogram
	points           prometheus.Gauge
	iterations       prometheus.Counter
	iterationSeconds prometheus.Histogram
	displacement     prometheus.Gauge
	nodesVisited     prometheus.Counter
	subtreesResolved prometheus.Counter
	candidatesPruned prometheus.Counter
	fits             *prometheus.CounterVec
	fitSeconds       prometheus.Histogram
}

func newPromCollector(reg prometheus.Registerer) *promCollector {
	c := &promCollector{
		buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kdkmeans_tree_build_seconds",
			Help:    "Time spent building the KD-tree",
			Buckets: prometheus.DefBuckets,
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdkmeans_points",
			Help: "Number of points in the latest tree",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdkmeans_iterations_total",
			Help: "Total filter-and-normalize iterations",
		}),
		iterationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kdkmeans_iteration_seconds",
			Help:    "Latency of one iteration",
			Buckets: prometheus.DefBuckets,
		}),
		displacement: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdkmeans_mean_displacement",
			Help: "Mean centroid displacement of the latest iteration",
		}),
		nodesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdkmeans_nodes_visited_total",
			Help: "Tree nodes entered by the filtering traversal",
		}),
		subtreesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdkmeans_subtrees_resolved_total",
			Help: "Subtrees assigned to a single centroid without descending",
		}),
		candidatesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdkmeans_candidates_pruned_total",
			Help: "Candidate centroids eliminated by the bounding-box test",
		}),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kdkmeans_fits_total",
			Help: "Completed fits by outcome",
		}, []string{"state"}),
		fitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kdkmeans_fit_seconds",
			Help:    "Latency of a whole fit",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.buildSeconds,
		c.points,
		c.iterations,
		c.iterationSeconds,
		c.displacement,
		c.nodesVisited,
		c.subtreesResolved,
		c.candidatesPruned,
		c.fits,
		c.fitSeconds,
	)
	return c
}

func (c *promCollector) RecordBuild(points int, d time.Duration) {
	c.buildSeconds.Observe(d.Seconds())
	c.points.Set(float64(points))
}

func (c *promCollector) RecordIteration(_ int, displacement float64, stats kdkmeans.FilterStats, d time.Duration) {
	c.iterations.Inc()
	c.iterationSeconds.Observe(d.Seconds())
	c.displacement.Set(displacement)
	c.nodesVisited.Add(float64(stats.NodesVisited))
	c.subtreesResolved.Add(float64(stats.SubtreesResolved))
	c.candidatesPruned.Add(float64(stats.CandidatesPruned))
}

func (c *promCollector) RecordFit(_ int, converged bool, d time.Duration) {
	state := kdkmeans.StateMaxIterationsExceeded
	if converged {
		state = kdkmeans.StateConverged
	}
	c.fits.WithLabelValues(state.String()).Inc()
	c.fitSeconds.Observe(d.Seconds())
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
}
