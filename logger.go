package kdkmeans

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewTextLogger returns a logger writing human-readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger returns a logger writing JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger returns a logger that discards everything.
func NoopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, invalidConfig("unknown log level %q", s)
	}
	return l, nil
}

// runLogger tags every record of one clustering run with its id.
type runLogger struct {
	*slog.Logger
}

func newRunLogger(l *slog.Logger, runID string) runLogger {
	return runLogger{Logger: l.With("run_id", runID)}
}

func (l runLogger) logStart(ctx context.Context, cfg Config, algorithm Algorithm, points int) {
	l.InfoContext(ctx, "k-means run initialized",
		"points", points,
		"k", cfg.K,
		"algorithm", string(algorithm),
		"metric", metricName(cfg.Metric),
		"init", string(cfg.Init),
		"workers", cfg.Workers,
	)
}

func (l runLogger) logBuild(ctx context.Context, points, dims, height int, d time.Duration) {
	l.DebugContext(ctx, "kd-tree built",
		"points", points,
		"dims", dims,
		"height", height,
		"duration", d,
	)
}

func (l runLogger) logIteration(ctx context.Context, iter int, displacement float64, stats FilterStats, d time.Duration) {
	l.DebugContext(ctx, "iteration completed",
		"iteration", iter,
		"mean_displacement", displacement,
		"nodes_visited", stats.NodesVisited,
		"subtrees_resolved", stats.SubtreesResolved,
		"candidates_pruned", stats.CandidatesPruned,
		"duration", d,
	)
}

func (l runLogger) logEmptyClusters(ctx context.Context, iter int, empty []int, reseeded bool) {
	l.WarnContext(ctx, "empty clusters",
		"iteration", iter,
		"clusters", empty,
		"reseeded", reseeded,
	)
}

func (l runLogger) logFit(ctx context.Context, r *Result, d time.Duration) {
	if r.Converged {
		l.InfoContext(ctx, "k-means converged",
			"iterations", r.Iterations,
			"mean_displacement", r.MeanDisplacement,
			"inertia", r.Inertia,
			"duration", d,
		)
		return
	}
	l.WarnContext(ctx, "k-means stopped at iteration cap",
		"iterations", r.Iterations,
		"mean_displacement", r.MeanDisplacement,
		"inertia", r.Inertia,
		"duration", d,
	)
}
