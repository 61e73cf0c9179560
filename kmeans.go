package kdkmeans

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// EmptyClusterPolicy decides what happens to a centroid that attracted no
// points in an iteration.
type EmptyClusterPolicy string

const (
	// EmptyKeep leaves the centroid where it was and reports it.
	EmptyKeep EmptyClusterPolicy = "keep"
	// EmptyReseed moves the centroid onto the point that is farthest from
	// its own centroid.
	EmptyReseed EmptyClusterPolicy = "reseed"
)

// State is the phase of a KMeans run.
type State int

const (
	StateInitializing State = iota
	StateFiltering
	StateConverged
	StateMaxIterationsExceeded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateFiltering:
		return "filtering"
	case StateConverged:
		return "converged"
	case StateMaxIterationsExceeded:
		return "max_iterations_exceeded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for c := StateInitializing; c <= StateMaxIterationsExceeded; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("kdkmeans: unknown state %q", b)
}

// Config controls a k-means run.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// K is the number of clusters. Must be > 0. Default: 8.
	K int

	// Threshold is the convergence tolerance: the run stops once the mean
	// distance the centroids moved in one iteration is <= Threshold.
	// Must be > 0. Default: 1e-4.
	Threshold float64

	// MaxIterations caps the number of iterations. A run that hits the cap
	// reports Converged=false instead of failing. Default: 100.
	MaxIterations int

	// Init selects the built-in initialization strategy: "random",
	// "most_distant" or "provided". Default: "provided" when
	// InitialCentroids is set, otherwise "random".
	Init InitMethod

	// InitialCentroids are the starting coordinates for Init "provided".
	InitialCentroids [][]float64

	// Initializer overrides Init with a custom strategy.
	Initializer Initializer

	// Seed seeds the random initialization strategies. 0 draws a random seed.
	Seed uint64

	// Metric is the distance function. Default: EuclideanMetric.
	Metric DistanceMetric

	// Algorithm selects the assignment strategy. "auto" uses the KD-tree
	// filtering algorithm for Euclidean distance and brute force otherwise.
	// Default: "auto".
	Algorithm Algorithm

	// EmptyClusters decides how centroids without points are handled.
	// Default: "keep".
	EmptyClusters EmptyClusterPolicy

	// Workers bounds the goroutines used for tree construction, filtering
	// and brute-force assignment. 0 means runtime.NumCPU().
	Workers int

	// ParallelDepth is the tree depth below which construction and filtering
	// stop forking. 0 never forks; Workers still bounds brute-force
	// assignment and reseeding. ParallelDepthAuto means ceil(log2(Workers)).
	// Default: ParallelDepthAuto.
	ParallelDepth int

	// Logger receives structured run logs. Default: discard.
	Logger *slog.Logger

	// Metrics receives per-run metrics. Default: NoopMetricsCollector.
	Metrics MetricsCollector
}

// Result contains the output of a k-means run.
type Result struct {
	// Labels[i] is the index of the centroid point i was assigned to.
	Labels []int `json:"labels"`

	// Centroids holds the final centroid coordinates.
	Centroids [][]float64 `json:"centroids"`

	// Counts[j] is the number of points assigned to centroid j in the last
	// iteration.
	Counts []int `json:"counts"`

	// Iterations is the number of filter-and-normalize iterations run.
	Iterations int `json:"iterations"`

	// Converged is false when the run stopped at MaxIterations.
	Converged bool `json:"converged"`

	// State is StateConverged or StateMaxIterationsExceeded.
	State State `json:"state"`

	// MeanDisplacement is the mean centroid movement of the last iteration.
	MeanDisplacement float64 `json:"mean_displacement"`

	// Inertia is the sum of squared distances from points to their centroid.
	Inertia float64 `json:"inertia"`

	// EmptyClusters lists the centroids that attracted no points in the last
	// iteration.
	EmptyClusters []int `json:"empty_clusters,omitempty"`

	// RunID identifies the run in logs.
	RunID string `json:"run_id"`

	// Stats accumulates the filtering work over all iterations.
	Stats FilterStats `json:"stats"`
}

// ParallelDepthAuto lets the fork depth follow the worker count.
const ParallelDepthAuto = -1

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		K:             8,
		Threshold:     1e-4,
		MaxIterations: 100,
		Metric:        EuclideanMetric{},
		Algorithm:     AlgorithmAuto,
		EmptyClusters: EmptyKeep,
		ParallelDepth: ParallelDepthAuto,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Threshold == 0 {
		cfg.Threshold = 1e-4
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 100
	}
	if cfg.Init == "" {
		if cfg.InitialCentroids != nil {
			cfg.Init = InitProvided
		} else {
			cfg.Init = InitRandom
		}
	}
	if cfg.Metric == nil {
		cfg.Metric = EuclideanMetric{}
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmAuto
	}
	if cfg.EmptyClusters == "" {
		cfg.EmptyClusters = EmptyKeep
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ParallelDepth == ParallelDepthAuto {
		cfg.ParallelDepth = defaultParallelDepth(cfg.Workers)
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetricsCollector{}
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.K <= 0 {
		return invalidConfig("K must be > 0, got %d", cfg.K)
	}
	if !(cfg.Threshold > 0) {
		return invalidConfig("Threshold must be > 0, got %g", cfg.Threshold)
	}
	if cfg.MaxIterations < 1 {
		return invalidConfig("MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.Initializer == nil {
		switch cfg.Init {
		case InitRandom, InitMostDistant:
			// valid
		case InitProvided:
			if len(cfg.InitialCentroids) != cfg.K {
				return invalidConfig("Init %q needs K=%d InitialCentroids, got %d", cfg.Init, cfg.K, len(cfg.InitialCentroids))
			}
		default:
			return invalidConfig("invalid Init %q", cfg.Init)
		}
	}
	switch cfg.Algorithm {
	case AlgorithmAuto, AlgorithmFiltering, AlgorithmBrute:
		// valid
	default:
		return invalidConfig("invalid Algorithm %q", cfg.Algorithm)
	}
	switch cfg.EmptyClusters {
	case EmptyKeep, EmptyReseed:
		// valid
	default:
		return invalidConfig("invalid EmptyClusters %q", cfg.EmptyClusters)
	}
	if cfg.Workers < 1 {
		return invalidConfig("Workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.ParallelDepth < 0 {
		return invalidConfig("ParallelDepth must be >= 0 or ParallelDepthAuto, got %d", cfg.ParallelDepth)
	}
	return nil
}

// KMeans drives a k-means run over a fixed point set: it builds the KD-tree
// once, then iterates reset → filter → normalize → convergence check.
//
// The points are borrowed from the caller; only their Assigned field is
// written. KMeans is not safe for concurrent use.
type KMeans struct {
	cfg       Config
	algorithm Algorithm
	points    []Point
	tree      *KDTree
	assign    assigner
	rng       *rand.Rand

	centroids    []Centroid
	previous     [][]float64
	state        State
	iterations   int
	displacement float64
	empty        []int
	stats        FilterStats

	runID string
	log   runLogger
}

// New validates cfg, builds the spatial index over points and initializes
// the centroids. Configuration and dimension errors are returned before any
// clustering work is done.
func New(points []Point, cfg Config) (*KMeans, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	algorithm, err := selectAlgorithm(cfg)
	if err != nil {
		return nil, err
	}

	k := &KMeans{
		cfg:       cfg,
		algorithm: algorithm,
		points:    points,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	k.newRun()

	ctx := context.Background()
	switch k.algorithm {
	case AlgorithmFiltering:
		start := time.Now()
		tree, err := NewKDTree(points,
			WithTreeWorkers(cfg.Workers),
			WithTreeParallelDepth(cfg.ParallelDepth),
		)
		if err != nil {
			return nil, err
		}
		d := time.Since(start)
		k.tree = tree
		k.assign = NewFilter(tree, cfg.Metric,
			WithWorkers(cfg.Workers),
			WithParallelDepth(cfg.ParallelDepth),
		)
		k.log.logBuild(ctx, tree.Len(), tree.Dims(), tree.Height(), d)
		cfg.Metrics.RecordBuild(tree.Len(), d)
	default:
		dims := points[0].Dims()
		for i := range points {
			if err := checkDims(dims, points[i].Dims()); err != nil {
				return nil, err
			}
		}
		k.assign = bruteAssigner{points: points, metric: cfg.Metric, workers: cfg.Workers}
	}

	if err := k.initCentroids(); err != nil {
		return nil, err
	}
	k.log.logStart(ctx, cfg, k.algorithm, len(points))
	return k, nil
}

// newRun starts a fresh run id and logger.
func (k *KMeans) newRun() {
	k.runID = uuid.NewString()
	k.log = newRunLogger(k.cfg.Logger, k.runID)
}

func (k *KMeans) initializer() Initializer {
	if k.cfg.Initializer != nil {
		return k.cfg.Initializer
	}
	switch k.cfg.Init {
	case InitMostDistant:
		return MostDistantInit{Rand: k.rng, Metric: k.cfg.Metric, Workers: k.cfg.Workers}
	case InitProvided:
		return ProvidedInit{Coords: k.cfg.InitialCentroids}
	default:
		return RandomInit{Rand: k.rng}
	}
}

func (k *KMeans) initCentroids() error {
	centroids, err := k.initializer().Initialize(k.points, k.cfg.K)
	if err != nil {
		return err
	}
	if len(centroids) != k.cfg.K {
		return fmt.Errorf("kdkmeans: initializer returned %d centroids, want %d", len(centroids), k.cfg.K)
	}
	dims := k.points[0].Dims()
	for i := range centroids {
		if err := checkDims(dims, centroids[i].Dims()); err != nil {
			return err
		}
		if centroids[i].Sum == nil {
			centroids[i].Sum = make([]float64, dims)
		}
	}
	k.centroids = centroids
	k.previous = snapshotCoords(centroids)
	k.state = StateInitializing
	return nil
}

// Step runs one iteration: reset every centroid accumulator, assign all
// points, normalize the centroids and measure how far they moved. It returns
// the mean displacement. ctx is checked before the iteration starts; an
// iteration, once started, runs to completion.
//
// When Step returns an error the centroids, state and iteration count are
// unchanged.
func (k *KMeans) Step(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := k.checkCentroids(); err != nil {
		return 0, err
	}
	k.state = StateFiltering
	start := time.Now()

	for i := range k.centroids {
		k.centroids[i].Reset()
	}

	stats, err := k.assign.Run(k.centroids)
	if err != nil {
		return 0, err
	}
	k.iterations++

	k.normalize(ctx)

	disp := k.meanDisplacement()
	k.previous = snapshotCoords(k.centroids)
	k.displacement = disp
	k.stats.Add(stats)

	d := time.Since(start)
	k.log.logIteration(ctx, k.iterations, disp, stats, d)
	k.cfg.Metrics.RecordIteration(k.iterations, disp, stats, d)
	return disp, nil
}

// checkCentroids rejects centroids the assignment pass would refuse, before
// any accumulator is reset.
func (k *KMeans) checkCentroids() error {
	if len(k.centroids) == 0 {
		return fmt.Errorf("kdkmeans: no centroids to assign to")
	}
	dims := k.points[0].Dims()
	for i := range k.centroids {
		c := &k.centroids[i]
		if err := checkDims(dims, c.Dims()); err != nil {
			return fmt.Errorf("kdkmeans: centroid %d: %w", i, err)
		}
		if c.Sum != nil {
			if err := checkDims(dims, len(c.Sum)); err != nil {
				return fmt.Errorf("kdkmeans: centroid %d accumulator: %w", i, err)
			}
		}
	}
	return nil
}

// normalize moves every centroid to the mean of its points and applies the
// empty cluster policy.
func (k *KMeans) normalize(ctx context.Context) {
	k.empty = k.empty[:0]
	for i := range k.centroids {
		if err := k.centroids[i].Normalize(); err != nil {
			k.empty = append(k.empty, i)
		}
	}
	if len(k.empty) == 0 {
		return
	}
	reseed := k.cfg.EmptyClusters == EmptyReseed
	if reseed {
		k.reseed()
	}
	k.log.logEmptyClusters(ctx, k.iterations, k.empty, reseed)
}

// reseed moves each empty centroid onto the point farthest from the centroid
// it is assigned to. Each point is used at most once per call.
func (k *KMeans) reseed() {
	dist := make([]float64, len(k.points))
	parallelRanges(len(k.points), k.cfg.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			a := k.points[i].Assigned
			if a < 0 || a >= len(k.centroids) {
				continue
			}
			dist[i] = k.cfg.Metric.Distance(k.points[i].Coords, k.centroids[a].Coords)
		}
	})

	used := make(map[int]bool, len(k.empty))
	for _, c := range k.empty {
		far := -1
		for i, d := range dist {
			if used[i] {
				continue
			}
			if far < 0 || d > dist[far] {
				far = i
			}
		}
		if far < 0 {
			return
		}
		used[far] = true
		copy(k.centroids[c].Coords, k.points[far].Coords)
	}
}

func (k *KMeans) meanDisplacement() float64 {
	moved := make([]float64, len(k.centroids))
	for i := range k.centroids {
		moved[i] = k.cfg.Metric.Distance(k.centroids[i].Coords, k.previous[i])
	}
	return stat.Mean(moved, nil)
}

// Fit iterates until the mean centroid displacement drops to Threshold or
// MaxIterations iterations have run. Hitting the cap is reported in the
// result, not as an error. ctx is checked between iterations.
func (k *KMeans) Fit(ctx context.Context) (*Result, error) {
	start := time.Now()
	for {
		disp, err := k.Step(ctx)
		if err != nil {
			return nil, err
		}
		if disp <= k.cfg.Threshold {
			k.state = StateConverged
			break
		}
		if k.iterations >= k.cfg.MaxIterations {
			k.state = StateMaxIterationsExceeded
			break
		}
	}

	r := k.Result()
	d := time.Since(start)
	k.log.logFit(ctx, r, d)
	k.cfg.Metrics.RecordFit(r.Iterations, r.Converged, d)
	return r, nil
}

// Result snapshots the current run state.
func (k *KMeans) Result() *Result {
	counts := make([]int, len(k.centroids))
	for i := range k.centroids {
		counts[i] = k.centroids[i].Count
	}
	r := &Result{
		Labels:           Labels(k.points),
		Centroids:        snapshotCoords(k.centroids),
		Counts:           counts,
		Iterations:       k.iterations,
		Converged:        k.state == StateConverged,
		State:            k.state,
		MeanDisplacement: k.displacement,
		Inertia:          Inertia(k.points, k.centroids, k.cfg.Metric, k.cfg.Workers),
		RunID:            k.runID,
		Stats:            k.stats,
	}
	if len(k.empty) > 0 {
		r.EmptyClusters = append([]int(nil), k.empty...)
	}
	return r
}

// Points returns the borrowed point slice; Assigned holds each point's
// centroid index after the first iteration.
func (k *KMeans) Points() []Point { return k.points }

// Centroids returns the live centroids. Changing them between iterations
// changes where the next iteration starts.
func (k *KMeans) Centroids() []Centroid { return k.centroids }

// Tree returns the spatial index, or nil when the run uses brute force.
func (k *KMeans) Tree() *KDTree { return k.tree }

// State returns the current phase of the run.
func (k *KMeans) State() State { return k.state }

// Iterations returns the number of iterations run so far.
func (k *KMeans) Iterations() int { return k.iterations }

// RunID returns the id tagging this run's logs.
func (k *KMeans) RunID() string { return k.runID }

// ResetCentroids discards all progress: point assignments are cleared and
// the centroids are initialized again, so the next Fit starts a new run over
// the same tree.
func (k *KMeans) ResetCentroids() error {
	for i := range k.points {
		k.points[i].Assigned = Unassigned
	}
	k.iterations = 0
	k.displacement = 0
	k.empty = nil
	k.stats = FilterStats{}
	k.newRun()
	return k.initCentroids()
}

// emptyResult returns a Result for a run over no points.
func emptyResult() *Result {
	return &Result{
		Labels:    []int{},
		Centroids: [][]float64{},
		Counts:    []int{},
		Converged: true,
		State:     StateConverged,
		RunID:     uuid.NewString(),
	}
}

// Cluster runs k-means on the given data and returns the result.
// Each element is a point (float64 slice); all points must have the same
// dimensionality. Returns an error if the config is invalid.
func Cluster(data [][]float64, cfg Config) (*Result, error) {
	return ClusterContext(context.Background(), data, cfg)
}

// ClusterContext is Cluster with a context checked between iterations.
func ClusterContext(ctx context.Context, data [][]float64, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return emptyResult(), nil
	}

	points, err := PointsFromRows(data)
	if err != nil {
		return nil, err
	}
	km, err := New(points, cfg)
	if err != nil {
		return nil, err
	}
	return km.Fit(ctx)
}

