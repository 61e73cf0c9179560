// Command kdkmeans clusters CSV point files with KD-tree accelerated k-means.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/TrevorS/kdkmeans"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kdkmeans",
		Short: "K-means clustering with KD-tree filtering",
		Long: `kdkmeans clusters points read from CSV files with the filtering
algorithm of Kanungo et al., which prunes candidate centroids per KD-tree
cell instead of comparing every point with every centroid.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kdkmeans v%s (%s)\n", version, commit)
		},
	})

	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Cluster a CSV point file",
		RunE:  runFit,
	}
	d := defaultFitConfig()
	fitCmd.Flags().String("config", "", "YAML config file")
	fitCmd.Flags().String("input", "", "CSV file with one point per row")
	fitCmd.Flags().String("output", "", "Output file (default: stdout)")
	fitCmd.Flags().String("format", d.Format, "Output format: csv or json")
	fitCmd.Flags().Int("k", kdkmeans.DefaultConfig().K, "Number of clusters (must match the rows of --centroids)")
	fitCmd.Flags().Float64("threshold", d.Threshold, "Convergence threshold on mean centroid displacement")
	fitCmd.Flags().Int("max-iter", d.MaxIterations, "Maximum number of iterations")
	fitCmd.Flags().String("init", "", "Initialization: random or most_distant (default random, provided with --centroids)")
	fitCmd.Flags().String("centroids", "", "CSV file with initial centroids (sets k)")
	fitCmd.Flags().Uint64("seed", 0, "Random seed (0 = random)")
	fitCmd.Flags().String("metric", d.Metric, "Distance metric: euclidean, manhattan or chebyshev")
	fitCmd.Flags().String("algorithm", d.Algorithm, "Assignment algorithm: auto, filtering or brute")
	fitCmd.Flags().String("empty", d.EmptyClusters, "Empty cluster policy: keep or reseed")
	fitCmd.Flags().Int("workers", 0, "Worker goroutines (0 = all CPUs)")
	fitCmd.Flags().Int("parallel-depth", d.ParallelDepth, "Tree depth below which build and filtering stop forking (-1 = ceil(log2(workers)))")
	fitCmd.Flags().String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	fitCmd.Flags().String("log-format", d.LogFormat, "Log format: text or json")
	fitCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while fitting")
	rootCmd.AddCommand(fitCmd)

	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Write Gaussian blobs as CSV",
		RunE:  runGenerate,
	}
	genCmd.Flags().Int("clusters", 4, "Number of blobs")
	genCmd.Flags().Int("per-cluster", 1000, "Points per blob")
	genCmd.Flags().Int("dims", 2, "Dimensions")
	genCmd.Flags().Float64("spread", 1, "Standard deviation of each blob")
	genCmd.Flags().Uint64("seed", 1, "Random seed")
	genCmd.Flags().String("output", "", "Output file (default: stdout)")
	rootCmd.AddCommand(genCmd)

	return rootCmd
}

func runFit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	fc, err := loadFitConfig(path)
	if err != nil {
		return err
	}
	if err := fc.applyEnv(os.Getenv); err != nil {
		return err
	}
	fc.applyFlags(cmd)
	if err := fc.Validate(); err != nil {
		return err
	}

	log, err := fc.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := readRowsFile(fc.Input)
	if err != nil {
		return err
	}
	var initial [][]float64
	if fc.Centroids != "" {
		if initial, err = readRowsFile(fc.Centroids); err != nil {
			return err
		}
	}

	cfg, err := fc.toConfig(initial)
	if err != nil {
		return err
	}
	cfg.Logger = log
	if fc.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Metrics = newPromCollector(reg)
		serveMetrics(ctx, fc.MetricsAddr, reg, log)
	}

	points, err := kdkmeans.PointsFromRows(rows)
	if err != nil {
		return err
	}
	km, err := kdkmeans.New(points, cfg)
	if err != nil {
		return err
	}
	result, err := km.Fit(ctx)
	if err != nil {
		return err
	}
	logSizes(log, result)

	return withOutput(cmd.OutOrStdout(), fc.Output, func(w io.Writer) error {
		if fc.Format == "json" {
			return writeJSON(w, result)
		}
		return writeLabels(w, km.Points())
	})
}

// logSizes summarizes how evenly the points spread over the clusters.
func logSizes(log *slog.Logger, r *kdkmeans.Result) {
	sizes := make([]float64, len(r.Counts))
	for i, c := range r.Counts {
		sizes[i] = float64(c)
	}
	mean, std := stat.MeanStdDev(sizes, nil)
	log.Info("cluster sizes",
		"clusters", len(sizes),
		"mean", mean,
		"stddev", std,
		"empty", len(r.EmptyClusters),
	)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	clusters, _ := cmd.Flags().GetInt("clusters")
	perCluster, _ := cmd.Flags().GetInt("per-cluster")
	dims, _ := cmd.Flags().GetInt("dims")
	spread, _ := cmd.Flags().GetFloat64("spread")
	seed, _ := cmd.Flags().GetUint64("seed")
	output, _ := cmd.Flags().GetString("output")

	if clusters < 1 || perCluster < 1 || dims < 1 {
		return fmt.Errorf("clusters, per-cluster and dims must be positive")
	}
	rows := generateBlobs(clusters, perCluster, dims, spread, seed)
	return withOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
		return writeRows(w, rows)
	})
}

// generateBlobs draws perCluster normal samples around each of clusters
// centers spread uniformly over [0, 100) in every dimension.
func generateBlobs(clusters, perCluster, dims int, spread float64, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	rows := make([][]float64, 0, clusters*perCluster)
	center := make([]float64, dims)
	for c := 0; c < clusters; c++ {
		for j := range center {
			center[j] = rng.Float64() * 100
		}
		for i := 0; i < perCluster; i++ {
			row := make([]float64, dims)
			for j := range row {
				row[j] = center[j] + rng.NormFloat64()*spread
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func readRowsFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	rows, err := readRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// withOutput runs fn on the named file, or on stdout when path is empty.
func withOutput(stdout io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
