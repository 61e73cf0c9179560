package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TrevorS/kdkmeans"
)

// fitConfig is the on-disk and command-line configuration of a fit run.
// Precedence, lowest first: defaults, config file, KDKMEANS_* environment,
// flags.
//
// K is nil and Init empty until set, so a centroid file can tell a value the
// user chose apart from a default.
type fitConfig struct {
	Input         string  `yaml:"input"`
	Output        string  `yaml:"output"`
	Format        string  `yaml:"format"`
	K             *int    `yaml:"k"`
	Threshold     float64 `yaml:"threshold"`
	MaxIterations int     `yaml:"max_iterations"`
	Init          string  `yaml:"init"`
	Centroids     string  `yaml:"centroids"`
	Seed          uint64  `yaml:"seed"`
	Metric        string  `yaml:"metric"`
	Algorithm     string  `yaml:"algorithm"`
	EmptyClusters string  `yaml:"empty_clusters"`
	Workers       int     `yaml:"workers"`
	ParallelDepth int     `yaml:"parallel_depth"`
	LogLevel      string  `yaml:"log_level"`
	LogFormat     string  `yaml:"log_format"`
	MetricsAddr   string  `yaml:"metrics_addr"`
}

func defaultFitConfig() *fitConfig {
	d := kdkmeans.DefaultConfig()
	return &fitConfig{
		Format:        "csv",
		Threshold:     d.Threshold,
		MaxIterations: d.MaxIterations,
		Metric:        "euclidean",
		Algorithm:     string(d.Algorithm),
		EmptyClusters: string(d.EmptyClusters),
		ParallelDepth: d.ParallelDepth,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// loadFitConfig reads a YAML config file over the defaults. Keys missing
// from the file keep their default.
func loadFitConfig(path string) (*fitConfig, error) {
	cfg := defaultFitConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the settings that are usually chosen per machine.
func (c *fitConfig) applyEnv(getenv func(string) string) error {
	if v := getenv("KDKMEANS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KDKMEANS_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := getenv("KDKMEANS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("KDKMEANS_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := getenv("KDKMEANS_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	return nil
}

// applyFlags copies every flag the user set explicitly.
func (c *fitConfig) applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("input") {
		c.Input, _ = f.GetString("input")
	}
	if f.Changed("output") {
		c.Output, _ = f.GetString("output")
	}
	if f.Changed("format") {
		c.Format, _ = f.GetString("format")
	}
	if f.Changed("k") {
		k, _ := f.GetInt("k")
		c.K = &k
	}
	if f.Changed("threshold") {
		c.Threshold, _ = f.GetFloat64("threshold")
	}
	if f.Changed("max-iter") {
		c.MaxIterations, _ = f.GetInt("max-iter")
	}
	if f.Changed("init") {
		c.Init, _ = f.GetString("init")
	}
	if f.Changed("centroids") {
		c.Centroids, _ = f.GetString("centroids")
	}
	if f.Changed("seed") {
		c.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("metric") {
		c.Metric, _ = f.GetString("metric")
	}
	if f.Changed("algorithm") {
		c.Algorithm, _ = f.GetString("algorithm")
	}
	if f.Changed("empty") {
		c.EmptyClusters, _ = f.GetString("empty")
	}
	if f.Changed("workers") {
		c.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("parallel-depth") {
		c.ParallelDepth, _ = f.GetInt("parallel-depth")
	}
	if f.Changed("log-level") {
		c.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		c.LogFormat, _ = f.GetString("log-format")
	}
	if f.Changed("metrics-addr") {
		c.MetricsAddr, _ = f.GetString("metrics-addr")
	}
}

// Validate checks the settings the library does not see.
func (c *fitConfig) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input is required")
	}
	switch c.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("format must be csv or json, got %q", c.Format)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Centroids != "" && c.Init != "" && c.Init != string(kdkmeans.InitProvided) {
		return fmt.Errorf("init %q conflicts with centroids file %s", c.Init, c.Centroids)
	}
	return nil
}

// logger builds the slog logger selected by LogLevel and LogFormat.
func (c *fitConfig) logger(w io.Writer) (*slog.Logger, error) {
	level, err := kdkmeans.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.LogFormat, "json") {
		return kdkmeans.NewJSONLogger(w, level), nil
	}
	return kdkmeans.NewTextLogger(w, level), nil
}

// toConfig maps the file settings onto a library Config. initial holds the
// parsed centroid file, if any.
func (c *fitConfig) toConfig(initial [][]float64) (kdkmeans.Config, error) {
	metric, err := kdkmeans.MetricByName(c.Metric)
	if err != nil {
		return kdkmeans.Config{}, err
	}
	cfg := kdkmeans.DefaultConfig()
	if c.K != nil {
		cfg.K = *c.K
	}
	cfg.Threshold = c.Threshold
	cfg.MaxIterations = c.MaxIterations
	cfg.Init = kdkmeans.InitMethod(c.Init)
	cfg.InitialCentroids = initial
	cfg.Seed = c.Seed
	cfg.Metric = metric
	cfg.Algorithm = kdkmeans.Algorithm(c.Algorithm)
	cfg.EmptyClusters = kdkmeans.EmptyClusterPolicy(c.EmptyClusters)
	cfg.Workers = c.Workers
	cfg.ParallelDepth = c.ParallelDepth
	if initial != nil {
		// A centroid file fixes both the strategy and K.
		if c.K != nil && *c.K != len(initial) {
			return kdkmeans.Config{}, fmt.Errorf("k=%d conflicts with %d centroids in %s", *c.K, len(initial), c.Centroids)
		}
		cfg.Init = kdkmeans.InitProvided
		cfg.K = len(initial)
	}
	return cfg, nil
}
