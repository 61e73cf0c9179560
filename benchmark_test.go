package kdkmeans

import (
	"context"
	"math/rand/v2"
	"testing"
)

func generateBenchData(n, dims int) []Point {
	rng := rand.New(rand.NewPCG(42, 42))
	points := make([]Point, n)
	coords := make([]float64, dims)
	for i := range points {
		for j := range coords {
			coords[j] = rng.Float64() * 100
		}
		points[i] = NewPoint(coords, i)
	}
	return points
}

// --- Tree construction ---

func benchBuild(b *testing.B, n, workers int) {
	b.Helper()
	points := generateBenchData(n, 3)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewKDTree(points, WithTreeWorkers(workers)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuild_1000(b *testing.B)           { benchBuild(b, 1000, 1) }
func BenchmarkBuild_10000(b *testing.B)          { benchBuild(b, 10000, 1) }
func BenchmarkBuild_10000_Parallel(b *testing.B) { benchBuild(b, 10000, 8) }

// --- One assignment pass ---

func benchFilter(b *testing.B, n, k, workers int) {
	b.Helper()
	points := generateBenchData(n, 3)
	tree, err := NewKDTree(points)
	if err != nil {
		b.Fatal(err)
	}
	f := NewFilter(tree, nil, WithWorkers(workers))
	centroids := pickCentroids(points, k, n/k)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range centroids {
			centroids[j].Reset()
		}
		if _, err := f.Run(centroids); err != nil {
			b.Fatal(err)
		}
	}
}

func benchBrute(b *testing.B, n, k, workers int) {
	b.Helper()
	points := generateBenchData(n, 3)
	centroids := pickCentroids(points, k, n/k)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range centroids {
			centroids[j].Reset()
		}
		if _, err := AssignBruteForce(points, centroids, nil, workers); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFilter_10000_K16(b *testing.B)          { benchFilter(b, 10000, 16, 1) }
func BenchmarkFilter_10000_K64(b *testing.B)          { benchFilter(b, 10000, 64, 1) }
func BenchmarkFilter_10000_K64_Parallel(b *testing.B) { benchFilter(b, 10000, 64, 8) }
func BenchmarkBrute_10000_K16(b *testing.B)           { benchBrute(b, 10000, 16, 1) }
func BenchmarkBrute_10000_K64(b *testing.B)           { benchBrute(b, 10000, 64, 1) }

// --- Full fit ---

func benchFit(b *testing.B, n int, algo Algorithm) {
	b.Helper()
	centers := [][]float64{{0, 0, 0}, {30, 0, 0}, {0, 30, 0}, {0, 0, 30}, {30, 30, 30}}
	points, _ := gaussianBlobs(centers, n/len(centers), 2, 42)
	cfg := DefaultConfig()
	cfg.K = len(centers)
	cfg.Init = InitMostDistant
	cfg.Seed = 42
	cfg.Algorithm = algo
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		km, err := New(points, cfg)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := km.Fit(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFit_10000_Filtering(b *testing.B) { benchFit(b, 10000, AlgorithmFiltering) }
func BenchmarkFit_10000_Brute(b *testing.B)     { benchFit(b, 10000, AlgorithmBrute) }
