// Package kdkmeans implements k-means clustering accelerated by the
// filtering algorithm of Kanungo et al.
//
// The points are indexed once in a KD-tree whose nodes carry the bounding
// box, coordinate sum and point count of their subtree. Each iteration walks
// the tree with the full set of centroids as candidates and drops every
// candidate that is farther than the best one from every point of a node's
// cell. As soon as a single candidate survives, the whole subtree is credited
// to it without visiting its points.
//
// Basic usage:
//
//	cfg := kdkmeans.DefaultConfig()
//	cfg.K = 4
//	result, err := kdkmeans.Cluster(data, cfg)
//	// result.Labels[i] is the centroid index of point i
//	// result.Centroids[j] are the coordinates of centroid j
//	// result.Converged is false when MaxIterations was reached
//
// For step-by-step control over the same tree:
//
//	km, err := kdkmeans.New(points, cfg)
//	for {
//		moved, err := km.Step(ctx)
//		...
//	}
//
// # Algorithm selection
//
// By default (Algorithm: "auto"), Cluster uses the filtering algorithm for
// Euclidean distance, where its pruning test is exact, and a brute-force
// nearest-centroid scan for other metrics. Set Config.Algorithm to force a
// specific strategy:
//
//	cfg.Algorithm = kdkmeans.AlgorithmFiltering // KD-tree filtering
//	cfg.Algorithm = kdkmeans.AlgorithmBrute     // compare every point with every centroid
package kdkmeans
