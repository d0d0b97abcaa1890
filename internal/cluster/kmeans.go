// Package cluster groups verified snippets by embedding similarity and pair
// records by detector-consensus shape, and renders reproducible per-group
// statistics.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Clusterer assigns each vector a group index in [0, k). Implementations
// must be deterministic for a fixed seed.
type Clusterer interface {
	Cluster(vectors [][]float32, k int, seed int64) ([]int, error)
}

// ErrNotEnoughVectors is returned when k exceeds the number of inputs.
var ErrNotEnoughVectors = errors.New("fewer vectors than clusters")

// KMeans is seeded Lloyd's algorithm over euclidean distance.
type KMeans struct {
	// MaxIterations bounds the refinement loop; zero means 100.
	MaxIterations int
}

func (km KMeans) Cluster(vectors [][]float32, k int, seed int64) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid cluster count %d", k)
	}
	if len(vectors) < k {
		return nil, fmt.Errorf("%w: %d < %d", ErrNotEnoughVectors, len(vectors), k)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := make([][]float64, k)
	for i, idx := range rng.Perm(len(vectors))[:k] {
		centroids[i] = toFloat64(vectors[idx])
	}

	labels := make([]int, len(vectors))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearest(v, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := labels[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Reseed an empty cluster on the point farthest from
				// its current centroid.
				centroids[c] = toFloat64(vectors[farthest(vectors, centroids, labels)])
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return labels, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func nearest(v []float32, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, cent := range centroids {
		if d := sqDist(v, cent); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(vectors [][]float32, centroids [][]float64, labels []int) int {
	worst, worstDist := 0, -1.0
	for i, v := range vectors {
		if d := sqDist(v, centroids[labels[i]]); d > worstDist {
			worst, worstDist = i, d
		}
	}
	return worst
}

func sqDist(v []float32, c []float64) float64 {
	var sum float64
	for d, x := range v {
		diff := float64(x) - c[d]
		sum += diff * diff
	}
	return sum
}

// SingleGroup assigns everything to group 0. It stands in for a real
// clusterer when grouping is disabled or in tests.
type SingleGroup struct{}

func (SingleGroup) Cluster(vectors [][]float32, _ int, _ int64) ([]int, error) {
	return make([]int, len(vectors)), nil
}
