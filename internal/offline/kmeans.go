package offline

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kMeans runs Lloyd's algorithm with `restarts` independent random
// initializations, keeping the lowest-inertia result, and terminates a
// single run early once labels stop changing between iterations ("stable
// label termination"). Grounded on clusterer.py's
// KMeans(n_clusters=..., n_init=10).
func kMeans(data [][]float64, k, restarts int, rng *rand.Rand) []int {
	n := len(data)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		k = 1
	}

	bestLabels := make([]int, n)
	bestInertia := math.Inf(1)

	for r := 0; r < restarts; r++ {
		labels, inertia := kMeansOnce(data, k, rng)
		if inertia < bestInertia {
			bestInertia = inertia
			copy(bestLabels, labels)
		}
	}
	return bestLabels
}

func kMeansOnce(data [][]float64, k int, rng *rand.Rand) ([]int, float64) {
	n := len(data)
	dim := len(data[0])
	centroids := initCentroids(data, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	const maxIterations = 300
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, point := range data {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := floats.Distance(point, centroid, 2)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		centroids = recomputeCentroids(data, labels, k, dim, rng)
		if !changed {
			break
		}
	}
	return labels, inertia(data, labels, centroids)
}

func initCentroids(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(data))
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		src := data[perm[i%len(perm)]]
		centroids[i] = append([]float64(nil), src...)
	}
	return centroids
}

func recomputeCentroids(data [][]float64, labels []int, k, dim int, rng *rand.Rand) [][]float64 {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, point := range data {
		c := labels[i]
		counts[c]++
		floats.Add(sums[c], point)
	}
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			// re-seed a dead cluster from a random point rather than
			// carrying a NaN centroid forward.
			centroids[c] = append([]float64(nil), data[rng.Intn(len(data))]...)
			continue
		}
		mean := make([]float64, dim)
		copy(mean, sums[c])
		floats.Scale(1/float64(counts[c]), mean)
		centroids[c] = mean
	}
	return centroids
}

func inertia(data [][]float64, labels []int, centroids [][]float64) float64 {
	var total float64
	for i, point := range data {
		d := floats.Distance(point, centroids[labels[i]], 2)
		total += d * d
	}
	return total
}
