package offline

import "gonum.org/v1/gonum/floats"

// noiseLabel mirrors scikit-learn's DBSCAN convention of labeling noise
// points -1.
const noiseLabel = -1

const unvisited = -2

// dbscan is a standard neighbor-expansion DBSCAN: a point with at least
// minSamples-1 neighbors within eps seeds a new cluster, which then
// absorbs every density-reachable point. Grounded on clusterer.py's
// DBSCAN(eps=0.5, min_samples=min_cluster_size).
func dbscan(data [][]float64, eps float64, minSamples int) []int {
	n := len(data)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(i int) []int {
		var ns []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if floats.Distance(data[i], data[j], 2) <= eps {
				ns = append(ns, j)
			}
		}
		return ns
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		ns := neighbors(i)
		if len(ns) < minSamples-1 {
			labels[i] = noiseLabel
			continue
		}

		labels[i] = clusterID
		seeds := append([]int{}, ns...)
		for idx := 0; idx < len(seeds); idx++ {
			j := seeds[idx]
			if labels[j] == noiseLabel {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			jNs := neighbors(j)
			if len(jNs) >= minSamples-1 {
				seeds = append(seeds, jNs...)
			}
		}
		clusterID++
	}
	return labels
}
