package offline

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// agglomerativeWard performs bottom-up Ward-linkage merging: each point
// starts as its own cluster, and at every step the pair whose merge
// produces the smallest increase in within-cluster variance (the Ward
// criterion, approximated via centroid distance weighted by cluster
// sizes) is merged, until exactly k clusters remain. Grounded on
// clusterer.py's AgglomerativeClustering(n_clusters=..., linkage="ward").
func agglomerativeWard(data [][]float64, k int) []int {
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
	dim := len(data[0])

	members := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		members[i] = []int{i}
	}

	centroidOf := func(idxs []int) []float64 {
		c := make([]float64, dim)
		for _, idx := range idxs {
			floats.Add(c, data[idx])
		}
		floats.Scale(1/float64(len(idxs)), c)
		return c
	}

	for len(members) > k {
		ids := make([]int, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		bestA, bestB := ids[0], ids[1]
		bestCost := math.Inf(1)
		for a := 0; a < len(ids); a++ {
			ca := centroidOf(members[ids[a]])
			na := float64(len(members[ids[a]]))
			for b := a + 1; b < len(ids); b++ {
				cb := centroidOf(members[ids[b]])
				nb := float64(len(members[ids[b]]))
				d := floats.Distance(ca, cb, 2)
				cost := (na * nb / (na + nb)) * d * d
				if cost < bestCost {
					bestCost = cost
					bestA, bestB = ids[a], ids[b]
				}
			}
		}
		members[bestA] = append(members[bestA], members[bestB]...)
		delete(members, bestB)
	}

	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	labels := make([]int, n)
	for clusterIdx, id := range ids {
		for _, idx := range members[id] {
			labels[idx] = clusterIdx
		}
	}
	return labels
}
