package cluster

import (
	"github.com/newspulse/newspulse/internal/vecmath"
)

// How many times the distance threshold is tightened or loosened before
// giving up and cutting at the nearest in-range cluster count.
const maxThresholdAdjustments = 8

const (
	loosenFactor  = 1.25
	tightenFactor = 0.8
)

// Hierarchical is agglomerative average-linkage clustering over cosine
// distance. The full merge sequence is computed once; the distance
// threshold is then adjusted iteratively until the resulting cluster count
// falls inside [minClusters, maxClusters]. If no threshold lands in range
// within the bounded number of adjustments, the sequence is cut at the
// nearest boundary count instead of looping indefinitely.
type Hierarchical struct {
	threshold   float64
	minClusters int
	maxClusters int
}

// NewHierarchical builds the default clustering strategy.
func NewHierarchical(threshold float64, minClusters, maxClusters int) *Hierarchical {
	if minClusters < 1 {
		minClusters = 1
	}
	if maxClusters < minClusters {
		maxClusters = minClusters
	}
	return &Hierarchical{threshold: threshold, minClusters: minClusters, maxClusters: maxClusters}
}

func (h *Hierarchical) Name() string { return AlgorithmHierarchical }

// Partition clusters points and returns one label per point.
func (h *Hierarchical) Partition(points [][]float32) ([]int, error) {
	if err := checkInput(points); err != nil {
		return nil, err
	}

	n := len(points)
	if n == 1 {
		return []int{0}, nil
	}

	merges := agglomerate(points)

	minK := h.minClusters
	maxK := h.maxClusters
	if minK > n {
		minK = n
	}
	if maxK > n {
		maxK = n
	}

	threshold := h.threshold
	for i := 0; i < maxThresholdAdjustments; i++ {
		k := countAtThreshold(merges, n, threshold)
		if k >= minK && k <= maxK {
			return cutAtThreshold(merges, n, threshold), nil
		}
		if k > maxK {
			// Too fragmented: loosen so more merges apply.
			threshold *= loosenFactor
		} else {
			threshold *= tightenFactor
		}
	}

	// Nearest in-range boundary for the original threshold's count.
	k := countAtThreshold(merges, n, h.threshold)
	if k < minK {
		k = minK
	}
	if k > maxK {
		k = maxK
	}
	return cutAtCount(merges, n, k), nil
}

type merge struct {
	a, b   int // cluster representatives being merged
	height float64
}

// agglomerate computes the full average-linkage merge sequence down to a
// single cluster using Lance-Williams distance updates.
func agglomerate(points [][]float32) []merge {
	n := len(points)

	// Dense pairwise cosine distance matrix.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := vecmath.CosineDistance(points[i], points[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
	}

	merges := make([]merge, 0, n-1)
	for len(merges) < n-1 {
		bi, bj := -1, -1
		best := 0.0
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if bi < 0 || dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}

		// Fold j into i; i keeps representing the merged cluster.
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			d := (float64(size[bi])*dist[bi][k] + float64(size[bj])*dist[bj][k]) /
				float64(size[bi]+size[bj])
			dist[bi][k] = d
			dist[k][bi] = d
		}
		size[bi] += size[bj]
		active[bj] = false

		merges = append(merges, merge{a: bi, b: bj, height: best})
	}

	return merges
}

// countAtThreshold returns how many clusters remain when only merges at or
// below the threshold are applied, in merge order.
func countAtThreshold(merges []merge, n int, threshold float64) int {
	applied := 0
	for _, m := range merges {
		if m.height > threshold {
			break
		}
		applied++
	}
	return n - applied
}

func cutAtThreshold(merges []merge, n int, threshold float64) []int {
	applied := 0
	for _, m := range merges {
		if m.height > threshold {
			break
		}
		applied++
	}
	return applyMerges(merges[:applied], n)
}

// cutAtCount applies exactly the first n-k merges, yielding k clusters.
func cutAtCount(merges []merge, n, k int) []int {
	applied := n - k
	if applied < 0 {
		applied = 0
	}
	if applied > len(merges) {
		applied = len(merges)
	}
	return applyMerges(merges[:applied], n)
}

func applyMerges(merges []merge, n int) []int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, m := range merges {
		parent[find(m.b)] = find(m.a)
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = find(i)
	}
	return relabel(labels)
}
