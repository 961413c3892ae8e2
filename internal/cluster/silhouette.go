package cluster

import (
	"github.com/newspulse/newspulse/internal/vecmath"
)

// Silhouette computes the mean silhouette coefficient of a labeling under
// cosine distance. Diagnostic only: callers log it, nothing gates on it.
// Returns 0 when the labeling has fewer than two clusters or no point has
// a meaningful score. Noise points are ignored.
func Silhouette(points [][]float32, labels []int) float64 {
	byCluster := make(map[int][]int)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		byCluster[l] = append(byCluster[l], i)
	}
	if len(byCluster) < 2 {
		return 0
	}

	total := 0.0
	counted := 0
	for label, members := range byCluster {
		for _, i := range members {
			if len(members) == 1 {
				// Singleton convention: silhouette of 0.
				counted++
				continue
			}

			// Mean intra-cluster distance.
			a := 0.0
			for _, j := range members {
				if j == i {
					continue
				}
				a += vecmath.CosineDistance(points[i], points[j])
			}
			a /= float64(len(members) - 1)

			// Smallest mean distance to another cluster.
			b := -1.0
			for other, otherMembers := range byCluster {
				if other == label {
					continue
				}
				d := 0.0
				for _, j := range otherMembers {
					d += vecmath.CosineDistance(points[i], points[j])
				}
				d /= float64(len(otherMembers))
				if b < 0 || d < b {
					b = d
				}
			}

			max := a
			if b > max {
				max = b
			}
			if max > 0 {
				total += (b - a) / max
			}
			counted++
		}
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}
