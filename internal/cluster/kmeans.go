package cluster

import (
	"math/rand"

	"github.com/newspulse/newspulse/internal/vecmath"
)

// Fixed seed keeps repeated passes over identical input identical.
const kmeansSeed = 42

const kmeansMaxIterations = 100

// KMeans is spherical k-means: points are L2-normalized and assigned to
// the centroid with the highest cosine similarity. Seeding is k-means++
// from a fixed-seed source, so results are deterministic for fixed input.
type KMeans struct {
	k int
}

// NewKMeans builds a k-means strategy targeting k clusters.
func NewKMeans(k int) *KMeans {
	if k < 1 {
		k = 1
	}
	return &KMeans{k: k}
}

func (km *KMeans) Name() string { return AlgorithmKMeans }

// Partition clusters points and returns one label per point.
func (km *KMeans) Partition(points [][]float32) ([]int, error) {
	if err := checkInput(points); err != nil {
		return nil, err
	}

	n := len(points)
	k := km.k
	if k > n {
		k = n
	}

	normalized := make([][]float32, n)
	for i, p := range points {
		normalized[i] = vecmath.Normalize(p)
	}

	rng := rand.New(rand.NewSource(kmeansSeed))
	centroids := seedPlusPlus(normalized, k, rng)

	labels := make([]int, n)
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, p := range normalized {
			best := 0
			bestSim := vecmath.Cosine(p, centroids[0])
			for c := 1; c < k; c++ {
				if sim := vecmath.Cosine(p, centroids[c]); sim > bestSim {
					bestSim = sim
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		members := make([][][]float32, k)
		for i, p := range normalized {
			members[labels[i]] = append(members[labels[i]], p)
		}
		for c := 0; c < k; c++ {
			if len(members[c]) == 0 {
				// Re-seed an empty cluster with the point farthest from
				// its current centroid.
				worst, worstSim := 0, 2.0
				for i, p := range normalized {
					if sim := vecmath.Cosine(p, centroids[labels[i]]); sim < worstSim {
						worstSim = sim
						worst = i
					}
				}
				centroids[c] = normalized[worst]
				labels[worst] = c
				continue
			}
			mean, err := vecmath.Centroid(members[c])
			if err != nil {
				return nil, err
			}
			centroids[c] = vecmath.Normalize(mean)
		}
	}

	return relabel(labels), nil
}

// seedPlusPlus picks k initial centroids, each subsequent one chosen with
// probability proportional to its cosine distance from the nearest pick.
func seedPlusPlus(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])

	for len(centroids) < k {
		weights := make([]float64, len(points))
		total := 0.0
		for i, p := range points {
			nearest := vecmath.CosineDistance(p, centroids[0])
			for _, c := range centroids[1:] {
				if d := vecmath.CosineDistance(p, c); d < nearest {
					nearest = d
				}
			}
			weights[i] = nearest
			total += nearest
		}

		if total == 0 {
			// All points coincide with a chosen centroid.
			centroids = append(centroids, points[rng.Intn(len(points))])
			continue
		}

		target := rng.Float64() * total
		acc := 0.0
		pick := len(points) - 1
		for i, w := range weights {
			acc += w
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, points[pick])
	}

	return centroids
}
