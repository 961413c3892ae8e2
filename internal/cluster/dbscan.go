package cluster

import (
	"github.com/newspulse/newspulse/internal/vecmath"
)

// DBSCAN is density-based clustering over cosine distance. Points in no
// dense region are labeled Noise and stay unassigned; the clustering
// engine leaves their articles out of the new topic set.
type DBSCAN struct {
	eps       float64
	minPoints int
}

// NewDBSCAN builds a DBSCAN strategy with the given cosine-distance eps.
func NewDBSCAN(eps float64, minPoints int) *DBSCAN {
	if minPoints < 1 {
		minPoints = 1
	}
	return &DBSCAN{eps: eps, minPoints: minPoints}
}

func (d *DBSCAN) Name() string { return AlgorithmDBSCAN }

// Partition clusters points and returns one label per point; Noise (-1)
// marks outliers.
func (d *DBSCAN) Partition(points [][]float32) ([]int, error) {
	if err := checkInput(points); err != nil {
		return nil, err
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if vecmath.CosineDistance(points[i], points[j]) <= d.eps {
				out = append(out, j)
			}
		}
		return out
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != Noise {
			continue
		}
		nbs := neighbors(i)
		if len(nbs)+1 < d.minPoints {
			continue
		}

		label := next
		next++
		labels[i] = label

		queue := append([]int(nil), nbs...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] != Noise {
				continue
			}
			labels[j] = label
			jnbs := neighbors(j)
			if len(jnbs)+1 >= d.minPoints {
				queue = append(queue, jnbs...)
			}
		}
	}

	return relabel(labels), nil
}
