// Package cluster partitions article embeddings into topic clusters.
// Each supported algorithm is a Strategy implementation selected by
// configuration at construction time; all of them operate on cosine
// distance and produce deterministic labels for fixed input.
package cluster

import (
	"fmt"

	"github.com/newspulse/newspulse/internal/domain"
)

// Supported algorithm names.
const (
	AlgorithmHierarchical = "hierarchical"
	AlgorithmKMeans       = "kmeans"
	AlgorithmDBSCAN       = "dbscan"
)

// Noise marks points no cluster claimed (DBSCAN only).
const Noise = -1

// Strategy partitions embedding vectors into clusters. Labels are dense,
// assigned in order of first appearance (label 0 forms before label 1),
// except Noise. Implementations must be deterministic for fixed input.
type Strategy interface {
	Name() string
	Partition(points [][]float32) ([]int, error)
}

// Config carries the clustering tunables shared by all strategies.
type Config struct {
	Algorithm         string
	DistanceThreshold float64
	MinTopics         int
	MaxTopics         int
	TopN              int
	MinPointsPerTopic int
}

// NewStrategy selects the Strategy implementation for cfg.Algorithm.
func NewStrategy(cfg Config) (Strategy, error) {
	switch cfg.Algorithm {
	case AlgorithmHierarchical, "":
		return NewHierarchical(cfg.DistanceThreshold, cfg.MinTopics, cfg.MaxTopics), nil
	case AlgorithmKMeans:
		k := cfg.TopN
		if k < cfg.MinTopics {
			k = cfg.MinTopics
		}
		if cfg.MaxTopics > 0 && k > cfg.MaxTopics {
			k = cfg.MaxTopics
		}
		return NewKMeans(k), nil
	case AlgorithmDBSCAN:
		return NewDBSCAN(cfg.DistanceThreshold, cfg.MinPointsPerTopic), nil
	default:
		return nil, fmt.Errorf("unknown clustering algorithm %q", cfg.Algorithm)
	}
}

// relabel renumbers arbitrary labels into dense first-appearance order,
// leaving Noise untouched.
func relabel(labels []int) []int {
	next := 0
	seen := make(map[int]int, len(labels))
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == Noise {
			out[i] = Noise
			continue
		}
		dense, ok := seen[l]
		if !ok {
			dense = next
			seen[l] = dense
			next++
		}
		out[i] = dense
	}
	return out
}

func checkInput(points [][]float32) error {
	if len(points) == 0 {
		return domain.ErrEmptyInput
	}
	dim := len(points[0])
	for _, p := range points {
		if len(p) != dim {
			return domain.ErrDimensionMismatch
		}
	}
	return nil
}
