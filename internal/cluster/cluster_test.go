package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newspulse/newspulse/internal/domain"
)

// Three tight groups along different axes, well separated in cosine space.
func threeGroups() [][]float32 {
	return [][]float32{
		{1, 0.05, 0}, {1, 0.1, 0}, {0.95, 0, 0.05},
		{0, 1, 0.05}, {0.1, 1, 0}, {0, 0.95, 0.1},
		{0, 0.05, 1}, {0.05, 0, 1},
	}
}

func groupsOf(labels []int, want int) map[int][]int {
	byLabel := make(map[int][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	if want >= 0 && len(byLabel) != want {
		return nil
	}
	return byLabel
}

func TestNewStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		algorithm string
		wantName  string
		wantErr   bool
	}{
		{AlgorithmHierarchical, AlgorithmHierarchical, false},
		{"", AlgorithmHierarchical, false},
		{AlgorithmKMeans, AlgorithmKMeans, false},
		{AlgorithmDBSCAN, AlgorithmDBSCAN, false},
		{"spectral", "", true},
	}

	for _, tt := range tests {
		s, err := NewStrategy(Config{
			Algorithm:         tt.algorithm,
			DistanceThreshold: 0.5,
			MinTopics:         2,
			MaxTopics:         10,
			TopN:              5,
		})
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantName, s.Name())
	}
}

func TestHierarchicalPartition(t *testing.T) {
	t.Parallel()

	t.Run("SeparatesGroups", func(t *testing.T) {
		h := NewHierarchical(0.3, 2, 5)
		labels, err := h.Partition(threeGroups())
		require.NoError(t, err)
		require.Len(t, labels, 8)

		byLabel := groupsOf(labels, 3)
		require.NotNil(t, byLabel, "expected 3 clusters, got labels %v", labels)

		assert.Equal(t, labels[0], labels[1])
		assert.Equal(t, labels[0], labels[2])
		assert.Equal(t, labels[3], labels[4])
		assert.Equal(t, labels[3], labels[5])
		assert.Equal(t, labels[6], labels[7])
		assert.NotEqual(t, labels[0], labels[3])
		assert.NotEqual(t, labels[3], labels[6])
	})

	t.Run("LabelsFollowFirstAppearance", func(t *testing.T) {
		h := NewHierarchical(0.3, 2, 5)
		labels, err := h.Partition(threeGroups())
		require.NoError(t, err)
		assert.Equal(t, 0, labels[0])
		assert.Equal(t, 1, labels[3])
		assert.Equal(t, 2, labels[6])
	})

	t.Run("Deterministic", func(t *testing.T) {
		h := NewHierarchical(0.3, 2, 5)
		first, err := h.Partition(threeGroups())
		require.NoError(t, err)
		second, err := h.Partition(threeGroups())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("CountForcedIntoRange", func(t *testing.T) {
		// Threshold so tight everything would stay apart; range demands
		// at most 2 clusters.
		h := NewHierarchical(0.0001, 1, 2)
		labels, err := h.Partition(threeGroups())
		require.NoError(t, err)
		n := len(groupsOf(labels, -1))
		assert.LessOrEqual(t, n, 2)
		assert.GreaterOrEqual(t, n, 1)
	})

	t.Run("SinglePoint", func(t *testing.T) {
		h := NewHierarchical(0.5, 1, 10)
		labels, err := h.Partition([][]float32{{1, 0}})
		require.NoError(t, err)
		assert.Equal(t, []int{0}, labels)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		h := NewHierarchical(0.5, 1, 10)
		_, err := h.Partition(nil)
		require.ErrorIs(t, err, domain.ErrEmptyInput)
	})

	t.Run("MixedDimensions", func(t *testing.T) {
		h := NewHierarchical(0.5, 1, 10)
		_, err := h.Partition([][]float32{{1, 0}, {1, 0, 0}})
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}

func TestKMeansPartition(t *testing.T) {
	t.Parallel()

	t.Run("SeparatesGroups", func(t *testing.T) {
		km := NewKMeans(3)
		labels, err := km.Partition(threeGroups())
		require.NoError(t, err)

		byLabel := groupsOf(labels, 3)
		require.NotNil(t, byLabel, "expected 3 clusters, got labels %v", labels)
		assert.Equal(t, labels[0], labels[1])
		assert.Equal(t, labels[3], labels[4])
		assert.Equal(t, labels[6], labels[7])
	})

	t.Run("Deterministic", func(t *testing.T) {
		km := NewKMeans(3)
		first, err := km.Partition(threeGroups())
		require.NoError(t, err)
		second, err := km.Partition(threeGroups())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("KLargerThanInput", func(t *testing.T) {
		km := NewKMeans(10)
		labels, err := km.Partition([][]float32{{1, 0}, {0, 1}})
		require.NoError(t, err)
		assert.Len(t, labels, 2)
	})
}

func TestDBSCANPartition(t *testing.T) {
	t.Parallel()

	t.Run("NoiseStaysUnassigned", func(t *testing.T) {
		points := [][]float32{
			{1, 0.05, 0}, {1, 0.1, 0}, {0.95, 0, 0.05},
			{0, 1, 0.05}, {0.1, 1, 0}, {0, 0.95, 0.1},
			{-1, 1, -1}, // far from both groups
		}
		d := NewDBSCAN(0.1, 2)
		labels, err := d.Partition(points)
		require.NoError(t, err)

		assert.Equal(t, labels[0], labels[1])
		assert.Equal(t, labels[3], labels[4])
		assert.NotEqual(t, labels[0], labels[3])
		assert.Equal(t, Noise, labels[6])
	})

	t.Run("AllNoiseWhenSparse", func(t *testing.T) {
		d := NewDBSCAN(0.001, 3)
		labels, err := d.Partition(threeGroups()[:3])
		require.NoError(t, err)
		for _, l := range labels {
			assert.Equal(t, Noise, l)
		}
	})
}

func TestSilhouette(t *testing.T) {
	t.Parallel()

	points := threeGroups()
	good := []int{0, 0, 0, 1, 1, 1, 2, 2}
	bad := []int{0, 1, 0, 1, 0, 1, 0, 1}

	goodScore := Silhouette(points, good)
	badScore := Silhouette(points, bad)

	assert.Greater(t, goodScore, 0.5)
	assert.Greater(t, goodScore, badScore)

	t.Run("SingleClusterIsZero", func(t *testing.T) {
		assert.Zero(t, Silhouette(points, []int{0, 0, 0, 0, 0, 0, 0, 0}))
	})

	t.Run("NoiseIgnored", func(t *testing.T) {
		withNoise := []int{0, 0, 0, 1, 1, 1, Noise, Noise}
		assert.Greater(t, Silhouette(points, withNoise), 0.0)
	})
}
