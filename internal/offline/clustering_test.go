package offline

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs returns 20 points split into two well-separated clusters
// around (0,0) and (10,10).
func twoBlobs() [][]float64 {
	data := make([][]float64, 0, 20)
	for i := 0; i < 10; i++ {
		data = append(data, []float64{float64(i % 2), float64((i + 1) % 2)})
	}
	for i := 0; i < 10; i++ {
		data = append(data, []float64{10 + float64(i%2), 10 + float64((i+1)%2)})
	}
	return data
}

func TestKMeans_SeparatesTwoObviousBlobs(t *testing.T) {
	data := twoBlobs()
	rng := rand.New(rand.NewSource(1))
	labels := kMeans(data, 2, 10, rng)

	require.Len(t, labels, 20)
	firstHalf := labels[0]
	for i := 0; i < 10; i++ {
		assert.Equal(t, firstHalf, labels[i])
	}
	secondHalf := labels[10]
	for i := 10; i < 20; i++ {
		assert.Equal(t, secondHalf, labels[i])
	}
	assert.NotEqual(t, firstHalf, secondHalf)
}

func TestDBSCAN_SeparatesTwoBlobsAndLabelsNoNoise(t *testing.T) {
	data := twoBlobs()
	labels := dbscan(data, 2.0, 3)

	require.Len(t, labels, 20)
	for _, l := range labels {
		assert.NotEqual(t, noiseLabel, l)
	}
	assert.Equal(t, labels[0], labels[5])
	assert.Equal(t, labels[10], labels[15])
	assert.NotEqual(t, labels[0], labels[10])
}

func TestDBSCAN_IsolatedPointIsNoise(t *testing.T) {
	data := twoBlobs()
	data = append(data, []float64{1000, 1000})
	labels := dbscan(data, 2.0, 3)

	assert.Equal(t, noiseLabel, labels[len(labels)-1])
}

func TestAgglomerativeWard_ProducesRequestedClusterCount(t *testing.T) {
	data := twoBlobs()
	labels := agglomerativeWard(data, 2)

	require.Len(t, labels, 20)
	distinct := map[int]bool{}
	for _, l := range labels {
		distinct[l] = true
	}
	assert.Len(t, distinct, 2)
	assert.Equal(t, labels[0], labels[5])
	assert.NotEqual(t, labels[0], labels[10])
}

func TestStandardScaler_ZeroMeanUnitVariance(t *testing.T) {
	rows := [][]float64{{1, 100}, {2, 200}, {3, 300}}
	scaler := &StandardScaler{}
	scaled := scaler.FitTransform(rows)

	require.Len(t, scaled, 3)
	var sum0, sum1 float64
	for _, r := range scaled {
		sum0 += r[0]
		sum1 += r[1]
	}
	assert.InDelta(t, 0, sum0, 1e-9)
	assert.InDelta(t, 0, sum1, 1e-9)
}

func TestStandardScaler_ZeroVarianceColumnBecomesZero(t *testing.T) {
	rows := [][]float64{{5, 1}, {5, 2}, {5, 3}}
	scaler := &StandardScaler{}
	scaled := scaler.FitTransform(rows)

	for _, r := range scaled {
		assert.Equal(t, 0.0, r[0])
	}
}
