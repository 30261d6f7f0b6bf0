package offline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

func clusterTx(id string, amount string, ts time.Time) domain.Transaction {
	return domain.Transaction{
		TransactionID: id,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		Timestamp:     ts,
	}
}

func TestClusterer_SkipsWhenBelowMinimumSize(t *testing.T) {
	start := time.Now()
	window := domain.TimeWindow{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}

	txs := []domain.Transaction{clusterTx("t1", "10.00", start), clusterTx("t2", "11.00", start)}

	opts := applyOptionDefaults(DeriveOptions{MinClusterSize: 5})
	c := NewClusterer(opts, zerolog.Nop())

	clusters, err := c.Cluster(txs, window)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestClusterer_KMeansSeparatesTwoAmountGroups(t *testing.T) {
	start := time.Now()
	window := domain.TimeWindow{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}

	var txs []domain.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, clusterTx("low", "10.00", start))
		txs = append(txs, clusterTx("high", "1000.00", start))
	}

	opts := applyOptionDefaults(DeriveOptions{
		ClusterAlgorithm: "kmeans",
		ClusterFeatures:  []string{"amount"},
		NumClusters:      2,
		MinClusterSize:   2,
		MaxClusterSize:   100,
	})
	c := NewClusterer(opts, zerolog.Nop())

	clusters, err := c.Cluster(txs, window)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	total := 0
	for _, cl := range clusters {
		total += cl.Size
	}
	assert.Equal(t, 10, total)
}

func TestClusterer_UnknownAlgorithmErrors(t *testing.T) {
	start := time.Now()
	window := domain.TimeWindow{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}
	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, clusterTx("t", "10.00", start))
	}

	opts := applyOptionDefaults(DeriveOptions{ClusterAlgorithm: "not_a_real_algorithm", MinClusterSize: 2})
	c := NewClusterer(opts, zerolog.Nop())

	_, err := c.Cluster(txs, window)
	assert.Error(t, err)
}
