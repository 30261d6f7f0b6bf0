package offline

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// paymentMethodCodes and currencyCodes mirror clusterer.py's
// _extract_features method_map/currency_map fixed encodings.
var paymentMethodCodes = map[string]float64{
	"credit_card": 1, "debit_card": 2, "bank_transfer": 3,
	"digital_wallet": 4, "cryptocurrency": 5, "cash_equivalent": 6,
}

var currencyCodes = map[string]float64{
	"USD": 1, "EUR": 2, "GBP": 3, "JPY": 4, "CAD": 5, "AUD": 6,
}

// Clusterer groups transactions by feature similarity using one of three
// algorithms. Grounded on clusterer.py's Clusterer class.
type Clusterer struct {
	Algorithm        string // "kmeans" | "dbscan" | "agglomerative"
	NumClusters      int
	SimilarityMetric string
	Features         []string
	MinClusterSize   int
	MaxClusterSize   int
	Seed             int64
	log              zerolog.Logger
}

// NewClusterer constructs a Clusterer.
func NewClusterer(opts DeriveOptions, log zerolog.Logger) *Clusterer {
	return &Clusterer{
		Algorithm:        opts.ClusterAlgorithm,
		NumClusters:      opts.NumClusters,
		SimilarityMetric: "euclidean",
		Features:         opts.ClusterFeatures,
		MinClusterSize:   opts.MinClusterSize,
		MaxClusterSize:   opts.MaxClusterSize,
		Seed:             42,
		log:              log.With().Str("component", "clusterer").Logger(),
	}
}

// Cluster filters transactions to window, extracts+standardizes
// features, runs the configured algorithm, and builds Cluster results,
// dropping noise points (label -1) and groups outside the configured
// size bounds.
func (c *Clusterer) Cluster(transactions []domain.Transaction, window domain.TimeWindow) ([]Cluster, error) {
	var windowed []domain.Transaction
	for _, tx := range transactions {
		if window.Contains(tx.Timestamp) {
			windowed = append(windowed, tx)
		}
	}

	if len(windowed) < c.MinClusterSize {
		c.log.Info().Int("count", len(windowed)).Int("min", c.MinClusterSize).Msg("not enough transactions to cluster")
		return nil, nil
	}

	features := c.extractFeatures(windowed)
	scaler := &StandardScaler{}
	scaled := scaler.FitTransform(features)

	labels, err := c.performClustering(scaled)
	if err != nil {
		return nil, err
	}

	clusters := c.buildClusters(windowed, labels, window, features)
	c.log.Info().Int("input", len(windowed)).Int("clusters", len(clusters)).Str("algorithm", c.Algorithm).Msg("clustering complete")
	return clusters, nil
}

func (c *Clusterer) extractFeatures(transactions []domain.Transaction) [][]float64 {
	rows := make([][]float64, len(transactions))
	for i, tx := range transactions {
		row := make([]float64, len(c.Features))
		for j, feature := range c.Features {
			row[j] = featureValue(tx, feature)
		}
		rows[i] = row
	}
	return rows
}

func featureValue(tx domain.Transaction, feature string) float64 {
	switch feature {
	case "amount":
		v, _ := tx.Amount.Float64()
		return v
	case "payment_method_encoded":
		return paymentMethodCodes[tx.PaymentMethod()]
	case "currency_encoded":
		return currencyCodes[tx.Currency]
	default:
		return 0
	}
}

func (c *Clusterer) performClustering(scaled [][]float64) ([]int, error) {
	rng := rand.New(rand.NewSource(c.Seed))
	switch c.Algorithm {
	case "", "kmeans":
		return kMeans(scaled, c.NumClusters, 10, rng), nil
	case "dbscan":
		return dbscan(scaled, 0.5, c.MinClusterSize), nil
	case "agglomerative":
		return agglomerativeWard(scaled, c.NumClusters), nil
	default:
		return nil, fmt.Errorf("offline: unknown clustering algorithm %q", c.Algorithm)
	}
}

func (c *Clusterer) buildClusters(transactions []domain.Transaction, labels []int, window domain.TimeWindow, features [][]float64) []Cluster {
	type group struct {
		txIDs   []string
		indices []int
	}
	groups := make(map[int]*group)

	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		g, ok := groups[label]
		if !ok {
			g = &group{}
			groups[label] = g
		}
		g.txIDs = append(g.txIDs, transactions[i].TransactionID)
		g.indices = append(g.indices, i)
	}

	var clusters []Cluster
	for label, g := range groups {
		size := len(g.txIDs)
		if size < c.MinClusterSize || size > c.MaxClusterSize {
			continue
		}
		centroid := make(map[string]float64, len(c.Features))
		for fi, feature := range c.Features {
			var sum float64
			for _, idx := range g.indices {
				sum += features[idx][fi]
			}
			centroid[feature] = sum / float64(size)
		}
		clusters = append(clusters, Cluster{
			ClusterID:        label,
			TransactionIDs:   g.txIDs,
			Centroid:         centroid,
			Size:             size,
			WindowStart:      window.Start,
			WindowEnd:        window.End,
			Algorithm:        c.Algorithm,
			SimilarityMetric: c.SimilarityMetric,
		})
	}
	return clusters
}
