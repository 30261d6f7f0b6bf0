// Package offline implements the Off-line Derivation (C9) batch path:
// read an archived date/range, re-normalize, compute windowed aggregates
// and optionally cluster transactions by feature similarity. Grounded on
// original_source's metric_engine package (aggregator.py, clusterer.py),
// realized with gonum in place of numpy/scikit-learn.
package offline

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregatedMetric is one dimension-group's rollup within a time window,
// one-to-one with aggregator.py's AggregatedMetric.
type AggregatedMetric struct {
	WindowStart      time.Time
	WindowEnd        time.Time
	Dimensions       map[string]string
	TotalCount       int
	TotalAmount      decimal.Decimal
	AvgAmount        decimal.Decimal
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	StatusBreakdown  map[string]int
	MethodBreakdown  map[string]int
	CurrencyBreakdown map[string]int
	UniqueCustomers  int
	UniqueMerchants  int
}

// Cluster is one group of similar transactions, one-to-one with
// clusterer.py's Cluster.
type Cluster struct {
	ClusterID        int
	TransactionIDs   []string
	Centroid         map[string]float64
	Size             int
	WindowStart      time.Time
	WindowEnd        time.Time
	Algorithm        string
	SimilarityMetric string
}

// DeriveOptions controls the optional stages Derive runs.
type DeriveOptions struct {
	Dimensions       []string
	ClusterAlgorithm string // "", "kmeans", "dbscan", "agglomerative" — "" skips clustering
	ClusterFeatures  []string
	NumClusters      int
	MinClusterSize   int
	MaxClusterSize   int
}

func applyOptionDefaults(o DeriveOptions) DeriveOptions {
	if len(o.Dimensions) == 0 {
		o.Dimensions = []string{"payment_method", "currency", "status"}
	}
	if len(o.ClusterFeatures) == 0 {
		o.ClusterFeatures = []string{"amount"}
	}
	if o.NumClusters <= 0 {
		o.NumClusters = 5
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = 10
	}
	if o.MaxClusterSize <= 0 {
		o.MaxClusterSize = 1000
	}
	return o
}

// Result is everything Derive produces for one [start, end) range.
type Result struct {
	RangeStart       time.Time
	RangeEnd         time.Time
	TransactionCount int
	NormalizeErrors  []error
	Metrics          []AggregatedMetric
	Clusters         []Cluster
}
