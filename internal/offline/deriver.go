package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/parsing"
)

// Reader is the narrow Archiver surface Deriver needs.
type Reader interface {
	GetByRange(ctx context.Context, start, end time.Time) ([]domain.RawEvent, error)
}

// Deriver runs the off-line derivation batch job: read → re-normalize →
// aggregate → (optionally) cluster, over one [start, end) range.
// Grounded on metric_engine's top-level pipeline wiring Aggregator and
// Clusterer over a shared NormalizedTransaction list.
type Deriver struct {
	archive    Reader
	normalizer *parsing.Normalizer
	log        zerolog.Logger
}

// NewDeriver constructs a Deriver reading from archive.
func NewDeriver(reader Reader, log zerolog.Logger) *Deriver {
	return &Deriver{
		archive:    reader,
		normalizer: parsing.NewNormalizer(),
		log:        log.With().Str("component", "offline_deriver").Logger(),
	}
}

// Derive reads [start, end) from the archive, re-normalizes it, computes
// windowed aggregates over the whole range as a single window, and runs
// clustering when opts.ClusterAlgorithm is set.
func (d *Deriver) Derive(ctx context.Context, start, end time.Time, opts DeriveOptions) (Result, error) {
	if !start.Before(end) {
		return Result{}, fmt.Errorf("offline: start %s must be before end %s", start, end)
	}
	opts = applyOptionDefaults(opts)

	events, err := d.archive.GetByRange(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("read archive range: %w", err)
	}

	transactions, normErrs := d.normalizer.Normalize(events, start, end)
	if len(normErrs) > 0 {
		d.log.Warn().Int("rejected", len(normErrs)).Int("accepted", len(transactions)).Msg("normalization rejected some events")
	}

	window := domain.TimeWindow{Name: "derivation_range", Start: start, End: end, Duration: end.Sub(start)}
	aggregator := NewAggregator(opts.Dimensions, window)
	metrics := aggregator.Aggregate(transactions)

	result := Result{
		RangeStart:       start,
		RangeEnd:         end,
		TransactionCount: len(transactions),
		NormalizeErrors:  normErrs,
		Metrics:          metrics,
	}

	if opts.ClusterAlgorithm != "" {
		clusterer := NewClusterer(opts, d.log)
		clusters, err := clusterer.Cluster(transactions, window)
		if err != nil {
			return result, fmt.Errorf("cluster: %w", err)
		}
		result.Clusters = clusters
	}

	return result, nil
}
