// Package aggregate implements the Aggregate Writer (C5): conflict-
// resolved UPSERT semantics over two rolling-window tables
// (payment_metrics_5m and aggregate_histograms) plus the per-message
// dynamic_metrics insert, all inside one transaction per message.
// Grounded on the conceptual SQL in spec §4.5 and pgx/v5's Tx interface.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
)

// ErrNotImplemented is returned by WriteTransaction when the writer was
// constructed with WithIdempotencyGuard: per-transaction-id insertion
// guarding against replay double-counting is a documented future option,
// not a built capability.
var ErrNotImplemented = errors.New("aggregate: idempotency guard not implemented")

// Tx is the narrow subset of pgx.Tx the writer needs; kept separate
// from pgx.Tx so tests can supply a lightweight fake instead of a full
// pgx.Tx implementation.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStarter begins a transaction.
type TxStarter interface {
	Begin(ctx context.Context) (Tx, error)
}

// PgxPoolStarter adapts *pgxpool.Pool to TxStarter.
type PgxPoolStarter struct {
	Pool *pgxpool.Pool
}

func (s PgxPoolStarter) Begin(ctx context.Context) (Tx, error) {
	return s.Pool.Begin(ctx)
}

const upsertAggregateSQL = `
INSERT INTO payment_metrics_5m (window_start, window_end, payment_method, currency, payment_status,
                                 total_count, total_amount, avg_amount, min_amount, max_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6, $6, $6, $7, $7)
ON CONFLICT (window_start, payment_method, currency, payment_status) DO UPDATE SET
  total_count = payment_metrics_5m.total_count + 1,
  total_amount = payment_metrics_5m.total_amount + EXCLUDED.total_amount,
  avg_amount = (payment_metrics_5m.total_amount + EXCLUDED.total_amount) / (payment_metrics_5m.total_count + 1),
  min_amount = LEAST(payment_metrics_5m.min_amount, EXCLUDED.min_amount),
  max_amount = GREATEST(payment_metrics_5m.max_amount, EXCLUDED.max_amount),
  updated_at = EXCLUDED.updated_at
`

const upsertHistogramSQL = `
INSERT INTO aggregate_histograms (metric_type, event_type, time_window_start, time_window_end, event_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, $5, $5)
ON CONFLICT (metric_type, event_type, time_window_start, time_window_end) DO UPDATE SET
  event_count = aggregate_histograms.event_count + 1,
  updated_at = EXCLUDED.updated_at
`

const insertDerivedMetricSQL = `
INSERT INTO dynamic_metrics (transaction_id, metric_name, metric_value, metric_type, metric_category,
                              rule_name, rule_version, context, calculated_at, effective_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Writer performs the per-message aggregate/histogram/derived-metric
// writes. Idempotence across replay is explicitly NOT guaranteed per
// §4.5's design decision — see DESIGN.md.
type Writer struct {
	db               TxStarter
	log              zerolog.Logger
	idempotencyGuard bool
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithIdempotencyGuard documents the alternative path named in §9 for a
// future per-transaction-id insertion guard: a Writer built with this
// option refuses to write rather than silently over-counting on replay.
// Not implemented — every call to WriteTransaction returns
// ErrNotImplemented.
func WithIdempotencyGuard() Option {
	return func(w *Writer) { w.idempotencyGuard = true }
}

// New constructs a Writer bound to db (typically a *pgxpool.Pool).
func New(db TxStarter, log zerolog.Logger, opts ...Option) *Writer {
	w := &Writer{db: db, log: log.With().Str("component", "aggregate_writer").Logger()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteTransaction commits, within a single transaction, the rolling
// 5-minute aggregate upsert for tx plus a histogram upsert and a
// dynamic_metrics insert for every metric the rule engine produced.
// The transaction is committed before returning; any failure rolls back
// and surfaces a DBTransient-tagged error (no failure is classified as
// DBPermanent) for the caller to route to the Dead-Letter Sink with
// reason "processing_error" per §4.5.
func (w *Writer) WriteTransaction(ctx context.Context, tx domain.Transaction, metrics []domain.DerivedMetric) error {
	if w.idempotencyGuard {
		return ErrNotImplemented
	}

	dbTx, err := w.db.Begin(ctx)
	if err != nil {
		return errs.New(errs.TagDBTransient, fmt.Errorf("begin transaction: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck // no-op if already committed

	window := domain.Window5Of(tx.Timestamp)
	now := tx.Timestamp

	if _, err := dbTx.Exec(ctx, upsertAggregateSQL,
		window.Start, window.End, tx.PaymentMethod(), tx.Currency, string(tx.Status),
		tx.Amount, now,
	); err != nil {
		return errs.New(errs.TagDBTransient, fmt.Errorf("upsert aggregate: %w", err))
	}

	for _, m := range metrics {
		mw := domain.Window5Of(m.EffectiveDate)
		if _, err := dbTx.Exec(ctx, upsertHistogramSQL,
			string(m.MetricType), tx.PaymentMethod(), mw.Start, mw.End, m.CalculatedAt,
		); err != nil {
			return errs.New(errs.TagDBTransient, fmt.Errorf("upsert histogram: %w", err))
		}

		if _, err := dbTx.Exec(ctx, insertDerivedMetricSQL,
			m.TransactionID, m.MetricName, m.MetricValue, string(m.MetricType), m.Category,
			m.RuleName, m.RuleVersion, m.Context, m.CalculatedAt, m.EffectiveDate,
		); err != nil {
			return errs.New(errs.TagDBTransient, fmt.Errorf("insert derived metric: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return errs.New(errs.TagDBTransient, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}
