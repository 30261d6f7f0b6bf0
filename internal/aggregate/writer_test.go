package aggregate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
)

func tagOf(t *testing.T, err error) errs.Tag {
	t.Helper()
	var e *errs.Error
	require.True(t, errors.As(err, &e), "expected *errs.Error, got %T", err)
	return e.Tag
}

type fakeTx struct {
	execs      []string
	failOnExec string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.failOnExec != "" && sql == f.failOnExec {
		return pgconn.CommandTag{}, fmt.Errorf("constraint violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeStarter struct {
	tx  *fakeTx
	err error
}

func (s *fakeStarter) Begin(ctx context.Context) (Tx, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tx, nil
}

func testTx() domain.Transaction {
	return domain.Transaction{
		TransactionID:   "tx-1",
		CorrelationID:   "corr-1",
		Timestamp:       time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC),
		TransactionType: "card",
		Amount:          decimal.RequireFromString("100.50"),
		Currency:        "USD",
		Status:          domain.StatusSuccess,
	}
}

func testMetric(txID string, at time.Time) domain.DerivedMetric {
	return domain.DerivedMetric{
		TransactionID: txID,
		MetricName:    "high_value_count",
		MetricValue:   decimal.NewFromInt(1),
		MetricType:    domain.MetricCount,
		RuleName:      "high_value_rule",
		RuleVersion:   "v1",
		CalculatedAt:  at,
		EffectiveDate: at,
	}
}

// TestWriteTransaction_CommitsAggregateHistogramAndDerivedMetric covers
// §8 boundary scenario 2: one valid message with amount=100.50 USD
// produces one aggregate row (count=1, total=100.50, avg=100.50) plus
// one derived metric, all inside one committed transaction.
func TestWriteTransaction_CommitsAggregateHistogramAndDerivedMetric(t *testing.T) {
	tx := &fakeTx{}
	starter := &fakeStarter{tx: tx}
	w := New(starter, zerolog.Nop())

	txn := testTx()
	metrics := []domain.DerivedMetric{testMetric(txn.TransactionID, txn.Timestamp)}

	err := w.WriteTransaction(context.Background(), txn, metrics)
	require.NoError(t, err)

	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.Len(t, tx.execs, 3)
	assert.Equal(t, upsertAggregateSQL, tx.execs[0])
	assert.Equal(t, upsertHistogramSQL, tx.execs[1])
	assert.Equal(t, insertDerivedMetricSQL, tx.execs[2])
}

func TestWriteTransaction_NoMetricsOnlyWritesAggregate(t *testing.T) {
	tx := &fakeTx{}
	starter := &fakeStarter{tx: tx}
	w := New(starter, zerolog.Nop())

	err := w.WriteTransaction(context.Background(), testTx(), nil)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	require.Len(t, tx.execs, 1)
	assert.Equal(t, upsertAggregateSQL, tx.execs[0])
}

func TestWriteTransaction_BeginFailureIsTaggedTransient(t *testing.T) {
	starter := &fakeStarter{err: fmt.Errorf("connection refused")}
	w := New(starter, zerolog.Nop())

	err := w.WriteTransaction(context.Background(), testTx(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.TagDBTransient, tagOf(t, err))
}

func TestWriteTransaction_ExecFailureRollsBackAndTagsTransient(t *testing.T) {
	tx := &fakeTx{failOnExec: upsertAggregateSQL}
	starter := &fakeStarter{tx: tx}
	w := New(starter, zerolog.Nop())

	err := w.WriteTransaction(context.Background(), testTx(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.TagDBTransient, tagOf(t, err))
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestWriteTransaction_DerivedMetricFailureRollsBackWholeTransaction(t *testing.T) {
	tx := &fakeTx{failOnExec: insertDerivedMetricSQL}
	starter := &fakeStarter{tx: tx}
	w := New(starter, zerolog.Nop())

	txn := testTx()
	metrics := []domain.DerivedMetric{testMetric(txn.TransactionID, txn.Timestamp)}

	err := w.WriteTransaction(context.Background(), txn, metrics)
	require.Error(t, err)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	// the aggregate upsert and histogram upsert ran before the failing
	// derived-metric insert, but Commit was never reached.
	assert.Equal(t, 3, len(tx.execs))
}
