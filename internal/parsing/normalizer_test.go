package parsing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

func testRawEvent(txID string, ts time.Time) domain.RawEvent {
	return domain.RawEvent{
		TransactionID: txID,
		CorrelationID: uuid.New(),
		CreatedAt:     ts,
		EventPayload: domain.EventPayload{
			TransactionTimestamp: ts,
			Amount:               "42.50",
			Currency:             "USD",
			PaymentMethod:        "card",
			PaymentStatus:        "success",
			TransactionType:      "card",
		},
	}
}

func TestNormalize_AcceptsEventWithinRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	ev := testRawEvent("tx-1", start.Add(time.Hour))

	n := NewNormalizer()
	txs, errs := n.Normalize([]domain.RawEvent{ev}, start, end)

	assert.Empty(t, errs)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].TransactionID)
	assert.True(t, txs[0].Amount.Equal(decimalMustParse("42.50")))
}

func TestNormalize_RejectsOutOfRangeTimestamp(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	ev := testRawEvent("tx-1", start.Add(-time.Hour))

	n := NewNormalizer()
	txs, errs := n.Normalize([]domain.RawEvent{ev}, start, end)

	assert.Empty(t, txs)
	require.Len(t, errs, 1)
}

func TestNormalize_RejectsUnparsableAmount(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	ev := testRawEvent("tx-1", start.Add(time.Hour))
	ev.EventPayload.Amount = "not-a-number"

	n := NewNormalizer()
	txs, errs := n.Normalize([]domain.RawEvent{ev}, start, end)

	assert.Empty(t, txs)
	require.Len(t, errs, 1)
}

func TestNormalize_OneBadEventDoesNotDropTheRest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	good := testRawEvent("tx-good", start.Add(time.Hour))
	bad := testRawEvent("tx-bad", start.Add(2*time.Hour))
	bad.EventPayload.PaymentStatus = "unknown_status"

	n := NewNormalizer()
	txs, errs := n.Normalize([]domain.RawEvent{good, bad}, start, end)

	require.Len(t, txs, 1)
	assert.Equal(t, "tx-good", txs[0].TransactionID)
	require.Len(t, errs, 1)
}

func decimalMustParse(s string) decimal.Decimal {
	d, err := decimalFromArchiveString(s)
	if err != nil {
		panic(err)
	}
	return d
}
