package parsing

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

func validTransactionJSON(overrides map[string]any) []byte {
	base := map[string]any{
		"transaction_id":   "tx-001",
		"correlation_id":   "corr-001",
		"timestamp":        "2025-06-01T12:00:00Z",
		"transaction_type": "purchase",
		"channel":          "web",
		"amount":           "19.99",
		"currency":         "usd",
		"merchant_id":      "merch-1",
		"customer_id":      "cust-1",
		"status":           "SUCCESS",
	}
	for k, v := range overrides {
		base[k] = v
	}
	b, _ := json.Marshal(base)
	return b
}

func newTestParser(t *testing.T) (*Parser, *[]domain.ParseOutcome) {
	t.Helper()
	var deadLettered []domain.ParseOutcome
	p := New(nil, func(outcome domain.ParseOutcome, rawBody []byte) {
		deadLettered = append(deadLettered, outcome)
	}, Options{}, zerolog.Nop())
	return p, &deadLettered
}

func TestParse_ValidTransaction(t *testing.T) {
	p, dl := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(nil), "")

	require.True(t, outcome.OK)
	assert.Equal(t, "tx-001", outcome.Transaction.TransactionID)
	assert.Equal(t, "USD", outcome.Transaction.Currency)
	assert.Equal(t, domain.StatusSuccess, outcome.Transaction.Status)
	assert.True(t, outcome.Transaction.Amount.IsPositive())
	assert.Empty(t, *dl)

	m := p.Metrics()
	assert.Equal(t, int64(1), m.TotalProcessed)
	assert.Equal(t, int64(1), m.Successful)
	assert.Equal(t, float64(100), m.SuccessRate)
}

func TestParse_MalformedJSON(t *testing.T) {
	p, dl := newTestParser(t)
	outcome := p.Parse([]byte(`{not valid json`), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "json_format", outcome.Err.Constraint)
	require.Len(t, *dl, 1)
}

func TestParse_RequiredFieldMissing(t *testing.T) {
	p, _ := newTestParser(t)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(validTransactionJSON(nil), &generic))
	delete(generic, "amount")
	body, _ := json.Marshal(generic)

	outcome := p.Parse(body, "")
	require.False(t, outcome.OK)
	assert.Equal(t, "amount", outcome.Err.Field)
	assert.Equal(t, "required", outcome.Err.Constraint)
}

func TestParse_EmptyRequiredString(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"merchant_id": "  "}), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "merchant_id", outcome.Err.Field)
	assert.Equal(t, "non_empty", outcome.Err.Constraint)
}

func TestParse_AmountNotNumeric(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"amount": "not-a-number"}), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "amount", outcome.Err.Field)
	assert.Equal(t, "type", outcome.Err.Constraint)
}

func TestParse_AmountNotPositive(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"amount": "0"}), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "amount", outcome.Err.Field)
	assert.Equal(t, "range", outcome.Err.Constraint)
}

func TestParse_CurrencyWrongLength(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"currency": "US"}), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "currency", outcome.Err.Field)
}

func TestParse_UnknownStatus(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"status": "pending"}), "")

	require.False(t, outcome.OK)
	assert.Equal(t, "status", outcome.Err.Field)
	assert.Equal(t, "allowed_values", outcome.Err.Constraint)
}

func TestParse_TimestampZNormalization(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"timestamp": "2025-06-01T12:00:00.123Z"}), "")

	require.True(t, outcome.OK)
	assert.Equal(t, 2025, outcome.Transaction.Timestamp.Year())
}

func TestParse_TimestampMissingWithoutFallback(t *testing.T) {
	p, _ := newTestParser(t)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(validTransactionJSON(nil), &generic))
	generic["timestamp"] = ""
	body, _ := json.Marshal(generic)

	outcome := p.Parse(body, "")
	require.False(t, outcome.OK)
	assert.Equal(t, "timestamp", outcome.Err.Field)
}

func TestParse_TimestampFallbackToNowWhenEnabled(t *testing.T) {
	p := New(nil, nil, Options{AllowTimestampFallbackToNow: true}, zerolog.Nop())
	var generic map[string]any
	require.NoError(t, json.Unmarshal(validTransactionJSON(nil), &generic))
	generic["timestamp"] = ""
	body, _ := json.Marshal(generic)

	outcome := p.Parse(body, "")
	require.True(t, outcome.OK)
	assert.False(t, outcome.Transaction.Timestamp.IsZero())
}

func TestParse_MetadataCoercedWhenNotObject(t *testing.T) {
	p, _ := newTestParser(t)
	outcome := p.Parse(validTransactionJSON(map[string]any{"metadata": "not-an-object"}), "")

	require.True(t, outcome.OK)
	assert.Empty(t, outcome.Transaction.Metadata)
}

func TestParseBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	p, _ := newTestParser(t)
	bodies := [][]byte{
		validTransactionJSON(nil),
		[]byte(`{bad`),
		validTransactionJSON(map[string]any{"transaction_id": "tx-002"}),
	}
	outcomes := p.ParseBatch(bodies, "")

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].OK)
	assert.False(t, outcomes[1].OK)
	assert.True(t, outcomes[2].OK)
	assert.Equal(t, "tx-002", outcomes[2].Transaction.TransactionID)
}

func TestParse_DeadLetterHandlerPanicDoesNotBreakLoop(t *testing.T) {
	p := New(nil, func(outcome domain.ParseOutcome, rawBody []byte) {
		panic("boom")
	}, Options{}, zerolog.Nop())

	outcomes := p.ParseBatch([][]byte{
		[]byte(`{bad`),
		validTransactionJSON(nil),
	}, "")

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].OK)
	assert.True(t, outcomes[1].OK)
}

func TestReloadSchemas(t *testing.T) {
	p, _ := newTestParser(t)
	n := p.ReloadSchemas()
	assert.Equal(t, 0, n)
}
