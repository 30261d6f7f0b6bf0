package rules

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

func boolPtr(b bool) *bool { return &b }

func testTransaction() domain.Transaction {
	amount, _ := decimal.NewFromString("125.50")
	return domain.Transaction{
		TransactionID:   "tx-1",
		CorrelationID:   "corr-1",
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TransactionType: "purchase",
		Channel:         "web",
		Amount:          amount,
		Currency:        "USD",
		MerchantID:      "merch-1",
		CustomerID:      "cust-1",
		Status:          domain.StatusSuccess,
	}
}

func TestParse_RejectsUnknownPlaceholder(t *testing.T) {
	yamlDoc := `
rules:
  - name: bad-rule
    metric_name: "tx_count_{unknown_field}"
    metric_type: count
`
	_, err := Parse([]byte(yamlDoc), "1.0.0")
	require.Error(t, err)
	var uerr *ErrUnknownPlaceholder
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, uerr.Placeholders, "{unknown_field}")
}

func TestParse_AcceptsKnownPlaceholders(t *testing.T) {
	yamlDoc := `
rules:
  - name: good-rule
    metric_name: "tx_count_{payment_method}_{currency}_{customer_id}"
    metric_type: count
`
	rs, err := Parse([]byte(yamlDoc), "1.0.0")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "1.0.0", rs[0].RuleVersion)
}

func TestEngine_CountRule(t *testing.T) {
	r := domain.Rule{Name: "count-all", MetricName: "tx_count", MetricType: domain.MetricCount}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 1)
	assert.True(t, metrics[0].MetricValue.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "tx_count", metrics[0].MetricName)
}

func TestEngine_SumRuleDefaultsToAmount(t *testing.T) {
	r := domain.Rule{Name: "sum-amount", MetricName: "total_amount", MetricType: domain.MetricSum}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 1)
	assert.True(t, metrics[0].MetricValue.Equal(decimal.RequireFromString("125.50")))
}

func TestEngine_ConditionGatesRule(t *testing.T) {
	r := domain.Rule{
		Name:       "high-value",
		MetricName: "high_value_count",
		MetricType: domain.MetricCount,
		Condition:  &domain.Condition{Field: "amount", Operator: domain.OpGreater, Value: "1000"},
	}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	assert.Empty(t, metrics)
}

func TestEngine_ConditionMatches(t *testing.T) {
	r := domain.Rule{
		Name:       "small-value",
		MetricName: "small_value_count",
		MetricType: domain.MetricCount,
		Condition:  &domain.Condition{Field: "amount", Operator: domain.OpLess, Value: "1000"},
	}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 1)
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	r := domain.Rule{Name: "off", Enabled: boolPtr(false), MetricName: "x", MetricType: domain.MetricCount}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	assert.Empty(t, metrics)
}

func TestEngine_MissingFieldSkipsRuleWithoutError(t *testing.T) {
	r := domain.Rule{Name: "missing", MetricName: "x", MetricType: domain.MetricSum, Field: "nonexistent_field"}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	assert.Empty(t, metrics)
}

func TestEngine_PlaceholderSubstitution(t *testing.T) {
	r := domain.Rule{
		Name:       "templated",
		MetricName: "count_{payment_method}_{currency}_{customer_id}",
		MetricType: domain.MetricCount,
	}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 1)
	assert.Equal(t, "count_purchase_USD_cust-1", metrics[0].MetricName)
}

func TestEngine_OneRuleErrorDoesNotBreakOthers(t *testing.T) {
	rules := []domain.Rule{
		{Name: "good-1", MetricName: "a", MetricType: domain.MetricCount},
		{Name: "bad", MetricName: "b", MetricType: domain.MetricSum, Field: "amount",
			Condition: &domain.Condition{Field: "amount", Operator: "not-an-operator", Value: "x"}},
		{Name: "good-2", MetricName: "c", MetricType: domain.MetricCount},
	}
	e := New(rules, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 2)
	assert.Equal(t, "a", metrics[0].MetricName)
	assert.Equal(t, "c", metrics[1].MetricName)
}

func TestEngine_GroupByAddedToContext(t *testing.T) {
	r := domain.Rule{Name: "by-merchant", MetricName: "count", MetricType: domain.MetricCount, GroupBy: "merchant_id"}
	e := New([]domain.Rule{r}, "1.0.0", zerolog.Nop())

	metrics := e.Evaluate(testTransaction())
	require.Len(t, metrics, 1)
	gb, ok := metrics[0].Context["group_by"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "merch-1", gb["merchant_id"])
}

func TestEngine_Reload(t *testing.T) {
	e := New(nil, "1.0.0", zerolog.Nop())
	assert.Equal(t, 0, e.RuleCount())

	e.Reload([]domain.Rule{{Name: "r1", MetricName: "x", MetricType: domain.MetricCount}})
	assert.Equal(t, 1, e.RuleCount())
}
