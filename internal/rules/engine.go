package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// Engine evaluates a versioned rule set against transactions, producing
// DerivedMetrics. Grounded on rule_processor.py's RuleProcessor:
// process_transaction/_apply_rule/_evaluate_condition/
// _calculate_metric_value/_build_metric_name/_build_context.
type Engine struct {
	mu          sync.RWMutex
	rules       []domain.Rule
	ruleVersion string
	log         zerolog.Logger
}

// New constructs an Engine with an already-loaded, already-validated
// rule set.
func New(rules []domain.Rule, ruleVersion string, log zerolog.Logger) *Engine {
	return &Engine{
		rules:       rules,
		ruleVersion: ruleVersion,
		log:         log.With().Str("component", "rule_engine").Logger(),
	}
}

// Reload atomically swaps in a new validated rule set (e.g. after a
// config hot-reload signal).
func (e *Engine) Reload(rules []domain.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// RuleCount reports how many rules are currently loaded.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate applies every enabled rule to tx, in rule-set order,
// returning every DerivedMetric produced. A rule that panics or returns
// an evaluation error is logged and skipped — it must not prevent the
// remaining rules from running (§4.4's per-rule isolation).
func (e *Engine) Evaluate(tx domain.Transaction) []domain.DerivedMetric {
	e.mu.RLock()
	rules := make([]domain.Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	now := time.Now().UTC()
	var metrics []domain.DerivedMetric
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		if metric, ok := e.applyRuleIsolated(r, tx, now); ok {
			metrics = append(metrics, metric)
		}
	}
	return metrics
}

func (e *Engine) applyRuleIsolated(r domain.Rule, tx domain.Transaction, now time.Time) (metric domain.DerivedMetric, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn().Str("rule", r.Name).Str("transaction_id", tx.TransactionID).
				Interface("panic", rec).Msg("rule panicked, skipping")
			ok = false
		}
	}()

	m, applyErr := e.applyRule(r, tx, now)
	if applyErr != nil {
		e.log.Warn().Str("rule", r.Name).Str("transaction_id", tx.TransactionID).
			Err(applyErr).Msg("failed to apply rule")
		return domain.DerivedMetric{}, false
	}
	if m == nil {
		return domain.DerivedMetric{}, false
	}
	return *m, true
}

func (e *Engine) applyRule(r domain.Rule, tx domain.Transaction, now time.Time) (*domain.DerivedMetric, error) {
	if r.Condition != nil {
		matched, err := evaluateCondition(*r.Condition, tx)
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, nil
		}
	}

	value, ok := calculateMetricValue(r, tx)
	if !ok {
		return nil, nil // requested field missing: skip, not an error
	}

	version := r.RuleVersion
	if version == "" {
		version = e.ruleVersion
	}

	return &domain.DerivedMetric{
		TransactionID: tx.TransactionID,
		MetricName:    tx.SubstitutePlaceholders(r.MetricName),
		MetricValue:   value,
		MetricType:    r.MetricType,
		Category:      r.MetricCategory,
		RuleName:      r.Name,
		RuleVersion:   version,
		Context:       buildContext(r, tx),
		CalculatedAt:  now,
		EffectiveDate: tx.Timestamp,
	}, nil
}

// calculateMetricValue implements §4.4's value-computation table.
func calculateMetricValue(r domain.Rule, tx domain.Transaction) (decimal.Decimal, bool) {
	switch r.MetricType {
	case domain.MetricCount:
		return decimal.NewFromInt(1), true
	case domain.MetricSum, domain.MetricAverage, domain.MetricDerived:
		field := r.Field
		if field == "" {
			field = "amount"
		}
		return numericFieldValue(tx, field)
	case domain.MetricPercentage:
		if r.Condition != nil {
			return decimal.NewFromInt(100), true
		}
		return decimal.Zero, true
	case domain.MetricRatio:
		if r.Condition != nil {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	default:
		return decimal.Decimal{}, false
	}
}

func buildContext(r domain.Rule, tx domain.Transaction) map[string]any {
	ctx := map[string]any{
		"rule_name":             r.Name,
		"transaction_timestamp": tx.Timestamp.Format(time.RFC3339Nano),
		"payment_method":        tx.PaymentMethod(),
		"currency":              tx.Currency,
		"payment_status":        string(tx.Status),
	}
	if r.GroupBy != "" {
		if v, ok := stringFieldValue(tx, r.GroupBy); ok && v != "" {
			ctx["group_by"] = map[string]string{r.GroupBy: v}
		}
	}
	return ctx
}

// evaluateCondition implements _evaluate_condition: string equality for
// ==/!=, numeric comparison for ordering operators. An absent field
// value means the condition does not match (mirrors the Python
// "field_value is None -> return False").
func evaluateCondition(c domain.Condition, tx domain.Transaction) (bool, error) {
	if c.Field == "" {
		return true, nil
	}

	switch c.Operator {
	case domain.OpEqual, domain.OpNotEqual:
		v, ok := stringFieldValue(tx, c.Field)
		if !ok {
			return false, nil
		}
		eq := v == c.Value
		if c.Operator == domain.OpNotEqual {
			return !eq, nil
		}
		return eq, nil
	case domain.OpGreater, domain.OpGreaterEqual, domain.OpLess, domain.OpLessEqual:
		fv, ok := numericFieldValue(tx, c.Field)
		if !ok {
			return false, nil
		}
		cv, err := decimal.NewFromString(c.Value)
		if err != nil {
			return false, fmt.Errorf("rules: condition value %q is not numeric: %w", c.Value, err)
		}
		switch c.Operator {
		case domain.OpGreater:
			return fv.GreaterThan(cv), nil
		case domain.OpGreaterEqual:
			return fv.GreaterThanOrEqual(cv), nil
		case domain.OpLess:
			return fv.LessThan(cv), nil
		case domain.OpLessEqual:
			return fv.LessThanOrEqual(cv), nil
		}
	}
	return false, fmt.Errorf("rules: unknown operator %q", c.Operator)
}

// stringFieldValue mirrors getattr(transaction, field, None) for the
// subset of Transaction fields rule conditions/group_by reasonably
// reference.
func stringFieldValue(tx domain.Transaction, field string) (string, bool) {
	switch field {
	case "transaction_id":
		return tx.TransactionID, true
	case "correlation_id":
		return tx.CorrelationID, true
	case "transaction_type":
		return tx.TransactionType, true
	case "channel":
		return tx.Channel, true
	case "currency":
		return tx.Currency, true
	case "merchant_id":
		return tx.MerchantID, true
	case "customer_id":
		return tx.CustomerID, true
	case "customer_email":
		return tx.CustomerEmail, true
	case "customer_country":
		return tx.CustomerCountry, true
	case "merchant_name":
		return tx.MerchantName, true
	case "merchant_category":
		return tx.MerchantCategory, true
	case "device_type":
		return tx.DeviceType, true
	case "status", "payment_status":
		return string(tx.Status), true
	case "payment_method":
		return tx.PaymentMethod(), true
	case "amount":
		return tx.Amount.String(), true
	default:
		return "", false
	}
}

func numericFieldValue(tx domain.Transaction, field string) (decimal.Decimal, bool) {
	if field == "amount" {
		return tx.Amount, true
	}
	v, ok := stringFieldValue(tx, field)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
