package domain

import "strings"

// ConditionOperator is one of the six comparison operators a Rule
// condition may use.
type ConditionOperator string

const (
	OpEqual        ConditionOperator = "=="
	OpNotEqual     ConditionOperator = "!="
	OpGreater      ConditionOperator = ">"
	OpGreaterEqual ConditionOperator = ">="
	OpLess         ConditionOperator = "<"
	OpLessEqual    ConditionOperator = "<="
)

// Condition guards whether a Rule applies to a given transaction.
type Condition struct {
	Field    string            `yaml:"field"`
	Operator ConditionOperator `yaml:"operator"`
	Value    string            `yaml:"value"`
}

// Rule is a configuration entity loaded from YAML describing how to
// derive one metric from a transaction.
type Rule struct {
	Name          string     `yaml:"name"`
	Enabled       *bool      `yaml:"enabled"`
	MetricName    string     `yaml:"metric_name"`
	MetricType    MetricType `yaml:"metric_type"`
	MetricCategory string    `yaml:"metric_category"`
	Condition     *Condition `yaml:"condition"`
	GroupBy       string     `yaml:"group_by"`
	Field         string     `yaml:"field"`
	RuleVersion   string     `yaml:"rule_version"`
}

// IsEnabled reports whether the rule should run; absent Enabled defaults
// to true, matching the original YAML's `rule.get("enabled", True)`.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// allowedPlaceholders is the closed vocabulary of metric-name template
// substitutions. Per spec §9, any other `{...}` token in a rule template
// is a configuration error caught at rule-load time.
var allowedPlaceholders = map[string]struct{}{
	"{payment_method}": {},
	"{currency}":        {},
	"{customer_id}":     {},
}

// UnknownPlaceholders scans template for `{...}` tokens and returns the
// ones outside the closed vocabulary ({payment_method}, {currency},
// {customer_id}). An empty result means the template is safe to use.
func UnknownPlaceholders(template string) []string {
	var unknown []string
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open == -1 {
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close == -1 {
			break
		}
		token := rest[open : open+close+1]
		if _, ok := allowedPlaceholders[token]; !ok {
			unknown = append(unknown, token)
		}
		rest = rest[open+close+1:]
	}
	return unknown
}

// SubstitutePlaceholders replaces every known placeholder in template
// with the corresponding transaction field, defaulting to "unknown" when
// the field is empty — matching rule_processor.py's _build_metric_name.
func (t Transaction) SubstitutePlaceholders(template string) string {
	name := template
	name = strings.ReplaceAll(name, "{payment_method}", defaultIfEmpty(t.PaymentMethod(), "unknown"))
	name = strings.ReplaceAll(name, "{currency}", defaultIfEmpty(t.Currency, "unknown"))
	name = strings.ReplaceAll(name, "{customer_id}", defaultIfEmpty(t.CustomerID, "unknown"))
	return name
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
