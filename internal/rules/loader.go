// Package rules implements the Rule Engine (C4): loading a versioned
// YAML rule set and evaluating it against one transaction at a time to
// produce zero or more DerivedMetrics. Grounded on
// original_source/src/metric_engine/rule_processor.py's RuleProcessor.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// ErrUnknownPlaceholder is returned by Load when a rule's metric_name
// template uses a placeholder outside {payment_method}, {currency},
// {customer_id} — a configuration error caught at load time per §9,
// unlike the Python original which silently left such tokens unreplaced.
type ErrUnknownPlaceholder struct {
	RuleName     string
	Placeholders []string
}

func (e *ErrUnknownPlaceholder) Error() string {
	return fmt.Sprintf("rules: rule %q uses unknown placeholder(s) %v", e.RuleName, e.Placeholders)
}

// ruleSetDocument is the top-level YAML shape: { rules: [...] }.
type ruleSetDocument struct {
	Rules []domain.Rule `yaml:"rules"`
}

// Load reads and validates a rule set from path. Every rule's
// metric_name template is checked against the closed placeholder
// vocabulary at load time; the first violation aborts the load.
func Load(path string, ruleVersion string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	return Parse(data, ruleVersion)
}

// Parse validates and returns the rule set encoded in data.
func Parse(data []byte, ruleVersion string) ([]domain.Rule, error) {
	var doc ruleSetDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules: parse rule set: %w", err)
	}

	for i := range doc.Rules {
		r := &doc.Rules[i]
		if r.RuleVersion == "" {
			r.RuleVersion = ruleVersion
		}
		if unknown := domain.UnknownPlaceholders(r.MetricName); len(unknown) > 0 {
			return nil, &ErrUnknownPlaceholder{RuleName: r.Name, Placeholders: unknown}
		}
	}

	return doc.Rules, nil
}
