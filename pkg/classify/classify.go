// Package classify provides the classifier models that back the
// classify_column step: a local keyword-rule classifier and a remote HTTP
// classifier. Both are constructed through the model registry and shared by
// reference count.
package classify

import (
	"context"
	"strings"

	"github.com/cleanflow/cleanflow/pkg/models"
)

// Rule maps a label to the keywords that select it. Matching is
// case-insensitive substring containment, first rule wins.
type Rule struct {
	Label    string   `yaml:"label" json:"label"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// RuleClassifier labels values by keyword rules. It holds no external
// resources and is safe for concurrent use.
type RuleClassifier struct {
	rules    []Rule
	fallback string
}

// NewRuleClassifier creates a classifier from an ordered rule list.
// Values matching no rule get the fallback label.
func NewRuleClassifier(rules []Rule, fallback string) *RuleClassifier {
	if fallback == "" {
		fallback = "other"
	}
	return &RuleClassifier{rules: rules, fallback: fallback}
}

// Classify returns one label per input value.
func (c *RuleClassifier) Classify(ctx context.Context, values []string) ([]string, error) {
	labels := make([]string, len(values))
	for i, v := range values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels[i] = c.classifyOne(strings.ToLower(v))
	}
	return labels, nil
}

func (c *RuleClassifier) classifyOne(v string) string {
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(v, strings.ToLower(kw)) {
				return r.Label
			}
		}
	}
	return c.fallback
}

// RuleConstructor adapts a rule set into a registry constructor. The rules
// are shared by every tenant; construction never fails.
func RuleConstructor(rules []Rule, fallback string) models.Constructor {
	return func(ctx context.Context, opts models.Options) (interface{}, error) {
		return NewRuleClassifier(rules, fallback), nil
	}
}
