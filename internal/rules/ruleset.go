package rules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"alertengine/pkg/models"
)

// RuleSet is the on-disk rule file.
type RuleSet struct {
	Version  int            `yaml:"version"`
	Defaults RuleDefaults   `yaml:"defaults"`
	Rules    []ruleDocument `yaml:"rules"`
}

// RuleDefaults are fallback options for rules.
type RuleDefaults struct {
	Window   time.Duration   `yaml:"window"`
	Severity models.Severity `yaml:"severity"`
	Channels []string        `yaml:"channels"`
}

type ruleDocument struct {
	models.AlertRule `yaml:",inline"`
	Enabled          *bool `yaml:"enabled"`
}

// LoadRuleSet reads alert rules from a YAML file. Rules are enabled unless
// they say otherwise.
func LoadRuleSet(path string) ([]models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and normalizes a YAML rule document.
func ParseRuleSet(data []byte) ([]models.AlertRule, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if rs.Defaults.Window <= 0 {
		rs.Defaults.Window = 5 * time.Minute
	}
	if rs.Defaults.Severity == "" {
		rs.Defaults.Severity = models.SeverityMedium
	}

	out := make([]models.AlertRule, 0, len(rs.Rules))
	for i, doc := range rs.Rules {
		r := doc.AlertRule
		r.Enabled = doc.Enabled == nil || *doc.Enabled
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		r.Condition = models.Condition(strings.ToLower(strings.TrimSpace(string(r.Condition))))
		if r.Window <= 0 {
			r.Window = rs.Defaults.Window
		}
		if r.Severity == "" {
			r.Severity = rs.Defaults.Severity
		}
		if len(r.Channels) == 0 && len(rs.Defaults.Channels) > 0 {
			r.Channels = append([]string(nil), rs.Defaults.Channels...)
		}
		out = append(out, r)
	}
	return out, nil
}

// Validate returns one error per problem found in rules.
func Validate(rules []models.AlertRule) []error {
	var errs []error
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", r.ID))
		}
		seen[r.ID] = struct{}{}
		if strings.TrimSpace(r.MetricName) == "" {
			errs = append(errs, fmt.Errorf("rule %s: metric_name is required", r.ID))
		}
		if !ValidCondition(r.Condition) {
			errs = append(errs, fmt.Errorf("%w: rule %s has condition %q", ErrInvalidRuleCondition, r.ID, r.Condition))
		}
	}
	return errs
}
