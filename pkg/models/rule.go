package models

import "time"

// Condition is the comparison an AlertRule applies to the current metric value.
type Condition string

const (
	ConditionGreaterThan Condition = "greater_than"
	ConditionLessThan    Condition = "less_than"
	ConditionEquals      Condition = "equals"
)

// AlertRule is a threshold rule over a named metric.
type AlertRule struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	MetricName  string        `json:"metric_name" yaml:"metric_name"`
	Target      string        `json:"target,omitempty" yaml:"target"`
	Condition   Condition     `json:"condition" yaml:"condition"`
	Threshold   float64       `json:"threshold" yaml:"threshold"`
	Window      time.Duration `json:"window" yaml:"window"`
	Severity    Severity      `json:"severity" yaml:"severity"`
	Channels    []string      `json:"channels,omitempty" yaml:"channels"`
	Enabled     bool          `json:"enabled" yaml:"-"`
}

// AffectedTarget is the second half of the rule's dedup key.
func (r *AlertRule) AffectedTarget() string {
	if r.Target != "" {
		return r.Target
	}
	return r.MetricName
}
