package rules

import (
	"errors"
	"fmt"

	"alertengine/pkg/models"
)

// ErrInvalidRuleCondition reports a condition string the evaluator does not know.
var ErrInvalidRuleCondition = errors.New("invalid rule condition")

// Evaluate compares value against the rule's threshold.
// Equality is exact; callers wanting a tolerance should express it as a range of two rules.
func Evaluate(rule *models.AlertRule, value float64) (bool, error) {
	if rule == nil || !rule.Enabled {
		return false, nil
	}
	switch rule.Condition {
	case models.ConditionGreaterThan:
		return value > rule.Threshold, nil
	case models.ConditionLessThan:
		return value < rule.Threshold, nil
	case models.ConditionEquals:
		return value == rule.Threshold, nil
	default:
		return false, fmt.Errorf("%w: rule %s has condition %q", ErrInvalidRuleCondition, rule.ID, rule.Condition)
	}
}

// ValidCondition reports whether c is one of the known comparisons.
func ValidCondition(c models.Condition) bool {
	switch c {
	case models.ConditionGreaterThan, models.ConditionLessThan, models.ConditionEquals:
		return true
	}
	return false
}
