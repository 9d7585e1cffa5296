package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownOperator marks a constraint whose operator is not part of the
// supported set. It is a configuration error on the owning feature.
var ErrUnknownOperator = errors.New("unknown constraint operator")

// evaluateConstraint applies one constraint to a context. The returned error
// is non-nil only for configuration problems (unknown operator); value parse
// failures are recovered locally by treating the constraint as unsatisfied.
func evaluateConstraint(constraint Constraint, context Context) (bool, error) {
	fieldValue, present := context.Field(constraint.ContextName)

	satisfied, err := applyOperator(constraint, fieldValue, present)
	if err != nil {
		return false, err
	}
	if constraint.Inverted {
		satisfied = !satisfied
	}
	return satisfied, nil
}

func applyOperator(constraint Constraint, fieldValue string, present bool) (bool, error) {
	switch constraint.Operator {
	case OperatorIn:
		return present && inSet(fieldValue, constraint.Values, constraint.CaseInsensitive), nil
	case OperatorNotIn:
		// A missing field is vacuously not in the set.
		return !present || !inSet(fieldValue, constraint.Values, constraint.CaseInsensitive), nil
	case OperatorStrStartsWith:
		return present && matchString(fieldValue, constraint.Values, constraint.CaseInsensitive, strings.HasPrefix), nil
	case OperatorStrEndsWith:
		return present && matchString(fieldValue, constraint.Values, constraint.CaseInsensitive, strings.HasSuffix), nil
	case OperatorStrContains:
		return present && matchString(fieldValue, constraint.Values, constraint.CaseInsensitive, strings.Contains), nil
	case OperatorNumEq, OperatorNumGt, OperatorNumGte, OperatorNumLt, OperatorNumLte:
		return present && compareNumeric(constraint.Operator, fieldValue, constraint.Value), nil
	case OperatorDateAfter, OperatorDateBefore:
		return present && compareDate(constraint.Operator, fieldValue, constraint.Value), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, constraint.Operator)
	}
}

func inSet(value string, set []string, caseInsensitive bool) bool {
	for _, candidate := range set {
		if caseInsensitive {
			if strings.EqualFold(value, candidate) {
				return true
			}
		} else if value == candidate {
			return true
		}
	}
	return false
}

func matchString(value string, set []string, caseInsensitive bool, match func(s, substr string) bool) bool {
	if caseInsensitive {
		value = strings.ToLower(value)
	}
	for _, candidate := range set {
		if caseInsensitive {
			candidate = strings.ToLower(candidate)
		}
		if match(value, candidate) {
			return true
		}
	}
	return false
}

// compareNumeric parses both sides as floats. A parse failure on either side
// means the constraint is not satisfied; it is never a fatal error.
func compareNumeric(operator Operator, fieldValue, constraintValue string) bool {
	left, err := strconv.ParseFloat(strings.TrimSpace(fieldValue), 64)
	if err != nil {
		return false
	}
	right, err := strconv.ParseFloat(strings.TrimSpace(constraintValue), 64)
	if err != nil {
		return false
	}

	switch operator {
	case OperatorNumEq:
		return left == right
	case OperatorNumGt:
		return left > right
	case OperatorNumGte:
		return left >= right
	case OperatorNumLt:
		return left < right
	case OperatorNumLte:
		return left <= right
	}
	return false
}

// compareDate parses both sides as RFC 3339 timestamps, falling back to a
// bare date. A parse failure means the constraint is not satisfied.
func compareDate(operator Operator, fieldValue, constraintValue string) bool {
	left, ok := parseTime(fieldValue)
	if !ok {
		return false
	}
	right, ok := parseTime(constraintValue)
	if !ok {
		return false
	}

	switch operator {
	case OperatorDateAfter:
		return left.After(right)
	case OperatorDateBefore:
		return left.Before(right)
	}
	return false
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
