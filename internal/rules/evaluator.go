package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Definition is the JSON shape stored in a rule's rule_json column.
type Definition struct {
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Logic      string      `json:"logic,omitempty"`
}

// Condition compares one field of the event payload against a fixed value.
// Field is a dot path into the event object, e.g. "referrer.is_paid_user".
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Action describes what happens when a rule's conditions match. User names
// the event field that carries the user ID to act on.
type Action struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	AmountCents int64  `json:"amount_cents"`
	RewardID    string `json:"reward_id"`
}

const (
	LogicAnd = "AND"
	LogicOr  = "OR"

	ActionCredit = "credit"
)

var validOperators = map[string]bool{
	"==":       true,
	"!=":       true,
	">":        true,
	"<":        true,
	">=":       true,
	"<=":       true,
	"in":       true,
	"not_in":   true,
	"contains": true,
}

// ParseDefinition decodes and validates a rule definition.
func ParseDefinition(raw json.RawMessage) (*Definition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rule definition is required")
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("invalid rule JSON: %w", err)
	}

	switch def.Logic {
	case "", LogicAnd, LogicOr:
	default:
		return nil, fmt.Errorf("invalid logic %q (expected AND or OR)", def.Logic)
	}

	for i, cond := range def.Conditions {
		if cond.Field == "" {
			return nil, fmt.Errorf("condition %d: field is required", i)
		}
		if !validOperators[cond.Operator] {
			return nil, fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
	}

	if len(def.Actions) == 0 {
		return nil, fmt.Errorf("at least one action is required")
	}
	for i, action := range def.Actions {
		if action.Type != ActionCredit {
			return nil, fmt.Errorf("action %d: unknown type %q", i, action.Type)
		}
		if action.User == "" {
			return nil, fmt.Errorf("action %d: user field is required", i)
		}
		if action.AmountCents <= 0 {
			return nil, fmt.Errorf("action %d: amount_cents must be positive", i)
		}
	}

	return &def, nil
}

// Matches evaluates the definition's conditions against the event payload.
// An empty condition list always matches.
func (d *Definition) Matches(event map[string]any) bool {
	if len(d.Conditions) == 0 {
		return true
	}

	for _, cond := range d.Conditions {
		matched := evalCondition(cond, event)
		switch d.Logic {
		case LogicOr:
			if matched {
				return true
			}
		default:
			if !matched {
				return false
			}
		}
	}
	return d.Logic != LogicOr
}

// evalCondition applies one operator to the value at the condition's field
// path. A missing path fails the condition outright, for every operator:
// "!=" against an absent field is false, not true. Rules cannot assert the
// absence of a field.
func evalCondition(cond Condition, event map[string]any) bool {
	actual, ok := lookupPath(event, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case "==":
		return looseEqual(actual, cond.Value)
	case "!=":
		return !looseEqual(actual, cond.Value)
	case ">", "<", ">=", "<=":
		return compareOrdered(cond.Operator, actual, cond.Value)
	case "in":
		return membership(actual, cond.Value)
	case "not_in":
		return !membership(actual, cond.Value)
	case "contains":
		return contains(actual, cond.Value)
	}
	return false
}

// lookupPath walks a dot path through nested objects. A missing key or a
// non-object along the way resolves to no value.
func lookupPath(event map[string]any, path string) (any, bool) {
	var current any = event
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares values the way JSON sees them, so 500 and 500.0 are
// equal regardless of how the caller decoded them.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func compareOrdered(op string, actual, expected any) bool {
	af, aok := toFloat(actual)
	bf, bok := toFloat(expected)
	if aok && bok {
		switch op {
		case ">":
			return af > bf
		case "<":
			return af < bf
		case ">=":
			return af >= bf
		case "<=":
			return af <= bf
		}
		return false
	}

	as, aok := actual.(string)
	bs, bok := expected.(string)
	if !aok || !bok {
		return false
	}
	switch op {
	case ">":
		return as > bs
	case "<":
		return as < bs
	case ">=":
		return as >= bs
	case "<=":
		return as <= bs
	}
	return false
}

// membership reports whether actual appears in the expected list.
func membership(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

// contains reports whether the actual value (a string or a list) contains
// the expected value.
func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		sub, ok := expected.(string)
		return ok && strings.Contains(v, sub)
	case []any:
		for _, item := range v {
			if looseEqual(item, expected) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
