package autoapproval

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

var (
	ErrUnknownOperator = errors.New("unknown condition operator")
	ErrNotBoolean      = errors.New("condition did not evaluate to boolean")
)

var operatorTemplates = map[string]string{
	"gt":       "lhs > rhs",
	"gte":      "lhs >= rhs",
	"lt":       "lhs < rhs",
	"lte":      "lhs <= rhs",
	"eq":       "lhs == rhs",
	"ne":       "lhs != rhs",
	"in":       "oneOf(lhs, rhs)",
	"contains": "includes(lhs, rhs)",
}

var functions = map[string]govaluate.ExpressionFunction{
	"includes": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("includes expects 2 arguments, got %d", len(args))
		}
		return includes(args[0], args[1]), nil
	},
	"oneOf": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("oneOf expects 2 arguments, got %d", len(args))
		}
		return includes(args[1], args[0]), nil
	},
}

// Compile turns a condition into an evaluable expression. Typed
// conditions compare the attribute named by Type against Value; the
// "expression" type is a free-form govaluate expression over all
// attributes.
func Compile(c workflow.Condition) (*govaluate.EvaluableExpression, error) {
	if c.Type == "expression" {
		return govaluate.NewEvaluableExpressionWithFunctions(c.Expression, functions)
	}
	tmpl, ok := operatorTemplates[strings.ToLower(c.Operator)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	return govaluate.NewEvaluableExpressionWithFunctions(tmpl, functions)
}

// EvaluateCondition evaluates one condition against the attribute set.
// A missing attribute evaluates to false.
func EvaluateCondition(c workflow.Condition, attrs map[string]interface{}) (bool, error) {
	if c.Type == "expression" {
		switch strings.ToLower(strings.TrimSpace(c.Expression)) {
		case "true":
			return true, nil
		case "false", "":
			return false, nil
		}
	}
	expr, err := Compile(c)
	if err != nil {
		return false, err
	}

	params := attrs
	if c.Type != "expression" {
		lhs, ok := attrs[c.Type]
		if !ok {
			return false, nil
		}
		params = map[string]interface{}{"lhs": lhs, "rhs": normalize(c.Value)}
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	v, ok := result.(bool)
	if !ok {
		return false, ErrNotBoolean
	}
	return v, nil
}

// list is a named slice so govaluate passes it to functions as a single
// argument instead of splicing it into the argument list.
type list []interface{}

func includes(haystack, needle interface{}) bool {
	needle = normalize(needle)
	switch h := normalize(haystack).(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(strings.ToLower(h), strings.ToLower(s))
	case list:
		for _, item := range h {
			if reflect.DeepEqual(item, needle) {
				return true
			}
			if a, ok := item.(string); ok {
				if b, ok := needle.(string); ok && strings.EqualFold(a, b) {
					return true
				}
			}
		}
	}
	return false
}

// normalize converts numbers to float64 and slices to list so that values
// decoded from YAML, JSON and Go code compare equal.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []string:
		out := make(list, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []interface{}:
		out := make(list, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case list:
		return t
	}
	return v
}
