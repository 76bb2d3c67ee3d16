package templates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// All conditions must hold. An empty list always matches.
func MatchAll(conds []Condition, ctx Context) bool {
	for _, c := range conds {
		if !Match(c, ctx) {
			return false
		}
	}
	return true
}

// Evaluates a single condition. Absent fields and unknown operators never match.
func Match(c Condition, ctx Context) bool {
	val, ok := ctx.Lookup(c.Field)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpContains:
		return strings.Contains(stringify(val), stringify(c.Value))
	case OpEquals:
		return equalValues(val, c.Value)
	case OpGreaterThan:
		a, okA := toNumber(val)
		b, okB := toNumber(c.Value)
		return okA && okB && a > b
	case OpLessThan:
		a, okA := toNumber(val)
		b, okB := toNumber(c.Value)
		return okA && okB && a < b
	case OpMatches:
		re, err := regexp.Compile(stringify(c.Value))
		if err != nil {
			return false
		}
		return re.MatchString(stringify(val))
	default:
		return false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Strict equality: values of different kinds are never equal, except that all numeric types
// compare by value.
func equalValues(a, b any) bool {
	na, okA := numeric(a)
	nb, okB := numeric(b)
	if okA || okB {
		return okA && okB && na == nb
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// Numeric value of actual number types only.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Numeric coercion for ordering comparisons: numbers, numeric strings and booleans.
func toNumber(v any) (float64, bool) {
	if n, ok := numeric(v); ok {
		return n, true
	}
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
