// Package conditions implements the predicate trees used by branch nodes and
// input validation. Conditions are immutable once built and may be shared
// between workflows and executions.
package conditions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/songzhibin97/flownet/internal/value"
)

// Condition is a predicate over a single value or over a variable map.
type Condition interface {
	Evaluate(v interface{}) bool
	String() string
}

type typeCheck struct {
	kind  string
	label string
	check func(v interface{}) bool
}

func (c typeCheck) Evaluate(v interface{}) bool { return c.check(v) }
func (c typeCheck) String() string               { return c.label }

// IsAnything is satisfied by every value.
func IsAnything() Condition {
	return typeCheck{kind: TypeIsAnything, label: "is anything", check: func(interface{}) bool { return true }}
}

// IsTrue is satisfied by the boolean true.
func IsTrue() Condition {
	return typeCheck{kind: TypeIsTrue, label: "is true", check: func(v interface{}) bool {
		b, ok := v.(bool)
		return ok && b
	}}
}

// IsFalse is satisfied by the boolean false.
func IsFalse() Condition {
	return typeCheck{kind: TypeIsFalse, label: "is false", check: func(v interface{}) bool {
		b, ok := v.(bool)
		return ok && !b
	}}
}

// IsBool is satisfied by any boolean.
func IsBool() Condition {
	return typeCheck{kind: TypeIsBool, label: "is bool", check: func(v interface{}) bool {
		_, ok := v.(bool)
		return ok
	}}
}

// IsInteger is satisfied by integer kinds.
func IsInteger() Condition {
	return typeCheck{kind: TypeIsInteger, label: "is integer", check: func(v interface{}) bool {
		_, ok := value.Int(v)
		return ok
	}}
}

// IsFloat is satisfied by floating point kinds.
func IsFloat() Condition {
	return typeCheck{kind: TypeIsFloat, label: "is float", check: func(v interface{}) bool {
		switch n := v.(type) {
		case float32, float64:
			return true
		case json.Number:
			_, err := n.Int64()
			return err != nil && value.IsNumber(n)
		}
		return false
	}}
}

// IsString is satisfied by strings.
func IsString() Condition {
	return typeCheck{kind: TypeIsString, label: "is string", check: func(v interface{}) bool {
		_, ok := v.(string)
		return ok
	}}
}

// IsArray is satisfied by slices, arrays and maps.
func IsArray() Condition {
	return typeCheck{kind: TypeIsArray, label: "is array", check: value.IsList}
}

// Operator is a binary relation between two values.
type Operator string

const (
	Equal          Operator = "=="
	NotEqual       Operator = "!="
	Greater        Operator = ">"
	Less           Operator = "<"
	GreaterOrEqual Operator = ">="
	LessOrEqual    Operator = "<="
)

// Apply reports whether a op b holds. Ordering operators are false for
// values that cannot be ordered.
func (op Operator) Apply(a, b interface{}) bool {
	switch op {
	case Equal:
		return value.Equal(a, b)
	case NotEqual:
		return !value.Equal(a, b)
	}
	c, ok := value.Compare(a, b)
	if !ok {
		return false
	}
	switch op {
	case Greater:
		return c > 0
	case Less:
		return c < 0
	case GreaterOrEqual:
		return c >= 0
	case LessOrEqual:
		return c <= 0
	}
	return false
}

func (op Operator) valid() bool {
	switch op {
	case Equal, NotEqual, Greater, Less, GreaterOrEqual, LessOrEqual:
		return true
	}
	return false
}

type comparison struct {
	op    Operator
	value interface{}
}

func (c comparison) Evaluate(v interface{}) bool { return c.op.Apply(v, c.value) }
func (c comparison) String() string               { return fmt.Sprintf("%s %s", c.op, value.String(c.value)) }

// IsEqual is satisfied by values equal to v.
func IsEqual(v interface{}) Condition { return comparison{op: Equal, value: v} }

// IsNotEqual is satisfied by values not equal to v.
func IsNotEqual(v interface{}) Condition { return comparison{op: NotEqual, value: v} }

// IsGreaterThan is satisfied by values greater than v.
func IsGreaterThan(v interface{}) Condition { return comparison{op: Greater, value: v} }

// IsLessThan is satisfied by values less than v.
func IsLessThan(v interface{}) Condition { return comparison{op: Less, value: v} }

// IsEqualOrGreaterThan is satisfied by values greater than or equal to v.
func IsEqualOrGreaterThan(v interface{}) Condition { return comparison{op: GreaterOrEqual, value: v} }

// IsEqualOrLessThan is satisfied by values less than or equal to v.
func IsEqualOrLessThan(v interface{}) Condition { return comparison{op: LessOrEqual, value: v} }

type between struct {
	min, max interface{}
}

// IsBetween is satisfied by values in [min, max], both ends inclusive.
func IsBetween(min, max interface{}) Condition { return between{min: min, max: max} }

func (c between) Evaluate(v interface{}) bool {
	return GreaterOrEqual.Apply(v, c.min) && LessOrEqual.Apply(v, c.max)
}

func (c between) String() string {
	return fmt.Sprintf("between %s and %s", value.String(c.min), value.String(c.max))
}

type inArray struct {
	values []interface{}
}

// InArray is satisfied by values equal to one of values.
func InArray(values ...interface{}) Condition { return inArray{values: values} }

func (c inArray) Evaluate(v interface{}) bool {
	for _, candidate := range c.values {
		if value.Equal(v, candidate) {
			return true
		}
	}
	return false
}

func (c inArray) String() string {
	parts := make([]string, len(c.values))
	for i, v := range c.values {
		parts[i] = value.String(v)
	}
	return "in array(" + strings.Join(parts, ", ") + ")"
}
