// Package value coerces and compares the dynamically typed values stored in
// workflow variables. Numbers may arrive as any Go integer or float kind, or
// as json.Number after a checkpoint round trip.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Int returns v as an int64 if it holds an integral number kind.
func Int(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// Float returns v as a float64 if it holds any number kind.
func Float(v interface{}) (float64, bool) {
	if i, ok := Int(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// IsNumber reports whether v holds a number.
func IsNumber(v interface{}) bool {
	_, ok := Float(v)
	return ok
}

// IsList reports whether v is a slice, array or map.
func IsList(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// Compare orders a and b. Numbers compare numerically and strings lexically;
// ok is false for any other combination.
func Compare(a, b interface{}) (int, bool) {
	if ai, aok := Int(a); aok {
		if bi, bok := Int(b); bok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
	}
	if af, aok := Float(a); aok {
		if bf, bok := Float(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// Equal reports whether a and b are equal, numerically for numbers.
func Equal(a, b interface{}) bool {
	if IsNumber(a) && IsNumber(b) {
		c, _ := Compare(a, b)
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// String renders v for condition descriptions.
func String(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return t
	}
	if IsList(v) {
		return "<array>"
	}
	return fmt.Sprint(v)
}

// Normalize replaces json.Number values, recursively, with int when integral
// and float64 otherwise.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	}
	return v
}
